package resource

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/maja42/exeup/pefile"
)

const dataAlignment = 8

type layout struct {
	dirs     []*directory
	dirOff   map[*directory]uint32
	strings  []string
	strOff   map[string]uint32
	leaves   []*leaf
	entryOff map[*leaf]uint32
	dataOff  map[*leaf]uint32
	size     uint32
}

// layout places directory tables (breadth first), name strings, data entries and data blocks.
func (t *Tree) layout() *layout {
	l := &layout{
		dirOff:   make(map[*directory]uint32),
		strOff:   make(map[string]uint32),
		entryOff: make(map[*leaf]uint32),
		dataOff:  make(map[*leaf]uint32),
	}

	var off uint32
	queue := []*directory{t.root}
	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]
		l.dirs = append(l.dirs, d)
		l.dirOff[d] = off
		off += dirHeaderSize + dirEntrySize*uint32(len(d.children))
		for _, c := range d.sorted() {
			if c.id.IsName() {
				if _, ok := l.strOff[c.id.Name]; !ok {
					l.strOff[c.id.Name] = 0
					l.strings = append(l.strings, c.id.Name)
				}
			}
			if c.dir != nil {
				queue = append(queue, c.dir)
			} else {
				l.leaves = append(l.leaves, c.leaf)
			}
		}
	}

	for _, s := range l.strings {
		l.strOff[s] = off
		off += 2 + 2*uint32(len(utf16.Encode([]rune(s))))
	}
	off = alignUp(off, 4)

	for _, lf := range l.leaves {
		l.entryOff[lf] = off
		off += dataEntrySize
	}
	for _, lf := range l.leaves {
		off = alignUp(off, dataAlignment)
		l.dataOff[lf] = off
		off += uint32(lf.size)
	}
	l.size = off
	return l
}

// Size returns the number of bytes Serialize will produce.
func (t *Tree) Size() uint32 {
	if t.src != nil {
		return uint32(len(t.src.data))
	}
	return t.layout().size
}

// Serialize encodes the tree for a resource section located at baseRVA.
// Directory offsets are relative to the section, data entries hold absolute RVAs.
// A parsed tree that was not modified since is reproduced byte for byte, relocated to baseRVA.
func (t *Tree) Serialize(baseRVA uint32) []byte {
	if t.src != nil {
		out := append([]byte(nil), t.src.data...)
		for _, e := range t.src.entries {
			rva := binary.LittleEndian.Uint32(out[e:])
			binary.LittleEndian.PutUint32(out[e:], rva-t.src.rva+baseRVA)
		}
		return out
	}

	l := t.layout()
	out := make([]byte, l.size)

	for _, d := range l.dirs {
		off := l.dirOff[d]
		binary.LittleEndian.PutUint32(out[off:], d.meta.Characteristics)
		binary.LittleEndian.PutUint32(out[off+4:], d.meta.TimeDateStamp)
		binary.LittleEndian.PutUint16(out[off+8:], d.meta.MajorVersion)
		binary.LittleEndian.PutUint16(out[off+10:], d.meta.MinorVersion)

		var named, ids uint16
		e := off + dirHeaderSize
		for _, c := range d.sorted() {
			if c.id.IsName() {
				named++
				binary.LittleEndian.PutUint32(out[e:], l.strOff[c.id.Name]|highBit)
			} else {
				ids++
				binary.LittleEndian.PutUint32(out[e:], uint32(c.id.ID))
			}
			if c.dir != nil {
				binary.LittleEndian.PutUint32(out[e+4:], l.dirOff[c.dir]|highBit)
			} else {
				binary.LittleEndian.PutUint32(out[e+4:], l.entryOff[c.leaf])
			}
			e += dirEntrySize
		}
		binary.LittleEndian.PutUint16(out[off+12:], named)
		binary.LittleEndian.PutUint16(out[off+14:], ids)
	}

	for _, s := range l.strings {
		off := l.strOff[s]
		units := utf16.Encode([]rune(s))
		binary.LittleEndian.PutUint16(out[off:], uint16(len(units)))
		for i, u := range units {
			binary.LittleEndian.PutUint16(out[off+2+2*uint32(i):], u)
		}
	}

	for _, lf := range l.leaves {
		off := l.entryOff[lf]
		binary.LittleEndian.PutUint32(out[off:], baseRVA+l.dataOff[lf])
		binary.LittleEndian.PutUint32(out[off+4:], uint32(lf.size))
		binary.LittleEndian.PutUint32(out[off+8:], lf.codePage)
		binary.LittleEndian.PutUint32(out[off+12:], lf.reserved)
		copy(out[l.dataOff[lf]:], t.arena[lf.off:lf.off+lf.size])
	}
	return out
}

// Apply serializes the tree into the image's resource section.
func Apply(img *pefile.File, t *Tree) error {
	return img.ReplaceResources(t.Size(), t.Serialize)
}

func alignUp(v, a uint32) uint32 {
	return (v + a - 1) &^ (a - 1)
}
