package resource

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/maja42/exeup/errdefs"
	"github.com/maja42/exeup/pefile"
)

const (
	dirHeaderSize  = 16
	dirEntrySize   = 8
	dataEntrySize  = 16
	highBit        = 0x80000000
	languageLevel  = 2
	maxDirectories = 1 << 16
)

type parser struct {
	tree    *Tree
	at      func(off, n uint32) ([]byte, error) // relative to the directory base
	read    func(rva, n uint32) ([]byte, error)
	visited map[uint32]bool

	base    uint32 // rva of the directory
	size    uint32 // declared size of the directory
	extent  uint32 // end of everything read, relative to base
	outside bool   // some data lies before base
	entries []uint32
}

// Parse reads the resource directory of an image.
// Images without resources yield an empty tree.
func Parse(img *pefile.File) (*Tree, error) {
	dir := img.DataDirectory(pefile.DirResource)
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return New(), nil
	}
	base := dir.VirtualAddress
	p := &parser{
		tree: New(),
		at: func(off, n uint32) ([]byte, error) {
			return img.ReadRVA(base+off, n)
		},
		read: img.ReadRVA,
		base: base,
		size: dir.Size,
	}
	return p.run()
}

// ParseSection reads a resource directory from raw section data located at rva.
func ParseSection(data []byte, rva uint32) (*Tree, error) {
	at := func(off, n uint32) ([]byte, error) {
		if uint64(off)+uint64(n) > uint64(len(data)) {
			return nil, errdefs.New(errdefs.ErrRvaOutOfRange, "%d bytes at offset 0x%x exceed resource data", n, off)
		}
		return data[off : off+n], nil
	}
	p := &parser{
		tree: New(),
		at:   at,
		read: func(r, n uint32) ([]byte, error) {
			if r < rva {
				return nil, errdefs.New(errdefs.ErrRvaOutOfRange, "data rva 0x%x precedes resource data at 0x%x", r, rva)
			}
			return at(r-rva, n)
		},
		base: rva,
		size: uint32(len(data)),
	}
	return p.run()
}

func (p *parser) run() (*Tree, error) {
	at, read := p.at, p.read
	p.at = func(off, n uint32) ([]byte, error) {
		b, err := at(off, n)
		if err == nil {
			p.cover(off + n)
		}
		return b, err
	}
	p.read = func(rva, n uint32) ([]byte, error) {
		b, err := read(rva, n)
		if err == nil {
			if rva < p.base {
				p.outside = true
			} else {
				p.cover(rva - p.base + n)
			}
		}
		return b, err
	}

	p.visited = make(map[uint32]bool)
	root, err := p.directory(0, 0)
	if err != nil {
		return nil, err
	}
	p.tree.root = root
	p.keepSource(at)
	return p.tree, nil
}

func (p *parser) cover(end uint32) {
	if end > p.extent {
		p.extent = end
	}
}

// keepSource remembers the section bytes if the whole directory, including leaf data, lies within them.
func (p *parser) keepSource(at func(off, n uint32) ([]byte, error)) {
	if p.outside {
		return
	}
	n := p.size
	if p.extent > n {
		n = p.extent
	}
	data, err := at(0, n)
	if err != nil {
		return
	}
	p.tree.src = &source{
		data:    append([]byte(nil), data...),
		rva:     p.base,
		entries: p.entries,
	}
}

func malformed(format string, args ...interface{}) error {
	return errdefs.New(errdefs.ErrMalformedHeader, "resource directory: "+format, args...)
}

func (p *parser) directory(off uint32, level int) (*directory, error) {
	if p.visited[off] {
		return nil, malformed("loop at offset 0x%x", off)
	}
	if len(p.visited) >= maxDirectories {
		return nil, malformed("too many directories")
	}
	p.visited[off] = true

	hdr, err := p.at(off, dirHeaderSize)
	if err != nil {
		return nil, err
	}
	d := &directory{meta: dirMeta{
		Characteristics: binary.LittleEndian.Uint32(hdr[0:]),
		TimeDateStamp:   binary.LittleEndian.Uint32(hdr[4:]),
		MajorVersion:    binary.LittleEndian.Uint16(hdr[8:]),
		MinorVersion:    binary.LittleEndian.Uint16(hdr[10:]),
	}}
	count := uint32(binary.LittleEndian.Uint16(hdr[12:])) + uint32(binary.LittleEndian.Uint16(hdr[14:]))
	entries, err := p.at(off+dirHeaderSize, count*dirEntrySize)
	if err != nil {
		return nil, err
	}

	for i := uint32(0); i < count; i++ {
		e := entries[i*dirEntrySize:]
		nameField := binary.LittleEndian.Uint32(e[0:])
		dataField := binary.LittleEndian.Uint32(e[4:])

		id, err := p.identifier(nameField)
		if err != nil {
			return nil, err
		}
		if level == languageLevel && id.IsName() {
			return nil, malformed("named language entry %q", id.Name)
		}
		if d.child(id) != nil {
			return nil, malformed("duplicate entry %s", id)
		}

		n := &node{id: id}
		if dataField&highBit != 0 {
			if level == languageLevel {
				return nil, malformed("subdirectory below language %s", id)
			}
			if n.dir, err = p.directory(dataField&^highBit, level+1); err != nil {
				return nil, err
			}
		} else {
			if level != languageLevel {
				return nil, malformed("data entry %s at directory level %d", id, level)
			}
			if n.leaf, err = p.leaf(dataField); err != nil {
				return nil, err
			}
		}
		d.children = append(d.children, n)
	}
	return d, nil
}

func (p *parser) identifier(field uint32) (Identifier, error) {
	if field&highBit == 0 {
		if field > 0xFFFF {
			return Identifier{}, malformed("invalid id 0x%x", field)
		}
		return ID(uint16(field)), nil
	}
	off := field &^ highBit
	l, err := p.at(off, 2)
	if err != nil {
		return Identifier{}, err
	}
	n := uint32(binary.LittleEndian.Uint16(l))
	if n == 0 {
		return Identifier{}, malformed("empty name at offset 0x%x", off)
	}
	raw, err := p.at(off+2, 2*n)
	if err != nil {
		return Identifier{}, err
	}
	units := make([]uint16, n)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(raw[2*i:])
	}
	return Name(string(utf16.Decode(units))), nil
}

func (p *parser) leaf(off uint32) (*leaf, error) {
	e, err := p.at(off, dataEntrySize)
	if err != nil {
		return nil, err
	}
	p.entries = append(p.entries, off)
	rva := binary.LittleEndian.Uint32(e[0:])
	size := binary.LittleEndian.Uint32(e[4:])
	data, err := p.read(rva, size)
	if err != nil {
		return nil, err
	}
	l := &leaf{
		codePage: binary.LittleEndian.Uint32(e[8:]),
		reserved: binary.LittleEndian.Uint32(e[12:]),
	}
	l.off, l.size = p.tree.store(data)
	return l, nil
}
