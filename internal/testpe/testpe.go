// Package testpe builds small, valid PE32 and PE32+ images for tests.
package testpe

import (
	"encoding/binary"
	"sort"
)

// Machine types.
const (
	MachineI386  uint16 = 0x14c
	MachineAMD64 uint16 = 0x8664
	MachineARM64 uint16 = 0xaa64
)

// Layout constants of built images.
const (
	FileAlignment    = 0x200
	SectionAlignment = 0x1000
	PEOffset         = 0x40
)

// Section characteristics.
const (
	CntCode        = 0x00000020
	CntInitialized = 0x00000040
	MemExecute     = 0x20000000
	MemRead        = 0x40000000
	MemWrite       = 0x80000000
)

// Section describes one section of the image.
type Section struct {
	Name string
	// Data is the raw section content. Ignored if Build is set.
	Data []byte
	// Build produces the content once the section's RVA is known.
	Build func(rva uint32) []byte
	// VirtualSize defaults to the data length.
	VirtualSize     uint32
	Characteristics uint32
	// Resource makes the resource data directory point at this section.
	Resource bool
}

// Options for Build.
type Options struct {
	Machine  uint16 // defaults to MachineAMD64
	PE32     bool   // 32-bit optional header instead of PE32+
	Sections []Section
	// Overlay is appended after the last section.
	Overlay []byte
	// CheckSum is stored verbatim in the optional header.
	CheckSum uint32
	// Certificate is appended after the overlay and referenced by the security directory.
	Certificate []byte
	// DebugPayload is stored behind the sections and referenced by a debug directory
	// appended to the last section.
	DebugPayload []byte
}

// Build returns the image described by opts.
func Build(opts Options) []byte {
	machine := opts.Machine
	if machine == 0 {
		machine = MachineAMD64
	}
	optSize := 240
	if opts.PE32 {
		optSize = 224
	}
	coffOff := PEOffset + 4
	optOff := coffOff + 20
	tableOff := optOff + optSize
	sizeOfHeaders := alignUp(uint32(tableOff+40*len(opts.Sections)), FileAlignment)

	type placed struct {
		Section
		data     []byte
		va       uint32
		vsize    uint32
		rawOff   uint32
		rawSize  uint32
		debugRVA uint32
	}
	secs := make([]placed, len(opts.Sections))
	va := uint32(SectionAlignment)
	raw := sizeOfHeaders
	for i, s := range opts.Sections {
		p := placed{Section: s, va: va}
		if s.Build != nil {
			p.data = s.Build(va)
		} else {
			p.data = append([]byte(nil), s.Data...)
		}
		if i == len(opts.Sections)-1 && opts.DebugPayload != nil {
			p.data = append(p.data, make([]byte, pad(len(p.data), 4))...)
			p.debugRVA = va + uint32(len(p.data))
			p.data = append(p.data, make([]byte, 28)...)
		}
		p.vsize = s.VirtualSize
		if p.vsize < uint32(len(p.data)) {
			p.vsize = uint32(len(p.data))
		}
		p.rawSize = alignUp(uint32(len(p.data)), FileAlignment)
		p.rawOff = raw
		raw += p.rawSize
		va += alignUp(max32(p.vsize, 1), SectionAlignment)
		secs[i] = p
	}
	sizeOfImage := va

	buf := make([]byte, raw)
	buf[0], buf[1] = 'M', 'Z'
	put32(buf, 0x3C, PEOffset)
	copy(buf[PEOffset:], "PE\x00\x00")

	put16(buf, coffOff, machine)
	put16(buf, coffOff+2, uint16(len(secs)))
	put32(buf, coffOff+4, 0x5f000000)
	put16(buf, coffOff+16, uint16(optSize))
	characteristics := uint16(0x0002 | 0x0020) // executable, large address aware
	if opts.PE32 {
		characteristics = 0x0002 | 0x0100 // executable, 32 bit machine
	}
	put16(buf, coffOff+18, characteristics)

	dirOff := optOff + 112
	if opts.PE32 {
		put16(buf, optOff, 0x10b)
		put32(buf, optOff+28, 0x400000)
		put32(buf, optOff+92, 16)
		dirOff = optOff + 96
	} else {
		put16(buf, optOff, 0x20b)
		binary.LittleEndian.PutUint64(buf[optOff+24:], 0x140000000)
		put32(buf, optOff+108, 16)
	}
	buf[optOff+2] = 14
	put32(buf, optOff+32, SectionAlignment)
	put32(buf, optOff+36, FileAlignment)
	put16(buf, optOff+40, 6)
	put16(buf, optOff+48, 6)
	put32(buf, optOff+56, sizeOfImage)
	put32(buf, optOff+60, sizeOfHeaders)
	put32(buf, optOff+64, opts.CheckSum)
	put16(buf, optOff+68, 3) // console

	for i, s := range secs {
		h := tableOff + 40*i
		name := []byte(s.Name)
		if len(name) > 8 {
			name = name[:8]
		}
		copy(buf[h:], name)
		put32(buf, h+8, s.vsize)
		put32(buf, h+12, s.va)
		put32(buf, h+16, s.rawSize)
		put32(buf, h+20, s.rawOff)
		put32(buf, h+36, s.Characteristics)
		copy(buf[s.rawOff:], s.data)

		if s.Characteristics&CntCode != 0 {
			put32(buf, optOff+16, s.va)
			put32(buf, optOff+20, s.va)
		}
		if s.Resource {
			put32(buf, dirOff+2*8, s.va)
			put32(buf, dirOff+2*8+4, uint32(len(s.data)))
		}
	}

	if opts.DebugPayload != nil {
		last := secs[len(secs)-1]
		payloadOff := uint32(len(buf))
		buf = append(buf, opts.DebugPayload...)
		entry := last.rawOff + (last.debugRVA - last.va)
		put32(buf, int(entry)+12, 2) // codeview
		put32(buf, int(entry)+16, uint32(len(opts.DebugPayload)))
		put32(buf, int(entry)+24, payloadOff)
		put32(buf, dirOff+6*8, last.debugRVA)
		put32(buf, dirOff+6*8+4, 28)
	}

	buf = append(buf, opts.Overlay...)

	if opts.Certificate != nil {
		buf = append(buf, make([]byte, pad(len(buf), 8))...)
		certOff := uint32(len(buf))
		buf = append(buf, opts.Certificate...)
		put32(buf, dirOff+4*8, certOff)
		put32(buf, dirOff+4*8+4, uint32(len(opts.Certificate)))
	}
	return buf
}

// Leaf is a single resource for ForeignResources.
type Leaf struct {
	Type     uint16
	TypeName string // used instead of Type when set
	ID       uint16
	Name     string // used instead of ID when set
	Lang     uint16
	Data     []byte
}

// ForeignResources returns a section builder producing a resource directory in a layout
// different from exeup's own serializer: directory tables depth-first starting with the root,
// then data entries, then name strings, then data blocks aligned to 4 bytes.
func ForeignResources(leaves []Leaf) func(rva uint32) []byte {
	return func(rva uint32) []byte {
		type node struct {
			name     string
			id       uint16
			children []*node
			leaf     *Leaf
		}
		root := &node{}
		find := func(parent *node, name string, id uint16) *node {
			for _, c := range parent.children {
				if c.name == name && c.id == id {
					return c
				}
			}
			c := &node{name: name, id: id}
			parent.children = append(parent.children, c)
			return c
		}
		for i := range leaves {
			l := &leaves[i]
			t := find(root, l.TypeName, l.Type)
			n := find(t, l.Name, l.ID)
			find(n, "", l.Lang).leaf = l
		}
		var sortAll func(n *node)
		sortAll = func(n *node) {
			sort.SliceStable(n.children, func(i, j int) bool {
				a, b := n.children[i], n.children[j]
				if (a.name != "") != (b.name != "") {
					return a.name != ""
				}
				if a.name != "" {
					return a.name < b.name
				}
				return a.id < b.id
			})
			for _, c := range n.children {
				sortAll(c)
			}
		}
		sortAll(root)

		var out []byte
		type ref struct {
			at   int
			name string
			leaf *Leaf
		}
		var names, entries []ref
		var writeDir func(n *node) uint32
		writeDir = func(n *node) uint32 {
			start := uint32(len(out))
			var named, ids uint16
			for _, c := range n.children {
				if c.name != "" {
					named++
				} else {
					ids++
				}
			}
			out = append(out, make([]byte, 16+8*len(n.children))...)
			put16(out, int(start)+12, named)
			put16(out, int(start)+14, ids)
			for i, c := range n.children {
				e := int(start) + 16 + 8*i
				if c.name != "" {
					names = append(names, ref{at: e, name: c.name})
				} else {
					put32(out, e, uint32(c.id))
				}
				if c.leaf != nil {
					entries = append(entries, ref{at: e + 4, leaf: c.leaf})
					continue
				}
				sub := writeDir(c)
				put32(out, e+4, sub|0x80000000)
			}
			return start
		}
		writeDir(root)

		entryOff := make([]int, len(entries))
		for i, e := range entries {
			entryOff[i] = len(out)
			put32(out, e.at, uint32(len(out)))
			out = append(out, make([]byte, 16)...)
		}
		for _, f := range names {
			put32(out, f.at, uint32(len(out))|0x80000000)
			units := utf16Units(f.name)
			rec := make([]byte, 2+2*len(units))
			binary.LittleEndian.PutUint16(rec, uint16(len(units)))
			for i, u := range units {
				binary.LittleEndian.PutUint16(rec[2+2*i:], u)
			}
			out = append(out, rec...)
		}
		for i, e := range entries {
			out = append(out, make([]byte, pad(len(out), 4))...)
			put32(out, entryOff[i], rva+uint32(len(out)))
			put32(out, entryOff[i]+4, uint32(len(e.leaf.Data)))
			out = append(out, e.leaf.Data...)
		}
		return out
	}
}

func utf16Units(s string) []uint16 {
	var units []uint16
	for _, r := range s {
		if r >= 0x10000 {
			r -= 0x10000
			units = append(units, uint16(0xD800+(r>>10)), uint16(0xDC00+(r&0x3FF)))
			continue
		}
		units = append(units, uint16(r))
	}
	return units
}

// U16 reads a little-endian uint16 at off.
func U16(b []byte, off int) uint16 {
	return binary.LittleEndian.Uint16(b[off:])
}

// U32 reads a little-endian uint32 at off.
func U32(b []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(b[off:])
}

// OptionalHeaderOffset returns the file offset of the optional header.
func OptionalHeaderOffset() int {
	return PEOffset + 4 + 20
}

// DataDirectoryOffset returns the file offset of data directory i.
func DataDirectoryOffset(b []byte, i int) int {
	opt := OptionalHeaderOffset()
	if U16(b, opt) == 0x10b {
		return opt + 96 + 8*i
	}
	return opt + 112 + 8*i
}

func put16(b []byte, off int, v uint16) {
	binary.LittleEndian.PutUint16(b[off:], v)
}

func put32(b []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(b[off:], v)
}

func alignUp(v, a uint32) uint32 {
	return (v + a - 1) &^ (a - 1)
}

func pad(n, a int) int {
	return (a - n%a) % a
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
