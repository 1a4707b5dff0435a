package pefile

import (
	"fmt"

	"github.com/maja42/exeup/errdefs"
	"gitlab.com/tozd/go/errors"
)

// ResourceBuilder serializes a resource directory for the given base RVA.
// The result must be exactly as long as announced to ReplaceResources.
type ResourceBuilder func(rva uint32) []byte

// ReplaceResources replaces the resource directory with size bytes produced by build.
//
// If the current resource section has enough virtual room, it is rewritten in place
// and all following file data is shifted. Otherwise, a new section is appended after the
// last one, leaving the old section untouched.
func (f *File) ReplaceResources(size uint32, build ResourceBuilder) error {
	dir := f.DataDirectory(DirResource)
	idx := -1
	if dir.VirtualAddress != 0 {
		idx = f.sectionOf(dir.VirtualAddress)
		if idx < 0 {
			return errdefs.New(errdefs.ErrRvaOutOfRange, "resource directory rva 0x%x is not contained in a section", dir.VirtualAddress)
		}
	}

	if idx >= 0 && f.sections[idx].VirtualAddress == dir.VirtualAddress && size <= f.virtualRoom(idx) {
		return f.rewriteSection(idx, size, build)
	}
	return f.appendSection(size, build)
}

// virtualRoom returns the number of bytes the section can grow to without overlapping
// the next section in memory.
func (f *File) virtualRoom(idx int) uint32 {
	s := f.sections[idx]
	room := ^uint32(0) - s.VirtualAddress
	for i, o := range f.sections {
		if i != idx && o.VirtualAddress > s.VirtualAddress && o.VirtualAddress-s.VirtualAddress < room {
			room = o.VirtualAddress - s.VirtualAddress
		}
	}
	return room
}

func (f *File) build(rva, size uint32, build ResourceBuilder) ([]byte, error) {
	data := build(rva)
	if uint32(len(data)) != size {
		return nil, errors.Errorf("resource builder produced %d bytes instead of %d", len(data), size)
	}
	return data, nil
}

func (f *File) rewriteSection(idx int, size uint32, build ResourceBuilder) error {
	s := f.sections[idx]
	data, err := f.build(s.VirtualAddress, size, build)
	if err != nil {
		return err
	}

	rawSize := alignUp(size, f.fileAlign)
	if rawSize < s.SizeOfRawData {
		rawSize = s.SizeOfRawData
	}
	newRaw := make([]byte, rawSize)
	copy(newRaw, data)

	start := s.PointerToRawData
	oldEnd := start + s.SizeOfRawData
	delta := rawSize - s.SizeOfRawData
	f.splice(start, oldEnd, newRaw)

	put32(f.raw, s.headerOffset+8, size)
	put32(f.raw, s.headerOffset+16, rawSize)
	f.logger.Debug("rewrote resource section in place",
		"section", s.Name,
		"rva", fmt.Sprintf("0x%x", s.VirtualAddress),
		"size", size,
		"raw_size_delta", delta)

	if err := f.shiftFilePointers(idx, oldEnd, delta); err != nil {
		return err
	}
	f.setDataDirectory(DirResource, DataDirectory{VirtualAddress: s.VirtualAddress, Size: size})
	return f.finishLayout()
}

func (f *File) appendSection(size uint32, build ResourceBuilder) error {
	n := len(f.sections)
	headerEnd := f.tableOffset + (n+1)*sectionHeaderSize
	if headerEnd > f.firstDataOffset() {
		return errdefs.New(errdefs.ErrRvaOutOfRange, "no room for an additional section header (%d sections)", n)
	}

	var vaEnd uint32
	for _, s := range f.sections {
		if e := s.VirtualAddress + alignUp(s.end()-s.VirtualAddress, f.sectionAlign); e > vaEnd {
			vaEnd = e
		}
	}
	rva := alignUp(vaEnd, f.sectionAlign)
	data, err := f.build(rva, size, build)
	if err != nil {
		return err
	}

	insertAt := uint32(f.OverlayOffset())
	rawOffset := alignUp(insertAt, f.fileAlign)
	rawSize := alignUp(size, f.fileAlign)
	inserted := make([]byte, rawOffset-insertAt+rawSize)
	copy(inserted[rawOffset-insertAt:], data)
	f.splice(insertAt, insertAt, inserted)

	// file pointers behind the insertion point move, the new header does not exist yet
	if err := f.shiftFilePointers(-1, insertAt, uint32(len(inserted))); err != nil {
		return err
	}

	hdr := f.tableOffset + n*sectionHeaderSize
	for i := 0; i < sectionHeaderSize; i++ {
		f.raw[hdr+i] = 0
	}
	copy(f.raw[hdr:hdr+8], f.freeSectionName(".rsrc"))
	put32(f.raw, hdr+8, size)
	put32(f.raw, hdr+12, rva)
	put32(f.raw, hdr+16, rawSize)
	put32(f.raw, hdr+20, rawOffset)
	put32(f.raw, hdr+36, scnCntInitializedData|scnMemRead)
	put16(f.raw, f.peOffset+4+2, uint16(n+1))

	f.logger.Debug("appended resource section",
		"rva", fmt.Sprintf("0x%x", rva),
		"offset", fmt.Sprintf("0x%x", rawOffset),
		"size", size)

	f.setDataDirectory(DirResource, DataDirectory{VirtualAddress: rva, Size: size})
	return f.finishLayout()
}

// firstDataOffset returns the lowest file offset of section data, bounding the header area.
func (f *File) firstDataOffset() int {
	first := int(f.headersSize)
	for _, s := range f.sections {
		if s.SizeOfRawData > 0 && int(s.PointerToRawData) < first {
			first = int(s.PointerToRawData)
		}
	}
	return first
}

func (f *File) freeSectionName(name string) []byte {
	taken := map[string]bool{}
	for _, s := range f.sections {
		taken[s.Name] = true
	}
	candidate := name
	for i := 1; taken[candidate]; i++ {
		candidate = fmt.Sprintf("%s%d", name, i)
	}
	return []byte(candidate)
}

// splice replaces raw[start:end] with repl.
func (f *File) splice(start, end uint32, repl []byte) {
	out := make([]byte, 0, len(f.raw)-int(end-start)+len(repl))
	out = append(out, f.raw[:start]...)
	out = append(out, repl...)
	out = append(out, f.raw[end:]...)
	f.raw = out
}

// shiftFilePointers moves every file offset at or behind 'from' by delta.
// skip is the index of the section whose header was already updated, or -1.
func (f *File) shiftFilePointers(skip int, from, delta uint32) error {
	if delta == 0 {
		return nil
	}
	for i, s := range f.sections {
		if i == skip || s.SizeOfRawData == 0 || s.PointerToRawData < from {
			continue
		}
		put32(f.raw, s.headerOffset+20, s.PointerToRawData+delta)
		f.sections[i].PointerToRawData += delta
	}

	if sym := f.header.PointerToSymbolTable; sym != 0 && sym >= from {
		put32(f.raw, f.peOffset+4+8, sym+delta)
		f.header.PointerToSymbolTable += delta
	}

	if cert := f.DataDirectory(DirSecurity); cert.VirtualAddress != 0 && cert.VirtualAddress >= from {
		cert.VirtualAddress += delta
		f.setDataDirectory(DirSecurity, cert)
		f.logger.Debug("moved certificate table", "offset", fmt.Sprintf("0x%x", cert.VirtualAddress))
	}

	// section headers were updated above, so debug entries resolve against the new layout
	if skip >= 0 {
		s := &f.sections[skip]
		s.VirtualSize = u32(f.raw, s.headerOffset+8)
		s.SizeOfRawData = u32(f.raw, s.headerOffset+16)
	}
	return f.shiftDebugPointers(from, delta)
}

func (f *File) shiftDebugPointers(from, delta uint32) error {
	dir := f.DataDirectory(DirDebug)
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return nil
	}
	entries, err := f.ReadRVA(dir.VirtualAddress, dir.Size-dir.Size%debugEntrySize)
	if err != nil {
		f.logger.Warn("debug directory not readable, leaving it untouched", "error", err)
		return nil
	}
	for i := 0; i+debugEntrySize <= len(entries); i += debugEntrySize {
		ptr := u32(entries, i+24)
		if ptr != 0 && ptr >= from {
			put32(entries, i+24, ptr+delta)
		}
	}
	return nil
}

// finishLayout updates SizeOfImage and re-parses the header chain.
func (f *File) finishLayout() error {
	var size uint32
	for i := range f.sections {
		off := f.sections[i].headerOffset
		va := u32(f.raw, off+12)
		vs := u32(f.raw, off+8)
		if vs == 0 {
			vs = u32(f.raw, off+16)
		}
		if e := va + alignUp(vs, f.sectionAlign); e > size {
			size = e
		}
	}
	if n := int(u16(f.raw, f.peOffset+4+2)); n > len(f.sections) {
		off := f.tableOffset + len(f.sections)*sectionHeaderSize
		if e := u32(f.raw, off+12) + alignUp(u32(f.raw, off+8), f.sectionAlign); e > size {
			size = e
		}
	}
	put32(f.raw, f.optOffset+optSizeOfImage, size)
	if err := f.parse(); err != nil {
		return errors.Errorf("re-parsing rewritten image: %w", err)
	}
	return nil
}

// StripCertificate removes the certificate table.
// The table is cut from the file if it is located at its end; the security directory
// and the checksum are cleared. Returns false if the image was not signed.
func (f *File) StripCertificate() bool {
	cert := f.DataDirectory(DirSecurity)
	if cert.VirtualAddress == 0 || cert.Size == 0 {
		return false
	}
	start, end := uint64(cert.VirtualAddress), uint64(cert.VirtualAddress)+uint64(cert.Size)
	if end <= uint64(len(f.raw)) && start >= uint64(f.OverlayOffset()) {
		f.splice(uint32(start), uint32(end), nil)
	}
	f.setDataDirectory(DirSecurity, DataDirectory{})
	put32(f.raw, f.optOffset+optCheckSum, 0)
	f.keepChecksum = false
	f.logger.Debug("removed certificate table", "size", cert.Size)
	return true
}
