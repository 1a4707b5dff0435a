// Package pefile parses the header chain of PE32/PE32+ executables and rewrites their resource section.
//
// A File owns the image bytes. All accessors read from that buffer,
// mutations patch it in place and re-parse the header chain afterwards.
package pefile

import (
	"bytes"

	"github.com/hashicorp/go-hclog"
	"github.com/maja42/exeup/errdefs"
)

// Section describes a section table entry.
type Section struct {
	Name             string
	VirtualSize      uint32
	VirtualAddress   uint32
	SizeOfRawData    uint32
	PointerToRawData uint32
	Characteristics  uint32

	headerOffset int
}

// end returns the first virtual address after the section.
func (s Section) end() uint32 {
	size := s.VirtualSize
	if size == 0 {
		size = s.SizeOfRawData
	}
	return s.VirtualAddress + size
}

// DataDirectory is an entry of the optional header's data directory.
// For the security directory, VirtualAddress is a file offset.
type DataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

// File is a parsed executable image.
type File struct {
	raw    []byte
	logger hclog.Logger

	peOffset     int
	optOffset    int
	tableOffset  int
	dirOffset    int
	dirCount     int
	pe32Plus     bool
	header       fileHeader
	sections     []Section
	sectionAlign uint32
	fileAlign    uint32
	headersSize  uint32

	// keepChecksum is set if the donor carried a checksum, which then is recomputed by Bytes.
	keepChecksum bool
}

// Option configures Parse.
type Option func(*File)

// WithLogger sets the logger reporting layout changes.
func WithLogger(logger hclog.Logger) Option {
	return func(f *File) {
		f.logger = logger
	}
}

// Parse parses the header chain of the given image.
// The File takes ownership of buf.
func Parse(buf []byte, opts ...Option) (*File, error) {
	f := &File{raw: buf}
	for _, o := range opts {
		o(f)
	}
	if f.logger == nil {
		f.logger = hclog.NewNullLogger()
	}
	if err := f.parse(); err != nil {
		return nil, err
	}
	f.keepChecksum = u32(f.raw, f.optOffset+optCheckSum) != 0
	return f, nil
}

func malformed(format string, args ...interface{}) error {
	return errdefs.New(errdefs.ErrMalformedHeader, format, args...)
}

func (f *File) parse() error {
	b := f.raw
	if len(b) < 64 || b[0] != 'M' || b[1] != 'Z' {
		return malformed("missing DOS header")
	}
	f.peOffset = int(u32(b, 0x3C))
	if f.peOffset < 0 || f.peOffset+4+coffHeaderSize > len(b) {
		return malformed("PE header offset 0x%x outside file", f.peOffset)
	}
	if !bytes.Equal(b[f.peOffset:f.peOffset+4], []byte("PE\x00\x00")) {
		return malformed("missing PE signature")
	}

	var hdr fileHeader
	if err := unpack(b[f.peOffset+4:f.peOffset+4+coffHeaderSize], &hdr); err != nil {
		return malformed("unreadable COFF header: %s", err)
	}
	f.header = hdr
	if hdr.NumberOfSections == 0 || hdr.NumberOfSections > maxSections {
		return malformed("invalid section count %d", hdr.NumberOfSections)
	}

	f.optOffset = f.peOffset + 4 + coffHeaderSize
	if f.optOffset+2 > len(b) {
		return malformed("optional header outside file")
	}
	var minOptSize int
	switch u16(b, f.optOffset) {
	case magicPE32:
		f.pe32Plus = false
		minOptSize = 96
	case magicPE32Plus:
		f.pe32Plus = true
		minOptSize = 112
	default:
		return malformed("unknown optional header magic 0x%x", u16(b, f.optOffset))
	}
	optSize := int(hdr.SizeOfOptionalHeader)
	if optSize < minOptSize || f.optOffset+optSize > len(b) {
		return malformed("invalid optional header size %d", optSize)
	}
	f.dirOffset = f.optOffset + minOptSize
	f.dirCount = int(u32(b, f.dirOffset-4))
	if f.dirCount > numDirs {
		f.dirCount = numDirs
	}
	if avail := (optSize - minOptSize) / 8; f.dirCount > avail {
		f.dirCount = avail
	}

	f.sectionAlign = u32(b, f.optOffset+optSectionAlignment)
	f.fileAlign = u32(b, f.optOffset+optFileAlignment)
	if !isPowerOfTwo(f.fileAlign) || !isPowerOfTwo(f.sectionAlign) || f.sectionAlign < f.fileAlign {
		return malformed("invalid alignment (file 0x%x, section 0x%x)", f.fileAlign, f.sectionAlign)
	}
	f.headersSize = u32(b, f.optOffset+optSizeOfHeaders)

	f.tableOffset = f.optOffset + optSize
	tableEnd := f.tableOffset + int(hdr.NumberOfSections)*sectionHeaderSize
	if tableEnd > len(b) {
		return malformed("section table outside file")
	}

	f.sections = make([]Section, hdr.NumberOfSections)
	for i := range f.sections {
		off := f.tableOffset + i*sectionHeaderSize
		var sh sectionHeader
		if err := unpack(b[off:off+sectionHeaderSize], &sh); err != nil {
			return malformed("unreadable section header %d: %s", i, err)
		}
		s := Section{
			Name:             string(bytes.TrimRight(sh.Name[:], "\x00")),
			VirtualSize:      sh.VirtualSize,
			VirtualAddress:   sh.VirtualAddress,
			SizeOfRawData:    sh.SizeOfRawData,
			PointerToRawData: sh.PointerToRawData,
			Characteristics:  sh.Characteristics,
			headerOffset:     off,
		}
		if s.SizeOfRawData > 0 && uint64(s.PointerToRawData)+uint64(s.SizeOfRawData) > uint64(len(b)) {
			return malformed("section %q data outside file", s.Name)
		}
		f.sections[i] = s
	}
	return nil
}

// Machine returns the target machine type.
func (f *File) Machine() uint16 {
	return f.header.Machine
}

// PE32Plus reports whether the image has a 64 bit optional header.
func (f *File) PE32Plus() bool {
	return f.pe32Plus
}

// Sections returns a copy of the section table.
func (f *File) Sections() []Section {
	return append([]Section(nil), f.sections...)
}

// Size returns the current image size in bytes.
func (f *File) Size() int {
	return len(f.raw)
}

// CheckSum returns the checksum stored in the optional header.
func (f *File) CheckSum() uint32 {
	return u32(f.raw, f.optOffset+optCheckSum)
}

// SizeOfImage returns the SizeOfImage field of the optional header.
func (f *File) SizeOfImage() uint32 {
	return u32(f.raw, f.optOffset+optSizeOfImage)
}

// DataDirectory returns the data directory entry i.
// Entries beyond NumberOfRvaAndSizes are empty.
func (f *File) DataDirectory(i int) DataDirectory {
	if i < 0 || i >= f.dirCount {
		return DataDirectory{}
	}
	off := f.dirOffset + 8*i
	return DataDirectory{
		VirtualAddress: u32(f.raw, off),
		Size:           u32(f.raw, off+4),
	}
}

func (f *File) setDataDirectory(i int, d DataDirectory) {
	off := f.dirOffset + 8*i
	put32(f.raw, off, d.VirtualAddress)
	put32(f.raw, off+4, d.Size)
}

// Signed reports whether the image references a certificate table.
func (f *File) Signed() bool {
	d := f.DataDirectory(DirSecurity)
	return d.VirtualAddress != 0 && d.Size != 0
}

// OverlayOffset returns the file offset of the first byte after all section data.
func (f *File) OverlayOffset() int {
	end := int(f.headersSize)
	for _, s := range f.sections {
		if s.SizeOfRawData == 0 {
			continue
		}
		if e := int(s.PointerToRawData + s.SizeOfRawData); e > end {
			end = e
		}
	}
	if end > len(f.raw) {
		end = len(f.raw)
	}
	return end
}

// sectionOf returns the index of the single section containing rva, or -1.
func (f *File) sectionOf(rva uint32) int {
	idx := -1
	for i, s := range f.sections {
		if rva >= s.VirtualAddress && rva < s.end() {
			if idx >= 0 {
				return -1
			}
			idx = i
		}
	}
	return idx
}

// RVAToOffset translates a relative virtual address into a file offset.
func (f *File) RVAToOffset(rva uint32) (uint32, error) {
	i := f.sectionOf(rva)
	if i < 0 {
		return 0, errdefs.New(errdefs.ErrRvaOutOfRange, "rva 0x%x is not contained in exactly one section", rva)
	}
	s := f.sections[i]
	delta := rva - s.VirtualAddress
	if delta >= s.SizeOfRawData {
		return 0, errdefs.New(errdefs.ErrRvaOutOfRange, "rva 0x%x is not backed by file data of section %q", rva, s.Name)
	}
	return s.PointerToRawData + delta, nil
}

// ReadRVA returns n bytes starting at rva.
// The returned slice aliases the image and is valid until the next mutation.
func (f *File) ReadRVA(rva, n uint32) ([]byte, error) {
	off, err := f.RVAToOffset(rva)
	if err != nil {
		return nil, err
	}
	s := f.sections[f.sectionOf(rva)]
	if uint64(rva-s.VirtualAddress)+uint64(n) > uint64(s.SizeOfRawData) {
		return nil, errdefs.New(errdefs.ErrRvaOutOfRange, "%d bytes at rva 0x%x exceed section %q", n, rva, s.Name)
	}
	return f.raw[off : off+n], nil
}

// Bytes returns the image.
// If the donor carried a checksum, it is recomputed first.
func (f *File) Bytes() []byte {
	if f.keepChecksum {
		put32(f.raw, f.optOffset+optCheckSum, CheckSum(f.raw, f.optOffset+optCheckSum))
	}
	return f.raw
}
