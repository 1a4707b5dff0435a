package pefile

import (
	"bytes"
	"encoding/binary"

	"github.com/lunixbochs/struc"
)

const (
	magicPE32     = 0x10b
	magicPE32Plus = 0x20b

	coffHeaderSize    = 20
	sectionHeaderSize = 40
	debugEntrySize    = 28

	maxSections = 96
	numDirs     = 16
)

// Data directory indices.
const (
	DirExport      = 0
	DirImport      = 1
	DirResource    = 2
	DirException   = 3
	DirSecurity    = 4
	DirBaseReloc   = 5
	DirDebug       = 6
	DirTLS         = 9
	DirLoadConfig  = 10
	DirImportTable = 12
)

// Machine types accepted as Windows donors.
const (
	MachineI386  uint16 = 0x14c
	MachineAMD64 uint16 = 0x8664
	MachineARM64 uint16 = 0xaa64
)

// Section characteristics used for appended sections.
const (
	scnCntInitializedData = 0x00000040
	scnMemRead            = 0x40000000
)

// Offsets within the optional header, identical for PE32 and PE32+.
const (
	optSectionAlignment = 32
	optFileAlignment    = 36
	optSizeOfImage      = 56
	optSizeOfHeaders    = 60
	optCheckSum         = 64
)

type fileHeader struct {
	Machine              uint16 `struc:"uint16,little"`
	NumberOfSections     uint16 `struc:"uint16,little"`
	TimeDateStamp        uint32 `struc:"uint32,little"`
	PointerToSymbolTable uint32 `struc:"uint32,little"`
	NumberOfSymbols      uint32 `struc:"uint32,little"`
	SizeOfOptionalHeader uint16 `struc:"uint16,little"`
	Characteristics      uint16 `struc:"uint16,little"`
}

type sectionHeader struct {
	Name                 [8]byte `struc:"[8]byte"`
	VirtualSize          uint32  `struc:"uint32,little"`
	VirtualAddress       uint32  `struc:"uint32,little"`
	SizeOfRawData        uint32  `struc:"uint32,little"`
	PointerToRawData     uint32  `struc:"uint32,little"`
	PointerToRelocations uint32  `struc:"uint32,little"`
	PointerToLinenumbers uint32  `struc:"uint32,little"`
	NumberOfRelocations  uint16  `struc:"uint16,little"`
	NumberOfLinenumbers  uint16  `struc:"uint16,little"`
	Characteristics      uint32  `struc:"uint32,little"`
}

func unpack(b []byte, v interface{}) error {
	return struc.Unpack(bytes.NewReader(b), v)
}

func u16(b []byte, off int) uint16 {
	return binary.LittleEndian.Uint16(b[off:])
}

func u32(b []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(b[off:])
}

func put16(b []byte, off int, v uint16) {
	binary.LittleEndian.PutUint16(b[off:], v)
}

func put32(b []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(b[off:], v)
}

// alignUp aligns a value up to the nearest multiple of alignment.
func alignUp(value, alignment uint32) uint32 {
	if alignment == 0 {
		return value
	}
	return ((value + alignment - 1) / alignment) * alignment
}

func isPowerOfTwo(v uint32) bool {
	return v != 0 && v&(v-1) == 0
}
