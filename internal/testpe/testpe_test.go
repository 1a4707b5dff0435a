package testpe

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/Binject/debug/pe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_PE32Plus(t *testing.T) {
	img := Build(Options{
		Sections: []Section{
			{Name: ".text", Data: []byte{0xC3}, Characteristics: CntCode | MemExecute | MemRead},
			{Name: ".data", Data: bytes.Repeat([]byte{1}, 0x300), Characteristics: CntInitialized | MemRead | MemWrite},
		},
		Overlay: []byte("overlay"),
	})

	f, err := pe.NewFile(bytes.NewReader(img))
	require.NoError(t, err)
	assert.Equal(t, MachineAMD64, f.FileHeader.Machine)
	require.Len(t, f.Sections, 2)

	assert.Equal(t, ".text", f.Sections[0].Name)
	assert.Equal(t, uint32(0x1000), f.Sections[0].VirtualAddress)
	assert.Equal(t, uint32(0x200), f.Sections[0].Offset)
	assert.Equal(t, uint32(0x2000), f.Sections[1].VirtualAddress)
	assert.Equal(t, uint32(0x400), f.Sections[1].Size)

	oh, ok := f.OptionalHeader.(*pe.OptionalHeader64)
	require.True(t, ok)
	assert.Equal(t, uint32(0x3000), oh.SizeOfImage)
	assert.Equal(t, uint32(0x200), oh.SizeOfHeaders)

	assert.True(t, bytes.HasSuffix(img, []byte("overlay")))
}

func TestBuild_PE32(t *testing.T) {
	img := Build(Options{
		Machine: MachineI386,
		PE32:    true,
		Sections: []Section{
			{Name: ".text", Data: []byte{0xC3}, Characteristics: CntCode | MemExecute | MemRead},
		},
		Certificate: []byte("certificate"),
	})

	f, err := pe.NewFile(bytes.NewReader(img))
	require.NoError(t, err)
	_, ok := f.OptionalHeader.(*pe.OptionalHeader32)
	assert.True(t, ok)

	dir := DataDirectoryOffset(img, 4)
	off, size := U32(img, dir), U32(img, dir+4)
	assert.Equal(t, "certificate", string(img[off:off+size]))
	assert.Zero(t, off%8)
}

func TestBuild_sectionBuilderReceivesRVA(t *testing.T) {
	var got []uint32
	Build(Options{
		Sections: []Section{
			{Name: ".text", Data: make([]byte, 0x1800)},
			{Name: ".rsrc", Build: func(rva uint32) []byte {
				got = append(got, rva)
				return []byte{1}
			}, Resource: true},
		},
	})
	assert.Equal(t, []uint32{0x3000}, got)
}

func TestBuild_debugDirectory(t *testing.T) {
	img := Build(Options{
		Sections: []Section{
			{Name: ".text", Data: []byte{0xC3}},
			{Name: ".rdata", Data: []byte("rdata")},
		},
		DebugPayload: []byte("RSDS"),
	})
	dir := DataDirectoryOffset(img, 6)
	assert.Equal(t, uint32(0x2008), U32(img, dir))
	assert.Equal(t, uint32(28), U32(img, dir+4))

	entry := 0x400 + 8
	ptr := U32(img, entry+24)
	assert.Equal(t, "RSDS", string(img[ptr:ptr+4]))
}

func TestForeignResources(t *testing.T) {
	data := ForeignResources([]Leaf{
		{Type: 16, ID: 1, Lang: 1033, Data: []byte("version")},
		{Type: 24, ID: 1, Lang: 1033, Data: []byte("manifest")},
		{TypeName: "CUSTOM", Name: "ITEM", Lang: 0, Data: []byte("custom")},
	})(0x5000)

	// root directory at the start: one named, two IDs
	assert.Equal(t, uint16(1), U16(data, 12))
	assert.Equal(t, uint16(2), U16(data, 14))
	assert.NotZero(t, U32(data, 16)&0x80000000, "named entry first")
	assert.Equal(t, uint32(16), U32(data, 24))
	assert.Equal(t, uint32(24), U32(data, 32))

	// subdirectories depth-first
	assert.Equal(t, uint32(40|0x80000000), U32(data, 20))
	assert.Equal(t, uint32(88|0x80000000), U32(data, 28))
	assert.Equal(t, uint32(136|0x80000000), U32(data, 36))

	// data blocks last, aligned to 4 bytes and referenced by absolute RVA
	for _, s := range []string{"version", "manifest", "custom"} {
		off := bytes.Index(data, []byte(s))
		require.Positive(t, off, s)
		assert.Zero(t, off%4, s)
		rva := make([]byte, 4)
		binary.LittleEndian.PutUint32(rva, 0x5000+uint32(off))
		assert.True(t, bytes.Contains(data[:off], rva), s)
	}
}
