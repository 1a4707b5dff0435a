package versioninfo

import (
	"encoding/binary"
	"strings"
	"testing"
	"unicode/utf16"

	"github.com/maja42/exeup/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tc-hib/winres/version"
)

// block writes a version block the way resource compilers do.
func block(key string, typ uint16, value []byte, valueLength int, children ...[]byte) []byte {
	b := make([]byte, 6)
	for _, u := range utf16.Encode([]rune(key)) {
		b = append(b, byte(u), byte(u>>8))
	}
	b = append(b, 0, 0)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	b = append(b, value...)
	for _, c := range children {
		for len(b)%4 != 0 {
			b = append(b, 0)
		}
		b = append(b, c...)
	}
	binary.LittleEndian.PutUint16(b[0:], uint16(len(b)))
	binary.LittleEndian.PutUint16(b[2:], uint16(valueLength))
	binary.LittleEndian.PutUint16(b[4:], typ)
	return b
}

func str(key, value string) []byte {
	v := textValue(value)
	return block(key, 1, v, len(v)/2)
}

func fixed(ms, ls uint32) []byte {
	f := make([]byte, 52)
	binary.LittleEndian.PutUint32(f[0:], fixedSignature)
	binary.LittleEndian.PutUint32(f[4:], 0x00010000)
	binary.LittleEndian.PutUint32(f[8:], ms)
	binary.LittleEndian.PutUint32(f[12:], ls)
	binary.LittleEndian.PutUint32(f[16:], ms)
	binary.LittleEndian.PutUint32(f[20:], ls)
	binary.LittleEndian.PutUint32(f[24:], 0x3f)
	binary.LittleEndian.PutUint32(f[32:], 0x40004)
	binary.LittleEndian.PutUint32(f[36:], 1)
	return f
}

func sample() []byte {
	return block(rootKey, 0, fixed(0x00120003, 0x00040005), 52,
		block(stringFileInfoKey, 1, nil, 0,
			block("040904b0", 1, nil, 0,
				str(KeyCompanyName, "Node.js"),
				str(KeyFileVersion, "18.3.4.5"),
				str(KeyInternalName, "node"),
				str(KeyOriginalFilename, "node.exe"),
				str(KeyProductName, "Node.js"),
				str(KeyProductVersion, "18.3.4.5"),
			),
		),
		block(varFileInfoKey, 1, nil, 0,
			block(translationKey, 0, []byte{0x09, 0x04, 0xb0, 0x04}, 4),
		),
	)
}

func decodeSample(t *testing.T) *Info {
	vi, err := Decode(sample())
	require.NoError(t, err)
	return vi
}

func encode(t *testing.T, vi *Info) []byte {
	b, err := vi.Encode()
	require.NoError(t, err)
	return b
}

func TestDecode(t *testing.T) {
	vi := decodeSample(t)

	assert.Equal(t, [4]uint16{0x12, 3, 4, 5}, vi.FileVersion())
	assert.Equal(t, [4]uint16{0x12, 3, 4, 5}, vi.ProductVersion())

	s, ok := vi.String(DefaultLanguage, KeyProductName)
	assert.True(t, ok)
	assert.Equal(t, "Node.js", s)

	_, ok = vi.String(Language{ID: 1031, CodePage: 1200}, KeyProductName)
	assert.False(t, ok)

	assert.Equal(t, []string{
		KeyCompanyName, KeyFileVersion, KeyInternalName, KeyOriginalFilename, KeyProductName, KeyProductVersion,
	}, vi.Keys(DefaultLanguage))
	assert.Equal(t, []Language{DefaultLanguage}, vi.Languages())
	assert.Equal(t, []Language{DefaultLanguage}, vi.Translations())
}

func TestEncode_unmodifiedIsIdentical(t *testing.T) {
	assert.Equal(t, sample(), encode(t, decodeSample(t)))
}

func TestEncode_oracle(t *testing.T) {
	vi := decodeSample(t)
	vi.SetVersionNumbers(2, 1, 0)
	vi.SetStrings(DefaultLanguage, map[string]string{KeyProductName: "Demo application"})

	parsed, err := version.FromBytes(encode(t, vi))
	require.NoError(t, err)
	assert.Equal(t, [4]uint16{2, 1, 0, 0}, parsed.FileVersion)
	assert.Equal(t, [4]uint16{2, 1, 0, 0}, parsed.ProductVersion)
}

func TestEncode_lengthsAndAlignment(t *testing.T) {
	vi := decodeSample(t)
	vi.SetStrings(DefaultLanguage, map[string]string{"A": "x", "Comments": "odd length!"})
	out := encode(t, vi)

	assert.Equal(t, len(out), int(binary.LittleEndian.Uint16(out)))

	again, err := Decode(out)
	require.NoError(t, err)
	assert.Equal(t, out, encode(t, again))

	s, _ := again.String(DefaultLanguage, "Comments")
	assert.Equal(t, "odd length!", s)
}

func TestEncode_tooLong(t *testing.T) {
	vi := decodeSample(t)
	vi.SetStrings(DefaultLanguage, map[string]string{KeyFileDescription: strings.Repeat("x", 40000)})

	_, err := vi.Encode()
	assert.ErrorIs(t, err, errdefs.ErrInvalidVersionBlock)

	vi.SetStrings(DefaultLanguage, map[string]string{KeyFileDescription: strings.Repeat("x", 20000)})
	out, err := vi.Encode()
	require.NoError(t, err)
	_, err = Decode(out)
	assert.NoError(t, err)
}

func TestRemoveString_idempotent(t *testing.T) {
	once := decodeSample(t)
	once.RemoveString(DefaultLanguage, KeyOriginalFilename)

	twice := decodeSample(t)
	twice.RemoveString(DefaultLanguage, KeyOriginalFilename)
	twice.RemoveString(DefaultLanguage, KeyOriginalFilename)

	assert.Equal(t, encode(t, once), encode(t, twice))
	_, ok := once.String(DefaultLanguage, KeyOriginalFilename)
	assert.False(t, ok)

	// unknown language is a no-op as well
	twice.RemoveString(Language{ID: 1, CodePage: 2}, KeyProductName)
	assert.Equal(t, encode(t, once), encode(t, twice))
}

func TestSetVersionNumbers(t *testing.T) {
	for _, s := range []string{"2.1.0", "0.0.1", "65535.65535.65535", "1.22.333", "7"} {
		v, err := ParseVersion(s)
		require.NoError(t, err)

		vi := decodeSample(t)
		vi.SetVersionNumbers(v[0], v[1], v[2])

		again, err := Decode(encode(t, vi))
		require.NoError(t, err)
		assert.Equal(t, [4]uint16{v[0], v[1], v[2], 0}, again.FileVersion(), s)
		assert.Equal(t, [4]uint16{v[0], v[1], v[2], 0}, again.ProductVersion(), s)
	}
}

func TestSetVersionNumbers_updatesStrings(t *testing.T) {
	vi := decodeSample(t)
	vi.SetVersionNumbers(2, 1)

	s, _ := vi.String(DefaultLanguage, KeyFileVersion)
	assert.Equal(t, "2.1.0.0", s)
	s, _ = vi.String(DefaultLanguage, KeyProductVersion)
	assert.Equal(t, "2.1.0.0", s)
}

func TestSetStrings(t *testing.T) {
	vi := decodeSample(t)
	vi.SetStrings(DefaultLanguage, map[string]string{
		KeyProductName:     "Demo",
		KeyLegalCopyright:  "(c) someone",
		KeyFileDescription: "A demo",
	})

	assert.Equal(t, []string{
		KeyCompanyName, KeyFileVersion, KeyInternalName, KeyOriginalFilename, KeyProductName, KeyProductVersion,
		KeyFileDescription, KeyLegalCopyright,
	}, vi.Keys(DefaultLanguage))

	again, err := Decode(encode(t, vi))
	require.NoError(t, err)
	s, _ := again.String(DefaultLanguage, KeyProductName)
	assert.Equal(t, "Demo", s)
	s, _ = again.String(DefaultLanguage, KeyLegalCopyright)
	assert.Equal(t, "(c) someone", s)
}

func TestSetStrings_newLanguage(t *testing.T) {
	vi := decodeSample(t)
	de := Language{ID: 1031, CodePage: 1200}
	vi.SetString(de, KeyProductName, "Vorführung")

	again, err := Decode(encode(t, vi))
	require.NoError(t, err)
	s, ok := again.String(de, KeyProductName)
	assert.True(t, ok)
	assert.Equal(t, "Vorführung", s)
	assert.Equal(t, []Language{DefaultLanguage, de}, again.Translations())
	assert.Equal(t, []Language{DefaultLanguage, de}, again.Languages())
}

func TestSetStrings_createsStringFileInfo(t *testing.T) {
	b := block(rootKey, 0, fixed(0x10000, 0), 52)
	vi, err := Decode(b)
	require.NoError(t, err)

	vi.SetString(DefaultLanguage, KeyProductName, "Demo")
	again, err := Decode(encode(t, vi))
	require.NoError(t, err)
	s, _ := again.String(DefaultLanguage, KeyProductName)
	assert.Equal(t, "Demo", s)
	assert.Equal(t, []Language{DefaultLanguage}, again.Translations())
	assert.Equal(t, stringFileInfoKey, again.root.children[0].key)
}

func TestDecode_lenientStringLength(t *testing.T) {
	v := textValue("bytes")
	b := block(rootKey, 0, fixed(0x10000, 0), 52,
		block(stringFileInfoKey, 1, nil, 0,
			block("040904b0", 1, nil, 0,
				block(KeyProductName, 1, v, len(v)), // counted in bytes
			),
		),
	)
	vi, err := Decode(b)
	require.NoError(t, err)
	s, _ := vi.String(DefaultLanguage, KeyProductName)
	assert.Equal(t, "bytes", s)
}

func TestDecode_invalid(t *testing.T) {
	valid := sample()

	overrun := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint16(overrun, uint16(len(valid)+4))

	badSig := append([]byte(nil), valid...)
	badSig[40] ^= 0xFF // first byte of the fixed file info

	cases := map[string][]byte{
		"empty":          nil,
		"truncated":      valid[:len(valid)-10],
		"length overrun": overrun,
		"wrong key":      block("VS_VERSION_INF0", 0, fixed(0, 0), 52),
		"bad signature":  badSig,
		"no fixed info":  block(rootKey, 0, nil, 0),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(b)
			assert.ErrorIs(t, err, errdefs.ErrInvalidVersionBlock)
			assert.Equal(t, errdefs.Format, errdefs.KindOf(err))
		})
	}
}

func TestNew(t *testing.T) {
	vi, err := New(DefaultLanguage, [4]uint16{1, 2, 3, 0})
	require.NoError(t, err)
	assert.Equal(t, [4]uint16{1, 2, 3, 0}, vi.FileVersion())
	assert.Contains(t, vi.Translations(), DefaultLanguage)

	vi.SetString(DefaultLanguage, KeyProductName, "Demo")
	again, err := Decode(encode(t, vi))
	require.NoError(t, err)
	s, _ := again.String(DefaultLanguage, KeyProductName)
	assert.Equal(t, "Demo", s)
}

func TestParseVersion(t *testing.T) {
	cases := map[string][4]uint16{
		"1.2.3":   {1, 2, 3, 0},
		"1.x.3":   {1, 0, 3, 0},
		"1":       {1, 0, 0, 0},
		"":        {0, 0, 0, 0},
		"1.2.3.4": {1, 2, 3, 0},
		"v1.2.3":  {0, 2, 3, 0},
	}
	for in, want := range cases {
		got, err := ParseVersion(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseVersion("70000.0.0")
	assert.ErrorIs(t, err, errdefs.ErrInvalidVersionBlock)
	_, err = ParseVersion("1.99999999999999999999999.0")
	assert.ErrorIs(t, err, errdefs.ErrInvalidVersionBlock)
}
