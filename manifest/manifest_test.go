package manifest

import (
	"encoding/binary"
	"strings"
	"testing"
	"unicode/utf16"

	"github.com/maja42/exeup/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<assembly xmlns="urn:schemas-microsoft-com:asm.v1" manifestVersion="1.0">
  <trustInfo xmlns="urn:schemas-microsoft-com:asm.v3">
    <security>
      <requestedPrivileges>
        <requestedExecutionLevel level="asInvoker" uiAccess="false"/>
      </requestedPrivileges>
    </security>
  </trustInfo>
</assembly>
`

func encodeUTF16(s string, order binary.AppendByteOrder, bom bool) []byte {
	var out []byte
	if bom {
		out = order.AppendUint16(out, 0xFEFF)
	}
	for _, u := range utf16.Encode([]rune(s)) {
		out = order.AppendUint16(out, u)
	}
	return out
}

func replaced(level string) string {
	return strings.Replace(sample, `level="asInvoker"`, `level="`+level+`"`, 1)
}

func TestSetExecutionLevel_utf8(t *testing.T) {
	out, err := SetExecutionLevel([]byte(sample), RequireAdministrator)
	require.NoError(t, err)
	assert.Equal(t, replaced("requireAdministrator"), string(out))

	lvl, err := CurrentLevel(out)
	require.NoError(t, err)
	assert.Equal(t, RequireAdministrator, lvl)
}

func TestSetExecutionLevel_utf8BOM(t *testing.T) {
	in := append([]byte{0xEF, 0xBB, 0xBF}, sample...)
	out, err := SetExecutionLevel(in, HighestAvailable)
	require.NoError(t, err)
	assert.Equal(t, append([]byte{0xEF, 0xBB, 0xBF}, replaced("highestAvailable")...), out)
}

func TestSetExecutionLevel_utf16(t *testing.T) {
	tests := []struct {
		name  string
		order binary.AppendByteOrder
		bom   bool
	}{
		{"LE with BOM", binary.LittleEndian, true},
		{"LE without BOM", binary.LittleEndian, false},
		{"BE with BOM", binary.BigEndian, true},
		{"BE without BOM", binary.BigEndian, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := encodeUTF16(sample, tt.order, tt.bom)
			out, err := SetExecutionLevel(in, RequireAdministrator)
			require.NoError(t, err)
			assert.Equal(t, encodeUTF16(replaced("requireAdministrator"), tt.order, tt.bom), out)

			lvl, err := CurrentLevel(out)
			require.NoError(t, err)
			assert.Equal(t, RequireAdministrator, lvl)
		})
	}
}

func TestSetExecutionLevel_nonASCII(t *testing.T) {
	in := "<!-- Größe ✓ -->\n" + sample
	out, err := SetExecutionLevel(encodeUTF16(in, binary.LittleEndian, true), HighestAvailable)
	require.NoError(t, err)
	want := "<!-- Größe ✓ -->\n" + replaced("highestAvailable")
	assert.Equal(t, encodeUTF16(want, binary.LittleEndian, true), out)

	out, err = SetExecutionLevel([]byte(in), HighestAvailable)
	require.NoError(t, err)
	assert.Equal(t, want, string(out))
}

func TestSetExecutionLevel_variants(t *testing.T) {
	in := `<requestedExecutionLevel level = 'highestAvailable' uiAccess='false'/>`
	out, err := SetExecutionLevel([]byte(in), AsInvoker)
	require.NoError(t, err)
	assert.Equal(t, `<requestedExecutionLevel level = 'asInvoker' uiAccess='false'/>`, string(out))
}

func TestSetExecutionLevel_onlyFirst(t *testing.T) {
	in := `level="asInvoker" level="asInvoker"`
	out, err := SetExecutionLevel([]byte(in), RequireAdministrator)
	require.NoError(t, err)
	assert.Equal(t, `level="requireAdministrator" level="asInvoker"`, string(out))
}

func TestSetExecutionLevel_unknownLevel(t *testing.T) {
	_, err := SetExecutionLevel([]byte(sample), "root")
	assert.ErrorIs(t, err, errdefs.ErrUnknownExecutionLevel)
	assert.Equal(t, errdefs.InvalidOptions, errdefs.KindOf(err))
}

func TestSetExecutionLevel_tokenNotFound(t *testing.T) {
	_, err := SetExecutionLevel([]byte(`<assembly/>`), AsInvoker)
	assert.ErrorIs(t, err, errdefs.ErrTokenNotFound)

	_, err = SetExecutionLevel([]byte(`level="superuser"`), AsInvoker)
	assert.ErrorIs(t, err, errdefs.ErrTokenNotFound)

	_, err = CurrentLevel(nil)
	assert.ErrorIs(t, err, errdefs.ErrTokenNotFound)
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("highestAvailable")
	require.NoError(t, err)
	assert.Equal(t, HighestAvailable, l)

	_, err = ParseLevel("HighestAvailable")
	assert.ErrorIs(t, err, errdefs.ErrUnknownExecutionLevel)
}

func TestNew(t *testing.T) {
	for _, level := range []Level{HighestAvailable, RequireAdministrator} {
		text, err := New(level)
		require.NoError(t, err)
		got, err := CurrentLevel(text)
		require.NoError(t, err, "%s", text)
		assert.Equal(t, level, got)
	}

	text, err := New(AsInvoker)
	require.NoError(t, err)
	assert.Contains(t, string(text), "<assembly")
	if got, err := CurrentLevel(text); err == nil {
		assert.Equal(t, AsInvoker, got)
	}

	_, err = New("nobody")
	assert.ErrorIs(t, err, errdefs.ErrUnknownExecutionLevel)
}
