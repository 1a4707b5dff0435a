// Package manifest patches the requested execution level of an application manifest.
package manifest

import (
	"bytes"
	"encoding/binary"
	"regexp"
	"unicode/utf16"

	"github.com/maja42/exeup/errdefs"
	"github.com/tc-hib/winres"
)

// Level is a requested execution level.
type Level string

const (
	AsInvoker            Level = "asInvoker"
	HighestAvailable     Level = "highestAvailable"
	RequireAdministrator Level = "requireAdministrator"
)

// Default is used when no level is configured.
const Default = AsInvoker

var levelToken = regexp.MustCompile(`level\s*=\s*(["'])(asInvoker|highestAvailable|requireAdministrator)(["'])`)

// ParseLevel validates a level name.
func ParseLevel(s string) (Level, error) {
	switch l := Level(s); l {
	case AsInvoker, HighestAvailable, RequireAdministrator:
		return l, nil
	}
	return "", errdefs.New(errdefs.ErrUnknownExecutionLevel, "unknown execution level %q", s)
}

type encoding int

const (
	utf8Text encoding = iota
	utf16LE
	utf16BE
)

// detect returns the text encoding and the length of the byte order mark.
func detect(text []byte) (encoding, int) {
	switch {
	case bytes.HasPrefix(text, []byte{0xFF, 0xFE}):
		return utf16LE, 2
	case bytes.HasPrefix(text, []byte{0xFE, 0xFF}):
		return utf16BE, 2
	case len(text) >= 2 && text[0] != 0 && text[1] == 0:
		return utf16LE, 0
	case len(text) >= 2 && text[0] == 0 && text[1] != 0:
		return utf16BE, 0
	}
	return utf8Text, 0
}

func (e encoding) order() binary.ByteOrder {
	if e == utf16BE {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// units returns the UTF-16 code units of the text and a byte string with one byte per unit,
// non-ASCII units being replaced by 0xFF, for searching.
func units(body []byte, order binary.ByteOrder) ([]uint16, []byte) {
	u := make([]uint16, len(body)/2)
	shadow := make([]byte, len(u))
	for i := range u {
		u[i] = order.Uint16(body[2*i:])
		if u[i] < 0x80 {
			shadow[i] = byte(u[i])
		} else {
			shadow[i] = 0xFF
		}
	}
	return u, shadow
}

// find returns the text to search and, for UTF-16 text, its decoded code units.
func find(text []byte) (enc encoding, bom int, search []byte, u []uint16, loc []int) {
	enc, bom = detect(text)
	search = text
	if enc != utf8Text {
		u, search = units(text[bom:], enc.order())
	}
	return enc, bom, search, u, levelToken.FindSubmatchIndex(search)
}

// CurrentLevel returns the execution level requested by the manifest.
func CurrentLevel(text []byte) (Level, error) {
	_, _, search, _, loc := find(text)
	if loc == nil {
		return "", errdefs.New(errdefs.ErrTokenNotFound, "manifest contains no execution level")
	}
	return Level(search[loc[4]:loc[5]]), nil
}

// SetExecutionLevel replaces the first execution level token of the manifest.
// All other bytes are preserved, including encoding and byte order mark.
func SetExecutionLevel(text []byte, level Level) ([]byte, error) {
	if _, err := ParseLevel(string(level)); err != nil {
		return nil, err
	}
	enc, bom, _, u, loc := find(text)
	if loc == nil {
		return nil, errdefs.New(errdefs.ErrTokenNotFound, "manifest contains no execution level")
	}
	start, end := loc[4], loc[5]

	if enc == utf8Text {
		out := make([]byte, 0, len(text)-(end-start)+len(level))
		out = append(out, text[:start]...)
		out = append(out, level...)
		return append(out, text[end:]...), nil
	}

	replaced := make([]uint16, 0, len(u)-(end-start)+len(level))
	replaced = append(replaced, u[:start]...)
	replaced = append(replaced, utf16.Encode([]rune(string(level)))...)
	replaced = append(replaced, u[end:]...)

	order := enc.order()
	out := make([]byte, bom+2*len(replaced), bom+2*len(replaced)+1)
	copy(out, text[:bom])
	for i, c := range replaced {
		order.PutUint16(out[bom+2*i:], c)
	}
	if (len(text)-bom)%2 == 1 {
		out = append(out, text[len(text)-1])
	}
	return out, nil
}

// New returns a default application manifest requesting the given level.
// For AsInvoker the requestedExecutionLevel element may be omitted, which is equivalent.
func New(level Level) ([]byte, error) {
	var el winres.ExecutionLevel
	switch level {
	case AsInvoker:
		el = winres.AsInvoker
	case HighestAvailable:
		el = winres.HighestAvailable
	case RequireAdministrator:
		el = winres.RequireAdministrator
	default:
		return nil, errdefs.New(errdefs.ErrUnknownExecutionLevel, "unknown execution level %q", level)
	}

	rs := winres.ResourceSet{}
	rs.SetManifest(winres.AppManifest{ExecutionLevel: el})
	text := rs.Get(winres.RT_MANIFEST, winres.ID(1), winres.LCIDDefault)

	if cur, err := CurrentLevel(text); err == nil && cur != level {
		return SetExecutionLevel(text, level)
	}
	return text, nil
}
