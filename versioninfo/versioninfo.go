// Package versioninfo decodes, edits and encodes VS_VERSIONINFO resources.
package versioninfo

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lunixbochs/struc"
	"github.com/maja42/exeup/errdefs"
	"gitlab.com/tozd/go/errors"
)

const (
	rootKey           = "VS_VERSION_INFO"
	stringFileInfoKey = "StringFileInfo"
	varFileInfoKey    = "VarFileInfo"
	translationKey    = "Translation"

	fixedSignature = 0xFEEF04BD
	fixedSize      = 52
)

// Well-known string keys.
const (
	KeyFileVersion      = "FileVersion"
	KeyProductVersion   = "ProductVersion"
	KeyOriginalFilename = "OriginalFilename"
	KeyInternalName     = "InternalName"
	KeyProductName      = "ProductName"
	KeyFileDescription  = "FileDescription"
	KeyLegalCopyright   = "LegalCopyright"
	KeyCompanyName      = "CompanyName"
)

// Language scopes a string table.
type Language struct {
	ID       uint16 // LCID, e.g. 1033 for en-US
	CodePage uint16 // e.g. 1200 for UTF-16
}

// DefaultLanguage is en-US with UTF-16 strings.
var DefaultLanguage = Language{ID: 1033, CodePage: 1200}

func (l Language) tableKey() string {
	return fmt.Sprintf("%04x%04x", l.ID, l.CodePage)
}

func parseTableKey(key string) (Language, bool) {
	if len(key) != 8 {
		return Language{}, false
	}
	v, err := strconv.ParseUint(key, 16, 32)
	if err != nil {
		return Language{}, false
	}
	return Language{ID: uint16(v >> 16), CodePage: uint16(v)}, true
}

// FixedFileInfo is the VS_FIXEDFILEINFO structure.
type FixedFileInfo struct {
	Signature        uint32 `struc:"uint32,little"`
	StrucVersion     uint32 `struc:"uint32,little"`
	FileVersionMS    uint32 `struc:"uint32,little"`
	FileVersionLS    uint32 `struc:"uint32,little"`
	ProductVersionMS uint32 `struc:"uint32,little"`
	ProductVersionLS uint32 `struc:"uint32,little"`
	FileFlagsMask    uint32 `struc:"uint32,little"`
	FileFlags        uint32 `struc:"uint32,little"`
	FileOS           uint32 `struc:"uint32,little"`
	FileType         uint32 `struc:"uint32,little"`
	FileSubtype      uint32 `struc:"uint32,little"`
	FileDateMS       uint32 `struc:"uint32,little"`
	FileDateLS       uint32 `struc:"uint32,little"`
}

// Info is a decoded version resource.
// Blocks it does not know about are kept and re-encoded unchanged.
type Info struct {
	Fixed FixedFileInfo
	root  *node
}

// Decode decodes a VS_VERSIONINFO block.
func Decode(b []byte) (*Info, error) {
	root, _, err := decodeNode(b, 0)
	if err != nil {
		return nil, err
	}
	if root.key != rootKey {
		return nil, invalid("unexpected root key %q", root.key)
	}
	if len(root.value) < fixedSize {
		return nil, invalid("fixed file info has %d bytes", len(root.value))
	}
	info := &Info{root: root}
	if err := struc.Unpack(bytes.NewReader(root.value[:fixedSize]), &info.Fixed); err != nil {
		return nil, invalid("unreadable fixed file info: %s", err)
	}
	if info.Fixed.Signature != fixedSignature {
		return nil, invalid("bad fixed file info signature 0x%08x", info.Fixed.Signature)
	}
	return info, nil
}

// Encode encodes the version block, recomputing all lengths.
func (vi *Info) Encode() ([]byte, error) {
	var fixed bytes.Buffer
	if err := struc.Pack(&fixed, &vi.Fixed); err != nil {
		return nil, errors.Errorf("packing fixed file info: %w", err)
	}
	value := fixed.Bytes()
	if len(vi.root.value) > fixedSize {
		value = append(value, vi.root.value[fixedSize:]...)
	}
	vi.root.value = value
	return vi.root.encode(nil)
}

func quad(ms, ls uint32) [4]uint16 {
	return [4]uint16{uint16(ms >> 16), uint16(ms), uint16(ls >> 16), uint16(ls)}
}

// FileVersion returns the numeric file version.
func (vi *Info) FileVersion() [4]uint16 {
	return quad(vi.Fixed.FileVersionMS, vi.Fixed.FileVersionLS)
}

// ProductVersion returns the numeric product version.
func (vi *Info) ProductVersion() [4]uint16 {
	return quad(vi.Fixed.ProductVersionMS, vi.Fixed.ProductVersionLS)
}

// SetVersionNumbers sets file and product version. Missing parts are 0, extra parts are ignored.
// Existing FileVersion and ProductVersion strings are updated to match.
func (vi *Info) SetVersionNumbers(parts ...uint16) {
	var v [4]uint16
	copy(v[:], parts)
	ms := uint32(v[0])<<16 | uint32(v[1])
	ls := uint32(v[2])<<16 | uint32(v[3])
	vi.Fixed.FileVersionMS, vi.Fixed.FileVersionLS = ms, ls
	vi.Fixed.ProductVersionMS, vi.Fixed.ProductVersionLS = ms, ls

	text := fmt.Sprintf("%d.%d.%d.%d", v[0], v[1], v[2], v[3])
	for _, table := range vi.tables() {
		for _, key := range []string{KeyFileVersion, KeyProductVersion} {
			if s := table.child(key); s != nil {
				s.typ = typeText
				s.value = textValue(text)
			}
		}
	}
}

func (vi *Info) tables() []*node {
	sfi := vi.root.child(stringFileInfoKey)
	if sfi == nil {
		return nil
	}
	return sfi.children
}

func (vi *Info) table(lang Language) *node {
	for _, t := range vi.tables() {
		if l, ok := parseTableKey(t.key); ok && l == lang {
			return t
		}
	}
	return nil
}

// Languages returns the languages that have a string table.
func (vi *Info) Languages() []Language {
	var langs []Language
	for _, t := range vi.tables() {
		if l, ok := parseTableKey(t.key); ok {
			langs = append(langs, l)
		}
	}
	return langs
}

// String returns the value of a string key.
func (vi *Info) String(lang Language, key string) (string, bool) {
	t := vi.table(lang)
	if t == nil {
		return "", false
	}
	s := t.child(key)
	if s == nil {
		return "", false
	}
	return decodeText(s.value), true
}

// Keys returns the string keys of a language in stored order.
func (vi *Info) Keys(lang Language) []string {
	t := vi.table(lang)
	if t == nil {
		return nil
	}
	keys := make([]string, len(t.children))
	for i, c := range t.children {
		keys[i] = c.key
	}
	return keys
}

// RemoveString deletes a string key. Missing keys are ignored.
func (vi *Info) RemoveString(lang Language, key string) {
	if t := vi.table(lang); t != nil {
		t.removeChild(key)
	}
}

// SetStrings inserts or updates string values.
// Existing keys keep their position, new keys are appended in sorted order.
// The string table and its translation are created if the language is new.
func (vi *Info) SetStrings(lang Language, values map[string]string) {
	if len(values) == 0 {
		return
	}
	t := vi.ensureTable(lang)

	var added []string
	for key, value := range values {
		if s := t.child(key); s != nil {
			s.typ = typeText
			s.value = textValue(value)
			continue
		}
		added = append(added, key)
	}
	sort.Strings(added)
	for _, key := range added {
		t.children = append(t.children, &node{key: key, typ: typeText, value: textValue(values[key])})
	}
}

// SetString inserts or updates a single string value.
func (vi *Info) SetString(lang Language, key, value string) {
	vi.SetStrings(lang, map[string]string{key: value})
}

func (vi *Info) ensureTable(lang Language) *node {
	if t := vi.table(lang); t != nil {
		return t
	}
	sfi := vi.root.child(stringFileInfoKey)
	if sfi == nil {
		sfi = &node{key: stringFileInfoKey, typ: typeText}
		// StringFileInfo precedes VarFileInfo
		vi.root.children = append([]*node{sfi}, vi.root.children...)
	}
	t := &node{key: lang.tableKey(), typ: typeText}
	sfi.children = append(sfi.children, t)
	vi.addTranslation(lang)
	return t
}

// Translations returns the language/code page pairs of the VarFileInfo block.
func (vi *Info) Translations() []Language {
	tr := vi.translation()
	if tr == nil {
		return nil
	}
	var langs []Language
	for i := 0; i+4 <= len(tr.value); i += 4 {
		langs = append(langs, Language{
			ID:       binary.LittleEndian.Uint16(tr.value[i:]),
			CodePage: binary.LittleEndian.Uint16(tr.value[i+2:]),
		})
	}
	return langs
}

func (vi *Info) translation() *node {
	vfi := vi.root.child(varFileInfoKey)
	if vfi == nil {
		return nil
	}
	return vfi.child(translationKey)
}

func (vi *Info) addTranslation(lang Language) {
	for _, l := range vi.Translations() {
		if l == lang {
			return
		}
	}
	tr := vi.translation()
	if tr == nil {
		vfi := vi.root.child(varFileInfoKey)
		if vfi == nil {
			vfi = &node{key: varFileInfoKey, typ: typeText}
			vi.root.children = append(vi.root.children, vfi)
		}
		tr = &node{key: translationKey, typ: typeBinary}
		vfi.children = append(vfi.children, tr)
	}
	var pair [4]byte
	binary.LittleEndian.PutUint16(pair[0:], lang.ID)
	binary.LittleEndian.PutUint16(pair[2:], lang.CodePage)
	tr.value = append(tr.value, pair[:]...)
}

// ParseVersion parses a "major.minor.patch" string.
// Non-numeric components become 0, components after the third are ignored and the build number is 0.
func ParseVersion(s string) ([4]uint16, error) {
	var v [4]uint16
	for i, part := range strings.Split(s, ".") {
		if i == 3 {
			break
		}
		n, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			continue
		}
		if err != nil || n > 0xFFFF {
			return v, errdefs.New(errdefs.ErrInvalidVersionBlock, "version component %d of %q exceeds 65535", i+1, s)
		}
		v[i] = uint16(n)
	}
	return v, nil
}
