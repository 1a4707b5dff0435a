// Package icon reads ICO files and maintains RT_GROUP_ICON / RT_ICON resource pairs.
package icon

import (
	"bytes"

	"github.com/lunixbochs/struc"
	"github.com/maja42/exeup/errdefs"
	"gitlab.com/tozd/go/errors"
)

const (
	groupHeaderSize = 6
	groupEntrySize  = 14
	typeIcon        = 1
)

type groupHeader struct {
	Reserved uint16 `struc:"uint16,little"`
	Type     uint16 `struc:"uint16,little"`
	Count    uint16 `struc:"uint16,little"`
}

// GroupEntry describes one image of an icon group (GRPICONDIRENTRY).
// Width and Height of 256 pixels are stored as 0.
type GroupEntry struct {
	Width      uint8  `struc:"uint8"`
	Height     uint8  `struc:"uint8"`
	ColorCount uint8  `struc:"uint8"`
	Reserved   uint8  `struc:"uint8"`
	Planes     uint16 `struc:"uint16,little"`
	BitCount   uint16 `struc:"uint16,little"`
	BytesInRes uint32 `struc:"uint32,little"`
	ID         uint16 `struc:"uint16,little"`
}

// Group is a decoded RT_GROUP_ICON resource.
type Group struct {
	Entries []GroupEntry
}

func invalid(format string, args ...interface{}) error {
	return errdefs.New(errdefs.ErrInvalidIcon, format, args...)
}

// DecodeGroup decodes an RT_GROUP_ICON resource.
func DecodeGroup(b []byte) (*Group, error) {
	if len(b) < groupHeaderSize {
		return nil, invalid("icon group has %d bytes", len(b))
	}
	r := bytes.NewReader(b)
	var hdr groupHeader
	if err := struc.Unpack(r, &hdr); err != nil {
		return nil, invalid("unreadable icon group header: %s", err)
	}
	if hdr.Reserved != 0 || hdr.Type != typeIcon {
		return nil, invalid("not an icon group (reserved %d, type %d)", hdr.Reserved, hdr.Type)
	}
	if len(b) < groupHeaderSize+groupEntrySize*int(hdr.Count) {
		return nil, invalid("icon group announces %d entries in %d bytes", hdr.Count, len(b))
	}
	g := &Group{Entries: make([]GroupEntry, hdr.Count)}
	for i := range g.Entries {
		if err := struc.Unpack(r, &g.Entries[i]); err != nil {
			return nil, invalid("unreadable icon group entry %d: %s", i, err)
		}
	}
	return g, nil
}

// Encode encodes the group. The entry count is taken from Entries.
func (g *Group) Encode() ([]byte, error) {
	var buf bytes.Buffer
	hdr := groupHeader{Type: typeIcon, Count: uint16(len(g.Entries))}
	if err := struc.Pack(&buf, &hdr); err != nil {
		return nil, errors.Errorf("packing icon group header: %w", err)
	}
	for i := range g.Entries {
		if err := struc.Pack(&buf, &g.Entries[i]); err != nil {
			return nil, errors.Errorf("packing icon group entry %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// IDs returns the RT_ICON IDs referenced by the group.
func (g *Group) IDs() []uint16 {
	ids := make([]uint16, len(g.Entries))
	for i, e := range g.Entries {
		ids[i] = e.ID
	}
	return ids
}

// dimension converts a pixel size into the one-byte group representation.
func dimension(px int) uint8 {
	if px >= 256 || px <= 0 {
		return 0
	}
	return uint8(px)
}

// pixels converts the one-byte group representation into a pixel size.
func pixels(d uint8) int {
	if d == 0 {
		return 256
	}
	return int(d)
}
