package versioninfo

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/maja42/exeup/errdefs"
)

const (
	typeBinary uint16 = 0
	typeText   uint16 = 1

	nodeHeaderSize = 6
)

// node is a generic version block: wLength, wValueLength, wType, szKey, Value, Children.
type node struct {
	key      string
	typ      uint16
	value    []byte
	children []*node
}

func invalid(format string, args ...interface{}) error {
	return errdefs.New(errdefs.ErrInvalidVersionBlock, format, args...)
}

func align4(v int) int {
	return (v + 3) &^ 3
}

// decodeNode decodes the block starting at off and returns it with its end offset.
func decodeNode(b []byte, off int) (*node, int, error) {
	if off+nodeHeaderSize > len(b) {
		return nil, 0, invalid("block header at offset %d exceeds %d bytes", off, len(b))
	}
	length := int(binary.LittleEndian.Uint16(b[off:]))
	valueLength := int(binary.LittleEndian.Uint16(b[off+2:]))
	n := &node{typ: binary.LittleEndian.Uint16(b[off+4:])}
	end := off + length
	if length < nodeHeaderSize || end > len(b) {
		return nil, 0, invalid("block at offset %d declares %d bytes, %d available", off, length, len(b)-off)
	}

	var units []uint16
	p := off + nodeHeaderSize
	for {
		if p+2 > end {
			return nil, 0, invalid("unterminated key at offset %d", off)
		}
		u := binary.LittleEndian.Uint16(b[p:])
		p += 2
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	n.key = string(utf16.Decode(units))

	p = align4(p)
	if p > end {
		p = end
	}
	vlen := valueLength
	if n.typ == typeText {
		vlen *= 2
	}
	if p+vlen > end {
		if n.typ != typeText {
			return nil, 0, invalid("value of %q exceeds its block", n.key)
		}
		vlen = end - p // lenient: some writers count bytes instead of characters
	}
	n.value = append([]byte(nil), b[p:p+vlen]...)

	for c := align4(p + vlen); c+nodeHeaderSize <= end; {
		child, cend, err := decodeNode(b[:end], c)
		if err != nil {
			return nil, 0, err
		}
		n.children = append(n.children, child)
		c = align4(cend)
	}
	return n, end, nil
}

// encode appends the block to out; out must end at a 4 byte boundary.
// Lengths are 16 bit fields, blocks exceeding them cannot be encoded.
func (n *node) encode(out []byte) ([]byte, error) {
	start := len(out)
	out = append(out, make([]byte, nodeHeaderSize)...)
	out = appendUTF16Z(out, n.key)
	out = pad4(out)
	out = append(out, n.value...)
	var err error
	for _, c := range n.children {
		out = pad4(out)
		if out, err = c.encode(out); err != nil {
			return nil, err
		}
	}

	length := len(out) - start
	valueLength := len(n.value)
	if n.typ == typeText {
		valueLength /= 2
	}
	if length > 0xFFFF {
		return nil, invalid("block %q is %d bytes long, exceeding 65535", n.key, length)
	}
	if valueLength > 0xFFFF {
		return nil, invalid("value of block %q is %d units long, exceeding 65535", n.key, valueLength)
	}
	binary.LittleEndian.PutUint16(out[start:], uint16(length))
	binary.LittleEndian.PutUint16(out[start+2:], uint16(valueLength))
	binary.LittleEndian.PutUint16(out[start+4:], n.typ)
	return out, nil
}

func (n *node) child(key string) *node {
	for _, c := range n.children {
		if c.key == key {
			return c
		}
	}
	return nil
}

func (n *node) removeChild(key string) bool {
	for i, c := range n.children {
		if c.key == key {
			n.children = append(n.children[:i], n.children[i+1:]...)
			return true
		}
	}
	return false
}

func pad4(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

func appendUTF16Z(b []byte, s string) []byte {
	for _, u := range utf16.Encode([]rune(s)) {
		b = append(b, byte(u), byte(u>>8))
	}
	return append(b, 0, 0)
}

// textValue encodes s as a NUL-terminated UTF-16 value.
func textValue(s string) []byte {
	return appendUTF16Z(nil, s)
}

// decodeText decodes a UTF-16 value up to the first NUL.
func decodeText(v []byte) string {
	units := make([]uint16, 0, len(v)/2)
	for i := 0; i+1 < len(v); i += 2 {
		u := binary.LittleEndian.Uint16(v[i:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}
