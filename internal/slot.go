package internal

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"github.com/maja42/exeup/errdefs"
)

// slotPart is repeated slotPartCount times to form the marker preceding the payload slot.
// The marker is assembled at runtime, so executables importing this package never contain it.
var slotPart = []byte{'#', 'x', 15, 1, 12, 1, 'u', '#'}

// slotPartCount defines how often slotPart is repeated.
// This ensures that the pattern does not appear by accident within the executable.
const slotPartCount = 4

// LengthSize is the size of the little-endian payload length following the slot marker.
const LengthSize = 4

// slotMarker is "slotPart" repeated "slotPartCount" times
var slotMarker []byte

// MarkerSize will contain the size of the complete slot marker
var MarkerSize int

func init() {
	partLen := len(slotPart)
	MarkerSize = partLen * slotPartCount

	slotMarker = make([]byte, MarkerSize)
	for i := 0; i < slotPartCount; i++ {
		copy(slotMarker[i*partLen:], slotPart)
	}
}

// SlotMarker returns a copy of the slot marker.
func SlotMarker() []byte {
	return append([]byte(nil), slotMarker...)
}

// IsSlotMarker checks if the given byte slice equals the slot marker.
func IsSlotMarker(data []byte) bool {
	return bytes.Equal(slotMarker, data)
}

// WriteSlot writes the slot marker, the payload length and the payload itself.
func WriteSlot(w io.Writer, payload []byte) error {
	if _, err := w.Write(slotMarker); err != nil {
		return err
	}
	var l [LengthSize]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(payload)))
	if _, err := w.Write(l[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// EncodeSlotBody returns the length-prefixed payload that follows a slot marker.
func EncodeSlotBody(payload []byte) []byte {
	body := make([]byte, LengthSize+len(payload))
	binary.LittleEndian.PutUint32(body, uint32(len(payload)))
	copy(body[LengthSize:], payload)
	return body
}

// SlotLength decodes the payload length stored at the start of a slot body.
// Returns false if the body is too short to contain a length.
func SlotLength(body []byte) (uint32, bool) {
	if len(body) < LengthSize {
		return 0, false
	}
	return binary.LittleEndian.Uint32(body), true
}

// Locate returns the offset of the first byte after the marker.
// The marker must occur exactly once within buf.
func Locate(buf, marker []byte) (int, error) {
	if len(marker) == 0 {
		return 0, errdefs.New(errdefs.ErrMarkerNotFound, "empty marker")
	}
	first := bytes.Index(buf, marker)
	if first < 0 {
		return 0, errdefs.New(errdefs.ErrMarkerNotFound, "marker %q not found", printable(marker))
	}
	if next := bytes.Index(buf[first+1:], marker); next >= 0 {
		return 0, errdefs.New(errdefs.ErrAmbiguousMarker, "marker %q found at offsets %d and %d",
			printable(marker), first, first+1+next)
	}
	return first + len(marker), nil
}

// Count returns the number of (possibly overlapping) occurrences of marker within buf.
func Count(buf, marker []byte) int {
	if len(marker) == 0 {
		return 0
	}
	n := 0
	for i := 0; ; {
		idx := bytes.Index(buf[i:], marker)
		if idx < 0 {
			return n
		}
		n++
		i += idx + 1
	}
}

func printable(marker []byte) string {
	if len(marker) > 48 {
		return string(marker[:45]) + "..."
	}
	return string(marker)
}

// SeekSlot reads from the reader until the end of the slot marker.
// Returns the number of bytes (offset) that were read (including the marker itself).
// Returns -1 if the marker was not found.
func SeekSlot(in io.ReadSeeker) int64 {
	return SeekPattern(in, slotMarker)
}

// SeekPattern reads from the reader until the search pattern was found.
// The next byte coming from the reader will be the first byte after the pattern ended.
// Returns the number of bytes (offset) that were read (including the pattern itself).
// Returns -1 if the pattern was not found.
func SeekPattern(in io.ReadSeeker, pattern []byte) int64 {
	if len(pattern) == 0 {
		return 0
	}
	rPos, _ := in.Seek(0, io.SeekCurrent)

	fail := prefixTable(pattern)
	var offset int64
	r := bufio.NewReader(in)

	nIdx := 0 // #bytes we already found
	for nIdx < len(pattern) {
		b, err := r.ReadByte()
		if err != nil { // not found
			return -1
		}
		for nIdx > 0 && pattern[nIdx] != b {
			nIdx = fail[nIdx-1]
		}
		if pattern[nIdx] == b {
			nIdx++
		}
		offset++
	}

	// seek the reader after the pattern (needed, because reading was done via the buffer)
	_, _ = in.Seek(rPos+offset, io.SeekStart)
	return offset
}

// prefixTable returns, for every prefix of pattern, the length of its longest proper border.
func prefixTable(pattern []byte) []int {
	fail := make([]int, len(pattern))
	k := 0
	for i := 1; i < len(pattern); i++ {
		for k > 0 && pattern[i] != pattern[k] {
			k = fail[k-1]
		}
		if pattern[i] == pattern[k] {
			k++
		}
		fail[i] = k
	}
	return fail
}
