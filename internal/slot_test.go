package internal

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"testing"

	"github.com/maja42/exeup/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitSlotMarker(t *testing.T) {
	assert.Equal(t, MarkerSize, len(slotPart)*slotPartCount)

	assert.Len(t, slotMarker, len(slotPart)*slotPartCount)
	for i := 0; i < slotPartCount; i++ {
		b := slotMarker[i*len(slotPart):]
		assert.Equal(t, slotPart, b[:len(slotPart)])
	}
}

func TestIsSlotMarker(t *testing.T) {
	assert.True(t, IsSlotMarker(slotMarker[:]))
	assert.False(t, IsSlotMarker(slotMarker[1:]))

	more := append(SlotMarker(), 0)
	assert.False(t, IsSlotMarker(more))
}

func TestWriteSlot(t *testing.T) {
	buf := new(bytes.Buffer)
	err := WriteSlot(buf, []byte("abc"))
	require.NoError(t, err)

	data := buf.Bytes()
	assert.Len(t, data, MarkerSize+LengthSize+3)
	assert.True(t, IsSlotMarker(data[:MarkerSize]))

	l, ok := SlotLength(data[MarkerSize:])
	assert.True(t, ok)
	assert.Equal(t, uint32(3), l)
	assert.Equal(t, "abc", string(data[MarkerSize+LengthSize:]))
	assert.Equal(t, data[MarkerSize:], EncodeSlotBody([]byte("abc")))
}

type errWriter struct{}

func (errWriter) Write([]byte) (n int, err error) {
	return 0, errors.New("simulated error")
}

func TestWriteSlot_writeError(t *testing.T) {
	err := WriteSlot(errWriter{}, nil)
	assert.EqualError(t, err, "simulated error")
}

func TestSlotLength_short(t *testing.T) {
	_, ok := SlotLength([]byte{1, 2})
	assert.False(t, ok)
}

func TestLocate(t *testing.T) {
	marker := []byte("MARK")

	off, err := Locate([]byte("xxMARKyy"), marker)
	assert.NoError(t, err)
	assert.Equal(t, 6, off)

	off, err = Locate([]byte("MARK"), marker)
	assert.NoError(t, err)
	assert.Equal(t, 4, off)

	_, err = Locate([]byte("xxMARyy"), marker)
	assert.ErrorIs(t, err, errdefs.ErrMarkerNotFound)
	assert.Equal(t, errdefs.NotFound, errdefs.KindOf(err))

	_, err = Locate([]byte("MARK--MARK"), marker)
	assert.ErrorIs(t, err, errdefs.ErrAmbiguousMarker)
	assert.Equal(t, errdefs.Format, errdefs.KindOf(err))

	_, err = Locate([]byte("abc"), nil)
	assert.ErrorIs(t, err, errdefs.ErrMarkerNotFound)
}

func TestLocate_overlapping(t *testing.T) {
	_, err := Locate([]byte("aaa"), []byte("aa"))
	assert.ErrorIs(t, err, errdefs.ErrAmbiguousMarker)
	assert.Equal(t, 2, Count([]byte("aaa"), []byte("aa")))
	assert.Equal(t, 0, Count([]byte("aaa"), nil))
}

func TestSeekSlot(t *testing.T) {
	// Create buffer:
	//	- random bytes
	//	- slot marker
	//  - "text 1"
	//	- slot marker
	//  - "text 2"
	randomBytes := 50
	random := make([]byte, randomBytes)
	_, err := rand.Read(random)
	assert.NoError(t, err)
	random = bytes.ReplaceAll(random, []byte{'#'}, []byte{'-'})

	buf := bytes.NewBuffer(random)
	buf.Write(slotMarker)
	buf.WriteString("text 1")
	buf.Write(slotMarker)
	buf.WriteString("text 2")

	r := bytes.NewReader(buf.Bytes())

	offset := SeekSlot(r)
	assert.Equal(t, int64(randomBytes+len(slotMarker)), offset)

	txt := make([]byte, 6)
	_, err = r.Read(txt)
	assert.NoError(t, err)
	assert.Equal(t, txt, []byte("text 1"))

	offset = SeekSlot(r)
	assert.Equal(t, int64(len(slotMarker)), offset)

	content, err := io.ReadAll(r)
	assert.NoError(t, err)
	assert.Equal(t, content, []byte("text 2"))

	offset = SeekSlot(r)
	assert.Equal(t, int64(-1), offset)
}

func TestSeekPattern_partialMatch(t *testing.T) {
	r := bytes.NewReader([]byte("aaab-rest"))
	offset := SeekPattern(r, []byte("aab"))
	assert.Equal(t, int64(4), offset)

	rest, err := io.ReadAll(r)
	assert.NoError(t, err)
	assert.Equal(t, "-rest", string(rest))
}

func TestSeekSlot_noMarker(t *testing.T) {
	r := bytes.NewReader(bytes.Repeat([]byte{'-'}, 50))
	assert.Equal(t, int64(-1), SeekSlot(r))
}

func TestDefaultFuseSentinel(t *testing.T) {
	assert.Equal(t, "EXEUP_FUSE_"+FuseHash, DefaultFuseSentinel())
}
