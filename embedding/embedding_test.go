package embedding

import (
	"bytes"
	"strings"
	"testing"

	"github.com/maja42/exeup/errdefs"
	"github.com/maja42/exeup/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// host returns a fake executable: code containing the fuse, followed by an empty slot.
func host(t *testing.T, sentinel string) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("MZ some code ")
	buf.WriteString(sentinel + ":0")
	buf.WriteString(" more code\x00\x00")
	require.NoError(t, internal.WriteSlot(&buf, nil))
	return buf.Bytes()
}

func TestInject(t *testing.T) {
	buf := host(t, internal.DefaultFuseSentinel())
	orig := append([]byte(nil), buf...)

	var inj Injector
	img, err := inj.Inject(buf, Payload{Data: []byte("console.log('hi')"), Enabled: true})
	require.NoError(t, err)

	assert.Equal(t, orig, buf, "input must not be modified")
	assert.Len(t, img.Buf, len(buf)+17)
	assert.Equal(t, []byte("console.log('hi')"), img.Payload())
	assert.Equal(t, len(buf), img.PayloadOffset)
	assert.Equal(t, 17, img.PayloadSize)

	assert.True(t, img.Fuse.Armed)
	assert.Equal(t, byte('1'), img.Buf[img.Fuse.Offset])
	assert.Equal(t, internal.DefaultFuseSentinel(), img.Fuse.Sentinel)

	fuse, err := ReadFuse(img.Buf, internal.DefaultFuseSentinel())
	require.NoError(t, err)
	assert.Equal(t, img.Fuse, fuse)

	l, ok := internal.SlotLength(img.Buf[img.PayloadOffset-internal.LengthSize:])
	require.True(t, ok)
	assert.Equal(t, uint32(17), l)
}

func TestInject_disabledKeepsFuse(t *testing.T) {
	buf := host(t, internal.DefaultFuseSentinel())
	var inj Injector
	img, err := inj.Inject(buf, Payload{Data: []byte("abc")})
	require.NoError(t, err)
	assert.False(t, img.Fuse.Armed)
	assert.True(t, img.Fuse.Found())
	assert.Equal(t, byte('0'), img.Buf[img.Fuse.Offset])

	// a disarmed image can be injected again; the old payload is replaced
	img2, err := inj.Inject(img.Buf, Payload{Data: []byte("longer payload"), Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, []byte("longer payload"), img2.Payload())
	assert.Len(t, img2.Buf, len(buf)+14)
	assert.Equal(t, 1, internal.Count(img2.Buf, internal.SlotMarker()))

	img3, err := inj.Inject(img.Buf, Payload{})
	require.NoError(t, err)
	assert.Equal(t, buf, img3.Buf)
}

func TestInject_alreadyArmed(t *testing.T) {
	var inj Injector
	img, err := inj.Inject(host(t, internal.DefaultFuseSentinel()), Payload{Data: []byte("x"), Enabled: true})
	require.NoError(t, err)

	_, err = inj.Inject(img.Buf, Payload{Data: []byte("y"), Enabled: true})
	assert.ErrorIs(t, err, errdefs.ErrAlreadyInjected)
	assert.Equal(t, errdefs.Format, errdefs.KindOf(err))
}

func TestInject_customMarkers(t *testing.T) {
	sentinel := "NODE_SEA_FUSE_fce680ab2cc467b6e072b8b5df1996b2"
	marker := []byte("NODE_SEA_BLOB")
	buf := []byte("...." + sentinel + ":0....")
	buf = append(buf, marker...)
	buf = append(buf, internal.EncodeSlotBody([]byte("old"))...)
	buf = append(buf, "tail"...)

	inj := Injector{SlotMarker: marker, FuseSentinel: sentinel}
	img, err := inj.Inject(buf, Payload{Data: []byte("new!"), Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, []byte("new!"), img.Payload())
	assert.True(t, bytes.HasSuffix(img.Buf, []byte("new!tail")))
	assert.Contains(t, string(img.Buf), sentinel+":1")
}

func TestInject_slotErrors(t *testing.T) {
	sentinel := internal.DefaultFuseSentinel()
	var inj Injector

	t.Run("no slot", func(t *testing.T) {
		_, err := inj.Inject([]byte("MZ "+sentinel+":0"), Payload{Data: []byte("x")})
		assert.ErrorIs(t, err, errdefs.ErrMarkerNotFound)
	})
	t.Run("two slots", func(t *testing.T) {
		buf := host(t, sentinel)
		buf = append(buf, internal.SlotMarker()...)
		buf = append(buf, 0, 0, 0, 0)
		_, err := inj.Inject(buf, Payload{Data: []byte("x")})
		assert.ErrorIs(t, err, errdefs.ErrAmbiguousMarker)
	})
	t.Run("slot length exceeds buffer", func(t *testing.T) {
		buf := host(t, sentinel)
		buf[len(buf)-4] = 1
		_, err := inj.Inject(buf, Payload{Data: []byte("x")})
		assert.ErrorIs(t, err, errdefs.ErrMalformedHeader)
	})
	t.Run("truncated slot length", func(t *testing.T) {
		buf := host(t, sentinel)
		_, err := inj.Inject(buf[:len(buf)-2], Payload{Data: []byte("x")})
		assert.ErrorIs(t, err, errdefs.ErrMalformedHeader)
	})
	t.Run("slot inside sections", func(t *testing.T) {
		buf := host(t, sentinel)
		inj := Injector{MinSlotOffset: len(buf)}
		_, err := inj.Inject(buf, Payload{Data: []byte("x")})
		assert.ErrorIs(t, err, errdefs.ErrRvaOutOfRange)
	})
}

func TestInject_fuseErrors(t *testing.T) {
	sentinel := internal.DefaultFuseSentinel()
	var inj Injector

	t.Run("missing fuse", func(t *testing.T) {
		buf := host(t, "SOMETHING_ELSE")
		_, err := inj.Inject(buf, Payload{Data: []byte("x"), Enabled: true})
		assert.ErrorIs(t, err, errdefs.ErrMarkerNotFound)

		img, err := inj.Inject(buf, Payload{Data: []byte("x")})
		require.NoError(t, err)
		assert.False(t, img.Fuse.Found())
	})
	t.Run("invalid toggle", func(t *testing.T) {
		buf := host(t, sentinel)
		idx := bytes.Index(buf, []byte(sentinel)) + len(sentinel) + 1
		buf[idx] = 'x'
		_, err := inj.Inject(buf, Payload{Data: []byte("x")})
		assert.ErrorIs(t, err, errdefs.ErrMalformedHeader)
	})
	t.Run("payload contains fuse", func(t *testing.T) {
		_, err := inj.Inject(host(t, sentinel), Payload{Data: []byte(sentinel + ":0"), Enabled: true})
		assert.ErrorIs(t, err, errdefs.ErrAmbiguousMarker)
	})
}

func TestArmFuse(t *testing.T) {
	sentinel := "MY_FUSE"
	buf := []byte("abc MY_FUSE:0 def")
	fuse, err := ArmFuse(buf, sentinel)
	require.NoError(t, err)
	assert.Equal(t, Fuse{Sentinel: sentinel, Offset: 12, Armed: true}, fuse)
	assert.Equal(t, "abc MY_FUSE:1 def", string(buf))

	_, err = ArmFuse(buf, sentinel)
	assert.ErrorIs(t, err, errdefs.ErrAlreadyInjected)

	_, err = ArmFuse([]byte("abc"), sentinel)
	assert.ErrorIs(t, err, errdefs.ErrMarkerNotFound)

	_, err = ArmFuse([]byte("MY_FUSE:0 MY_FUSE:0"), sentinel)
	assert.ErrorIs(t, err, errdefs.ErrAmbiguousMarker)
}

func TestPrepareHost(t *testing.T) {
	sentinel := internal.DefaultFuseSentinel()
	exe := []byte("MZ code " + sentinel + ":0 more")

	var out bytes.Buffer
	require.NoError(t, PrepareHost(&out, bytes.NewReader(exe), "", nil))

	want := append(append([]byte(nil), exe...), internal.SlotMarker()...)
	want = append(want, 0, 0, 0, 0)
	assert.Equal(t, want, out.Bytes())

	var inj Injector
	img, err := inj.Inject(out.Bytes(), Payload{Data: []byte("payload"), Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, "payload", string(img.Payload()))
}

func TestPrepareHost_rewinds(t *testing.T) {
	sentinel := internal.DefaultFuseSentinel()
	r := strings.NewReader("MZ " + sentinel + ":0")
	_, _ = r.Seek(5, 0)

	out, err := PrepareHostBytes([]byte("MZ "+sentinel+":0"), "", nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, PrepareHost(&buf, r, sentinel, nil))
	assert.Equal(t, out, buf.Bytes())
}

func TestPrepareHost_errors(t *testing.T) {
	_, err := PrepareHostBytes([]byte("MZ plain executable"), "", nil)
	assert.ErrorIs(t, err, errdefs.ErrMarkerNotFound)

	prepared, err := PrepareHostBytes([]byte("MZ "+internal.DefaultFuseSentinel()+":0"), "", nil)
	require.NoError(t, err)
	_, err = PrepareHostBytes(prepared, "", nil)
	assert.ErrorIs(t, err, errdefs.ErrAlreadyInjected)
}
