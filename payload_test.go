package exeup

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/maja42/exeup/embedding"
	"github.com/maja42/exeup/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeExe(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "host.exe")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func preparedHost(t *testing.T) []byte {
	t.Helper()
	exe := []byte("MZ\x00\x00 code " + internal.DefaultFuseSentinel() + ":0 more code")
	out, err := embedding.PrepareHostBytes(exe, "", nil)
	require.NoError(t, err)
	return out
}

func TestOpenExe(t *testing.T) {
	var inj embedding.Injector
	img, err := inj.Inject(preparedHost(t), embedding.Payload{Data: []byte("hello world"), Enabled: true})
	require.NoError(t, err)

	p, err := OpenExe(writeExe(t, img.Buf))
	require.NoError(t, err)
	defer p.Close()

	assert.True(t, p.Armed())
	assert.Equal(t, int64(11), p.Size())
	assert.Equal(t, int64(img.PayloadOffset), p.Offset())
	assert.Equal(t, []byte("hello world"), p.Bytes())

	r := p.Reader()
	assert.Equal(t, int64(11), r.Size())
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	part := make([]byte, 5)
	_, err = r.ReadAt(part, 6)
	require.NoError(t, err)
	assert.Equal(t, "world", string(part))
}

func TestOpenExe_disarmed(t *testing.T) {
	var inj embedding.Injector
	img, err := inj.Inject(preparedHost(t), embedding.Payload{Data: []byte("data")})
	require.NoError(t, err)

	p, err := OpenExe(writeExe(t, img.Buf))
	require.NoError(t, err)
	defer p.Close()
	assert.False(t, p.Armed())
	assert.Equal(t, []byte("data"), p.Bytes())
}

func TestOpenExe_noPayload(t *testing.T) {
	for name, content := range map[string][]byte{
		"prepared":   preparedHost(t),
		"plain":      []byte("MZ plain executable"),
		"empty file": {},
	} {
		t.Run(name, func(t *testing.T) {
			p, err := OpenExe(writeExe(t, content))
			require.NoError(t, err)
			defer p.Close()

			assert.False(t, p.Armed())
			assert.Zero(t, p.Size())
			assert.Nil(t, p.Bytes())
			data, err := io.ReadAll(p.Reader())
			require.NoError(t, err)
			assert.Empty(t, data)
		})
	}
}

func TestOpenExe_corrupt(t *testing.T) {
	var slotErr *SlotErr

	t.Run("length too large", func(t *testing.T) {
		exe := preparedHost(t)
		exe[len(exe)-4] = 10
		_, err := OpenExe(writeExe(t, exe))
		assert.ErrorAs(t, err, &slotErr)
	})
	t.Run("incomplete length", func(t *testing.T) {
		exe := preparedHost(t)
		_, err := OpenExe(writeExe(t, exe[:len(exe)-3]))
		assert.ErrorAs(t, err, &slotErr)
	})
	t.Run("armed without slot", func(t *testing.T) {
		exe := []byte("MZ " + internal.DefaultFuseSentinel() + ":1")
		_, err := OpenExe(writeExe(t, exe))
		assert.ErrorAs(t, err, &slotErr)
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := OpenExe(filepath.Join(t.TempDir(), "missing.exe"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestArmed(t *testing.T) {
	// test binaries are never built by exeup
	assert.False(t, Armed())
	assert.True(t, bytes.HasSuffix([]byte(fuse), []byte(":0")))
	assert.Equal(t, internal.DefaultFuseSentinel()+":0", fuse)
}
