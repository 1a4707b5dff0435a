// Package exeup gives host executables access to the payload injected by the exeup builder.
package exeup

import (
	"io"
	"os"
	"path/filepath"

	"github.com/edsrzf/mmap-go"
	"github.com/maja42/exeup/embedding"
	"github.com/maja42/exeup/internal"
)

// Payload represents the data injected into an executable.
type Payload struct {
	exeFile *os.File
	mapping mmap.MMap
	armed   bool
	offset  int64
	size    int64
}

// Open returns the payload of the running executable.
func Open() (*Payload, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, err
	}
	if p, err := filepath.EvalSymlinks(path); err == nil {
		// EvalSymlinks fails on Windows if the executable is located in the
		// remote SYSVOL volume from the domain controller.
		// It is therefore optional, any errors are ignored.
		path = p
	}
	return OpenExe(path)
}

// OpenExe returns the payload of an arbitrary executable.
// Executables without a payload slot yield an empty, unarmed payload.
func OpenExe(exePath string) (*Payload, error) {
	exe, err := os.Open(exePath)
	if err != nil {
		return nil, err
	}
	p := &Payload{exeFile: exe}
	keepOpen := false
	defer func() {
		if !keepOpen {
			_ = p.Close()
		}
	}()

	stat, err := exe.Stat()
	if err != nil {
		return nil, err
	}
	if stat.Size() == 0 {
		keepOpen = true
		return p, nil
	}
	if p.mapping, err = mmap.Map(exe, mmap.RDONLY, 0); err != nil {
		return nil, err
	}
	buf := []byte(p.mapping)

	fuse, err := embedding.ReadFuse(buf, internal.DefaultFuseSentinel())
	if err != nil {
		return nil, newSlotErr("corrupt fuse (%s)", err)
	}
	p.armed = fuse.Armed

	bodyStart, err := internal.Locate(buf, internal.SlotMarker())
	if err != nil {
		if p.armed { // armed executables must carry their payload
			return nil, newSlotErr("missing payload slot (%s)", err)
		}
		keepOpen = true
		return p, nil
	}
	size, ok := internal.SlotLength(buf[bodyStart:])
	if !ok {
		return nil, newSlotErr("corrupt payload slot (incomplete length)")
	}
	p.offset = int64(bodyStart) + internal.LengthSize
	p.size = int64(size)
	if p.offset+p.size > int64(len(buf)) { // length points outside executable (missing data?)
		return nil, newSlotErr("corrupt payload slot (length too large)")
	}

	keepOpen = true
	return p, nil
}

// Close releases the executable containing the payload.
// Slices returned by Bytes must not be used afterwards.
func (p *Payload) Close() error {
	if p.mapping != nil {
		if err := p.mapping.Unmap(); err != nil {
			return err
		}
		p.mapping = nil
	}
	return p.exeFile.Close()
}

// Armed reports whether the fuse of the executable was armed by the builder.
func (p *Payload) Armed() bool {
	return p.armed
}

// Size returns the payload size in bytes.
func (p *Payload) Size() int64 {
	return p.size
}

// Offset returns the offset of the payload in relation to the start of the executable.
// Returns zero if the executable has no payload slot.
func (p *Payload) Offset() int64 {
	return p.offset
}

// Reader groups basic methods available on the payload.
type Reader interface {
	io.ReadSeeker
	io.ReaderAt
	Size() int64
}

// Reader returns a reader for the payload.
func (p *Payload) Reader() Reader {
	return io.NewSectionReader(p.exeFile, p.offset, p.size)
}

// Bytes returns the payload, backed by a read-only memory mapping of the executable.
func (p *Payload) Bytes() []byte {
	if p.size == 0 {
		return nil
	}
	return p.mapping[p.offset : p.offset+p.size]
}
