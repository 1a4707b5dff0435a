// Package embedding places payloads into the slot of a prepared host executable.
package embedding

import (
	"bytes"
	"io"

	"github.com/hashicorp/go-hclog"
	"github.com/maja42/exeup/errdefs"
	"github.com/maja42/exeup/internal"
	"gitlab.com/tozd/go/errors"
)

// Payload is the content injected into a host.
type Payload struct {
	Data []byte
	// Enabled arms the fuse of the host once the payload is in place.
	Enabled bool
}

// Fuse describes the toggle byte following the fuse sentinel ("<sentinel>:0" or "<sentinel>:1").
type Fuse struct {
	Sentinel string
	Offset   int // offset of the toggle byte, -1 if the sentinel is absent
	Armed    bool
}

// Found reports whether the sentinel exists within the image.
func (f Fuse) Found() bool {
	return f.Offset >= 0
}

// Image is the result of an injection.
type Image struct {
	Buf           []byte
	Fuse          Fuse
	PayloadOffset int // offset of the first payload byte
	PayloadSize   int
}

// Payload returns the injected payload as a sub-slice of Buf.
func (img *Image) Payload() []byte {
	return img.Buf[img.PayloadOffset : img.PayloadOffset+img.PayloadSize]
}

// Injector replaces the payload slot of a host executable.
// The zero value uses the slot marker and fuse sentinel of exeup hosts.
type Injector struct {
	SlotMarker   []byte
	FuseSentinel string
	// MinSlotOffset is the lowest offset the slot marker may start at.
	// Setting it to the overlay offset ensures that section data is never shifted.
	MinSlotOffset int
}

func (inj *Injector) slotMarker() []byte {
	if len(inj.SlotMarker) == 0 {
		return internal.SlotMarker()
	}
	return inj.SlotMarker
}

func (inj *Injector) fuseSentinel() string {
	if inj.FuseSentinel == "" {
		return internal.DefaultFuseSentinel()
	}
	return inj.FuseSentinel
}

// ReadFuse returns the state of the fuse within buf.
// A missing sentinel is not an error; the returned fuse has Offset -1.
func ReadFuse(buf []byte, sentinel string) (Fuse, error) {
	fuse := Fuse{Sentinel: sentinel, Offset: -1}
	end, err := internal.Locate(buf, []byte(sentinel))
	if errors.Is(err, errdefs.ErrMarkerNotFound) {
		return fuse, nil
	}
	if err != nil {
		return fuse, errors.Errorf("fuse: %w", err)
	}
	if end+1 >= len(buf) || buf[end] != internal.FuseSeparator {
		return fuse, errdefs.New(errdefs.ErrMalformedHeader, "fuse %q is not followed by a toggle", sentinel)
	}
	switch buf[end+1] {
	case internal.FuseDisarmed:
	case internal.FuseArmed:
		fuse.Armed = true
	default:
		return fuse, errdefs.New(errdefs.ErrMalformedHeader, "fuse %q has invalid toggle %q", sentinel, buf[end+1])
	}
	fuse.Offset = end + 1
	return fuse, nil
}

// Inject replaces the payload slot within buf.
// The buffer is not modified; the returned image holds the new content.
// The fuse is armed only after the payload has been placed.
func (inj *Injector) Inject(buf []byte, payload Payload) (*Image, error) {
	sentinel := inj.fuseSentinel()
	fuse, err := ReadFuse(buf, sentinel)
	if err != nil {
		return nil, err
	}
	if fuse.Armed {
		return nil, errdefs.New(errdefs.ErrAlreadyInjected, "fuse %q is already armed", sentinel)
	}
	if payload.Enabled && !fuse.Found() {
		return nil, errdefs.New(errdefs.ErrMarkerNotFound, "fuse %q not found", sentinel)
	}

	marker := inj.slotMarker()
	bodyStart, err := internal.Locate(buf, marker)
	if err != nil {
		return nil, errors.Errorf("payload slot: %w", err)
	}
	if start := bodyStart - len(marker); start < inj.MinSlotOffset {
		return nil, errdefs.New(errdefs.ErrRvaOutOfRange, "payload slot at offset %d lies before offset %d", start, inj.MinSlotOffset)
	}
	oldLen, ok := internal.SlotLength(buf[bodyStart:])
	if !ok || uint64(bodyStart)+internal.LengthSize+uint64(oldLen) > uint64(len(buf)) {
		return nil, errdefs.New(errdefs.ErrMalformedHeader, "payload slot at offset %d exceeds the executable", bodyStart)
	}
	bodyEnd := bodyStart + internal.LengthSize + int(oldLen)

	body := internal.EncodeSlotBody(payload.Data)
	out := make([]byte, 0, len(buf)-(bodyEnd-bodyStart)+len(body))
	out = append(out, buf[:bodyStart]...)
	out = append(out, body...)
	out = append(out, buf[bodyEnd:]...)

	img := &Image{
		Buf:           out,
		PayloadOffset: bodyStart + internal.LengthSize,
		PayloadSize:   len(payload.Data),
	}
	// positions may have moved and the payload could contain the sentinel as well
	if payload.Enabled {
		img.Fuse, err = ArmFuse(out, sentinel)
	} else {
		img.Fuse, err = ReadFuse(out, sentinel)
	}
	if err != nil {
		return nil, err
	}
	return img, nil
}

// ArmFuse flips the toggle of the fuse within buf from disarmed to armed.
func ArmFuse(buf []byte, sentinel string) (Fuse, error) {
	fuse, err := ReadFuse(buf, sentinel)
	if err != nil {
		return fuse, err
	}
	if !fuse.Found() {
		return fuse, errdefs.New(errdefs.ErrMarkerNotFound, "fuse %q not found", sentinel)
	}
	if fuse.Armed {
		return fuse, errdefs.New(errdefs.ErrAlreadyInjected, "fuse %q is already armed", sentinel)
	}
	buf[fuse.Offset] = internal.FuseArmed
	fuse.Armed = true
	return fuse, nil
}

// PrepareHost copies a host executable to out and appends an empty payload slot.
//
// PrepareHost verifies that the host is compatible by searching for the fuse sentinel
// (compiled into every executable that imports exeup). An empty fuseSentinel selects the default.
// It fails if the host already contains a payload slot.
//
// logger (optional) is used to report the progress.
func PrepareHost(out io.Writer, exe io.ReadSeeker, fuseSentinel string, logger hclog.Logger) error {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if fuseSentinel == "" {
		fuseSentinel = internal.DefaultFuseSentinel()
	}

	if err := verifyHost(exe, fuseSentinel); err != nil {
		return errors.Errorf("verify executable: %w", err)
	}

	logger.Debug("writing executable")
	size, err := io.Copy(out, exe)
	if err != nil {
		return errors.Errorf("copy executable: %w", err)
	}
	logger.Debug("adding payload slot", "offset", size)
	if err := internal.WriteSlot(out, nil); err != nil {
		return errors.Errorf("write payload slot: %w", err)
	}
	return nil
}

// PrepareHostBytes is PrepareHost for in-memory executables.
func PrepareHostBytes(exe []byte, fuseSentinel string, logger hclog.Logger) ([]byte, error) {
	var out bytes.Buffer
	if err := PrepareHost(&out, bytes.NewReader(exe), fuseSentinel, logger); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// verifyHost ensures that the host executable is compatible.
// The reader is seeked to the beginning afterwards.
func verifyHost(exe io.ReadSeeker, fuseSentinel string) error {
	if _, err := exe.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if internal.SeekPattern(exe, []byte(fuseSentinel)) == -1 {
		return errdefs.New(errdefs.ErrMarkerNotFound, "incompatible (fuse %q not found)", fuseSentinel)
	}

	if _, err := exe.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if internal.SeekSlot(exe) != -1 {
		return errdefs.New(errdefs.ErrAlreadyInjected, "already contains a payload slot")
	}

	if _, err := exe.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return nil
}
