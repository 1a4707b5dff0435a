// Package pipeline turns a donor executable into a branded executable carrying a payload.
package pipeline

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/maja42/exeup/bundler"
	"github.com/maja42/exeup/embedding"
	"github.com/maja42/exeup/errdefs"
	"github.com/maja42/exeup/icon"
	"github.com/maja42/exeup/iconconv"
	"github.com/maja42/exeup/internal"
	"github.com/maja42/exeup/pefile"
	"github.com/maja42/exeup/resource"
	"github.com/maja42/exeup/sigstrip"
	"gitlab.com/tozd/go/errors"
)

// Progress is reported at every checkpoint of a build.
type Progress struct {
	Message  string
	Progress int // percent, monotonic
	Done     bool
}

// ProgressFunc receives progress reports.
type ProgressFunc func(Progress)

// Bundler produces the code for an entry file.
type Bundler interface {
	Bundle(ctx context.Context, entry string) ([]byte, error)
}

// BlobBuilder turns bundled code into the payload expected by the donor.
type BlobBuilder interface {
	Blob(ctx context.Context, code []byte) ([]byte, error)
}

// IconConverter converts a PNG image into an ICO file.
type IconConverter interface {
	Convert(r io.Reader) ([]byte, error)
}

// SignatureStripper removes the signature of an executable.
type SignatureStripper interface {
	Strip(ctx context.Context, exe []byte) ([]byte, error)
}

// State of a build.
type State int

const (
	Init State = iota
	Injected
	ResourcesParsed
	Edited
	Serialized
	Written
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Init:
		return "Init"
	case Injected:
		return "Injected"
	case ResourcesParsed:
		return "ResourcesParsed"
	case Edited:
		return "Edited"
	case Serialized:
		return "Serialized"
	case Written:
		return "Written"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	}
	return "unknown"
}

// Builder runs builds. The zero value uses the default collaborators.
type Builder struct {
	// Bundler is used unless SkipBundle is set. Defaults to esbuild.
	Bundler Bundler
	// Blob is optional.
	Blob          BlobBuilder
	IconConverter IconConverter
	// Stripper defaults to the in-process certificate removal.
	Stripper SignatureStripper
	Logger   hclog.Logger
}

// run holds the state of a single build.
type run struct {
	*Builder
	opts     *validated
	logger   hclog.Logger
	progress ProgressFunc
	state    State
	percent  int

	icons   []icon.Image
	payload []byte
	donor   []byte
	signed  bool
	image   *embedding.Image
	file    *pefile.File
	tree    *resource.Tree
	output  []byte
}

// Run builds the executable described by opts.
// progress (optional) is called at every checkpoint; it is not called after a failure.
// No output is written if the build fails.
func (b *Builder) Run(ctx context.Context, opts Options, progress ProgressFunc) error {
	logger := b.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if progress == nil {
		progress = func(Progress) {}
	}
	r := &run{Builder: b, logger: logger, progress: progress, state: Init}

	if err := ctx.Err(); err != nil {
		return errors.Errorf("build: %w", err)
	}
	r.report("Initializing...", 0)

	v, err := opts.validate()
	if err != nil {
		return r.fail(err)
	}
	r.opts = v

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"check donor", r.checkDonor},
		{"convert icon", r.loadIcon},
		{"build payload", r.buildPayload},
		{"stage donor", r.stageDonor},
		{"inject payload", r.inject},
		{"parse resources", r.parseResources},
		{"edit resources", r.edit},
		{"serialize", r.serialize},
		{"write output", r.write},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return r.fail(errors.Errorf("%s: %w", s.name, err))
		}
	}
	r.enter(Done, "Complete!", 100)
	return nil
}

func (r *run) report(msg string, percent int) {
	if r.state == Failed || percent < r.percent {
		return
	}
	r.percent = percent
	r.progress(Progress{Message: msg, Progress: percent, Done: percent == 100})
}

func (r *run) enter(s State, msg string, percent int) {
	r.logger.Debug("build state", "state", s, "previous", r.state)
	r.state = s
	r.report(msg, percent)
}

func (r *run) fail(err error) error {
	r.logger.Error("build failed", "state", r.state, "error", err)
	r.state = Failed
	return err
}

func (r *run) loadIcon(_ context.Context) error {
	if r.opts.Icon == "" {
		return nil
	}
	data, err := os.ReadFile(r.opts.Icon)
	if err != nil {
		return err
	}
	if r.opts.iconIsPNG() {
		r.report("Converting icon...", 15)
		conv := r.IconConverter
		if conv == nil {
			conv = &iconconv.Converter{Logger: r.logger}
		}
		if data, err = conv.Convert(bytes.NewReader(data)); err != nil {
			return err
		}
	}
	r.icons, err = icon.ReadICO(bytes.NewReader(data))
	return err
}

func (r *run) buildPayload(ctx context.Context) error {
	r.report("Processing code...", 25)
	var bundle Bundler = &bundler.Raw{}
	if !r.opts.SkipBundle {
		bundle = r.Bundler
		if bundle == nil {
			b := bundler.Esbuild(r.logger)
			b.Timeout = r.opts.ToolTimeout
			bundle = b
		}
	}
	code, err := bundle.Bundle(ctx, r.opts.Entry)
	if err != nil {
		return err
	}
	code = bundler.WithPrelude(code, r.opts.Prelude)
	r.logger.Debug("payload code ready", "size", len(code))

	if r.Blob == nil {
		r.payload = code
		return nil
	}
	r.payload, err = r.Blob.Blob(ctx, code)
	return err
}

// checkDonor reads the donor and verifies its platform before any other work is done.
func (r *run) checkDonor(_ context.Context) error {
	donor, err := os.ReadFile(r.opts.Donor)
	if err != nil {
		return err
	}
	img, err := pefile.Parse(append([]byte(nil), donor...), pefile.WithLogger(r.logger))
	if err != nil {
		return err
	}
	if err := r.checkMachine(img.Machine()); err != nil {
		return err
	}
	r.donor, r.signed = donor, img.Signed()
	return nil
}

func (r *run) stageDonor(ctx context.Context) error {
	r.report("Processing executable...", 35)
	stripper := r.Stripper
	if stripper == nil {
		stripper = &sigstrip.InProcess{Logger: r.logger}
	}
	unsigned, err := stripper.Strip(ctx, r.donor)
	switch {
	case err == nil:
		r.donor = unsigned
	case r.signed:
		return errors.Errorf("remove signature: %w", err)
	default:
		r.logger.Warn("could not remove signature of unsigned donor", "error", err)
	}
	return nil
}

func (r *run) checkMachine(m uint16) error {
	if r.opts.machine != 0 {
		if m != r.opts.machine {
			return errdefs.New(errdefs.ErrUnsupportedPlatform, "donor machine 0x%x does not match %s", m, r.opts.Arch)
		}
		return nil
	}
	for _, supported := range machines {
		if m == supported {
			return nil
		}
	}
	return errdefs.New(errdefs.ErrUnsupportedPlatform, "unsupported donor machine 0x%x", m)
}

func (r *run) inject(_ context.Context) error {
	if r.opts.PayloadResource != "" {
		// the payload is stored as resource while editing; the output is written only after both
		fuse, err := embedding.ArmFuse(r.donor, r.sentinel())
		if err != nil {
			return err
		}
		r.image = &embedding.Image{Buf: r.donor, Fuse: fuse, PayloadOffset: -1, PayloadSize: len(r.payload)}
		r.enter(Injected, "Payload injected", 50)
		return nil
	}

	img, err := pefile.Parse(r.donor)
	if err != nil {
		return err
	}
	inj := embedding.Injector{
		SlotMarker:    []byte(r.opts.SlotMarker),
		FuseSentinel:  r.opts.FuseSentinel,
		MinSlotOffset: img.OverlayOffset(),
	}
	r.image, err = inj.Inject(r.donor, embedding.Payload{Data: r.payload, Enabled: true})
	if err != nil {
		return err
	}
	r.logger.Debug("payload injected", "offset", r.image.PayloadOffset, "size", r.image.PayloadSize, "fuse", r.image.Fuse.Offset)
	r.enter(Injected, "Payload injected", 50)
	return nil
}

func (r *run) sentinel() string {
	if r.opts.FuseSentinel != "" {
		return r.opts.FuseSentinel
	}
	return internal.DefaultFuseSentinel()
}

func (r *run) parseResources(_ context.Context) error {
	var err error
	if r.file, err = pefile.Parse(r.image.Buf, pefile.WithLogger(r.logger)); err != nil {
		return err
	}
	if r.tree, err = resource.Parse(r.file); err != nil {
		return err
	}
	r.logger.Debug("resources parsed", "count", r.tree.Len())
	r.enter(ResourcesParsed, "Rectifying executable...", 65)
	return nil
}

func (r *run) serialize(_ context.Context) error {
	if err := resource.Apply(r.file, r.tree); err != nil {
		return err
	}
	r.output = r.file.Bytes()
	r.enter(Serialized, "Finishing up...", 85)
	return nil
}

func (r *run) write(_ context.Context) error {
	if err := writeFileAtomic(r.opts.Out, r.output); err != nil {
		return err
	}
	r.logger.Info("executable written", "path", r.opts.Out, "size", len(r.output))
	r.enter(Written, "Executable written", 95)
	return nil
}
