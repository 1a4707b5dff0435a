package pipeline

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/maja42/exeup/errdefs"
	"github.com/maja42/exeup/manifest"
	"github.com/maja42/exeup/pefile"
	"github.com/maja42/exeup/versioninfo"
	"gitlab.com/tozd/go/errors"
)

// Options describe a single build.
type Options struct {
	// Donor is the runtime executable the output is derived from.
	Donor string
	// Out is the path of the executable to create.
	Out string
	// Entry is the entry script handed to the bundler.
	Entry string
	// Version ("a.b.c") sets the numeric file and product versions.
	Version string
	// Icon (.ico or .png) replaces the application icon.
	Icon string
	// Properties are upserted into the version string table.
	Properties map[string]string
	// ExecutionLevel of the manifest; manifest.Default if empty.
	ExecutionLevel string
	// SkipBundle injects the entry verbatim.
	SkipBundle bool
	// Language of the version string table; versioninfo.DefaultLanguage if zero.
	Language versioninfo.Language
	// Arch restricts the accepted donor machine type ("386", "amd64", "arm64"). Any if empty.
	Arch string
	// FuseSentinel of the donor; the exeup fuse if empty.
	FuseSentinel string
	// SlotMarker precedes the payload slot of the donor; the exeup slot marker if empty.
	SlotMarker string
	// PayloadResource stores the payload as RT_RCDATA resource with this name instead of the
	// payload slot, as Node.js single executable applications expect.
	PayloadResource string
	// Prelude is inserted at the start of the bundled code, after a shebang line.
	Prelude string
	// ToolTimeout bounds every external tool.
	ToolTimeout time.Duration
}

var machines = map[string]uint16{
	"386":   pefile.MachineI386,
	"amd64": pefile.MachineAMD64,
	"arm64": pefile.MachineARM64,
}

// validated holds the parsed options.
type validated struct {
	Options
	level   manifest.Level
	version *[4]uint16
	machine uint16 // 0 accepts every supported machine
}

func (o Options) validate() (*validated, error) {
	v := &validated{Options: o}
	switch {
	case o.Donor == "":
		return nil, errdefs.New(errdefs.ErrMissingOption, "donor executable is missing")
	case o.Out == "":
		return nil, errdefs.New(errdefs.ErrMissingOption, "output path is missing")
	case o.Entry == "":
		return nil, errdefs.New(errdefs.ErrMissingOption, "entry is missing")
	}

	v.level = manifest.Default
	if o.ExecutionLevel != "" {
		level, err := manifest.ParseLevel(o.ExecutionLevel)
		if err != nil {
			return nil, err
		}
		v.level = level
	}

	if o.Version != "" {
		version, err := versioninfo.ParseVersion(o.Version)
		if err != nil {
			return nil, errors.Errorf("version %q: %w", o.Version, err)
		}
		v.version = &version
	}

	if v.Language == (versioninfo.Language{}) {
		v.Language = versioninfo.DefaultLanguage
	}

	if o.Arch != "" {
		m, ok := machines[strings.ToLower(o.Arch)]
		if !ok {
			return nil, errdefs.New(errdefs.ErrUnsupportedPlatform, "unsupported architecture %q", o.Arch)
		}
		v.machine = m
	}
	return v, nil
}

func (v *validated) iconIsPNG() bool {
	return strings.EqualFold(filepath.Ext(v.Icon), ".png")
}
