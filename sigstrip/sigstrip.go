// Package sigstrip removes Authenticode signatures from executables.
// Injecting a payload invalidates any signature, and a stale certificate table
// would be moved into the overlay by the resource rewrite.
package sigstrip

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/maja42/exeup/internal/extool"
	"github.com/maja42/exeup/pefile"
	"github.com/xyproto/env/v2"
	"gitlab.com/tozd/go/errors"
)

// SigntoolEnv overrides the location of signtool.exe.
const SigntoolEnv = "EXEUP_SIGNTOOL"

// InProcess removes the certificate table without external tools.
type InProcess struct {
	Logger hclog.Logger
}

// Strip returns exe without its certificate table. exe is not modified.
func (s *InProcess) Strip(_ context.Context, exe []byte) ([]byte, error) {
	img, err := pefile.Parse(append([]byte(nil), exe...), pefile.WithLogger(s.Logger))
	if err != nil {
		return nil, err
	}
	if !img.StripCertificate() {
		return exe, nil
	}
	return img.Bytes(), nil
}

// Signtool removes signatures by running "signtool remove /s".
type Signtool struct {
	Path    string // located automatically if empty
	Timeout time.Duration
	Logger  hclog.Logger
}

func (s *Signtool) path() (string, error) {
	if s.Path != "" {
		return s.Path, nil
	}
	// env caches the environment on first use
	env.Load()
	if p := env.Str(SigntoolEnv, ""); p != "" {
		return p, nil
	}
	return LocateSigntool()
}

// Strip returns a copy of exe with its signature removed by signtool.
func (s *Signtool) Strip(ctx context.Context, exe []byte) ([]byte, error) {
	tool, err := s.path()
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "exeup-sign-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)
	target := filepath.Join(dir, "donor.exe")
	if err := os.WriteFile(target, exe, 0o600); err != nil {
		return nil, err
	}

	if _, err := (extool.Command{
		Name:    tool,
		Args:    []string{"remove", "/s", target},
		Timeout: s.Timeout,
		Logger:  s.Logger,
	}).Run(ctx); err != nil {
		return nil, errors.Errorf("remove signature: %w", err)
	}

	out, err := os.ReadFile(target)
	if err != nil {
		return nil, errors.Errorf("read unsigned executable: %w", err)
	}
	return out, nil
}
