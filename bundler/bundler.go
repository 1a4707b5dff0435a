// Package bundler produces the code injected into a donor executable.
package bundler

import (
	"context"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/maja42/exeup/internal/extool"
	"gitlab.com/tozd/go/errors"
)

// EntryPlaceholder is replaced by the entry path within Exec arguments.
const EntryPlaceholder = "{entry}"

// NodeSEAPrelude silences the warnings Node.js prints when running as a single executable application.
const NodeSEAPrelude = "const originalError=console.error;console.error=(msg,...args)=>{" +
	"if(typeof msg==='string'&&msg.includes('Single executable application is an experimental feature and might change at any time')" +
	"||msg.includes('Currently the require() provided to the main script embedded into single-executable applications only supports loading built-in modules.'))return;" +
	"originalError(msg,...args);};"

// Raw reads the entry file verbatim.
type Raw struct{}

// Bundle returns the content of entry.
func (Raw) Bundle(_ context.Context, entry string) ([]byte, error) {
	code, err := os.ReadFile(entry)
	if err != nil {
		return nil, errors.Errorf("read entry: %w", err)
	}
	return code, nil
}

// Exec runs an external bundler that writes the bundle to stdout.
type Exec struct {
	Command string
	Args    []string // EntryPlaceholder is replaced by the entry path
	Timeout time.Duration
	Logger  hclog.Logger
}

// Esbuild returns a bundler producing a minified ES2021 bundle for Node.js.
func Esbuild(logger hclog.Logger) *Exec {
	return &Exec{
		Command: "esbuild",
		Args:    []string{EntryPlaceholder, "--bundle", "--minify", "--platform=node", "--target=es2021", "--log-level=error"},
		Logger:  logger,
	}
}

// Bundle runs the bundler on entry and returns its standard output.
func (e *Exec) Bundle(ctx context.Context, entry string) ([]byte, error) {
	if _, err := os.Stat(entry); err != nil {
		return nil, errors.Errorf("entry: %w", err)
	}
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		args[i] = strings.ReplaceAll(a, EntryPlaceholder, entry)
	}
	code, err := extool.Command{
		Name:    e.Command,
		Args:    args,
		Timeout: e.Timeout,
		Logger:  e.Logger,
	}.Run(ctx)
	if err != nil {
		return nil, errors.Errorf("bundle %q: %w", entry, err)
	}
	return code, nil
}

var shebang = regexp.MustCompile(`^#!.*\n`)

// WithPrelude inserts prelude at the start of code, after a leading shebang line.
func WithPrelude(code []byte, prelude string) []byte {
	if prelude == "" {
		return code
	}
	at := 0
	if loc := shebang.FindIndex(code); loc != nil {
		at = loc[1]
	}
	out := make([]byte, 0, len(code)+len(prelude))
	out = append(out, code[:at]...)
	out = append(out, prelude...)
	return append(out, code[at:]...)
}
