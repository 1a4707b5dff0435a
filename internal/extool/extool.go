// Package extool runs external tools with a bounded runtime.
package extool

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/maja42/exeup/errdefs"
)

// DefaultTimeout bounds tools that are run without an explicit timeout.
const DefaultTimeout = 5 * time.Minute

// Command describes an external tool invocation.
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Timeout time.Duration // DefaultTimeout if zero
	Logger  hclog.Logger
}

// Run executes the command and returns its standard output.
// A non-zero exit status results in ErrExternalToolFailed, exceeding the timeout in ErrExternalToolTimeout.
func (c Command) Run(ctx context.Context) ([]byte, error) {
	logger := c.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	logger.Debug("running external tool", "name", c.Name, "args", c.Args)
	start := time.Now()
	err := cmd.Run()
	logger.Debug("external tool finished", "name", c.Name, "duration", time.Since(start), "stdout", stdout.Len())

	if ctx.Err() == context.DeadlineExceeded {
		return nil, errdefs.Wrap(errdefs.ErrExternalToolTimeout, ctx.Err(), "%s did not finish within %s", c.Name, timeout)
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, errdefs.Wrap(errdefs.ErrExternalToolFailed, err, "%s failed", c.Name)
		}
		return nil, errdefs.Wrap(errdefs.ErrExternalToolFailed, err, "%s failed (%s)", c.Name, msg)
	}
	return stdout.Bytes(), nil
}
