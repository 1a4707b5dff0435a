//go:build !windows

package sigstrip

import (
	"runtime"

	"github.com/maja42/exeup/errdefs"
)

// LocateSigntool fails on platforms other than Windows.
func LocateSigntool() (string, error) {
	return "", errdefs.New(errdefs.ErrUnsupportedPlatform, "signtool requires windows, running on %s", runtime.GOOS)
}
