package sigstrip

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/maja42/exeup/errdefs"
	"golang.org/x/sys/windows/registry"
)

// LocateSigntool returns the newest signtool.exe of the installed Windows 10+ SDK.
func LocateSigntool() (string, error) {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, `SOFTWARE\Microsoft\Windows Kits\Installed Roots`,
		registry.QUERY_VALUE|registry.WOW64_32KEY)
	if err != nil {
		return "", errdefs.Wrap(errdefs.ErrExternalToolFailed, err, "windows SDK not installed")
	}
	defer key.Close()

	root, _, err := key.GetStringValue("KitsRoot10")
	if err != nil {
		return "", errdefs.Wrap(errdefs.ErrExternalToolFailed, err, "windows SDK root not found")
	}

	arch := map[string]string{"386": "x86", "amd64": "x64", "arm64": "arm64"}[runtime.GOARCH]
	if arch == "" {
		return "", errdefs.New(errdefs.ErrUnsupportedPlatform, "signtool is not available for %s", runtime.GOARCH)
	}
	candidates, _ := filepath.Glob(filepath.Join(root, "bin", "*", arch, "signtool.exe"))
	if len(candidates) == 0 {
		legacy := filepath.Join(root, "bin", arch, "signtool.exe")
		if _, err := os.Stat(legacy); err != nil {
			return "", errdefs.New(errdefs.ErrExternalToolFailed, "signtool.exe not found below %s", root)
		}
		return legacy, nil
	}
	sort.Strings(candidates)
	return candidates[len(candidates)-1], nil
}
