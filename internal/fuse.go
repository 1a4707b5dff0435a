package internal

import "strings"

// FuseHash distinguishes the exeup fuse from other sentinels.
const FuseHash = "3e9c1b7f05a24d6e8f21c4a9d07b6e52"

// DefaultFuseSentinel returns the name of the fuse compiled into hosts importing exeup.
// The name is assembled at runtime to keep it out of the tooling binaries.
func DefaultFuseSentinel() string {
	return strings.ReplaceAll("EXEUP_FUSE_XXX", "XXX", FuseHash)
}

// Fuse toggle encoding: the sentinel is followed by FuseSeparator and the toggle byte.
const (
	FuseSeparator = ':'
	FuseDisarmed  = '0'
	FuseArmed     = '1'
)
