package exeup

import (
	"fmt"
	"time"

	"github.com/maja42/exeup/internal"
)

// fuse is compiled into executables which accept a payload.
// The builder verifies its presence and flips the trailing toggle once the payload is in place.
var fuse = "EXEUP_FUSE_" + internal.FuseHash + ":0"

func init() {
	// Dead code that uses 'fuse' and is not eliminated by the compiler.
	if time.Now().Nanosecond() == -42 {
		fmt.Print(fuse)
	}
}

// Armed reports whether the running executable carries a payload,
// without opening the executable file.
func Armed() bool {
	return fuse[len(fuse)-1] == internal.FuseArmed
}
