package main

import (
	"context"
	"fmt"
	"os"

	"github.com/maja42/exeup/embedding"
)

// runPrepare appends an empty payload slot to a host executable, making it a donor.
func runPrepare(_ context.Context, a *app, args []string) error {
	fs := commandFlags("prepare")
	exePath := fs.String("exe", "", "host executable importing github.com/maja42/exeup")
	outPath := fs.String("out", "", "path for the prepared donor")
	sentinel := fs.String("fuse-sentinel", "", "fuse sentinel of the host")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *exePath == "" || *outPath == "" {
		fs.Usage()
		return fmt.Errorf("--exe and --out are required")
	}

	exe, err := os.Open(*exePath)
	if err != nil {
		return fmt.Errorf("open host %q: %w", *exePath, err)
	}
	defer exe.Close()

	out, err := os.OpenFile(*outPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0755)
	if err != nil {
		return fmt.Errorf("open output file %q: %w", *outPath, err)
	}
	defer out.Close()

	fmt.Printf("Preparing %q --> %q\n", *exePath, *outPath)
	if err := embedding.PrepareHost(out, exe, *sentinel, a.logger); err != nil {
		_ = out.Close()
		_ = os.Remove(*outPath)
		return err
	}
	return out.Sync()
}
