package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/maja42/exeup/bundler"
	"github.com/maja42/exeup/config"
	"github.com/maja42/exeup/pipeline"
	"github.com/maja42/exeup/sigstrip"
	"github.com/schollz/progressbar/v3"
	"github.com/xyproto/env/v2"
)

func (a *app) configPath() string {
	return filepath.Join(a.dir, config.FileName)
}

func runBuild(ctx context.Context, a *app, args []string) error {
	fs := commandFlags("build")
	config.RegisterFlags(fs)
	signtool := fs.Bool("signtool", env.Str(sigstrip.SigntoolEnv, "") != "", "remove the donor signature with signtool.exe")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, found, err := config.Load(a.dir, fs)
	if err != nil {
		return err
	}
	if !found && cfg.Entry == "" {
		fmt.Println("No configuration file found. Let's set one up.")
		if err := setupConfig(a); err != nil {
			return err
		}
		if cfg, _, err = config.Load(a.dir, fs); err != nil {
			return err
		}
	}

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("Initializing..."),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionShowBytes(false),
	)

	opts := cfg.Options()
	builder := &pipeline.Builder{Logger: a.logger}
	if opts.PayloadResource != "" {
		// Node SEA donors read the payload from a resource, prepared by node itself.
		builder.Blob = &bundler.NodeSEA{Timeout: opts.ToolTimeout, Logger: a.logger}
		if opts.FuseSentinel == "" {
			opts.FuseSentinel = bundler.NodeSEAFuse
		}
	}
	if *signtool {
		builder.Stripper = &sigstrip.Signtool{Timeout: opts.ToolTimeout, Logger: a.logger}
	}
	err = builder.Run(ctx, opts, func(p pipeline.Progress) {
		bar.Describe(fmt.Sprintf("%3d%% %s", p.Progress, p.Message))
		_ = bar.Set(p.Progress)
		if p.Done {
			_ = bar.Finish()
			fmt.Fprintln(os.Stderr)
			fmt.Println("Executable created successfully:", cfg.Out)
		}
	})
	if err != nil {
		_ = bar.Exit()
		return err
	}
	return nil
}
