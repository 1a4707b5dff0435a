package main

import (
	"context"
	"fmt"

	"github.com/maja42/exeup/config"
	"github.com/maja42/exeup/manifest"
	"github.com/maja42/exeup/versioninfo"
	"github.com/manifoldco/promptui"
)

func runConfig(_ context.Context, a *app, _ []string) error {
	fmt.Println("Let's configure exeup.")
	return setupConfig(a)
}

func ask(label, def string) (string, error) {
	p := promptui.Prompt{Label: label, Default: def, AllowEdit: true}
	return p.Run()
}

func confirm(label string) bool {
	p := promptui.Prompt{Label: label, IsConfirm: true}
	_, err := p.Run()
	return err == nil
}

// setupConfig interactively creates the configuration file.
func setupConfig(a *app) error {
	cfg := &config.Config{}
	var err error
	for _, q := range []struct {
		label, def string
		dst        *string
	}{
		{"Entry file", "./index.js", &cfg.Entry},
		{"Output executable file", "./build/output.exe", &cfg.Out},
		{"Donor executable", "", &cfg.Donor},
		{"Application version", "1.0.0", &cfg.Version},
		{"Icon file (.ico or .png, empty to skip)", "", &cfg.Icon},
	} {
		if *q.dst, err = ask(q.label, q.def); err != nil {
			return err
		}
	}
	cfg.SkipBundle = confirm("Skip the bundling process")

	levels := []manifest.Level{manifest.AsInvoker, manifest.HighestAvailable, manifest.RequireAdministrator}
	sel := promptui.Select{Label: "Execution level", Items: levels}
	idx, _, err := sel.Run()
	if err != nil {
		return err
	}
	cfg.ExecutionLevel = string(levels[idx])

	cfg.Properties = map[string]string{}
	for _, q := range []struct{ key, label, def string }{
		{versioninfo.KeyFileDescription, "File description", "My Application"},
		{versioninfo.KeyProductName, "Product name", "My Application"},
		{versioninfo.KeyLegalCopyright, "Legal copyright", "Your Name or Company"},
	} {
		if cfg.Properties[q.key], err = ask(q.label, q.def); err != nil {
			return err
		}
	}

	if err := cfg.Save(a.configPath()); err != nil {
		return err
	}
	fmt.Printf("Configuration saved to %s.\n", config.FileName)
	return nil
}
