package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"
	"github.com/xyproto/env/v2"
)

const appVersion = "0.1.0"

type command struct {
	name        string
	description string
	run         func(ctx context.Context, app *app, args []string) error
}

var commands = []command{
	{"build", "Build the executable", runBuild},
	{"config", "Reconfigure the exeup config", runConfig},
	{"prepare", "Append an empty payload slot to a host executable", runPrepare},
	{"inspect", "Show version info, resources and payload of an executable", runInspect},
	{"version", "Display version information", runVersion},
}

type app struct {
	dir    string
	logger hclog.Logger
}

func usage(global *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "exeup packs a script into a branded Windows executable.\n\n")
	fmt.Fprintf(os.Stderr, "Usage: exeup [flags] <command> [command flags]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", c.name, c.description)
	}
	fmt.Fprintf(os.Stderr, "\nFlags:\n%s", global.FlagUsages())
}

func main() {
	global := pflag.NewFlagSet("exeup", pflag.ContinueOnError)
	global.SetInterspersed(false)
	dir := global.StringP("dir", "C", ".", "project directory")
	logLevel := global.String("log-level", env.Str("EXEUP_LOG_LEVEL", "warn"), "log level (trace, debug, info, warn, error)")
	global.Usage = func() { usage(global) }
	if err := global.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		os.Exit(2)
	}

	a := &app{
		dir: *dir,
		logger: hclog.New(&hclog.LoggerOptions{
			Name:   "exeup",
			Level:  hclog.LevelFromString(*logLevel),
			Output: os.Stderr,
		}),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	args := global.Args()
	if len(args) == 0 {
		if err := runDefault(ctx, a); err != nil {
			fail(err)
		}
		return
	}
	if args[0] == "help" {
		usage(global)
		return
	}
	for _, c := range commands {
		if c.name == args[0] {
			if err := c.run(ctx, a, args[1:]); err != nil {
				fail(err)
			}
			return
		}
	}
	fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
	usage(global)
	os.Exit(2)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "\nError: %s\n", err)
	os.Exit(1)
}

// runDefault offers to build if the project is configured.
func runDefault(ctx context.Context, a *app) error {
	if _, err := os.Stat(a.configPath()); err == nil && confirm(`Run "exeup build"`) {
		return runBuild(ctx, a, nil)
	}
	fmt.Fprintln(os.Stderr, `Run "exeup help" for usage.`)
	return nil
}

func runVersion(_ context.Context, _ *app, _ []string) error {
	fmt.Println("exeup version " + appVersion)
	return nil
}

func commandFlags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of exeup %s:\n%s", name, fs.FlagUsages())
	}
	return fs
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, strings.TrimSuffix(word, "s"))
}
