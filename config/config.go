// Package config loads build settings from exeup.config.json, EXEUP_* environment variables and flags.
package config

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/maja42/exeup/pipeline"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gitlab.com/tozd/go/errors"
)

// FileName is the name of the configuration file within the project directory.
const FileName = "exeup.config.json"

// EnvPrefix prefixes environment variables overriding configuration keys, e.g. EXEUP_OUT.
const EnvPrefix = "EXEUP"

// Config holds the build settings of a project.
type Config struct {
	Entry           string            `json:"entry" mapstructure:"entry"`
	Out             string            `json:"out" mapstructure:"out"`
	Donor           string            `json:"donor,omitempty" mapstructure:"donor"`
	Version         string            `json:"version,omitempty" mapstructure:"version"`
	Icon            string            `json:"icon,omitempty" mapstructure:"icon"`
	SkipBundle      bool              `json:"skipBundle" mapstructure:"skipBundle"`
	ExecutionLevel  string            `json:"executionLevel,omitempty" mapstructure:"executionLevel"`
	Properties      map[string]string `json:"properties,omitempty" mapstructure:"-"`
	Arch            string            `json:"arch,omitempty" mapstructure:"arch"`
	FuseSentinel    string            `json:"fuseSentinel,omitempty" mapstructure:"fuseSentinel"`
	SlotMarker      string            `json:"slotMarker,omitempty" mapstructure:"slotMarker"`
	PayloadResource string            `json:"payloadResource,omitempty" mapstructure:"payloadResource"`
	Prelude         string            `json:"prelude,omitempty" mapstructure:"prelude"`
	ToolTimeout     time.Duration     `json:"toolTimeout,omitempty" mapstructure:"toolTimeout"`
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"entry":            "entry",
	"out":              "out",
	"donor":            "donor",
	"version":          "version",
	"icon":             "icon",
	"skip-bundle":      "skipBundle",
	"execution-level":  "executionLevel",
	"arch":             "arch",
	"fuse-sentinel":    "fuseSentinel",
	"slot-marker":      "slotMarker",
	"payload-resource": "payloadResource",
	"prelude":          "prelude",
	"tool-timeout":     "toolTimeout",
}

// RegisterFlags adds the flags understood by Load.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("entry", "", "entry script")
	flags.String("out", "", "output executable")
	flags.String("donor", "", "donor executable")
	flags.String("version", "", "application version (a.b.c)")
	flags.String("icon", "", "icon file (.ico or .png)")
	flags.Bool("skip-bundle", false, "inject the entry without bundling")
	flags.String("execution-level", "", "asInvoker, highestAvailable or requireAdministrator")
	flags.String("arch", "", "required donor architecture (386, amd64, arm64)")
	flags.String("fuse-sentinel", "", "fuse sentinel of the donor")
	flags.String("slot-marker", "", "payload slot marker of the donor")
	flags.String("payload-resource", "", "store the payload as RCDATA resource with this name")
	flags.String("prelude", "", "code inserted before the bundle")
	flags.Duration("tool-timeout", 0, "timeout for external tools")
	flags.StringToString("property", nil, "version string property (Key=Value), repeatable")
}

// Load reads the configuration of the project in dir.
// Values are taken from flags (if changed), EXEUP_* environment variables and the configuration file,
// in that order. found reports whether the configuration file exists.
// {package:name} references are expanded from the package.json in dir.
func Load(dir string, flags *pflag.FlagSet) (cfg *Config, found bool, err error) {
	v := viper.New()
	v.SetConfigFile(filepath.Join(dir, FileName))
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, key := range flagKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, false, err
		}
	}
	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, false, err
				}
			}
		}
	}

	found = true
	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, false, errors.Errorf("read %s: %w", FileName, err)
		}
		found = false
	}

	cfg = &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, found, errors.Errorf("decode %s: %w", FileName, err)
	}
	// viper lower-cases map keys, property names are case sensitive
	if found {
		if cfg.Properties, err = readProperties(v.ConfigFileUsed()); err != nil {
			return nil, found, err
		}
	}
	if flags != nil {
		if props, err := flags.GetStringToString("property"); err == nil && len(props) > 0 {
			if cfg.Properties == nil {
				cfg.Properties = make(map[string]string, len(props))
			}
			for k, val := range props {
				cfg.Properties[k] = val
			}
		}
	}

	pkg, err := ReadPackage(filepath.Join(dir, "package.json"))
	if err != nil {
		return nil, found, err
	}
	cfg.Expand(pkg)
	cfg.resolvePaths(dir)
	return cfg, found, nil
}

func readProperties(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw struct {
		Properties map[string]string `json:"properties"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Errorf("decode properties: %w", err)
	}
	return raw.Properties, nil
}

// resolvePaths makes relative paths relative to dir.
func (c *Config) resolvePaths(dir string) {
	for _, p := range []*string{&c.Entry, &c.Out, &c.Donor, &c.Icon} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

// Save writes the configuration file.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Options converts the configuration into build options.
func (c *Config) Options() pipeline.Options {
	return pipeline.Options{
		Donor:           c.Donor,
		Out:             c.Out,
		Entry:           c.Entry,
		Version:         c.Version,
		Icon:            c.Icon,
		Properties:      c.Properties,
		ExecutionLevel:  c.ExecutionLevel,
		SkipBundle:      c.SkipBundle,
		Arch:            c.Arch,
		FuseSentinel:    c.FuseSentinel,
		SlotMarker:      c.SlotMarker,
		PayloadResource: c.PayloadResource,
		Prelude:         c.Prelude,
		ToolTimeout:     c.ToolTimeout,
	}
}
