package config

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"regexp"

	"gitlab.com/tozd/go/errors"
)

var packageRef = regexp.MustCompile(`(?i)\{package:([a-z]+)(?:\.([a-z]+))?\}`)

// ReadPackage reads a package.json file. A missing file yields nil.
func ReadPackage(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var pkg map[string]interface{}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, errors.Errorf("decode %s: %w", path, err)
	}
	return pkg, nil
}

// ExpandString replaces {package:name} and {package:name.sub} references with values from pkg.
// References to missing or non-scalar values are kept.
func ExpandString(s string, pkg map[string]interface{}) string {
	if pkg == nil {
		return s
	}
	return packageRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := packageRef.FindStringSubmatch(ref)
		v, ok := pkg[m[1]]
		if !ok {
			return ref
		}
		if m[2] != "" {
			if obj, isObj := v.(map[string]interface{}); isObj {
				if sub, ok := obj[m[2]]; ok {
					v = sub
				}
			}
		}
		switch v := v.(type) {
		case string:
			return v
		case float64, bool:
			return fmt.Sprint(v)
		}
		return ref
	})
}

// Expand replaces package references within all string settings and property values.
func (c *Config) Expand(pkg map[string]interface{}) {
	for _, p := range []*string{&c.Entry, &c.Out, &c.Donor, &c.Version, &c.Icon, &c.ExecutionLevel, &c.Prelude} {
		*p = ExpandString(*p, pkg)
	}
	for k, v := range c.Properties {
		c.Properties[k] = ExpandString(v, pkg)
	}
}
