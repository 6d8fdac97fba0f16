// Package catalog holds the known values the dashboard enumerates for each
// dimension.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"footfall/internal/keys"
)

//go:embed default.yaml
var defaultYAML []byte

// Catalog lists known values per dimension, in display tie-break order.
type Catalog struct {
	Paths     []string `yaml:"paths"`
	Referrers []string `yaml:"referrers"`
	Devices   []string `yaml:"devices"`
	Countries []string `yaml:"countries"`
	States    []string `yaml:"states"`
	Cities    []string `yaml:"cities"`
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded default is invalid: %v", err))
	}
	return c
}

// Load reads a catalog file. Lists the file leaves empty keep their defaults.
// An empty path returns Default().
func Load(path string) (*Catalog, error) {
	base := Default()
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	override, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", path, err)
	}
	base.merge(override)
	return base, nil
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) merge(o *Catalog) {
	pick := func(dst *[]string, src []string) {
		if len(src) > 0 {
			*dst = src
		}
	}
	pick(&c.Paths, o.Paths)
	pick(&c.Referrers, o.Referrers)
	pick(&c.Devices, o.Devices)
	pick(&c.Countries, o.Countries)
	pick(&c.States, o.States)
	pick(&c.Cities, o.Cities)
}

// validate rejects two values of one dimension that share a counter key;
// the dashboard would show the same count twice.
func (c *Catalog) validate() error {
	for _, dim := range []keys.Dimension{keys.Path, keys.Referrer, keys.Device, keys.Country, keys.State, keys.City} {
		seen := make(map[string]string)
		for _, v := range c.list(dim) {
			if strings.TrimSpace(v) == "" {
				return fmt.Errorf("empty %s value", dim)
			}
			k := keys.Value(dim, v)
			if prev, ok := seen[k]; ok {
				return fmt.Errorf("%s values %q and %q map to the same key", dim, prev, v)
			}
			seen[k] = v
		}
	}
	return nil
}

func (c *Catalog) list(dim keys.Dimension) []string {
	switch dim {
	case keys.Path:
		return c.Paths
	case keys.Referrer:
		return c.Referrers
	case keys.Device:
		return c.Devices
	case keys.Country:
		return c.Countries
	case keys.State:
		return c.States
	case keys.City:
		return c.Cities
	}
	return nil
}

// Values returns the values enumerated for dim. Geographic dimensions end
// with the unknown sentinel so failed lookups stay visible.
func (c *Catalog) Values(dim keys.Dimension) []string {
	list := c.list(dim)
	out := make([]string, 0, len(list)+1)
	out = append(out, list...)
	switch dim {
	case keys.Country, keys.State, keys.City:
		unknownKey := keys.Value(dim, keys.Unknown)
		for _, v := range list {
			if keys.Value(dim, v) == unknownKey {
				return out
			}
		}
		out = append(out, keys.Unknown)
	}
	return out
}
