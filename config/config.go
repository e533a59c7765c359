// Package config handles xlass.toml loader configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/BurntSushi/toml"
	"github.com/ZenLiuCN/xlass"
)

// FileName of the configuration looked up by Find.
const FileName = "xlass.toml"

// Runtimes that can host units.
var Runtimes = []string{"lua", "js", "native"}

// Config represents a xlass.toml configuration.
type Config struct {
	Prefix    string    `toml:"prefix"`
	Suffix    string    `toml:"suffix"`
	Runtime   string    `toml:"runtime"`
	Debug     bool      `toml:"debug"`
	Resources Resources `toml:"resources"`
}

// Resources configures the namespaces searched, the database first then dirs in order.
type Resources struct {
	Dirs     []string `toml:"dirs"`
	Database string   `toml:"database"`
}

// Default configuration: classes/<name>.xlass in the working directory, hosted by lua.
func Default() *Config {
	return &Config{
		Prefix:  xlass.DefaultPrefix,
		Suffix:  xlass.DefaultSuffix,
		Runtime: "lua",
		Resources: Resources{
			Dirs: []string{"."},
		},
	}
}

// Load parses the configuration file at path over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c := Default()
	if err = toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	for i, d := range c.Resources.Dirs {
		if !filepath.IsAbs(d) {
			c.Resources.Dirs[i] = filepath.Join(dir, d)
		}
	}
	if c.Resources.Database != "" && !filepath.IsAbs(c.Resources.Database) {
		c.Resources.Database = filepath.Join(dir, c.Resources.Database)
	}
	if len(c.Resources.Dirs) == 0 && c.Resources.Database == "" {
		c.Resources.Dirs = []string{dir}
	}
	return c, c.Validate()
}

// Find walks up from dir looking for FileName, returning the defaults when there is none.
func Find(dir string) (*Config, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	for {
		path := filepath.Join(dir, FileName)
		if _, err = os.Stat(path); err == nil {
			return Load(path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// Validate checks the runtime name.
func (c *Config) Validate() error {
	if !slices.Contains(Runtimes, c.Runtime) {
		return fmt.Errorf("unknown runtime %q, want one of %v", c.Runtime, Runtimes)
	}
	return nil
}

// Resolve the resource path of a module name, the same path a loader built with Options resolves.
func (c *Config) Resolve(name string) string {
	return c.Prefix + name + c.Suffix
}

// Options of the loader built from this configuration.
func (c *Config) Options() []xlass.Option {
	return []xlass.Option{xlass.WithPrefix(c.Prefix), xlass.WithSuffix(c.Suffix), xlass.WithDebug(c.Debug)}
}
