// Package config handles klang.toml configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "klang.toml"

// Config represents a klang.toml file.
type Config struct {
	Optimizer Optimizer `toml:"optimizer"`
	Engine    Engine    `toml:"engine"`
	Log       Log       `toml:"log"`
	REPL      REPL      `toml:"repl"`

	// Dir is the directory containing the klang.toml file (set at load time,
	// empty for defaults).
	Dir string `toml:"-"`
}

// Optimizer configures the pass pipeline run on every definition.
type Optimizer struct {
	Enabled bool     `toml:"enabled"`
	Passes  []string `toml:"passes"`
}

// Engine configures execution limits. Zero means unlimited.
type Engine struct {
	MaxCallDepth int   `toml:"max-call-depth"`
	MaxSteps     int64 `toml:"max-steps"`
}

// Log configures commonlog output.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// REPL configures the interactive prompt.
type REPL struct {
	Prompt       string `toml:"prompt"`
	Continuation string `toml:"continuation"`
	History      string `toml:"history"`
}

// Default returns the configuration used when no klang.toml exists.
func Default() *Config {
	c := &Config{}
	c.Optimizer.Enabled = true
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if len(c.Optimizer.Passes) == 0 {
		c.Optimizer.Passes = []string{"basic-aa", "mem2reg", "instcombine", "reassociate", "gvn", "simplifycfg"}
	}
	if c.Engine.MaxCallDepth == 0 {
		c.Engine.MaxCallDepth = 10000
	}
	if c.REPL.Prompt == "" {
		c.REPL.Prompt = "ready> "
	}
	if c.REPL.Continuation == "" {
		c.REPL.Continuation = "   ... "
	}
	if c.REPL.History == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.REPL.History = filepath.Join(home, ".klang_history")
		}
	}
}

// Parse decodes klang.toml content. Keys that are absent keep their defaults.
func Parse(data []byte) (*Config, error) {
	c := &Config{Optimizer: Optimizer{Enabled: true}}
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %q", undecoded[0].String())
	}
	c.applyDefaults()
	return c, nil
}

// Load parses the klang.toml file in dir.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	return LoadFile(path)
}

// LoadFile parses the configuration file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	c.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a klang.toml file and loads it.
// It returns the defaults if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return Default(), nil
		}
		dir = parent
	}
}

// LogPath returns the log file path for commonlog.Configure, or nil for
// stderr.
func (c *Config) LogPath() *string {
	if c.Log.File == "" {
		return nil
	}
	path := c.Log.File
	if !filepath.IsAbs(path) && c.Dir != "" {
		path = filepath.Join(c.Dir, path)
	}
	return &path
}
