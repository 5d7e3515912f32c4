// Package options loads per-project build settings from jvlm.toml.
package options

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// FileName is the well-known options file name.
const FileName = "jvlm.toml"

// Options hold the build settings for one project. The zero value is
// the default configuration.
type Options struct {
	Output   Output   `toml:"output"`
	Launcher Launcher `toml:"launcher"`
}

// Output controls the produced archive.
type Output struct {
	// Jar is the output path. Empty means derive it from the input
	// file name.
	Jar string `toml:"jar"`
	// MainClass sets the manifest Main-Class attribute when non-empty.
	MainClass string `toml:"main_class"`
}

// Launcher requests a synthesized entry point class inside the jar.
type Launcher struct {
	Enabled bool `toml:"enabled"`
	// Entry is the dotted entry point, e.g. jvlm.intTest.intTest.
	Entry string `toml:"entry"`
	// Args are the integer literals passed to the entry point.
	Args []int64 `toml:"args"`
}

// Load reads options from an explicit path.
func Load(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read options: %w", err)
	}
	var opts Options
	if err := toml.Unmarshal(data, &opts); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &opts, nil
}

// Find searches for FileName in the directory holding start and then in
// each parent directory. It returns the empty string when no options
// file exists on that path.
func Find(start string) string {
	info, err := os.Stat(start)
	if err != nil {
		return ""
	}
	dir := start
	if !info.IsDir() {
		dir = filepath.Dir(start)
	}
	dir, err = filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
