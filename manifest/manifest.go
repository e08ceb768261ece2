// Package manifest handles regc.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the manifest file looked up by Load and FindAndLoad.
const FileName = "regc.toml"

// Output formats.
const (
	FormatCBOR = "cbor"
	FormatText = "text"
)

// Manifest represents a regc.toml project configuration.
type Manifest struct {
	Project Project       `toml:"project"`
	Compile CompileConfig `toml:"compile"`
	Output  OutputConfig  `toml:"output"`
	Cache   CacheConfig   `toml:"cache"`
	Log     LogConfig     `toml:"log"`

	// Dir is the directory containing the regc.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// CompileConfig selects what to compile and how.
type CompileConfig struct {
	Graph           string `toml:"graph"`
	Entry           string `toml:"entry"`
	ResultRegisters int    `toml:"result-registers"`
}

// OutputConfig configures artefact output.
type OutputConfig struct {
	Path   string `toml:"path"`
	Format string `toml:"format"`
}

// CacheConfig configures the artefact cache.
type CacheConfig struct {
	Path    string `toml:"path"`
	Enabled bool   `toml:"enabled"`
}

// LogConfig configures logging.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Load parses a regc.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if m.Compile.ResultRegisters == 0 {
		m.Compile.ResultRegisters = 16
	}
	if m.Output.Format == "" {
		m.Output.Format = FormatCBOR
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &m, nil
}

func (m *Manifest) validate() error {
	switch m.Output.Format {
	case FormatCBOR, FormatText:
	default:
		return fmt.Errorf("unknown output format %q", m.Output.Format)
	}
	if m.Compile.ResultRegisters < 0 {
		return fmt.Errorf("result-registers must be positive, got %d", m.Compile.ResultRegisters)
	}
	return nil
}

// FindAndLoad walks up from startDir to find a regc.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
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
			return nil, nil
		}
		dir = parent
	}
}

// Path resolves p against the manifest directory. Absolute and empty
// paths are returned unchanged.
func (m *Manifest) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// GraphPath returns the absolute path of the configured graph description.
func (m *Manifest) GraphPath() string {
	return m.Path(m.Compile.Graph)
}

// CachePath returns the absolute cache database path, or "" when the
// cache is disabled.
func (m *Manifest) CachePath() string {
	if !m.Cache.Enabled {
		return ""
	}
	if m.Cache.Path == "" {
		return filepath.Join(m.Dir, ".regc", "cache.db")
	}
	return m.Path(m.Cache.Path)
}

// OutputPath returns the absolute artefact output path, or "" for stdout.
func (m *Manifest) OutputPath() string {
	return m.Path(m.Output.Path)
}
