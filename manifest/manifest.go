// Package manifest handles parens.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the name of the configuration file looked up by FindAndLoad.
const FileName = "parens.toml"

// Default settings applied when parens.toml leaves them out.
const (
	DefaultMaxFrames = 10000
	DefaultPort      = 8081
	DefaultPrompt    = "> "
	DefaultHistory   = ".parens_history"
)

// Manifest represents a parens.toml configuration.
type Manifest struct {
	VM     VMConfig     `toml:"vm"`
	REPL   REPLConfig   `toml:"repl"`
	Load   LoadConfig   `toml:"load"`
	Cache  CacheConfig  `toml:"cache"`
	Server ServerConfig `toml:"server"`

	// Dir is the directory containing the parens.toml file (set at load time).
	Dir string `toml:"-"`
}

// VMConfig tunes the interpreter.
type VMConfig struct {
	MaxFrames int  `toml:"max-frames"`
	Trace     bool `toml:"trace"`
}

// REPLConfig configures the interactive loop.
type REPLConfig struct {
	History string `toml:"history"`
	Prompt  string `toml:"prompt"`
}

// LoadConfig lists source files evaluated before anything else.
type LoadConfig struct {
	Prelude []string `toml:"prelude"`
}

// CacheConfig enables the compiled-chunk cache when Path is set.
type CacheConfig struct {
	Path string `toml:"path"`
}

// ServerConfig configures the evaluation service.
type ServerConfig struct {
	Port int `toml:"port"`
}

// Default returns a manifest holding only default settings, rooted at the
// current directory.
func Default() *Manifest {
	m := &Manifest{Dir: "."}
	m.applyDefaults()
	return m
}

// Load parses a parens.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses the configuration file at path.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown setting %s", path, undecoded[0])
	}

	m.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	if m.VM.MaxFrames < 0 {
		return nil, fmt.Errorf("%s: vm.max-frames must not be negative", path)
	}

	m.applyDefaults()
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if m.VM.MaxFrames == 0 {
		m.VM.MaxFrames = DefaultMaxFrames
	}
	if m.REPL.Prompt == "" {
		m.REPL.Prompt = DefaultPrompt
	}
	if m.REPL.History == "" {
		m.REPL.History = DefaultHistory
	}
	if m.Server.Port == 0 {
		m.Server.Port = DefaultPort
	}
}

// FindAndLoad walks up from startDir to find a parens.toml file,
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

// PreludePaths returns the configured prelude files, relative paths
// resolved against the manifest directory.
func (m *Manifest) PreludePaths() []string {
	var paths []string
	for _, p := range m.Load.Prelude {
		paths = append(paths, m.resolve(p))
	}
	return paths
}

// CachePath returns the cache database path, or "" when caching is off.
func (m *Manifest) CachePath() string {
	if m.Cache.Path == "" {
		return ""
	}
	return m.resolve(m.Cache.Path)
}

// HistoryPath returns the REPL history file. Relative paths live in the
// user's home directory.
func (m *Manifest) HistoryPath() string {
	if filepath.IsAbs(m.REPL.History) {
		return m.REPL.History
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return m.resolve(m.REPL.History)
	}
	return filepath.Join(home, m.REPL.History)
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
