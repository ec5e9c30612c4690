// Package config manages cmine configuration and the .cmine workspace
// directory. It handles loading, saving, and initializing the configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pelletier/go-toml/v2"
)

const (
	WorkspaceDir = ".cmine"
	ConfigFile   = "config"
	DatabaseFile = "cmine.db"
)

// Defaults applied to missing config values.
const (
	DefaultDriver        = "bbolt"
	DefaultScenarioLimit = 100
	DefaultGitBinary     = "git"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
)

// Config represents the cmine configuration
type Config struct {
	Store  StoreConfig  `toml:"store"`
	Mining MiningConfig `toml:"mining"`
	Log    LogConfig    `toml:"log"`
	path   string       // path to .cmine directory
}

// StoreConfig selects the persistence driver.
type StoreConfig struct {
	Driver   string `toml:"driver"`             // bbolt, sqlite or mongo
	Path     string `toml:"path,omitempty"`     // database file, relative to the workspace
	URI      string `toml:"uri,omitempty"`      // mongo only
	Database string `toml:"database,omitempty"` // mongo only
}

// MiningConfig controls a mining run.
type MiningConfig struct {
	ScenarioLimit int    `toml:"scenario_limit"`
	Workers       int    `toml:"workers"`
	GitBinary     string `toml:"git_binary"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = DefaultDriver
	}
	if c.Mining.ScenarioLimit == 0 {
		c.Mining.ScenarioLimit = DefaultScenarioLimit
	}
	if c.Mining.Workers <= 0 {
		c.Mining.Workers = runtime.NumCPU()
	}
	if c.Mining.GitBinary == "" {
		c.Mining.GitBinary = DefaultGitBinary
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

// FindRoot finds the .cmine directory by walking up from dir
func FindRoot(dir string) (string, error) {
	for {
		wsPath := filepath.Join(dir, WorkspaceDir)
		if info, err := os.Stat(wsPath); err == nil && info.IsDir() {
			return wsPath, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a cmine workspace (or any parent up to root)")
		}
		dir = parent
	}
}

// Load loads the configuration of the workspace containing the current
// directory
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return LoadFrom(cwd)
}

// LoadFrom loads the configuration of the workspace containing dir
func LoadFrom(dir string) (*Config, error) {
	wsPath, err := FindRoot(dir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(wsPath, ConfigFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.path = wsPath
	return &cfg, nil
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(filepath.Join(c.path, ConfigFile), data, 0644)
}

// WorkspacePath returns the path to the .cmine directory
func (c *Config) WorkspacePath() string {
	return c.path
}

// DatabasePath returns the path of the bbolt or SQLite database file.
// Relative paths are resolved against the workspace directory.
func (c *Config) DatabasePath() string {
	switch {
	case c.Store.Path == "":
		return filepath.Join(c.path, DatabaseFile)
	case filepath.IsAbs(c.Store.Path):
		return c.Store.Path
	default:
		return filepath.Join(c.path, c.Store.Path)
	}
}

// Initialize creates a new .cmine directory in dir with initial configuration
func Initialize(dir, driver string) (*Config, error) {
	wsPath := filepath.Join(dir, WorkspaceDir)

	// Check if already initialized
	if _, err := os.Stat(wsPath); err == nil {
		return nil, fmt.Errorf("cmine workspace already exists")
	}

	if err := os.MkdirAll(wsPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s directory: %w", WorkspaceDir, err)
	}

	cfg := Default()
	if driver != "" {
		cfg.Store.Driver = driver
	}
	cfg.path = wsPath

	if err := cfg.Save(); err != nil {
		// Cleanup on failure
		os.RemoveAll(wsPath)
		return nil, err
	}

	return cfg, nil
}
