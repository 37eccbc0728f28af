// Package config loads the hotpatch CLI settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds the CLI settings.
type Config struct {
	// GoPath is the GOPATH directory, relative to the source root, used by
	// plans that do not name one.
	GoPath string `yaml:"gopath"`
	// Debug writes every patched source under CacheDir.
	Debug    bool   `yaml:"debug"`
	CacheDir string `yaml:"cache_dir"`
	LogLevel string `yaml:"log_level"`
	// Threads bounds how many plans are checked at once.
	Threads int `yaml:"threads"`
}

// DefaultConfig returns the settings used when no file is given.
func DefaultConfig() *Config {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		cacheDir = os.TempDir()
	}

	return &Config{
		GoPath:   "gopath",
		CacheDir: cacheDir,
		LogLevel: "info",
		Threads:  1,
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)

		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("HOTPATCH_DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("HOTPATCH_DEBUG: %w", err)
		}

		c.Debug = debug
	}

	if dir := os.Getenv("HOTPATCH_CACHE_DIR"); dir != "" {
		c.CacheDir = dir
	}

	if gopath := os.Getenv("HOTPATCH_GOPATH"); gopath != "" {
		c.GoPath = gopath
	}

	return nil
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}

	if c.Threads < 0 {
		return fmt.Errorf("threads must not be negative, got %d", c.Threads)
	}

	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (zapcore.Level, error) {
	if c.LogLevel == "" {
		return zapcore.InfoLevel, nil
	}

	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return level, fmt.Errorf("log_level: %w", err)
	}

	return level, nil
}

// Logger builds the production logger for these settings. verbose forces
// debug level.
func (c *Config) Logger(verbose bool) (*zap.Logger, error) {
	level, err := c.Level()
	if err != nil {
		return nil, err
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)

	if verbose || c.Debug {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return logger, nil
}
