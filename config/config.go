package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BackupConfig holds tuning knobs for the backup core.
type BackupConfig struct {
	// YieldEveryPages controls how often the copier yields the scheduler
	// and checks for cancellation during the data-file stage.
	YieldEveryPages int `yaml:"yield_every_pages"`
	// ProgressEveryPages controls how often the copier publishes progress.
	ProgressEveryPages int `yaml:"progress_every_pages"`
	// ShadowMemoryFraction is the fraction of available system memory the
	// in-memory shadow store may occupy before spilling pages to its side
	// file. Zero disables spilling.
	ShadowMemoryFraction float64 `yaml:"shadow_memory_fraction"`
	// AuxiliaryFileSuffixes lists suffixes appended to the database path to
	// locate auxiliary metadata files. The backup manager does not read this
	// field; the files it copies come from EngineProvider.GetAuxiliaryFiles.
	AuxiliaryFileSuffixes []string `yaml:"auxiliary_file_suffixes"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Output string `yaml:"output"` // "stdout", "file", "none"
	File   string `yaml:"file"`   // log file path when output is "file"
}

// Config is the root configuration document.
type Config struct {
	Backup  BackupConfig  `yaml:"backup"`
	Logging LoggingConfig `yaml:"logging"`
}

// DefaultConfig returns the configuration used when no file is supplied.
func DefaultConfig() *Config {
	return &Config{
		Backup: BackupConfig{
			YieldEveryPages:       1024,
			ProgressEveryPages:    128,
			ShadowMemoryFraction:  0.25,
			AuxiliaryFileSuffixes: []string{".lock"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
		},
	}
}

// LoadConfig reads the YAML configuration at path. An empty path yields the
// defaults. Fields absent from the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges that would otherwise fail deep inside a backup.
func (c *Config) Validate() error {
	if c.Backup.YieldEveryPages <= 0 {
		return fmt.Errorf("backup.yield_every_pages must be positive, got %d", c.Backup.YieldEveryPages)
	}
	if c.Backup.ProgressEveryPages <= 0 {
		return fmt.Errorf("backup.progress_every_pages must be positive, got %d", c.Backup.ProgressEveryPages)
	}
	if c.Backup.ShadowMemoryFraction < 0 || c.Backup.ShadowMemoryFraction > 1 {
		return fmt.Errorf("backup.shadow_memory_fraction must be in [0,1], got %g", c.Backup.ShadowMemoryFraction)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level)
	}
	switch c.Logging.Output {
	case "stdout", "file", "none":
	default:
		return fmt.Errorf("logging.output must be one of stdout/file/none, got %q", c.Logging.Output)
	}
	return nil
}
