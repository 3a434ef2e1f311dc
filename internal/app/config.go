package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// ConfigPath is the HCL pipeline definition file.
	ConfigPath string
	// SheetPath optionally points at a groups TSV samplesheet merged over
	// the HCL group blocks.
	SheetPath string

	LogFormat string
	LogLevel  string
	Workers   int
	DryRun    bool
}

// NewConfig validates the raw configuration values.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.ConfigPath == "" {
		return nil, errors.New("ConfigPath is a required configuration field and cannot be empty")
	}
	if cfg.Workers < 1 {
		return nil, errors.New("Workers must be at least 1")
	}
	return &cfg, nil
}
