package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every tunable of one engine run.
type Config struct {
	// Input. Exactly one of InputDir / InputFile must be set; Validate
	// enforces this.
	InputDir  string `env:"CDR_INPUT_DIR"`
	InputFile string `env:"CDR_INPUT_FILE"`

	// Classification.
	ExtensionRanges string `env:"EXTENSION_RANGES"` // comma-separated, e.g. "1000-1999,2000-2099"
	EndpointMapPath string `env:"ENDPOINT_MAP_PATH"`
	VoicemailNumber string `env:"VOICEMAIL_NUMBER"`

	// Pipeline tuning.
	MaxCachedLegs int  `env:"MAX_CACHED_LEGS" envDefault:"0"`
	EarlyEmit     bool `env:"EARLY_EMIT" envDefault:"false"`

	// Output.
	OutputCSVPath string `env:"OUTPUT_CSV_PATH"`
	DatabaseURL   string `env:"DATABASE_URL"`

	// Observability.
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Validate checks the minimal invariants Load cannot express via struct
// tags alone: exactly one input source, and at least one sink.
func (c *Config) Validate() error {
	if c.InputDir == "" && c.InputFile == "" {
		return fmt.Errorf("one of CDR_INPUT_DIR or CDR_INPUT_FILE must be set")
	}
	if c.InputDir != "" && c.InputFile != "" {
		return fmt.Errorf("only one of CDR_INPUT_DIR or CDR_INPUT_FILE may be set")
	}
	if c.OutputCSVPath == "" && c.DatabaseURL == "" {
		return fmt.Errorf("at least one of OUTPUT_CSV_PATH or DATABASE_URL must be set")
	}
	return nil
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile         string
	InputDir        string
	InputFile       string
	ExtensionRanges string
	EndpointMapPath string
	VoicemailNumber string
	OutputCSVPath   string
	DatabaseURL     string
	HTTPAddr        string
	LogLevel        string

	// EarlyEmit is a tri-state override: "" leaves EARLY_EMIT/the struct
	// default untouched, "true"/"false" wins over both.
	EarlyEmit string
}

// Load reads configuration from a .env file, environment variables, and
// CLI overrides. Priority: CLI flags > environment variables > .env file >
// struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if overrides.InputDir != "" {
		cfg.InputDir = overrides.InputDir
	}
	if overrides.InputFile != "" {
		cfg.InputFile = overrides.InputFile
	}
	if overrides.ExtensionRanges != "" {
		cfg.ExtensionRanges = overrides.ExtensionRanges
	}
	if overrides.EndpointMapPath != "" {
		cfg.EndpointMapPath = overrides.EndpointMapPath
	}
	if overrides.VoicemailNumber != "" {
		cfg.VoicemailNumber = overrides.VoicemailNumber
	}
	if overrides.OutputCSVPath != "" {
		cfg.OutputCSVPath = overrides.OutputCSVPath
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.EarlyEmit != "" {
		cfg.EarlyEmit = overrides.EarlyEmit == "true"
	}

	return cfg, nil
}
