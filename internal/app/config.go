package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/specialistvlad/stagegrid/internal/config"
)

// Mode selects what a run does.
type Mode string

const (
	ModeBuild    Mode = "build"
	ModeValidate Mode = "validate"
	ModeApplet   Mode = "applet"
	ModeStatus   Mode = "status"
)

var (
	LogLevels  = []string{"debug", "info", "warn", "error"}
	LogFormats = []string{"json", "text", "pretty"}
)

// DefaultStatusLimit is how many builds status lists.
const DefaultStatusLimit = 20

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	Mode Mode
	// Path is the workflow file for build and validate, or the executable
	// source directory for applet.
	Path string
	// BuildID selects one journal entry for status. Empty lists recent builds.
	BuildID string
	Limit   int

	SettingsPath string // stagegrid.yaml; looked up in WorkDir when empty
	WorkDir      string

	Environment string
	Region      string
	DryRun      bool

	LogFormat   string
	LogLevel    string
	CallTimeout time.Duration
}

func NewConfig(cfg Config) (*Config, error) {
	switch cfg.Mode {
	case ModeBuild, ModeValidate, ModeApplet:
		if cfg.Path == "" {
			return nil, fmt.Errorf("a path is required for %s", cfg.Mode)
		}
	case ModeStatus:
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}

	if cfg.Environment == "" {
		cfg.Environment = config.EnvDevelop
	}
	if cfg.Region == "" {
		cfg.Region = config.DefaultRegion
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultStatusLimit
	}

	if err := errors.Join(
		config.ValidateChoice("environment", cfg.Environment, config.Environments),
		config.ValidateChoice("region", cfg.Region, config.Regions),
		config.ValidateChoice("log-level", cfg.LogLevel, LogLevels),
		config.ValidateChoice("log-format", cfg.LogFormat, LogFormats),
	); err != nil {
		return nil, err
	}
	if cfg.CallTimeout < 0 {
		return nil, errors.New("call-timeout cannot be negative")
	}
	return &cfg, nil
}
