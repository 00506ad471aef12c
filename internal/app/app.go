package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/specialistvlad/stagegrid/internal/config"
	"github.com/specialistvlad/stagegrid/internal/ctxlog"
	"github.com/specialistvlad/stagegrid/internal/executable"
	"github.com/specialistvlad/stagegrid/internal/inputs"
	"github.com/specialistvlad/stagegrid/internal/session"
)

// Option replaces one of the remote collaborators. Tests use it to run the
// app without the platform CLI or API.
type Option func(*App)

// WithBuilder replaces the platform CLI builder.
func WithBuilder(b executable.Builder) Option {
	return func(a *App) { a.builder = b }
}

// WithStore replaces the remote workflow store.
func WithStore(s session.Store) Option {
	return func(a *App) { a.store = s }
}

// WithLinks replaces the object-link resolver.
func WithLinks(l inputs.LinkResolver) Option {
	return func(a *App) { a.links = l }
}

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	config   *Config
	settings *config.Settings
	loader   config.Loader

	builder executable.Builder
	store   session.Store
	links   inputs.LinkResolver
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger.
func NewApp(outW io.Writer, cfg *Config, loader config.Loader, opts ...Option) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	dir := cfg.WorkDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = wd
	}
	settings, err := config.ReadSettings(cfg.SettingsPath, dir)
	if err != nil {
		return nil, err
	}
	logger.Debug("Settings loaded.", "file", settings.File)

	a := &App{
		outW:     outW,
		logger:   logger,
		config:   cfg,
		settings: settings,
		loader:   loader,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Settings returns the loaded settings. This is primarily for testing.
func (a *App) Settings() *config.Settings {
	return a.settings
}

// Run executes the configured mode.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.", "mode", string(a.config.Mode))

	var err error
	switch a.config.Mode {
	case ModeValidate:
		err = a.validate(ctx)
	case ModeBuild:
		err = a.build(ctx)
	case ModeApplet:
		err = a.applet(ctx)
	case ModeStatus:
		err = a.status(ctx)
	default:
		err = fmt.Errorf("unknown mode %q", a.config.Mode)
	}

	a.logger.Debug("App.Run method finished.")
	return err
}
