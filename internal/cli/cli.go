package cli

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/specialistvlad/stagegrid/internal/app"
	"github.com/specialistvlad/stagegrid/internal/config"
	"github.com/specialistvlad/stagegrid/internal/graph"
)

// Process exit codes.
const (
	ExitBuild      = 1
	ExitUsage      = 2
	ExitValidation = 3
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Classify maps a run error to an ExitError: validation violations exit 3,
// everything else exits 1.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee
	}
	if len(graph.Violations(err)) > 0 {
		return &ExitError{Code: ExitValidation, Message: err.Error()}
	}
	return &ExitError{Code: ExitBuild, Message: err.Error()}
}

// globals are the persistent flags shared by every subcommand.
type globals struct {
	settings    string
	env         string
	region      string
	dryRun      bool
	logFormat   string
	logLevel    string
	callTimeout time.Duration
}

func (g *globals) register(fs *pflag.FlagSet) {
	fs.StringVarP(&g.settings, "config", "c", "", "Settings file (default: ./"+config.SettingsName+".yaml).")
	fs.StringVarP(&g.env, "env", "e", config.EnvDevelop, "Build environment: develop or production.")
	fs.StringVarP(&g.region, "region", "r", config.DefaultRegion, "Platform region: azure:westus or aws:us-east-1.")
	fs.BoolVar(&g.dryRun, "dry-run", false, "Build executables with -n and assemble the workflow in memory.")
	fs.StringVar(&g.logFormat, "log-format", "json", "Log output format: json, text or pretty.")
	fs.StringVar(&g.logLevel, "log-level", "info", "Logging level: debug, info, warn or error.")
	fs.DurationVar(&g.callTimeout, "call-timeout", 0, "Timeout of each remote call. 0 means none.")
}

func (g *globals) config(mode app.Mode) app.Config {
	return app.Config{
		Mode:         mode,
		SettingsPath: g.settings,
		Environment:  g.env,
		Region:       g.region,
		DryRun:       g.dryRun,
		LogFormat:    g.logFormat,
		LogLevel:     g.logLevel,
		CallTimeout:  g.callTimeout,
	}
}

// newRootCommand builds the command tree. done receives the configuration of
// the selected subcommand.
func newRootCommand(done func(app.Config) error) *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "stagegrid",
		Short: "Assemble multi-stage workflows on the remote platform",
		Long: `stagegrid validates a workflow definition, builds every executable it
references, and assembles the workflow object on the platform: stages are
attached first, their inputs bound second, and the workflow is sealed last.

Workflow files may be JSON, YAML or HCL.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	g.register(root.PersistentFlags())

	root.AddCommand(&cobra.Command{
		Use:   "build WORKFLOW",
		Short: "Validate, build and seal a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg := g.config(app.ModeBuild)
			cfg.Path = args[0]
			return done(cfg)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "validate WORKFLOW",
		Short: "Check a workflow definition without touching the platform",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg := g.config(app.ModeValidate)
			cfg.Path = args[0]
			return done(cfg)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "applet APPLET_DIR",
		Short: "Build a single executable",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg := g.config(app.ModeApplet)
			cfg.Path = args[0]
			return done(cfg)
		},
	})

	var limit int
	status := &cobra.Command{
		Use:   "status [BUILD_ID]",
		Short: "Show recorded builds from the journal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg := g.config(app.ModeStatus)
			cfg.Limit = limit
			if len(args) == 1 {
				cfg.BuildID = args[0]
			}
			return done(cfg)
		},
	}
	status.Flags().IntVarP(&limit, "limit", "n", app.DefaultStatusLimit, "Number of builds to list.")
	root.AddCommand(status)

	return root
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")

	var cfg *app.Config
	root := newRootCommand(func(c app.Config) error {
		built, err := app.NewConfig(c)
		if err != nil {
			return err
		}
		cfg = built
		return nil
	})
	root.SetArgs(args)
	root.SetOut(output)
	root.SetErr(output)

	if err := root.Execute(); err != nil {
		return nil, false, &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	if cfg == nil {
		slog.Debug("No command selected, usage printed.")
		return nil, true, nil
	}

	slog.Debug("CLI parser finished successfully.", "mode", string(cfg.Mode))
	return cfg, false, nil
}
