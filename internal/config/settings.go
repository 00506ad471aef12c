package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// SettingsName is the settings file looked up in the working directory
	// when no explicit path is given.
	SettingsName = "stagegrid"
	// EnvPrefix prefixes every environment override, e.g. STAGEGRID_API_TOKEN.
	EnvPrefix = "STAGEGRID"

	KindApplet   = "applet"
	KindWorkflow = "workflow"

	EnvDevelop    = "develop"
	EnvProduction = "production"

	DefaultRegion  = "azure:westus"
	DefaultAPIURL  = "https://api.dnanexus.com"
	DefaultCommand = "dx"
)

// Regions lists the regions accepted on the command line.
var Regions = []string{"azure:westus", "aws:us-east-1"}

// Environments lists the environments accepted on the command line.
var Environments = []string{EnvDevelop, EnvProduction}

// Target is the project and folder a build writes into.
type Target struct {
	Project string `mapstructure:"project"`
	Folder  string `mapstructure:"folder"`
}

// Settings is the parsed settings file.
type Settings struct {
	API struct {
		URL   string `mapstructure:"url"`
		Token string `mapstructure:"token"`
	} `mapstructure:"api"`

	Builder struct {
		Command string `mapstructure:"command"`
		// SourceRoot is where executable sources are looked up. Relative
		// executable names in a workflow are joined onto it.
		SourceRoot string `mapstructure:"source_root"`
	} `mapstructure:"builder"`

	Journal struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"journal"`

	Events struct {
		URL       string `mapstructure:"url"`
		Namespace string `mapstructure:"namespace"`
		// Token is sent as the socket.io auth payload.
		Token    string        `mapstructure:"token"`
		Insecure bool          `mapstructure:"insecure"`
		Timeout  time.Duration `mapstructure:"timeout"`
	} `mapstructure:"events"`

	Tracing struct {
		// Exporter is "", "stdout" or "otlp".
		Exporter string `mapstructure:"exporter"`
		Endpoint string `mapstructure:"endpoint"`
		Insecure bool   `mapstructure:"insecure"`
	} `mapstructure:"tracing"`

	// Regions maps region → object kind → environment → target.
	Regions map[string]map[string]map[string]Target `mapstructure:"regions"`

	// File is the settings file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

// ErrNoTarget is returned by Target when the settings have no entry.
var ErrNoTarget = errors.New("no build target configured")

// ReadSettings reads the settings file at path. With an empty path it looks
// for stagegrid.yaml in dir and falls back to defaults when none is present.
// STAGEGRID_* environment variables override file values.
func ReadSettings(path, dir string) (*Settings, error) {
	v := viper.New()
	v.SetDefault("api.url", DefaultAPIURL)
	v.SetDefault("builder.command", DefaultCommand)
	v.SetDefault("events.namespace", "/")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"api.url", "api.token", "builder.command", "builder.source_root", "journal.path", "events.url", "events.token", "tracing.exporter", "tracing.endpoint"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		if dir == "" {
			dir = "."
		}
		v.AddConfigPath(dir)
		v.SetConfigName(SettingsName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read settings: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	s.File = v.ConfigFileUsed()
	return &s, nil
}

// Target returns the build target for a region, object kind and environment.
func (s *Settings) Target(region, kind, env string) (Target, error) {
	kinds, ok := s.Regions[strings.ToLower(region)]
	if !ok {
		return Target{}, fmt.Errorf("%w: region %q (configured: %s)", ErrNoTarget, region, strings.Join(keys(s.Regions), ", "))
	}
	envs, ok := kinds[kind]
	if !ok {
		return Target{}, fmt.Errorf("%w: %s targets in region %q", ErrNoTarget, kind, region)
	}
	t, ok := envs[env]
	if !ok {
		return Target{}, fmt.Errorf("%w: %s target for environment %q in region %q", ErrNoTarget, kind, env, region)
	}
	if t.Project == "" {
		return Target{}, fmt.Errorf("%s target for %s/%s has no project", kind, region, env)
	}
	if t.Folder == "" {
		t.Folder = "/"
	}
	return t, nil
}

// ValidateChoice checks value against a fixed list of accepted values.
func ValidateChoice(name, value string, allowed []string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q: must be one of %s", name, value, strings.Join(allowed, ", "))
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
