package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/specialistvlad/stagegrid/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const settingsYAML = `
api:
  url: https://api.example.test
  token: from-file
journal:
  path: /var/lib/stagegrid/journal.db
events:
  url: https://events.example.test
  token: events-secret
  insecure: true
  timeout: 5s
regions:
  azure:westus:
    workflow:
      develop:
        project: project-dev
        folder: /workflows
      production:
        project: project-prod
    applet:
      develop:
        project: project-dev
        folder: /applets
`

func TestReadSettings_FromWorkingDirectory(t *testing.T) {
	dir := testutil.WriteFiles(t, map[string]string{"stagegrid.yaml": settingsYAML})

	s, err := ReadSettings("", dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "stagegrid.yaml"), s.File)
	assert.Equal(t, "https://api.example.test", s.API.URL)
	assert.Equal(t, "from-file", s.API.Token)
	assert.Equal(t, DefaultCommand, s.Builder.Command)
	assert.Equal(t, "/var/lib/stagegrid/journal.db", s.Journal.Path)
	assert.Equal(t, "events-secret", s.Events.Token)
	assert.True(t, s.Events.Insecure)
	assert.Equal(t, 5*time.Second, s.Events.Timeout)

	target, err := s.Target("azure:westus", KindWorkflow, EnvDevelop)
	require.NoError(t, err)
	assert.Equal(t, Target{Project: "project-dev", Folder: "/workflows"}, target)

	target, err = s.Target("azure:westus", KindWorkflow, EnvProduction)
	require.NoError(t, err)
	assert.Equal(t, Target{Project: "project-prod", Folder: "/"}, target, "folder defaults to the project root")
}

func TestReadSettings_NoFileUsesDefaults(t *testing.T) {
	s, err := ReadSettings("", t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, s.File)
	assert.Equal(t, DefaultAPIURL, s.API.URL)
	assert.Equal(t, DefaultCommand, s.Builder.Command)
	assert.Equal(t, "/", s.Events.Namespace)
}

func TestReadSettings_ExplicitPathMustExist(t *testing.T) {
	_, err := ReadSettings(filepath.Join(t.TempDir(), "missing.yaml"), "")
	assert.ErrorContains(t, err, "failed to read settings")
}

func TestReadSettings_EnvironmentOverrides(t *testing.T) {
	dir := testutil.WriteFiles(t, map[string]string{"stagegrid.yaml": settingsYAML})
	t.Setenv("STAGEGRID_API_TOKEN", "from-env")
	t.Setenv("STAGEGRID_EVENTS_URL", "http://localhost:4000")

	s, err := ReadSettings("", dir)
	require.NoError(t, err)
	assert.Equal(t, "from-env", s.API.Token)
	assert.Equal(t, "http://localhost:4000", s.Events.URL)
}

func TestSettings_TargetMissing(t *testing.T) {
	dir := testutil.WriteFiles(t, map[string]string{"stagegrid.yaml": settingsYAML})
	s, err := ReadSettings("", dir)
	require.NoError(t, err)

	tests := []struct {
		name, region, kind, env string
		want                    string
	}{
		{"unknown region", "aws:us-east-1", KindWorkflow, EnvDevelop, `region "aws:us-east-1"`},
		{"unknown env", "azure:westus", KindApplet, EnvProduction, `environment "production"`},
		{"unknown kind", "azure:westus", "database", EnvDevelop, "database targets"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Target(tt.region, tt.kind, tt.env)
			require.ErrorIs(t, err, ErrNoTarget)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestValidateChoice(t *testing.T) {
	require.NoError(t, ValidateChoice("region", "aws:us-east-1", Regions))
	assert.EqualError(t, ValidateChoice("environment", "staging", Environments),
		`invalid environment "staging": must be one of develop, production`)
}
