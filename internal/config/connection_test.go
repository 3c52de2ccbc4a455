package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() ConnectionSettings {
	return ConnectionSettings{
		BaseURL:  "https://tracker.example.com/",
		Username: "analyst@example.com",
		APIToken: "tok",
		Project:  "SOC",
	}
}

func TestNewConnection_Defaults(t *testing.T) {
	d, warnings, err := NewConnection(validSettings())
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, "https://tracker.example.com", d.BaseURL())
	assert.Equal(t, "https://tracker.example.com/rest/api/2", d.APIURL())
	assert.Equal(t, AuthToken, d.AuthMethod())
	assert.Equal(t, "tok", d.Secret())
	assert.Equal(t, "SOC", d.ProjectKey())
	assert.Equal(t, DefaultIssueType, d.IssueType())
	assert.Equal(t, DefaultMinWait, d.MinWait())
	assert.Equal(t, DefaultMaxWait, d.MaxWait())
	assert.Equal(t, DefaultTimeout, d.Timeout())
}

func TestNewConnection_TokenPreferredOverPassword(t *testing.T) {
	s := validSettings()
	s.Password = "pw"
	d, _, err := NewConnection(s)
	require.NoError(t, err)
	assert.Equal(t, AuthToken, d.AuthMethod())

	s.APIToken = ""
	d, _, err = NewConnection(s)
	require.NoError(t, err)
	assert.Equal(t, AuthPassword, d.AuthMethod())
	assert.Equal(t, "pw", d.Secret())
}

func TestNewConnection_Errors(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*ConnectionSettings)
		sentinel error
		field    string
	}{
		{
			name:   "missing base url",
			mutate: func(s *ConnectionSettings) { s.BaseURL = "" },
			field:  KeyBaseURL,
		},
		{
			name:     "placeholder base url",
			mutate:   func(s *ConnectionSettings) { s.BaseURL = PlaceholderBaseURL },
			sentinel: ErrPlaceholderEndpoint,
			field:    KeyBaseURL,
		},
		{
			name:   "relative base url",
			mutate: func(s *ConnectionSettings) { s.BaseURL = "tracker.local" },
			field:  KeyBaseURL,
		},
		{
			name:   "missing username",
			mutate: func(s *ConnectionSettings) { s.Username = "" },
			field:  KeyUsername,
		},
		{
			name:     "no credentials",
			mutate:   func(s *ConnectionSettings) { s.APIToken = "" },
			sentinel: ErrNoCredentials,
			field:    KeyAPIToken,
		},
		{
			name:   "min above max",
			mutate: func(s *ConnectionSettings) { s.MinWait = "6"; s.MaxWait = "2" },
			field:  KeyMinWait,
		},
		{
			name:   "bad wait",
			mutate: func(s *ConnectionSettings) { s.MaxWait = "soon" },
			field:  KeyMaxWait,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.mutate(&s)

			_, _, err := NewConnection(s)
			require.Error(t, err)
			assert.True(t, IsConfigError(err))
			if tt.sentinel != nil {
				assert.True(t, errors.Is(err, tt.sentinel))
			}

			var verrs *ValidationErrors
			require.True(t, errors.As(err, &verrs))
			fields := make([]string, 0, len(verrs.Errors))
			for _, e := range verrs.Errors {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestNewConnection_DefaultProjectWarns(t *testing.T) {
	s := validSettings()
	s.Project = ""
	d, warnings, err := NewConnection(s)
	require.NoError(t, err)
	assert.Equal(t, DefaultProject, d.ProjectKey())
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "PROJECT_KEY")
}

func TestNewConnection_WaitsInSeconds(t *testing.T) {
	s := validSettings()
	s.MinWait = "0.5"
	s.MaxWait = "2s"
	d, _, err := NewConnection(s)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, d.MinWait())
	assert.Equal(t, 2*time.Second, d.MaxWait())
}

func TestLoadConnection_Env(t *testing.T) {
	t.Setenv("JIRA_BASE_URL", "https://env.example.com")
	t.Setenv("JIRA_USERNAME", "env-user")
	t.Setenv("JIRA_PASSWORD", "env-pass")
	t.Setenv("PROJECT_KEY", "ENV")
	t.Setenv("MIN_WAIT_TIME", "2")
	t.Setenv("MAX_WAIT_TIME", "3")

	v, err := NewViper("")
	require.NoError(t, err)

	d, _, err := LoadConnection(v)
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", d.BaseURL())
	assert.Equal(t, "env-user", d.Username())
	assert.Equal(t, AuthPassword, d.AuthMethod())
	assert.Equal(t, "ENV", d.ProjectKey())
	assert.Equal(t, 2*time.Second, d.MinWait())
	assert.Equal(t, 3*time.Second, d.MaxWait())
}

func TestLoadConnection_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tracker.env")
	content := "JIRA_BASE_URL=https://file.example.com\nJIRA_USERNAME=file-user\nJIRA_API_TOKEN=file-token\nPROJECT_KEY=FILE\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	v, err := NewViper(path)
	require.NoError(t, err)

	d, _, err := LoadConnection(v)
	require.NoError(t, err)
	assert.Equal(t, "https://file.example.com", d.BaseURL())
	assert.Equal(t, "file-user", d.Username())
	assert.Equal(t, "FILE", d.ProjectKey())
}

func TestLoadConnection_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trackload.yaml")
	content := "base_url: https://yaml.example.com\nusername: yaml-user\napi_token: t\nproject_key: YML\ntimeout: 5s\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	v, err := NewViper(path)
	require.NoError(t, err)

	d, _, err := LoadConnection(v)
	require.NoError(t, err)
	assert.Equal(t, "YML", d.ProjectKey())
	assert.Equal(t, 5*time.Second, d.Timeout())
}

func TestWithProject(t *testing.T) {
	d, _, err := NewConnection(validSettings())
	require.NoError(t, err)

	other := d.WithProject("OPS")
	assert.Equal(t, "OPS", other.ProjectKey())
	assert.Equal(t, "SOC", d.ProjectKey())
	assert.Equal(t, "SOC", d.WithProject("").ProjectKey())
}
