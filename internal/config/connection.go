// Package config loads the tracker connection settings and workload files.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults applied when a setting is absent.
const (
	DefaultAPIPath   = "/rest/api/2"
	DefaultProject   = "TEST"
	DefaultIssueType = "Task"
	DefaultMinWait   = 1 * time.Second
	DefaultMaxWait   = 5 * time.Second
	DefaultTimeout   = 30 * time.Second

	// PlaceholderBaseURL is the sample value shipped in example env files.
	PlaceholderBaseURL = "https://your-domain.atlassian.net"
)

// Setting keys.
const (
	KeyBaseURL   = "base_url"
	KeyAPIPath   = "api_path"
	KeyUsername  = "username"
	KeyAPIToken  = "api_token"
	KeyPassword  = "password"
	KeyProject   = "project_key"
	KeyIssueType = "issue_type"
	KeyMinWait   = "min_wait"
	KeyMaxWait   = "max_wait"
	KeyTimeout   = "timeout"
)

// envNames maps setting keys to the environment variables that can supply them.
var envNames = map[string]string{
	KeyBaseURL:   "JIRA_BASE_URL",
	KeyAPIPath:   "JIRA_API_PATH",
	KeyUsername:  "JIRA_USERNAME",
	KeyAPIToken:  "JIRA_API_TOKEN",
	KeyPassword:  "JIRA_PASSWORD",
	KeyProject:   "PROJECT_KEY",
	KeyIssueType: "DEFAULT_ISSUE_TYPE",
	KeyMinWait:   "MIN_WAIT_TIME",
	KeyMaxWait:   "MAX_WAIT_TIME",
	KeyTimeout:   "REQUEST_TIMEOUT",
}

// AuthMethod names which secret is in use.
type AuthMethod string

const (
	AuthToken    AuthMethod = "token"
	AuthPassword AuthMethod = "password"
)

// ConnectionDescriptor is the validated, read-only description of the target.
type ConnectionDescriptor struct {
	baseURL    string
	apiPath    string
	username   string
	secret     string
	authMethod AuthMethod
	project    string
	issueType  string
	minWait    time.Duration
	maxWait    time.Duration
	timeout    time.Duration
}

func (d ConnectionDescriptor) BaseURL() string { return d.baseURL }
func (d ConnectionDescriptor) Username() string { return d.username }
func (d ConnectionDescriptor) Secret() string { return d.secret }
func (d ConnectionDescriptor) AuthMethod() AuthMethod { return d.authMethod }
func (d ConnectionDescriptor) ProjectKey() string { return d.project }
func (d ConnectionDescriptor) IssueType() string { return d.issueType }
func (d ConnectionDescriptor) MinWait() time.Duration { return d.minWait }
func (d ConnectionDescriptor) MaxWait() time.Duration { return d.maxWait }
func (d ConnectionDescriptor) Timeout() time.Duration { return d.timeout }

// APIURL is the base URL joined with the REST API path.
func (d ConnectionDescriptor) APIURL() string {
	return strings.TrimRight(d.baseURL, "/") + "/" + strings.TrimLeft(d.apiPath, "/")
}

// WithProject returns a copy targeting a different project.
func (d ConnectionDescriptor) WithProject(key string) ConnectionDescriptor {
	if key != "" {
		d.project = key
	}
	return d
}

// WithTimeout returns a copy with a different per-request timeout.
func (d ConnectionDescriptor) WithTimeout(timeout time.Duration) ConnectionDescriptor {
	if timeout > 0 {
		d.timeout = timeout
	}
	return d
}

// ConnectionSettings is the raw, unvalidated input.
type ConnectionSettings struct {
	BaseURL   string
	APIPath   string
	Username  string
	APIToken  string
	Password  string
	Project   string
	IssueType string
	MinWait   string
	MaxWait   string
	Timeout   string
}

// NewViper returns a viper instance bound to the connection environment
// variables. configFile may name a YAML/JSON/TOML or dotenv file; when empty a
// ".env" in the working directory is read if present.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	for key, env := range envNames {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	switch {
	case configFile != "":
		v.SetConfigFile(configFile)
		if strings.HasSuffix(configFile, ".env") {
			v.SetConfigType("env")
		}
	case fileExists(".env"):
		v.SetConfigFile(".env")
		v.SetConfigType("env")
	default:
		return v, nil
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", v.ConfigFileUsed(), err)
	}
	return v, nil
}

// SettingsFromViper reads every connection key. Dotenv files store keys by
// their environment variable name, so both spellings are consulted.
func SettingsFromViper(v *viper.Viper) ConnectionSettings {
	get := func(key string) string {
		if s := v.GetString(key); s != "" {
			return s
		}
		return v.GetString(strings.ToLower(envNames[key]))
	}
	return ConnectionSettings{
		BaseURL:   get(KeyBaseURL),
		APIPath:   get(KeyAPIPath),
		Username:  get(KeyUsername),
		APIToken:  get(KeyAPIToken),
		Password:  get(KeyPassword),
		Project:   get(KeyProject),
		IssueType: get(KeyIssueType),
		MinWait:   get(KeyMinWait),
		MaxWait:   get(KeyMaxWait),
		Timeout:   get(KeyTimeout),
	}
}

// LoadConnection reads settings through v and validates them.
func LoadConnection(v *viper.Viper) (ConnectionDescriptor, []string, error) {
	return NewConnection(SettingsFromViper(v))
}

// NewConnection validates raw settings into a descriptor. Warnings are
// non-fatal observations such as the default project key being used.
func NewConnection(s ConnectionSettings) (ConnectionDescriptor, []string, error) {
	errs := &ValidationErrors{}
	var warnings []string

	d := ConnectionDescriptor{
		baseURL:   strings.TrimRight(strings.TrimSpace(s.BaseURL), "/"),
		apiPath:   firstNonEmpty(s.APIPath, DefaultAPIPath),
		username:  strings.TrimSpace(s.Username),
		project:   firstNonEmpty(s.Project, DefaultProject),
		issueType: firstNonEmpty(s.IssueType, DefaultIssueType),
	}

	switch {
	case d.baseURL == "":
		errs.Add(KeyBaseURL, "base URL is required (JIRA_BASE_URL)")
	case d.baseURL == PlaceholderBaseURL:
		errs.AddErr(KeyBaseURL, ErrPlaceholderEndpoint)
	default:
		u, err := url.Parse(d.baseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs.Add(KeyBaseURL, fmt.Sprintf("must be an absolute http(s) URL, got %q", d.baseURL))
		}
	}

	if d.username == "" {
		errs.Add(KeyUsername, "username is required (JIRA_USERNAME)")
	}

	switch {
	case s.APIToken != "":
		d.secret, d.authMethod = s.APIToken, AuthToken
	case s.Password != "":
		d.secret, d.authMethod = s.Password, AuthPassword
	default:
		errs.AddErr(KeyAPIToken, ErrNoCredentials)
	}

	d.minWait = parseWait(errs, KeyMinWait, s.MinWait, DefaultMinWait)
	d.maxWait = parseWait(errs, KeyMaxWait, s.MaxWait, DefaultMaxWait)
	if d.minWait > d.maxWait {
		errs.Add(KeyMinWait, fmt.Sprintf("min wait %v exceeds max wait %v", d.minWait, d.maxWait))
	}

	d.timeout = parseWait(errs, KeyTimeout, s.Timeout, DefaultTimeout)
	if d.timeout == 0 {
		d.timeout = DefaultTimeout
	}

	if d.project == DefaultProject {
		warnings = append(warnings, fmt.Sprintf("using default project key %q; set PROJECT_KEY to target a real project", DefaultProject))
	}

	if err := errs.Err(); err != nil {
		return ConnectionDescriptor{}, warnings, err
	}
	return d, warnings, nil
}

func parseWait(errs *ValidationErrors, field, raw string, def time.Duration) time.Duration {
	if strings.TrimSpace(raw) == "" {
		return def
	}
	d, err := ParseDuration(raw)
	if err != nil {
		errs.Add(field, err.Error())
		return def
	}
	if d < 0 {
		errs.Add(field, "must not be negative")
		return def
	}
	return d
}

// IsConfigError reports whether err came from connection validation.
func IsConfigError(err error) bool {
	var ve *ValidationErrors
	return errors.As(err, &ve)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
