package host

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/fedconnect/connector/oidc"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Environment variables which override the config file.
const (
	EnvAddr           = "CONNECTOR_ADDR"
	EnvClientID       = "CONNECTOR_CLIENT_ID"
	EnvClientSecret   = "CONNECTOR_CLIENT_SECRET"
	EnvCallbackURL    = "CONNECTOR_CALLBACK_URL"
	EnvAttemptTTL     = "CONNECTOR_ATTEMPT_TTL"
	EnvLogLevel       = "CONNECTOR_LOG_LEVEL"
	EnvProviderCAFile = "CONNECTOR_PROVIDER_CA_FILE"
)

const (
	DefaultAddr       = ":8080"
	DefaultAttemptTTL = 5 * time.Minute
	DefaultLogLevel   = "info"
)

// Config is the reference host's configuration.
type Config struct {
	Addr string `yaml:"addr"`

	ClientID     string            `yaml:"client_id"`
	ClientSecret oidc.ClientSecret `yaml:"client_secret"`
	CallbackURL  string            `yaml:"callback_url"`

	// AttemptTTL bounds how long an attempt is kept waiting for the
	// provider's callback.
	AttemptTTL time.Duration `yaml:"attempt_ttl"`

	LogLevel string `yaml:"log_level"`

	// ProviderCAFile is an optional PEM file of CAs trusted for the
	// provider's endpoints.
	ProviderCAFile string `yaml:"provider_ca_file"`

	Endpoints Endpoints `yaml:"endpoints"`
}

// Endpoints override the provider's default endpoints.  Blank values keep the
// defaults.
type Endpoints struct {
	Authorization string `yaml:"authorization"`
	Token         string `yaml:"token"`
	UserInfo      string `yaml:"userinfo"`
}

// Load reads the config file at path (when path isn't blank), then applies
// defaults and environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	const op = "host.Load"
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to read config: %w", op, err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("%s: unable to parse config: %w: %w", op, oidc.ErrConfiguration, err)
		}
	}
	if err := c.applyEnv(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &c, nil
}

func (c *Config) applyEnv() error {
	for env, dst := range map[string]*string{
		EnvAddr:           &c.Addr,
		EnvClientID:       &c.ClientID,
		EnvCallbackURL:    &c.CallbackURL,
		EnvLogLevel:       &c.LogLevel,
		EnvProviderCAFile: &c.ProviderCAFile,
	} {
		if v, ok := os.LookupEnv(env); ok {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv(EnvClientSecret); ok {
		c.ClientSecret = oidc.ClientSecret(v)
	}
	if v, ok := os.LookupEnv(EnvAttemptTTL); ok {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s is not a duration: %w: %w", EnvAttemptTTL, oidc.ErrConfiguration, err)
		}
		c.AttemptTTL = ttl
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.AttemptTTL == 0 {
		c.AttemptTTL = DefaultAttemptTTL
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// Validate returns an ErrConfiguration error listing every problem found.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	var merr *multierror.Error
	if strings.TrimSpace(c.ClientID) == "" {
		merr = multierror.Append(merr, errors.New("client_id is required"))
	}
	if strings.TrimSpace(string(c.ClientSecret)) == "" {
		merr = multierror.Append(merr, errors.New("client_secret is required"))
	}
	if u, err := url.Parse(c.CallbackURL); err != nil || u.Scheme == "" || u.Host == "" {
		merr = multierror.Append(merr, fmt.Errorf("callback_url %q is not an absolute url", c.CallbackURL))
	}
	if c.AttemptTTL <= 0 {
		merr = multierror.Append(merr, errors.New("attempt_ttl must be greater than zero"))
	}
	if err := merr.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w: %w", op, oidc.ErrConfiguration, err)
	}
	return nil
}

// Properties returns the authenticator properties of every attempt.
func (c *Config) Properties() oidc.AuthenticatorProperties {
	return oidc.AuthenticatorProperties{
		oidc.PropClientID:     c.ClientID,
		oidc.PropClientSecret: string(c.ClientSecret),
		oidc.PropCallbackURL:  c.CallbackURL,
	}
}

// ProviderCA returns the PEM contents of ProviderCAFile, or "" when no file
// is configured.
func (c *Config) ProviderCA() (string, error) {
	const op = "Config.ProviderCA"
	if c.ProviderCAFile == "" {
		return "", nil
	}
	b, err := os.ReadFile(c.ProviderCAFile)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return string(b), nil
}
