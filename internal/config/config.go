package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

const (
	AuditTypeFile   = "file"
	AuditTypeMemory = "memory"
	AuditTypeNone   = "none"
)

type Config struct {
	// Addr is the listen address of the HTTP server.
	Addr string `yaml:"addr"`

	// IssuerURL is the base URL of the trusted identity provider
	// (e.g. "https://git.example.com").
	IssuerURL string `yaml:"issuer_url"`

	// ExpectedAudience is the 'aud' claim value tokens must carry.
	ExpectedAudience string `yaml:"expected_audience"`

	// APIToken is the static shared secret callers present via the
	// 'apitk' query parameter.
	APIToken string `yaml:"api_token"`

	// SecretsRoot is the directory holding the secret bundles.
	SecretsRoot string `yaml:"secrets_root"`

	// JWKSTimeout bounds the remote signing-key fetch.
	JWKSTimeout time.Duration `yaml:"jwks_timeout"`

	Audit AuditConfig `yaml:"audit"`
}

// AuditConfig holds configuration for auditing.
type AuditConfig struct {
	Type string `yaml:"type"` // "file", "memory" or "none"
	Path string `yaml:"path"` // for type "file"
}

// Load reads and parses the configuration file at the given path.
// It returns a Config struct or an error if loading/parsing/validation fails.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config file: %w", err)
	}
	return &cfg, nil
}

// Default returns a config with only defaults applied, for running without a
// config file (everything supplied via environment).
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.JWKSTimeout <= 0 {
		c.JWKSTimeout = 3 * time.Second
	}
	if c.Audit.Type == "" {
		c.Audit.Type = AuditTypeNone
	}
}

func (c *Config) Validate() error {
	switch c.Audit.Type {
	case AuditTypeFile:
		if c.Audit.Path == "" {
			return fmt.Errorf("audit type 'file' requires audit.path")
		}
	case AuditTypeMemory, AuditTypeNone:
	default:
		return fmt.Errorf("unknown audit type '%s'", c.Audit.Type)
	}
	return nil
}

// BrokerRequirements reports which broker-required settings are missing.
// Missing settings are surfaced to callers as a client-visible error rather
// than a server fault: a misconfigured broker should fail loudly and early.
func (c *Config) BrokerRequirements() error {
	var missing []string
	if c.IssuerURL == "" {
		missing = append(missing, "issuer_url")
	}
	if c.ExpectedAudience == "" {
		missing = append(missing, "expected_audience")
	}
	if c.APIToken == "" {
		missing = append(missing, "api_token")
	}
	if c.SecretsRoot == "" {
		missing = append(missing, "secrets_root")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
