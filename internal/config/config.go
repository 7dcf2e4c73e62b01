// Package config loads service configuration from an optional yaml file
// and LEDGERSYNC_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tradiehq/ledgersync/internal/auth/vault"
)

// ProviderApp holds one provider's OAuth application credentials.
type ProviderApp struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
}

// Config is the full service configuration.
type Config struct {
	HTTP struct {
		Port int    `koanf:"port"`
		Host string `koanf:"host"`
	} `koanf:"http"`

	Database struct {
		Path string `koanf:"path"`
	} `koanf:"database"`

	// Secret is the master secret: the vault and the state signer derive
	// independent keys from it, and it also signs session tokens.
	Secret string `koanf:"secret"`

	// PublicBaseURL is the origin OAuth callbacks return to.
	PublicBaseURL string `koanf:"public_base_url"`

	AllowedOrigins []string `koanf:"allowed_origins"`

	Xero       ProviderApp `koanf:"xero"`
	QuickBooks ProviderApp `koanf:"quickbooks"`
	MYOB       ProviderApp `koanf:"myob"`

	Log struct {
		Level string `koanf:"level"`
		JSON  bool   `koanf:"json"`
	} `koanf:"log"`
}

// Load reads configuration, applying defaults, then the config file if it
// exists, then the environment. Validation fails fast: running with a
// missing or weak secret is not an option.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := &Config{}
	cfg.HTTP.Port = 8080
	cfg.HTTP.Host = "0.0.0.0"
	cfg.Database.Path = "ledgersync.db"
	cfg.PublicBaseURL = "http://localhost:8080"
	cfg.Log.Level = "info"

	if path != "" {
		// Missing file is fine; env can carry everything.
		_ = k.Load(file.Provider(path), yaml.Parser())
	}

	if err := k.Load(env.Provider("LEDGERSYNC_", ".", func(s string) string {
		// Double underscore separates nesting levels so leaf keys can
		// keep single underscores: LEDGERSYNC_HTTP__PORT -> http.port,
		// LEDGERSYNC_XERO__CLIENT_ID -> xero.client_id.
		key := strings.TrimPrefix(s, "LEDGERSYNC_")
		key = strings.ToLower(key)
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("error loading env config: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces startup invariants.
func (c *Config) Validate() error {
	if len(c.Secret) < vault.MinSecretLen {
		return fmt.Errorf("secret must be at least %d bytes, got %d", vault.MinSecretLen, len(c.Secret))
	}
	if c.PublicBaseURL == "" {
		return fmt.Errorf("public_base_url must be set")
	}
	return nil
}
