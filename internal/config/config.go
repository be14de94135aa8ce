package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all environment-based configuration for weerelay.
type Config struct {
	// Relay connection settings. Host is host:port of the relay's
	// websocket endpoint (path defaults to /weechat).
	Host     string `env:"RELAY_HOST"`
	Password string `env:"RELAY_PASSWORD"`
	UseTLS   bool   `env:"RELAY_TLS" envDefault:"true"`

	// Compression preference sent on the init line: "off" or "zlib".
	Compression string `env:"RELAY_COMPRESSION" envDefault:"zlib"`

	// HashPassword enables the handshake exchange so the password is
	// sent as a PBKDF2 hash instead of plaintext (relay >= 2.9).
	HashPassword bool `env:"RELAY_HASH_PASSWORD" envDefault:"false"`

	// Profile selects a named relay from the profiles file. When set,
	// the profile's values override the RELAY_* variables above.
	Profile      string `env:"RELAY_PROFILE"`
	ProfilesPath string `env:"RELAY_PROFILES_PATH"`

	// Lines fetched per conversation on an info request.
	FetchLineCount int `env:"RELAY_FETCH_LINES" envDefault:"100"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Profile is one named relay entry in the profiles YAML file.
type Profile struct {
	Host         string `yaml:"host"`
	Password     string `yaml:"password"`
	TLS          *bool  `yaml:"tls"`
	Compression  string `yaml:"compression"`
	HashPassword *bool  `yaml:"hash_password"`
}

// Load reads configuration from environment variables. A .env file is
// loaded first if present, then the selected profile (if any) overrides
// the relay settings.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.ProfilesPath == "" {
		cfg.ProfilesPath = defaultProfilesPath()
	}

	if cfg.Profile != "" {
		if err := cfg.applyProfile(); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyProfile() error {
	profiles, err := LoadProfiles(c.ProfilesPath)
	if err != nil {
		return fmt.Errorf("loading profiles: %w", err)
	}

	p, ok := profiles[c.Profile]
	if !ok {
		return fmt.Errorf("profile %q not found in %s", c.Profile, c.ProfilesPath)
	}

	if p.Host != "" {
		c.Host = p.Host
	}

	if p.Password != "" {
		c.Password = p.Password
	}

	if p.TLS != nil {
		c.UseTLS = *p.TLS
	}

	if p.Compression != "" {
		c.Compression = p.Compression
	}

	if p.HashPassword != nil {
		c.HashPassword = *p.HashPassword
	}

	return nil
}

func (c *Config) validate() error {
	if c.Host == "" {
		return fmt.Errorf("RELAY_HOST is required (or select a profile with RELAY_PROFILE)")
	}

	if c.Compression != "off" && c.Compression != "zlib" {
		return fmt.Errorf("RELAY_COMPRESSION must be \"off\" or \"zlib\", got %q", c.Compression)
	}

	if c.FetchLineCount <= 0 {
		return fmt.Errorf("RELAY_FETCH_LINES must be positive, got %d", c.FetchLineCount)
	}

	return nil
}

// LoadProfiles parses the profiles YAML file into a name-keyed map.
// A missing file is not an error; it returns an empty map.
func LoadProfiles(path string) (map[string]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Profile{}, nil
		}

		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	profiles := make(map[string]Profile)
	if err := yaml.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return profiles, nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func defaultProfilesPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "profiles.yaml"
	}

	return filepath.Join(home, ".weerelay", "profiles.yaml")
}
