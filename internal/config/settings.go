package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings is the process-wide override document loaded from koota.yml.
// It is read once at startup and never rewritten.
type Settings struct {
	// Devices holds per-adapter configuration overrides keyed by adapter name.
	Devices map[string]map[string]any `mapstructure:"devices"`
	// OAuth holds provider definitions keyed by service name.
	OAuth map[string]OAuthProvider `mapstructure:"oauth"`
	// Certs lists certificate files that clients may pin.
	Certs   []string        `mapstructure:"certs"`
	Scraper ScraperSettings `mapstructure:"scraper"`
	// PublicApps lists application package names that are not hashed by converters.
	PublicApps []string `mapstructure:"public_apps"`
}

// OAuthProvider describes a remote service scraped on behalf of a device.
type OAuthProvider struct {
	Enabled      bool          `mapstructure:"enabled"`
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	AuthURL      string        `mapstructure:"auth_url"`
	TokenURL     string        `mapstructure:"token_url"`
	APIURL       string        `mapstructure:"api_url"`
	Scopes       []string      `mapstructure:"scopes"`
	Endpoints    []string      `mapstructure:"endpoints"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RatePerSec   float64       `mapstructure:"rate_per_sec"`
	MaxPages     int           `mapstructure:"max_pages"`
}

type ScraperSettings struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	Concurrency int           `mapstructure:"concurrency"`
}

func DefaultSettings() Settings {
	return Settings{
		Devices: map[string]map[string]any{},
		OAuth:   map[string]OAuthProvider{},
		Scraper: ScraperSettings{
			Enabled:     true,
			Interval:    time.Hour,
			Concurrency: 4,
		},
	}
}

// LoadSettings reads koota.yml from the configured path or the default search paths.
// A missing file yields DefaultSettings.
func LoadSettings(cfg Config) (Settings, error) {
	v := viper.New()

	if cfg.SettingsFile != "" {
		v.SetConfigFile(cfg.SettingsFile)
	} else {
		v.SetConfigName("koota")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/koota")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("KOOTA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultSettings()
	v.SetDefault("scraper.enabled", defaults.Scraper.Enabled)
	v.SetDefault("scraper.interval", defaults.Scraper.Interval)
	v.SetDefault("scraper.concurrency", defaults.Scraper.Concurrency)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || cfg.SettingsFile != "" {
			return Settings{}, err
		}
	}

	settings := defaults
	if err := v.Unmarshal(&settings); err != nil {
		return Settings{}, err
	}
	if settings.Devices == nil {
		settings.Devices = map[string]map[string]any{}
	}
	if settings.OAuth == nil {
		settings.OAuth = map[string]OAuthProvider{}
	}
	return settings, nil
}

// DeviceOverrides returns the process-wide overlay for the named adapter.
func (s Settings) DeviceOverrides(adapter string) map[string]any {
	if s.Devices == nil {
		return nil
	}
	return s.Devices[strings.ToLower(strings.TrimSpace(adapter))]
}
