package scraper

import (
	"time"

	"github.com/digitraceslab/koota/internal/config"
)

// Config controls the scrape loop.
type Config struct {
	Enabled     bool
	Interval    time.Duration
	Concurrency int
	// RunTimeout bounds one scrape of one device.
	RunTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		Interval:    time.Hour,
		Concurrency: 4,
		RunTimeout:  10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = defaults.Interval
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaults.Concurrency
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = defaults.RunTimeout
	}
	return c
}

func ProvideConfig(settings config.Settings) Config {
	return Config{
		Enabled:     settings.Scraper.Enabled,
		Interval:    settings.Scraper.Interval,
		Concurrency: settings.Scraper.Concurrency,
	}
}
