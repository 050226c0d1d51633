// Package config loads and validates the carminder YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// DBPath overrides the default database location.
	DBPath string `yaml:"db_path"`

	// NotifyHour is the local hour of day (0–23) at which reminder wake-ups
	// fire. Defaults to 9.
	NotifyHour *int `yaml:"notify_hour"`

	// LeadDays is the pre-notification window for date reminders, in days
	// before the target date. Defaults to [7, 3, 1, 0].
	LeadDays []int `yaml:"lead_days"`

	// WarnBandsKm are the remaining-distance thresholds at which a mileage
	// reminder produces a warning notification. Defaults to [100, 500, 1000].
	WarnBandsKm []int `yaml:"warn_bands_km"`

	// PollInterval is the cadence of the recurring mileage check. Daily and
	// longer cadences land on the notify hour. Minimum 1h, maximum 168h.
	// Defaults to 24h.
	PollInterval time.Duration `yaml:"poll_interval"`

	// RescanInterval controls how often the daemon reloads active reminders
	// from the database and rebuilds its timers, picking up edits made by
	// other processes. Minimum 1m, maximum 1h. Defaults to 5m.
	RescanInterval time.Duration `yaml:"rescan_interval"`

	// ExactTimers requests precise wake-up delivery. When false, wake-ups are
	// batched onto a coarse tick. Defaults to true.
	ExactTimers *bool `yaml:"exact_timers"`

	// HomeAssistant configures notification delivery through a Home Assistant
	// notify service. Omit the block to log notifications locally instead.
	HomeAssistant *HomeAssistantConfig `yaml:"home_assistant,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// HomeAssistantConfig holds the settings for the Home Assistant notification
// sink.
type HomeAssistantConfig struct {
	// URL is the base URL of the Home Assistant instance (e.g. "http://homeassistant.local:8123").
	URL string `yaml:"url"`

	// Token is the long-lived access token used to authenticate.
	Token string `yaml:"token"`

	// NotifyService is the notify service to call, e.g. "mobile_app_phone"
	// or "persistent_notification". Defaults to "persistent_notification".
	NotifyService string `yaml:"notify_service"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "carminder".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request, e.g. {"Authorization": "Bearer <token>"}.
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/carminder/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "carminder", "config.yaml"), nil
}

// DefaultDBPath returns the default database path: ~/.local/share/carminder/carminder.db.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "carminder", "carminder.db"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every field at its default value,
// used when no config file exists.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NotifyHourValue returns the effective notify hour.
func (c *Config) NotifyHourValue() int {
	if c.NotifyHour == nil {
		return 9
	}
	return *c.NotifyHour
}

// ExactTimersValue returns the effective exact-timer preference.
func (c *Config) ExactTimersValue() bool {
	if c.ExactTimers == nil {
		return true
	}
	return *c.ExactTimers
}

// validate checks that all fields are well-formed and fills in defaults.
func (c *Config) validate() error {
	if c.DBPath == "" {
		p, err := DefaultDBPath()
		if err != nil {
			return err
		}
		c.DBPath = p
	}

	if h := c.NotifyHourValue(); h < 0 || h > 23 {
		return fmt.Errorf("notify_hour %d is out of range 0–23", h)
	}

	if len(c.LeadDays) == 0 {
		c.LeadDays = []int{7, 3, 1, 0}
	}
	for _, d := range c.LeadDays {
		if d < 0 {
			return fmt.Errorf("lead_days contains negative entry %d", d)
		}
	}

	if len(c.WarnBandsKm) == 0 {
		c.WarnBandsKm = []int{100, 500, 1000}
	}
	for _, b := range c.WarnBandsKm {
		if b <= 0 {
			return fmt.Errorf("warn_bands_km contains non-positive entry %d", b)
		}
	}
	sort.Ints(c.WarnBandsKm)

	if c.PollInterval == 0 {
		c.PollInterval = 24 * time.Hour
	}
	if c.PollInterval < time.Hour {
		return fmt.Errorf("poll_interval %v is too short (minimum 1h)", c.PollInterval)
	}
	if c.PollInterval > 7*24*time.Hour {
		return fmt.Errorf("poll_interval %v is too long (maximum 168h)", c.PollInterval)
	}

	if c.RescanInterval == 0 {
		c.RescanInterval = 5 * time.Minute
	}
	if c.RescanInterval < time.Minute {
		return fmt.Errorf("rescan_interval %v is too short (minimum 1m)", c.RescanInterval)
	}
	if c.RescanInterval > time.Hour {
		return fmt.Errorf("rescan_interval %v is too long (maximum 1h)", c.RescanInterval)
	}

	if c.HomeAssistant != nil {
		if c.HomeAssistant.URL == "" {
			return fmt.Errorf("home_assistant.url is required when home_assistant is configured")
		}
		u, err := url.ParseRequestURI(c.HomeAssistant.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("home_assistant.url %q must be a valid http or https URL", c.HomeAssistant.URL)
		}
		if c.HomeAssistant.Token == "" {
			return fmt.Errorf("home_assistant.token is required when home_assistant is configured")
		}
		if c.HomeAssistant.NotifyService == "" {
			c.HomeAssistant.NotifyService = "persistent_notification"
		}
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}
