// Package config loads and validates the bookingsync YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // time_zone validation must not depend on the host zoneinfo

	"github.com/robfig/cron/v3"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"gopkg.in/yaml.v3"
)

const (
	defaultCalendarID     = "primary"
	defaultTimeZone       = "Europe/Rome"
	defaultMaxResults     = 2500
	defaultRequestTimeout = 30 * time.Second
	defaultSchedule       = "@every 15m"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// DBPath is the SQLite database holding bookings and tokens. Defaults to
	// ~/.local/share/bookingsync/bookings.db. A leading "~/" is expanded.
	DBPath string `yaml:"db_path"`

	Calendar CalendarConfig `yaml:"calendar"`

	// OAuth holds the Google OAuth client used to refresh user tokens.
	OAuth OAuthConfig `yaml:"oauth"`

	Sync SyncConfig `yaml:"sync"`

	Server ServerConfig `yaml:"server"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// CalendarConfig controls how events are written to Google Calendar.
type CalendarConfig struct {
	// CalendarID is the calendar every user's bookings go to. Defaults to "primary".
	CalendarID string `yaml:"calendar_id"`

	// TimeZone is the IANA zone attached to event start and end times.
	// Defaults to "Europe/Rome".
	TimeZone string `yaml:"time_zone"`

	// MaxResults is the page size used when listing events (1..2500).
	MaxResults int64 `yaml:"max_results"`

	// RequestTimeout bounds every Calendar API call. 1s..5m, default 30s.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Endpoint overrides the Calendar API base URL. Leave empty in production.
	Endpoint string `yaml:"endpoint"`
}

// OAuthConfig is the Google OAuth client registered for the booking site.
type OAuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// SyncConfig controls the daemon's schedule.
type SyncConfig struct {
	// Schedule is a cron spec ("@every 15m", "*/10 * * * *"). Defaults to "@every 15m".
	Schedule string `yaml:"schedule"`

	// Users restricts scheduled runs to these user IDs. Empty means every
	// user with a stored token.
	Users []string `yaml:"users"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	// ListenAddr is the address the API listens on (e.g. ":8080"). Empty
	// disables the API.
	ListenAddr string `yaml:"listen_addr"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "bookingsync".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request, e.g. Authorization: "Bearer <token>".
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/bookingsync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "bookingsync", "config.yaml"), nil
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

// OAuth2 returns the OAuth client configuration for Google, limited to the
// calendar events scope.
func (c *Config) OAuth2() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.OAuth.ClientID,
		ClientSecret: c.OAuth.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{calendar.CalendarEventsScope},
	}
}

// validate fills defaults and checks that all fields are well-formed.
func (c *Config) validate() error {
	if c.DBPath != "" {
		expanded, err := expandHome(c.DBPath)
		if err != nil {
			return err
		}
		c.DBPath = expanded
	}

	if err := c.Calendar.validate(); err != nil {
		return err
	}

	if c.OAuth.ClientID == "" {
		return fmt.Errorf("oauth.client_id is required")
	}
	if c.OAuth.ClientSecret == "" {
		return fmt.Errorf("oauth.client_secret is required")
	}

	if c.Sync.Schedule == "" {
		c.Sync.Schedule = defaultSchedule
	}
	if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
		return fmt.Errorf("sync.schedule %q: %w", c.Sync.Schedule, err)
	}
	seen := make(map[string]bool, len(c.Sync.Users))
	for _, u := range c.Sync.Users {
		if u == "" {
			return fmt.Errorf("sync.users contains an empty user ID")
		}
		if seen[u] {
			return fmt.Errorf("sync.users lists %q twice", u)
		}
		seen[u] = true
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}

func (c *CalendarConfig) validate() error {
	if c.CalendarID == "" {
		c.CalendarID = defaultCalendarID
	}

	if c.TimeZone == "" {
		c.TimeZone = defaultTimeZone
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("calendar.time_zone %q is not a known IANA zone", c.TimeZone)
	}

	if c.MaxResults == 0 {
		c.MaxResults = defaultMaxResults
	}
	if c.MaxResults < 1 || c.MaxResults > 2500 {
		return fmt.Errorf("calendar.max_results %d is out of range (1..2500)", c.MaxResults)
	}

	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.RequestTimeout < time.Second {
		return fmt.Errorf("calendar.request_timeout %v is too short (minimum 1s)", c.RequestTimeout)
	}
	if c.RequestTimeout > 5*time.Minute {
		return fmt.Errorf("calendar.request_timeout %v is too long (maximum 5m)", c.RequestTimeout)
	}

	if c.Endpoint != "" {
		u, err := url.ParseRequestURI(c.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("calendar.endpoint %q must be a valid http or https URL", c.Endpoint)
		}
	}
	return nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}
