package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const oauthBlock = `
oauth:
  client_id: "client.apps.googleusercontent.com"
  client_secret: "s3cret"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("creating temp config: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	f.Close()
	return f.Name()
}

func TestLoad_Valid(t *testing.T) {
	path := writeConfig(t, `
db_path: /var/lib/bookingsync/bookings.db
calendar:
  calendar_id: studio@group.calendar.google.com
  time_zone: Europe/Berlin
  max_results: 250
  request_timeout: 10s
sync:
  schedule: "*/10 * * * *"
  users: [alice, bob]
server:
  listen_addr: ":8080"
`+oauthBlock)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DBPath != "/var/lib/bookingsync/bookings.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.Calendar.CalendarID != "studio@group.calendar.google.com" {
		t.Errorf("CalendarID = %q", cfg.Calendar.CalendarID)
	}
	if cfg.Calendar.TimeZone != "Europe/Berlin" {
		t.Errorf("TimeZone = %q, want Europe/Berlin", cfg.Calendar.TimeZone)
	}
	if cfg.Calendar.MaxResults != 250 {
		t.Errorf("MaxResults = %d, want 250", cfg.Calendar.MaxResults)
	}
	if cfg.Calendar.RequestTimeout != 10*time.Second {
		t.Errorf("RequestTimeout = %v, want 10s", cfg.Calendar.RequestTimeout)
	}
	if cfg.Sync.Schedule != "*/10 * * * *" {
		t.Errorf("Schedule = %q", cfg.Sync.Schedule)
	}
	if len(cfg.Sync.Users) != 2 {
		t.Errorf("Users = %v, want 2 entries", cfg.Sync.Users)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.Server.ListenAddr)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, oauthBlock))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DBPath != "" {
		t.Errorf("DBPath = %q, want empty (store default)", cfg.DBPath)
	}
	if cfg.Calendar.CalendarID != "primary" {
		t.Errorf("CalendarID = %q, want primary", cfg.Calendar.CalendarID)
	}
	if cfg.Calendar.TimeZone != "Europe/Rome" {
		t.Errorf("TimeZone = %q, want Europe/Rome", cfg.Calendar.TimeZone)
	}
	if cfg.Calendar.MaxResults != 2500 {
		t.Errorf("MaxResults = %d, want 2500", cfg.Calendar.MaxResults)
	}
	if cfg.Calendar.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want 30s", cfg.Calendar.RequestTimeout)
	}
	if cfg.Sync.Schedule != "@every 15m" {
		t.Errorf("Schedule = %q, want @every 15m", cfg.Sync.Schedule)
	}
	if cfg.Server.ListenAddr != "" {
		t.Errorf("ListenAddr = %q, want empty", cfg.Server.ListenAddr)
	}
}

func TestLoad_ExpandsHomeInDBPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}
	cfg, err := Load(writeConfig(t, "db_path: ~/data/bookings.db\n"+oauthBlock))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := filepath.Join(home, "data", "bookings.db")
	if cfg.DBPath != want {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, want)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing client id", `
oauth:
  client_secret: x
`, "oauth.client_id"},
		{"missing client secret", `
oauth:
  client_id: x
`, "oauth.client_secret"},
		{"unknown time zone", `
calendar:
  time_zone: Mars/Olympus_Mons
` + oauthBlock, "calendar.time_zone"},
		{"max results too large", `
calendar:
  max_results: 5000
` + oauthBlock, "calendar.max_results"},
		{"negative max results", `
calendar:
  max_results: -1
` + oauthBlock, "calendar.max_results"},
		{"timeout too short", `
calendar:
  request_timeout: 100ms
` + oauthBlock, "calendar.request_timeout"},
		{"timeout too long", `
calendar:
  request_timeout: 10m
` + oauthBlock, "calendar.request_timeout"},
		{"bad endpoint", `
calendar:
  endpoint: "not-a-url"
` + oauthBlock, "calendar.endpoint"},
		{"bad schedule", `
sync:
  schedule: "every tuesday"
` + oauthBlock, "sync.schedule"},
		{"empty user", `
sync:
  users: [alice, ""]
` + oauthBlock, "sync.users"},
		{"duplicate user", `
sync:
  users: [alice, alice]
` + oauthBlock, "sync.users"},
		{"telemetry without endpoint", `
telemetry:
  insecure: true
` + oauthBlock, "telemetry.otlp_endpoint"},
		{"unknown key", `
unknown_field: oops
` + oauthBlock, "unknown_field"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestDefaultPath(t *testing.T) {
	path, err := DefaultPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(path, filepath.Join(".config", "bookingsync", "config.yaml")) {
		t.Errorf("DefaultPath = %q", path)
	}
}

func TestOAuth2(t *testing.T) {
	cfg, err := Load(writeConfig(t, oauthBlock))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	oc := cfg.OAuth2()
	if oc.ClientID != "client.apps.googleusercontent.com" || oc.ClientSecret != "s3cret" {
		t.Errorf("client = %q/%q", oc.ClientID, oc.ClientSecret)
	}
	if !strings.Contains(oc.Endpoint.TokenURL, "oauth2.googleapis.com") {
		t.Errorf("TokenURL = %q, want Google endpoint", oc.Endpoint.TokenURL)
	}
	if len(oc.Scopes) != 1 || !strings.HasSuffix(oc.Scopes[0], "calendar.events") {
		t.Errorf("Scopes = %v", oc.Scopes)
	}
}

func TestLoad_TelemetryHeaders(t *testing.T) {
	path := writeConfig(t, `
telemetry:
  otlp_endpoint: "otelcol.example.com:4317"
  service_name: "studio-sync"
  headers:
    Authorization: "Bearer secret"
    x-dataset: "test"
`+oauthBlock)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telemetry == nil {
		t.Fatal("expected Telemetry to be non-nil")
	}
	if cfg.Telemetry.ServiceName != "studio-sync" {
		t.Errorf("ServiceName = %q, want studio-sync", cfg.Telemetry.ServiceName)
	}
	if cfg.Telemetry.Headers["Authorization"] != "Bearer secret" {
		t.Errorf("Authorization header = %q, want %q", cfg.Telemetry.Headers["Authorization"], "Bearer secret")
	}
	if len(cfg.Telemetry.Headers) != 2 {
		t.Fatalf("Headers len = %d, want 2", len(cfg.Telemetry.Headers))
	}
}

func TestLoad_TelemetryOmitted(t *testing.T) {
	cfg, err := Load(writeConfig(t, oauthBlock))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telemetry != nil {
		t.Error("expected Telemetry to be nil when block is omitted")
	}
}
