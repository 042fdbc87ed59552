package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeConfigDir lays out a config/ directory under a temp root and chdirs
// into it for the duration of the test.
func writeConfigDir(t *testing.T, yamlBody string) {
	t.Helper()
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "config"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "config", "dev.yaml"), []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}
	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(root); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(oldWD); err != nil {
			t.Fatal(err)
		}
	})
	t.Setenv("ENV_NAME", "dev")
	t.Setenv("WEATHER_API_KEY", "abcdef123456")
	// Neutralize overrides leaking in from the invoking shell.
	for _, name := range []string{"WEATHER_API_BASE_URL", "WEATHER_CACHE_TTL", "CACHE_BACKEND", "MEMCACHED_ADDRS", "RATE_LIMIT_REQUESTS", "RATE_PERIOD"} {
		t.Setenv(name, "")
	}
}

const minimalYAML = `
server:
  port: "9090"
weather_api:
  url: https://api.example.test/weather
  timeout: 2s
cache:
  ttl: 300s
rate_limit:
  requests: 30
  period: 60s
`

// TestLoad_FromYAML verifies values come from the environment-named YAML
// file with defaults filling the gaps.
func TestLoad_FromYAML(t *testing.T) {
	writeConfigDir(t, minimalYAML)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Errorf("ServerPort = %q, want 9090", cfg.ServerPort)
	}
	if cfg.WeatherAPIURL != "https://api.example.test/weather" {
		t.Errorf("WeatherAPIURL = %q", cfg.WeatherAPIURL)
	}
	if cfg.CacheTTL != 300*time.Second {
		t.Errorf("CacheTTL = %v, want 5m", cfg.CacheTTL)
	}
	if cfg.RateLimitRequests != 30 || cfg.RatePeriod != time.Minute {
		t.Errorf("rate limit = %d/%v, want 30/1m", cfg.RateLimitRequests, cfg.RatePeriod)
	}
	if cfg.CacheBackend != "in_memory" {
		t.Errorf("CacheBackend = %q, want in_memory default", cfg.CacheBackend)
	}
	if cfg.HistoryMaxEntries != 10000 {
		t.Errorf("HistoryMaxEntries = %d, want 10000 default", cfg.HistoryMaxEntries)
	}
	if cfg.LocationMinLength != 2 || cfg.LocationMaxLength != 100 {
		t.Errorf("location bounds = %d..%d, want 2..100 defaults", cfg.LocationMinLength, cfg.LocationMaxLength)
	}
}

// TestLoad_EnvOverrides verifies the environment variables that supersede
// file values.
func TestLoad_EnvOverrides(t *testing.T) {
	writeConfigDir(t, minimalYAML)
	t.Setenv("WEATHER_CACHE_TTL", "120")
	t.Setenv("RATE_LIMIT_REQUESTS", "5")
	t.Setenv("RATE_PERIOD", "30")
	t.Setenv("CACHE_BACKEND", "memcached")
	t.Setenv("MEMCACHED_ADDRS", "memcached-a:11211,memcached-b:11211")
	t.Setenv("WEATHER_API_BASE_URL", "https://override.example.test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheTTL != 120*time.Second {
		t.Errorf("CacheTTL = %v, want 120s from WEATHER_CACHE_TTL", cfg.CacheTTL)
	}
	if cfg.RateLimitRequests != 5 {
		t.Errorf("RateLimitRequests = %d, want 5 from RATE_LIMIT_REQUESTS", cfg.RateLimitRequests)
	}
	if cfg.RatePeriod != 30*time.Second {
		t.Errorf("RatePeriod = %v, want 30s from RATE_PERIOD", cfg.RatePeriod)
	}
	if cfg.CacheBackend != "memcached" {
		t.Errorf("CacheBackend = %q, want memcached", cfg.CacheBackend)
	}
	if cfg.MemcachedAddrs != "memcached-a:11211,memcached-b:11211" {
		t.Errorf("MemcachedAddrs = %q", cfg.MemcachedAddrs)
	}
	if cfg.WeatherAPIURL != "https://override.example.test" {
		t.Errorf("WeatherAPIURL = %q, want env override", cfg.WeatherAPIURL)
	}
}

// TestLoad_MissingAPIKey verifies the key is mandatory when neither the env
// nor a secrets file supplies it.
func TestLoad_MissingAPIKey(t *testing.T) {
	writeConfigDir(t, minimalYAML)
	t.Setenv("WEATHER_API_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil without an API key, want failure")
	}
}

// TestLoad_SecretsFileKey verifies the secrets file supplies the key when
// the env does not.
func TestLoad_SecretsFileKey(t *testing.T) {
	writeConfigDir(t, minimalYAML)
	t.Setenv("WEATHER_API_KEY", "")
	if err := os.WriteFile(filepath.Join("config", "secrets.yaml"), []byte("weather_api_key: fromsecrets123\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPIKey != "fromsecrets123" {
		t.Errorf("WeatherAPIKey = %q, want fromsecrets123", cfg.WeatherAPIKey)
	}
}

// TestLoad_MissingConfigFile verifies a clear failure when the file for
// ENV_NAME is absent.
func TestLoad_MissingConfigFile(t *testing.T) {
	writeConfigDir(t, minimalYAML)
	t.Setenv("ENV_NAME", "staging")

	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil for missing config file, want failure")
	}
}

// TestLoad_InvalidBackend verifies unknown cache backends are rejected.
func TestLoad_InvalidBackend(t *testing.T) {
	writeConfigDir(t, minimalYAML)
	t.Setenv("CACHE_BACKEND", "redis")

	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil for unknown cache backend, want failure")
	}
}

// TestLoad_RequestTimeoutFloor verifies the request timeout is raised to
// leave room for a retried upstream call.
func TestLoad_RequestTimeoutFloor(t *testing.T) {
	writeConfigDir(t, `
weather_api:
  timeout: 3s
request:
  timeout: 1s
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if want := 7 * time.Second; cfg.RequestTimeout != want {
		t.Errorf("RequestTimeout = %v, want %v (2x upstream timeout + 1s)", cfg.RequestTimeout, want)
	}
}
