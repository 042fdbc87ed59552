package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kjstillabower/weather-gateway/internal/models"
)

const testAPIKey = "test-api-key-12345"

// TestNewOpenWeatherClient_KeyValidation verifies that construction rejects
// missing or obviously bogus API keys.
func TestNewOpenWeatherClient_KeyValidation(t *testing.T) {
	if _, err := NewOpenWeatherClient("", "http://example.com", time.Second); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("empty key error = %v, want ErrInvalidAPIKey", err)
	}
	if _, err := NewOpenWeatherClient("short", "http://example.com", time.Second); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("short key error = %v, want ErrInvalidAPIKey", err)
	}
	if _, err := NewOpenWeatherClient(testAPIKey, "http://example.com", time.Second); err != nil {
		t.Errorf("valid key error = %v, want nil", err)
	}
}

// TestFetch_Success verifies response parsing into a WeatherReading,
// including the request parameters sent to the provider.
func TestFetch_Success(t *testing.T) {
	var gotQuery, gotUnits string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotUnits = r.URL.Query().Get("units")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"main": {"temp": 15.5, "feels_like": 14.2, "humidity": 65, "pressure": 1013},
			"weather": [{"main": "Clear", "description": "clear sky"}],
			"wind": {"speed": 3.5},
			"name": "Minsk"
		}`))
	}))
	defer srv.Close()

	c, err := NewOpenWeatherClient(testAPIKey, srv.URL, 2*time.Second)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}

	reading, err := c.Fetch(context.Background(), "minsk,by:C", models.Celsius)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if gotQuery != "minsk,by" {
		t.Errorf("provider q = %q, want %q", gotQuery, "minsk,by")
	}
	if gotUnits != "metric" {
		t.Errorf("provider units = %q, want %q", gotUnits, "metric")
	}
	if reading.CityName != "Minsk" {
		t.Errorf("CityName = %q, want Minsk", reading.CityName)
	}
	if reading.Temperature != 15.5 || reading.FeelsLike != 14.2 {
		t.Errorf("Temperature/FeelsLike = %v/%v, want 15.5/14.2", reading.Temperature, reading.FeelsLike)
	}
	if reading.Conditions != "clear sky" {
		t.Errorf("Conditions = %q, want description over main", reading.Conditions)
	}
	if reading.Humidity != 65 || reading.Pressure != 1013 {
		t.Errorf("Humidity/Pressure = %d/%d, want 65/1013", reading.Humidity, reading.Pressure)
	}
	if reading.LocationKey != "minsk,by:C" {
		t.Errorf("LocationKey = %q, want the canonical key", reading.LocationKey)
	}
	if len(reading.Raw) == 0 {
		t.Error("Raw provider payload not retained")
	}
}

// TestFetch_StatusMapping verifies that provider status codes map to the
// typed UpstreamError kinds, with unknown codes falling back to Unreachable.
func TestFetch_StatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind Kind
	}{
		{name: "not found", status: http.StatusNotFound, wantKind: KindNotFound},
		{name: "provider rate limited", status: http.StatusTooManyRequests, wantKind: KindProviderRateLimited},
		{name: "server error", status: http.StatusInternalServerError, wantKind: KindUnreachable},
		{name: "unknown status", status: http.StatusTeapot, wantKind: KindUnreachable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			c, _ := NewOpenWeatherClient(testAPIKey, srv.URL, 2*time.Second)
			_, err := c.Fetch(context.Background(), "atlantis:C", models.Celsius)
			kind, ok := KindOf(err)
			if !ok {
				t.Fatalf("Fetch() error = %v, want UpstreamError", err)
			}
			if kind != tc.wantKind {
				t.Errorf("kind = %v, want %v", kind, tc.wantKind)
			}
		})
	}
}

// TestFetch_MalformedBody verifies that an unparsable response maps to
// KindMalformed.
func TestFetch_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	c, _ := NewOpenWeatherClient(testAPIKey, srv.URL, 2*time.Second)
	_, err := c.Fetch(context.Background(), "minsk:C", models.Celsius)
	if kind, ok := KindOf(err); !ok || kind != KindMalformed {
		t.Errorf("Fetch() error = %v, want KindMalformed", err)
	}
}

// TestFetch_Timeout verifies that a slow provider yields KindTimeout within
// the bounded request deadline.
func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c, _ := NewOpenWeatherClient(testAPIKey, srv.URL, 20*time.Millisecond)
	_, err := c.Fetch(context.Background(), "minsk:C", models.Celsius)
	if kind, ok := KindOf(err); !ok || kind != KindTimeout {
		t.Errorf("Fetch() error = %v, want KindTimeout", err)
	}
}

// TestFetch_Unreachable verifies that a connection failure maps to
// KindUnreachable.
func TestFetch_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens anymore

	c, _ := NewOpenWeatherClient(testAPIKey, srv.URL, time.Second)
	_, err := c.Fetch(context.Background(), "minsk:C", models.Celsius)
	if kind, ok := KindOf(err); !ok || kind != KindUnreachable {
		t.Errorf("Fetch() error = %v, want KindUnreachable", err)
	}
}

// TestRetryable verifies the retry classification: only Timeout and
// Unreachable are transient.
func TestRetryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindTimeout, true},
		{KindUnreachable, true},
		{KindNotFound, false},
		{KindMalformed, false},
		{KindProviderRateLimited, false},
	}
	for _, tc := range tests {
		err := &UpstreamError{Kind: tc.kind, Err: errors.New("x")}
		if got := Retryable(err); got != tc.want {
			t.Errorf("Retryable(%v) = %v, want %v", tc.kind, got, tc.want)
		}
	}
	if Retryable(errors.New("plain")) {
		t.Error("Retryable(plain error) = true, want false")
	}
}

// TestValidateAPIKey verifies the 401 mapping for key validation probes.
func TestValidateAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, _ := NewOpenWeatherClient(testAPIKey, srv.URL, time.Second)
	if err := c.ValidateAPIKey(context.Background()); !errors.Is(err, ErrInvalidAPIKey) {
		t.Errorf("ValidateAPIKey() error = %v, want ErrInvalidAPIKey", err)
	}
}
