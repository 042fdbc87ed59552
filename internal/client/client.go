package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kjstillabower/weather-gateway/internal/location"
	"github.com/kjstillabower/weather-gateway/internal/models"
	"github.com/kjstillabower/weather-gateway/internal/observability"
)

// WeatherClient issues requests to the external weather provider.
// Fetch performs exactly one network call; retry policy belongs to the caller.
type WeatherClient interface {
	Fetch(ctx context.Context, key string, unit models.TemperatureUnit) (models.WeatherReading, error)
	ValidateAPIKey(ctx context.Context) error
}

// Breaker guards upstream calls. Implemented by circuitbreaker.CircuitBreaker.
type Breaker interface {
	Call(fn func() error) error
}

type OpenWeatherClient struct {
	apiKey  string
	apiURL  string
	timeout time.Duration
	client  *http.Client
	breaker Breaker
}

func NewOpenWeatherClient(apiKey, apiURL string, timeout time.Duration) (*OpenWeatherClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}

	return &OpenWeatherClient{
		apiKey:  apiKey,
		apiURL:  apiURL,
		timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetBreaker installs a circuit breaker around Fetch. Optional.
func (c *OpenWeatherClient) SetBreaker(b Breaker) {
	c.breaker = b
}

type openWeatherResponse struct {
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
		Pressure  int     `json:"pressure"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Name string `json:"name"`
}

// Fetch performs one provider call for the canonical key and returns a typed
// UpstreamError on failure.
func (c *OpenWeatherClient) Fetch(ctx context.Context, key string, unit models.TemperatureUnit) (models.WeatherReading, error) {
	if c.breaker == nil {
		return c.callAPI(ctx, key, unit)
	}
	var reading models.WeatherReading
	err := c.breaker.Call(func() error {
		var callErr error
		reading, callErr = c.callAPI(ctx, key, unit)
		return callErr
	})
	if err != nil {
		return models.WeatherReading{}, err
	}
	return reading, nil
}

func (c *OpenWeatherClient) callAPI(ctx context.Context, key string, unit models.TemperatureUnit) (models.WeatherReading, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, location.CityFromKey(key), unit)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues("error").Inc()
		return models.WeatherReading{}, &UpstreamError{Kind: KindUnreachable, Err: fmt.Errorf("build request: %w", err)}
	}

	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.UpstreamCallsTotal.WithLabelValues("error").Inc()
		observability.UpstreamDuration.WithLabelValues("error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || isClientTimeout(err) {
			return models.WeatherReading{}, &UpstreamError{Kind: KindTimeout, Err: err}
		}
		return models.WeatherReading{}, &UpstreamError{Kind: KindUnreachable, Err: err}
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues(status).Inc()
	observability.UpstreamDuration.WithLabelValues(status).Observe(duration)

	if err := classifyStatus(resp.StatusCode); err != nil {
		return models.WeatherReading{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.WeatherReading{}, &UpstreamError{Kind: KindMalformed, Err: fmt.Errorf("read response body: %w", err)}
	}

	var apiResp openWeatherResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.WeatherReading{}, &UpstreamError{Kind: KindMalformed, Err: fmt.Errorf("parse response: %w", err)}
	}

	return c.mapResponse(apiResp, key, unit, body), nil
}

// classifyStatus maps provider status codes to UpstreamError kinds. Unknown
// non-2xx codes map to Unreachable.
func classifyStatus(statusCode int) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusNotFound:
		return &UpstreamError{Kind: KindNotFound, Status: statusCode, Err: errors.New("location not found")}
	case statusCode == http.StatusTooManyRequests:
		return &UpstreamError{Kind: KindProviderRateLimited, Status: statusCode, Err: errors.New("provider rate limit exceeded")}
	default:
		return &UpstreamError{Kind: KindUnreachable, Status: statusCode, Err: fmt.Errorf("HTTP %d", statusCode)}
	}
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, city string, unit models.TemperatureUnit) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	params.Set("q", city)
	params.Set("appid", c.apiKey)
	params.Set("units", unit.ProviderUnits())
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *OpenWeatherClient) mapResponse(apiResp openWeatherResponse, key string, unit models.TemperatureUnit, raw []byte) models.WeatherReading {
	conditions := ""
	if len(apiResp.Weather) > 0 {
		conditions = apiResp.Weather[0].Main
		if apiResp.Weather[0].Description != "" {
			conditions = apiResp.Weather[0].Description
		}
	}

	cityName := apiResp.Name
	if cityName == "" {
		cityName = location.CityFromKey(key)
	}

	return models.WeatherReading{
		LocationKey: key,
		CityName:    cityName,
		Temperature: apiResp.Main.Temp,
		FeelsLike:   apiResp.Main.FeelsLike,
		Conditions:  conditions,
		Humidity:    apiResp.Main.Humidity,
		WindSpeed:   apiResp.Wind.Speed,
		Pressure:    apiResp.Main.Pressure,
		Unit:        unit,
		ObservedAt:  time.Now(),
		Raw:         json.RawMessage(raw),
	}
}

// ValidateAPIKey issues a probe request to confirm the configured key works.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.buildRequest(ctx, "London", models.Celsius)
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	}

	return nil
}

func isClientTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

func extractCorrelationID(ctx context.Context) string {
	if v := ctx.Value("correlation_id"); v != nil {
		if corrID, ok := v.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
