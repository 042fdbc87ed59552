package http

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-gateway/internal/client"
	"github.com/kjstillabower/weather-gateway/internal/history"
	"github.com/kjstillabower/weather-gateway/internal/lifecycle"
	"github.com/kjstillabower/weather-gateway/internal/models"
	"github.com/kjstillabower/weather-gateway/internal/service"
	"github.com/kjstillabower/weather-gateway/internal/stats"
)

// HealthConfig holds lifecycle thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	InboundRPS             int
	DegradedWindow         time.Duration
	DegradedErrorPct       int
	IdleWindow             time.Duration
	IdleThresholdReqPerMin int
	MinimumLifespan        time.Duration
	StartTime              time.Time
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// fetchRequest is the body of POST /api/weather/fetch.
type fetchRequest struct {
	CityName        string `json:"city_name"`
	TemperatureUnit string `json:"temperature_unit"`
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	orchestrator     *service.Orchestrator
	recorder         *history.Recorder
	client           client.WeatherClient
	tracker          *stats.Tracker
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(
	orchestrator *service.Orchestrator,
	recorder *history.Recorder,
	client client.WeatherClient,
	tracker *stats.Tracker,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		recorder:     recorder,
		client:       client,
		tracker:      tracker,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// PostFetchWeather handles POST /api/weather/fetch.
func (h *Handler) PostFetchWeather(w http.ResponseWriter, r *http.Request) {
	var body fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON with city_name")
		return
	}
	unit := models.TemperatureUnit(body.TemperatureUnit)
	if body.TemperatureUnit == "" {
		unit = models.Celsius
	}

	record, err := h.orchestrator.GetWeather(r.Context(), body.CityName, unit, ClientIP(r))
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	h.tracker.Record(stats.Served)
	writeJSON(w, http.StatusOK, record)
}

// writeQueryError maps orchestrator failures to HTTP responses. Provider
// error text never reaches the client; only stable codes do.
func (h *Handler) writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	qe, ok := service.AsQueryError(err)
	if !ok {
		h.tracker.Record(stats.Errored)
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	switch qe.Kind {
	case service.InvalidQuery:
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", qe.Err.Error())
	case service.RateLimited:
		h.tracker.Record(stats.Denied)
		retryAfter := int(math.Ceil(qe.RetryAfter.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded, please try again later")
	default:
		h.tracker.Record(stats.Errored)
		if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
			logger.Debug("upstream error", zap.Error(err))
		}
		kind, _ := client.KindOf(qe.Err)
		switch kind {
		case client.KindNotFound:
			writeError(w, r, http.StatusNotFound, "CITY_NOT_FOUND", "city not found")
		case client.KindTimeout:
			writeError(w, r, http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT", "weather provider timed out")
		default:
			writeError(w, r, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "unable to fetch weather data")
		}
	}
}

// GetHistory handles GET /api/weather/history with city, date_from, date_to,
// page and page_size query parameters.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_FILTER", err.Error())
		return
	}
	page := history.Page{
		Number: intQuery(r, "page", 1),
		Size:   intQuery(r, "page_size", history.DefaultPageSize),
	}

	records, total := h.recorder.List(filter, page)
	if records == nil {
		records = []models.QueryRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   total,
		"results": records,
	})
}

// ExportHistory handles GET /api/weather/history/export. Same filters as the
// listing, streamed as a CSV attachment.
func (h *Handler) ExportHistory(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_FILTER", err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="weather_query_history.csv"`)
	if err := h.recorder.WriteCSV(w, filter); err != nil {
		if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
			logger.Warn("csv export failed", zap.Error(err))
		}
	}
}

func parseFilter(r *http.Request) (history.Filter, error) {
	q := r.URL.Query()
	filter := history.Filter{City: q.Get("city")}
	if v := q.Get("date_from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return history.Filter{}, err
		}
		filter.From = t
	}
	if v := q.Get("date_to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return history.Filter{}, err
		}
		filter.To = t
	}
	return filter, nil
}

func intQuery(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.status == "degraded" {
		checks["weatherApi"] = "unhealthy"
	} else {
		checks["weatherApi"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "weather-gateway",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

// computeHealthStatus determines the current health status by evaluating
// conditions in priority order: shutting-down > API key invalid > overloaded >
// idle > degraded > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if err := h.client.ValidateAPIKey(ctx); err != nil {
		return healthResult{"degraded", http.StatusServiceUnavailable, "api_key_invalid"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	threshold := float64(h.healthConfig.InboundRPS) * h.healthConfig.OverloadWindow.Seconds() * float64(h.healthConfig.OverloadThresholdPct) / 100
	if threshold > 0 && float64(h.tracker.RequestCount(h.healthConfig.OverloadWindow)) > threshold {
		return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
	}
	if h.healthConfig.IdleWindow > 0 && h.healthConfig.MinimumLifespan > 0 && time.Since(h.healthConfig.StartTime) >= h.healthConfig.MinimumLifespan {
		if h.tracker.RequestCount(h.healthConfig.IdleWindow) < h.healthConfig.IdleThresholdReqPerMin {
			return healthResult{"idle", http.StatusOK, "low_traffic"}
		}
	}
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errors, total := h.tracker.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 {
			pct := float64(errors) * 100 / float64(total)
			if pct >= float64(h.healthConfig.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code,
// message, and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}
