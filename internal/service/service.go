package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/weather-gateway/internal/cache"
	"github.com/kjstillabower/weather-gateway/internal/client"
	"github.com/kjstillabower/weather-gateway/internal/location"
	"github.com/kjstillabower/weather-gateway/internal/models"
	"github.com/kjstillabower/weather-gateway/internal/observability"
	"github.com/kjstillabower/weather-gateway/internal/ratelimit"
)

// Recorder persists query records for later retrieval. Implemented by the
// history package; a no-op implementation is fine for tests.
type Recorder interface {
	Record(ctx context.Context, reading models.WeatherReading, callerID string, servedFromCache bool) models.QueryRecord
}

// Options tune the orchestrator beyond its collaborators.
type Options struct {
	// LocationMinLen/MaxLen bound the raw query length in runes; zero disables.
	LocationMinLen int
	LocationMaxLen int
	// CoalesceMisses collapses concurrent upstream fetches for the same key
	// into one call. Off by default; a coalesced caller still pays its own
	// rate-limit charge.
	CoalesceMisses bool
	// CacheBackend labels cache metrics ("in_memory" or "memcached").
	CacheBackend string
}

// Orchestrator is the single entry point of the fetch path: canonicalize,
// consult the cache, charge the rate limiter, call upstream, commit the cache
// write, record history. Safe for concurrent use; no cache or limiter lock is
// held across the network call.
type Orchestrator struct {
	client   client.WeatherClient
	cache    cache.Cache
	limiter  *ratelimit.Limiter
	recorder Recorder
	opts     Options
	group    *singleflight.Group
}

// New creates an Orchestrator. limiter and recorder must be non-nil.
func New(cl client.WeatherClient, c cache.Cache, limiter *ratelimit.Limiter, recorder Recorder, opts Options) *Orchestrator {
	o := &Orchestrator{
		client:   cl,
		cache:    c,
		limiter:  limiter,
		recorder: recorder,
		opts:     opts,
	}
	if opts.CoalesceMisses {
		o.group = &singleflight.Group{}
	}
	return o
}

// loggerFromContext extracts a zap.Logger from request context if present.
// Returns nil if logger is not found or context is invalid.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return nil
}

// GetWeather resolves a raw city query for one caller. Cache hits return
// immediately without touching the limiter or the provider, so repeated
// identical queries inside the TTL window are free.
func (o *Orchestrator) GetWeather(ctx context.Context, rawQuery string, unit models.TemperatureUnit, callerID string) (models.QueryRecord, error) {
	start := time.Now()
	logger := loggerFromContext(ctx)

	key, err := location.Canonicalize(rawQuery, unit, o.opts.LocationMinLen, o.opts.LocationMaxLen)
	if err != nil {
		return models.QueryRecord{}, &QueryError{Kind: InvalidQuery, Err: err}
	}
	observability.WeatherQueriesTotal.Inc()

	cached, ok, cacheErr := o.cache.Get(ctx, key)
	if cacheErr != nil {
		// A broken cache backend degrades to miss behavior.
		if logger != nil {
			logger.Warn("cache get failed", zap.String("key", key), zap.Error(cacheErr))
		}
	}
	if ok {
		observability.CacheHitsTotal.WithLabelValues(o.opts.CacheBackend).Inc()
		if logger != nil {
			logger.Debug("weather served", zap.String("key", key), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		}
		return o.recorder.Record(ctx, cached, callerID, true), nil
	}
	observability.CacheMissesTotal.WithLabelValues(o.opts.CacheBackend).Inc()

	decision := o.limiter.TryAcquire(callerID)
	if !decision.Allowed {
		observability.RateLimitDeniedTotal.Inc()
		if logger != nil {
			logger.Debug("fetch denied by rate limit", zap.String("caller", callerID), zap.Duration("retry_after", decision.RetryAfter))
		}
		return models.QueryRecord{}, &QueryError{Kind: RateLimited, RetryAfter: decision.RetryAfter}
	}

	if logger != nil {
		logger.Debug("cache miss, fetching upstream", zap.String("key", key))
	}

	reading, err := o.fetch(ctx, key, unit)
	if err != nil {
		return models.QueryRecord{}, &QueryError{Kind: UpstreamFailed, Err: err}
	}

	if setErr := o.cache.Set(ctx, key, reading); setErr != nil && logger != nil {
		logger.Warn("cache set failed", zap.String("key", key), zap.Error(setErr))
	}
	if logger != nil {
		logger.Debug("weather served", zap.String("key", key), zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
	}
	return o.recorder.Record(ctx, reading, callerID, false), nil
}

// fetch calls the provider, retrying once on transient failures. Concurrent
// misses for the same key share one provider call when coalescing is on; each
// of those callers has already paid its rate-limit charge.
func (o *Orchestrator) fetch(ctx context.Context, key string, unit models.TemperatureUnit) (models.WeatherReading, error) {
	if o.group == nil {
		return o.fetchOnce(ctx, key, unit)
	}
	v, err, _ := o.group.Do(key, func() (interface{}, error) {
		return o.fetchOnce(ctx, key, unit)
	})
	if err != nil {
		return models.WeatherReading{}, err
	}
	return v.(models.WeatherReading), nil
}

// fetchOnce performs the provider call with the single-retry policy: retry
// only Timeout and Unreachable, never NotFound, Malformed or a provider-side
// rate limit. The retry rides on the charge already consumed.
func (o *Orchestrator) fetchOnce(ctx context.Context, key string, unit models.TemperatureUnit) (models.WeatherReading, error) {
	reading, err := o.client.Fetch(ctx, key, unit)
	if err == nil || !client.Retryable(err) {
		return reading, err
	}
	if ctx.Err() != nil {
		return models.WeatherReading{}, err
	}
	observability.UpstreamRetriesTotal.Inc()
	return o.client.Fetch(ctx, key, unit)
}
