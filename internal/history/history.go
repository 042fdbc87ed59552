// Package history keeps a bounded, process-local record of served weather
// queries and exposes filtered listing and CSV export over it.
package history

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kjstillabower/weather-gateway/internal/models"
	"github.com/kjstillabower/weather-gateway/internal/observability"
)

// Filter narrows a history listing. Zero values match everything.
type Filter struct {
	// City matches case-insensitive substrings of the recorded city name.
	City string
	// From/To bound the record timestamp, both inclusive.
	From time.Time
	To   time.Time
}

// Page selects a slice of the filtered result set, newest first.
type Page struct {
	Number int // 1-based; values < 1 mean page 1
	Size   int // capped at MaxPageSize; values < 1 use DefaultPageSize
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Recorder stores query records in memory, newest last, bounded by maxEntries
// (FIFO eviction). Safe for concurrent use.
type Recorder struct {
	mu         sync.RWMutex
	records    []models.QueryRecord
	nextID     int64
	maxEntries int
	now        func() time.Time
}

// NewRecorder creates a Recorder retaining at most maxEntries records.
// maxEntries <= 0 means unbounded.
func NewRecorder(maxEntries int) *Recorder {
	return &Recorder{nextID: 1, maxEntries: maxEntries, now: time.Now}
}

// SetClock overrides the recorder's time source. For tests only.
func (r *Recorder) SetClock(now func() time.Time) {
	r.now = now
}

// Record appends one query record and returns it with its assigned ID.
func (r *Recorder) Record(ctx context.Context, reading models.WeatherReading, callerID string, servedFromCache bool) models.QueryRecord {
	r.mu.Lock()
	rec := models.QueryRecord{
		ID:              r.nextID,
		Reading:         reading,
		Timestamp:       r.now(),
		CallerID:        callerID,
		ServedFromCache: servedFromCache,
	}
	r.nextID++
	r.records = append(r.records, rec)
	if r.maxEntries > 0 && len(r.records) > r.maxEntries {
		overflow := len(r.records) - r.maxEntries
		r.records = append(r.records[:0], r.records[overflow:]...)
	}
	size := len(r.records)
	r.mu.Unlock()

	observability.HistorySize.Set(float64(size))
	return rec
}

// Size returns the number of retained records.
func (r *Recorder) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// List returns the page of records matching the filter, newest first, plus
// the total match count for pagination headers.
func (r *Recorder) List(filter Filter, page Page) ([]models.QueryRecord, int) {
	matched := r.matches(filter)

	size := page.Size
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	number := page.Number
	if number < 1 {
		number = 1
	}

	start := (number - 1) * size
	if start >= len(matched) {
		return nil, len(matched)
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], len(matched)
}

// All returns every record matching the filter, newest first. Used by export.
func (r *Recorder) All(filter Filter) []models.QueryRecord {
	return r.matches(filter)
}

func (r *Recorder) matches(filter Filter) []models.QueryRecord {
	city := strings.ToLower(strings.TrimSpace(filter.City))

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.QueryRecord, 0, len(r.records))
	// Records are stored oldest first; walk backwards for newest-first output.
	for i := len(r.records) - 1; i >= 0; i-- {
		rec := r.records[i]
		if city != "" && !strings.Contains(strings.ToLower(rec.Reading.CityName), city) {
			continue
		}
		if !filter.From.IsZero() && rec.Timestamp.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && rec.Timestamp.After(filter.To) {
			continue
		}
		out = append(out, rec)
	}
	return out
}
