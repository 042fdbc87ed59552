package service

import (
	"errors"
	"fmt"
	"time"
)

// FailureKind classifies an orchestrator failure.
type FailureKind int

const (
	// InvalidQuery means the raw query could not be canonicalized.
	InvalidQuery FailureKind = iota
	// RateLimited means the caller exhausted its fixed window; RetryAfter
	// carries the back-off hint.
	RateLimited
	// UpstreamFailed wraps a typed provider failure.
	UpstreamFailed
)

func (k FailureKind) String() string {
	switch k {
	case InvalidQuery:
		return "invalid_query"
	case RateLimited:
		return "rate_limited"
	default:
		return "upstream_failed"
	}
}

// QueryError is the typed result of a failed GetWeather call. The web layer
// maps kinds to HTTP statuses; the wrapped error keeps the cause reachable
// via errors.Is/As without leaking provider text to clients.
type QueryError struct {
	Kind       FailureKind
	RetryAfter time.Duration
	Err        error
}

func (e *QueryError) Error() string {
	if e.Kind == RateLimited {
		return fmt.Sprintf("%s: retry after %s", e.Kind, e.RetryAfter)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// AsQueryError unwraps err into a *QueryError when possible.
func AsQueryError(err error) (*QueryError, bool) {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}
