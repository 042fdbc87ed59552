package client

import (
	"errors"
	"fmt"
)

// ErrInvalidAPIKey is returned at construction or key validation time.
var ErrInvalidAPIKey = errors.New("invalid API key")

// Kind classifies an upstream failure.
type Kind int

const (
	// KindUnreachable covers network failures, 5xx responses and any status
	// the client does not recognize.
	KindUnreachable Kind = iota
	// KindTimeout means the bounded request deadline elapsed.
	KindTimeout
	// KindNotFound means the provider does not know the location.
	KindNotFound
	// KindProviderRateLimited means the provider returned 429.
	KindProviderRateLimited
	// KindMalformed means the response body could not be parsed.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindNotFound:
		return "not_found"
	case KindProviderRateLimited:
		return "provider_rate_limited"
	case KindMalformed:
		return "malformed"
	default:
		return "unreachable"
	}
}

// UpstreamError is a typed provider failure. Status is the HTTP status when
// one was received, zero otherwise.
type UpstreamError struct {
	Kind   Kind
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream %s (HTTP %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("upstream %s: %v", e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// KindOf returns the Kind of err when it wraps an UpstreamError, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Kind, true
	}
	return 0, false
}

// Retryable reports whether the failure may succeed on an immediate retry.
// Only transient kinds qualify; NotFound and Malformed never do, and a
// provider rate limit only gets worse when hammered.
func Retryable(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return false
	}
	return k == KindTimeout || k == KindUnreachable
}
