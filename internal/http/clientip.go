package http

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP extracts the caller's IP address: the first X-Forwarded-For hop
// when present, otherwise the host part of RemoteAddr. The result identifies
// the caller for rate limiting and history records.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, ok := strings.Cut(xff, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
