package ratelimit

import (
	"net/http"
	"strings"
)

// UnknownClient is the key used when no client address can be determined.
const UnknownClient = "unknown"

// ClientIP extracts the client address used as the anonymous admission key.
// Checks X-Forwarded-For (first hop), X-Real-IP and CF-Connecting-IP in order.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	if cf := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); cf != "" {
		return cf
	}

	return UnknownClient
}
