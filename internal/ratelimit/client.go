package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// UnknownClient is the identity used when no address can be determined.
const UnknownClient = "unknown"

// ClientID returns the identity a request is rate limited under: the first
// X-Forwarded-For entry when present, otherwise the peer host.
func ClientID(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	if r.RemoteAddr == "" {
		return UnknownClient
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	if host == "" {
		return UnknownClient
	}
	return host
}
