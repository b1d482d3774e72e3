package httpx

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP identifies the caller for throttling and audit.
//
// The first X-Forwarded-For entry wins when present, otherwise the host part of
// RemoteAddr. This trusts whatever proxy sits in front of the service to set
// X-Forwarded-For; a deployment exposed directly to clients should strip the
// header at the edge, or callers can spoof their identity.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
