package api

import (
	"net"
	"net/http"
	"strings"
)

// getRealIP extracts the client IP from the request. Forwarded headers are
// only honored when trustProxy is set.
func getRealIP(r *http.Request, trustProxy bool) string {
	directIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		directIP = r.RemoteAddr
	}
	if !trustProxy {
		return directIP
	}

	// X-Forwarded-For can contain multiple IPs, take the first one (original client)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(ip) != nil {
			return ip
		}
	}

	// X-Real-IP is set by nginx
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" && net.ParseIP(xri) != nil {
		return xri
	}

	return directIP
}
