package httputil

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the address of the caller. A proxy supplied
// X-Forwarded-For (first hop) or X-Real-IP wins over RemoteAddr, but only
// when it parses as an IP.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := parseIP(first); ip != "" {
			return ip
		}
	}

	if ip := parseIP(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func parseIP(value string) string {
	value = strings.Trim(strings.TrimSpace(value), "[]")
	if value == "" {
		return ""
	}
	if ip := net.ParseIP(value); ip != nil {
		return ip.String()
	}
	return ""
}
