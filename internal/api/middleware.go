package api

import (
	"net"
	"net/http"
	"strings"
)

// requireAPIKey enforces §4.3's single shared-secret authentication: a
// loopback caller may omit the header entirely, but if it supplies one,
// it must be correct; a non-loopback caller must always supply the
// correct header. Health is registered outside this middleware and is
// always public.
func requireAPIKey(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-API-Key")
		loopback := isLoopback(r.RemoteAddr)

		if loopback && got == "" {
			next.ServeHTTP(w, r)
			return
		}
		if got != apiKey {
			writeErrorMsg(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(strings.TrimSpace(host))
	return ip != nil && ip.IsLoopback()
}
