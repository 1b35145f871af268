package web

import (
	"net"
	"net/http"

	"github.com/JonMunkholm/catalogsync/internal/core"
)

// clientContext records the caller's IP and User-Agent so ingestion runs can
// log who triggered them. RemoteAddr has already been resolved by
// TrustedRealIP.
func clientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		ctx := core.ContextWithClientIP(r.Context(), ip)
		ctx = core.ContextWithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
