package mw

import (
	"net/http"
	"time"
)

// Observer receives one call per finished request. route is the mux
// pattern that matched, or "unmatched".
type Observer func(route, method string, status int, elapsed time.Duration)

// Instrument must wrap the mux directly so the matched pattern is visible
// on the request after it returns.
func Instrument(observe Observer, next http.Handler) http.Handler {
	if observe == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped, sw := wrapStatus(w)
		next.ServeHTTP(wrapped, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		observe(route, r.Method, sw.status, time.Since(start))
	})
}
