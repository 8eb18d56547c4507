package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/vango-go/vai-shop/pkg/core"
	"github.com/vango-go/vai-shop/pkg/gateway/auth"
	"github.com/vango-go/vai-shop/pkg/gateway/config"
	"github.com/vango-go/vai-shop/pkg/gateway/principal"
	"github.com/vango-go/vai-shop/pkg/gateway/ratelimit"
)

// OnLimited is called with the principal key and limit kind whenever a
// request is rejected.
type OnLimited func(principalKind, limit string)

func RateLimit(cfg config.Config, limiter *ratelimit.Limiter, onLimited OnLimited, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health, metrics and live upgrades are not charged here; live
		// connections take their own permit.
		if isPublicPath(r.URL.Path) || r.Method == http.MethodOptions || auth.IsWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}

		p := principal.Resolve(r, cfg)
		dec := limiter.AcquireRequest(p.Key, time.Now())
		if !dec.Allowed {
			if onLimited != nil {
				onLimited(string(p.Kind), "request")
			}
			reqID, _ := RequestIDFrom(r.Context())
			var retryAfter *int
			if dec.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
				v := dec.RetryAfter
				retryAfter = &v
			}
			writeJSONError(w, http.StatusTooManyRequests, &core.Error{
				Type:       core.ErrRateLimit,
				Message:    "rate limit exceeded",
				RequestID:  reqID,
				RetryAfter: retryAfter,
			})
			return
		}
		defer dec.Permit.Release()

		next.ServeHTTP(w, r)
	})
}
