package principal

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vango-go/vai-shop/pkg/gateway/auth"
	"github.com/vango-go/vai-shop/pkg/gateway/config"
	"github.com/vango-go/vai-shop/pkg/gateway/ratelimit"
)

func TestResolve_PrefersAPIKey(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/v1/tools", nil)
	r = r.WithContext(auth.WithPrincipal(r.Context(), &auth.Principal{APIKey: "sk_1"}))
	got := Resolve(r, config.Config{})
	if got.Kind != KindAPIKey || got.Key != ratelimit.PrincipalKeyFromAPIKey("sk_1") {
		t.Fatalf("got %+v", got)
	}
}

func TestResolve_ForwardedHeadersOnlyWhenTrusted(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/v1/tools", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")

	untrusted := Resolve(r, config.Config{})
	if untrusted.Key != ratelimit.PrincipalKeyFromIP("10.0.0.1") {
		t.Fatalf("untrusted key=%q, want remote addr", untrusted.Key)
	}
	trusted := Resolve(r, config.Config{TrustProxyHeaders: true})
	if trusted.Key != ratelimit.PrincipalKeyFromIP("203.0.113.9") {
		t.Fatalf("trusted key=%q, want forwarded client", trusted.Key)
	}
}
