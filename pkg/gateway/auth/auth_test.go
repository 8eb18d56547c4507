package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		url     string
		headers map[string]string
		want    string
		wantOK  bool
	}{
		{name: "bearer", url: "/v1/tools", headers: map[string]string{"Authorization": "Bearer sk_1"}, want: "sk_1", wantOK: true},
		{name: "wrong scheme", url: "/v1/tools", headers: map[string]string{"Authorization": "Basic abc"}},
		{name: "query ignored without upgrade", url: "/v1/tools?api_key=sk_2"},
		{name: "query on upgrade", url: "/v1/sessions/s1/live?api_key=sk_3", headers: map[string]string{"Upgrade": "websocket"}, want: "sk_3", wantOK: true},
		{name: "bearer wins on upgrade", url: "/live?api_key=sk_3", headers: map[string]string{"Upgrade": "websocket", "Authorization": "Bearer sk_4"}, want: "sk_4", wantOK: true},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, tt.url, nil)
		for k, v := range tt.headers {
			r.Header.Set(k, v)
		}
		got, ok := Token(r)
		if got != tt.want || ok != tt.wantOK {
			t.Fatalf("%s: Token()=(%q,%v), want (%q,%v)", tt.name, got, ok, tt.want, tt.wantOK)
		}
	}
}
