package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/vango-go/vai-shop/internal/clock"
	"github.com/vango-go/vai-shop/pkg/catalog"
	"github.com/vango-go/vai-shop/pkg/gateway/config"
	"github.com/vango-go/vai-shop/pkg/ledger"
	"github.com/vango-go/vai-shop/pkg/ledger/memstore"
)

func testConfig() config.Config {
	return config.Config{
		AuthMode:                config.AuthModeDisabled,
		APIKeys:                 map[string]struct{}{},
		CORSAllowedOrigins:      map[string]struct{}{},
		LedgerDriver:            config.LedgerMemory,
		MaxBodyBytes:            1 << 20,
		StatusInterval:          2 * time.Minute,
		Currency:                "USD",
		SearchLimit:             5,
		HistoryLimit:            5,
		SessionIdleTimeout:      30 * time.Minute,
		MaxSessions:             10,
		LiveMaxJSONMessageBytes: 64 << 10,
		LiveWSPingInterval:      time.Hour,
		LiveWSWriteTimeout:      time.Second,
		LiveToolTimeout:         5 * time.Second,
		WSMaxSessionDuration:    time.Hour,
		WSMaxConnsPerPrincipal:  4,
		HandlerTimeout:          5 * time.Second,
	}
}

func newTestServer(t *testing.T, cfg config.Config) (*Server, *clock.Fake) {
	t.Helper()

	cat, err := catalog.New([]catalog.Item{
		{ID: "bread-wheat", Name: "Whole Wheat Bread", Category: "Bakery", Price: decimal.RequireFromString("3.49"), Tags: []string{"vegan"}, InStock: true},
		{ID: "milk-whole", Name: "Whole Milk", Category: "Dairy", Price: decimal.RequireFromString("5.99"), Tags: []string{"dairy"}, InStock: true},
	})
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	l, err := ledger.Open(context.Background(), memstore.New(ledger.DefaultRecipes()), nil)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	fc := clock.NewFake(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return New(cfg, logger, Deps{Catalog: cat, Ledger: l, Clock: fc}), fc
}

type apiResponse struct {
	status int
	body   map[string]any
}

func do(t *testing.T, h http.Handler, method, path, body string) apiResponse {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	out := apiResponse{status: rr.Code}
	if rr.Body.Len() > 0 && strings.Contains(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &out.body); err != nil {
			t.Fatalf("%s %s: decode body %q: %v", method, path, rr.Body.String(), err)
		}
	}
	return out
}

func errorCode(resp apiResponse) string {
	errObj, _ := resp.body["error"].(map[string]any)
	code, _ := errObj["code"].(string)
	return code
}

func createSession(t *testing.T, h http.Handler) string {
	t.Helper()
	resp := do(t, h, http.MethodPost, "/v1/sessions", "")
	if resp.status != http.StatusCreated {
		t.Fatalf("create session status=%d body=%v", resp.status, resp.body)
	}
	id, _ := resp.body["id"].(string)
	if id == "" {
		t.Fatalf("missing session id: %v", resp.body)
	}
	return id
}

func TestServer_UnknownRoute_ReturnsJSON404(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(rr.Body.String(), `"type":"not_found_error"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestServer_HealthAndReady(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	h := s.Handler()

	if resp := do(t, h, http.MethodGet, "/healthz", ""); resp.status != http.StatusOK {
		t.Fatalf("healthz status=%d", resp.status)
	}
	resp := do(t, h, http.MethodGet, "/readyz", "")
	if resp.status != http.StatusOK || resp.body["ok"] != true || resp.body["catalog_items"] != float64(2) {
		t.Fatalf("readyz status=%d body=%v", resp.status, resp.body)
	}

	s.SetDraining()
	resp = do(t, h, http.MethodGet, "/readyz", "")
	if resp.status != http.StatusServiceUnavailable || resp.body["draining"] != true {
		t.Fatalf("draining readyz status=%d body=%v", resp.status, resp.body)
	}
	if resp := do(t, h, http.MethodPost, "/v1/sessions", ""); resp.status != 529 || errorCode(resp) != "draining" {
		t.Fatalf("create while draining status=%d body=%v", resp.status, resp.body)
	}
}

func TestServer_ToolsList(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	resp := do(t, s.Handler(), http.MethodGet, "/v1/tools", "")
	if resp.status != http.StatusOK {
		t.Fatalf("status=%d", resp.status)
	}
	defs, _ := resp.body["tools"].([]any)
	if len(defs) != 14 {
		t.Fatalf("tools=%d, want 14", len(defs))
	}
}

func TestServer_ShoppingFlowOverHTTP(t *testing.T) {
	s, fc := newTestServer(t, testConfig())
	h := s.Handler()
	id := createSession(t, h)
	base := "/v1/sessions/" + id + "/tools/"

	if resp := do(t, h, http.MethodPost, base+"add_to_cart", `{"item_name":"bread"}`); resp.status != http.StatusOK {
		t.Fatalf("add bread status=%d body=%v", resp.status, resp.body)
	}
	resp := do(t, h, http.MethodPost, base+"add_to_cart", `{"item_name":"milk"}`)
	data, _ := resp.body["data"].(map[string]any)
	if resp.status != http.StatusOK || data["cart_total"] != "9.48" {
		t.Fatalf("add milk status=%d body=%v", resp.status, resp.body)
	}

	resp = do(t, h, http.MethodPost, base+"place_order", `{"buyer_name":"Sam"}`)
	if resp.status != http.StatusOK {
		t.Fatalf("place_order status=%d body=%v", resp.status, resp.body)
	}
	placed, _ := resp.body["data"].(map[string]any)
	orderID, _ := placed["id"].(string)
	if !strings.HasPrefix(orderID, "ORD-") || placed["status"] != "received" {
		t.Fatalf("placed order=%v", placed)
	}

	resp = do(t, h, http.MethodPost, base+"view_cart", "")
	view, _ := resp.body["data"].(map[string]any)
	if view["item_count"] != float64(0) {
		t.Fatalf("cart after order=%v", view)
	}

	fc.Advance(10 * time.Minute)
	resp = do(t, h, http.MethodPost, base+"track_order", `{"order_id":"`+orderID+`"}`)
	tracked, _ := resp.body["data"].(map[string]any)
	o, _ := tracked["order"].(map[string]any)
	if resp.status != http.StatusOK || o["status"] != "delivered" {
		t.Fatalf("track status=%d body=%v", resp.status, resp.body)
	}
	history, _ := o["status_history"].([]any)
	if len(history) != 5 {
		t.Fatalf("history entries=%d, want 5", len(history))
	}
}

func TestServer_ToolErrorsUseEnvelope(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	h := s.Handler()
	id := createSession(t, h)
	base := "/v1/sessions/" + id + "/tools/"

	cases := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{name: "item not in cart", path: base + "remove_from_cart", body: `{"item_name":"eggs"}`, status: http.StatusNotFound, code: "item_not_in_cart"},
		{name: "empty cart", path: base + "place_order", status: http.StatusConflict, code: "empty_cart"},
		{name: "negative quantity", path: base + "update_quantity", body: `{"item_name":"bread","new_quantity":-1}`, status: http.StatusBadRequest, code: "invalid_quantity"},
		{name: "unknown order", path: base + "track_order", body: `{"order_id":"ORD-NOPE"}`, status: http.StatusNotFound, code: "order_not_found"},
		{name: "unknown tool", path: base + "teleport", status: http.StatusNotFound, code: "unknown_tool"},
		{name: "unknown field", path: base + "view_cart", body: `{"verbose":true}`, status: http.StatusBadRequest, code: "invalid_arguments"},
		{name: "body not an object", path: base + "view_cart", body: `[1]`, status: http.StatusBadRequest, code: "invalid_json"},
		{name: "unknown session", path: "/v1/sessions/sess_missing/tools/view_cart", status: http.StatusNotFound, code: "session_not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := do(t, h, http.MethodPost, tc.path, tc.body)
			if resp.status != tc.status || errorCode(resp) != tc.code {
				t.Fatalf("status=%d code=%q body=%v, want %d %q", resp.status, errorCode(resp), resp.body, tc.status, tc.code)
			}
		})
	}
}

func TestServer_SessionOwnership(t *testing.T) {
	cfg := testConfig()
	cfg.AuthMode = config.AuthModeRequired
	cfg.APIKeys = map[string]struct{}{"key-a": {}, "key-b": {}}
	s, _ := newTestServer(t, cfg)
	h := s.Handler()

	call := func(method, path, key string) apiResponse {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Authorization", "Bearer "+key)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		out := apiResponse{status: rr.Code}
		if rr.Body.Len() > 0 {
			_ = json.Unmarshal(rr.Body.Bytes(), &out.body)
		}
		return out
	}

	created := call(http.MethodPost, "/v1/sessions", "key-a")
	id, _ := created.body["id"].(string)
	if created.status != http.StatusCreated || id == "" {
		t.Fatalf("create status=%d body=%v", created.status, created.body)
	}

	if resp := call(http.MethodPost, "/v1/sessions/"+id+"/tools/view_cart", "key-b"); resp.status != http.StatusForbidden || errorCode(resp) != "session_forbidden" {
		t.Fatalf("other key status=%d body=%v", resp.status, resp.body)
	}
	if resp := call(http.MethodPost, "/v1/sessions/"+id+"/tools/view_cart", "key-a"); resp.status != http.StatusOK {
		t.Fatalf("owner status=%d body=%v", resp.status, resp.body)
	}
	if resp := call(http.MethodDelete, "/v1/sessions/"+id, "key-a"); resp.status != http.StatusNoContent {
		t.Fatalf("delete status=%d", resp.status)
	}
	if resp := call(http.MethodPost, "/v1/sessions/"+id+"/tools/view_cart", "key-a"); resp.status != http.StatusNotFound {
		t.Fatalf("after delete status=%d", resp.status)
	}
}

func TestServer_MetricsCountToolCalls(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	h := s.Handler()
	id := createSession(t, h)
	do(t, h, http.MethodPost, "/v1/sessions/"+id+"/tools/view_cart", "")
	do(t, h, http.MethodPost, "/v1/sessions/"+id+"/tools/remove_from_cart", `{"item_name":"milk"}`)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	for _, want := range []string{
		`shop_tool_calls_total{outcome="ok",tool="view_cart",transport="http"} 1`,
		`shop_tool_calls_total{outcome="item_not_in_cart",tool="remove_from_cart",transport="http"} 1`,
		`shop_sessions_active 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestServer_LiveToolCallsAndDrain(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	h := s.Handler()
	id := createSession(t, h)

	ts := httptest.NewServer(h)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/sessions/" + id + "/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() map[string]any {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var frame map[string]any
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read: %v", err)
		}
		return frame
	}

	if err := conn.WriteJSON(map[string]any{"type": "hello", "protocol_version": "1", "client": map[string]any{"name": "test"}}); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	ack := read()
	if ack["type"] != "hello_ack" || ack["session_id"] != id {
		t.Fatalf("ack=%v", ack)
	}

	if err := conn.WriteJSON(map[string]any{"type": "tool_call", "id": "c1", "name": "add_to_cart", "input": map[string]any{"item_name": "milk", "quantity": 2}}); err != nil {
		t.Fatalf("write call: %v", err)
	}
	result := read()
	data, _ := result["data"].(map[string]any)
	if result["type"] != "tool_result" || result["id"] != "c1" || data["cart_total"] != "11.98" {
		t.Fatalf("result=%v", result)
	}

	// The HTTP surface sees the same cart.
	resp := do(t, h, http.MethodPost, "/v1/sessions/"+id+"/tools/view_cart", "")
	view, _ := resp.body["data"].(map[string]any)
	if view["item_count"] != float64(2) {
		t.Fatalf("view over http=%v", resp.body)
	}

	s.SetDraining()
	if n := s.WarnLiveSessionsDraining(); n != 1 {
		t.Fatalf("warned=%d, want 1", n)
	}
	warning := read()
	if warning["type"] != "warning" || warning["code"] != "server_draining" {
		t.Fatalf("warning=%v", warning)
	}

	if n := s.CancelLiveSessions(); n != 1 {
		t.Fatalf("canceled=%d, want 1", n)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !s.WaitLiveSessions(ctx) {
		t.Fatalf("live sessions did not drain")
	}
}

func TestServer_LiveRejectsUnknownSession(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/sessions/sess_missing/live"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected dial failure")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("resp=%v", resp)
	}
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, resp.Body)
	if !strings.Contains(buf.String(), "session_not_found") {
		t.Fatalf("body=%q", buf.String())
	}
}

func readSSEEvent(t *testing.T, r *bufio.Reader) (string, map[string]any) {
	t.Helper()
	var event string
	var data map[string]any
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if event != "" {
				return event, data
			}
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &data); err != nil {
				t.Fatalf("decode data %q: %v", line, err)
			}
		}
	}
}

func TestServer_OrderEventsStream(t *testing.T) {
	cfg := testConfig()
	cfg.OrderEventsPollInterval = 10 * time.Millisecond
	cfg.OrderEventsMaxDuration = 5 * time.Second
	s, fc := newTestServer(t, cfg)
	h := s.Handler()
	id := createSession(t, h)
	base := "/v1/sessions/" + id + "/tools/"

	do(t, h, http.MethodPost, base+"add_to_cart", `{"item_name":"bread"}`)
	resp := do(t, h, http.MethodPost, base+"place_order", "")
	placed, _ := resp.body["data"].(map[string]any)
	orderID, _ := placed["id"].(string)
	if orderID == "" {
		t.Fatalf("place_order body=%v", resp.body)
	}

	ts := httptest.NewServer(h)
	defer ts.Close()

	streamResp, err := http.Get(ts.URL + "/v1/sessions/" + id + "/orders/latest/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer streamResp.Body.Close()
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", streamResp.StatusCode)
	}
	if ct := streamResp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content-type=%q", ct)
	}
	r := bufio.NewReader(streamResp.Body)

	event, data := readSSEEvent(t, r)
	o, _ := data["order"].(map[string]any)
	if event != "status" || o["id"] != orderID || o["status"] != "received" {
		t.Fatalf("first event=%s %v", event, data)
	}

	fc.Advance(10 * time.Minute)

	event, data = readSSEEvent(t, r)
	o, _ = data["order"].(map[string]any)
	crossed, _ := data["crossed"].([]any)
	if event != "status" || o["status"] != "delivered" || len(crossed) != 4 {
		t.Fatalf("second event=%s %v", event, data)
	}
	event, _ = readSSEEvent(t, r)
	if event != "done" {
		t.Fatalf("third event=%s, want done", event)
	}
	if _, err := r.ReadString('\n'); err != io.EOF {
		t.Fatalf("expected stream to end, got err=%v", err)
	}
}

func TestServer_OrderEventsUnknownOrder(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	h := s.Handler()
	id := createSession(t, h)

	resp := do(t, h, http.MethodGet, "/v1/sessions/"+id+"/orders/ORD-NOPE0000/events", "")
	if resp.status != http.StatusNotFound || errorCode(resp) != "order_not_found" {
		t.Fatalf("status=%d body=%v", resp.status, resp.body)
	}
	resp = do(t, h, http.MethodGet, "/v1/sessions/"+id+"/orders/latest/events", "")
	if resp.status != http.StatusConflict || errorCode(resp) != "no_order_history" {
		t.Fatalf("latest without orders status=%d body=%v", resp.status, resp.body)
	}
}
