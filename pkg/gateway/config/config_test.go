package config

import (
	"strings"
	"testing"
	"time"
)

var shopEnvKeys = []string{
	"SHOP_ADDR",
	"SHOP_AUTH_MODE",
	"SHOP_API_KEYS",
	"SHOP_TRUST_PROXY_HEADERS",
	"SHOP_MAX_BODY_BYTES",
	"SHOP_CATALOG_PATH",
	"SHOP_LEDGER_DRIVER",
	"SHOP_LEDGER_PATH",
	"SHOP_DATABASE_URL",
	"SHOP_SQLITE_POOL_SIZE",
	"SHOP_STATUS_INTERVAL",
	"SHOP_CURRENCY",
	"SHOP_SEARCH_LIMIT",
	"SHOP_HISTORY_LIMIT",
	"SHOP_SESSION_IDLE_TIMEOUT",
	"SHOP_SESSION_SWEEP_INTERVAL",
	"SHOP_MAX_SESSIONS",
	"SHOP_CORS_ORIGINS",
	"SHOP_SSE_PING_INTERVAL",
	"SHOP_ORDER_EVENTS_POLL_INTERVAL",
	"SHOP_ORDER_EVENTS_MAX_DURATION",
	"SHOP_LIVE_MAX_JSON_MESSAGE_BYTES",
	"SHOP_LIVE_WS_PING_INTERVAL",
	"SHOP_LIVE_WS_WRITE_TIMEOUT",
	"SHOP_LIVE_WS_READ_TIMEOUT",
	"SHOP_LIVE_TOOL_TIMEOUT",
	"SHOP_WS_MAX_DURATION",
	"SHOP_WS_MAX_CONNS_PER_PRINCIPAL",
	"SHOP_RATE_LIMIT_RPS",
	"SHOP_RATE_LIMIT_BURST",
	"SHOP_MAX_CONCURRENT_REQUESTS",
	"SHOP_READ_HEADER_TIMEOUT",
	"SHOP_READ_TIMEOUT",
	"SHOP_TOTAL_REQUEST_TIMEOUT",
	"SHOP_SHUTDOWN_GRACE_PERIOD",
}

func clearShopEnv(t *testing.T) {
	t.Helper()
	for _, key := range shopEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearShopEnv(t)
	t.Setenv("SHOP_API_KEYS", "shop_sk_test")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.AuthMode != AuthModeRequired {
		t.Fatalf("AuthMode = %q, want %q", cfg.AuthMode, AuthModeRequired)
	}
	if cfg.MaxBodyBytes != 1<<20 {
		t.Fatalf("MaxBodyBytes = %d, want %d", cfg.MaxBodyBytes, int64(1<<20))
	}
	if cfg.CatalogPath != "data/catalog.json" {
		t.Fatalf("CatalogPath = %q", cfg.CatalogPath)
	}
	if cfg.LedgerDriver != LedgerFile {
		t.Fatalf("LedgerDriver = %q, want file", cfg.LedgerDriver)
	}
	if cfg.LedgerPath != "data/orders.json" {
		t.Fatalf("LedgerPath = %q", cfg.LedgerPath)
	}
	if cfg.StatusInterval != 2*time.Minute {
		t.Fatalf("StatusInterval = %v, want 2m", cfg.StatusInterval)
	}
	if cfg.Currency != "USD" {
		t.Fatalf("Currency = %q, want USD", cfg.Currency)
	}
	if cfg.SearchLimit != 5 || cfg.HistoryLimit != 5 {
		t.Fatalf("SearchLimit = %d, HistoryLimit = %d, want 5/5", cfg.SearchLimit, cfg.HistoryLimit)
	}
	if cfg.SessionIdleTimeout != 30*time.Minute {
		t.Fatalf("SessionIdleTimeout = %v, want 30m", cfg.SessionIdleTimeout)
	}
	if cfg.MaxSessions != 1000 {
		t.Fatalf("MaxSessions = %d, want 1000", cfg.MaxSessions)
	}
	if cfg.LiveMaxJSONMessageBytes != 64*1024 {
		t.Fatalf("LiveMaxJSONMessageBytes = %d, want 65536", cfg.LiveMaxJSONMessageBytes)
	}
	if cfg.LiveWSReadTimeout != 0 {
		t.Fatalf("LiveWSReadTimeout = %v, want 0", cfg.LiveWSReadTimeout)
	}
	if cfg.OrderEventsPollInterval != 5*time.Second || cfg.SSEPingInterval != 15*time.Second {
		t.Fatalf("OrderEventsPollInterval = %v, SSEPingInterval = %v", cfg.OrderEventsPollInterval, cfg.SSEPingInterval)
	}
	if cfg.HandlerTimeout != 30*time.Second {
		t.Fatalf("HandlerTimeout = %v, want 30s", cfg.HandlerTimeout)
	}
	if cfg.ShutdownGracePeriod != 30*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 30s", cfg.ShutdownGracePeriod)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearShopEnv(t)
	t.Setenv("SHOP_ADDR", ":9090")
	t.Setenv("SHOP_AUTH_MODE", "optional")
	t.Setenv("SHOP_API_KEYS", "k1, k2")
	t.Setenv("SHOP_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("SHOP_LEDGER_DRIVER", "SQLite")
	t.Setenv("SHOP_LEDGER_PATH", "/tmp/orders.db")
	t.Setenv("SHOP_STATUS_INTERVAL", "30s")
	t.Setenv("SHOP_CURRENCY", "eur")
	t.Setenv("SHOP_MAX_SESSIONS", "3")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("Addr = %q", cfg.Addr)
	}
	if cfg.AuthMode != AuthModeOptional {
		t.Fatalf("AuthMode = %q", cfg.AuthMode)
	}
	if len(cfg.APIKeys) != 2 {
		t.Fatalf("len(APIKeys) = %d, want 2", len(cfg.APIKeys))
	}
	if _, ok := cfg.APIKeys["k2"]; !ok {
		t.Fatalf("APIKeys missing k2: %v", cfg.APIKeys)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("len(CORSAllowedOrigins) = %d, want 2", len(cfg.CORSAllowedOrigins))
	}
	if cfg.LedgerDriver != LedgerSQLite || cfg.LedgerPath != "/tmp/orders.db" {
		t.Fatalf("ledger = %q %q", cfg.LedgerDriver, cfg.LedgerPath)
	}
	if cfg.StatusInterval != 30*time.Second {
		t.Fatalf("StatusInterval = %v, want 30s", cfg.StatusInterval)
	}
	if cfg.Currency != "EUR" {
		t.Fatalf("Currency = %q, want EUR", cfg.Currency)
	}
	if cfg.MaxSessions != 3 {
		t.Fatalf("MaxSessions = %d, want 3", cfg.MaxSessions)
	}
}

func TestLoadFromEnv_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "bad auth mode",
			env:     map[string]string{"SHOP_AUTH_MODE": "sometimes"},
			wantErr: "SHOP_AUTH_MODE",
		},
		{
			name:    "required auth without keys",
			env:     map[string]string{"SHOP_AUTH_MODE": "required"},
			wantErr: "SHOP_API_KEYS",
		},
		{
			name:    "unknown ledger driver",
			env:     map[string]string{"SHOP_AUTH_MODE": "disabled", "SHOP_LEDGER_DRIVER": "mongo"},
			wantErr: "SHOP_LEDGER_DRIVER",
		},
		{
			name:    "postgres without url",
			env:     map[string]string{"SHOP_AUTH_MODE": "disabled", "SHOP_LEDGER_DRIVER": "postgres"},
			wantErr: "SHOP_DATABASE_URL",
		},
		{
			name:    "zero status interval",
			env:     map[string]string{"SHOP_AUTH_MODE": "disabled", "SHOP_STATUS_INTERVAL": "0s"},
			wantErr: "SHOP_STATUS_INTERVAL",
		},
		{
			name:    "bad currency",
			env:     map[string]string{"SHOP_AUTH_MODE": "disabled", "SHOP_CURRENCY": "DOLLARS"},
			wantErr: "SHOP_CURRENCY",
		},
		{
			name:    "negative read timeout",
			env:     map[string]string{"SHOP_AUTH_MODE": "disabled", "SHOP_LIVE_WS_READ_TIMEOUT": "-1s"},
			wantErr: "SHOP_LIVE_WS_READ_TIMEOUT",
		},
		{
			name:    "zero order events poll",
			env:     map[string]string{"SHOP_AUTH_MODE": "disabled", "SHOP_ORDER_EVENTS_POLL_INTERVAL": "0s"},
			wantErr: "SHOP_ORDER_EVENTS_POLL_INTERVAL",
		},
		{
			name:    "zero max sessions",
			env:     map[string]string{"SHOP_AUTH_MODE": "disabled", "SHOP_MAX_SESSIONS": "0"},
			wantErr: "SHOP_MAX_SESSIONS",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearShopEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromEnv_UnparsableNumberFallsBackToDefault(t *testing.T) {
	clearShopEnv(t)
	t.Setenv("SHOP_AUTH_MODE", "disabled")
	t.Setenv("SHOP_SEARCH_LIMIT", "lots")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.SearchLimit != 5 {
		t.Fatalf("SearchLimit = %d, want 5", cfg.SearchLimit)
	}
}
