package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

// LedgerDriver selects the order ledger backend.
type LedgerDriver string

const (
	LedgerFile     LedgerDriver = "file"
	LedgerSQLite   LedgerDriver = "sqlite"
	LedgerPostgres LedgerDriver = "postgres"
	LedgerMemory   LedgerDriver = "memory"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// If true, client identity may be derived from proxy headers like X-Forwarded-For.
	// This should only be enabled when the gateway is deployed behind a trusted proxy/LB.
	TrustProxyHeaders bool

	MaxBodyBytes int64

	// Shop data.
	CatalogPath  string
	LedgerDriver LedgerDriver
	LedgerPath   string
	DatabaseURL  string
	SQLitePool   int

	// Engine behaviour.
	StatusInterval time.Duration
	Currency       string
	SearchLimit    int
	HistoryLimit   int

	// Sessions.
	SessionIdleTimeout   time.Duration
	SessionSweepInterval time.Duration
	MaxSessions          int

	// Order status event streams (/v1/sessions/{id}/orders/{order_id}/events).
	SSEPingInterval         time.Duration
	OrderEventsPollInterval time.Duration
	OrderEventsMaxDuration  time.Duration

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Live WebSocket mode (/v1/sessions/{id}/live).
	LiveMaxJSONMessageBytes int64
	LiveWSPingInterval      time.Duration
	LiveWSWriteTimeout      time.Duration
	LiveWSReadTimeout       time.Duration
	LiveToolTimeout         time.Duration
	WSMaxSessionDuration    time.Duration
	WSMaxConnsPerPrincipal  int

	// In-memory limits (per principal).
	LimitRPS                   float64
	LimitBurst                 int
	LimitMaxConcurrentRequests int

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                       envOr("SHOP_ADDR", ":8080"),
		AuthMode:                   AuthMode(envOr("SHOP_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:                    make(map[string]struct{}),
		TrustProxyHeaders:          envBoolOr("SHOP_TRUST_PROXY_HEADERS", false),
		MaxBodyBytes:               envInt64Or("SHOP_MAX_BODY_BYTES", 1<<20), // 1 MiB
		CatalogPath:                envOr("SHOP_CATALOG_PATH", "data/catalog.json"),
		LedgerDriver:               LedgerDriver(strings.ToLower(envOr("SHOP_LEDGER_DRIVER", string(LedgerFile)))),
		LedgerPath:                 envOr("SHOP_LEDGER_PATH", "data/orders.json"),
		DatabaseURL:                envOr("SHOP_DATABASE_URL", ""),
		SQLitePool:                 envIntOr("SHOP_SQLITE_POOL_SIZE", 4),
		StatusInterval:             envDurationOr("SHOP_STATUS_INTERVAL", 2*time.Minute),
		Currency:                   strings.ToUpper(envOr("SHOP_CURRENCY", "USD")),
		SearchLimit:                envIntOr("SHOP_SEARCH_LIMIT", 5),
		HistoryLimit:               envIntOr("SHOP_HISTORY_LIMIT", 5),
		SessionIdleTimeout:         envDurationOr("SHOP_SESSION_IDLE_TIMEOUT", 30*time.Minute),
		SessionSweepInterval:       envDurationOr("SHOP_SESSION_SWEEP_INTERVAL", time.Minute),
		MaxSessions:                envIntOr("SHOP_MAX_SESSIONS", 1000),
		SSEPingInterval:            envDurationOr("SHOP_SSE_PING_INTERVAL", 15*time.Second),
		OrderEventsPollInterval:    envDurationOr("SHOP_ORDER_EVENTS_POLL_INTERVAL", 5*time.Second),
		OrderEventsMaxDuration:     envDurationOr("SHOP_ORDER_EVENTS_MAX_DURATION", 30*time.Minute),
		CORSAllowedOrigins:         make(map[string]struct{}),
		LiveMaxJSONMessageBytes:    envInt64Or("SHOP_LIVE_MAX_JSON_MESSAGE_BYTES", 64*1024),
		LiveWSPingInterval:         envDurationOr("SHOP_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveWSWriteTimeout:         envDurationOr("SHOP_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		LiveWSReadTimeout:          envDurationOr("SHOP_LIVE_WS_READ_TIMEOUT", 0),
		LiveToolTimeout:            envDurationOr("SHOP_LIVE_TOOL_TIMEOUT", 10*time.Second),
		WSMaxSessionDuration:       envDurationOr("SHOP_WS_MAX_DURATION", 2*time.Hour),
		WSMaxConnsPerPrincipal:     envIntOr("SHOP_WS_MAX_CONNS_PER_PRINCIPAL", 4),
		LimitRPS:                   envFloat64Or("SHOP_RATE_LIMIT_RPS", 10),
		LimitBurst:                 envIntOr("SHOP_RATE_LIMIT_BURST", 20),
		LimitMaxConcurrentRequests: envIntOr("SHOP_MAX_CONCURRENT_REQUESTS", 20),
		ReadHeaderTimeout:          envDurationOr("SHOP_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                envDurationOr("SHOP_READ_TIMEOUT", 30*time.Second),
		HandlerTimeout:             envDurationOr("SHOP_TOTAL_REQUEST_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:        envDurationOr("SHOP_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("SHOP_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("SHOP_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}

	for _, origin := range splitCSV(os.Getenv("SHOP_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("SHOP_MAX_BODY_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.CatalogPath) == "" {
		return Config{}, fmt.Errorf("SHOP_CATALOG_PATH must not be empty")
	}

	switch cfg.LedgerDriver {
	case LedgerFile, LedgerSQLite:
		if strings.TrimSpace(cfg.LedgerPath) == "" {
			return Config{}, fmt.Errorf("SHOP_LEDGER_PATH must be set when SHOP_LEDGER_DRIVER=%s", cfg.LedgerDriver)
		}
	case LedgerPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("SHOP_DATABASE_URL must be set when SHOP_LEDGER_DRIVER=postgres")
		}
	case LedgerMemory:
	default:
		return Config{}, fmt.Errorf("SHOP_LEDGER_DRIVER must be one of file|sqlite|postgres|memory")
	}
	if cfg.SQLitePool <= 0 {
		return Config{}, fmt.Errorf("SHOP_SQLITE_POOL_SIZE must be > 0")
	}

	if cfg.StatusInterval <= 0 {
		return Config{}, fmt.Errorf("SHOP_STATUS_INTERVAL must be > 0")
	}
	if len(cfg.Currency) != 3 {
		return Config{}, fmt.Errorf("SHOP_CURRENCY must be a three-letter currency code")
	}
	if cfg.SearchLimit <= 0 {
		return Config{}, fmt.Errorf("SHOP_SEARCH_LIMIT must be > 0")
	}
	if cfg.HistoryLimit <= 0 {
		return Config{}, fmt.Errorf("SHOP_HISTORY_LIMIT must be > 0")
	}

	if cfg.SessionIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("SHOP_SESSION_IDLE_TIMEOUT must be > 0")
	}
	if cfg.SessionSweepInterval <= 0 {
		return Config{}, fmt.Errorf("SHOP_SESSION_SWEEP_INTERVAL must be > 0")
	}
	if cfg.MaxSessions <= 0 {
		return Config{}, fmt.Errorf("SHOP_MAX_SESSIONS must be > 0")
	}

	if cfg.SSEPingInterval < 0 {
		return Config{}, fmt.Errorf("SHOP_SSE_PING_INTERVAL must be >= 0")
	}
	if cfg.OrderEventsPollInterval <= 0 {
		return Config{}, fmt.Errorf("SHOP_ORDER_EVENTS_POLL_INTERVAL must be > 0")
	}
	if cfg.OrderEventsMaxDuration <= 0 {
		return Config{}, fmt.Errorf("SHOP_ORDER_EVENTS_MAX_DURATION must be > 0")
	}

	if cfg.LiveMaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("SHOP_LIVE_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("SHOP_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("SHOP_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.LiveWSReadTimeout < 0 {
		return Config{}, fmt.Errorf("SHOP_LIVE_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.LiveToolTimeout <= 0 {
		return Config{}, fmt.Errorf("SHOP_LIVE_TOOL_TIMEOUT must be > 0")
	}
	if cfg.WSMaxSessionDuration <= 0 {
		return Config{}, fmt.Errorf("SHOP_WS_MAX_DURATION must be > 0")
	}
	if cfg.WSMaxConnsPerPrincipal < 0 {
		return Config{}, fmt.Errorf("SHOP_WS_MAX_CONNS_PER_PRINCIPAL must be >= 0")
	}

	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("SHOP_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("SHOP_READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("SHOP_TOTAL_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("SHOP_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("SHOP_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("SHOP_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.LimitMaxConcurrentRequests < 0 {
		return Config{}, fmt.Errorf("SHOP_MAX_CONCURRENT_REQUESTS must be >= 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("SHOP_API_KEYS must be set when SHOP_AUTH_MODE=required")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
