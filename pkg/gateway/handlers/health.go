package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/vango-go/vai-shop/pkg/catalog"
	"github.com/vango-go/vai-shop/pkg/gateway/config"
	"github.com/vango-go/vai-shop/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// Pinger reports whether the order ledger's backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	Catalog   *catalog.Catalog
	Ledger    Pinger
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK           bool     `json:"ok"`
		AuthMode     string   `json:"auth_mode"`
		LedgerDriver string   `json:"ledger_driver"`
		CatalogItems int      `json:"catalog_items"`
		Draining     bool     `json:"draining,omitempty"`
		Issues       []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}

	items := 0
	if h.Catalog == nil || h.Catalog.Len() == 0 {
		issues = append(issues, "catalog is not loaded")
	} else {
		items = h.Catalog.Len()
	}

	if h.Ledger == nil {
		issues = append(issues, "order ledger is not configured")
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.Ledger.Ping(ctx)
		cancel()
		if err != nil {
			issues = append(issues, "order ledger unreachable: "+err.Error())
		}
	}

	draining := h.Lifecycle.IsDraining()
	if draining {
		issues = append(issues, "gateway is draining")
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:           ok,
		AuthMode:     string(h.Config.AuthMode),
		LedgerDriver: string(h.Config.LedgerDriver),
		CatalogItems: items,
		Draining:     draining,
		Issues:       issues,
	})
}
