package handlers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vango-go/vai-shop/pkg/core"
	"github.com/vango-go/vai-shop/pkg/gateway/metrics"
	"github.com/vango-go/vai-shop/pkg/gateway/sessions"
	"github.com/vango-go/vai-shop/pkg/gateway/tools"
	"github.com/vango-go/vai-shop/pkg/order"
	"github.com/vango-go/vai-shop/pkg/shop"
)

// ToolRunner executes a tool against a managed session and records the
// outcome. The HTTP and live handlers share it.
type ToolRunner struct {
	Sessions *sessions.Manager
	Registry *tools.Registry
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

func (t ToolRunner) Run(ctx context.Context, sessionID, owner, transport, name string, args map[string]any) (tools.Result, error) {
	start := time.Now()

	var res tools.Result
	err := t.Sessions.Do(ctx, sessionID, owner, func(s *shop.Session) error {
		var err error
		res, err = t.Registry.Execute(ctx, s, name, args)
		return err
	})
	elapsed := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = outcomeCode(err)
	}
	// Unknown names would otherwise create one series per typo.
	label := name
	if !t.Registry.Has(name) {
		label = "unknown"
	}
	t.Metrics.RecordToolCall(label, transport, outcome, elapsed)

	if err != nil {
		if t.Logger != nil {
			t.Logger.Info("tool call failed", "session_id", sessionID, "tool", name, "transport", transport, "code", outcome, "duration_ms", elapsed.Milliseconds())
		}
		return tools.Result{}, err
	}

	if o, ok := res.Data.(order.Order); ok {
		t.Metrics.RecordOrder(o.Currency, o.Total.InexactFloat64())
		if t.Logger != nil {
			t.Logger.Info("order placed", "session_id", sessionID, "order_id", o.ID, "total", o.Total.StringFixed(2), "lines", len(o.Lines))
		}
	}
	return res, nil
}

func outcomeCode(err error) string {
	var shopErr *shop.Error
	if errors.As(err, &shopErr) {
		return string(shopErr.Kind)
	}
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr.Code != "" {
		return coreErr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return "error"
}
