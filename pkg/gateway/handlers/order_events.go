package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vango-go/vai-shop/pkg/core"
	"github.com/vango-go/vai-shop/pkg/gateway/config"
	"github.com/vango-go/vai-shop/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-shop/pkg/gateway/metrics"
	"github.com/vango-go/vai-shop/pkg/gateway/principal"
	"github.com/vango-go/vai-shop/pkg/gateway/ratelimit"
	"github.com/vango-go/vai-shop/pkg/gateway/sessions"
	"github.com/vango-go/vai-shop/pkg/gateway/sse"
	"github.com/vango-go/vai-shop/pkg/order"
	"github.com/vango-go/vai-shop/pkg/shop"
)

// Order event stream event names.
const (
	EventStatus  = "status"
	EventDone    = "done"
	EventWarning = "warning"
	EventError   = "error"
)

// OrderStatusEvent carries the order after each status change. The first
// event reports the status at connect time.
type OrderStatusEvent struct {
	Type    string         `json:"type"`
	Order   order.Order    `json:"order"`
	Crossed []order.Status `json:"crossed,omitempty"`
	Note    string         `json:"note,omitempty"`
}

type StreamWarningEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type StreamErrorEvent struct {
	Type  string      `json:"type"`
	Error *core.Error `json:"error"`
}

// OrderEventsHandler serves GET /v1/sessions/{id}/orders/{order_id}/events:
// a server-sent event stream that re-tracks the order on every poll and
// emits a status event whenever it moves, then done once delivered. The
// order id "latest" follows the session's most recent order.
type OrderEventsHandler struct {
	Config    config.Config
	Logger    *slog.Logger
	Limiter   *ratelimit.Limiter
	Lifecycle *lifecycle.Lifecycle
	Metrics   *metrics.Metrics
	Sessions  *sessions.Manager
}

func (h OrderEventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if h.Lifecycle.IsDraining() {
		writeCoreErrorJSON(w, reqID, drainingError(), 529)
		return
	}

	sessionID := r.PathValue("id")
	orderID := strings.TrimSpace(r.PathValue("order_id"))
	if strings.EqualFold(orderID, "latest") {
		orderID = ""
	}
	p := principal.Resolve(r, h.Config)
	owner := p.Key

	// Resolve before committing to a stream so a bad id is a plain JSON error.
	first, err := h.track(r.Context(), sessionID, owner, orderID)
	if err != nil {
		writeErrorJSON(w, r, err)
		return
	}
	orderID = first.Order.ID

	if h.Limiter != nil && h.Config.WSMaxConnsPerPrincipal > 0 {
		dec := h.Limiter.AcquireLive(owner, time.Now())
		if !dec.Allowed {
			h.Metrics.RecordRateLimitHit(string(p.Kind), "live")
			writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrRateLimit, Message: "too many open streams", Code: "too_many_live_connections"}, http.StatusTooManyRequests)
			return
		}
		defer dec.Permit.Release()
	}

	sw, err := sse.New(w)
	if err != nil {
		writeErrorJSON(w, r, err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	if h.Config.OrderEventsMaxDuration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, h.Config.OrderEventsMaxDuration)
		defer stop()
	}

	detach, err := h.Sessions.Attach(sessionID, owner, sessions.Handle{
		Cancel: cancel,
		Warn: func(code, message string) error {
			return sw.Send(EventWarning, StreamWarningEvent{Type: EventWarning, Code: code, Message: message})
		},
	})
	if err != nil {
		writeErrorJSON(w, r, err)
		return
	}
	defer detach()

	w.WriteHeader(http.StatusOK)
	h.Metrics.RecordLiveConnStart()
	defer h.Metrics.RecordLiveConnEnd()

	if !h.emit(sw, first) {
		return
	}

	poll := time.NewTicker(h.pollInterval())
	defer poll.Stop()
	var pingC <-chan time.Time
	if h.Config.SSEPingInterval > 0 {
		ping := time.NewTicker(h.Config.SSEPingInterval)
		defer ping.Stop()
		pingC = ping.C
	}

	for {
		select {
		case <-ctx.Done():
			if r.Context().Err() == nil {
				h.sendError(sw, reqID, ctx.Err())
			}
			return
		case <-pingC:
			if err := sw.Comment("ping"); err != nil {
				return
			}
		case <-poll.C:
			res, err := h.track(ctx, sessionID, owner, orderID)
			if err != nil {
				if r.Context().Err() == nil {
					h.sendError(sw, reqID, err)
				}
				return
			}
			if len(res.Crossed) == 0 {
				continue
			}
			if !h.emit(sw, res) {
				return
			}
		}
	}
}

func (h OrderEventsHandler) pollInterval() time.Duration {
	if h.Config.OrderEventsPollInterval > 0 {
		return h.Config.OrderEventsPollInterval
	}
	return 5 * time.Second
}

func (h OrderEventsHandler) track(ctx context.Context, sessionID, owner, orderID string) (shop.TrackResult, error) {
	var res shop.TrackResult
	err := h.Sessions.Do(ctx, sessionID, owner, func(s *shop.Session) error {
		var err error
		res, err = s.TrackOrder(ctx, orderID)
		return err
	})
	return res, err
}

// emit sends a status event, plus done for a delivered order. It reports
// whether the stream should continue.
func (h OrderEventsHandler) emit(sw *sse.Writer, res shop.TrackResult) bool {
	ev := OrderStatusEvent{Type: EventStatus, Order: res.Order, Crossed: res.Crossed, Note: res.Order.Status.Note()}
	if err := sw.Send(EventStatus, ev); err != nil {
		return false
	}
	if !res.Order.Status.Final() {
		return true
	}
	ev.Type = EventDone
	_ = sw.Send(EventDone, ev)
	if h.Logger != nil {
		h.Logger.Info("order event stream completed", "order_id", res.Order.ID)
	}
	return false
}

func (h OrderEventsHandler) sendError(sw *sse.Writer, reqID string, err error) {
	coreErr, _ := coreErrorFrom(err, reqID)
	_ = sw.Send(EventError, StreamErrorEvent{Type: EventError, Error: coreErr})
}
