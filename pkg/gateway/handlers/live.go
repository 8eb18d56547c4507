package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-shop/pkg/core"
	"github.com/vango-go/vai-shop/pkg/gateway/config"
	"github.com/vango-go/vai-shop/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-shop/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-shop/pkg/gateway/live/session"
	"github.com/vango-go/vai-shop/pkg/gateway/metrics"
	"github.com/vango-go/vai-shop/pkg/gateway/mw"
	"github.com/vango-go/vai-shop/pkg/gateway/principal"
	"github.com/vango-go/vai-shop/pkg/gateway/ratelimit"
	"github.com/vango-go/vai-shop/pkg/gateway/sessions"
	"github.com/vango-go/vai-shop/pkg/gateway/tools"
)

const liveHandshakeTimeout = 5 * time.Second

// LiveHandler handles /v1/sessions/{id}/live websocket connections.
type LiveHandler struct {
	Config    config.Config
	Logger    *slog.Logger
	Limiter   *ratelimit.Limiter
	Lifecycle *lifecycle.Lifecycle
	Metrics   *metrics.Metrics
	Runner    ToolRunner
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if h.Lifecycle.IsDraining() {
		writeCoreErrorJSON(w, reqID, drainingError(), 529)
		return
	}
	if origin := strings.TrimSpace(r.Header.Get("Origin")); origin != "" && !mw.OriginAllowed(h.Config.CORSAllowedOrigins, origin) {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrPermission, Message: "origin is not allowed", Param: "Origin"}, http.StatusForbidden)
		return
	}

	sessionID := r.PathValue("id")
	p := principal.Resolve(r, h.Config)
	owner := p.Key

	// Refuse before upgrading when the session is unknown or not ours.
	if err := h.Runner.Sessions.Touch(sessionID, owner); err != nil {
		writeErrorJSON(w, r, err)
		return
	}

	if h.Limiter != nil && h.Config.WSMaxConnsPerPrincipal > 0 {
		dec := h.Limiter.AcquireLive(owner, time.Now())
		if !dec.Allowed {
			h.Metrics.RecordRateLimitHit(string(p.Kind), "live")
			writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrRateLimit, Message: "too many live connections", Code: "too_many_live_connections"}, http.StatusTooManyRequests)
			return
		}
		defer dec.Permit.Release()
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.LiveMaxJSONMessageBytes > 0 {
		conn.SetReadLimit(h.Config.LiveMaxJSONMessageBytes)
	}

	_ = conn.SetReadDeadline(time.Now().Add(liveHandshakeTimeout))
	messageType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		h.writeWSError(conn, "session", "bad_request", "failed to read hello", true, nil)
		return
	}
	if messageType != websocket.TextMessage {
		h.writeWSError(conn, "session", "bad_request", "first frame must be hello", true, nil)
		return
	}
	decoded, err := protocol.DecodeClientMessage(firstFrame)
	if err != nil {
		code := "bad_request"
		if decErr, ok := err.(*protocol.DecodeError); ok {
			code = decErr.Code
		}
		h.writeWSError(conn, "session", code, "invalid hello frame", true, nil)
		return
	}
	hello, ok := decoded.(protocol.ClientHello)
	if !ok {
		h.writeWSError(conn, "session", "bad_request", "first frame must be hello", true, nil)
		return
	}

	s, err := session.New(session.Dependencies{
		Conn:      conn,
		Logger:    h.Logger,
		SessionID: sessionID,
		RequestID: reqID,
		Invoke:    h.invoker(sessionID, owner, p),
		Config: session.Config{
			MaxJSONMessageBytes: h.Config.LiveMaxJSONMessageBytes,
			PingInterval:        h.Config.LiveWSPingInterval,
			WriteTimeout:        h.Config.LiveWSWriteTimeout,
			ReadTimeout:         h.Config.LiveWSReadTimeout,
			MaxSessionDuration:  h.Config.WSMaxSessionDuration,
			ToolTimeout:         h.Config.LiveToolTimeout,
		},
	})
	if err != nil {
		h.writeWSError(conn, "session", "internal", "failed to initialize live session", true, nil)
		return
	}

	detach, err := h.Runner.Sessions.Attach(sessionID, owner, sessions.Handle{
		Cancel: s.Cancel,
		Warn:   s.SendWarning,
	})
	if err != nil {
		h.writeWSError(conn, "session", "session_not_found", "session does not exist or has expired", true, nil)
		return
	}
	defer detach()

	ack := protocol.ServerHelloAck{
		Type:            protocol.TypeHelloAck,
		ProtocolVersion: protocol.ProtocolVersion1,
		SessionID:       sessionID,
		Tools:           h.Runner.Registry.Names(),
		Limits: &protocol.HelloAckLimits{
			MaxJSONMessageBytes: int(h.Config.LiveMaxJSONMessageBytes),
			ToolTimeoutMS:       int(h.Config.LiveToolTimeout / time.Millisecond),
		},
	}
	_ = conn.SetWriteDeadline(time.Now().Add(liveHandshakeTimeout))
	if err := conn.WriteJSON(ack); err != nil {
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	h.Metrics.RecordLiveConnStart()
	defer h.Metrics.RecordLiveConnEnd()

	if h.Logger != nil {
		h.Logger.Info("live connection opened", "session_id", sessionID, "request_id", reqID, "client", hello.Client.Name, "client_version", hello.Client.Version)
	}
	if err := s.Run(); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("live connection ended with error", "session_id", sessionID, "request_id", reqID, "error", err)
		}
	}
}

// invoker charges each live tool call against the caller's request
// budget, the same one HTTP calls draw from.
func (h LiveHandler) invoker(sessionID, owner string, p principal.Resolved) session.Invoker {
	return func(ctx context.Context, name string, args map[string]any) (tools.Result, error) {
		if h.Limiter != nil {
			dec := h.Limiter.AcquireRequest(owner, time.Now())
			if !dec.Allowed {
				h.Metrics.RecordRateLimitHit(string(p.Kind), "request")
				var retryAfter *int
				if dec.RetryAfter > 0 {
					v := dec.RetryAfter
					retryAfter = &v
				}
				return tools.Result{}, &core.Error{
					Type:       core.ErrRateLimit,
					Message:    "rate limit exceeded (retry in " + strconv.Itoa(dec.RetryAfter) + "s)",
					Code:       "rate_limited",
					RetryAfter: retryAfter,
				}
			}
			defer dec.Permit.Release()
		}
		return h.Runner.Run(ctx, sessionID, owner, "live", name, args)
	}
}

func (h LiveHandler) writeWSError(conn *websocket.Conn, scope, code, message string, close bool, details map[string]any) {
	_ = conn.WriteJSON(protocol.ServerError{Type: protocol.TypeError, Scope: scope, Code: code, Message: message, Close: close, Details: details})
	if close {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(2*time.Second))
	}
}
