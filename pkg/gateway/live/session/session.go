// Package session runs one live tool-call connection: it reads tool_call
// frames, executes them one at a time and writes a tool_result or
// tool_error for each.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-shop/pkg/core"
	"github.com/vango-go/vai-shop/pkg/gateway/apierror"
	"github.com/vango-go/vai-shop/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-shop/pkg/gateway/tools"
)

var errBackpressure = errors.New("live outbound backpressure")

// Invoker executes one tool call for the connection's shopping session.
type Invoker func(ctx context.Context, name string, args map[string]any) (tools.Result, error)

type Config struct {
	MaxJSONMessageBytes int64
	PingInterval        time.Duration
	WriteTimeout        time.Duration
	// ReadTimeout of zero disables the idle read deadline.
	ReadTimeout        time.Duration
	MaxSessionDuration time.Duration
	ToolTimeout        time.Duration
	OutboundQueueSize  int
}

type Dependencies struct {
	Conn      *websocket.Conn
	Logger    *slog.Logger
	Invoke    Invoker
	SessionID string
	RequestID string
	Config    Config
}

type LiveSession struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	invoke    Invoker
	sessionID string
	requestID string
	cfg       Config

	ctx    context.Context
	cancel context.CancelFunc

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

func New(deps Dependencies) (*LiveSession, error) {
	if deps.Conn == nil {
		return nil, errors.New("live session requires a connection")
	}
	if deps.Invoke == nil {
		return nil, errors.New("live session requires an invoker")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	queue := deps.Config.OutboundQueueSize
	if queue <= 0 {
		queue = 32
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &LiveSession{
		conn:             deps.Conn,
		logger:           logger.With("session_id", deps.SessionID, "request_id", deps.RequestID),
		invoke:           deps.Invoke,
		sessionID:        deps.SessionID,
		requestID:        deps.RequestID,
		cfg:              deps.Config,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan outboundFrame, 8),
		outboundNormal:   make(chan outboundFrame, queue),
	}, nil
}

// Run serves the connection until the client leaves, the session is
// canceled, or the maximum duration passes. A clean close returns nil.
func (s *LiveSession) Run() error {
	defer s.cancel()

	if s.cfg.MaxJSONMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxJSONMessageBytes)
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	}

	readCh := make(chan inboundFrame, 16)
	writerErrCh := make(chan error, 1)
	go s.readLoop(readCh)
	go func() {
		w := outboundWriter{
			ws:       s.conn,
			ctx:      s.ctx,
			cfg:      s.cfg,
			priority: s.outboundPriority,
			normal:   s.outboundNormal,
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	flushAndClose := func() {
		s.cancel()
		wait := 200 * time.Millisecond
		if s.cfg.WriteTimeout > 0 && s.cfg.WriteTimeout < wait {
			wait = s.cfg.WriteTimeout
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-writerErrCh:
		case <-timer.C:
		}
	}

	var expired <-chan time.Time
	if s.cfg.MaxSessionDuration > 0 {
		timer := time.NewTimer(s.cfg.MaxSessionDuration)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		select {
		case <-s.ctx.Done():
			flushAndClose()
			return nil
		case <-expired:
			_ = s.sendSessionError("session_expired", "maximum live connection duration reached", true, nil)
			flushAndClose()
			return nil
		case err, ok := <-writerErrCh:
			if ok && err != nil {
				return err
			}
			return nil
		case frame, ok := <-readCh:
			if !ok {
				flushAndClose()
				return nil
			}
			if frame.err != nil {
				flushAndClose()
				if websocket.IsCloseError(frame.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || s.ctx.Err() != nil {
					return nil
				}
				return frame.err
			}
			done, err := s.handleFrame(frame)
			if err != nil {
				flushAndClose()
				return err
			}
			if done {
				flushAndClose()
				return nil
			}
		}
	}
}

func (s *LiveSession) handleFrame(frame inboundFrame) (done bool, err error) {
	if frame.messageType != websocket.TextMessage {
		return false, s.sendSessionError("bad_request", "binary frames are not supported", false, nil)
	}

	decoded, err := protocol.DecodeClientMessage(frame.data)
	if err != nil {
		var decErr *protocol.DecodeError
		if errors.As(err, &decErr) {
			var details map[string]any
			if decErr.Param != "" {
				details = map[string]any{"param": decErr.Param}
			}
			return false, s.sendSessionError(decErr.Code, decErr.Message, false, details)
		}
		return false, s.sendSessionError("bad_request", "invalid frame", false, nil)
	}

	switch msg := decoded.(type) {
	case protocol.ClientHello:
		return false, s.sendSessionError("bad_request", "hello already received", false, nil)
	case protocol.ClientPing:
		return false, s.sendJSON(protocol.ServerPong{Type: protocol.TypePong, ID: msg.ID})
	case protocol.ClientControl:
		return true, nil
	case protocol.ToolCall:
		return false, s.runToolCall(msg)
	default:
		return false, s.sendSessionError("bad_request", "unsupported message type", false, nil)
	}
}

func (s *LiveSession) runToolCall(call protocol.ToolCall) error {
	args, err := call.Arguments()
	if err == nil {
		ctx := s.ctx
		cancel := func() {}
		if s.cfg.ToolTimeout > 0 {
			ctx, cancel = context.WithTimeout(s.ctx, s.cfg.ToolTimeout)
		}
		var res tools.Result
		res, err = s.invoke(ctx, call.Name, args)
		cancel()
		if err == nil {
			return s.sendJSON(protocol.ServerToolResult{
				Type:    protocol.TypeToolResult,
				ID:      call.ID,
				Tool:    call.Name,
				Message: res.Message,
				Data:    res.Data,
			})
		}
	} else {
		var decErr *protocol.DecodeError
		if errors.As(err, &decErr) {
			err = invalidInput(decErr)
		}
	}

	coreErr, _ := apierror.FromError(err, s.requestID)
	s.logger.Debug("live tool call failed", "tool", call.Name, "call_id", call.ID, "code", coreErr.Code, "error", err)
	return s.sendJSON(protocol.ServerToolError{
		Type:  protocol.TypeToolError,
		ID:    call.ID,
		Tool:  call.Name,
		Error: coreErr,
	})
}

func invalidInput(e *protocol.DecodeError) *core.Error {
	return &core.Error{
		Type:    core.ErrInvalidRequest,
		Message: e.Message,
		Param:   e.Param,
		Code:    "invalid_arguments",
	}
}

func (s *LiveSession) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *LiveSession) sendWarning(code, message string) error {
	return s.sendJSONPriority(protocol.ServerWarning{Type: protocol.TypeWarning, Code: code, Message: message})
}

func (s *LiveSession) sendSessionError(code, message string, close bool, details map[string]any) error {
	msg := protocol.ServerError{Type: protocol.TypeError, Scope: "session", Code: code, Message: message, Close: close, Details: details}
	if close {
		return s.sendJSONPriority(msg)
	}
	return s.sendJSON(msg)
}

func (s *LiveSession) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case s.outboundNormal <- outboundFrame{payload: payload}:
		return nil
	default:
		return errBackpressure
	}
}

func (s *LiveSession) sendJSONPriority(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case s.outboundPriority <- outboundFrame{payload: payload}:
		return nil
	default:
		return errBackpressure
	}
}

func (s *LiveSession) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
}

// SendWarning queues a warning ahead of pending tool results.
func (s *LiveSession) SendWarning(code, message string) error {
	if s == nil {
		return nil
	}
	return s.sendWarning(code, message)
}
