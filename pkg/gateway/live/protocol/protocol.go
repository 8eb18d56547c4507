// Package protocol defines the JSON frames of the live tool-call channel.
//
// A connection starts with a client hello answered by a hello_ack. After
// that the client sends tool_call frames and the server answers each one
// with exactly one tool_result or tool_error carrying the same id.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vango-go/vai-shop/pkg/core"
)

const (
	ProtocolVersion1 = "1"

	maxCallIDLen = 128
)

// Client frame types.
const (
	TypeHello    = "hello"
	TypeToolCall = "tool_call"
	TypePing     = "ping"
	TypeControl  = "control"
)

// Server frame types.
const (
	TypeHelloAck   = "hello_ack"
	TypeToolResult = "tool_result"
	TypeToolError  = "tool_error"
	TypePong       = "pong"
	TypeWarning    = "warning"
	TypeError      = "error"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

type HelloClient struct {
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
	Platform string `json:"platform,omitempty"`
}

type ClientHello struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Client          HelloClient `json:"client,omitempty"`
}

// ToolCall asks the server to run one tool. Input is the tool's argument
// object and is decoded by the tool itself.
type ToolCall struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Arguments returns the call input as an argument map. A missing or null
// input is an empty map.
func (c ToolCall) Arguments() (map[string]any, error) {
	raw := strings.TrimSpace(string(c.Input))
	if raw == "" || raw == "null" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(c.Input, &args); err != nil || args == nil {
		return nil, badRequest("tool_call.input must be a JSON object", "input")
	}
	return args, nil
}

type ClientPing struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

type ClientControl struct {
	Type string `json:"type"`
	Op   string `json:"op"`
}

func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeHello:
		var msg ClientHello
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid hello frame", "")
		}
		if err := ValidateHello(msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeToolCall:
		var msg ToolCall
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid tool_call frame", "")
		}
		msg.ID = strings.TrimSpace(msg.ID)
		msg.Name = strings.TrimSpace(msg.Name)
		if msg.ID == "" {
			return nil, badRequest("tool_call.id is required", "id")
		}
		if len(msg.ID) > maxCallIDLen {
			return nil, badRequest(fmt.Sprintf("tool_call.id must be at most %d characters", maxCallIDLen), "id")
		}
		if msg.Name == "" {
			return nil, badRequest("tool_call.name is required", "name")
		}
		return msg, nil
	case TypePing:
		var msg ClientPing
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid ping frame", "")
		}
		return msg, nil
	case TypeControl:
		var msg ClientControl
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid control", "")
		}
		op := strings.TrimSpace(msg.Op)
		if op == "" {
			return nil, badRequest("control.op is required", "op")
		}
		switch op {
		case "end_session", "close":
		default:
			return nil, unsupported("unsupported control operation", "op")
		}
		msg.Op = op
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

func ValidateHello(msg ClientHello) error {
	v := strings.TrimSpace(msg.ProtocolVersion)
	if v == "" {
		return badRequest("hello.protocol_version is required", "protocol_version")
	}
	if v != ProtocolVersion1 {
		return unsupported("unsupported protocol version", "protocol_version")
	}
	return nil
}

type HelloAckLimits struct {
	MaxJSONMessageBytes int `json:"max_json_message_bytes"`
	ToolTimeoutMS       int `json:"tool_timeout_ms,omitempty"`
}

type ServerHelloAck struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	SessionID       string          `json:"session_id"`
	Tools           []string        `json:"tools"`
	Limits          *HelloAckLimits `json:"limits,omitempty"`
}

type ServerToolResult struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ServerToolError reports a failed call. The session stays usable.
type ServerToolError struct {
	Type  string      `json:"type"`
	ID    string      `json:"id"`
	Tool  string      `json:"tool"`
	Error *core.Error `json:"error"`
}

type ServerPong struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// ServerError is a connection-level failure, as opposed to a failed tool.
type ServerError struct {
	Type      string         `json:"type"`
	Scope     string         `json:"scope,omitempty"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable,omitempty"`
	Close     bool           `json:"close,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

type ServerWarning struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
