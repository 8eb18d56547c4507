package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/vango-go/vai-shop/pkg/core"
	"github.com/vango-go/vai-shop/pkg/core/types"
	"github.com/vango-go/vai-shop/pkg/gateway/config"
	"github.com/vango-go/vai-shop/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-shop/pkg/gateway/tools"
)

// ToolsHandler lists the tool definitions for GET /v1/tools.
type ToolsHandler struct {
	Registry *tools.Registry
}

func (h ToolsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defs := h.Registry.Definitions()
	if defs == nil {
		defs = []types.Tool{}
	}
	writeJSON(w, http.StatusOK, struct {
		Object string       `json:"object"`
		Tools  []types.Tool `json:"tools"`
	}{Object: "list", Tools: defs})
}

// ToolInvokeHandler serves POST /v1/sessions/{id}/tools/{name}. The body
// is the tool's argument object; an empty body means no arguments.
type ToolInvokeHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	Runner    ToolRunner
}

func (h ToolInvokeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Lifecycle.IsDraining() {
		writeErrorJSON(w, r, drainingError())
		return
	}

	sessionID := r.PathValue("id")
	name := r.PathValue("name")

	args, err := decodeArgsBody(r.Body)
	if err != nil {
		writeErrorJSON(w, r, err)
		return
	}

	ctx := r.Context()
	if h.Config.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Config.HandlerTimeout)
		defer cancel()
	}
	res, err := h.Runner.Run(ctx, sessionID, ownerKey(r, h.Config), "http", name, args)
	if err != nil {
		writeErrorJSON(w, r, err)
		return
	}
	w.Header().Set("X-Shop-Session", sessionID)
	writeJSON(w, http.StatusOK, res)
}

func decodeArgsBody(body io.Reader) (map[string]any, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &core.Error{Type: core.ErrInvalidRequest, Message: "request body too large", Code: "body_too_large"}
		}
		return nil, core.NewInvalidRequestError("failed to read request body")
	}
	if strings.TrimSpace(string(raw)) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil || args == nil {
		return nil, &core.Error{Type: core.ErrInvalidRequest, Message: "request body must be a JSON object of tool arguments", Code: "invalid_json"}
	}
	return args, nil
}
