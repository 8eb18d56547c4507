package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/vango-go/vai-shop/pkg/core"
	"github.com/vango-go/vai-shop/pkg/gateway/apierror"
	"github.com/vango-go/vai-shop/pkg/gateway/config"
	"github.com/vango-go/vai-shop/pkg/gateway/mw"
	"github.com/vango-go/vai-shop/pkg/gateway/principal"
)

func coreErrorFrom(err error, reqID string) (*core.Error, int) {
	return apierror.FromError(err, reqID)
}

func writeCoreErrorJSON(w http.ResponseWriter, reqID string, coreErr *core.Error, status int) {
	if coreErr != nil && coreErr.RequestID == "" {
		coreErr.RequestID = reqID
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apierror.Envelope{Error: coreErr})
}

func writeErrorJSON(w http.ResponseWriter, r *http.Request, err error) {
	reqID := requestIDFromContext(r.Context())
	coreErr, status := coreErrorFrom(err, reqID)
	writeCoreErrorJSON(w, reqID, coreErr, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestIDFromContext(ctx context.Context) string {
	if id, ok := mw.RequestIDFrom(ctx); ok {
		return id
	}
	return ""
}

// ownerKey identifies the caller that owns a shopping session.
func ownerKey(r *http.Request, cfg config.Config) string {
	return principal.Resolve(r, cfg).Key
}

func drainingError() *core.Error {
	return &core.Error{Type: core.ErrOverloaded, Message: "gateway is draining", Code: "draining"}
}
