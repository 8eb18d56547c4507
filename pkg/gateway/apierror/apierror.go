package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/vango-go/vai-shop/pkg/core"
	"github.com/vango-go/vai-shop/pkg/shop"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, statusFromType(coreErr.Type)
	}

	// Shop engine failures carry a kind; the kind becomes the code.
	var shopErr *shop.Error
	if errors.As(err, &shopErr) && shopErr != nil {
		typ := typeFromKind(shopErr.Kind)
		return &core.Error{
			Type:      typ,
			Message:   shopErr.Message,
			Param:     shopErr.Ref,
			Code:      string(shopErr.Kind),
			RequestID: requestID,
		}, statusFromType(typ)
	}

	// Unknown errors: treat as internal API error (do not leak details by default).
	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func typeFromKind(k shop.Kind) core.ErrorType {
	switch k {
	case shop.KindInvalidQuantity, shop.KindInvalidBudget:
		return core.ErrInvalidRequest
	case shop.KindItemNotFound, shop.KindItemNotInCart, shop.KindUnknownRecipe, shop.KindOrderNotFound:
		return core.ErrNotFound
	case shop.KindEmptyCart, shop.KindNoOrderHistory:
		return core.ErrConflict
	case shop.KindPersistenceFailure:
		return core.ErrUnavailable
	default:
		return core.ErrAPI
	}
}

func statusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrPermission:
		return http.StatusForbidden
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrConflict:
		return http.StatusConflict
	case core.ErrRateLimit:
		return http.StatusTooManyRequests
	case core.ErrOverloaded:
		return 529
	case core.ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
