package shop

import (
	"errors"
	"fmt"
)

// Kind classifies an expected, recoverable tool failure.
type Kind string

const (
	KindInvalidQuantity    Kind = "invalid_quantity"
	KindItemNotInCart      Kind = "item_not_in_cart"
	KindItemNotFound       Kind = "item_not_found"
	KindUnknownRecipe      Kind = "unknown_recipe"
	KindEmptyCart          Kind = "empty_cart"
	KindNoOrderHistory     Kind = "no_order_history"
	KindOrderNotFound      Kind = "order_not_found"
	KindInvalidBudget      Kind = "invalid_budget"
	KindPersistenceFailure Kind = "persistence_failure"
)

// Error is returned by every Session operation that fails in an expected
// way. Message is phrased for the end user; Ref names the offending item,
// recipe or order when there is one.
type Error struct {
	Kind    Kind
	Message string
	Ref     string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so callers can write
// errors.Is(err, shop.ErrEmptyCart).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidQuantity    = &Error{Kind: KindInvalidQuantity}
	ErrItemNotInCart      = &Error{Kind: KindItemNotInCart}
	ErrItemNotFound       = &Error{Kind: KindItemNotFound}
	ErrUnknownRecipe      = &Error{Kind: KindUnknownRecipe}
	ErrEmptyCart          = &Error{Kind: KindEmptyCart}
	ErrNoOrderHistory     = &Error{Kind: KindNoOrderHistory}
	ErrOrderNotFound      = &Error{Kind: KindOrderNotFound}
	ErrInvalidBudget      = &Error{Kind: KindInvalidBudget}
	ErrPersistenceFailure = &Error{Kind: KindPersistenceFailure}
)

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func invalidQuantity(q int, allowZero bool) *Error {
	msg := fmt.Sprintf("I can only use a quantity of 1 or more, and %d isn't valid.", q)
	if allowZero {
		msg = fmt.Sprintf("The quantity can't be negative (%d). Use 0 if you want to remove the item.", q)
	}
	return &Error{Kind: KindInvalidQuantity, Message: msg}
}

func itemNotFound(ref string) *Error {
	return &Error{
		Kind:    KindItemNotFound,
		Message: fmt.Sprintf("I couldn't find '%s' in our catalog. Would you like me to search for similar items?", ref),
		Ref:     ref,
	}
}

func itemNotInCart(ref string) *Error {
	return &Error{
		Kind:    KindItemNotInCart,
		Message: fmt.Sprintf("'%s' is not in your cart. Would you like to add it?", ref),
		Ref:     ref,
	}
}

func unknownRecipe(dish string) *Error {
	return &Error{
		Kind:    KindUnknownRecipe,
		Message: fmt.Sprintf("I don't have a recipe for '%s'. Try searching for individual items or ask me to add specific ingredients.", dish),
		Ref:     dish,
	}
}

func emptyCart() *Error {
	return &Error{Kind: KindEmptyCart, Message: "Your cart is empty. Add some items before placing an order!"}
}

func noOrderHistory() *Error {
	return &Error{Kind: KindNoOrderHistory, Message: "You don't have any orders yet. Place your first order to get started!"}
}

func orderNotFound(id string) *Error {
	return &Error{
		Kind:    KindOrderNotFound,
		Message: fmt.Sprintf("I couldn't find an order with ID '%s'.", id),
		Ref:     id,
	}
}

func invalidBudget(amount string) *Error {
	return &Error{
		Kind:    KindInvalidBudget,
		Message: fmt.Sprintf("A budget can't be negative, so I can't set it to %s.", amount),
	}
}

func persistenceFailure(what string, err error) *Error {
	return &Error{
		Kind:    KindPersistenceFailure,
		Message: fmt.Sprintf("I couldn't %s because the order records are unavailable right now. Nothing was changed; please try again in a moment.", what),
		Err:     err,
	}
}
