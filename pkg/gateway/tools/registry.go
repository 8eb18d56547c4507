// Package tools exposes every shop operation as a named tool with a JSON
// Schema and strictly decoded arguments. The HTTP handlers, the live
// WebSocket channel and the Gemini bridge all dispatch through a Registry.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vango-go/vai-shop/pkg/core"
	"github.com/vango-go/vai-shop/pkg/core/types"
	"github.com/vango-go/vai-shop/pkg/shop"
)

const (
	ToolSearchItems            = "search_items"
	ToolAddToCart              = "add_to_cart"
	ToolAddIngredientsForDish  = "add_ingredients_for_dish"
	ToolListRecipes            = "list_recipes"
	ToolViewCart               = "view_cart"
	ToolUpdateQuantity         = "update_quantity"
	ToolRemoveFromCart         = "remove_from_cart"
	ToolSetBudget              = "set_budget"
	ToolSetDietaryRestrictions = "set_dietary_restrictions"
	ToolPlaceOrder             = "place_order"
	ToolPlaceDirectOrder       = "place_direct_order"
	ToolTrackOrder             = "track_order"
	ToolViewOrderHistory       = "view_order_history"
	ToolReorderLast            = "reorder_last"
)

// Result is a successful tool call. Message is phrased for speech; Data is
// the structured payload behind it.
type Result struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type Executor interface {
	Name() string
	Definition() types.Tool
	Execute(ctx context.Context, s *shop.Session, input map[string]any) (Result, error)
}

type Registry struct {
	byName map[string]Executor
}

func NewRegistry(executors ...Executor) *Registry {
	registry := &Registry{byName: make(map[string]Executor, len(executors))}
	for _, ex := range executors {
		if ex == nil {
			continue
		}
		registry.byName[ex.Name()] = ex
	}
	return registry
}

// Default returns a registry with every shop tool.
func Default() *Registry {
	return NewRegistry(
		searchItems(),
		addToCart(),
		addIngredientsForDish(),
		listRecipes(),
		viewCart(),
		updateQuantity(),
		removeFromCart(),
		setBudget(),
		setDietaryRestrictions(),
		placeOrder(),
		placeDirectOrder(),
		trackOrder(),
		viewOrderHistory(),
		reorderLast(),
	)
}

func (r *Registry) Has(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.byName[strings.TrimSpace(name)]
	return ok
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Definition(name string) (types.Tool, bool) {
	if r == nil {
		return types.Tool{}, false
	}
	ex, ok := r.byName[strings.TrimSpace(name)]
	if !ok {
		return types.Tool{}, false
	}
	return ex.Definition(), true
}

// Definitions returns every tool definition sorted by name.
func (r *Registry) Definitions() []types.Tool {
	names := r.Names()
	out := make([]types.Tool, 0, len(names))
	for _, name := range names {
		out = append(out, r.byName[name].Definition())
	}
	return out
}

// Execute runs the named tool against s. Unknown tools and malformed
// arguments fail with *core.Error; shop failures come back as *shop.Error.
func (r *Registry) Execute(ctx context.Context, s *shop.Session, name string, input map[string]any) (Result, error) {
	if r == nil {
		return Result{}, &core.Error{Type: core.ErrAPI, Message: "tool registry is not configured", Code: "tool_registry_not_configured"}
	}
	ex, ok := r.byName[strings.TrimSpace(name)]
	if !ok {
		return Result{}, &core.Error{Type: core.ErrNotFound, Message: fmt.Sprintf("unknown tool %q", name), Param: "name", Code: "unknown_tool"}
	}
	if s == nil {
		return Result{}, &core.Error{Type: core.ErrAPI, Message: "session is required", Code: "session_missing"}
	}
	return ex.Execute(ctx, s, input)
}

// tool adapts a typed handler to Executor. Arguments are decoded into Req
// before run sees them.
type tool[Req any] struct {
	name        string
	description string
	schema      *types.JSONSchema
	run         func(ctx context.Context, s *shop.Session, req Req) (Result, error)
}

func (t tool[Req]) Name() string { return t.name }

func (t tool[Req]) Definition() types.Tool {
	return types.NewFunctionTool(t.name, t.description, t.schema)
}

func (t tool[Req]) Execute(ctx context.Context, s *shop.Session, input map[string]any) (Result, error) {
	var req Req
	if err := decodeArgs(input, &req); err != nil {
		return Result{}, err
	}
	if v, ok := any(&req).(interface{ validate() error }); ok {
		if err := v.validate(); err != nil {
			return Result{}, err
		}
	}
	res, err := t.run(ctx, s, req)
	if err != nil {
		return Result{}, err
	}
	res.Tool = t.name
	return res, nil
}
