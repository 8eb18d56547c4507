package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vango-go/vai-shop/internal/clock"
	"github.com/vango-go/vai-shop/pkg/catalog"
	"github.com/vango-go/vai-shop/pkg/core"
	"github.com/vango-go/vai-shop/pkg/ledger"
	"github.com/vango-go/vai-shop/pkg/ledger/memstore"
	"github.com/vango-go/vai-shop/pkg/order"
	"github.com/vango-go/vai-shop/pkg/shop"
)

func newTestSession(t *testing.T) (*shop.Session, *clock.Fake) {
	t.Helper()
	cat, err := catalog.New([]catalog.Item{
		{ID: "bread-wheat", Name: "Whole Wheat Bread", Category: "Bakery", Brand: "Nature's Own", Size: "20 oz", Price: decimal.RequireFromString("3.49"), Tags: []string{"vegan"}, InStock: true},
		{ID: "milk-whole", Name: "Whole Milk", Category: "Dairy", Price: decimal.RequireFromString("5.99"), Tags: []string{"dairy"}, InStock: true},
		{ID: "cheese-cheddar", Name: "Cheddar Cheese", Category: "Dairy", Price: decimal.RequireFromString("6.00"), Tags: []string{"dairy"}, InStock: true},
	})
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	l, err := ledger.Open(context.Background(), memstore.New(map[string][]string{
		"grilled cheese": {"bread-wheat", "cheese-cheddar"},
	}), nil)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	fc := clock.NewFake(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	return shop.NewSession("sess-test", cat, l, shop.Options{Clock: fc, StatusInterval: 2 * time.Minute}), fc
}

func exec(t *testing.T, r *Registry, s *shop.Session, name string, input map[string]any) Result {
	t.Helper()
	res, err := r.Execute(context.Background(), s, name, input)
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", name, err)
	}
	if res.Tool != name {
		t.Fatalf("res.Tool=%q, want %q", res.Tool, name)
	}
	return res
}

func TestDefaultRegistry_NamesSortedAndDefinitionsClosed(t *testing.T) {
	t.Parallel()

	r := Default()
	names := r.Names()
	if len(names) != 14 {
		t.Fatalf("len(names)=%d, want 14", len(names))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("names not sorted: %v", names)
		}
	}
	for _, def := range r.Definitions() {
		if def.Type != "function" || def.InputSchema == nil || def.InputSchema.Type != "object" {
			t.Fatalf("bad definition for %s: %+v", def.Name, def)
		}
		if def.InputSchema.AdditionalProperties == nil || *def.InputSchema.AdditionalProperties {
			t.Fatalf("%s schema should reject additional properties", def.Name)
		}
		if def.Description == "" {
			t.Fatalf("%s has no description", def.Name)
		}
	}
	if _, ok := r.Definition(" view_cart "); !ok {
		t.Fatal("expected view_cart definition with surrounding spaces")
	}
}

func TestRegistryExecute_UnknownTool(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t)
	_, err := Default().Execute(context.Background(), s, "teleport", nil)
	var ce *core.Error
	if !errors.As(err, &ce) {
		t.Fatalf("err=%T, want *core.Error", err)
	}
	if ce.Type != core.ErrNotFound || ce.Code != "unknown_tool" {
		t.Fatalf("type=%q code=%q", ce.Type, ce.Code)
	}
}

func TestRegistryExecute_NilSession(t *testing.T) {
	t.Parallel()

	if _, err := Default().Execute(context.Background(), nil, ToolViewCart, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestRegistryExecute_RejectsBadArguments(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t)
	r := Default()

	tests := []struct {
		name      string
		tool      string
		input     map[string]any
		wantParam string
	}{
		{name: "unknown field", tool: ToolAddToCart, input: map[string]any{"item_name": "bread", "colour": "red"}, wantParam: "colour"},
		{name: "wrong type", tool: ToolAddToCart, input: map[string]any{"item_name": "bread", "quantity": "two"}, wantParam: "quantity"},
		{name: "missing item", tool: ToolAddToCart, input: map[string]any{}, wantParam: "item_name"},
		{name: "missing quantity", tool: ToolUpdateQuantity, input: map[string]any{"item_name": "bread"}, wantParam: "new_quantity"},
		{name: "empty search", tool: ToolSearchItems, input: map[string]any{}, wantParam: "query"},
		{name: "budget without amount", tool: ToolSetBudget, input: map[string]any{}, wantParam: "budget_amount"},
		{name: "direct order without items", tool: ToolPlaceDirectOrder, input: map[string]any{"items": []any{}}, wantParam: "items"},
	}
	for _, tt := range tests {
		_, err := r.Execute(context.Background(), s, tt.tool, tt.input)
		var ce *core.Error
		if !errors.As(err, &ce) {
			t.Fatalf("%s: err=%v, want *core.Error", tt.name, err)
		}
		if ce.Type != core.ErrInvalidRequest || ce.Code != "invalid_arguments" {
			t.Fatalf("%s: type=%q code=%q", tt.name, ce.Type, ce.Code)
		}
		if ce.Param != tt.wantParam {
			t.Fatalf("%s: param=%q, want %q", tt.name, ce.Param, tt.wantParam)
		}
	}
}

func TestRegistryExecute_ShopErrorsPassThrough(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t)
	r := Default()

	_, err := r.Execute(context.Background(), s, ToolRemoveFromCart, map[string]any{"item_name": "milk"})
	if shop.KindOf(err) != shop.KindItemNotInCart {
		t.Fatalf("kind=%q, want %q", shop.KindOf(err), shop.KindItemNotInCart)
	}
	_, err = r.Execute(context.Background(), s, ToolPlaceOrder, nil)
	if shop.KindOf(err) != shop.KindEmptyCart {
		t.Fatalf("kind=%q, want %q", shop.KindOf(err), shop.KindEmptyCart)
	}
	_, err = r.Execute(context.Background(), s, ToolUpdateQuantity, map[string]any{"item_name": "bread", "new_quantity": -1})
	if shop.KindOf(err) != shop.KindInvalidQuantity {
		t.Fatalf("kind=%q, want %q", shop.KindOf(err), shop.KindInvalidQuantity)
	}
}

func TestRegistryExecute_ShoppingRoundTrip(t *testing.T) {
	t.Parallel()

	s, fc := newTestSession(t)
	r := Default()

	res := exec(t, r, s, ToolSearchItems, map[string]any{"query": "milk"})
	if !strings.Contains(res.Message, "Whole Milk") {
		t.Fatalf("search message=%q", res.Message)
	}

	exec(t, r, s, ToolAddToCart, map[string]any{"item_name": "whole wheat bread"})
	res = exec(t, r, s, ToolAddToCart, map[string]any{"item_name": "milk", "quantity": 1})
	if !strings.Contains(res.Message, "$9.48") {
		t.Fatalf("add message=%q, want cart total $9.48", res.Message)
	}

	res = exec(t, r, s, ToolViewCart, nil)
	view, ok := res.Data.(shop.CartView)
	if !ok || view.ItemCount != 2 || !view.Total.Equal(decimal.RequireFromString("9.48")) {
		t.Fatalf("view=%+v", res.Data)
	}

	res = exec(t, r, s, ToolPlaceOrder, map[string]any{"buyer_name": "Ada"})
	placed, ok := res.Data.(order.Order)
	if !ok || placed.Status != order.StatusReceived {
		t.Fatalf("placed=%+v", res.Data)
	}
	if !strings.Contains(res.Message, placed.ID) {
		t.Fatalf("place message=%q lacks order id", res.Message)
	}

	fc.Advance(10 * time.Minute)
	res = exec(t, r, s, ToolTrackOrder, map[string]any{"order_id": placed.ID})
	tracked := res.Data.(shop.TrackResult)
	if tracked.Order.Status != order.StatusDelivered {
		t.Fatalf("status=%q, want delivered", tracked.Order.Status)
	}
	if !strings.Contains(res.Message, "Delivered") {
		t.Fatalf("track message=%q", res.Message)
	}

	res = exec(t, r, s, ToolReorderLast, nil)
	if !strings.Contains(res.Message, placed.ID) {
		t.Fatalf("reorder message=%q", res.Message)
	}
	if len(s.Cart()) != 2 {
		t.Fatalf("cart lines=%d, want 2", len(s.Cart()))
	}
}

func TestRegistryExecute_BudgetWarning(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t)
	r := Default()

	exec(t, r, s, ToolSetBudget, map[string]any{"budget_amount": 5})
	res := exec(t, r, s, ToolAddToCart, map[string]any{"item_name": "cheddar"})
	data := res.Data.(shop.AddItemResult)
	if !data.OverBudget || !data.Overage.Equal(decimal.RequireFromString("1")) {
		t.Fatalf("data=%+v, want overage 1.00", data)
	}
	if !strings.Contains(res.Message, "$1.00 over your budget") {
		t.Fatalf("message=%q", res.Message)
	}

	res = exec(t, r, s, ToolSetBudget, map[string]any{"clear": true})
	if s.Preferences().Budget != nil {
		t.Fatalf("budget still set after clear: %v", s.Preferences().Budget)
	}
}

func TestRegistryExecute_DishAndDirectOrder(t *testing.T) {
	t.Parallel()

	s, _ := newTestSession(t)
	r := Default()

	res := exec(t, r, s, ToolAddIngredientsForDish, map[string]any{"dish_name": "Grilled Cheese"})
	bundle := res.Data.(shop.BundleResult)
	if len(bundle.Added) != 2 {
		t.Fatalf("added=%d, want 2", len(bundle.Added))
	}

	res = exec(t, r, s, ToolPlaceDirectOrder, map[string]any{
		"items": []any{
			map[string]any{"item_name": "milk", "quantity": 2},
			map[string]any{"item_name": "Whole Milk"},
		},
	})
	o := res.Data.(order.Order)
	if len(o.Lines) != 1 || o.Lines[0].Quantity != 3 {
		t.Fatalf("lines=%+v, want one line of 3", o.Lines)
	}
	if len(s.Cart()) != 2 {
		t.Fatalf("direct order touched the cart: %+v", s.Cart())
	}

	res = exec(t, r, s, ToolViewOrderHistory, nil)
	if !strings.Contains(res.Message, "1 past order") {
		t.Fatalf("history message=%q", res.Message)
	}
}
