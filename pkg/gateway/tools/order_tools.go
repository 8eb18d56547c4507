package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/vango-go/vai-shop/pkg/core/types"
	"github.com/vango-go/vai-shop/pkg/order"
	"github.com/vango-go/vai-shop/pkg/shop"
)

type placeOrderRequest struct {
	BuyerName string `json:"buyer_name,omitempty"`
}

func placeOrder() Executor {
	return tool[placeOrderRequest]{
		name:        ToolPlaceOrder,
		description: "Place an order for everything in the cart. Only call this after the user confirms.",
		schema: types.ObjectSchema(map[string]types.JSONSchema{
			"buyer_name": types.StringProp("Name the order is placed under"),
		}),
		run: func(ctx context.Context, s *shop.Session, req placeOrderRequest) (Result, error) {
			o, err := s.PlaceOrder(ctx, req.BuyerName)
			if err != nil {
				return Result{}, err
			}
			return Result{Message: placedMessage(s, o), Data: o}, nil
		},
	}
}

type directLineArg struct {
	ItemName string `json:"item_name"`
	Quantity *int   `json:"quantity,omitempty"`
}

type placeDirectOrderRequest struct {
	Items     []directLineArg `json:"items"`
	BuyerName string          `json:"buyer_name,omitempty"`
}

func (r *placeDirectOrderRequest) validate() error {
	if len(r.Items) == 0 {
		return argError("items", "items must contain at least one item")
	}
	for i, it := range r.Items {
		if strings.TrimSpace(it.ItemName) == "" {
			return argError(fmt.Sprintf("items[%d].item_name", i), "item_name is required")
		}
	}
	return nil
}

func placeDirectOrder() Executor {
	itemSchema := types.ObjectSchema(map[string]types.JSONSchema{
		"item_name": types.StringProp("Name or id of the item"),
		"quantity":  types.IntegerProp("How many units (default 1)", 1),
	}, "item_name")
	return tool[placeDirectOrderRequest]{
		name:        ToolPlaceDirectOrder,
		description: "Place an order for specific items without using the cart. The cart is left untouched.",
		schema: types.ObjectSchema(map[string]types.JSONSchema{
			"items":      {Type: "array", Description: "Items to order", Items: itemSchema},
			"buyer_name": types.StringProp("Name the order is placed under"),
		}, "items"),
		run: func(ctx context.Context, s *shop.Session, req placeDirectOrderRequest) (Result, error) {
			lines := make([]shop.DirectLine, 0, len(req.Items))
			for _, it := range req.Items {
				qty := 1
				if it.Quantity != nil {
					qty = *it.Quantity
				}
				lines = append(lines, shop.DirectLine{Ref: it.ItemName, Quantity: qty})
			}
			o, err := s.PlaceDirectOrder(ctx, lines, req.BuyerName)
			if err != nil {
				return Result{}, err
			}
			return Result{Message: placedMessage(s, o), Data: o}, nil
		},
	}
}

func placedMessage(s *shop.Session, o order.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your order %s has been placed! ", o.ID)
	if o.Buyer != "" {
		fmt.Fprintf(&b, "Thanks, %s. ", o.Buyer)
	}
	n := o.ItemCount()
	fmt.Fprintf(&b, "%d %s, total %s. ", n, plural(n, "item", "items"), s.Money(o.Total))
	b.WriteString("You can ask me to track it at any time.")
	return b.String()
}

type trackOrderRequest struct {
	OrderID string `json:"order_id,omitempty"`
}

func trackOrder() Executor {
	return tool[trackOrderRequest]{
		name:        ToolTrackOrder,
		description: "Check the delivery status of an order. Without an order id, tracks the most recent order.",
		schema: types.ObjectSchema(map[string]types.JSONSchema{
			"order_id": types.StringProp("Order id such as ORD-1A2B3C4D"),
		}),
		run: func(ctx context.Context, s *shop.Session, req trackOrderRequest) (Result, error) {
			res, err := s.TrackOrder(ctx, req.OrderID)
			if err != nil {
				return Result{}, err
			}
			o := res.Order
			msg := fmt.Sprintf("Order %s is %s. %s", o.ID, o.Status.Label(), o.Status.Note())
			return Result{Message: msg, Data: res}, nil
		},
	}
}

type viewOrderHistoryRequest struct {
	Limit int `json:"limit,omitempty"`
}

func (r *viewOrderHistoryRequest) validate() error {
	if r.Limit < 0 {
		return argError("limit", "limit must be >= 0")
	}
	return nil
}

func viewOrderHistory() Executor {
	return tool[viewOrderHistoryRequest]{
		name:        ToolViewOrderHistory,
		description: "List the user's past orders, newest first.",
		schema: types.ObjectSchema(map[string]types.JSONSchema{
			"limit": types.IntegerProp("Maximum number of orders to list", 0),
		}),
		run: func(ctx context.Context, s *shop.Session, req viewOrderHistoryRequest) (Result, error) {
			res, err := s.OrderHistory(ctx, req.Limit)
			if err != nil {
				return Result{}, err
			}
			var b strings.Builder
			fmt.Fprintf(&b, "You have %d past %s", res.Total, plural(res.Total, "order", "orders"))
			if res.Total > len(res.Orders) {
				fmt.Fprintf(&b, " (showing the latest %d)", len(res.Orders))
			}
			b.WriteString(":\n")
			for _, o := range res.Orders {
				n := o.ItemCount()
				fmt.Fprintf(&b, "- %s on %s: %d %s, %s, %s\n",
					o.ID, o.CreatedAt.Format("Jan 2, 2006"), n, plural(n, "item", "items"), s.Money(o.Total), o.Status.Label())
			}
			return Result{Message: strings.TrimRight(b.String(), "\n"), Data: res}, nil
		},
	}
}

func reorderLast() Executor {
	return tool[emptyRequest]{
		name:        ToolReorderLast,
		description: "Fill the cart with the items from the most recent order at today's prices. The order is not placed until the user confirms.",
		schema:      types.ObjectSchema(map[string]types.JSONSchema{}),
		run: func(ctx context.Context, s *shop.Session, _ emptyRequest) (Result, error) {
			res, err := s.ReorderLast(ctx)
			if err != nil {
				return Result{}, err
			}
			return Result{Message: reorderMessage(s, res), Data: res}, nil
		},
	}
}

func reorderMessage(s *shop.Session, res shop.ReorderResult) string {
	var b strings.Builder
	if len(res.Added) == 0 {
		fmt.Fprintf(&b, "None of the items from order %s are available right now, so I left your cart as it was.", res.OrderID)
	} else {
		fmt.Fprintf(&b, "I've added the items from order %s to your cart:\n", res.OrderID)
		for _, l := range res.Added {
			fmt.Fprintf(&b, "- %d x %s\n", l.Quantity, describeItem(l.Item))
		}
		fmt.Fprintf(&b, "Cart total: %s at current prices.", s.Money(res.CartTotal))
	}
	for _, sk := range res.Skipped {
		fmt.Fprintf(&b, " %s was skipped (%s).", sk.Name, sk.Reason)
	}
	if res.Budget.OverBudget {
		fmt.Fprintf(&b, " Warning: you're %s over your budget.", s.Money(res.Budget.Overage))
	}
	if len(res.Added) > 0 {
		b.WriteString(" Say the word and I'll place the order.")
	}
	return b.String()
}
