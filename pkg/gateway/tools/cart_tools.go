package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vango-go/vai-shop/pkg/core/types"
	"github.com/vango-go/vai-shop/pkg/shop"
)

type addToCartRequest struct {
	ItemName string `json:"item_name"`
	Quantity *int   `json:"quantity,omitempty"`
}

func (r *addToCartRequest) validate() error { return required("item_name", r.ItemName) }

func addToCart() Executor {
	return tool[addToCartRequest]{
		name:        ToolAddToCart,
		description: "Add an item to the cart. Adding an item already in the cart increases its quantity.",
		schema: types.ObjectSchema(map[string]types.JSONSchema{
			"item_name": types.StringProp("Name or id of the item to add"),
			"quantity":  types.IntegerProp("How many units to add (default 1)", 1),
		}, "item_name"),
		run: func(_ context.Context, s *shop.Session, req addToCartRequest) (Result, error) {
			qty := 1
			if req.Quantity != nil {
				qty = *req.Quantity
			}
			res, err := s.AddItem(req.ItemName, qty)
			if err != nil {
				return Result{}, err
			}
			return Result{Message: addItemMessage(s, res), Data: res}, nil
		},
	}
}

func addItemMessage(s *shop.Session, res shop.AddItemResult) string {
	var b strings.Builder
	if res.Merged {
		fmt.Fprintf(&b, "Updated %s quantity to %d.", res.Item.Name, res.Quantity)
	} else {
		fmt.Fprintf(&b, "Added %d x %s at %s each to your cart.", res.Added, describeItem(res.Item), s.Money(res.Item.Price))
	}
	fmt.Fprintf(&b, " Cart total: %s.", s.Money(res.CartTotal))
	if res.OutOfStock {
		fmt.Fprintf(&b, " Heads up: %s is currently out of stock, so it may be substituted.", res.Item.Name)
	}
	if len(res.Conflicts) > 0 {
		fmt.Fprintf(&b, " Note: %s doesn't match your dietary restrictions (%s).", res.Item.Name, strings.Join(res.Conflicts, ", "))
	}
	if res.OverBudget {
		fmt.Fprintf(&b, " Warning: you're now %s over your budget.", s.Money(res.Overage))
	}
	return b.String()
}

type addIngredientsRequest struct {
	DishName string `json:"dish_name"`
}

func (r *addIngredientsRequest) validate() error { return required("dish_name", r.DishName) }

func addIngredientsForDish() Executor {
	return tool[addIngredientsRequest]{
		name:        ToolAddIngredientsForDish,
		description: "Add one of each ingredient needed for a dish, e.g. \"pasta\" or \"peanut butter sandwich\".",
		schema: types.ObjectSchema(map[string]types.JSONSchema{
			"dish_name": types.StringProp("The dish to shop for"),
		}, "dish_name"),
		run: func(ctx context.Context, s *shop.Session, req addIngredientsRequest) (Result, error) {
			res, err := s.AddBundle(ctx, req.DishName)
			if err != nil {
				return Result{}, err
			}
			return Result{Message: bundleMessage(s, res), Data: res}, nil
		},
	}
}

func bundleMessage(s *shop.Session, res shop.BundleResult) string {
	var b strings.Builder
	if len(res.Added) == 0 {
		fmt.Fprintf(&b, "None of the ingredients for %s are in our catalog right now.", res.Recipe)
	} else {
		fmt.Fprintf(&b, "I've added these ingredients for %s:\n", res.Recipe)
		for _, a := range res.Added {
			fmt.Fprintf(&b, "- %s", a.Item.Name)
			if a.OutOfStock {
				b.WriteString(" (out of stock)")
			}
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Cart total: %s.", s.Money(res.CartTotal))
	}
	if len(res.Missing) > 0 {
		fmt.Fprintf(&b, " I skipped %d %s we no longer carry.", len(res.Missing), plural(len(res.Missing), "ingredient", "ingredients"))
	}
	for _, f := range res.Flagged {
		fmt.Fprintf(&b, " Note: %s doesn't match your dietary restrictions (%s).", f.Item.Name, strings.Join(f.Reasons, ", "))
	}
	if res.Budget.OverBudget {
		fmt.Fprintf(&b, " Warning: you're %s over your budget.", s.Money(res.Budget.Overage))
	}
	return b.String()
}

func viewCart() Executor {
	return tool[emptyRequest]{
		name:        ToolViewCart,
		description: "Show every item in the cart with the running total.",
		schema:      types.ObjectSchema(map[string]types.JSONSchema{}),
		run: func(_ context.Context, s *shop.Session, _ emptyRequest) (Result, error) {
			view := s.ViewCart()
			return Result{Message: cartMessage(s, view), Data: view}, nil
		},
	}
}

func cartMessage(s *shop.Session, view shop.CartView) string {
	if len(view.Lines) == 0 {
		return "Your cart is empty. Would you like to add some items?"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Here's what's in your cart (%d %s):\n", len(view.Lines), plural(len(view.Lines), "item", "items"))
	for _, l := range view.Lines {
		fmt.Fprintf(&b, "- %d x %s = %s\n", l.Quantity, describeItem(l.Item), s.Money(l.LineTotal))
	}
	fmt.Fprintf(&b, "Total: %s", s.Money(view.Total))
	b.WriteString(budgetSuffix(s, view.Budget))
	return b.String()
}

func budgetSuffix(s *shop.Session, check shop.BudgetCheck) string {
	if check.Budget == nil {
		return ""
	}
	if check.OverBudget {
		return fmt.Sprintf("\nBudget: %s (%s over budget)", s.Money(*check.Budget), s.Money(check.Overage))
	}
	return fmt.Sprintf("\nBudget: %s (%s remaining)", s.Money(*check.Budget), s.Money(check.Remaining))
}

type updateQuantityRequest struct {
	ItemName    string `json:"item_name"`
	NewQuantity *int   `json:"new_quantity"`
}

func (r *updateQuantityRequest) validate() error {
	if err := required("item_name", r.ItemName); err != nil {
		return err
	}
	if r.NewQuantity == nil {
		return argError("new_quantity", "new_quantity is required")
	}
	return nil
}

func updateQuantity() Executor {
	return tool[updateQuantityRequest]{
		name:        ToolUpdateQuantity,
		description: "Change how many units of a cart item to buy. Use 0 to remove the item.",
		schema: types.ObjectSchema(map[string]types.JSONSchema{
			"item_name":    types.StringProp("Name of the item already in the cart"),
			"new_quantity": types.IntegerProp("The new quantity; 0 removes the item", 0),
		}, "item_name", "new_quantity"),
		run: func(_ context.Context, s *shop.Session, req updateQuantityRequest) (Result, error) {
			res, err := s.UpdateQuantity(req.ItemName, *req.NewQuantity)
			if err != nil {
				return Result{}, err
			}
			msg := fmt.Sprintf("Updated %s from %d to %d. Cart total: %s.", res.Item.Name, res.Previous, res.Quantity, s.Money(res.CartTotal))
			if res.Removed {
				msg = fmt.Sprintf("Removed %s from your cart. Cart total: %s.", res.Item.Name, s.Money(res.CartTotal))
			}
			if res.Budget.OverBudget {
				msg += fmt.Sprintf(" You're still %s over your budget.", s.Money(res.Budget.Overage))
			}
			return Result{Message: msg, Data: res}, nil
		},
	}
}

type removeFromCartRequest struct {
	ItemName string `json:"item_name"`
}

func (r *removeFromCartRequest) validate() error { return required("item_name", r.ItemName) }

func removeFromCart() Executor {
	return tool[removeFromCartRequest]{
		name:        ToolRemoveFromCart,
		description: "Remove an item from the cart entirely.",
		schema: types.ObjectSchema(map[string]types.JSONSchema{
			"item_name": types.StringProp("Name of the item to remove"),
		}, "item_name"),
		run: func(_ context.Context, s *shop.Session, req removeFromCartRequest) (Result, error) {
			res, err := s.RemoveItem(req.ItemName)
			if err != nil {
				return Result{}, err
			}
			return Result{
				Message: fmt.Sprintf("Removed %s from your cart. Cart total: %s.", res.Item.Name, s.Money(res.CartTotal)),
				Data:    res,
			}, nil
		},
	}
}

type setBudgetRequest struct {
	BudgetAmount *decimal.Decimal `json:"budget_amount,omitempty"`
	Clear        bool             `json:"clear,omitempty"`
}

func (r *setBudgetRequest) validate() error {
	if r.BudgetAmount == nil && !r.Clear {
		return argError("budget_amount", "budget_amount is required unless clear is true")
	}
	return nil
}

func setBudget() Executor {
	return tool[setBudgetRequest]{
		name:        ToolSetBudget,
		description: "Set the maximum the user wants to spend, or clear it. Going over the budget only triggers a warning.",
		schema: types.ObjectSchema(map[string]types.JSONSchema{
			"budget_amount": {Type: "number", Description: "The spending limit"},
			"clear":         {Type: "boolean", Description: "Remove the budget instead of setting one"},
		}),
		run: func(_ context.Context, s *shop.Session, req setBudgetRequest) (Result, error) {
			if req.Clear {
				res := s.ClearBudget()
				return Result{Message: "Okay, I've removed your budget.", Data: res}, nil
			}
			res, err := s.SetBudget(*req.BudgetAmount)
			if err != nil {
				return Result{}, err
			}
			msg := fmt.Sprintf("Budget set to %s.", s.Money(*req.BudgetAmount))
			if res.CartTotal.IsPositive() {
				if res.Budget.OverBudget {
					msg += fmt.Sprintf(" Your current cart total (%s) exceeds your budget by %s.", s.Money(res.CartTotal), s.Money(res.Budget.Overage))
				} else {
					msg += fmt.Sprintf(" Current cart total is %s. You have %s remaining.", s.Money(res.CartTotal), s.Money(res.Budget.Remaining))
				}
			}
			return Result{Message: msg, Data: res}, nil
		},
	}
}

type setDietaryRequest struct {
	Restrictions []string `json:"restrictions"`
	Avoid        []string `json:"avoid,omitempty"`
}

func setDietaryRestrictions() Executor {
	return tool[setDietaryRequest]{
		name:        ToolSetDietaryRestrictions,
		description: "Replace the user's dietary restrictions. Items that don't match are flagged, not blocked. Pass empty lists to clear.",
		schema: types.ObjectSchema(map[string]types.JSONSchema{
			"restrictions": types.StringArrayProp("Tags every item should have, e.g. [\"vegan\", \"gluten-free\"]"),
			"avoid":        types.StringArrayProp("Tags items should not have, e.g. [\"dairy\"]"),
		}, "restrictions"),
		run: func(_ context.Context, s *shop.Session, req setDietaryRequest) (Result, error) {
			res := s.SetDietaryRestrictions(req.Restrictions, req.Avoid)
			var msg string
			switch {
			case len(res.Required) == 0 && len(res.Excluded) == 0:
				msg = "Okay, I've cleared your dietary restrictions."
			case len(res.Excluded) == 0:
				msg = fmt.Sprintf("I'll filter items to match your dietary needs: %s.", strings.Join(res.Required, ", "))
			case len(res.Required) == 0:
				msg = fmt.Sprintf("I'll flag items containing: %s.", strings.Join(res.Excluded, ", "))
			default:
				msg = fmt.Sprintf("I'll filter items to match your dietary needs: %s, and flag anything containing: %s.",
					strings.Join(res.Required, ", "), strings.Join(res.Excluded, ", "))
			}
			for _, f := range res.InCart {
				msg += fmt.Sprintf(" %s in your cart doesn't match (%s).", f.Item.Name, strings.Join(f.Reasons, ", "))
			}
			return Result{Message: msg, Data: res}, nil
		},
	}
}
