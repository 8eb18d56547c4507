package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vango-go/vai-shop/pkg/catalog"
	"github.com/vango-go/vai-shop/pkg/core/types"
	"github.com/vango-go/vai-shop/pkg/shop"
)

type searchItemsRequest struct {
	Query    string           `json:"query"`
	Category string           `json:"category,omitempty"`
	Tags     []string         `json:"tags,omitempty"`
	MaxPrice *decimal.Decimal `json:"max_price,omitempty"`
	Limit    int              `json:"limit,omitempty"`
}

func (r *searchItemsRequest) validate() error {
	if strings.TrimSpace(r.Query) == "" && strings.TrimSpace(r.Category) == "" && len(r.Tags) == 0 {
		return argError("query", "query, category or tags is required")
	}
	if r.MaxPrice != nil && r.MaxPrice.IsNegative() {
		return argError("max_price", "max_price must be >= 0")
	}
	if r.Limit < 0 {
		return argError("limit", "limit must be >= 0")
	}
	return nil
}

func searchItems() Executor {
	return tool[searchItemsRequest]{
		name:        ToolSearchItems,
		description: "Search the grocery catalog by product name, category, brand or dietary tag.",
		schema: types.ObjectSchema(map[string]types.JSONSchema{
			"query":     types.StringProp("Product name, category or keyword, e.g. \"bread\" or \"snacks\""),
			"category":  types.StringProp("Only return items in this category"),
			"tags":      types.StringArrayProp("Only return items carrying all of these dietary tags"),
			"max_price": types.NumberProp("Only return items at or below this unit price", 0),
			"limit":     types.IntegerProp("Maximum number of items to return", 0),
		}),
		run: func(_ context.Context, s *shop.Session, req searchItemsRequest) (Result, error) {
			res := s.Search(catalog.Query{
				Text:     req.Query,
				Category: req.Category,
				Tags:     req.Tags,
				MaxPrice: req.MaxPrice,
				Limit:    req.Limit,
			})
			return Result{Message: searchMessage(s, req, res), Data: res}, nil
		},
	}
}

func searchMessage(s *shop.Session, req searchItemsRequest, res shop.SearchResult) string {
	term := strings.TrimSpace(req.Query)
	if term == "" {
		term = strings.TrimSpace(req.Category)
	}
	if term == "" {
		term = strings.Join(req.Tags, ", ")
	}
	if res.Total == 0 {
		return fmt.Sprintf("I couldn't find any items matching '%s'. Try searching for categories like 'bread', 'milk', 'snacks', or 'pasta'.", term)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "I found %d %s", res.Total, plural(res.Total, "item", "items"))
	if res.Total > len(res.Hits) {
		fmt.Fprintf(&b, " (showing top %d)", len(res.Hits))
	}
	fmt.Fprintf(&b, " matching '%s':\n", term)
	for _, h := range res.Hits {
		fmt.Fprintf(&b, "- %s - %s", describeItem(h.Item), s.Money(h.Item.Price))
		if !h.InStock {
			b.WriteString(" (out of stock)")
		}
		if len(h.Conflicts) > 0 {
			fmt.Fprintf(&b, " (doesn't match your diet: %s)", strings.Join(h.Conflicts, ", "))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

type emptyRequest struct{}

func listRecipes() Executor {
	return tool[emptyRequest]{
		name:        ToolListRecipes,
		description: "List the dishes whose ingredients can be added to the cart in one step.",
		schema:      types.ObjectSchema(map[string]types.JSONSchema{}),
		run: func(ctx context.Context, s *shop.Session, _ emptyRequest) (Result, error) {
			res, err := s.Recipes(ctx)
			if err != nil {
				return Result{}, err
			}
			if len(res.Names) == 0 {
				return Result{Message: "I don't have any recipes saved yet.", Data: res}, nil
			}
			return Result{
				Message: fmt.Sprintf("I can add ingredients for: %s.", strings.Join(res.Names, ", ")),
				Data:    res,
			}, nil
		},
	}
}

func describeItem(it catalog.Item) string {
	var details []string
	if it.Brand != "" {
		details = append(details, it.Brand)
	}
	if it.Size != "" {
		details = append(details, it.Size)
	}
	if len(details) == 0 {
		return it.Name
	}
	return fmt.Sprintf("%s (%s)", it.Name, strings.Join(details, ", "))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
