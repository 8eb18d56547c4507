package ledger

import (
	"context"
	"errors"

	"github.com/vango-go/vai-shop/pkg/order"
)

// Snapshot is the full persisted ledger: every placed order in placement
// order plus the recipe table mapping a dish name to catalog item ids.
type Snapshot struct {
	Orders  []order.Order       `json:"orders" cbor:"orders"`
	Recipes map[string][]string `json:"recipes" cbor:"recipes"`
}

// Store persists the ledger. Implementations must make Append and Save
// durable before returning nil.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	// Append adds a new order. It returns ErrOrderExists if the id is taken.
	Append(ctx context.Context, o order.Order) error
	// Save replaces an existing order. It returns ErrOrderMissing if the id
	// is unknown.
	Save(ctx context.Context, o order.Order) error
	Close() error
}

// ChangeDetector is implemented by stores that can be edited outside this
// process and can tell when that happened.
type ChangeDetector interface {
	Changed(ctx context.Context) (bool, error)
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

var (
	ErrOrderExists  = errors.New("order id already exists")
	ErrOrderMissing = errors.New("order not in ledger")
)

// DefaultRecipes seeds a new ledger so dish bundles work out of the box.
func DefaultRecipes() map[string][]string {
	return map[string][]string{
		"pasta":                  {"pasta-spaghetti", "sauce-marinara", "cheese-parmesan"},
		"peanut butter sandwich": {"bread-wheat", "peanut-butter", "jam-strawberry"},
		"salad":                  {"lettuce-romaine", "tomato-roma", "cucumber", "dressing-italian"},
		"breakfast":              {"eggs-dozen", "bread-wheat", "milk-whole", "butter"},
		"grilled cheese":         {"bread-wheat", "cheese-cheddar", "butter"},
	}
}

// CloneRecipes deep-copies a recipe table.
func CloneRecipes(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for name, ids := range in {
		out[name] = append([]string(nil), ids...)
	}
	return out
}
