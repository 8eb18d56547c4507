// Package ledger owns the process-wide order history and recipe table. All
// access goes through a Ledger, which serializes callers with a mutex and
// writes to its Store before changing memory, so a failed write never leaves
// the cache ahead of durable state.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/vai-shop/pkg/order"
)

type Ledger struct {
	store  Store
	logger *slog.Logger

	mu      sync.Mutex
	orders  []order.Order
	index   map[string]int
	recipes map[string][]string
}

// Open loads the ledger from store. Any read or validation failure is
// returned; callers should treat it as fatal at startup.
func Open(ctx context.Context, store Store, logger *slog.Logger) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger: store is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	l := &Ledger{store: store, logger: logger}
	if err := l.reload(ctx); err != nil {
		return nil, err
	}
	logger.Info("ledger loaded", "orders", len(l.orders), "recipes", len(l.recipes))
	return l, nil
}

func (l *Ledger) Close() error {
	return l.store.Close()
}

// Ping reports whether the backing store is reachable.
func (l *Ledger) Ping(ctx context.Context) error {
	if p, ok := l.store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (l *Ledger) reload(ctx context.Context) error {
	snap, err := l.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("ledger: load: %w", err)
	}
	index := make(map[string]int, len(snap.Orders))
	for i, o := range snap.Orders {
		if err := o.Validate(); err != nil {
			return fmt.Errorf("ledger: load: %w", err)
		}
		if _, dup := index[o.ID]; dup {
			return fmt.Errorf("ledger: load: duplicate order id %s", o.ID)
		}
		index[o.ID] = i
	}
	recipes := make(map[string][]string, len(snap.Recipes))
	for name, ids := range snap.Recipes {
		recipes[strings.ToLower(strings.TrimSpace(name))] = append([]string(nil), ids...)
	}
	l.orders = snap.Orders
	l.index = index
	l.recipes = recipes
	return nil
}

// refresh reloads when the store reports an out-of-band change. A failed
// check keeps the cached state. Caller holds l.mu.
func (l *Ledger) refresh(ctx context.Context) error {
	cd, ok := l.store.(ChangeDetector)
	if !ok {
		return nil
	}
	changed, err := cd.Changed(ctx)
	if err != nil {
		l.logger.Warn("ledger change check failed", "error", err)
		return nil
	}
	if !changed {
		return nil
	}
	l.logger.Info("ledger changed on disk, reloading")
	return l.reload(ctx)
}

func (l *Ledger) Len(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.refresh(ctx); err != nil {
		return 0, err
	}
	return len(l.orders), nil
}

// Find returns a copy of the order with id.
func (l *Ledger) Find(ctx context.Context, id string) (order.Order, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.refresh(ctx); err != nil {
		return order.Order{}, false, err
	}
	idx, ok := l.index[strings.TrimSpace(id)]
	if !ok {
		return order.Order{}, false, nil
	}
	return l.orders[idx].Clone(), true, nil
}

// Last returns the most recently placed order.
func (l *Ledger) Last(ctx context.Context) (order.Order, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.refresh(ctx); err != nil {
		return order.Order{}, false, err
	}
	if len(l.orders) == 0 {
		return order.Order{}, false, nil
	}
	return l.orders[len(l.orders)-1].Clone(), true, nil
}

// Recent returns up to limit orders, newest first, and the total count.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]order.Order, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.refresh(ctx); err != nil {
		return nil, 0, err
	}
	n := len(l.orders)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]order.Order, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.orders[i].Clone())
	}
	return out, n, nil
}

// Append persists a new order and then adds it to the cache.
func (l *Ledger) Append(ctx context.Context, o order.Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.refresh(ctx); err != nil {
		return err
	}
	if err := o.Validate(); err != nil {
		return fmt.Errorf("ledger: append: %w", err)
	}
	if _, dup := l.index[o.ID]; dup {
		return fmt.Errorf("ledger: append %s: %w", o.ID, ErrOrderExists)
	}
	o = o.Clone()
	if err := l.store.Append(ctx, o); err != nil {
		return fmt.Errorf("ledger: append %s: %w", o.ID, err)
	}
	l.index[o.ID] = len(l.orders)
	l.orders = append(l.orders, o)
	l.logger.Info("order recorded", "order_id", o.ID, "total", o.Total.StringFixed(2), "lines", len(o.Lines))
	return nil
}

// Advance brings the order's status up to date for now and persists any
// change. It returns the updated order and the history entries appended by
// this call, both taken under the same lock. On a failed write the stored
// and cached order keep their old status and the error is returned.
func (l *Ledger) Advance(ctx context.Context, id string, now time.Time, interval time.Duration) (order.Order, []order.StatusEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.refresh(ctx); err != nil {
		return order.Order{}, nil, err
	}
	idx, ok := l.index[strings.TrimSpace(id)]
	if !ok {
		return order.Order{}, nil, fmt.Errorf("ledger: advance %s: %w", id, ErrOrderMissing)
	}
	current := l.orders[idx]
	next, changed := order.Advance(current, now, interval)
	if !changed {
		return current.Clone(), nil, nil
	}
	if err := l.store.Save(ctx, next); err != nil {
		return current.Clone(), nil, fmt.Errorf("ledger: save %s: %w", id, err)
	}
	l.orders[idx] = next
	l.logger.Info("order status advanced", "order_id", next.ID, "from", current.Status, "to", next.Status)
	crossed := append([]order.StatusEntry(nil), next.History[len(current.History):]...)
	return next.Clone(), crossed, nil
}

// Recipe finds a dish by case-insensitive exact name, then by substring in
// either direction. Ties among substring matches go to the shortest recipe
// name, then alphabetical order.
func (l *Ledger) Recipe(ctx context.Context, dish string) (name string, itemIDs []string, ok bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.refresh(ctx); err != nil {
		return "", nil, false, err
	}
	dish = strings.ToLower(strings.TrimSpace(dish))
	if dish == "" {
		return "", nil, false, nil
	}
	if ids, found := l.recipes[dish]; found {
		return dish, append([]string(nil), ids...), true, nil
	}
	for _, candidate := range sortedNames(l.recipes) {
		if strings.Contains(dish, candidate) || strings.Contains(candidate, dish) {
			return candidate, append([]string(nil), l.recipes[candidate]...), true, nil
		}
	}
	return "", nil, false, nil
}

// Recipes returns the recipe names in alphabetical order and a copy of the
// table.
func (l *Ledger) Recipes(ctx context.Context) ([]string, map[string][]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.refresh(ctx); err != nil {
		return nil, nil, err
	}
	names := make([]string, 0, len(l.recipes))
	for name := range l.recipes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, CloneRecipes(l.recipes), nil
}

func sortedNames(recipes map[string][]string) []string {
	names := make([]string, 0, len(recipes))
	for name := range recipes {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) < len(names[j])
		}
		return names[i] < names[j]
	})
	return names
}
