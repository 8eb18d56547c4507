// Package shop is the cart and order engine behind the voice-agent tools.
//
// A Session owns one cart and one set of preferences and is used by a
// single conversation; it is not safe for concurrent use. The catalog and
// ledger it references are shared by every session in the process.
package shop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vango-go/vai-shop/internal/clock"
	"github.com/vango-go/vai-shop/pkg/catalog"
	"github.com/vango-go/vai-shop/pkg/ledger"
	"github.com/vango-go/vai-shop/pkg/order"
)

const (
	DefaultSearchLimit  = 5
	DefaultHistoryLimit = 5
	DefaultCurrency     = "USD"

	maxIDAttempts = 5
)

type Options struct {
	// StatusInterval is the time an order spends in each status.
	StatusInterval time.Duration
	Currency       string
	SearchLimit    int
	HistoryLimit   int
	Clock          clock.Clock
	Logger         *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.StatusInterval <= 0 {
		o.StatusInterval = order.DefaultInterval
	}
	if strings.TrimSpace(o.Currency) == "" {
		o.Currency = DefaultCurrency
	}
	if o.SearchLimit <= 0 {
		o.SearchLimit = DefaultSearchLimit
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = DefaultHistoryLimit
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

type Session struct {
	id      string
	catalog *catalog.Catalog
	ledger  *ledger.Ledger
	opts    Options
	logger  *slog.Logger

	cart  Cart
	prefs Preferences
}

func NewSession(id string, cat *catalog.Catalog, l *ledger.Ledger, opts Options) *Session {
	opts = opts.withDefaults()
	return &Session{
		id:      id,
		catalog: cat,
		ledger:  l,
		opts:    opts,
		logger:  opts.Logger.With("session_id", id),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Currency() string { return s.opts.Currency }

// Money formats an amount in the session currency.
func (s *Session) Money(d decimal.Decimal) string { return FormatMoney(d, s.opts.Currency) }

func (s *Session) Cart() []Line { return s.cart.Lines() }

func (s *Session) Preferences() Preferences { return s.prefs.clone() }

// Total recomputes the cart total from the catalog.
func (s *Session) Total() decimal.Decimal { return s.cart.Total(s.catalog) }

// SearchHit is one search match with any dietary warnings attached.
type SearchHit struct {
	Item      catalog.Item `json:"item"`
	InStock   bool         `json:"in_stock"`
	Conflicts []string     `json:"dietary_conflicts,omitempty"`
}

type SearchResult struct {
	Query catalog.Query `json:"-"`
	Hits  []SearchHit   `json:"hits"`
	Total int           `json:"total"`
}

func (s *Session) Search(q catalog.Query) SearchResult {
	if q.Limit <= 0 {
		q.Limit = s.opts.SearchLimit
	}
	res := s.catalog.Search(q)
	out := SearchResult{Query: q, Total: res.Total, Hits: make([]SearchHit, 0, len(res.Matches))}
	for _, m := range res.Matches {
		out.Hits = append(out.Hits, SearchHit{
			Item:      m.Item,
			InStock:   m.Item.InStock,
			Conflicts: s.prefs.Conflicts(m.Item),
		})
	}
	return out
}

type AddItemResult struct {
	Item       catalog.Item    `json:"item"`
	Added      int             `json:"added"`
	Quantity   int             `json:"quantity"`
	Merged     bool            `json:"merged"`
	OutOfStock bool            `json:"out_of_stock"`
	OverBudget bool            `json:"over_budget"`
	Overage    decimal.Decimal `json:"overage"`
	Conflicts  []string        `json:"dietary_conflicts,omitempty"`
	CartTotal  decimal.Decimal `json:"cart_total"`
}

// AddItem adds qty units of the item ref resolves to. Stock, budget and
// dietary problems are flagged on the result but never block the add.
func (s *Session) AddItem(ref string, qty int) (AddItemResult, error) {
	if qty <= 0 {
		return AddItemResult{}, invalidQuantity(qty, false)
	}
	it, ok := s.catalog.ResolveByFuzzyName(ref)
	if !ok {
		return AddItemResult{}, itemNotFound(ref)
	}
	return s.addResolved(it, qty), nil
}

func (s *Session) addResolved(it catalog.Item, qty int) AddItemResult {
	merged := s.cart.Quantity(it.ID) > 0
	newQty := s.cart.add(it.ID, qty)
	total := s.Total()
	budget := s.prefs.CheckBudget(total)
	s.logger.Info("cart item added", "item_id", it.ID, "quantity", qty, "line_quantity", newQty)
	return AddItemResult{
		Item:       it,
		Added:      qty,
		Quantity:   newQty,
		Merged:     merged,
		OutOfStock: !it.InStock,
		OverBudget: budget.OverBudget,
		Overage:    budget.Overage,
		Conflicts:  s.prefs.Conflicts(it),
		CartTotal:  total,
	}
}

type BundleResult struct {
	Recipe    string          `json:"recipe"`
	Added     []AddItemResult `json:"added"`
	Missing   []string        `json:"missing,omitempty"`
	Flagged   []Flagged       `json:"flagged,omitempty"`
	CartTotal decimal.Decimal `json:"cart_total"`
	Budget    BudgetCheck     `json:"budget"`
}

// AddBundle adds one unit of every item in the recipe for dish. Ids that
// are no longer in the catalog are skipped and listed in Missing.
func (s *Session) AddBundle(ctx context.Context, dish string) (BundleResult, error) {
	name, ids, ok, err := s.ledger.Recipe(ctx, dish)
	if err != nil {
		return BundleResult{}, persistenceFailure("look up that recipe", err)
	}
	if !ok {
		return BundleResult{}, unknownRecipe(dish)
	}

	res := BundleResult{Recipe: name}
	var items []catalog.Item
	for _, id := range ids {
		it, found := s.catalog.Get(id)
		if !found {
			res.Missing = append(res.Missing, id)
			continue
		}
		items = append(items, it)
		res.Added = append(res.Added, s.addResolved(it, 1))
	}
	_, res.Flagged = s.prefs.ApplyDietaryFilter(items)
	res.CartTotal = s.Total()
	res.Budget = s.prefs.CheckBudget(res.CartTotal)
	if len(res.Missing) > 0 {
		s.logger.Warn("recipe references unknown items", "recipe", name, "missing", res.Missing)
	}
	return res, nil
}

type RecipesResult struct {
	Names   []string            `json:"names"`
	Recipes map[string][]string `json:"recipes"`
}

func (s *Session) Recipes(ctx context.Context) (RecipesResult, error) {
	names, table, err := s.ledger.Recipes(ctx)
	if err != nil {
		return RecipesResult{}, persistenceFailure("read the recipe list", err)
	}
	return RecipesResult{Names: names, Recipes: table}, nil
}

type CartLineView struct {
	Item      catalog.Item    `json:"item"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type CartView struct {
	Lines     []CartLineView  `json:"lines"`
	ItemCount int             `json:"item_count"`
	Total     decimal.Decimal `json:"total"`
	Budget    BudgetCheck     `json:"budget"`
}

func (s *Session) ViewCart() CartView {
	view := CartView{Lines: make([]CartLineView, 0, s.cart.Len())}
	for _, l := range s.cart.lines {
		it, ok := s.catalog.Get(l.ItemID)
		if !ok {
			continue
		}
		view.Lines = append(view.Lines, CartLineView{
			Item:      it,
			Quantity:  l.Quantity,
			LineTotal: it.Price.Mul(decimal.NewFromInt(int64(l.Quantity))),
		})
		view.ItemCount += l.Quantity
	}
	view.Total = s.Total()
	view.Budget = s.prefs.CheckBudget(view.Total)
	return view
}

type UpdateResult struct {
	Item      catalog.Item    `json:"item"`
	Previous  int             `json:"previous"`
	Quantity  int             `json:"quantity"`
	Removed   bool            `json:"removed"`
	CartTotal decimal.Decimal `json:"cart_total"`
	Budget    BudgetCheck     `json:"budget"`
}

// UpdateQuantity sets the quantity of a cart line; zero removes it.
func (s *Session) UpdateQuantity(ref string, qty int) (UpdateResult, error) {
	if qty < 0 {
		return UpdateResult{}, invalidQuantity(qty, true)
	}
	it, ok := s.cart.resolve(s.catalog, ref)
	if !ok {
		return UpdateResult{}, itemNotInCart(ref)
	}
	prev := s.cart.Quantity(it.ID)
	s.cart.set(it.ID, qty)
	total := s.Total()
	s.logger.Info("cart quantity updated", "item_id", it.ID, "from", prev, "to", qty)
	return UpdateResult{
		Item:      it,
		Previous:  prev,
		Quantity:  qty,
		Removed:   qty == 0,
		CartTotal: total,
		Budget:    s.prefs.CheckBudget(total),
	}, nil
}

type RemoveResult struct {
	Item      catalog.Item    `json:"item"`
	Quantity  int             `json:"quantity"`
	CartTotal decimal.Decimal `json:"cart_total"`
}

func (s *Session) RemoveItem(ref string) (RemoveResult, error) {
	it, ok := s.cart.resolve(s.catalog, ref)
	if !ok {
		return RemoveResult{}, itemNotInCart(ref)
	}
	qty := s.cart.Quantity(it.ID)
	s.cart.remove(it.ID)
	s.logger.Info("cart item removed", "item_id", it.ID)
	return RemoveResult{Item: it, Quantity: qty, CartTotal: s.Total()}, nil
}

type BudgetResult struct {
	CartTotal decimal.Decimal `json:"cart_total"`
	Budget    BudgetCheck     `json:"budget"`
}

// SetBudget replaces the spending ceiling.
func (s *Session) SetBudget(amount decimal.Decimal) (BudgetResult, error) {
	if amount.IsNegative() {
		return BudgetResult{}, invalidBudget(amount.StringFixed(2))
	}
	s.prefs.Budget = &amount
	total := s.Total()
	s.logger.Info("budget set", "budget", amount.StringFixed(2))
	return BudgetResult{CartTotal: total, Budget: s.prefs.CheckBudget(total)}, nil
}

func (s *Session) ClearBudget() BudgetResult {
	s.prefs.Budget = nil
	return BudgetResult{CartTotal: s.Total()}
}

type DietaryResult struct {
	Required []string  `json:"required"`
	Excluded []string  `json:"excluded"`
	InCart   []Flagged `json:"cart_conflicts,omitempty"`
}

// SetDietaryRestrictions replaces both tag sets. Entries may themselves be
// comma separated ("vegan, gluten-free").
func (s *Session) SetDietaryRestrictions(required, excluded []string) DietaryResult {
	s.prefs.Required = normalizeTagList(required)
	s.prefs.Excluded = normalizeTagList(excluded)

	var items []catalog.Item
	for _, l := range s.cart.lines {
		if it, ok := s.catalog.Get(l.ItemID); ok {
			items = append(items, it)
		}
	}
	_, flagged := s.prefs.ApplyDietaryFilter(items)
	s.logger.Info("dietary restrictions set", "required", s.prefs.Required, "excluded", s.prefs.Excluded)
	return DietaryResult{
		Required: append([]string(nil), s.prefs.Required...),
		Excluded: append([]string(nil), s.prefs.Excluded...),
		InCart:   flagged,
	}
}

// ApplyDietaryFilter partitions items with the session's current rules.
func (s *Session) ApplyDietaryFilter(items []catalog.Item) ([]catalog.Item, []Flagged) {
	return s.prefs.ApplyDietaryFilter(items)
}

// PlaceOrder turns the cart into a persisted order and empties the cart.
// If the ledger write fails the cart is left as it was.
func (s *Session) PlaceOrder(ctx context.Context, buyer string) (order.Order, error) {
	if s.cart.IsEmpty() {
		return order.Order{}, emptyCart()
	}
	lines := make([]order.LineSnapshot, 0, s.cart.Len())
	for _, l := range s.cart.lines {
		it, ok := s.catalog.Get(l.ItemID)
		if !ok {
			continue
		}
		lines = append(lines, snapshot(it, l.Quantity))
	}
	o, err := s.record(ctx, lines, buyer)
	if err != nil {
		return order.Order{}, err
	}
	s.cart.clear()
	return o, nil
}

// DirectLine is one line of an order placed without the cart.
type DirectLine struct {
	Ref      string
	Quantity int
}

// PlaceDirectOrder places an order for lines without touching the cart.
// Repeated references to the same item are merged.
func (s *Session) PlaceDirectOrder(ctx context.Context, lines []DirectLine, buyer string) (order.Order, error) {
	if len(lines) == 0 {
		return order.Order{}, emptyCart()
	}
	var draft Cart
	for _, l := range lines {
		if l.Quantity <= 0 {
			return order.Order{}, invalidQuantity(l.Quantity, false)
		}
		it, ok := s.catalog.ResolveByFuzzyName(l.Ref)
		if !ok {
			return order.Order{}, itemNotFound(l.Ref)
		}
		draft.add(it.ID, l.Quantity)
	}
	snaps := make([]order.LineSnapshot, 0, draft.Len())
	for _, l := range draft.lines {
		it, _ := s.catalog.Get(l.ItemID)
		snaps = append(snaps, snapshot(it, l.Quantity))
	}
	return s.record(ctx, snaps, buyer)
}

func (s *Session) record(ctx context.Context, lines []order.LineSnapshot, buyer string) (order.Order, error) {
	var lastErr error
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		o, err := order.New(order.NewID(), s.opts.Clock.Now(), lines, buyer, s.opts.Currency)
		if err != nil {
			return order.Order{}, fmt.Errorf("build order: %w", err)
		}
		err = s.ledger.Append(ctx, o)
		if err == nil {
			s.logger.Info("order placed", "order_id", o.ID, "total", o.Total.StringFixed(2))
			return o, nil
		}
		if !errors.Is(err, ledger.ErrOrderExists) {
			s.logger.Error("order not saved", "error", err)
			return order.Order{}, persistenceFailure("save your order", err)
		}
		lastErr = err
	}
	return order.Order{}, persistenceFailure("save your order", lastErr)
}

func snapshot(it catalog.Item, qty int) order.LineSnapshot {
	return order.LineSnapshot{
		ItemID:    it.ID,
		Name:      it.Name,
		Brand:     it.Brand,
		Size:      it.Size,
		UnitPrice: it.Price,
		Quantity:  qty,
	}
}

type TrackResult struct {
	Order order.Order `json:"order"`
	// Crossed lists statuses reached since the previous check.
	Crossed []order.Status `json:"crossed,omitempty"`
}

// TrackOrder brings the order's status up to date and returns it. An
// empty id tracks the most recent order.
func (s *Session) TrackOrder(ctx context.Context, id string) (TrackResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		last, ok, err := s.ledger.Last(ctx)
		if err != nil {
			return TrackResult{}, persistenceFailure("look up your orders", err)
		}
		if !ok {
			return TrackResult{}, noOrderHistory()
		}
		id = last.ID
	}

	next, crossed, err := s.ledger.Advance(ctx, id, s.opts.Clock.Now(), s.opts.StatusInterval)
	switch {
	case errors.Is(err, ledger.ErrOrderMissing):
		return TrackResult{}, orderNotFound(id)
	case err != nil:
		return TrackResult{}, persistenceFailure("update your order status", err)
	}
	res := TrackResult{Order: next}
	for _, h := range crossed {
		res.Crossed = append(res.Crossed, h.Status)
	}
	return res, nil
}

type HistoryResult struct {
	Orders []order.Order `json:"orders"`
	Total  int           `json:"total"`
}

// OrderHistory returns up to limit orders, newest first. A non-positive
// limit uses the configured default.
func (s *Session) OrderHistory(ctx context.Context, limit int) (HistoryResult, error) {
	if limit <= 0 {
		limit = s.opts.HistoryLimit
	}
	orders, total, err := s.ledger.Recent(ctx, limit)
	if err != nil {
		return HistoryResult{}, persistenceFailure("read your order history", err)
	}
	if total == 0 {
		return HistoryResult{}, noOrderHistory()
	}
	// Statuses shown here are current; track_order is what persists them.
	now := s.opts.Clock.Now()
	for i := range orders {
		orders[i], _ = order.Advance(orders[i], now, s.opts.StatusInterval)
	}
	return HistoryResult{Orders: orders, Total: total}, nil
}

type ReorderedLine struct {
	Item     catalog.Item `json:"item"`
	Quantity int          `json:"quantity"`
}

type SkippedLine struct {
	ItemID string `json:"item_id"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

type ReorderResult struct {
	OrderID   string          `json:"order_id"`
	Added     []ReorderedLine `json:"added"`
	Skipped   []SkippedLine   `json:"skipped,omitempty"`
	CartTotal decimal.Decimal `json:"cart_total"`
	Budget    BudgetCheck     `json:"budget"`
}

// ReorderLast replaces the cart with the lines of the most recent order,
// priced from the current catalog. Lines whose item is gone or out of
// stock are skipped. When nothing can be reordered the cart is left alone.
func (s *Session) ReorderLast(ctx context.Context) (ReorderResult, error) {
	last, ok, err := s.ledger.Last(ctx)
	if err != nil {
		return ReorderResult{}, persistenceFailure("look up your last order", err)
	}
	if !ok {
		return ReorderResult{}, noOrderHistory()
	}

	res := ReorderResult{OrderID: last.ID}
	var fresh Cart
	for _, l := range last.Lines {
		it, found := s.catalog.Get(l.ItemID)
		switch {
		case !found:
			res.Skipped = append(res.Skipped, SkippedLine{ItemID: l.ItemID, Name: l.Name, Reason: "no longer sold"})
		case !it.InStock:
			res.Skipped = append(res.Skipped, SkippedLine{ItemID: l.ItemID, Name: it.Name, Reason: "out of stock"})
		default:
			fresh.add(it.ID, l.Quantity)
		}
	}
	for _, l := range fresh.lines {
		it, _ := s.catalog.Get(l.ItemID)
		res.Added = append(res.Added, ReorderedLine{Item: it, Quantity: l.Quantity})
	}
	if len(res.Added) > 0 {
		s.cart.replace(fresh.lines)
		s.logger.Info("cart rebuilt from last order", "order_id", last.ID, "lines", len(res.Added), "skipped", len(res.Skipped))
	}
	res.CartTotal = s.Total()
	res.Budget = s.prefs.CheckBudget(res.CartTotal)
	return res, nil
}
