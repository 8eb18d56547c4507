// Package order defines placed-order snapshots and their time-driven status
// progression. Everything here is pure: callers supply the clock.
package order

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LineSnapshot is an order line captured by value at placement time. Later
// catalog changes never alter it.
type LineSnapshot struct {
	ItemID    string          `json:"id"`
	Name      string          `json:"name"`
	Brand     string          `json:"brand,omitempty"`
	Size      string          `json:"size,omitempty"`
	UnitPrice decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

func (l LineSnapshot) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type StatusEntry struct {
	Status Status    `json:"status"`
	At     time.Time `json:"timestamp"`
}

type Order struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"timestamp"`
	Buyer     string          `json:"buyer,omitempty"`
	Currency  string          `json:"currency,omitempty"`
	Lines     []LineSnapshot  `json:"items"`
	Total     decimal.Decimal `json:"total"`
	Status    Status          `json:"status"`
	History   []StatusEntry   `json:"status_history"`
}

var errNoLines = errors.New("order has no lines")

// New builds a received order from line snapshots. The total is computed
// from the lines, never taken from the caller.
func New(id string, created time.Time, lines []LineSnapshot, buyer, currency string) (Order, error) {
	if strings.TrimSpace(id) == "" {
		return Order{}, errors.New("order id is required")
	}
	if len(lines) == 0 {
		return Order{}, errNoLines
	}
	snap := make([]LineSnapshot, len(lines))
	copy(snap, lines)
	for _, l := range snap {
		if l.Quantity <= 0 {
			return Order{}, fmt.Errorf("line %q: quantity must be > 0", l.ItemID)
		}
	}
	return Order{
		ID:        id,
		CreatedAt: created,
		Buyer:     strings.TrimSpace(buyer),
		Currency:  currency,
		Lines:     snap,
		Total:     LinesTotal(snap),
		Status:    StatusReceived,
		History:   []StatusEntry{{Status: StatusReceived, At: created}},
	}, nil
}

// NewID returns a short order id such as "ORD-1A2B3C4D".
func NewID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "ORD-" + strings.ToUpper(raw[:8])
}

func LinesTotal(lines []LineSnapshot) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Total())
	}
	return total
}

// ItemCount is the number of units across all lines.
func (o Order) ItemCount() int {
	n := 0
	for _, l := range o.Lines {
		n += l.Quantity
	}
	return n
}

// Validate checks an order read back from storage.
func (o Order) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return errors.New("order id is required")
	}
	if !o.Status.Valid() {
		return fmt.Errorf("order %s: unknown status %q", o.ID, o.Status)
	}
	if len(o.Lines) == 0 {
		return fmt.Errorf("order %s: %w", o.ID, errNoLines)
	}
	return nil
}

// Clone returns a deep copy safe to hand to another goroutine.
func (o Order) Clone() Order {
	out := o
	out.Lines = append([]LineSnapshot(nil), o.Lines...)
	out.History = append([]StatusEntry(nil), o.History...)
	return out
}
