package shop

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vango-go/vai-shop/pkg/catalog"
)

// Line is one cart entry. A cart never holds two lines for the same item.
type Line struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

// Cart is an ordered set of lines. It stores item ids only; prices are
// always read from the catalog so totals cannot drift from line changes.
type Cart struct {
	lines []Line
}

func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) Len() int { return len(c.lines) }

func (c *Cart) IsEmpty() bool { return len(c.lines) == 0 }

// Quantity returns the units held for id, 0 if absent.
func (c *Cart) Quantity(id string) int {
	if i := c.indexOf(id); i >= 0 {
		return c.lines[i].Quantity
	}
	return 0
}

// Total is the sum of unit price × quantity, recomputed on every call.
func (c *Cart) Total(cat *catalog.Catalog) decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.lines {
		it, ok := cat.Get(l.ItemID)
		if !ok {
			continue
		}
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return total
}

func (c *Cart) indexOf(id string) int {
	for i, l := range c.lines {
		if l.ItemID == id {
			return i
		}
	}
	return -1
}

// add accumulates qty into the line for id and returns the new quantity.
func (c *Cart) add(id string, qty int) int {
	if i := c.indexOf(id); i >= 0 {
		c.lines[i].Quantity += qty
		return c.lines[i].Quantity
	}
	c.lines = append(c.lines, Line{ItemID: id, Quantity: qty})
	return qty
}

// set replaces the quantity; zero removes the line.
func (c *Cart) set(id string, qty int) {
	i := c.indexOf(id)
	if i < 0 {
		return
	}
	if qty == 0 {
		c.lines = append(c.lines[:i], c.lines[i+1:]...)
		return
	}
	c.lines[i].Quantity = qty
}

func (c *Cart) remove(id string) bool {
	i := c.indexOf(id)
	if i < 0 {
		return false
	}
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
	return true
}

func (c *Cart) clear() { c.lines = nil }

func (c *Cart) replace(lines []Line) {
	c.lines = append([]Line(nil), lines...)
}

// resolve finds the cart line a spoken reference points at: exact id, then
// exact name, then the first line whose name contains the text.
func (c *Cart) resolve(cat *catalog.Catalog, ref string) (catalog.Item, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return catalog.Item{}, false
	}
	if i := c.indexOf(ref); i >= 0 {
		it, ok := cat.Get(ref)
		return it, ok
	}
	lower := strings.ToLower(ref)
	items := make([]catalog.Item, 0, len(c.lines))
	for _, l := range c.lines {
		if it, ok := cat.Get(l.ItemID); ok {
			items = append(items, it)
		}
	}
	for _, it := range items {
		if strings.ToLower(it.Name) == lower || strings.ToLower(it.ID) == lower {
			return it, true
		}
	}
	for _, it := range items {
		if strings.Contains(strings.ToLower(it.Name), lower) {
			return it, true
		}
	}
	return catalog.Item{}, false
}
