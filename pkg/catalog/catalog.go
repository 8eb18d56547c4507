// Package catalog holds the read-only item catalog the shop tools search and
// resolve against. A Catalog is immutable once built and safe for concurrent
// readers without locking.
package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Item is one catalog entry.
type Item struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Category    string          `json:"category"`
	Subcategory string          `json:"subcategory,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Brand       string          `json:"brand,omitempty"`
	Size        string          `json:"size,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	InStock     bool            `json:"in_stock"`
	Description string          `json:"description,omitempty"`
}

// HasTag reports whether the item carries tag (case-insensitive).
func (it Item) HasTag(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, t := range it.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

type Catalog struct {
	items []Item
	byID  map[string]int
}

// New validates items and builds a Catalog that preserves their order.
func New(items []Item) (*Catalog, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("catalog is empty")
	}
	c := &Catalog{
		items: make([]Item, 0, len(items)),
		byID:  make(map[string]int, len(items)),
	}
	for i, it := range items {
		it.ID = strings.TrimSpace(it.ID)
		it.Name = strings.TrimSpace(it.Name)
		if it.ID == "" {
			return nil, fmt.Errorf("catalog item [%d]: id is required", i)
		}
		if it.Name == "" {
			return nil, fmt.Errorf("catalog item %q: name is required", it.ID)
		}
		if it.Price.IsNegative() {
			return nil, fmt.Errorf("catalog item %q: price must be >= 0", it.ID)
		}
		if _, dup := c.byID[it.ID]; dup {
			return nil, fmt.Errorf("catalog item %q: duplicate id", it.ID)
		}
		it.Tags = normalizeTags(it.Tags)
		c.byID[it.ID] = len(c.items)
		c.items = append(c.items, it)
	}
	return c, nil
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.items)
}

// Items returns a copy of the catalog in load order.
func (c *Catalog) Items() []Item {
	if c == nil {
		return nil
	}
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Catalog) Get(id string) (Item, bool) {
	if c == nil {
		return Item{}, false
	}
	idx, ok := c.byID[strings.TrimSpace(id)]
	if !ok {
		return Item{}, false
	}
	return c.items[idx], true
}

// CategoryGroup is one category with its items sorted by name.
type CategoryGroup struct {
	Name  string
	Items []Item
}

func (c *Catalog) Categories() []CategoryGroup {
	if c == nil {
		return nil
	}
	byName := make(map[string][]Item)
	for _, it := range c.items {
		byName[it.Category] = append(byName[it.Category], it)
	}
	out := make([]CategoryGroup, 0, len(byName))
	for name, items := range byName {
		sort.SliceStable(items, func(i, j int) bool { return items[i].Name < items[j].Name })
		out = append(out, CategoryGroup{Name: name, Items: items})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Tags returns every dietary tag used in the catalog, sorted.
func (c *Catalog) Tags() []string {
	if c == nil {
		return nil
	}
	seen := make(map[string]struct{})
	for _, it := range c.items {
		for _, t := range it.Tags {
			seen[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
