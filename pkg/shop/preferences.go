package shop

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vango-go/vai-shop/pkg/catalog"
)

// Preferences is the per-session overlay. Budget and dietary rules are
// advisory: they produce warnings, never rejections.
type Preferences struct {
	Budget   *decimal.Decimal `json:"budget,omitempty"`
	Required []string         `json:"required_tags,omitempty"`
	Excluded []string         `json:"excluded_tags,omitempty"`
}

func (p Preferences) HasDietaryRules() bool {
	return len(p.Required) > 0 || len(p.Excluded) > 0
}

// Conflicts lists why it breaks the dietary rules; nil means it is fine.
func (p Preferences) Conflicts(it catalog.Item) []string {
	var reasons []string
	for _, tag := range p.Required {
		if !it.HasTag(tag) {
			reasons = append(reasons, fmt.Sprintf("not %s", tag))
		}
	}
	for _, tag := range p.Excluded {
		if it.HasTag(tag) {
			reasons = append(reasons, fmt.Sprintf("contains %s", tag))
		}
	}
	return reasons
}

// Flagged is an item that conflicts with the dietary rules.
type Flagged struct {
	Item    catalog.Item `json:"item"`
	Reasons []string     `json:"reasons"`
}

// ApplyDietaryFilter splits items into those that satisfy the rules and
// those that do not, keeping input order in both.
func (p Preferences) ApplyDietaryFilter(items []catalog.Item) (allowed []catalog.Item, flagged []Flagged) {
	for _, it := range items {
		if reasons := p.Conflicts(it); len(reasons) > 0 {
			flagged = append(flagged, Flagged{Item: it, Reasons: reasons})
			continue
		}
		allowed = append(allowed, it)
	}
	return allowed, flagged
}

// BudgetCheck compares total against the ceiling.
type BudgetCheck struct {
	Budget     *decimal.Decimal `json:"budget,omitempty"`
	Remaining  decimal.Decimal  `json:"remaining"`
	Overage    decimal.Decimal  `json:"overage"`
	OverBudget bool             `json:"over_budget"`
}

func (p Preferences) CheckBudget(total decimal.Decimal) BudgetCheck {
	if p.Budget == nil {
		return BudgetCheck{}
	}
	b := *p.Budget
	check := BudgetCheck{Budget: &b}
	if total.GreaterThan(b) {
		check.OverBudget = true
		check.Overage = total.Sub(b)
		return check
	}
	check.Remaining = b.Sub(total)
	return check
}

func (p Preferences) clone() Preferences {
	out := Preferences{
		Required: append([]string(nil), p.Required...),
		Excluded: append([]string(nil), p.Excluded...),
	}
	if p.Budget != nil {
		b := *p.Budget
		out.Budget = &b
	}
	return out
}

func normalizeTagList(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, raw := range tags {
		for _, t := range strings.Split(raw, ",") {
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
	}
	sort.Strings(out)
	return out
}
