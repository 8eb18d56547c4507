package catalog

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Query narrows a catalog search. Zero-valued fields do not filter.
type Query struct {
	Text     string
	Category string
	Tags     []string
	MaxPrice *decimal.Decimal
	Limit    int
}

// Relevance orders search hits; lower is better.
type Relevance int

const (
	RelevanceExactName Relevance = iota
	RelevanceNamePrefix
	RelevanceNameSubstring
	RelevanceAttribute
)

type Match struct {
	Item      Item
	Relevance Relevance
}

// Result holds the matches kept after Limit and the number of matches
// found before it was applied.
type Result struct {
	Matches []Match
	Total   int
}

// Search performs a case-insensitive substring search. An empty result is
// not an error.
func (c *Catalog) Search(q Query) Result {
	if c == nil {
		return Result{}
	}
	text := strings.ToLower(strings.TrimSpace(q.Text))
	category := strings.ToLower(strings.TrimSpace(q.Category))
	tags := normalizeTags(q.Tags)

	var matches []Match
	for _, it := range c.items {
		if category != "" && strings.ToLower(it.Category) != category {
			continue
		}
		if q.MaxPrice != nil && it.Price.GreaterThan(*q.MaxPrice) {
			continue
		}
		if !hasAllTags(it, tags) {
			continue
		}
		rel, ok := relevance(it, text)
		if !ok {
			continue
		}
		matches = append(matches, Match{Item: it, Relevance: rel})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Relevance < matches[j].Relevance
	})

	res := Result{Total: len(matches)}
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	res.Matches = matches
	return res
}

// ResolveByFuzzyName maps free text to one item: exact id, then exact name,
// then the first item in catalog order whose name contains the text.
func (c *Catalog) ResolveByFuzzyName(text string) (Item, bool) {
	if c == nil {
		return Item{}, false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Item{}, false
	}
	if it, ok := c.Get(text); ok {
		return it, true
	}
	lower := strings.ToLower(text)
	for _, it := range c.items {
		if strings.ToLower(it.Name) == lower || strings.ToLower(it.ID) == lower {
			return it, true
		}
	}
	for _, it := range c.items {
		if strings.Contains(strings.ToLower(it.Name), lower) {
			return it, true
		}
	}
	return Item{}, false
}

func relevance(it Item, text string) (Relevance, bool) {
	if text == "" {
		return RelevanceAttribute, true
	}
	name := strings.ToLower(it.Name)
	switch {
	case name == text:
		return RelevanceExactName, true
	case strings.HasPrefix(name, text):
		return RelevanceNamePrefix, true
	case strings.Contains(name, text):
		return RelevanceNameSubstring, true
	}
	fields := []string{it.Category, it.Subcategory, it.Brand, it.Description}
	fields = append(fields, it.Tags...)
	for _, f := range fields {
		if f != "" && strings.Contains(strings.ToLower(f), text) {
			return RelevanceAttribute, true
		}
	}
	return 0, false
}

func hasAllTags(it Item, tags []string) bool {
	for _, t := range tags {
		if !it.HasTag(t) {
			return false
		}
	}
	return true
}
