package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testItems() []Item {
	return []Item{
		{ID: "bread-wheat", Name: "Whole Wheat Bread", Category: "Bakery", Price: decimal.RequireFromString("3.49"), Tags: []string{"Vegetarian", "vegan"}, InStock: true},
		{ID: "milk-whole", Name: "Milk", Category: "Dairy", Price: decimal.RequireFromString("5.99"), Tags: []string{"vegetarian"}, InStock: true},
		{ID: "milk-oat", Name: "Oat Milk", Category: "Dairy", Subcategory: "Plant Milk", Price: decimal.RequireFromString("4.50"), Tags: []string{"vegan"}, InStock: true},
		{ID: "choc-milk", Name: "Milkshake Mix", Category: "Snacks", Price: decimal.RequireFromString("2.00"), InStock: false},
		{ID: "eggs", Name: "Eggs (12)", Category: "Dairy", Description: "free range, goes well with milk", Price: decimal.RequireFromString("6.00"), InStock: true},
	}
}

func mustCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := New(testItems())
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	require.Error(t, err)

	_, err = New([]Item{{ID: "", Name: "x"}})
	require.ErrorContains(t, err, "id is required")

	_, err = New([]Item{{ID: "a", Name: " "}})
	require.ErrorContains(t, err, "name is required")

	_, err = New([]Item{{ID: "a", Name: "A"}, {ID: "a", Name: "B"}})
	require.ErrorContains(t, err, "duplicate id")

	_, err = New([]Item{{ID: "a", Name: "A", Price: decimal.NewFromInt(-1)}})
	require.ErrorContains(t, err, "price")
}

func TestNew_NormalizesTags(t *testing.T) {
	t.Parallel()
	c := mustCatalog(t)
	it, ok := c.Get("bread-wheat")
	require.True(t, ok)
	assert.Equal(t, []string{"vegetarian", "vegan"}, it.Tags)
	assert.True(t, it.HasTag("VEGAN"))
}

func TestSearch_RanksExactNameFirst(t *testing.T) {
	t.Parallel()
	c := mustCatalog(t)

	res := c.Search(Query{Text: "milk"})
	require.Equal(t, 4, res.Total)
	ids := make([]string, 0, len(res.Matches))
	for _, m := range res.Matches {
		ids = append(ids, m.Item.ID)
	}
	assert.Equal(t, []string{"milk-whole", "choc-milk", "milk-oat", "eggs"}, ids)
	assert.Equal(t, RelevanceExactName, res.Matches[0].Relevance)
	assert.Equal(t, RelevanceAttribute, res.Matches[3].Relevance)
	assert.False(t, res.Matches[1].Item.InStock)
}

func TestSearch_Filters(t *testing.T) {
	t.Parallel()
	c := mustCatalog(t)

	limit := decimal.RequireFromString("5.00")
	res := c.Search(Query{Text: "milk", MaxPrice: &limit})
	for _, m := range res.Matches {
		assert.True(t, m.Item.Price.LessThanOrEqual(limit), m.Item.ID)
	}
	assert.Equal(t, 2, res.Total)

	res = c.Search(Query{Category: "dairy"})
	assert.Equal(t, 3, res.Total)

	res = c.Search(Query{Tags: []string{"vegan"}, Category: "Dairy"})
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "milk-oat", res.Matches[0].Item.ID)

	res = c.Search(Query{Text: "milk", Limit: 2})
	assert.Len(t, res.Matches, 2)
	assert.Equal(t, 4, res.Total)

	res = c.Search(Query{Text: "caviar"})
	assert.Empty(t, res.Matches)
	assert.Zero(t, res.Total)
}

func TestResolveByFuzzyName(t *testing.T) {
	t.Parallel()
	c := mustCatalog(t)

	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "eggs", want: "eggs", ok: true},
		{in: "MILK", want: "milk-whole", ok: true},
		{in: "bread", want: "bread-wheat", ok: true},
		{in: "oat", want: "milk-oat", ok: true},
		{in: "mil", want: "milk-whole", ok: true},
		{in: "truffle", ok: false},
		{in: "  ", ok: false},
	}
	for _, tc := range cases {
		got, ok := c.ResolveByFuzzyName(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		if tc.ok {
			assert.Equal(t, tc.want, got.ID, tc.in)
		}
	}
}

func TestCategories(t *testing.T) {
	t.Parallel()
	c := mustCatalog(t)
	groups := c.Categories()
	require.Len(t, groups, 3)
	assert.Equal(t, "Bakery", groups[0].Name)
	assert.Equal(t, "Dairy", groups[1].Name)
	require.Len(t, groups[1].Items, 3)
	assert.Equal(t, "Eggs (12)", groups[1].Items[0].Name)
	assert.Equal(t, []string{"vegan", "vegetarian"}, c.Tags())
}

func TestLoad_Formats(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	jsoncDoc := `// grocery catalog
[
  {"id": "bread", "name": "Bread", "category": "Bakery", "price": 3.49, "in_stock": true}, // trailing
]`
	yamlDoc := `items:
  - id: bread
    name: Bread
    category: Bakery
    price: 3.49
    in_stock: true
    tags: [vegan]
`
	files := map[string]string{
		"catalog.jsonc": jsoncDoc,
		"catalog.yaml":  yamlDoc,
	}
	for name, body := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		c, err := Load(path)
		require.NoError(t, err, name)
		it, ok := c.Get("bread")
		require.True(t, ok, name)
		assert.True(t, it.Price.Equal(decimal.RequireFromString("3.49")), name)
		assert.True(t, it.InStock, name)
	}
}

func TestLoad_Failures(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.json"))
	require.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[{"id":`), 0o644))
	_, err = Load(bad)
	require.ErrorContains(t, err, "decode catalog")

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`[]`), 0o644))
	_, err = Load(empty)
	require.ErrorContains(t, err, "catalog is empty")
}
