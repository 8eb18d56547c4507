// Package ledgertest holds behaviour checks shared by every ledger.Store
// implementation.
package ledgertest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/vai-shop/pkg/ledger"
	"github.com/vango-go/vai-shop/pkg/order"
)

// OpenFunc returns a fresh, empty store seeded with ledger.DefaultRecipes.
type OpenFunc func(t *testing.T) ledger.Store

// SampleOrder builds a received order created at created.
func SampleOrder(t *testing.T, id string, created time.Time) order.Order {
	t.Helper()
	o, err := order.New(id, created, []order.LineSnapshot{
		{ItemID: "bread-wheat", Name: "Whole Wheat Bread", Brand: "Nature's Own", Size: "20 oz", UnitPrice: decimal.RequireFromString("3.49"), Quantity: 2},
		{ItemID: "milk-whole", Name: "Whole Milk", UnitPrice: decimal.RequireFromString("5.99"), Quantity: 1},
	}, "Ada", "USD")
	require.NoError(t, err)
	return o
}

// RunStoreTests exercises the Store contract.
func RunStoreTests(t *testing.T, open OpenFunc) {
	t.Run("EmptyLoadHasSeedRecipes", func(t *testing.T) {
		s := open(t)
		snap, err := s.Load(context.Background())
		require.NoError(t, err)
		assert.Empty(t, snap.Orders)
		assert.Equal(t, ledger.DefaultRecipes()["pasta"], snap.Recipes["pasta"])
	})

	t.Run("AppendThenLoadPreservesOrder", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		created := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
		first := SampleOrder(t, "ORD-00000001", created)
		second := SampleOrder(t, "ORD-00000002", created.Add(time.Minute))
		require.NoError(t, s.Append(ctx, first))
		require.NoError(t, s.Append(ctx, second))

		snap, err := s.Load(ctx)
		require.NoError(t, err)
		require.Len(t, snap.Orders, 2)
		assert.Equal(t, "ORD-00000001", snap.Orders[0].ID)
		assert.Equal(t, "ORD-00000002", snap.Orders[1].ID)
		AssertOrderEqual(t, first, snap.Orders[0])
	})

	t.Run("AppendDuplicateFails", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		o := SampleOrder(t, "ORD-DUP00001", time.Now().UTC())
		require.NoError(t, s.Append(ctx, o))
		require.ErrorIs(t, s.Append(ctx, o), ledger.ErrOrderExists)
	})

	t.Run("SaveReplacesStatusAndHistory", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		created := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
		o := SampleOrder(t, "ORD-SAVE0001", created)
		require.NoError(t, s.Append(ctx, o))

		next, changed := order.Advance(o, created.Add(10*time.Minute), 2*time.Minute)
		require.True(t, changed)
		require.NoError(t, s.Save(ctx, next))

		snap, err := s.Load(ctx)
		require.NoError(t, err)
		require.Len(t, snap.Orders, 1)
		AssertOrderEqual(t, next, snap.Orders[0])
	})

	t.Run("SaveUnknownFails", func(t *testing.T) {
		s := open(t)
		o := SampleOrder(t, "ORD-MISSING1", time.Now().UTC())
		require.ErrorIs(t, s.Save(context.Background(), o), ledger.ErrOrderMissing)
	})
}

// OpenSharedFunc returns two stores over the same empty backing database,
// as two gateway processes would open it.
type OpenSharedFunc func(t *testing.T) (ledger.Store, ledger.Store)

// RunSharedStoreTests checks that writes made through one store are seen by
// a Ledger over the other.
func RunSharedStoreTests(t *testing.T, open OpenSharedFunc) {
	t.Run("OwnWritesAreNotOutsideChanges", func(t *testing.T) {
		ctx := context.Background()
		a, _ := open(t)
		la, err := ledger.Open(ctx, a, nil)
		require.NoError(t, err)
		require.NoError(t, la.Append(ctx, SampleOrder(t, "ORD-OWN00001", time.Now().UTC())))

		cd, ok := a.(ledger.ChangeDetector)
		require.True(t, ok, "store must detect outside changes")
		changed, err := cd.Changed(ctx)
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("OrderPlacedElsewhereIsVisible", func(t *testing.T) {
		ctx := context.Background()
		a, b := open(t)
		la, err := ledger.Open(ctx, a, nil)
		require.NoError(t, err)
		lb, err := ledger.Open(ctx, b, nil)
		require.NoError(t, err)

		created := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
		placed := SampleOrder(t, "ORD-SHARED01", created)
		require.NoError(t, la.Append(ctx, placed))

		got, found, err := lb.Find(ctx, "ORD-SHARED01")
		require.NoError(t, err)
		require.True(t, found)
		AssertOrderEqual(t, placed, got)

		last, ok, err := lb.Last(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "ORD-SHARED01", last.ID)

		_, total, err := lb.Recent(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
	})

	t.Run("AdvanceElsewhereIsVisible", func(t *testing.T) {
		ctx := context.Background()
		a, b := open(t)
		la, err := ledger.Open(ctx, a, nil)
		require.NoError(t, err)
		lb, err := ledger.Open(ctx, b, nil)
		require.NoError(t, err)

		created := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
		iv := 2 * time.Minute
		require.NoError(t, la.Append(ctx, SampleOrder(t, "ORD-SHARED02", created)))

		_, crossed, err := lb.Advance(ctx, "ORD-SHARED02", created.Add(2*iv), iv)
		require.NoError(t, err)
		require.Len(t, crossed, 2)

		got, found, err := la.Find(ctx, "ORD-SHARED02")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, order.StatusBeingPrepared, got.Status)

		// A continues from the advanced state instead of overwriting it.
		next, crossed, err := la.Advance(ctx, "ORD-SHARED02", created.Add(5*iv), iv)
		require.NoError(t, err)
		require.Len(t, crossed, 2)
		assert.Equal(t, order.StatusOutForDelivery, crossed[0].Status)
		assert.Len(t, next.History, 5)

		seen, _, err := lb.Find(ctx, "ORD-SHARED02")
		require.NoError(t, err)
		assert.Equal(t, order.StatusDelivered, seen.Status)
	})
}

// AssertOrderEqual compares orders by value, ignoring time zone and
// decimal representation differences introduced by storage.
func AssertOrderEqual(t *testing.T, want, got order.Order) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "created: want %v, got %v", want.CreatedAt, got.CreatedAt)
	assert.Equal(t, want.Buyer, got.Buyer)
	assert.Equal(t, want.Currency, got.Currency)
	assert.True(t, want.Total.Equal(got.Total), "total: want %s, got %s", want.Total, got.Total)
	assert.Equal(t, want.Status, got.Status)
	require.Len(t, got.Lines, len(want.Lines))
	for i := range want.Lines {
		w, g := want.Lines[i], got.Lines[i]
		assert.Equal(t, w.ItemID, g.ItemID)
		assert.Equal(t, w.Name, g.Name)
		assert.Equal(t, w.Brand, g.Brand)
		assert.Equal(t, w.Size, g.Size)
		assert.Equal(t, w.Quantity, g.Quantity)
		assert.True(t, w.UnitPrice.Equal(g.UnitPrice), "line %d price: want %s, got %s", i, w.UnitPrice, g.UnitPrice)
	}
	require.Len(t, got.History, len(want.History))
	for i := range want.History {
		assert.Equal(t, want.History[i].Status, got.History[i].Status)
		assert.True(t, want.History[i].At.Equal(got.History[i].At), "history %d: want %v, got %v", i, want.History[i].At, got.History[i].At)
	}
}
