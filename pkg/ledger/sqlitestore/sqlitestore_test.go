package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/vango-go/vai-shop/pkg/ledger"
	"github.com/vango-go/vai-shop/pkg/ledger/ledgertest"
)

func openTemp(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: path, PoolSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	ledgertest.RunStoreTests(t, func(t *testing.T) ledger.Store {
		return openTemp(t, filepath.Join(t.TempDir(), "ledger.db"))
	})
}

func TestSharedDatabase(t *testing.T) {
	ledgertest.RunSharedStoreTests(t, func(t *testing.T) (ledger.Store, ledger.Store) {
		path := filepath.Join(t.TempDir(), "ledger.db")
		return openTemp(t, path), openTemp(t, path)
	})
}

func TestChangedSeesShellEdits(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t, filepath.Join(t.TempDir(), "ledger.db"))
	_, err := s.Load(ctx)
	require.NoError(t, err)

	changed, err := s.Changed(ctx)
	require.NoError(t, err)
	assert.False(t, changed)

	conn, err := s.pool.Take(ctx)
	require.NoError(t, err)
	err = sqlitex.Execute(conn, `INSERT INTO recipes (name, item_ids_json) VALUES ('toast', '["bread-wheat"]')`, nil)
	s.pool.Put(conn)
	require.NoError(t, err)

	changed, err = s.Changed(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bread-wheat"}, snap.Recipes["toast"])
	changed, err = s.Changed(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestReopenKeepsOrdersAndDoesNotReseed(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	s, err := Open(ctx, Config{Path: path, Recipes: map[string][]string{"toast": {"bread-wheat"}}})
	require.NoError(t, err)
	o := ledgertest.SampleOrder(t, "ORD-REOPEN01", time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC))
	require.NoError(t, s.Append(ctx, o))
	require.NoError(t, s.Close())

	again := openTemp(t, path)
	snap, err := again.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Orders, 1)
	ledgertest.AssertOrderEqual(t, o, snap.Orders[0])
	assert.Equal(t, map[string][]string{"toast": {"bread-wheat"}}, snap.Recipes)
}

func TestLedgerOverSQLite(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t, filepath.Join(t.TempDir(), "ledger.db"))
	l, err := ledger.Open(ctx, s, nil)
	require.NoError(t, err)

	created := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	require.NoError(t, l.Append(ctx, ledgertest.SampleOrder(t, "ORD-SQL00001", created)))
	got, crossed, err := l.Advance(ctx, "ORD-SQL00001", created.Add(5*time.Minute), time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, crossed)

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	ledgertest.AssertOrderEqual(t, got, snap.Orders[0])
}
