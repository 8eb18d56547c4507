// Package sqlitestore keeps the ledger in a SQLite database. Orders are
// rows in placement order; lines and status history are JSON columns.
// Writes run in IMMEDIATE transactions so several gateway processes can
// share one database file.
package sqlitestore

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/vango-go/vai-shop/pkg/ledger"
	"github.com/vango-go/vai-shop/pkg/order"
)

//go:embed schema.sql
var schema string

type Config struct {
	// Path is the database file. The parent directory must exist.
	Path     string
	PoolSize int
	// Recipes seeds an empty recipes table. Nil uses ledger.DefaultRecipes.
	Recipes map[string][]string
	Logger  *slog.Logger
}

type Store struct {
	pool   *sqlitex.Pool
	logger *slog.Logger

	// seen is the ledger_version the caller's cache reflects.
	mu   sync.Mutex
	seen int64
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
}

// Open creates the pool, applies the schema and seeds recipes.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitestore: Path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}
	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: opening %s: %w", cfg.Path, err)
	}
	s := &Store{pool: pool, logger: logger}

	recipes := cfg.Recipes
	if recipes == nil {
		recipes = ledger.DefaultRecipes()
	}
	if err := s.seedRecipes(ctx, recipes); err != nil {
		_ = pool.Close()
		return nil, err
	}
	logger.Info("sqlite ledger opened", "path", cfg.Path, "pool_size", poolSize)
	return s, nil
}

func prepareConn(conn *sqlite.Conn) error {
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitestore: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("sqlitestore: schema: %w", err)
	}
	return nil
}

func (s *Store) seedRecipes(ctx context.Context, recipes map[string][]string) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlitestore: take: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin: %w", err)
	}
	defer endTransaction(&err)

	var count int
	err = sqlitex.Execute(conn, "SELECT COUNT(*) FROM recipes", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("sqlitestore: count recipes: %w", err)
	}
	if count > 0 {
		return nil
	}
	for name, ids := range recipes {
		encoded, err := json.Marshal(ids)
		if err != nil {
			return fmt.Errorf("sqlitestore: encode recipe %q: %w", name, err)
		}
		err = sqlitex.Execute(conn, "INSERT INTO recipes (name, item_ids_json) VALUES (?, ?)", &sqlitex.ExecOptions{
			Args: []any{name, string(encoded)},
		})
		if err != nil {
			return fmt.Errorf("sqlitestore: insert recipe %q: %w", name, err)
		}
	}
	return nil
}

func (s *Store) Load(ctx context.Context) (_ ledger.Snapshot, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("sqlitestore: take: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction := sqlitex.Transaction(conn)
	defer endTransaction(&err)

	version, err := readVersion(conn)
	if err != nil {
		return ledger.Snapshot{}, err
	}

	snap := ledger.Snapshot{Orders: []order.Order{}, Recipes: map[string][]string{}}
	err = sqlitex.Execute(conn,
		`SELECT id, created_at, buyer, currency, total, status, lines_json, history_json
		   FROM orders ORDER BY seq`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				o, err := scanOrder(stmt)
				if err != nil {
					return err
				}
				snap.Orders = append(snap.Orders, o)
				return nil
			},
		})
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("sqlitestore: load orders: %w", err)
	}

	err = sqlitex.Execute(conn, "SELECT name, item_ids_json FROM recipes", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			var ids []string
			if err := json.Unmarshal([]byte(stmt.ColumnText(1)), &ids); err != nil {
				return fmt.Errorf("recipe %q: %w", stmt.ColumnText(0), err)
			}
			snap.Recipes[stmt.ColumnText(0)] = ids
			return nil
		},
	})
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("sqlitestore: load recipes: %w", err)
	}

	s.mu.Lock()
	s.seen = version
	s.mu.Unlock()
	return snap, nil
}

// Changed reports whether the database was written since the last Load by
// anything other than this store's own Append and Save.
func (s *Store) Changed(ctx context.Context) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, fmt.Errorf("sqlitestore: take: %w", err)
	}
	defer s.pool.Put(conn)

	version, err := readVersion(conn)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return version != s.seen, nil
}

func readVersion(conn *sqlite.Conn) (int64, error) {
	var version int64
	err := sqlitex.Execute(conn, "SELECT version FROM ledger_version WHERE id = 1", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			version = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: read version: %w", err)
	}
	return version, nil
}

// tracked runs write inside an IMMEDIATE transaction. When nobody else wrote
// since the last Load, seen moves past this write so it does not look like
// an outside change. Otherwise seen is left behind and the next Changed
// reports true.
func (s *Store) tracked(ctx context.Context, write func(conn *sqlite.Conn) error) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlitestore: take: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin: %w", err)
	}
	defer endTransaction(&err)

	before, err := readVersion(conn)
	if err != nil {
		return err
	}
	if err := write(conn); err != nil {
		return err
	}
	after, err := readVersion(conn)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.seen == before {
		s.seen = after
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) Append(ctx context.Context, o order.Order) error {
	row, err := encodeOrder(o)
	if err != nil {
		return err
	}
	return s.tracked(ctx, func(conn *sqlite.Conn) error {
		exists := false
		err := sqlitex.Execute(conn, "SELECT 1 FROM orders WHERE id = ?", &sqlitex.ExecOptions{
			Args: []any{o.ID},
			ResultFunc: func(*sqlite.Stmt) error {
				exists = true
				return nil
			},
		})
		if err != nil {
			return fmt.Errorf("sqlitestore: lookup %s: %w", o.ID, err)
		}
		if exists {
			return ledger.ErrOrderExists
		}

		err = sqlitex.Execute(conn,
			`INSERT INTO orders (id, created_at, buyer, currency, total, status, lines_json, history_json)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: row.insertArgs()})
		if err != nil {
			return fmt.Errorf("sqlitestore: insert %s: %w", o.ID, err)
		}
		return nil
	})
}

func (s *Store) Save(ctx context.Context, o order.Order) error {
	row, err := encodeOrder(o)
	if err != nil {
		return err
	}
	return s.tracked(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			`UPDATE orders SET status = ?, history_json = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{row.status, row.history, o.ID}})
		if err != nil {
			return fmt.Errorf("sqlitestore: update %s: %w", o.ID, err)
		}
		if conn.Changes() == 0 {
			return ledger.ErrOrderMissing
		}
		return nil
	})
}

func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("sqlitestore: close: %w", err)
	}
	s.logger.Info("sqlite ledger closed")
	return nil
}

type orderRow struct {
	id, createdAt, buyer, currency, total, status, lines, history string
}

func (r orderRow) insertArgs() []any {
	return []any{r.id, r.createdAt, r.buyer, r.currency, r.total, r.status, r.lines, r.history}
}

func encodeOrder(o order.Order) (orderRow, error) {
	lines, err := json.Marshal(o.Lines)
	if err != nil {
		return orderRow{}, fmt.Errorf("sqlitestore: encode lines %s: %w", o.ID, err)
	}
	history, err := json.Marshal(o.History)
	if err != nil {
		return orderRow{}, fmt.Errorf("sqlitestore: encode history %s: %w", o.ID, err)
	}
	return orderRow{
		id:        o.ID,
		createdAt: o.CreatedAt.UTC().Format(time.RFC3339Nano),
		buyer:     o.Buyer,
		currency:  o.Currency,
		total:     o.Total.String(),
		status:    string(o.Status),
		lines:     string(lines),
		history:   string(history),
	}, nil
}

func scanOrder(stmt *sqlite.Stmt) (order.Order, error) {
	id := stmt.ColumnText(0)
	created, err := time.Parse(time.RFC3339Nano, stmt.ColumnText(1))
	if err != nil {
		return order.Order{}, fmt.Errorf("order %s: created_at: %w", id, err)
	}
	total, err := decimal.NewFromString(stmt.ColumnText(4))
	if err != nil {
		return order.Order{}, fmt.Errorf("order %s: total: %w", id, err)
	}
	o := order.Order{
		ID:        id,
		CreatedAt: created,
		Buyer:     stmt.ColumnText(2),
		Currency:  stmt.ColumnText(3),
		Total:     total,
		Status:    order.Status(stmt.ColumnText(5)),
	}
	if err := json.Unmarshal([]byte(stmt.ColumnText(6)), &o.Lines); err != nil {
		return order.Order{}, fmt.Errorf("order %s: lines: %w", id, err)
	}
	if err := json.Unmarshal([]byte(stmt.ColumnText(7)), &o.History); err != nil {
		return order.Order{}, fmt.Errorf("order %s: history: %w", id, err)
	}
	return o, nil
}
