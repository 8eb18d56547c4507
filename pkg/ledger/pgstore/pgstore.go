// Package pgstore keeps the ledger in PostgreSQL through the pgx driver.
// The schema is owned by the goose migrations embedded in this package.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/vango-go/vai-shop/pkg/ledger"
	"github.com/vango-go/vai-shop/pkg/order"
)

//go:embed migrations/*.sql
var migrations embed.FS

// gooseMu guards goose's package-level dialect and base FS.
var gooseMu sync.Mutex

type Config struct {
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	// Recipes seeds an empty recipes table. Nil uses ledger.DefaultRecipes.
	Recipes map[string][]string
	Logger  *slog.Logger
}

type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// seen is the shop_ledger_version the caller's cache reflects.
	mu   sync.Mutex
	seen int64
}

// Open connects, applies pending migrations and seeds recipes.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("pgstore: DSN is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgstore: open: %w", err)
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 30 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(lifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger}
	recipes := cfg.Recipes
	if recipes == nil {
		recipes = ledger.DefaultRecipes()
	}
	if err := s.seedRecipes(ctx, recipes); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("postgres ledger opened", "max_open_conns", maxOpen)
	return s, nil
}

// Migrate applies every pending migration to db.
func Migrate(ctx context.Context, db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("pgstore: goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("pgstore: migrate: %w", err)
	}
	return nil
}

// MigrationVersion reports the applied schema version.
func MigrationVersion(ctx context.Context, db *sql.DB) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	if err := goose.SetDialect("postgres"); err != nil {
		return 0, fmt.Errorf("pgstore: goose dialect: %w", err)
	}
	v, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("pgstore: version: %w", err)
	}
	return v, nil
}

// DB exposes the connection pool for maintenance commands.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pgstore: ping: %w", err)
	}
	return nil
}

func (s *Store) seedRecipes(ctx context.Context, recipes map[string][]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgstore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM shop_recipes`).Scan(&count); err != nil {
		return fmt.Errorf("pgstore: count recipes: %w", err)
	}
	if count > 0 {
		return nil
	}
	for name, ids := range recipes {
		encoded, err := json.Marshal(ids)
		if err != nil {
			return fmt.Errorf("pgstore: encode recipe %q: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO shop_recipes (name, item_ids) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
			name, string(encoded)); err != nil {
			return fmt.Errorf("pgstore: insert recipe %q: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pgstore: commit: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context) (ledger.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("pgstore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	version, err := readVersion(ctx, tx, false)
	if err != nil {
		return ledger.Snapshot{}, err
	}
	snap := ledger.Snapshot{Orders: []order.Order{}, Recipes: map[string][]string{}}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, created_at, buyer, currency, total, status, lines, history
		   FROM shop_orders ORDER BY seq`)
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("pgstore: load orders: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			o              order.Order
			status         string
			lines, history []byte
		)
		if err := rows.Scan(&o.ID, &o.CreatedAt, &o.Buyer, &o.Currency, &o.Total, &status, &lines, &history); err != nil {
			return ledger.Snapshot{}, fmt.Errorf("pgstore: scan order: %w", err)
		}
		o.Status = order.Status(status)
		if err := json.Unmarshal(lines, &o.Lines); err != nil {
			return ledger.Snapshot{}, fmt.Errorf("pgstore: order %s lines: %w", o.ID, err)
		}
		if err := json.Unmarshal(history, &o.History); err != nil {
			return ledger.Snapshot{}, fmt.Errorf("pgstore: order %s history: %w", o.ID, err)
		}
		snap.Orders = append(snap.Orders, o)
	}
	if err := rows.Err(); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("pgstore: load orders: %w", err)
	}
	rows.Close()

	recipeRows, err := tx.QueryContext(ctx, `SELECT name, item_ids FROM shop_recipes`)
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("pgstore: load recipes: %w", err)
	}
	defer recipeRows.Close()
	for recipeRows.Next() {
		var (
			name string
			raw  []byte
			ids  []string
		)
		if err := recipeRows.Scan(&name, &raw); err != nil {
			return ledger.Snapshot{}, fmt.Errorf("pgstore: scan recipe: %w", err)
		}
		if err := json.Unmarshal(raw, &ids); err != nil {
			return ledger.Snapshot{}, fmt.Errorf("pgstore: recipe %q: %w", name, err)
		}
		snap.Recipes[name] = ids
	}
	if err := recipeRows.Err(); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("pgstore: load recipes: %w", err)
	}

	s.mu.Lock()
	s.seen = version
	s.mu.Unlock()
	return snap, nil
}

// Changed reports whether the tables were written since the last Load by
// anything other than this store's own Append and Save.
func (s *Store) Changed(ctx context.Context) (bool, error) {
	var version int64
	if err := s.db.QueryRowContext(ctx, `SELECT version FROM shop_ledger_version WHERE id = 1`).Scan(&version); err != nil {
		return false, fmt.Errorf("pgstore: read version: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return version != s.seen, nil
}

func readVersion(ctx context.Context, tx *sql.Tx, lock bool) (int64, error) {
	query := `SELECT version FROM shop_ledger_version WHERE id = 1`
	if lock {
		query += ` FOR UPDATE`
	}
	var version int64
	if err := tx.QueryRowContext(ctx, query).Scan(&version); err != nil {
		return 0, fmt.Errorf("pgstore: read version: %w", err)
	}
	return version, nil
}

// tracked runs write in a transaction holding the version row lock. When
// nobody else wrote since the last Load, seen moves past this write;
// otherwise it is left behind so the next Changed reports true.
func (s *Store) tracked(ctx context.Context, write func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgstore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	before, err := readVersion(ctx, tx, true)
	if err != nil {
		return err
	}
	if err := write(tx); err != nil {
		return err
	}
	after, err := readVersion(ctx, tx, false)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pgstore: commit: %w", err)
	}

	s.mu.Lock()
	if s.seen == before {
		s.seen = after
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) Append(ctx context.Context, o order.Order) error {
	lines, err := json.Marshal(o.Lines)
	if err != nil {
		return fmt.Errorf("pgstore: encode lines %s: %w", o.ID, err)
	}
	history, err := json.Marshal(o.History)
	if err != nil {
		return fmt.Errorf("pgstore: encode history %s: %w", o.ID, err)
	}
	return s.tracked(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO shop_orders (id, created_at, buyer, currency, total, status, lines, history)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			o.ID, o.CreatedAt.UTC(), o.Buyer, o.Currency, o.Total.String(), string(o.Status), string(lines), string(history))
		if isUniqueViolation(err) {
			return ledger.ErrOrderExists
		}
		if err != nil {
			return fmt.Errorf("pgstore: insert %s: %w", o.ID, err)
		}
		return nil
	})
}

// Save replaces status and history and stamps updated_at.
func (s *Store) Save(ctx context.Context, o order.Order) error {
	history, err := json.Marshal(o.History)
	if err != nil {
		return fmt.Errorf("pgstore: encode history %s: %w", o.ID, err)
	}
	return s.tracked(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE shop_orders SET status = $1, history = $2, updated_at = now() WHERE id = $3`,
			string(o.Status), string(history), o.ID)
		if err != nil {
			return fmt.Errorf("pgstore: update %s: %w", o.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("pgstore: update %s: %w", o.ID, err)
		}
		if n == 0 {
			return ledger.ErrOrderMissing
		}
		return nil
	})
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
