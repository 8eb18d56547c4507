// Package bootstrap opens the shared shop resources the binaries start
// from: the catalog and the order ledger behind the configured store.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vango-go/vai-shop/pkg/catalog"
	"github.com/vango-go/vai-shop/pkg/gateway/config"
	"github.com/vango-go/vai-shop/pkg/ledger"
	"github.com/vango-go/vai-shop/pkg/ledger/filestore"
	"github.com/vango-go/vai-shop/pkg/ledger/memstore"
	"github.com/vango-go/vai-shop/pkg/ledger/pgstore"
	"github.com/vango-go/vai-shop/pkg/ledger/sqlitestore"
)

// OpenStore returns the ledger store for cfg.LedgerDriver.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (ledger.Store, error) {
	switch cfg.LedgerDriver {
	case config.LedgerFile, "":
		return filestore.Open(cfg.LedgerPath, filestore.Options{Logger: logger})
	case config.LedgerSQLite:
		return sqlitestore.Open(ctx, sqlitestore.Config{
			Path:     cfg.LedgerPath,
			PoolSize: cfg.SQLitePool,
			Logger:   logger,
		})
	case config.LedgerPostgres:
		return pgstore.Open(ctx, pgstore.Config{DSN: cfg.DatabaseURL, Logger: logger})
	case config.LedgerMemory:
		return memstore.New(nil), nil
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.LedgerDriver)
	}
}

// Open loads the catalog and opens the ledger. Either failing is fatal for
// callers; nothing is left open on error.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*catalog.Catalog, *ledger.Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, nil, err
	}
	store, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s ledger: %w", cfg.LedgerDriver, err)
	}
	l, err := ledger.Open(ctx, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	logger.Info("shop data loaded",
		"catalog", cfg.CatalogPath,
		"items", cat.Len(),
		"ledger_driver", string(cfg.LedgerDriver),
	)
	return cat, l, nil
}
