// Command shopctl inspects the shop's catalog and order ledger from the
// terminal and runs ledger schema migrations.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/spf13/pflag"

	"github.com/vango-go/vai-shop/internal/bootstrap"
	"github.com/vango-go/vai-shop/internal/clock"
	"github.com/vango-go/vai-shop/internal/dotenv"
	"github.com/vango-go/vai-shop/pkg/catalog"
	"github.com/vango-go/vai-shop/pkg/gateway/config"
	"github.com/vango-go/vai-shop/pkg/ledger"
	"github.com/vango-go/vai-shop/pkg/ledger/pgstore"
	"github.com/vango-go/vai-shop/pkg/order"
	"github.com/vango-go/vai-shop/pkg/shop"
)

const usage = `Usage: shopctl <command> [flags]

Commands:
  catalog    list catalog items (--category, --tag, --query, --json)
  recipes    list dish bundles
  orders     list recent orders with their current status (--limit, --json)
  track      advance and show one order (default: most recent)
  migrate    open the configured ledger and apply its schema

Configuration comes from SHOP_* environment variables and .env.
`

// errUsage marks errors that should be followed by the usage text.
var errUsage = errors.New("usage")

type app struct {
	stdout     io.Writer
	stderr     io.Writer
	loadConfig func() (config.Config, error)
	openShop   func(context.Context, config.Config, *slog.Logger) (*catalog.Catalog, *ledger.Ledger, error)
	openStore  func(context.Context, config.Config, *slog.Logger) (ledger.Store, error)
	clock      clock.Clock
	logger     *slog.Logger
}

func defaultApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:     stdout,
		stderr:     stderr,
		loadConfig: config.LoadFromEnv,
		openShop:   bootstrap.Open,
		openStore:  bootstrap.OpenStore,
		clock:      clock.Real(),
		logger:     slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}
}

func (a *app) run(ctx context.Context, args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		fmt.Fprint(a.stdout, usage)
		return 0
	}

	var err error
	switch cmd, rest := args[0], args[1:]; cmd {
	case "catalog":
		err = a.catalog(ctx, rest)
	case "recipes":
		err = a.recipes(ctx, rest)
	case "orders":
		err = a.orders(ctx, rest)
	case "track":
		err = a.track(ctx, rest)
	case "migrate":
		err = a.migrate(ctx, rest)
	default:
		err = fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
	if err == nil {
		return 0
	}
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	fmt.Fprintf(a.stderr, "shopctl: %v\n", err)
	if errors.Is(err, errUsage) {
		fmt.Fprint(a.stderr, usage)
		return 2
	}
	return 1
}

func (a *app) flagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

func (a *app) parse(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

// open loads config and shop data. The caller closes the ledger.
func (a *app) open(ctx context.Context) (config.Config, *catalog.Catalog, *ledger.Ledger, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("load config: %w", err)
	}
	cat, l, err := a.openShop(ctx, cfg, a.logger)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	return cfg, cat, l, nil
}

func (a *app) session(cfg config.Config, cat *catalog.Catalog, l *ledger.Ledger) *shop.Session {
	return shop.NewSession("shopctl", cat, l, shop.Options{
		StatusInterval: cfg.StatusInterval,
		Currency:       cfg.Currency,
		SearchLimit:    cfg.SearchLimit,
		HistoryLimit:   cfg.HistoryLimit,
		Clock:          a.clock,
		Logger:         a.logger,
	})
}

func (a *app) catalog(ctx context.Context, args []string) error {
	fs := a.flagSet("catalog")
	category := fs.String("category", "", "only items in this category")
	tags := fs.StringSlice("tag", nil, "only items carrying every tag (repeatable)")
	query := fs.StringP("query", "q", "", "substring to match against names, brands and tags")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := a.parse(fs, args); err != nil {
		return err
	}

	cfg, cat, l, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	res := cat.Search(catalog.Query{Text: *query, Category: *category, Tags: *tags})
	items := make([]catalog.Item, 0, len(res.Matches))
	for _, m := range res.Matches {
		items = append(items, m.Item)
	}
	if *query == "" {
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].Category != items[j].Category {
				return items[i].Category < items[j].Category
			}
			return items[i].Name < items[j].Name
		})
	}
	if *asJSON {
		return writeJSON(a.stdout, items)
	}
	if len(items) == 0 {
		fmt.Fprintln(a.stdout, "No items match.")
		return nil
	}
	renderItems(a.stdout, items, cfg.Currency)
	return nil
}

func (a *app) recipes(ctx context.Context, args []string) error {
	fs := a.flagSet("recipes")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := a.parse(fs, args); err != nil {
		return err
	}

	cfg, cat, l, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	res, err := a.session(cfg, cat, l).Recipes(ctx)
	if err != nil {
		return err
	}
	if *asJSON {
		return writeJSON(a.stdout, res.Recipes)
	}
	renderRecipes(a.stdout, res, cat)
	return nil
}

func (a *app) orders(ctx context.Context, args []string) error {
	fs := a.flagSet("orders")
	limit := fs.IntP("limit", "n", 10, "how many orders to show, newest first")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := a.parse(fs, args); err != nil {
		return err
	}
	if *limit <= 0 {
		return fmt.Errorf("%w: --limit must be > 0", errUsage)
	}

	cfg, cat, l, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	hist, err := a.session(cfg, cat, l).OrderHistory(ctx, *limit)
	if errors.Is(err, shop.ErrNoOrderHistory) {
		if *asJSON {
			return writeJSON(a.stdout, []order.Order{})
		}
		fmt.Fprintln(a.stdout, "No orders yet.")
		return nil
	}
	if err != nil {
		return err
	}

	// Display the status each order has reached by now without writing it
	// back; track persists.
	now := a.clock.Now()
	current := make([]order.Order, len(hist.Orders))
	for i, o := range hist.Orders {
		current[i], _ = order.Advance(o, now, cfg.StatusInterval)
	}
	if *asJSON {
		return writeJSON(a.stdout, current)
	}
	renderOrders(a.stdout, current, hist.Total)
	return nil
}

func (a *app) track(ctx context.Context, args []string) error {
	fs := a.flagSet("track")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := a.parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() > 1 {
		return fmt.Errorf("%w: track takes at most one order id", errUsage)
	}

	cfg, cat, l, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	res, err := a.session(cfg, cat, l).TrackOrder(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	if *asJSON {
		return writeJSON(a.stdout, res)
	}
	renderTrack(a.stdout, res)
	return nil
}

func (a *app) migrate(ctx context.Context, args []string) error {
	fs := a.flagSet("migrate")
	if err := a.parse(fs, args); err != nil {
		return err
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := a.openStore(ctx, cfg, a.logger)
	if err != nil {
		return fmt.Errorf("open %s ledger: %w", cfg.LedgerDriver, err)
	}
	defer store.Close()

	if pg, ok := store.(*pgstore.Store); ok {
		v, err := pgstore.MigrationVersion(ctx, pg.DB())
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "postgres ledger at schema version %d\n", v)
		return nil
	}
	snap, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	fmt.Fprintf(a.stdout, "%s ledger ready: %d orders, %d recipes\n", cfg.LedgerDriver, len(snap.Orders), len(snap.Recipes))
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	stdout, stderr := os.Stdout, os.Stderr
	if err := dotenv.LoadFiles(".env.local", ".env"); err != nil {
		fmt.Fprintf(stderr, "shopctl: %v\n", err)
		os.Exit(1)
	}
	os.Exit(defaultApp(stdout, stderr).run(context.Background(), os.Args[1:]))
}

func joinNonEmpty(sep string, parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
