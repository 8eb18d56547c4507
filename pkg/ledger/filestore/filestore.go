// Package filestore keeps the ledger in a single document on disk, in JSON
// by default or CBOR when the path ends in ".cbor". Every mutation rewrites
// the whole document through a temp file and rename. A BLAKE3 digest of the
// bytes last read or written lets the ledger notice hand edits and reload.
//
// Two processes sharing one file get last-writer-wins semantics; use the
// sqlite or postgres store when that matters.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/vango-go/vai-shop/pkg/ledger"
	"github.com/vango-go/vai-shop/pkg/order"
)

type Options struct {
	// Recipes seeds a file that does not exist yet. Nil uses
	// ledger.DefaultRecipes.
	Recipes map[string][]string
	Logger  *slog.Logger
}

type Store struct {
	path     string
	encoding Encoding
	logger   *slog.Logger

	mu     sync.Mutex
	snap   ledger.Snapshot
	digest [32]byte
}

// Open reads path, creating it with the seed recipes if it does not exist.
// A file that exists but cannot be parsed is an error.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("filestore: path is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Store{path: path, encoding: EncodingFor(path), logger: logger}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		recipes := opts.Recipes
		if recipes == nil {
			recipes = ledger.DefaultRecipes()
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("filestore: create dir: %w", err)
		}
		s.snap = ledger.Snapshot{Orders: []order.Order{}, Recipes: ledger.CloneRecipes(recipes)}
		if err := s.writeLocked(s.snap); err != nil {
			return nil, err
		}
		logger.Info("ledger file created", "path", path, "recipes", len(recipes))
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("filestore: read %s: %w", path, err)
	}

	snap, err := decode(s.encoding, data)
	if err != nil {
		return nil, fmt.Errorf("filestore: parse %s: %w", path, err)
	}
	s.snap = snap
	s.digest = blake3.Sum256(data)
	return s, nil
}

func (s *Store) Path() string { return s.path }

// Load re-reads the file so hand edits are picked up.
func (s *Store) Load(ctx context.Context) (ledger.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("filestore: read %s: %w", s.path, err)
	}
	snap, err := decode(s.encoding, data)
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("filestore: parse %s: %w", s.path, err)
	}
	s.snap = snap
	s.digest = blake3.Sum256(data)
	return cloneSnapshot(snap), nil
}

// Changed reports whether the file differs from what this store last read
// or wrote.
func (s *Store) Changed(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return false, fmt.Errorf("filestore: read %s: %w", s.path, err)
	}
	sum := blake3.Sum256(data)
	return sum != s.digest, nil
}

func (s *Store) Append(ctx context.Context, o order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.snap.Orders {
		if existing.ID == o.ID {
			return ledger.ErrOrderExists
		}
	}
	next := cloneSnapshot(s.snap)
	next.Orders = append(next.Orders, o.Clone())
	if err := s.writeLocked(next); err != nil {
		return err
	}
	s.snap = next
	return nil
}

func (s *Store) Save(ctx context.Context, o order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneSnapshot(s.snap)
	for i, existing := range next.Orders {
		if existing.ID != o.ID {
			continue
		}
		next.Orders[i] = o.Clone()
		if err := s.writeLocked(next); err != nil {
			return err
		}
		s.snap = next
		return nil
	}
	return ledger.ErrOrderMissing
}

func (s *Store) Close() error { return nil }

// writeLocked replaces the file atomically and records its digest.
func (s *Store) writeLocked(snap ledger.Snapshot) (err error) {
	data, err := encode(s.encoding, snap)
	if err != nil {
		return fmt.Errorf("filestore: encode: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("filestore: create temp: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("filestore: write: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("filestore: sync: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("filestore: close: %w", err)
	}
	if err = os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("filestore: rename: %w", err)
	}
	s.digest = blake3.Sum256(data)
	s.logger.Debug("ledger file written", "path", s.path, "orders", len(snap.Orders), "bytes", len(data))
	return nil
}

func cloneSnapshot(in ledger.Snapshot) ledger.Snapshot {
	out := ledger.Snapshot{
		Orders:  make([]order.Order, len(in.Orders)),
		Recipes: ledger.CloneRecipes(in.Recipes),
	}
	for i, o := range in.Orders {
		out.Orders[i] = o.Clone()
	}
	return out
}
