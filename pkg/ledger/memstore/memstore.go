// Package memstore is a ledger.Store that lives only in memory. It backs
// tests and ephemeral gateways started with SHOP_LEDGER_DRIVER=memory.
package memstore

import (
	"context"
	"errors"
	"sync"

	"github.com/vango-go/vai-shop/pkg/ledger"
	"github.com/vango-go/vai-shop/pkg/order"
)

var errClosed = errors.New("memstore: closed")

type Store struct {
	mu      sync.Mutex
	orders  []order.Order
	recipes map[string][]string
	closed  bool

	failWrites error
}

// New returns a store seeded with recipes. A nil table uses
// ledger.DefaultRecipes.
func New(recipes map[string][]string) *Store {
	if recipes == nil {
		recipes = ledger.DefaultRecipes()
	}
	return &Store{recipes: ledger.CloneRecipes(recipes)}
}

func (s *Store) Load(ctx context.Context) (ledger.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ledger.Snapshot{}, errClosed
	}
	orders := make([]order.Order, len(s.orders))
	for i, o := range s.orders {
		orders[i] = o.Clone()
	}
	return ledger.Snapshot{Orders: orders, Recipes: ledger.CloneRecipes(s.recipes)}, nil
}

func (s *Store) Append(ctx context.Context, o order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}
	for _, existing := range s.orders {
		if existing.ID == o.ID {
			return ledger.ErrOrderExists
		}
	}
	s.orders = append(s.orders, o.Clone())
	return nil
}

func (s *Store) Save(ctx context.Context, o order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writable(); err != nil {
		return err
	}
	for i, existing := range s.orders {
		if existing.ID == o.ID {
			s.orders[i] = o.Clone()
			return nil
		}
	}
	return ledger.ErrOrderMissing
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// SetFailWrites makes Append and Save return err without storing anything
// until it is called again with nil.
func (s *Store) SetFailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = err
}

func (s *Store) writable() error {
	if s.closed {
		return errClosed
	}
	return s.failWrites
}
