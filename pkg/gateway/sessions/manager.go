// Package sessions keeps the gateway's shopping sessions: one shop.Session
// per conversation, owned by the principal that created it, expired after a
// period of inactivity.
package sessions

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/vai-shop/internal/clock"
	"github.com/vango-go/vai-shop/pkg/core"
	"github.com/vango-go/vai-shop/pkg/shop"
)

const idPrefix = "sess_"

// Factory builds the engine session for a new id.
type Factory func(id string) *shop.Session

type Config struct {
	IdleTimeout time.Duration
	MaxSessions int
	Clock       clock.Clock

	// OnExpire is called after an idle session is dropped.
	OnExpire func(id string)
	// OnCount is called with the new session count after every change.
	OnCount func(n int)
}

type Manager struct {
	cfg     Config
	factory Factory

	mu      sync.Mutex
	entries map[string]*entry

	conns connTracker
}

type entry struct {
	id      string
	owner   string
	session *shop.Session

	// lock serializes tool calls; a buffered channel so waiters can give up
	// when their context ends.
	lock chan struct{}

	// guarded by Manager.mu
	lastUsed time.Time
	live     int
	closed   bool
}

func NewManager(cfg Config, factory Factory) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &Manager{
		cfg:     cfg,
		factory: factory,
		entries: make(map[string]*entry),
		conns:   connTracker{conns: make(map[*liveConn]struct{})},
	}
}

// Create opens a new session owned by owner and returns its id.
func (m *Manager) Create(owner string) (string, error) {
	now := m.cfg.Clock.Now()

	var expired []string
	m.mu.Lock()
	if m.cfg.MaxSessions > 0 && len(m.entries) >= m.cfg.MaxSessions {
		expired = m.expireLocked(now)
	}
	if m.cfg.MaxSessions > 0 && len(m.entries) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		m.notifyExpired(expired)
		return "", &core.Error{
			Type:    core.ErrOverloaded,
			Message: fmt.Sprintf("session limit reached (%d open sessions)", m.cfg.MaxSessions),
			Code:    "too_many_sessions",
		}
	}
	var id string
	for {
		id = idPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
		if _, taken := m.entries[id]; !taken {
			break
		}
	}
	m.entries[id] = &entry{
		id:       id,
		owner:    owner,
		session:  m.factory(id),
		lock:     make(chan struct{}, 1),
		lastUsed: now,
	}
	n := len(m.entries)
	m.mu.Unlock()

	m.notifyExpired(expired)
	m.reportCount(n)
	return id, nil
}

// Do runs fn with exclusive access to the session. Calls on the same
// session run one at a time in arrival order of the lock.
func (m *Manager) Do(ctx context.Context, id, owner string, fn func(*shop.Session) error) error {
	e, err := m.lookup(id, owner)
	if err != nil {
		return err
	}

	select {
	case e.lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.lock }()

	m.mu.Lock()
	closed := e.closed
	m.mu.Unlock()
	if closed {
		return notFound(id)
	}

	defer m.touch(e)
	return fn(e.session)
}

// Touch checks that the session exists and belongs to owner, and resets
// its idle clock.
func (m *Manager) Touch(id, owner string) error {
	_, err := m.lookup(id, owner)
	return err
}

// Delete closes a session. Live connections attached to it are canceled.
func (m *Manager) Delete(id, owner string) error {
	e, err := m.lookup(id, owner)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.removeLocked(e)
	n := len(m.entries)
	m.mu.Unlock()

	m.conns.cancelSession(id)
	m.reportCount(n)
	return nil
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Sweep drops every session idle for longer than the idle timeout and
// returns how many were dropped. Sessions with a live connection or a
// call in progress are kept.
func (m *Manager) Sweep() int {
	if m.cfg.IdleTimeout <= 0 {
		return 0
	}
	m.mu.Lock()
	expired := m.expireLocked(m.cfg.Clock.Now())
	n := len(m.entries)
	m.mu.Unlock()

	m.notifyExpired(expired)
	if len(expired) > 0 {
		m.reportCount(n)
	}
	return len(expired)
}

// Run sweeps on every tick until ctx ends.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || m.cfg.IdleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *Manager) lookup(id, owner string) (*entry, error) {
	now := m.cfg.Clock.Now()

	m.mu.Lock()
	e, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return nil, notFound(id)
	}
	if e.owner != owner {
		m.mu.Unlock()
		return nil, &core.Error{
			Type:    core.ErrPermission,
			Message: "session belongs to a different caller",
			Param:   "session_id",
			Code:    "session_forbidden",
		}
	}
	if m.idleLocked(e, now) && len(e.lock) == 0 {
		m.removeLocked(e)
		n := len(m.entries)
		m.mu.Unlock()
		m.notifyExpired([]string{id})
		m.reportCount(n)
		return nil, notFound(id)
	}
	e.lastUsed = now
	m.mu.Unlock()
	return e, nil
}

func (m *Manager) touch(e *entry) {
	m.mu.Lock()
	e.lastUsed = m.cfg.Clock.Now()
	m.mu.Unlock()
}

func (m *Manager) idleLocked(e *entry, now time.Time) bool {
	return m.cfg.IdleTimeout > 0 && e.live == 0 && now.Sub(e.lastUsed) > m.cfg.IdleTimeout
}

func (m *Manager) expireLocked(now time.Time) []string {
	var expired []string
	for _, e := range m.entries {
		if m.idleLocked(e, now) && len(e.lock) == 0 {
			m.removeLocked(e)
			expired = append(expired, e.id)
		}
	}
	return expired
}

func (m *Manager) removeLocked(e *entry) {
	e.closed = true
	if m.entries[e.id] == e {
		delete(m.entries, e.id)
	}
}

func (m *Manager) notifyExpired(ids []string) {
	if m.cfg.OnExpire == nil {
		return
	}
	for _, id := range ids {
		m.cfg.OnExpire(id)
	}
}

func (m *Manager) reportCount(n int) {
	if m.cfg.OnCount != nil {
		m.cfg.OnCount(n)
	}
}

func notFound(id string) *core.Error {
	return &core.Error{
		Type:    core.ErrNotFound,
		Message: fmt.Sprintf("session %q does not exist or has expired", id),
		Param:   "session_id",
		Code:    "session_not_found",
	}
}
