package sessions

import (
	"context"
	"sync"
)

// Handle lets the manager reach a live connection from outside its
// goroutine.
type Handle struct {
	Cancel func()
	Warn   func(code, message string) error
}

type liveConn struct {
	sessionID string
	handle    Handle
	once      sync.Once
}

type connTracker struct {
	mu    sync.Mutex
	conns map[*liveConn]struct{}
	wg    sync.WaitGroup
}

// Attach registers a live connection on a session. While attached the
// session does not expire. The returned detach func is idempotent.
func (m *Manager) Attach(id, owner string, h Handle) (detach func(), err error) {
	e, err := m.lookup(id, owner)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if e.closed {
		m.mu.Unlock()
		return nil, notFound(id)
	}
	e.live++
	m.mu.Unlock()

	c := &liveConn{sessionID: id, handle: h}
	m.conns.mu.Lock()
	m.conns.conns[c] = struct{}{}
	m.conns.wg.Add(1)
	m.conns.mu.Unlock()

	return func() {
		c.once.Do(func() {
			m.conns.mu.Lock()
			delete(m.conns.conns, c)
			m.conns.mu.Unlock()
			m.conns.wg.Done()

			m.mu.Lock()
			e.live--
			e.lastUsed = m.cfg.Clock.Now()
			m.mu.Unlock()
		})
	}, nil
}

// LiveCount reports the number of attached live connections.
func (m *Manager) LiveCount() int {
	m.conns.mu.Lock()
	defer m.conns.mu.Unlock()
	return len(m.conns.conns)
}

// WarnAll sends a best-effort warning to every live connection.
func (m *Manager) WarnAll(code, message string) (sent int) {
	for _, h := range m.conns.handles("") {
		if h.Warn == nil {
			continue
		}
		_ = h.Warn(code, message)
		sent++
	}
	return sent
}

// CancelAll cancels every live connection.
func (m *Manager) CancelAll() (canceled int) {
	for _, h := range m.conns.handles("") {
		if h.Cancel == nil {
			continue
		}
		h.Cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every live connection has detached or ctx ends.
func (m *Manager) Wait(ctx context.Context) bool {
	if ctx == nil {
		m.conns.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.conns.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (t *connTracker) cancelSession(id string) {
	for _, h := range t.handles(id) {
		if h.Cancel != nil {
			h.Cancel()
		}
	}
}

func (t *connTracker) handles(sessionID string) []Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Handle, 0, len(t.conns))
	for c := range t.conns {
		if sessionID != "" && c.sessionID != sessionID {
			continue
		}
		out = append(out, c.handle)
	}
	return out
}
