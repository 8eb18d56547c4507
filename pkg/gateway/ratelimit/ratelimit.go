// Package ratelimit bounds tool-call traffic per principal: a token bucket
// for request rate plus semaphores for concurrent requests and live
// connections. State is in-memory and single-process.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"
)

type Config struct {
	RPS   float64
	Burst int

	MaxConcurrentRequests int
	MaxLiveConns          int

	// Operational bounds for the in-memory map.
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu sync.Mutex
	m  map[string]*principalLimiter
}

type principalLimiter struct {
	mu sync.Mutex
	tb tokenBucket

	reqSem  chan struct{}
	liveSem chan struct{}

	lastSeen time.Time
}

type tokenBucket struct {
	tokens float64
	last   time.Time
	primed bool
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{
		cfg: cfg,
		m:   make(map[string]*principalLimiter),
	}
}

func PrincipalKeyFromAPIKey(apiKey string) string {
	return "k_" + digest(apiKey)
}

func PrincipalKeyFromIP(ip string) string {
	return "ip_" + digest(ip)
}

func digest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:16])
}

type Permit struct {
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

type Decision struct {
	Allowed    bool
	RetryAfter int
	Permit     *Permit
}

// AcquireRequest charges one token and takes a request slot.
func (l *Limiter) AcquireRequest(principal string, now time.Time) Decision {
	pl := l.entry(principal, now)

	if l.cfg.RPS > 0 && l.cfg.Burst > 0 {
		if ok, retryAfter := pl.take(now, l.cfg.RPS, l.cfg.Burst); !ok {
			return Decision{RetryAfter: retryAfter}
		}
	}
	if l.cfg.MaxConcurrentRequests <= 0 {
		return Decision{Allowed: true, Permit: &Permit{}}
	}
	return acquire(pl.reqSem)
}

// AcquireLive takes a live connection slot. Frames on an open connection
// are charged separately through AcquireRequest.
func (l *Limiter) AcquireLive(principal string, now time.Time) Decision {
	pl := l.entry(principal, now)
	if l.cfg.MaxLiveConns <= 0 {
		return Decision{Allowed: true, Permit: &Permit{}}
	}
	return acquire(pl.liveSem)
}

// Len reports how many principals are tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

func acquire(sem chan struct{}) Decision {
	select {
	case sem <- struct{}{}:
		return Decision{Allowed: true, Permit: &Permit{release: func() { <-sem }}}
	default:
		return Decision{RetryAfter: 1}
	}
}

func (l *Limiter) entry(principal string, now time.Time) *principalLimiter {
	if principal == "" {
		principal = "anonymous"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pl, ok := l.m[principal]
	if !ok {
		if len(l.m) >= l.cfg.MaxEntries {
			l.evictLocked(now)
		}
		pl = &principalLimiter{
			reqSem:  make(chan struct{}, max(1, l.cfg.MaxConcurrentRequests)),
			liveSem: make(chan struct{}, max(1, l.cfg.MaxLiveConns)),
		}
		l.m[principal] = pl
	}
	pl.lastSeen = now
	return pl
}

// evictLocked drops expired entries, then an arbitrary one if the map is
// still full. Bounded memory wins over perfect fairness.
func (l *Limiter) evictLocked(now time.Time) {
	for k, v := range l.m {
		if now.Sub(v.lastSeen) > l.cfg.EntryTTL {
			delete(l.m, k)
		}
	}
	if len(l.m) < l.cfg.MaxEntries {
		return
	}
	for k := range l.m {
		delete(l.m, k)
		break
	}
}

func (pl *principalLimiter) take(now time.Time, rps float64, burst int) (bool, int) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	capacity := float64(burst)
	if !pl.tb.primed {
		pl.tb = tokenBucket{tokens: capacity, last: now, primed: true}
	}
	if elapsed := now.Sub(pl.tb.last).Seconds(); elapsed > 0 {
		pl.tb.tokens = math.Min(capacity, pl.tb.tokens+elapsed*rps)
		pl.tb.last = now
	}
	if pl.tb.tokens >= 1 {
		pl.tb.tokens--
		return true, 0
	}
	retryAfter := int(math.Ceil((1 - pl.tb.tokens) / rps))
	return false, max(1, retryAfter)
}
