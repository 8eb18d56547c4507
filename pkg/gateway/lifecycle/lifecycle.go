// Package lifecycle holds process state shared across handlers: whether the
// gateway has started draining for shutdown.
package lifecycle

import (
	"sync/atomic"
	"time"
)

type Lifecycle struct {
	draining atomic.Bool
	since    atomic.Int64
}

// BeginDrain marks the gateway as draining. It reports whether this call
// started the drain.
func (l *Lifecycle) BeginDrain(now time.Time) bool {
	if l == nil {
		return false
	}
	if !l.draining.CompareAndSwap(false, true) {
		return false
	}
	l.since.Store(now.UnixNano())
	return true
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

// DrainingFor returns how long the gateway has been draining, zero if it
// is not.
func (l *Lifecycle) DrainingFor(now time.Time) time.Duration {
	if !l.IsDraining() {
		return 0
	}
	return now.Sub(time.Unix(0, l.since.Load()))
}
