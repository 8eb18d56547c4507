package ratelimit

import (
	"testing"
	"time"
)

func TestAcquireRequest_TokenBucket(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 2})
	now := time.Now()

	for i := 0; i < 2; i++ {
		if dec := l.AcquireRequest("p1", now); !dec.Allowed {
			t.Fatalf("request %d denied", i)
		}
	}
	dec := l.AcquireRequest("p1", now)
	if dec.Allowed {
		t.Fatal("third request in the same instant should be denied")
	}
	if dec.RetryAfter != 1 {
		t.Fatalf("RetryAfter=%d, want 1", dec.RetryAfter)
	}
	if dec := l.AcquireRequest("p1", now.Add(time.Second)); !dec.Allowed {
		t.Fatal("request after refill should be allowed")
	}
	if dec := l.AcquireRequest("p2", now); !dec.Allowed {
		t.Fatal("other principal should have its own bucket")
	}
}

func TestAcquireRequest_ConcurrencyCap(t *testing.T) {
	l := New(Config{MaxConcurrentRequests: 1})
	now := time.Now()

	first := l.AcquireRequest("p1", now)
	if !first.Allowed || first.Permit == nil {
		t.Fatalf("first allowed=%v permit=%v", first.Allowed, first.Permit)
	}
	if second := l.AcquireRequest("p1", now); second.Allowed {
		t.Fatal("second should be denied while first is held")
	}
	first.Permit.Release()
	first.Permit.Release()
	if third := l.AcquireRequest("p1", now); !third.Allowed {
		t.Fatal("third should be allowed after release")
	}
}

func TestAcquireLive_EnforcesConcurrency(t *testing.T) {
	l := New(Config{MaxLiveConns: 1})
	now := time.Now()

	first := l.AcquireLive("p1", now)
	if !first.Allowed {
		t.Fatal("first live connection denied")
	}
	if second := l.AcquireLive("p1", now); second.Allowed {
		t.Fatal("second live connection should be denied")
	}
	first.Permit.Release()
	if third := l.AcquireLive("p1", now); !third.Allowed {
		t.Fatal("third should be allowed after release")
	}
}

func TestLimiter_BoundsEntries(t *testing.T) {
	l := New(Config{MaxEntries: 2, EntryTTL: time.Minute})
	now := time.Now()

	l.AcquireRequest("a", now)
	l.AcquireRequest("b", now)
	l.AcquireRequest("c", now.Add(2*time.Minute))
	if l.Len() != 1 {
		t.Fatalf("Len=%d, want 1 after expired entries are evicted", l.Len())
	}
}

func TestPrincipalKeys_AreStableAndDistinct(t *testing.T) {
	if PrincipalKeyFromAPIKey("x") != PrincipalKeyFromAPIKey("x") {
		t.Fatal("api key digest not stable")
	}
	if PrincipalKeyFromAPIKey("x") == PrincipalKeyFromIP("x") {
		t.Fatal("api key and ip keys should not collide")
	}
}
