package executor

import (
	"sync"
	"time"
)

// Breaker defaults. A provider that fails breakerThreshold times in a row is
// skipped by the failover loop until breakerResetAfter has passed, then given
// one probe attempt.
const (
	breakerThreshold  = 5
	breakerResetAfter = 30 * time.Second
)

// breaker is a minimal per-provider circuit. Skipping an open provider is not
// an attempt: no adapter call is made and no execution log entry is written.
type breaker struct {
	mu        sync.Mutex
	failures  int
	openUntil time.Time
	probing   bool
}

// allow reports whether the provider may be tried. While open it returns
// false until the reset window elapses, then admits a single probe.
func (b *breaker) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < breakerThreshold {
		return true
	}
	if now.Before(b.openUntil) {
		return false
	}
	if b.probing {
		return false
	}
	b.probing = true
	return true
}

// record feeds one attempt outcome back. Success closes the circuit; a failed
// probe re-opens it for another window.
func (b *breaker) record(ok bool, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	if ok {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= breakerThreshold {
		b.openUntil = now.Add(breakerResetAfter)
	}
}
