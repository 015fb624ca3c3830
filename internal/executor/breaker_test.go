package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := &breaker{}
	now := time.Now()

	for i := 0; i < breakerThreshold; i++ {
		assert.True(t, b.allow(now))
		b.record(false, now)
	}
	assert.False(t, b.allow(now))
}

func TestBreaker_SuccessResets(t *testing.T) {
	b := &breaker{}
	now := time.Now()

	for i := 0; i < breakerThreshold-1; i++ {
		b.record(false, now)
	}
	b.record(true, now)

	for i := 0; i < breakerThreshold-1; i++ {
		b.record(false, now)
	}
	assert.True(t, b.allow(now))
}

func TestBreaker_ProbeAfterReset(t *testing.T) {
	b := &breaker{}
	start := time.Now()

	for i := 0; i < breakerThreshold; i++ {
		b.record(false, start)
	}
	assert.False(t, b.allow(start))

	later := start.Add(breakerResetAfter + time.Second)
	assert.True(t, b.allow(later), "one probe is admitted after the window")
	assert.False(t, b.allow(later), "no second concurrent probe")

	// A failed probe re-opens the circuit.
	b.record(false, later)
	assert.False(t, b.allow(later.Add(time.Second)))

	// A successful probe closes it.
	evenLater := later.Add(breakerResetAfter + 2*time.Second)
	assert.True(t, b.allow(evenLater))
	b.record(true, evenLater)
	assert.True(t, b.allow(evenLater))
}
