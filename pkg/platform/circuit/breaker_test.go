package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fail records n failures and returns the last result.
func fail(b *Breaker, n int) (bool, StateChange) {
	var (
		fallback bool
		change   StateChange
	)
	for range n {
		fallback, change = b.RecordFailure()
	}
	return fallback, change
}

func succeed(b *Breaker, n int) (bool, StateChange) {
	var (
		primary bool
		change  StateChange
	)
	for range n {
		primary, change = b.RecordSuccess()
	}
	return primary, change
}

func TestBreakerTransitions(t *testing.T) {
	t.Run("new breaker is closed", func(t *testing.T) {
		b := New("nominatim")
		assert.Equal(t, "nominatim", b.Name())
		assert.Equal(t, StateClosed, b.State())
		assert.Equal(t, "closed", b.State().String())
		assert.True(t, b.Allow())
	})

	t.Run("opens on the threshold failure only", func(t *testing.T) {
		b := New("mapbox", WithFailureThreshold(3))

		fallback, change := fail(b, 2)
		assert.False(t, fallback)
		assert.False(t, change.Opened)

		fallback, change = fail(b, 1)
		assert.True(t, fallback)
		assert.True(t, change.Opened)
		assert.Equal(t, "open", b.State().String())

		fallback, change = fail(b, 1)
		assert.True(t, fallback)
		assert.False(t, change.Opened, "already open")
	})

	t.Run("a success while closed clears the failure streak", func(t *testing.T) {
		b := New("mapbox", WithFailureThreshold(3))
		fail(b, 2)
		succeed(b, 1)
		fail(b, 2)
		assert.False(t, b.IsOpen())
		fail(b, 1)
		assert.True(t, b.IsOpen())
	})

	t.Run("closes after consecutive successes while open", func(t *testing.T) {
		b := New("mapbox", WithFailureThreshold(1), WithSuccessThreshold(3))
		fail(b, 1)

		primary, change := succeed(b, 2)
		assert.False(t, primary)
		assert.False(t, change.Closed)

		fail(b, 1)
		succeed(b, 2)
		assert.True(t, b.IsOpen(), "a failure restarts the success streak")

		primary, change = succeed(b, 1)
		assert.True(t, primary)
		assert.True(t, change.Closed)
		assert.False(t, b.IsOpen())
	})
}

func TestBreakerAllowsProbeAfterCooldown(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	b := New("mapbox", WithFailureThreshold(1), WithCooldown(time.Minute), WithClock(func() time.Time { return now }))

	fail(b, 1)
	assert.False(t, b.Allow(), "open breaker rejects calls inside cooldown")

	now = now.Add(time.Minute)
	assert.True(t, b.Allow(), "open breaker admits a probe after cooldown")
	assert.True(t, b.IsOpen(), "admitting a probe does not close the breaker")

	fail(b, 1)
	assert.False(t, b.Allow(), "a failed probe restarts the cooldown")
}
