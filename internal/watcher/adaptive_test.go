package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdaptive(base, max time.Duration) (*AdaptiveDebouncer, *time.Time) {
	a := NewAdaptiveDebouncer(base, max)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return clock }
	return a, &clock
}

func TestAdaptiveDebouncer_BaseWindowAtLowRate(t *testing.T) {
	a, clock := newTestAdaptive(500*time.Millisecond, 5*time.Second)
	defer a.Stop()

	// A handful of events spread over the rolling window stays at base.
	for i := 0; i < 5; i++ {
		a.Add(Event{Path: "a.go", Op: OpModify, At: *clock})
		*clock = clock.Add(2 * time.Second)
	}

	assert.Equal(t, 500*time.Millisecond, a.CurrentWindow())
}

func TestAdaptiveDebouncer_MaxWindowUnderSustainedLoad(t *testing.T) {
	a, clock := newTestAdaptive(500*time.Millisecond, 5*time.Second)
	defer a.Stop()

	// >= 50 events/sec over the 10s rolling window means >= 500 stamps.
	for i := 0; i < 600; i++ {
		a.Add(Event{Path: "a.go", Op: OpModify, At: *clock})
		*clock = clock.Add(10 * time.Millisecond)
	}

	assert.Equal(t, 5*time.Second, a.CurrentWindow())
}

func TestAdaptiveDebouncer_LinearRampBetweenEndpoints(t *testing.T) {
	a, clock := newTestAdaptive(500*time.Millisecond, 5*time.Second)
	defer a.Stop()

	// ~27.5 events/sec is the midpoint of the 5..50 ramp: 275 events in 10s.
	for i := 0; i < 275; i++ {
		a.Add(Event{Path: "a.go", Op: OpModify, At: *clock})
		*clock = clock.Add(time.Duration(10*time.Second) / 275)
	}

	w := a.CurrentWindow()
	assert.Greater(t, w, 500*time.Millisecond)
	assert.Less(t, w, 5*time.Second)
}

func TestAdaptiveDebouncer_RateDecaysAsWindowSlides(t *testing.T) {
	a, clock := newTestAdaptive(500*time.Millisecond, 5*time.Second)
	defer a.Stop()

	for i := 0; i < 600; i++ {
		a.Add(Event{Path: "a.go", Op: OpModify, At: *clock})
		*clock = clock.Add(10 * time.Millisecond)
	}
	require.Equal(t, 5*time.Second, a.CurrentWindow())

	// A long quiet period followed by one event drops back to base.
	*clock = clock.Add(time.Minute)
	a.Add(Event{Path: "a.go", Op: OpModify, At: *clock})
	assert.Equal(t, 500*time.Millisecond, a.CurrentWindow())
}

func TestAdaptiveDebouncer_MaxBelowBaseClamped(t *testing.T) {
	a := NewAdaptiveDebouncer(time.Second, 100*time.Millisecond)
	defer a.Stop()
	assert.Equal(t, time.Second, a.windowFor(1000))
}

func TestAdaptiveDebouncer_StillCoalesces(t *testing.T) {
	a := NewAdaptiveDebouncer(20*time.Millisecond, time.Second)
	defer a.Stop()

	a.Add(Event{Path: "b.go", Op: OpCreate, At: time.Now()})
	a.Add(Event{Path: "b.go", Op: OpModify, At: time.Now()})

	select {
	case batch := <-a.Output():
		require.Len(t, batch, 1)
		assert.Equal(t, OpCreate, batch[0].Op)
	case <-time.After(2 * time.Second):
		t.Fatal("debouncer never flushed")
	}
}
