package watcher

import (
	"sync"
	"time"
)

// AdaptiveDebouncer wraps a Debouncer and widens its window under sustained
// event load: the window ramps linearly from the base (at or below
// lowRate events/sec) to the max (at or above highRate events/sec), measured
// over a rolling window. A burst of editor saves therefore coalesces into
// fewer, larger batches instead of thrashing the ingest pipeline.
type AdaptiveDebouncer struct {
	*Debouncer

	base time.Duration
	max  time.Duration

	mu     sync.Mutex
	stamps []time.Time // event arrival times within the rolling window
	now    func() time.Time
}

const (
	// rollingWindow is the measurement period for the event rate.
	rollingWindow = 10 * time.Second

	// lowRate is the events/sec at or below which the base window applies.
	lowRate = 5.0

	// highRate is the events/sec at or above which the max window applies.
	highRate = 50.0
)

// NewAdaptiveDebouncer creates a debouncer whose window adapts between base
// and max according to the observed event rate.
func NewAdaptiveDebouncer(base, max time.Duration) *AdaptiveDebouncer {
	if max < base {
		max = base
	}
	return &AdaptiveDebouncer{
		Debouncer: NewDebouncer(base),
		base:      base,
		max:       max,
		now:       time.Now,
	}
}

// Add records the event for rate tracking, retunes the window, and hands the
// event to the underlying Debouncer.
func (a *AdaptiveDebouncer) Add(event Event) {
	a.mu.Lock()
	now := a.now()
	a.stamps = append(a.stamps, now)
	a.prune(now)
	rate := float64(len(a.stamps)) / rollingWindow.Seconds()
	a.mu.Unlock()

	a.SetWindow(a.windowFor(rate))
	a.Debouncer.Add(event)
}

// CurrentWindow returns the window the next Add would schedule with.
func (a *AdaptiveDebouncer) CurrentWindow() time.Duration {
	return a.Window()
}

// windowFor maps an event rate onto a debounce window: base at or below
// lowRate, max at or above highRate, linear in between.
func (a *AdaptiveDebouncer) windowFor(rate float64) time.Duration {
	switch {
	case rate <= lowRate:
		return a.base
	case rate >= highRate:
		return a.max
	}
	frac := (rate - lowRate) / (highRate - lowRate)
	return a.base + time.Duration(frac*float64(a.max-a.base))
}

// prune drops stamps older than the rolling window. Caller holds a.mu.
func (a *AdaptiveDebouncer) prune(now time.Time) {
	cutoff := now.Add(-rollingWindow)
	i := 0
	for i < len(a.stamps) && a.stamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		a.stamps = append(a.stamps[:0], a.stamps[i:]...)
	}
}
