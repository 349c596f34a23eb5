package project

import "sync/atomic"

// Stats holds the per-project failure and throughput counters the engine
// exposes through project/statistics. All fields are word-sized atomics so
// the hot paths never take a lock to count.
type Stats struct {
	Ingests         atomic.Uint64
	DedupSkips      atomic.Uint64
	DroppedEvents   atomic.Uint64
	IOWarnings      atomic.Uint64
	ParseFailures   atomic.Uint64
	ResourceSkips   atomic.Uint64
	IntegrityErrors atomic.Uint64
	ProtocolErrors  atomic.Uint64
	AuthFailures    atomic.Uint64
}

// NewStats returns zeroed counters.
func NewStats() *Stats {
	return &Stats{}
}

// Snapshot copies the counters into a plain map for serialization.
func (s *Stats) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"ingests":          s.Ingests.Load(),
		"dedup_skips":      s.DedupSkips.Load(),
		"dropped_events":   s.DroppedEvents.Load(),
		"io_warnings":      s.IOWarnings.Load(),
		"parse_failures":   s.ParseFailures.Load(),
		"resource_skips":   s.ResourceSkips.Load(),
		"integrity_errors": s.IntegrityErrors.Load(),
		"protocol_errors":  s.ProtocolErrors.Load(),
		"auth_failures":    s.AuthFailures.Load(),
	}
}
