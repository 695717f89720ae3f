package monitor

import "sync/atomic"

// Counters aggregates pipeline observability counters. All fields are
// updated atomically by their owning components and read by the metrics
// endpoint and status events.
type Counters struct {
	Steps           atomic.Int64 // frames published
	MissedDeadlines atomic.Int64 // step loop overran its interval
	SimRetries      atomic.Int64 // transient simulator failures retried
	SimFailures     atomic.Int64 // step failures (including retried ones)
	DetectorErrors  atomic.Int64 // non-finite T² or feature mismatch frames
	EventsOpened    atomic.Int64
	EventsClosed    atomic.Int64
}

// CountersSnapshot is the JSON form of Counters.
type CountersSnapshot struct {
	Steps           int64 `json:"steps"`
	MissedDeadlines int64 `json:"missed_deadlines"`
	SimRetries      int64 `json:"sim_retries"`
	SimFailures     int64 `json:"sim_failures"`
	DetectorErrors  int64 `json:"detector_errors"`
	EventsOpened    int64 `json:"events_opened"`
	EventsClosed    int64 `json:"events_closed"`
}

// Snapshot captures the current counter values.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		Steps:           c.Steps.Load(),
		MissedDeadlines: c.MissedDeadlines.Load(),
		SimRetries:      c.SimRetries.Load(),
		SimFailures:     c.SimFailures.Load(),
		DetectorErrors:  c.DetectorErrors.Load(),
		EventsOpened:    c.EventsOpened.Load(),
		EventsClosed:    c.EventsClosed.Load(),
	}
}
