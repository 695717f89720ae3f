package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DispatchState tracks what the LLM dispatcher has done with an event.
type DispatchState string

const (
	DispatchPending    DispatchState = "pending"
	DispatchInFlight   DispatchState = "in_flight"
	DispatchCompleted  DispatchState = "completed"
	DispatchSuppressed DispatchState = "suppressed"
)

// AnomalyEvent is a contiguous run of anomalous frames, materialized once the
// detector has flagged N consecutive frames.
type AnomalyEvent struct {
	ID            string         `json:"event_id"`
	StartStep     int64          `json:"start_step"`
	EndStep       int64          `json:"end_step"` // -1 while the event is open
	PeakT2        float64        `json:"peak_t2"`
	PeakStep      int64          `json:"peak_step"`
	TopFeatures   []FeatureShare `json:"top_features"`
	DispatchState DispatchState  `json:"dispatch_state"`
	OpenedAt      time.Time      `json:"opened_at"`
}

// EventTransition reports what Observe did to the event state.
type EventTransition int

const (
	TransitionNone EventTransition = iota
	TransitionOpened
	TransitionClosed
)

// DefaultNConsec is the consecutive-frame persistence required to open or
// close an event.
const DefaultNConsec = 2

// EventTracker turns per-frame detector results into anomaly events. An event
// opens after nConsec consecutive anomalous frames and closes after nConsec
// consecutive normal frames (symmetric persistence). While open, per-feature
// contributions accumulate as running means and TopFeatures is the running
// top-K. The driver is the only caller of Observe; the dispatcher and status
// endpoint read concurrently, so all methods take the tracker lock.
type EventTracker struct {
	mu      sync.Mutex
	nConsec int
	topK    int
	names   []string

	consecAnom int
	consecNorm int
	active     *AnomalyEvent
	last       *AnomalyEvent // most recently closed event

	contribSum []float64
	samples    int

	lastTransition time.Time
}

// NewEventTracker creates a tracker over the model's feature name order.
func NewEventTracker(names []string, nConsec, topK int) *EventTracker {
	if nConsec <= 0 {
		nConsec = DefaultNConsec
	}
	if topK <= 0 {
		topK = 6
	}
	return &EventTracker{
		nConsec: nConsec,
		topK:    topK,
		names:   append([]string(nil), names...),
	}
}

// Observe feeds one detector result. raw is the full per-feature contribution
// vector in model order; it may be nil for error frames, which count as
// neither anomalous nor normal.
func (t *EventTracker) Observe(step int64, t2 float64, anomaly, errFrame bool, raw []float64) EventTransition {
	t.mu.Lock()
	defer t.mu.Unlock()
	if errFrame {
		return TransitionNone
	}
	if anomaly {
		t.consecAnom++
		t.consecNorm = 0
	} else {
		t.consecNorm++
		t.consecAnom = 0
	}

	if t.active == nil {
		if t.consecAnom >= t.nConsec {
			t.active = &AnomalyEvent{
				ID:            uuid.NewString(),
				StartStep:     step,
				EndStep:       -1,
				PeakT2:        t2,
				PeakStep:      step,
				DispatchState: DispatchPending,
				OpenedAt:      time.Now(),
			}
			t.contribSum = make([]float64, len(t.names))
			t.samples = 0
			t.accumulate(step, t2, raw)
			t.lastTransition = time.Now()
			return TransitionOpened
		}
		return TransitionNone
	}

	if anomaly {
		t.accumulate(step, t2, raw)
		return TransitionNone
	}
	if t.consecNorm >= t.nConsec {
		t.active.EndStep = step
		t.last = t.active
		t.active = nil
		t.lastTransition = time.Now()
		return TransitionClosed
	}
	return TransitionNone
}

func (t *EventTracker) accumulate(step int64, t2 float64, raw []float64) {
	if t2 > t.active.PeakT2 {
		t.active.PeakT2 = t2
		t.active.PeakStep = step
	}
	if len(raw) == len(t.contribSum) {
		for i, c := range raw {
			t.contribSum[i] += c
		}
		t.samples++
	}
	t.active.TopFeatures = t.topShares()
}

// topShares ranks the running-mean contributions and returns the top-K with
// normalized shares.
func (t *EventTracker) topShares() []FeatureShare {
	if t.samples == 0 {
		return nil
	}
	var total float64
	for _, s := range t.contribSum {
		total += s
	}
	if total <= 0 {
		return nil
	}
	idx := make([]int, len(t.contribSum))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return t.contribSum[idx[a]] > t.contribSum[idx[b]] })
	k := t.topK
	if k > len(idx) {
		k = len(idx)
	}
	out := make([]FeatureShare, 0, k)
	for _, i := range idx[:k] {
		out = append(out, FeatureShare{Name: t.names[i], Share: t.contribSum[i] / total})
	}
	return out
}

// Active returns a copy of the open event, or nil.
func (t *EventTracker) Active() *AnomalyEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copyEvent(t.active)
}

// Last returns a copy of the most recently closed event, or nil.
func (t *EventTracker) Last() *AnomalyEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copyEvent(t.last)
}

// LastTransition is the wall time of the most recent open or close.
func (t *EventTracker) LastTransition() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastTransition
}

// SetDispatchState records dispatcher progress on the active event.
func (t *EventTracker) SetDispatchState(eventID string, s DispatchState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active != nil && t.active.ID == eventID {
		t.active.DispatchState = s
	}
	if t.last != nil && t.last.ID == eventID {
		t.last.DispatchState = s
	}
}

// Reset discards all state, including any open event. Used on baseline
// reload so contributions from different models never mix.
func (t *EventTracker) Reset(names []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.names = append([]string(nil), names...)
	t.consecAnom = 0
	t.consecNorm = 0
	t.active = nil
	t.contribSum = nil
	t.samples = 0
}

func copyEvent(e *AnomalyEvent) *AnomalyEvent {
	if e == nil {
		return nil
	}
	c := *e
	c.TopFeatures = append([]FeatureShare(nil), e.TopFeatures...)
	return &c
}
