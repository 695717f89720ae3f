package llm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tep-monitor/tep-monitor/monitor"
	"github.com/tep-monitor/tep-monitor/monitor/store"
	"github.com/tep-monitor/tep-monitor/monitor/stream"
)

// DispatcherConfig tunes the dispatch worker.
type DispatcherConfig struct {
	QueueSize        int           // bounded trigger queue (default 16)
	MinInterval      time.Duration // minimum gap between dispatch windows (default 70s)
	JaccardThreshold float64       // re-dispatch gate within an event (default 1.0 = suppress only an unchanged set)
	ProviderTimeout  time.Duration // per-provider call deadline (default 30s)
	MaxTokens        int
	Temperature      float64
}

func (c *DispatcherConfig) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 16
	}
	if c.MinInterval <= 0 {
		c.MinInterval = 70 * time.Second
	}
	if c.JaccardThreshold <= 0 {
		c.JaccardThreshold = 1.0
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 30 * time.Second
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
}

// EventStateSetter receives dispatch-state updates for anomaly events.
type EventStateSetter interface {
	SetDispatchState(eventID string, s monitor.DispatchState)
}

// Stats is a snapshot of dispatcher counters for the metrics endpoint.
type Stats struct {
	QueueDepth        int       `json:"queue_depth"`
	Enqueued          int64     `json:"enqueued"`
	Coalesced         int64     `json:"coalesced"`
	SuppressedJaccard int64     `json:"suppressed_jaccard"`
	RejectedQueueFull int64     `json:"rejected_queue_full"`
	Completed         int64     `json:"completed"`
	Suppressed        int64     `json:"suppressed"`
	LastDispatchAt    time.Time `json:"last_dispatch_at"`
}

// Dispatcher owns the single LLM work queue. Triggers are debounced: at most
// one dispatch fires per MinInterval window, and triggers arriving inside an
// open window are coalesced so the dispatch uses the latest context. Within a
// dispatch, all configured providers are called in parallel; the combined
// result is persisted as one AnalysisRecord.
type Dispatcher struct {
	providers []Provider
	store     *store.Store
	bus       *stream.Broadcaster
	events    EventStateSetter

	queue chan monitor.DispatchContext
	stop  chan struct{} // wakes the worker when CancelPending fires mid-window

	mu             sync.Mutex
	cfg            DispatcherConfig
	windowStart    time.Time // opening trigger time of the last dispatch window
	lastEventID    string
	lastFeatures   map[string]struct{}
	inflightCancel context.CancelFunc // cancels provider calls of the running dispatch

	cancelGen atomic.Uint64 // bumped by CancelPending; windows opened before a bump are void

	enqueued          atomic.Int64
	coalesced         atomic.Int64
	suppressedJaccard atomic.Int64
	rejectedFull      atomic.Int64
	completed         atomic.Int64
	suppressed        atomic.Int64
	lastDispatchUnix  atomic.Int64
}

// NewDispatcher wires a dispatcher. events may be nil.
func NewDispatcher(cfg DispatcherConfig, providers []Provider, st *store.Store, bus *stream.Broadcaster, events EventStateSetter) *Dispatcher {
	cfg.applyDefaults()
	return &Dispatcher{
		providers: providers,
		store:     st,
		bus:       bus,
		events:    events,
		queue:     make(chan monitor.DispatchContext, cfg.QueueSize),
		stop:      make(chan struct{}, 1),
		cfg:       cfg,
	}
}

// SetMinInterval changes the debounce interval at runtime.
func (d *Dispatcher) SetMinInterval(iv time.Duration) {
	if iv <= 0 {
		return
	}
	d.mu.Lock()
	d.cfg.MinInterval = iv
	d.mu.Unlock()
}

// SetJaccardThreshold changes the within-event re-dispatch gate at runtime.
func (d *Dispatcher) SetJaccardThreshold(j float64) {
	d.mu.Lock()
	d.cfg.JaccardThreshold = j
	d.mu.Unlock()
}

// Stats returns a counter snapshot.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		QueueDepth:        len(d.queue),
		Enqueued:          d.enqueued.Load(),
		Coalesced:         d.coalesced.Load(),
		SuppressedJaccard: d.suppressedJaccard.Load(),
		RejectedQueueFull: d.rejectedFull.Load(),
		Completed:         d.completed.Load(),
		Suppressed:        d.suppressed.Load(),
		LastDispatchAt:    time.Unix(0, d.lastDispatchUnix.Load()),
	}
}

// Trigger requests an analysis for dc. It never blocks: inside an event,
// triggers whose top-feature set has not changed enough are suppressed, and a
// full queue rejects the trigger.
func (d *Dispatcher) Trigger(dc monitor.DispatchContext) {
	d.mu.Lock()
	gate := d.cfg.JaccardThreshold
	sameEvent := dc.EventActive && dc.EventID == d.lastEventID && d.lastFeatures != nil
	var sim float64
	if sameEvent {
		sim = jaccard(featureSet(dc.TopFeatures), d.lastFeatures)
	}
	d.mu.Unlock()

	if sameEvent && sim >= gate {
		d.suppressedJaccard.Add(1)
		logrus.Debugf("dispatcher: trigger for event %s suppressed, top features unchanged (similarity %.2f)", dc.EventID, sim)
		return
	}

	select {
	case d.queue <- dc:
		d.enqueued.Add(1)
	default:
		d.rejectedFull.Add(1)
		logrus.Warnf("dispatcher: queue full, trigger for event %s rejected", dc.EventID)
	}
}

// CancelPending abandons queued and debouncing triggers and any in-flight
// provider calls, recording them as suppressed for audit. The driver calls
// it when the simulation stops.
func (d *Dispatcher) CancelPending() {
	d.cancelGen.Add(1)
	d.mu.Lock()
	if d.inflightCancel != nil {
		d.inflightCancel()
	}
	d.mu.Unlock()
	select {
	case d.stop <- struct{}{}:
	default:
	}
	d.drainSuppressed()
}

// Run services the queue until ctx is cancelled. On cancellation or
// CancelPending, pending and in-flight work is recorded as suppressed for
// audit.
func (d *Dispatcher) Run(ctx context.Context) {
	d.mu.Lock()
	d.windowStart = time.Now()
	d.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			d.drainSuppressed()
			return
		case <-d.stop:
			// Cancel arrived while idle; nothing debouncing, the queue was
			// already drained by CancelPending.
		case dc := <-d.queue:
			opened := time.Now()
			gen := d.cancelGen.Load()
			cancelled := false
			fireAt := d.nextFireTime()
			if wait := time.Until(fireAt); wait > 0 {
				timer := time.NewTimer(wait)
			waiting:
				for {
					select {
					case newer := <-d.queue:
						// Latest context wins inside the window.
						dc = newer
						d.coalesced.Add(1)
					case <-d.stop:
						if d.cancelGen.Load() == gen {
							// Stale wake-up from a cancel that predates
							// this window.
							continue
						}
						timer.Stop()
						cancelled = true
						break waiting
					case <-timer.C:
						break waiting
					case <-ctx.Done():
						timer.Stop()
						d.recordSuppressed(dc)
						d.drainSuppressed()
						return
					}
				}
			}
			if cancelled || d.cancelGen.Load() != gen {
				d.recordSuppressed(dc)
				d.drainSuppressed()
				continue
			}
			d.mu.Lock()
			d.windowStart = opened
			d.mu.Unlock()
			d.dispatch(ctx, dc, gen)
		}
	}
}

// nextFireTime is the earliest moment a new dispatch window may fire:
// MinInterval after the opening trigger of the previous window.
func (d *Dispatcher) nextFireTime() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.windowStart.Add(d.cfg.MinInterval)
}

func (d *Dispatcher) dispatch(ctx context.Context, dc monitor.DispatchContext, gen uint64) {
	d.setState(dc.EventID, monitor.DispatchInFlight)

	callCtx, cancelCall := context.WithCancel(ctx)
	d.mu.Lock()
	d.inflightCancel = cancelCall
	opts := Options{
		MaxTokens:   d.cfg.MaxTokens,
		Temperature: d.cfg.Temperature,
		Timeout:     d.cfg.ProviderTimeout,
	}
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.inflightCancel = nil
		d.mu.Unlock()
		cancelCall()
	}()
	if d.cancelGen.Load() != gen {
		// CancelPending raced the hand-off before inflightCancel was set.
		cancelCall()
	}

	prompt := BuildPrompt(dc)
	started := time.Now()
	logrus.Infof("dispatcher: analyzing event %s (step %d, T2=%.2f) across %d providers",
		dc.EventID, dc.Frame.Step, dc.T2, len(d.providers))

	results := make([]store.ProviderResult, len(d.providers))
	var g errgroup.Group
	for i, p := range d.providers {
		g.Go(func() error {
			callStart := time.Now()
			resp, err := p.Call(callCtx, prompt, opts)
			elapsed := time.Since(callStart).Milliseconds()
			results[i] = classifyResult(resp, err, elapsed)
			return nil
		})
	}
	_ = g.Wait()

	if callCtx.Err() != nil {
		// Stopped mid-flight: discard provider output, keep an audit trail.
		d.recordSuppressed(dc)
		return
	}

	perProvider := make(map[string]store.ProviderResult, len(d.providers))
	summary := make(map[string]store.ProviderPerformance, len(d.providers))
	anyOK := false
	for i, p := range d.providers {
		perProvider[p.Name()] = results[i]
		summary[p.Name()] = store.ProviderPerformance{
			Status:         results[i].Status,
			ResponseTimeMS: results[i].ResponseTimeMS,
			WordCount:      results[i].WordCount,
		}
		if results[i].Status == store.StatusOK {
			anyOK = true
		}
	}
	status := store.RecordCompleted
	if !anyOK {
		status = store.RecordError
	}

	now := time.Now()
	rec := &store.AnalysisRecord{
		RecordID:           d.store.NextRecordID(now),
		CreatedAt:          now,
		EventID:            dc.EventID,
		Status:             status,
		PromptSummary:      Summarize(dc),
		PerProvider:        perProvider,
		PerformanceSummary: summary,
	}
	if !d.persist(rec) {
		return
	}

	d.mu.Lock()
	d.lastEventID = dc.EventID
	d.lastFeatures = featureSet(dc.TopFeatures)
	d.mu.Unlock()
	d.completed.Add(1)
	d.lastDispatchUnix.Store(now.UnixNano())
	d.setState(dc.EventID, monitor.DispatchCompleted)

	if d.bus != nil {
		d.bus.Publish(stream.Event{
			Type: stream.EventAnalysisReady,
			ID:   rec.RecordID,
			Data: map[string]any{
				"event_id":          rec.EventID,
				"record_id":         rec.RecordID,
				"status":            rec.Status,
				"providers_summary": rec.PerformanceSummary,
			},
		})
	}
	logrus.Infof("dispatcher: analysis %s for event %s completed in %s (%s)",
		rec.RecordID, rec.EventID, time.Since(started).Round(time.Millisecond), status)
}

// persist appends the record, holding it for one retry on storage failure.
func (d *Dispatcher) persist(rec *store.AnalysisRecord) bool {
	err := d.store.Append(rec)
	if err != nil {
		logrus.Errorf("dispatcher: persisting analysis %s failed, retrying once: %v", rec.RecordID, err)
		err = d.store.Append(rec)
	}
	if err != nil {
		logrus.Errorf("dispatcher: analysis %s dropped after storage retry: %v", rec.RecordID, err)
		if d.bus != nil {
			d.bus.Publish(stream.Event{
				Type: stream.EventStatus,
				Data: map[string]any{
					"kind":      "storage_error",
					"record_id": rec.RecordID,
					"event_id":  rec.EventID,
					"message":   err.Error(),
				},
			})
		}
		return false
	}
	return true
}

// recordSuppressed writes an audit record for a dispatch that was cancelled
// before completing.
func (d *Dispatcher) recordSuppressed(dc monitor.DispatchContext) {
	now := time.Now()
	rec := &store.AnalysisRecord{
		RecordID:      d.store.NextRecordID(now),
		CreatedAt:     now,
		EventID:       dc.EventID,
		Status:        store.RecordSuppressed,
		PromptSummary: Summarize(dc),
	}
	if err := d.store.Append(rec); err != nil {
		logrus.Errorf("dispatcher: writing suppressed record for event %s: %v", dc.EventID, err)
	}
	d.suppressed.Add(1)
	d.setState(dc.EventID, monitor.DispatchSuppressed)
}

// drainSuppressed flushes all queued triggers as suppressed on shutdown.
func (d *Dispatcher) drainSuppressed() {
	for {
		select {
		case dc := <-d.queue:
			d.recordSuppressed(dc)
		default:
			return
		}
	}
}

func (d *Dispatcher) setState(eventID string, s monitor.DispatchState) {
	if d.events != nil {
		d.events.SetDispatchState(eventID, s)
	}
}

// classifyResult maps one provider outcome onto the record taxonomy.
func classifyResult(resp *Response, err error, elapsedMS int64) store.ProviderResult {
	if err == nil {
		return store.ProviderResult{
			Status:         store.StatusOK,
			ResponseTimeMS: elapsedMS,
			Text:           resp.Text,
			WordCount:      resp.WordCount,
		}
	}
	pr := store.ProviderResult{ResponseTimeMS: elapsedMS, ErrorMessage: err.Error()}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		pr.Status = store.StatusTimeout
	case IsRefusal(err):
		pr.Status = store.StatusRefused
	default:
		pr.Status = store.StatusError
	}
	return pr
}

func featureSet(features []monitor.FeatureShare) map[string]struct{} {
	set := make(map[string]struct{}, len(features))
	for _, f := range features {
		set[f.Name] = struct{}{}
	}
	return set
}

// jaccard computes |a∩b| / |a∪b|; two empty sets are identical.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
