package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tep-monitor/tep-monitor/monitor/pca"
	"github.com/tep-monitor/tep-monitor/monitor/stream"
)

// DriverState is the simulation driver lifecycle state.
type DriverState string

const (
	StateIdle    DriverState = "idle"
	StateRunning DriverState = "running"
	StatePaused  DriverState = "paused"
	StateFaulted DriverState = "faulted"
)

// DriverConfig tunes the simulation driver.
type DriverConfig struct {
	TrendLen int // recent values included per deviated feature in dispatch context (default 5)
}

// Driver owns the simulator handle and drives it at the cadence selected by
// the control plane. It is the single writer to the Window and the frame
// stream: each tick it promotes operator inputs, steps the simulator,
// evaluates the detector, publishes the frame, and triggers the dispatcher
// when an anomaly event warrants analysis.
type Driver struct {
	stepper    Stepper
	window     *Window
	control    *ControlPlane
	detector   *pca.Detector
	tracker    *EventTracker
	bus        *stream.Broadcaster
	dispatcher Dispatcher
	counters   *Counters
	trendLen   int

	// pipeMu serializes the evaluate/append/observe pipeline against
	// baseline reloads so no frame evaluated under one model lands in a
	// window or tracker belonging to another.
	pipeMu sync.Mutex

	mu       sync.Mutex
	state    DriverState
	cancel   context.CancelFunc
	done     chan struct{}
	resume   chan struct{}
	lastStep int64
	lastT2   float64
	lastSim  float64
	faultMsg string
}

// NewDriver wires a driver. dispatcher may be nil when no providers are
// configured.
func NewDriver(cfg DriverConfig, stepper Stepper, window *Window, control *ControlPlane,
	detector *pca.Detector, tracker *EventTracker, bus *stream.Broadcaster,
	dispatcher Dispatcher, counters *Counters) *Driver {
	if cfg.TrendLen <= 0 {
		cfg.TrendLen = 5
	}
	return &Driver{
		stepper:    stepper,
		window:     window,
		control:    control,
		detector:   detector,
		tracker:    tracker,
		bus:        bus,
		dispatcher: dispatcher,
		counters:   counters,
		trendLen:   cfg.TrendLen,
		state:      StateIdle,
		lastStep:   -1,
	}
}

// State returns the current lifecycle state.
func (d *Driver) State() DriverState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Start begins the step loop. Valid from Idle and from Faulted (the only
// recovery transition).
func (d *Driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case StateRunning, StatePaused:
		return &InputError{Code: "invalid_transition", Message: "simulation already started"}
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.state = StateRunning
	d.cancel = cancel
	d.done = make(chan struct{})
	d.resume = make(chan struct{}, 1)
	d.faultMsg = ""
	go d.run(ctx)
	d.publishStatusLocked("started")
	return nil
}

// Pause suspends stepping without losing simulator state.
func (d *Driver) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateRunning {
		return &InputError{Code: "invalid_transition", Message: fmt.Sprintf("cannot pause from %s", d.state)}
	}
	d.state = StatePaused
	d.publishStatusLocked("paused")
	return nil
}

// Resume continues a paused loop.
func (d *Driver) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StatePaused {
		return &InputError{Code: "invalid_transition", Message: fmt.Sprintf("cannot resume from %s", d.state)}
	}
	d.state = StateRunning
	select {
	case d.resume <- struct{}{}:
	default:
	}
	d.publishStatusLocked("resumed")
	return nil
}

// Stop terminates the loop and returns once it has exited. Pending LLM
// dispatches are cancelled and recorded as suppressed for audit.
func (d *Driver) Stop() error {
	d.mu.Lock()
	if d.state == StateIdle || d.state == StateFaulted {
		d.mu.Unlock()
		return nil
	}
	d.state = StateIdle
	cancel, done := d.cancel, d.done
	select {
	case d.resume <- struct{}{}:
	default:
	}
	d.publishStatusLocked("stopped")
	d.mu.Unlock()

	cancel()
	<-done
	if d.dispatcher != nil {
		d.dispatcher.CancelPending()
	}
	return nil
}

// run is the step loop. Single goroutine; exclusive owner of the simulator
// handle and the Window writes.
func (d *Driver) run(ctx context.Context) {
	defer close(d.done)
	prev := time.Now()
	for {
		interval := d.control.Staged().Speed.Interval()
		deadline := prev.Add(interval)
		if !d.sleepUntil(ctx, prev, &deadline) {
			return
		}
		if !d.waitWhilePaused(ctx) {
			return
		}

		cs := d.control.Promote()
		frame, ok := d.step(cs)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			d.fault("simulator step failed twice")
			return
		}

		now := time.Now()
		if now.After(deadline.Add(interval)) {
			// Overran the whole next interval; restart the cadence from
			// now rather than bursting to catch up.
			d.counters.MissedDeadlines.Add(1)
			prev = now
		} else {
			prev = deadline
		}
		d.publish(frame)
	}
}

// sleepUntil sleeps cooperatively until *deadline, recomputing it when the
// control plane signals a speed change. Returns false on cancellation.
func (d *Driver) sleepUntil(ctx context.Context, prev time.Time, deadline *time.Time) bool {
	for {
		wait := time.Until(*deadline)
		if wait <= 0 {
			return true
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-d.control.Wake():
			timer.Stop()
			*deadline = prev.Add(d.control.Staged().Speed.Interval())
		case <-timer.C:
			return true
		}
	}
}

// waitWhilePaused blocks while the driver is paused. Returns false on
// cancellation.
func (d *Driver) waitWhilePaused(ctx context.Context) bool {
	for d.State() == StatePaused {
		select {
		case <-ctx.Done():
			return false
		case <-d.resume:
		}
	}
	return ctx.Err() == nil
}

// step invokes the simulator with the promoted control state, retrying once
// on a transient failure with identity inputs.
func (d *Driver) step(cs ControlState) (SensorFrame, bool) {
	inputs := StepInputs{
		IDV:          append([]float64(nil), cs.IDVMagnitudes...),
		XMVOverrides: cs.XMVOverrides,
	}
	raw, err := d.stepper.Step(inputs)
	if err != nil {
		d.counters.SimFailures.Add(1)
		var transient *TransientError
		if !errors.As(err, &transient) {
			logrus.Errorf("driver: fatal simulator error: %v", err)
			return SensorFrame{}, false
		}
		logrus.Warnf("driver: transient simulator error, retrying step: %v", err)
		d.counters.SimRetries.Add(1)
		raw, err = d.stepper.Step(inputs)
		if err != nil {
			d.counters.SimFailures.Add(1)
			logrus.Errorf("driver: simulator retry failed: %v", err)
			return SensorFrame{}, false
		}
	}

	d.mu.Lock()
	step := d.lastStep + 1
	d.lastStep = step
	d.lastSim = raw.SimTime
	d.mu.Unlock()

	return SensorFrame{
		Step:         step,
		SimTime:      raw.SimTime,
		WallTime:     time.Now(),
		Measurements: raw.Measurements,
		Manipulated:  raw.Manipulated,
		Disturbances: cs.ActiveIDVs(),
	}, true
}

// publish evaluates the detector, attaches derived results, stores and
// streams the frame, and advances the anomaly event state machine.
func (d *Driver) publish(frame SensorFrame) {
	d.pipeMu.Lock()
	defer d.pipeMu.Unlock()

	res := d.detector.Evaluate(frame.FeatureVector())
	// Anomalies are only asserted once a full window of frames exists
	// under the current model.
	ready := d.window.Len()+1 >= d.window.Capacity()
	anomaly := res.Anomaly && ready

	derived := &Derived{T2: res.T2, Anomaly: anomaly, Error: res.Err}
	for _, c := range res.Contributions {
		derived.TopFeatures = append(derived.TopFeatures, FeatureShare{Name: c.Name, Share: c.Share})
	}
	frame.Derived = derived
	if res.Err {
		d.counters.DetectorErrors.Add(1)
	}

	d.window.Append(frame)
	d.counters.Steps.Add(1)
	d.mu.Lock()
	d.lastT2 = res.T2
	d.mu.Unlock()

	if d.bus != nil {
		d.bus.Publish(stream.Event{
			Type: stream.EventFrame,
			ID:   fmt.Sprintf("%d", frame.Step),
			Data: &frame,
		})
	}

	switch d.tracker.Observe(frame.Step, res.T2, anomaly, res.Err, res.Raw) {
	case TransitionOpened:
		d.counters.EventsOpened.Add(1)
		d.publishStatus("anomaly_opened")
		d.trigger(frame, res)
	case TransitionClosed:
		d.counters.EventsClosed.Add(1)
		d.publishStatus("anomaly_closed")
	default:
		if anomaly {
			// Re-trigger inside an open event; the dispatcher's debounce
			// and top-feature gate decide whether it fires.
			d.trigger(frame, res)
		}
	}
}

// trigger snapshots dispatch context for the active event.
func (d *Driver) trigger(frame SensorFrame, res pca.Result) {
	if d.dispatcher == nil {
		return
	}
	ev := d.tracker.Active()
	if ev == nil {
		return
	}
	model := d.detector.Model()
	d.dispatcher.Trigger(DispatchContext{
		EventID:     ev.ID,
		EventActive: true,
		Frame:       frame.Clone(),
		T2:          res.T2,
		ThresholdT2: model.ThresholdT2,
		TopFeatures: ev.TopFeatures,
		Deviations:  d.deviations(frame, ev.TopFeatures, model),
		Speed:       d.control.Current().Speed,
		TriggeredAt: time.Now(),
	})
}

// deviations builds per-feature baseline deviations with a short recent
// trend from the window for the event's top features.
func (d *Driver) deviations(frame SensorFrame, top []FeatureShare, model *pca.Model) []FeatureDeviation {
	snapshot := d.window.Snapshot()
	out := make([]FeatureDeviation, 0, len(top))
	vector := frame.FeatureVector()
	for _, f := range top {
		idx, ok := model.FeatureIndex(f.Name)
		if !ok || idx >= len(vector) {
			continue
		}
		dev := FeatureDeviation{
			Name:        f.Name,
			Description: DescribeFeature(f.Name),
			Value:       vector[idx],
			Mean:        model.Mean[idx],
			Std:         model.Std[idx],
			ZScore:      (vector[idx] - model.Mean[idx]) / model.Std[idx],
		}
		start := len(snapshot) - d.trendLen
		if start < 0 {
			start = 0
		}
		for _, past := range snapshot[start:] {
			v := past.FeatureVector()
			if idx < len(v) {
				dev.Trend = append(dev.Trend, v[idx])
			}
		}
		out = append(out, dev)
	}
	return out
}

// ReloadBaseline validates and atomically swaps in a new model, flushing the
// window and the event tracker so no state crosses models. It holds the
// pipeline lock, so a frame mid-publish finishes under the old model before
// the swap and the next frame sees the new one.
func (d *Driver) ReloadBaseline(m *pca.Model) error {
	d.pipeMu.Lock()
	defer d.pipeMu.Unlock()
	if err := d.detector.Reload(m); err != nil {
		return err
	}
	d.window.Flush()
	d.tracker.Reset(m.FeatureNames)
	logrus.Infof("driver: baseline reloaded, F=%d P=%d threshold=%.2f", m.NumFeatures(), m.NumComponents(), m.ThresholdT2)
	d.publishStatus("baseline_reloaded")
	return nil
}

// fault transitions to Faulted and emits a fatal status event. Start is the
// only recovery.
func (d *Driver) fault(msg string) {
	d.mu.Lock()
	d.state = StateFaulted
	d.faultMsg = msg
	d.publishStatusLocked("faulted")
	d.mu.Unlock()
	logrus.Errorf("driver: faulted: %s", msg)
}

// BaselineInfo summarizes the active detection model.
type BaselineInfo struct {
	FeatureNames  []string `json:"feature_names"`
	NumFeatures   int      `json:"num_features"`
	NumComponents int      `json:"num_components"`
	ThresholdT2   float64  `json:"threshold_t2"`
	Alpha         float64  `json:"alpha"`
}

// Status is a consistent snapshot for the status endpoint.
type Status struct {
	State                 DriverState      `json:"state"`
	FaultMessage          string           `json:"fault_message,omitempty"`
	Speed                 SpeedPreset      `json:"speed"`
	LastStep              int64            `json:"last_step"`
	SimTimeSeconds        float64          `json:"sim_time_seconds"`
	CurrentT2             float64          `json:"current_t2"`
	WindowLen             int              `json:"window_len"`
	LastAnomalyTransition time.Time        `json:"last_anomaly_transition"`
	ActiveEvent           *AnomalyEvent    `json:"active_event,omitempty"`
	LastEvent             *AnomalyEvent    `json:"last_event,omitempty"`
	Control               ControlView      `json:"control"`
	Baseline              BaselineInfo     `json:"baseline"`
	Counters              CountersSnapshot `json:"counters"`
}

// ControlView is the operator-facing controls snapshot.
type ControlView struct {
	XMVOverrides  []*float64 `json:"xmv_overrides"`
	IDVMagnitudes []float64  `json:"idv_magnitudes"`
}

// Status returns the current pipeline snapshot.
func (d *Driver) Status() Status {
	d.mu.Lock()
	state := d.state
	faultMsg := d.faultMsg
	lastStep := d.lastStep
	lastT2 := d.lastT2
	lastSim := d.lastSim
	d.mu.Unlock()

	cs := d.control.Staged()
	model := d.detector.Model()
	components, features := model.Components.Dims()
	return Status{
		State:                 state,
		FaultMessage:          faultMsg,
		Speed:                 cs.Speed,
		LastStep:              lastStep,
		SimTimeSeconds:        lastSim,
		CurrentT2:             lastT2,
		WindowLen:             d.window.Len(),
		LastAnomalyTransition: d.tracker.LastTransition(),
		ActiveEvent:           d.tracker.Active(),
		LastEvent:             d.tracker.Last(),
		Control: ControlView{
			XMVOverrides:  cs.XMVOverrides,
			IDVMagnitudes: cs.IDVMagnitudes,
		},
		Baseline: BaselineInfo{
			FeatureNames:  model.FeatureNames,
			NumFeatures:   features,
			NumComponents: components,
			ThresholdT2:   model.ThresholdT2,
			Alpha:         model.Alpha,
		},
		Counters: d.counters.Snapshot(),
	}
}

// publishStatus emits a compact status event on the stream.
func (d *Driver) publishStatus(kind string) {
	d.mu.Lock()
	d.publishStatusLocked(kind)
	d.mu.Unlock()
}

// publishStatusLocked requires d.mu held.
func (d *Driver) publishStatusLocked(kind string) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(stream.Event{
		Type: stream.EventStatus,
		Data: map[string]any{
			"kind":       kind,
			"state":      d.state,
			"last_step":  d.lastStep,
			"current_t2": d.lastT2,
			"fault":      d.faultMsg,
		},
	})
}
