package monitor

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// SpeedPreset selects the wall-clock cadence of the simulation loop. Each
// simulator tick always advances 180s of simulated time; the preset controls
// how much real time elapses between ticks.
type SpeedPreset string

const (
	SpeedReal SpeedPreset = "real" // 1:1 with simulated time
	SpeedFast SpeedPreset = "fast" // 10x
	SpeedDemo SpeedPreset = "demo" // one step per second
)

// Interval returns the wall-clock interval between simulator steps.
func (p SpeedPreset) Interval() time.Duration {
	switch p {
	case SpeedFast:
		return 18 * time.Second
	case SpeedDemo:
		return time.Second
	default:
		return 180 * time.Second
	}
}

// ParseSpeedPreset validates an operator-supplied preset name.
func ParseSpeedPreset(s string) (SpeedPreset, error) {
	switch SpeedPreset(s) {
	case SpeedReal, SpeedFast, SpeedDemo:
		return SpeedPreset(s), nil
	}
	return "", &InputError{Code: "invalid_speed", Message: fmt.Sprintf("unknown speed preset %q", s)}
}

// InputError is a rejected operator input. It carries a structured code for
// the API error envelope and never affects the running driver.
type InputError struct {
	Code    string
	Message string
}

func (e *InputError) Error() string { return e.Message }

// DefaultMaxIDVMagnitude bounds operator-set disturbance magnitudes.
const DefaultMaxIDVMagnitude = 1.0

// ControlState is the operator intent applied to the next simulator step.
type ControlState struct {
	XMVOverrides  []*float64  // nil entry = simulator's own controller drives that XMV
	IDVMagnitudes []float64   // disturbance magnitude per IDV slot, 0 = inactive
	Speed         SpeedPreset // cadence preset
}

func newControlState() *ControlState {
	return &ControlState{
		XMVOverrides:  make([]*float64, NumMV),
		IDVMagnitudes: make([]float64, NumIDV),
		Speed:         SpeedDemo,
	}
}

func (s *ControlState) clone() *ControlState {
	c := &ControlState{
		XMVOverrides:  make([]*float64, NumMV),
		IDVMagnitudes: append([]float64(nil), s.IDVMagnitudes...),
		Speed:         s.Speed,
	}
	for i, v := range s.XMVOverrides {
		if v != nil {
			vv := *v
			c.XMVOverrides[i] = &vv
		}
	}
	return c
}

// ActiveIDVs returns the 0/1 activity flags derived from magnitudes.
func (s *ControlState) ActiveIDVs() []int {
	flags := make([]int, NumIDV)
	for i, m := range s.IDVMagnitudes {
		if m > 0 {
			flags[i] = 1
		}
	}
	return flags
}

// ControlPlane accumulates operator intents into a staging state and promotes
// them atomically at step boundaries, so every input applies to exactly one
// upcoming simulator step. API handlers are the writers; the simulation
// driver is the single reader (via Promote) at each step boundary.
type ControlPlane struct {
	mu      sync.Mutex
	staged  *ControlState
	current *ControlState
	maxIDV  float64
	wake    chan struct{}
}

// NewControlPlane creates a control plane with all overrides unset and the
// given initial speed preset.
func NewControlPlane(speed SpeedPreset) *ControlPlane {
	staged := newControlState()
	staged.Speed = speed
	return &ControlPlane{
		staged:  staged,
		current: staged.clone(),
		maxIDV:  DefaultMaxIDVMagnitude,
		wake:    make(chan struct{}, 1),
	}
}

// SetXMVOverride stages an override for XMV index (1-based). A nil value
// clears the override, returning that valve to the simulator's controller.
// Values are clamped to [0,100]; NaN is rejected.
func (cp *ControlPlane) SetXMVOverride(index int, value *float64) error {
	if index < 1 || index > NumMV {
		return &InputError{Code: "invalid_xmv_index", Message: fmt.Sprintf("XMV index %d out of range 1..%d", index, NumMV)}
	}
	if value != nil {
		if math.IsNaN(*value) {
			return &InputError{Code: "invalid_xmv_value", Message: "XMV override must not be NaN"}
		}
		v := math.Min(100, math.Max(0, *value))
		value = &v
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.staged.XMVOverrides[index-1] = value
	return nil
}

// SetIDVMagnitude stages a disturbance magnitude for IDV index (1-based).
// Magnitudes are clamped to [0, max]; NaN is rejected. Setting the same
// magnitude twice is idempotent.
func (cp *ControlPlane) SetIDVMagnitude(index int, magnitude float64) error {
	if index < 1 || index > NumIDV {
		return &InputError{Code: "invalid_idv_index", Message: fmt.Sprintf("IDV index %d out of range 1..%d", index, NumIDV)}
	}
	if math.IsNaN(magnitude) {
		return &InputError{Code: "invalid_idv_value", Message: "IDV magnitude must not be NaN"}
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.staged.IDVMagnitudes[index-1] = math.Min(cp.maxIDV, math.Max(0, magnitude))
	return nil
}

// StopAllFaults clears every IDV magnitude and every XMV override, returning
// the process to closed-loop nominal operation at the next step.
func (cp *ControlPlane) StopAllFaults() {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	for i := range cp.staged.IDVMagnitudes {
		cp.staged.IDVMagnitudes[i] = 0
	}
	for i := range cp.staged.XMVOverrides {
		cp.staged.XMVOverrides[i] = nil
	}
}

// SetSpeed stages a cadence change and wakes the driver so the change takes
// effect at the next deadline computation rather than after the current sleep.
func (cp *ControlPlane) SetSpeed(p SpeedPreset) {
	cp.mu.Lock()
	cp.staged.Speed = p
	cp.mu.Unlock()
	select {
	case cp.wake <- struct{}{}:
	default:
	}
}

// Promote atomically publishes the staged state as the current state and
// returns a copy for the upcoming step. Called by the driver only.
func (cp *ControlPlane) Promote() ControlState {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.current = cp.staged.clone()
	return *cp.current.clone()
}

// Current returns a copy of the last promoted state.
func (cp *ControlPlane) Current() ControlState {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return *cp.current.clone()
}

// Staged returns a copy of the pending operator intent, which the status
// endpoint reports so reads observe writes immediately.
func (cp *ControlPlane) Staged() ControlState {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return *cp.staged.clone()
}

// Wake is signalled when a staged change should interrupt the driver's
// current sleep (speed preset changes).
func (cp *ControlPlane) Wake() <-chan struct{} {
	return cp.wake
}
