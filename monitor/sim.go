package monitor

// StepInputs is the operator-derived input row handed to the simulator for
// one step.
type StepInputs struct {
	IDV          []float64  // length NumIDV, disturbance magnitudes
	XMVOverrides []*float64 // length NumMV, nil = simulator's controller drives the valve
}

// RawFrame is the simulator's output for one tick, before the driver wraps it
// into a SensorFrame.
type RawFrame struct {
	Measurements []float64 // XMEAS 1..41
	Manipulated  []float64 // XMV 1..11
	SimTime      float64   // simulator-internal seconds
}

// Stepper is the black-box simulator contract. Each call advances one
// simulator tick. Implementations own their internal state and must not be
// called concurrently on the same handle; the driver serializes all calls.
type Stepper interface {
	Step(in StepInputs) (RawFrame, error)
}

// TransientError marks a recoverable simulator failure. The driver retries
// the step once with identity inputs; a second failure faults the driver.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient simulator error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }
