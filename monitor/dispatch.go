package monitor

import "time"

// FeatureDeviation describes how far one feature sits from its baseline at
// dispatch time, with a short recent trend for prompt context.
type FeatureDeviation struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Value       float64   `json:"value"`
	Mean        float64   `json:"mean"`
	Std         float64   `json:"std"`
	ZScore      float64   `json:"z_score"`
	Trend       []float64 `json:"trend,omitempty"` // oldest-first recent values
}

// DispatchContext is the frozen snapshot handed to the LLM dispatcher when an
// anomaly event warrants analysis. It is self-contained: the dispatcher never
// reads live pipeline state.
type DispatchContext struct {
	EventID     string
	EventActive bool
	Frame       SensorFrame
	T2          float64
	ThresholdT2 float64
	TopFeatures []FeatureShare
	Deviations  []FeatureDeviation
	Speed       SpeedPreset
	TriggeredAt time.Time
}

// Dispatcher is what the driver triggers when an event needs analysis.
// Implementations must not block the caller.
type Dispatcher interface {
	Trigger(dc DispatchContext)
	// CancelPending abandons queued and debouncing triggers and any
	// in-flight provider calls, recording them as suppressed for audit.
	// The driver calls it when the simulation stops.
	CancelPending()
}
