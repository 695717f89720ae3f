package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(nConsec int) *EventTracker {
	return NewEventTracker([]string{"A", "B", "C"}, nConsec, 2)
}

func TestEventOpensAfterConsecutiveAnomalies(t *testing.T) {
	// GIVEN a tracker requiring 2 consecutive anomalous frames
	tr := newTestTracker(2)

	// WHEN a single anomalous frame arrives
	got := tr.Observe(10, 50, true, false, []float64{1, 2, 3})

	// THEN no event opens yet
	assert.Equal(t, TransitionNone, got)
	assert.Nil(t, tr.Active())

	// WHEN a second consecutive anomalous frame arrives
	got = tr.Observe(11, 60, true, false, []float64{1, 2, 3})

	// THEN the event opens at that step
	assert.Equal(t, TransitionOpened, got)
	ev := tr.Active()
	require.NotNil(t, ev)
	assert.Equal(t, int64(11), ev.StartStep)
	assert.Equal(t, int64(-1), ev.EndStep)
	assert.Equal(t, DispatchPending, ev.DispatchState)
}

func TestSingleNormalFrameDoesNotCloseEvent(t *testing.T) {
	// GIVEN an open event
	tr := newTestTracker(2)
	tr.Observe(0, 50, true, false, []float64{1, 0, 0})
	tr.Observe(1, 50, true, false, []float64{1, 0, 0})
	require.NotNil(t, tr.Active())

	// WHEN one normal frame interrupts the anomaly
	got := tr.Observe(2, 5, false, false, nil)

	// THEN the event stays open
	assert.Equal(t, TransitionNone, got)
	assert.NotNil(t, tr.Active())

	// WHEN a second consecutive normal frame arrives
	got = tr.Observe(3, 5, false, false, nil)

	// THEN the event closes and becomes the last event
	assert.Equal(t, TransitionClosed, got)
	assert.Nil(t, tr.Active())
	last := tr.Last()
	require.NotNil(t, last)
	assert.Equal(t, int64(3), last.EndStep)
}

func TestInterruptedAnomalyRunResetsPersistence(t *testing.T) {
	// GIVEN alternating anomalous and normal frames
	tr := newTestTracker(2)
	tr.Observe(0, 50, true, false, []float64{1, 0, 0})
	tr.Observe(1, 5, false, false, nil)
	tr.Observe(2, 50, true, false, []float64{1, 0, 0})
	tr.Observe(3, 5, false, false, nil)

	// THEN no event ever opens
	assert.Nil(t, tr.Active())
	assert.Nil(t, tr.Last())
}

func TestPeakAndTopFeaturesTrackTheRun(t *testing.T) {
	// GIVEN an event where feature C dominates later frames
	tr := newTestTracker(2)
	tr.Observe(0, 50, true, false, []float64{10, 1, 1})
	tr.Observe(1, 90, true, false, []float64{10, 1, 1})
	tr.Observe(2, 70, true, false, []float64{1, 1, 40})

	// THEN the peak is the maximum over the run
	ev := tr.Active()
	require.NotNil(t, ev)
	assert.Equal(t, float64(90), ev.PeakT2)
	assert.Equal(t, int64(1), ev.PeakStep)

	// THEN top features rank by running contribution with normalized shares
	require.Len(t, ev.TopFeatures, 2)
	assert.Equal(t, "C", ev.TopFeatures[0].Name)
	assert.Equal(t, "A", ev.TopFeatures[1].Name)
	assert.InDelta(t, 42.0/66.0, ev.TopFeatures[0].Share, 1e-9)
}

func TestErrorFramesAreNeutral(t *testing.T) {
	// GIVEN one anomalous frame toward opening
	tr := newTestTracker(2)
	tr.Observe(0, 50, true, false, []float64{1, 0, 0})

	// WHEN an error frame arrives
	got := tr.Observe(1, 0, false, true, nil)

	// THEN it neither advances nor resets persistence
	assert.Equal(t, TransitionNone, got)
	got = tr.Observe(2, 50, true, false, []float64{1, 0, 0})
	assert.Equal(t, TransitionOpened, got)
}

func TestSetDispatchStateTargetsEventByID(t *testing.T) {
	// GIVEN an open event
	tr := newTestTracker(2)
	tr.Observe(0, 50, true, false, []float64{1, 0, 0})
	tr.Observe(1, 50, true, false, []float64{1, 0, 0})
	ev := tr.Active()
	require.NotNil(t, ev)

	// WHEN the dispatcher reports progress
	tr.SetDispatchState(ev.ID, DispatchInFlight)

	// THEN the active event reflects it, and a wrong ID is ignored
	assert.Equal(t, DispatchInFlight, tr.Active().DispatchState)
	tr.SetDispatchState("nonexistent", DispatchCompleted)
	assert.Equal(t, DispatchInFlight, tr.Active().DispatchState)
}

func TestResetDiscardsOpenEvent(t *testing.T) {
	// GIVEN an open event
	tr := newTestTracker(2)
	tr.Observe(0, 50, true, false, []float64{1, 0, 0})
	tr.Observe(1, 50, true, false, []float64{1, 0, 0})
	require.NotNil(t, tr.Active())

	// WHEN the tracker resets for a new baseline
	tr.Reset([]string{"X", "Y"})

	// THEN no event survives and persistence restarts
	assert.Nil(t, tr.Active())
	got := tr.Observe(2, 50, true, false, []float64{1, 2})
	assert.Equal(t, TransitionNone, got)
}
