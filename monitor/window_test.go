package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameAt(step int64) SensorFrame {
	return SensorFrame{
		Step:         step,
		Measurements: []float64{float64(step)},
		Manipulated:  []float64{float64(step) * 10},
	}
}

func TestWindowAppendBelowCapacity(t *testing.T) {
	// GIVEN an empty window of capacity 4
	w := NewWindow(4)

	// WHEN three frames are appended
	for s := int64(0); s < 3; s++ {
		w.Append(frameAt(s))
	}

	// THEN the window holds all three, oldest first, and is not full
	assert.Equal(t, 3, w.Len())
	assert.False(t, w.Full())
	snap := w.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, int64(0), snap[0].Step)
	assert.Equal(t, int64(2), snap[2].Step)
}

func TestWindowEvictsOldestAtCapacity(t *testing.T) {
	// GIVEN a full window of capacity 3
	w := NewWindow(3)
	for s := int64(0); s < 3; s++ {
		w.Append(frameAt(s))
	}
	require.True(t, w.Full())

	// WHEN two more frames are appended
	w.Append(frameAt(3))
	w.Append(frameAt(4))

	// THEN length stays at capacity and the oldest frames are gone
	assert.Equal(t, 3, w.Len())
	snap := w.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, int64(2), snap[0].Step)
	assert.Equal(t, int64(4), snap[2].Step)
}

func TestWindowSnapshotIsACopy(t *testing.T) {
	// GIVEN a window with one frame
	w := NewWindow(2)
	w.Append(frameAt(7))

	// WHEN the snapshot's data is mutated
	snap := w.Snapshot()
	snap[0].Measurements[0] = -999

	// THEN the stored frame is unchanged
	again := w.Snapshot()
	assert.Equal(t, float64(7), again[0].Measurements[0])
}

func TestWindowLatest(t *testing.T) {
	// GIVEN an empty window
	w := NewWindow(2)

	// THEN Latest reports absence
	_, ok := w.Latest()
	assert.False(t, ok)

	// WHEN frames wrap the ring
	for s := int64(0); s < 5; s++ {
		w.Append(frameAt(s))
	}

	// THEN Latest is the most recent append
	got, ok := w.Latest()
	require.True(t, ok)
	assert.Equal(t, int64(4), got.Step)
}

func TestWindowFlush(t *testing.T) {
	// GIVEN a full window
	w := NewWindow(2)
	w.Append(frameAt(0))
	w.Append(frameAt(1))

	// WHEN flushed
	w.Flush()

	// THEN it is empty but keeps its capacity
	assert.Equal(t, 0, w.Len())
	assert.Equal(t, 2, w.Capacity())
	assert.Empty(t, w.Snapshot())
}
