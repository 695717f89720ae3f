package monitor

import "sync"

// DefaultWindowSize is the number of recent frames retained for detection.
const DefaultWindowSize = 20

// Window is a bounded, insertion-ordered buffer of the most recent
// SensorFrames. The simulation driver is the only writer; API handlers and
// the detector read through snapshots. All methods are safe for concurrent
// use and snapshots are stable copies.
type Window struct {
	mu       sync.RWMutex
	frames   []SensorFrame
	head     int // index of the oldest frame
	count    int
	capacity int
}

// NewWindow creates a window holding up to capacity frames.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	return &Window{
		frames:   make([]SensorFrame, capacity),
		capacity: capacity,
	}
}

// Append inserts the newest frame, evicting the oldest when full.
func (w *Window) Append(f SensorFrame) {
	w.mu.Lock()
	defer w.mu.Unlock()
	tail := (w.head + w.count) % w.capacity
	w.frames[tail] = f.Clone()
	if w.count == w.capacity {
		w.head = (w.head + 1) % w.capacity
	} else {
		w.count++
	}
}

// Snapshot returns the window contents oldest-first as deep copies.
func (w *Window) Snapshot() []SensorFrame {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]SensorFrame, 0, w.count)
	for i := 0; i < w.count; i++ {
		out = append(out, w.frames[(w.head+i)%w.capacity].Clone())
	}
	return out
}

// Latest returns a copy of the newest frame, or false when empty.
func (w *Window) Latest() (SensorFrame, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.count == 0 {
		return SensorFrame{}, false
	}
	return w.frames[(w.head+w.count-1)%w.capacity].Clone(), true
}

// Len reports the number of buffered frames.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.count
}

// Full reports whether the window has reached capacity.
func (w *Window) Full() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.count == w.capacity
}

// Capacity reports the fixed window bound.
func (w *Window) Capacity() int {
	return w.capacity
}

// Flush empties the window. Called when the baseline model changes so that
// frames evaluated under different models are never mixed.
func (w *Window) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.head = 0
	w.count = 0
}
