// Package stream implements the server-sent-events fan-out: a broadcaster
// publishing frame, status, and analysis events to any number of subscribers,
// each behind its own bounded queue so one slow dashboard never stalls the
// simulation driver.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// EventType discriminates the SSE event kinds.
type EventType string

const (
	EventFrame         EventType = "frame"
	EventStatus        EventType = "status"
	EventAnalysisReady EventType = "analysis_ready"
)

// HeartbeatInterval is how long a connection may stay idle before a comment
// line is written to keep intermediaries from closing it.
const HeartbeatInterval = 15 * time.Second

// DefaultQueueCapacity bounds each subscriber's outbound queue.
const DefaultQueueCapacity = 64

// MaxConsecutiveWriteErrors disconnects a subscriber after this many failed
// writes in a row.
const MaxConsecutiveWriteErrors = 3

// Event is one item delivered to subscribers in publish order.
type Event struct {
	Type EventType
	ID   string // optional SSE id field; the step number for frames
	Data any    // JSON-serializable payload
}

// droppable reports whether backpressure may discard the event. Frames prefer
// latency over completeness; status and analysis events are critical.
func (e Event) droppable() bool { return e.Type == EventFrame }

// Broadcaster fans events out to all current subscribers. Publish never
// blocks on a slow subscriber.
type Broadcaster struct {
	mu       sync.Mutex
	subs     map[*Subscriber]struct{}
	queueCap int

	droppedFrames atomic.Int64
}

// NewBroadcaster creates a broadcaster with the given per-subscriber queue
// capacity (0 uses DefaultQueueCapacity).
func NewBroadcaster(queueCap int) *Broadcaster {
	if queueCap <= 0 {
		queueCap = DefaultQueueCapacity
	}
	return &Broadcaster{
		subs:     make(map[*Subscriber]struct{}),
		queueCap: queueCap,
	}
}

// Subscribe registers a new subscriber. The caller must Unsubscribe when the
// connection ends.
func (b *Broadcaster) Subscribe() *Subscriber {
	s := &Subscriber{
		capacity: b.queueCap,
		notify:   make(chan struct{}, 1),
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber and releases its queue.
func (b *Broadcaster) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
	s.close()
}

// Publish delivers ev to every subscriber in publish order.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, s := range subs {
		if s.push(ev) {
			b.droppedFrames.Add(1)
		}
	}
}

// SubscriberCount reports the current number of subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// DroppedFrames reports the total frame events discarded by backpressure
// across all subscribers.
func (b *Broadcaster) DroppedFrames() int64 {
	return b.droppedFrames.Load()
}

// Subscriber holds one connection's outbound queue. Events are delivered
// strictly in publish order. The queue is bounded for frame events; critical
// events are always enqueued even when that exceeds the bound.
type Subscriber struct {
	mu       sync.Mutex
	queue    []Event
	capacity int
	closed   bool
	dropped  int64

	notify chan struct{}
}

// push enqueues ev, applying the drop policy. It reports whether a frame
// event was discarded.
func (s *Subscriber) push(ev Event) (droppedFrame bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if len(s.queue) >= s.capacity {
		if ev.droppable() {
			// Drop the oldest frame event to make room; if the queue is
			// all critical events, drop the incoming frame instead.
			if !s.evictOldestFrameLocked() {
				s.dropped++
				return true
			}
			droppedFrame = true
			s.dropped++
		}
		// Critical events are appended past the bound rather than lost.
	}
	s.queue = append(s.queue, ev)
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return droppedFrame
}

func (s *Subscriber) evictOldestFrameLocked() bool {
	for i, q := range s.queue {
		if q.droppable() {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Pop removes and returns the oldest queued event.
func (s *Subscriber) Pop() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Event{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

// Notify is signalled whenever the queue transitions to non-empty.
func (s *Subscriber) Notify() <-chan struct{} {
	return s.notify
}

// Dropped reports frame events discarded for this subscriber.
func (s *Subscriber) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
}

// WriteSSE encodes one event in text/event-stream framing.
func WriteSSE(w io.Writer, ev Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("sse: encode %s event: %w", ev.Type, err)
	}
	if ev.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", ev.ID); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

// WriteHeartbeat writes the idle keep-alive comment line.
func WriteHeartbeat(w io.Writer) error {
	_, err := io.WriteString(w, ": heartbeat\n\n")
	return err
}
