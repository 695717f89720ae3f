package api

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tep-monitor/tep-monitor/monitor/stream"
)

// sseWriteTimeout bounds each individual event write so a stalled client
// cannot hold the handler goroutine.
const sseWriteTimeout = 10 * time.Second

// handleStream serves the live event feed in text/event-stream framing.
// Each connection drains its own bounded queue; slow consumers lose frame
// events but never status or analysis events, and are disconnected after
// repeated write failures. A comment heartbeat goes out only after the
// connection has been idle for a full interval.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported by connection", nil)
		return
	}

	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	rc := http.NewResponseController(w)
	heartbeat := time.NewTicker(s.heartbeatEvery)
	defer heartbeat.Stop()

	writeErrors := 0
	write := func(fn func() error) bool {
		_ = rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout))
		if err := fn(); err != nil {
			writeErrors++
			logrus.Debugf("api: sse write to %s failed (%d/%d): %v",
				r.RemoteAddr, writeErrors, stream.MaxConsecutiveWriteErrors, err)
			return writeErrors < stream.MaxConsecutiveWriteErrors
		}
		writeErrors = 0
		flusher.Flush()
		// Each successful write restarts the idle clock.
		heartbeat.Reset(s.heartbeatEvery)
		return true
	}

	logrus.Infof("api: sse subscriber connected from %s", r.RemoteAddr)
	for {
		// Drain everything queued before sleeping again.
		for {
			ev, ok := sub.Pop()
			if !ok {
				break
			}
			if !write(func() error { return stream.WriteSSE(w, ev) }) {
				logrus.Warnf("api: dropping sse subscriber %s after repeated write errors", r.RemoteAddr)
				return
			}
		}
		select {
		case <-r.Context().Done():
			logrus.Infof("api: sse subscriber %s disconnected (%d frames dropped)", r.RemoteAddr, sub.Dropped())
			return
		case <-sub.Notify():
		case <-heartbeat.C:
			if !write(func() error { return stream.WriteHeartbeat(w) }) {
				logrus.Warnf("api: dropping sse subscriber %s after repeated write errors", r.RemoteAddr)
				return
			}
		}
	}
}
