// Package api exposes the monitoring pipeline over a REST control surface
// plus a server-sent-events stream. Success responses carry a
// {data, meta{timestamp, correlation_id, version}} envelope; failures carry
// {code, message, details?, correlation_id?}.
package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tep-monitor/tep-monitor/monitor"
	"github.com/tep-monitor/tep-monitor/monitor/llm"
	"github.com/tep-monitor/tep-monitor/monitor/pca"
	"github.com/tep-monitor/tep-monitor/monitor/store"
	"github.com/tep-monitor/tep-monitor/monitor/stream"
)

// Server routes the control surface onto the pipeline components.
type Server struct {
	driver       *monitor.Driver
	control      *monitor.ControlPlane
	dispatcher   *llm.Dispatcher // nil when no providers are configured
	store        *store.Store
	bus          *stream.Broadcaster
	baselinePath string

	heartbeatEvery time.Duration // idle gap before an SSE heartbeat comment
}

// NewServer wires the control surface. dispatcher may be nil.
func NewServer(driver *monitor.Driver, control *monitor.ControlPlane, dispatcher *llm.Dispatcher,
	st *store.Store, bus *stream.Broadcaster, baselinePath string) *Server {
	return &Server{
		driver:         driver,
		control:        control,
		dispatcher:     dispatcher,
		store:          st,
		bus:            bus,
		baselinePath:   baselinePath,
		heartbeatEvery: stream.HeartbeatInterval,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /simulation/start", s.handleStart)
	mux.HandleFunc("POST /simulation/pause", s.handlePause)
	mux.HandleFunc("POST /simulation/resume", s.handleResume)
	mux.HandleFunc("POST /simulation/stop", s.handleStop)
	mux.HandleFunc("POST /speed", s.handleSpeed)
	mux.HandleFunc("POST /idv", s.handleIDV)
	mux.HandleFunc("POST /xmv", s.handleXMV)
	mux.HandleFunc("POST /stop-all-faults", s.handleStopAllFaults)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("POST /baseline/reload", s.handleBaselineReload)
	mux.HandleFunc("GET /analysis/history", s.handleHistory)
	mux.HandleFunc("GET /analysis/history/bydate/{date}", s.handleHistoryByDate)
	mux.HandleFunc("GET /analysis/history/download/{format}", s.handleDownload)
	mux.HandleFunc("GET /stream", s.handleStream)
	return logRequests(mux)
}

// logRequests emits one access line per request at debug level.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logrus.Debugf("api: %s %s (%s)", r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.driver.Start(); err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"state": s.driver.State()})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.driver.Pause(); err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"state": s.driver.State()})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.driver.Resume(); err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"state": s.driver.State()})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.driver.Stop(); err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"state": s.driver.State()})
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Preset string `json:"preset"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	preset, err := monitor.ParseSpeedPreset(req.Preset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.control.SetSpeed(preset)
	writeData(w, http.StatusOK, map[string]any{"speed": preset})
}

func (s *Server) handleIDV(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index     int     `json:"index"`
		Magnitude float64 `json:"magnitude"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.control.SetIDVMagnitude(req.Index, req.Magnitude); err != nil {
		writeDomainError(w, err)
		return
	}
	staged := s.control.Staged()
	writeData(w, http.StatusOK, map[string]any{
		"index":     req.Index,
		"magnitude": req.Magnitude,
		"active":    staged.ActiveIDVs(),
	})
}

func (s *Server) handleXMV(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Index int      `json:"index"`
		Value *float64 `json:"value"` // null clears the override
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.control.SetXMVOverride(req.Index, req.Value); err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"index": req.Index,
		"value": req.Value,
	})
}

func (s *Server) handleStopAllFaults(w http.ResponseWriter, r *http.Request) {
	s.control.StopAllFaults()
	staged := s.control.Staged()
	writeData(w, http.StatusOK, map[string]any{"active": staged.ActiveIDVs()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.driver.Status()
	payload := map[string]any{
		"simulation":  status,
		"subscribers": s.bus.SubscriberCount(),
	}
	if s.dispatcher != nil {
		stats := s.dispatcher.Stats()
		payload["dispatcher_queue_depth"] = stats.QueueDepth
		if !stats.LastDispatchAt.IsZero() && stats.LastDispatchAt.UnixNano() > 0 {
			payload["last_analysis_at"] = stats.LastDispatchAt
		}
	}
	writeData(w, http.StatusOK, payload)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	status := s.driver.Status()
	payload := map[string]any{
		"counters":       status.Counters,
		"dropped_frames": s.bus.DroppedFrames(),
		"subscribers":    s.bus.SubscriberCount(),
	}
	if s.dispatcher != nil {
		payload["dispatcher"] = s.dispatcher.Stats()
	}
	writeData(w, http.StatusOK, payload)
}

func (s *Server) handleBaselineReload(w http.ResponseWriter, r *http.Request) {
	model, err := pca.Load(s.baselinePath)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_baseline", "baseline artifact rejected", err.Error())
		return
	}
	if err := s.driver.ReloadBaseline(model); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_baseline", "baseline artifact rejected", err.Error())
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"num_features":   model.NumFeatures(),
		"num_components": model.NumComponents(),
		"threshold_t2":   model.ThresholdT2,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_input", fmt.Sprintf("invalid limit %q", v), nil)
			return
		}
		limit = n
	}
	var since *time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", fmt.Sprintf("invalid since %q, want RFC3339", v), nil)
			return
		}
		since = &t
	}
	recs, err := s.store.List(limit, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err.Error(), nil)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"records": recs, "count": len(recs)})
}

func (s *Server) handleHistoryByDate(w http.ResponseWriter, r *http.Request) {
	day := r.PathValue("date")
	recs, err := s.store.ByDate(day)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"date": day, "records": recs, "count": len(recs)})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	switch format := r.PathValue("format"); format {
	case "jsonl":
		w.Header().Set("Content-Type", "application/jsonl")
		w.Header().Set("Content-Disposition", `attachment; filename="analyses.jsonl"`)
		if err := s.store.ExportJSONL(w); err != nil {
			logrus.Errorf("api: jsonl export: %v", err)
		}
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="analyses.csv"`)
		if err := s.store.ExportCSV(w); err != nil {
			logrus.Errorf("api: csv export: %v", err)
		}
	default:
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("unknown export format %q", format), nil)
	}
}
