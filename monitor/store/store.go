// Package store persists LLM analysis records as an append-only log
// partitioned by UTC calendar date, one JSONL file per day.
package store

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ProviderStatus classifies one provider's outcome within a dispatch.
type ProviderStatus string

const (
	StatusOK      ProviderStatus = "ok"
	StatusTimeout ProviderStatus = "timeout"
	StatusRefused ProviderStatus = "refused"
	StatusError   ProviderStatus = "error"
)

// ProviderResult is one provider's response within an analysis.
type ProviderResult struct {
	Status         ProviderStatus `json:"status"`
	ResponseTimeMS int64          `json:"response_time_ms"`
	Text           string         `json:"text,omitempty"`
	WordCount      int            `json:"word_count"`
	ErrorMessage   string         `json:"error_message,omitempty"`
}

// ProviderPerformance is the compact per-provider aggregate carried in the
// performance summary and the analysis_ready event.
type ProviderPerformance struct {
	Status         ProviderStatus `json:"status"`
	ResponseTimeMS int64          `json:"response_time_ms"`
	WordCount      int            `json:"word_count"`
}

// Record statuses.
const (
	RecordCompleted  = "completed"
	RecordError      = "error" // completed, but no provider returned ok
	RecordSuppressed = "suppressed"
)

// AnalysisRecord is one comparative LLM analysis. Records are written once at
// dispatch completion and never modified.
type AnalysisRecord struct {
	RecordID           string                         `json:"record_id"`
	CreatedAt          time.Time                      `json:"created_at"`
	EventID            string                         `json:"event_id"`
	Status             string                         `json:"status"`
	PromptSummary      string                         `json:"prompt_summary"`
	PerProvider        map[string]ProviderResult      `json:"per_provider"`
	PerformanceSummary map[string]ProviderPerformance `json:"performance_summary"`
}

var dayFileRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})\.jsonl$`)

// Store is the append-only analysis log. Appends are durable (file-flushed)
// before they return; record IDs are monotone within each day file.
type Store struct {
	dir string

	mu     sync.Mutex
	seqDay string
	seq    int
}

// New opens (creating if needed) a store rooted at dir.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("analysis store: create %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store root.
func (s *Store) Dir() string { return s.dir }

// NextRecordID allocates the next monotone record ID for the given time's
// UTC date, e.g. "2026-08-24-000003".
func (s *Store) NextRecordID(at time.Time) string {
	day := at.UTC().Format("2006-01-02")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seqDay != day {
		s.seqDay = day
		s.seq = s.countRecords(day)
	}
	s.seq++
	return fmt.Sprintf("%s-%06d", day, s.seq)
}

// countRecords counts the lines already present in a day file so that
// restarts keep record IDs monotone.
func (s *Store) countRecords(day string) int {
	f, err := os.Open(s.dayPath(day))
	if err != nil {
		return 0
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for sc.Scan() {
		if len(strings.TrimSpace(sc.Text())) > 0 {
			n++
		}
	}
	return n
}

func (s *Store) dayPath(day string) string {
	return filepath.Join(s.dir, day+".jsonl")
}

// Append durably writes one record to its day file. Once Append returns nil,
// List observes the record.
func (s *Store) Append(rec *AnalysisRecord) error {
	if rec.RecordID == "" {
		return fmt.Errorf("analysis store: record has no ID")
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("analysis store: encode record %s: %w", rec.RecordID, err)
	}
	day := rec.CreatedAt.UTC().Format("2006-01-02")

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.dayPath(day), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("analysis store: open %s: %w", day, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("analysis store: write %s: %w", rec.RecordID, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("analysis store: sync %s: %w", day, err)
	}
	return nil
}

// Days returns the dates with records, oldest first.
func (s *Store) Days() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("analysis store: read dir: %w", err)
	}
	var days []string
	for _, e := range entries {
		if m := dayFileRe.FindStringSubmatch(e.Name()); m != nil {
			days = append(days, m[1])
		}
	}
	sort.Strings(days)
	return days, nil
}

// ByDate returns all records of one date (YYYY-MM-DD) in append order.
func (s *Store) ByDate(day string) ([]AnalysisRecord, error) {
	if _, err := time.Parse("2006-01-02", day); err != nil {
		return nil, fmt.Errorf("analysis store: invalid date %q", day)
	}
	return s.readDay(day)
}

func (s *Store) readDay(day string) ([]AnalysisRecord, error) {
	f, err := os.Open(s.dayPath(day))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("analysis store: open %s: %w", day, err)
	}
	defer f.Close()
	var recs []AnalysisRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec AnalysisRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("analysis store: corrupt record in %s: %w", day, err)
		}
		recs = append(recs, rec)
	}
	return recs, sc.Err()
}

// List returns up to limit records newest-first, optionally only those
// created at or after since.
func (s *Store) List(limit int, since *time.Time) ([]AnalysisRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	days, err := s.Days()
	if err != nil {
		return nil, err
	}
	var out []AnalysisRecord
	for i := len(days) - 1; i >= 0 && len(out) < limit; i-- {
		recs, err := s.readDay(days[i])
		if err != nil {
			return nil, err
		}
		for j := len(recs) - 1; j >= 0 && len(out) < limit; j-- {
			if since != nil && recs[j].CreatedAt.Before(*since) {
				continue
			}
			out = append(out, recs[j])
		}
	}
	return out, nil
}

// ExportJSONL streams the whole history, oldest first, as JSON lines.
func (s *Store) ExportJSONL(w io.Writer) error {
	days, err := s.Days()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for _, day := range days {
		recs, err := s.readDay(day)
		if err != nil {
			return err
		}
		for i := range recs {
			if err := enc.Encode(&recs[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// ExportCSV streams the whole history as CSV, one row per provider result.
func (s *Store) ExportCSV(w io.Writer) error {
	days, err := s.Days()
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	header := []string{"record_id", "created_at", "event_id", "status", "provider", "provider_status", "response_time_ms", "word_count", "error_message", "prompt_summary"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, day := range days {
		recs, err := s.readDay(day)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			providers := make([]string, 0, len(rec.PerProvider))
			for name := range rec.PerProvider {
				providers = append(providers, name)
			}
			sort.Strings(providers)
			if len(providers) == 0 {
				providers = []string{""}
			}
			for _, name := range providers {
				pr := rec.PerProvider[name]
				row := []string{
					rec.RecordID,
					rec.CreatedAt.UTC().Format(time.RFC3339),
					rec.EventID,
					rec.Status,
					name,
					string(pr.Status),
					strconv.FormatInt(pr.ResponseTimeMS, 10),
					strconv.Itoa(pr.WordCount),
					pr.ErrorMessage,
					rec.PromptSummary,
				}
				if err := cw.Write(row); err != nil {
					return err
				}
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
