package store

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(s *Store, at time.Time, event string) *AnalysisRecord {
	return &AnalysisRecord{
		RecordID:      s.NextRecordID(at),
		CreatedAt:     at,
		EventID:       event,
		Status:        RecordCompleted,
		PromptSummary: "step=1 t2=42.00",
		PerProvider: map[string]ProviderResult{
			"cloud-a": {Status: StatusOK, ResponseTimeMS: 900, Text: "diagnosis", WordCount: 1},
			"local":   {Status: StatusTimeout, ResponseTimeMS: 30000, ErrorMessage: "context deadline exceeded"},
		},
		PerformanceSummary: map[string]ProviderPerformance{
			"cloud-a": {Status: StatusOK, ResponseTimeMS: 900, WordCount: 1},
			"local":   {Status: StatusTimeout, ResponseTimeMS: 30000},
		},
	}
}

func TestAppendThenListRoundTrip(t *testing.T) {
	// GIVEN a store with one appended record
	s, err := New(t.TempDir())
	require.NoError(t, err)
	at := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	rec := testRecord(s, at, "ev-1")
	require.NoError(t, s.Append(rec))

	// WHEN listed
	got, err := s.List(10, nil)
	require.NoError(t, err)

	// THEN the record is observable with all fields intact
	require.Len(t, got, 1)
	assert.Equal(t, rec.RecordID, got[0].RecordID)
	assert.Equal(t, "ev-1", got[0].EventID)
	assert.Equal(t, StatusOK, got[0].PerProvider["cloud-a"].Status)
	assert.Equal(t, StatusTimeout, got[0].PerProvider["local"].Status)
}

func TestRecordIDsMonotoneWithinDay(t *testing.T) {
	// GIVEN three IDs allocated on the same UTC day
	s, err := New(t.TempDir())
	require.NoError(t, err)
	at := time.Date(2026, 8, 24, 3, 0, 0, 0, time.UTC)
	a := s.NextRecordID(at)
	b := s.NextRecordID(at.Add(time.Hour))
	c := s.NextRecordID(at.Add(2 * time.Hour))

	// THEN they are strictly increasing and carry the date prefix
	assert.Equal(t, "2026-08-24-000001", a)
	assert.Equal(t, "2026-08-24-000002", b)
	assert.Equal(t, "2026-08-24-000003", c)
}

func TestRecordIDsSurviveRestart(t *testing.T) {
	// GIVEN a store with two persisted records
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	at := time.Date(2026, 8, 24, 3, 0, 0, 0, time.UTC)
	require.NoError(t, s.Append(testRecord(s, at, "ev-1")))
	require.NoError(t, s.Append(testRecord(s, at, "ev-2")))

	// WHEN a fresh store opens the same directory
	restarted, err := New(dir)
	require.NoError(t, err)

	// THEN the next ID continues the sequence instead of colliding
	assert.Equal(t, "2026-08-24-000003", restarted.NextRecordID(at))
}

func TestIDSequenceResetsAcrossDays(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	day1 := time.Date(2026, 8, 24, 23, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 25, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-08-24-000001", s.NextRecordID(day1))
	assert.Equal(t, "2026-08-25-000001", s.NextRecordID(day2))
}

func TestByDatePartitioning(t *testing.T) {
	// GIVEN records across two days
	s, err := New(t.TempDir())
	require.NoError(t, err)
	day1 := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.Append(testRecord(s, day1, "ev-1")))
	require.NoError(t, s.Append(testRecord(s, day2, "ev-2")))
	require.NoError(t, s.Append(testRecord(s, day2, "ev-3")))

	// WHEN each day is queried
	d1, err := s.ByDate("2026-08-24")
	require.NoError(t, err)
	d2, err := s.ByDate("2026-08-25")
	require.NoError(t, err)
	empty, err := s.ByDate("2026-08-26")
	require.NoError(t, err)

	// THEN records land in their UTC day files
	assert.Len(t, d1, 1)
	assert.Len(t, d2, 2)
	assert.Empty(t, empty)

	days, err := s.Days()
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-08-24", "2026-08-25"}, days)
}

func TestByDateRejectsMalformedDate(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = s.ByDate("24-08-2026")
	assert.Error(t, err)
}

func TestListNewestFirstWithLimitAndSince(t *testing.T) {
	// GIVEN five records across two days
	s, err := New(t.TempDir())
	require.NoError(t, err)
	base := time.Date(2026, 8, 24, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * 10 * time.Hour)
		require.NoError(t, s.Append(testRecord(s, at, fmt.Sprintf("ev-%d", i))))
	}

	// WHEN listed with a limit
	got, err := s.List(3, nil)
	require.NoError(t, err)

	// THEN the newest three come back, newest first
	require.Len(t, got, 3)
	assert.Equal(t, "ev-4", got[0].EventID)
	assert.Equal(t, "ev-3", got[1].EventID)
	assert.Equal(t, "ev-2", got[2].EventID)

	// WHEN filtered by since
	since := base.Add(25 * time.Hour)
	got, err = s.List(10, &since)
	require.NoError(t, err)

	// THEN only records at or after the cutoff remain
	require.Len(t, got, 2)
	assert.Equal(t, "ev-4", got[0].EventID)
	assert.Equal(t, "ev-3", got[1].EventID)
}

func TestAppendRequiresRecordID(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	err = s.Append(&AnalysisRecord{CreatedAt: time.Now()})
	assert.Error(t, err)
}

func TestCorruptLineSurfacesAsError(t *testing.T) {
	// GIVEN a day file with a torn line
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2026-08-24.jsonl"), []byte("{not json\n"), 0o644))

	// WHEN read
	_, err = s.ByDate("2026-08-24")

	// THEN corruption is reported rather than silently skipped
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt")
}

func TestExportJSONLWholeHistoryOldestFirst(t *testing.T) {
	// GIVEN records on two days
	s, err := New(t.TempDir())
	require.NoError(t, err)
	day1 := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.Append(testRecord(s, day1, "ev-old")))
	require.NoError(t, s.Append(testRecord(s, day2, "ev-new")))

	// WHEN exported
	var buf bytes.Buffer
	require.NoError(t, s.ExportJSONL(&buf))

	// THEN both records stream out, oldest first
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "ev-old")
	assert.Contains(t, lines[1], "ev-new")
}

func TestExportCSVOneRowPerProviderResult(t *testing.T) {
	// GIVEN one record with two provider results
	s, err := New(t.TempDir())
	require.NoError(t, err)
	at := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.Append(testRecord(s, at, "ev-1")))

	// WHEN exported as CSV
	var buf bytes.Buffer
	require.NoError(t, s.ExportCSV(&buf))

	// THEN the header plus one row per provider come back
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "record_id", rows[0][0])
	assert.Equal(t, "cloud-a", rows[1][4])
	assert.Equal(t, "local", rows[2][4])
	assert.Equal(t, "timeout", rows[2][5])
}
