package s3blob

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabagool/updownbot/internal/domain"
)

// fakeSource serves scripted window reports and counts deletions.
type fakeSource struct {
	reports   []domain.WindowReport
	queryErr  error
	deleteErr error
	deleted   []time.Time
}

func (f *fakeSource) WindowsBefore(ctx context.Context, cutoff time.Time) ([]domain.WindowReport, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.reports, nil
}

func (f *fakeSource) DeleteWindowsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	f.deleted = append(f.deleted, cutoff)
	return int64(len(f.reports)), nil
}

// fakeWriter captures uploads in memory.
type fakeWriter struct {
	paths  []string
	bodies []string
	types  []string
	err    error
}

func (f *fakeWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if f.err != nil {
		return f.err
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.paths = append(f.paths, path)
	f.bodies = append(f.bodies, string(body))
	f.types = append(f.types, contentType)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleReports() []domain.WindowReport {
	start := time.Date(2026, 8, 20, 19, 0, 0, 0, time.UTC)
	return []domain.WindowReport{
		{
			MarketID:     "m1",
			Question:     "Bitcoin Up or Down?",
			Outcome:      domain.OutcomeYes,
			YesShares:    1266,
			YesAvgPrice:  0.517,
			NoShares:     1294,
			NoAvgPrice:   0.449,
			TotalCost:    1235.63,
			PairCost:     0.966,
			LockedProfit: 30.37,
			FillCount:    12,
			WindowStart:  start,
			WindowEnd:    start.Add(15 * time.Minute),
		},
		{
			MarketID:    "m2",
			Question:    "Bitcoin Up or Down?",
			Outcome:     domain.OutcomeNo,
			WindowStart: start.Add(15 * time.Minute),
			WindowEnd:   start.Add(30 * time.Minute),
		},
	}
}

func TestArchiveWindows_UploadsJSONLThenDeletes(t *testing.T) {
	src := &fakeSource{reports: sampleReports()}
	w := &fakeWriter{}
	a := NewArchiver(w, src, testLogger())

	cutoff := time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)
	n, err := a.ArchiveWindows(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.Len(t, w.paths, 1)
	assert.Equal(t, "archive/windows/2026-08-23.jsonl", w.paths[0])
	assert.Equal(t, "application/x-ndjson", w.types[0])

	// One JSON object per line, decodable back to the report.
	lines := strings.Split(strings.TrimRight(w.bodies[0], "\n"), "\n")
	require.Len(t, lines, 2)
	var got domain.WindowReport
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal(t, "m1", got.MarketID)
	assert.InDelta(t, 30.37, got.LockedProfit, 1e-9)

	// Rows were deleted with the same cutoff, after the upload.
	require.Len(t, src.deleted, 1)
	assert.Equal(t, cutoff, src.deleted[0])
}

func TestArchiveWindows_NothingToArchiveIsANoOp(t *testing.T) {
	src := &fakeSource{}
	w := &fakeWriter{}
	a := NewArchiver(w, src, testLogger())

	n, err := a.ArchiveWindows(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.paths)
	assert.Empty(t, src.deleted)
}

func TestArchiveWindows_UploadFailureKeepsRows(t *testing.T) {
	src := &fakeSource{reports: sampleReports()}
	w := &fakeWriter{err: errors.New("bucket unreachable")}
	a := NewArchiver(w, src, testLogger())

	_, err := a.ArchiveWindows(context.Background(), time.Now())
	require.Error(t, err)
	assert.Empty(t, src.deleted)
}

func TestArchiveWindows_DeleteFailureStillReportsUpload(t *testing.T) {
	src := &fakeSource{reports: sampleReports(), deleteErr: errors.New("pg down")}
	w := &fakeWriter{}
	a := NewArchiver(w, src, testLogger())

	n, err := a.ArchiveWindows(context.Background(), time.Now())
	require.Error(t, err)
	// The upload happened, so the count reflects it even though cleanup failed.
	assert.Equal(t, int64(2), n)
	require.Len(t, w.paths, 1)
}

func TestArchivePath_PartitionsByDay(t *testing.T) {
	before := time.Date(2026, 8, 23, 13, 45, 0, 0, time.UTC)
	assert.Equal(t, "archive/windows/2026-08-23.jsonl", archivePath(before))
}
