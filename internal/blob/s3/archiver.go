package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gabagool/updownbot/internal/domain"
)

// WindowSource is the slice of the journal the archiver needs: read old
// window reports and delete them once safely uploaded.
type WindowSource interface {
	WindowsBefore(ctx context.Context, cutoff time.Time) ([]domain.WindowReport, error)
	DeleteWindowsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Archiver moves settled window reports from the journal to object storage
// as JSONL, partitioned by day. Rows are deleted only after the upload
// succeeds, so a failed run leaves everything queryable and retryable.
type Archiver struct {
	writer domain.BlobWriter
	source WindowSource
	logger *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, source WindowSource, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		source: source,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveWindows uploads every window report that ended before the cutoff
// and removes the archived rows. It returns the number of archived windows.
func (a *Archiver) ArchiveWindows(ctx context.Context, before time.Time) (int64, error) {
	reports, err := a.source.WindowsBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive windows query: %w", err)
	}
	if len(reports) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(reports)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive windows marshal: %w", err)
	}

	path := archivePath(before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive windows upload: %w", err)
	}

	deleted, err := a.source.DeleteWindowsBefore(ctx, before)
	if err != nil {
		// The upload already succeeded; next run re-uploads the same rows,
		// which overwrites the same key harmlessly.
		return int64(len(reports)), fmt.Errorf("s3blob: archive windows cleanup: %w", err)
	}

	a.logger.Info("windows archived",
		slog.String("path", path),
		slog.Int("uploaded", len(reports)),
		slog.Int64("deleted", deleted),
	)
	return int64(len(reports)), nil
}

// Run triggers an archive pass once per interval until ctx is done.
func (a *Archiver) Run(ctx context.Context, interval, retention time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-retention)
			if _, err := a.ArchiveWindows(ctx, cutoff); err != nil {
				a.logger.Warn("archive pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// archivePath builds the S3 key for one archive file, partitioned by the
// cutoff day: archive/windows/2026-08-23.jsonl.
func archivePath(before time.Time) string {
	return fmt.Sprintf("archive/windows/%s.jsonl", before.Format("2006-01-02"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)
