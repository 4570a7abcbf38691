package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/oskarw/simtrader/internal/domain"
)

// multipartThreshold is the archive size above which the upload switches to
// multipart.
const multipartThreshold = 8 * 1024 * 1024

// RunArchiver collects a session's events as they flow and uploads them as
// one newline-delimited JSON object when the run finishes. Collection never
// fails the session; upload happens once, on Flush.
type RunArchiver struct {
	writer domain.BlobWriter
	prefix string
	logger *slog.Logger

	// partSizeOverride is set by tests to force the multipart path.
	partSizeOverride int64

	mu      sync.Mutex
	runID   string
	events  []domain.Event
	flushed bool
}

var _ domain.EventSink = (*RunArchiver)(nil)

// NewRunArchiver creates a RunArchiver writing under the given key prefix.
func NewRunArchiver(writer domain.BlobWriter, prefix string, logger *slog.Logger) *RunArchiver {
	if prefix == "" {
		prefix = "runs"
	}
	return &RunArchiver{
		writer: writer,
		prefix: prefix,
		logger: logger.With(slog.String("component", "run_archiver")),
	}
}

// Publish implements domain.EventSink by buffering the event in memory.
func (a *RunArchiver) Publish(_ context.Context, ev domain.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.flushed {
		return fmt.Errorf("s3blob: archive for run %s already uploaded", a.runID)
	}
	if a.runID == "" && ev.RunID != "" {
		a.runID = ev.RunID
	}
	a.events = append(a.events, ev)
	return nil
}

// Flush serialises the collected events to JSONL and uploads them to
// <prefix>/<run_id>/events.jsonl. It is a no-op when nothing was collected,
// and uploads at most once.
func (a *RunArchiver) Flush(ctx context.Context) error {
	a.mu.Lock()
	if a.flushed || len(a.events) == 0 {
		a.mu.Unlock()
		return nil
	}
	a.flushed = true
	events := a.events
	a.events = nil
	runID := a.runID
	a.mu.Unlock()

	if runID == "" {
		runID = "unknown"
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	path := fmt.Sprintf("%s/%s/events.jsonl", a.prefix, runID)

	if int64(len(buf)) >= multipartThreshold || a.partSizeOverride > 0 {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), a.partSizeOverride)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive upload: %w", err)
	}

	a.logger.Info("run archive uploaded",
		slog.String("path", path),
		slog.Int("events", len(events)),
		slog.Int("bytes", len(buf)),
	)
	return nil
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
// Each element is marshalled as a single compact JSON line followed by '\n'.
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
