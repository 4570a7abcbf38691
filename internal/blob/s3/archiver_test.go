package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oskarw/simtrader/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeWriter captures uploads in memory.
type fakeWriter struct {
	path        string
	contentType string
	data        []byte
	multipart   bool
	puts        int
}

func (f *fakeWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	f.puts++
	f.path = path
	f.contentType = contentType
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.data = buf
	return nil
}

func (f *fakeWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	f.puts++
	f.multipart = true
	f.path = path
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.data = buf
	return nil
}

func TestRunArchiverUploadsJSONL(t *testing.T) {
	w := &fakeWriter{}
	a := NewRunArchiver(w, "runs", testLogger())

	events := []domain.Event{
		{ID: "e1", RunID: "run-7", Kind: domain.EventRegistered, At: time.Now().UTC()},
		{ID: "e2", RunID: "run-7", Kind: domain.EventOrder, OrderID: "ORD_team7_1_1", Side: domain.SideBuy, Price: 99.5, Qty: 10},
		{ID: "e3", RunID: "run-7", Kind: domain.EventSessionEnd, Step: 40},
	}
	for _, ev := range events {
		require.NoError(t, a.Publish(context.Background(), ev))
	}

	require.NoError(t, a.Flush(context.Background()))

	assert.Equal(t, "runs/run-7/events.jsonl", w.path)
	assert.Equal(t, "application/x-ndjson", w.contentType)
	assert.False(t, w.multipart)

	lines := strings.Split(strings.TrimSpace(string(w.data)), "\n")
	require.Len(t, lines, 3)

	var first domain.Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, domain.EventRegistered, first.Kind)

	var second domain.Event
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "ORD_team7_1_1", second.OrderID)
	assert.Equal(t, int64(10), second.Qty)
}

func TestRunArchiverFlushesAtMostOnce(t *testing.T) {
	w := &fakeWriter{}
	a := NewRunArchiver(w, "runs", testLogger())

	require.NoError(t, a.Publish(context.Background(), domain.Event{RunID: "run-7", Kind: domain.EventFill}))
	require.NoError(t, a.Flush(context.Background()))
	require.NoError(t, a.Flush(context.Background()))

	assert.Equal(t, 1, w.puts)

	err := a.Publish(context.Background(), domain.Event{Kind: domain.EventFill})
	assert.Error(t, err, "publishing after upload must be refused")
}

func TestRunArchiverSkipsEmptyRun(t *testing.T) {
	w := &fakeWriter{}
	a := NewRunArchiver(w, "runs", testLogger())

	require.NoError(t, a.Flush(context.Background()))
	assert.Equal(t, 0, w.puts)
}

func TestRunArchiverLargePayloadUsesMultipart(t *testing.T) {
	w := &fakeWriter{}
	a := NewRunArchiver(w, "archive", testLogger())
	a.partSizeOverride = minPartSize

	require.NoError(t, a.Publish(context.Background(), domain.Event{RunID: "run-9", Kind: domain.EventFill, Message: strings.Repeat("x", 64)}))
	require.NoError(t, a.Flush(context.Background()))

	assert.True(t, w.multipart)
	assert.Equal(t, "archive/run-9/events.jsonl", w.path)
	assert.True(t, bytes.Contains(w.data, []byte("run-9")))
}
