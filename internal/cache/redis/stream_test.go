package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oskarw/simtrader/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newStalledStream builds an EventStream whose writer never runs, so the
// buffer fills exactly as Publish leaves it.
func newStalledStream(buffer int) *EventStream {
	return &EventStream{
		logger:   testLogger(),
		prefix:   "simtrader:events",
		buf:      make(chan domain.Event, buffer),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

func TestEventStreamPublishNeverBlocks(t *testing.T) {
	s := newStalledStream(8)

	for i := 0; i < 20; i++ {
		require.NoError(t, s.Publish(context.Background(), domain.Event{
			Kind:  domain.EventFill,
			RunID: "run-7",
		}))
	}

	assert.Equal(t, int64(12), s.dropped.Load(), "overflow beyond the buffer is dropped, not blocked on")
	assert.Len(t, s.buf, 8)
}

func TestEventStreamRejectsPublishAfterClose(t *testing.T) {
	s := newStalledStream(8)
	close(s.done)

	err := s.Publish(context.Background(), domain.Event{Kind: domain.EventOrder})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}
