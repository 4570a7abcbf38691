package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oskarw/simtrader/internal/domain"
)

// appendTimeout bounds each XADD so a stalled Redis cannot back the writer
// up indefinitely.
const appendTimeout = 5 * time.Second

// EventStream publishes session events to the Redis stream
// {prefix}:{run_id} using XADD with approximate MAXLEN trimming. Publishes
// go through a buffered channel and a background writer, so the session hot
// path never blocks on Redis; events are dropped (and counted) when the
// buffer is full.
type EventStream struct {
	rdb    *redis.Client
	logger *slog.Logger
	prefix string
	maxLen int64

	buf      chan domain.Event
	done     chan struct{}
	finished chan struct{}
	once     sync.Once
	dropped  atomic.Int64
}

var _ domain.EventSink = (*EventStream)(nil)

// NewEventStream starts the background writer. maxLen <= 0 disables
// trimming.
func NewEventStream(c *Client, prefix string, maxLen int64, logger *slog.Logger) *EventStream {
	s := &EventStream{
		rdb:      c.Underlying(),
		logger:   logger.With(slog.String("component", "event_stream")),
		prefix:   prefix,
		maxLen:   maxLen,
		buf:      make(chan domain.Event, 256),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	go s.loop()
	return s
}

// Publish implements domain.EventSink without blocking the caller.
func (s *EventStream) Publish(_ context.Context, ev domain.Event) error {
	select {
	case <-s.done:
		return fmt.Errorf("redis: event stream closed")
	default:
	}

	select {
	case s.buf <- ev:
		return nil
	default:
		s.dropped.Add(1)
		return nil
	}
}

// Close stops the writer after draining buffered events.
func (s *EventStream) Close() {
	s.once.Do(func() { close(s.done) })
	<-s.finished

	if n := s.dropped.Load(); n > 0 {
		s.logger.Warn("events dropped under backpressure", slog.Int64("count", n))
	}
}

func (s *EventStream) loop() {
	defer close(s.finished)

	for {
		select {
		case ev := <-s.buf:
			s.append(ev)
		case <-s.done:
			for {
				select {
				case ev := <-s.buf:
					s.append(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *EventStream) append(ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Warn("event marshal failed", slog.String("error", err.Error()))
		return
	}

	stream := s.prefix
	if ev.RunID != "" {
		stream += ":" + ev.RunID
	}

	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()

	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{
			"kind":    string(ev.Kind),
			"payload": payload,
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.rdb.XAdd(ctx, args).Err(); err != nil {
		s.logger.Warn("event stream append failed",
			slog.String("stream", stream),
			slog.String("error", err.Error()),
		)
	}
}
