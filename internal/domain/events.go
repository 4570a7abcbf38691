package domain

import (
	"context"
	"time"
)

// EventKind classifies session events fanned out to telemetry sinks.
type EventKind string

const (
	EventRegistered  EventKind = "REGISTERED"
	EventOrder       EventKind = "ORDER"
	EventFill        EventKind = "FILL"
	EventServerError EventKind = "SERVER_ERROR"
	EventAnomaly     EventKind = "ANOMALY"
	EventSessionEnd  EventKind = "SESSION_END"
)

// Event is one session occurrence published to sinks (event stream, status
// hub, notifier). Only the fields relevant to the kind are populated.
type Event struct {
	ID      string        `json:"id"`
	RunID   string        `json:"run_id"`
	Kind    EventKind     `json:"kind"`
	At      time.Time     `json:"at"`
	Step    int64         `json:"step"`
	OrderID string        `json:"order_id,omitempty"`
	Side    Side          `json:"side,omitempty"`
	Price   float64       `json:"price,omitempty"`
	Qty     int64         `json:"qty,omitempty"`
	Message string        `json:"message,omitempty"`
	Account *AccountState `json:"account,omitempty"`
}

// EventSink consumes session events. Implementations must not block the
// caller; slow downstreams buffer or drop internally.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}
