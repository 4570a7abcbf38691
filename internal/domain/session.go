// Package domain contains the core entities of a trading session: the
// registered session identity, market snapshots, orders and fills, ledger
// views, latency samples, and the events fanned out to telemetry sinks.
package domain

import "time"

// Session identifies one registered participant in one replay run. It is
// populated by the registrar and immutable afterwards; channels must never
// be opened without a valid Token and RunID.
type Session struct {
	Host     string
	Scenario string
	Secure   bool
	Name     string
	Password string
	Token    string
	RunID    string
}

// SessionStatus is a point-in-time view of a running session, served by the
// status endpoint and included in the session-end report.
type SessionStatus struct {
	RunID         string       `json:"run_id"`
	Scenario      string       `json:"scenario"`
	Participant   string       `json:"participant"`
	Mode          string       `json:"mode"`
	Strategy      string       `json:"strategy"`
	StartedAt     time.Time    `json:"started_at"`
	MarketChannel string       `json:"market_channel"`
	OrderChannel  string       `json:"order_channel"`
	Account       AccountState `json:"account"`
	StepLatency   LatencyStats `json:"step_latency"`
	FillLatency   LatencyStats `json:"fill_latency"`
	Snapshots     int64        `json:"snapshots"`
	Suppressed    int64        `json:"snapshots_suppressed"`
	DecodeErrors  int64        `json:"decode_errors"`
	ServerErrors  int64        `json:"server_errors"`
}
