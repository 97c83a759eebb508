package models

import (
	"time"

	"github.com/copygrid/trade-relay/internal/relay"
)

// PushRequest is the POST /v1/push payload. Group is redundant when the
// master credential already scopes one; if both are present they must agree.
type PushRequest struct {
	Group      string  `json:"group,omitempty"`
	Type       string  `json:"type"`
	Ticket     int64   `json:"ticket"`
	UID        string  `json:"uid,omitempty"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side,omitempty"`
	Lots       float64 `json:"lots,omitempty"`
	OpenPrice  float64 `json:"open_price,omitempty"`
	ClosePrice float64 `json:"close_price,omitempty"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
	Magic      int64   `json:"magic,omitempty"`
	Comment    string  `json:"comment,omitempty"`
	OpenTime   int64   `json:"open_time,omitempty"`  // unix seconds
	CloseTime  int64   `json:"close_time,omitempty"` // unix seconds
	Equity     float64 `json:"equity,omitempty"`
}

// PushResponse is returned by POST /v1/push. Duplicated indicates idempotent
// success: the event already existed (id carries the original assignment)
// or the transition was a no-op.
type PushResponse struct {
	ID         int64  `json:"id"`
	Duplicated bool   `json:"duplicated,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// PollResponse is returned by GET /v1/events.
type PollResponse struct {
	Events     []relay.Event `json:"events"`
	Count      int           `json:"count"`
	ServerTime time.Time     `json:"server_time"`
	LastEquity float64       `json:"last_equity,omitempty"`
}

// AckRequest is the POST /v1/ack payload.
type AckRequest struct {
	Group   string `json:"group"`
	SlaveID string `json:"slave_id"`
	EventID int64  `json:"event_id"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// AckResponse is returned by POST /v1/ack. Gone means the event was already
// garbage-collected; the ack is accepted as a no-op.
type AckResponse struct {
	Recorded bool `json:"recorded"`
	Gone     bool `json:"gone,omitempty"`
}

// RegisterSlaveRequest is the POST /v1/slaves payload.
type RegisterSlaveRequest struct {
	Group   string `json:"group"`
	SlaveID string `json:"slave_id"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string              `json:"status"`
	Groups []relay.GroupHealth `json:"groups"`
}
