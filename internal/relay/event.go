package relay

import (
	"fmt"
	"time"
)

// EventType is the lifecycle stage a push describes.
type EventType string

const (
	EventOpen   EventType = "OPEN"
	EventModify EventType = "MODIFY"
	EventClose  EventType = "CLOSE"
)

// Valid reports whether t is one of the three lifecycle types.
func (t EventType) Valid() bool {
	return t == EventOpen || t == EventModify || t == EventClose
}

// AckStatus is a slave's terminal outcome for one event.
type AckStatus string

const (
	AckDone AckStatus = "DONE"
	AckErr  AckStatus = "ERR"
	AckSkip AckStatus = "SKIP"
)

// Valid reports whether s is a recognized ack status.
func (s AckStatus) Valid() bool {
	return s == AckDone || s == AckErr || s == AckSkip
}

// Ack records one slave's outcome for one event.
type Ack struct {
	Status AckStatus `json:"status"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

// Event is one accepted trade-lifecycle event. Immutable after append except
// for its ack map.
type Event struct {
	ID          int64     `json:"id"`
	Group       string    `json:"group"`
	Type        EventType `json:"type"`
	PositionKey string    `json:"position_key"`

	Ticket     int64     `json:"ticket"`
	UID        string    `json:"uid,omitempty"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side,omitempty"`
	Lots       float64   `json:"lots,omitempty"`
	OpenPrice  float64   `json:"open_price,omitempty"`
	ClosePrice float64   `json:"close_price,omitempty"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	Magic      int64     `json:"magic,omitempty"`
	Comment    string    `json:"comment,omitempty"`
	OpenTime   time.Time `json:"open_time,omitempty"`
	CloseTime  time.Time `json:"close_time,omitempty"`

	// Equity is the master account equity at push time; zero when the master
	// omitted it and no fallback was known yet.
	Equity float64 `json:"equity,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	Acks      map[string]Ack `json:"acks,omitempty"`
}

// TicketState tracks the last accepted transition for one (group, positionKey).
type TicketState struct {
	IsOpen    bool      `json:"is_open"`
	LastType  EventType `json:"last_type"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SlaveState tracks one consumer within a group.
type SlaveState struct {
	LastSeenAt time.Time `json:"last_seen_at"`
	LastAckID  int64     `json:"last_ack_id"`
}

// PositionKey derives the identity used to correlate a position's lifecycle.
// A master-supplied uid wins; otherwise ticket plus open time. A bare ticket
// number is the last resort and is known to be reused by brokers across
// unrelated trades, so callers should supply one of the stronger forms.
func PositionKey(uid string, ticket int64, openTime time.Time) string {
	if uid != "" {
		return uid
	}
	if !openTime.IsZero() {
		return fmt.Sprintf("%d|%d", ticket, openTime.Unix())
	}
	return fmt.Sprintf("%d", ticket)
}
