package logging

import (
	"context"
	"time"
)

// Audit event kinds.
const (
	EventOffered    = "offered"
	EventAccepted   = "accepted"
	EventRejected   = "rejected"
	EventReassigned = "reassigned"
	EventStatus     = "status"
)

// Record captures one dispatch decision and its outcome.
type Record struct {
	Timestamp  time.Time `json:"timestamp"`
	Event      string    `json:"event"`
	OrderID    string    `json:"order_id"`
	RiderID    string    `json:"rider_id,omitempty"`
	DeliveryID string    `json:"delivery_id,omitempty"`
	// Riders lists the identities notified during an offer broadcast.
	Riders []string `json:"riders,omitempty"`
	Status string   `json:"status,omitempty"`
	Reason string   `json:"reason,omitempty"`
	// LatencyMS is the accept resolution latency in milliseconds.
	LatencyMS int64 `json:"latency_ms,omitempty"`
}

// Query defines filters for retrieving records.
type Query struct {
	Start   time.Time
	End     time.Time
	OrderID string
	RiderID string
	Event   string
}

// Matches reports whether the record satisfies the query filters.
func (q Query) Matches(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.OrderID != "" && r.OrderID != q.OrderID {
		return false
	}
	if q.Event != "" && r.Event != q.Event {
		return false
	}
	if q.RiderID != "" {
		if r.RiderID == q.RiderID {
			return true
		}
		for _, id := range r.Riders {
			if id == q.RiderID {
				return true
			}
		}
		return false
	}
	return true
}

// LogStore persists audit records and supports querying.
type LogStore interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}
