// Package events defines the typed events published on the internal bus by
// the dispatch coordinator. Subscribers (metrics bridges, tests, future
// admin surfaces) receive them best-effort.
package events

import (
	"time"

	"github.com/Jammarkeun/PawfectFinds/core/model"
)

// OfferEvent is published when an order is broadcast to available riders.
type OfferEvent struct {
	Order          model.Order
	RidersNotified []string
}

// AcceptEvent is published for every resolved accept intent, won or lost.
type AcceptEvent struct {
	OrderID string
	RiderID string
	Won     bool
	Err     error
	Latency time.Duration
}

// DeliveryStatusEvent is published when the assigned rider advances a
// delivery.
type DeliveryStatusEvent struct {
	Delivery model.Delivery
	Previous model.DeliveryStatus
}

// ReassignmentEvent is published on a seller-initiated manual assignment.
type ReassignmentEvent struct {
	OrderID    string
	OldRiderID string
	NewRiderID string
}

// PresenceEvent is published when a rider's online state changes.
type PresenceEvent struct {
	RiderID string
	Online  bool
}
