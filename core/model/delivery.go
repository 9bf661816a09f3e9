package model

import "time"

// DeliveryStatus enumerates the sub-states of a delivery between assignment
// and its terminal outcome.
type DeliveryStatus string

const (
	DeliveryAssigned  DeliveryStatus = "assigned"
	DeliveryPickedUp  DeliveryStatus = "picked_up"
	DeliveryOnTheWay  DeliveryStatus = "on_the_way"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Delivery links an order to the rider carrying it. One delivery exists per
// assigned order; the row is never deleted so it doubles as an audit trail.
type Delivery struct {
	ID          string         `json:"id"`
	OrderID     string         `json:"order_id"`
	RiderID     string         `json:"rider_id"`
	Status      DeliveryStatus `json:"status"`
	Notes       string         `json:"notes,omitempty"`
	AssignedAt  time.Time      `json:"assigned_at"`
	PickedUpAt  time.Time      `json:"picked_up_at,omitempty"`
	OnTheWayAt  time.Time      `json:"on_the_way_at,omitempty"`
	DeliveredAt time.Time      `json:"delivered_at,omitempty"`
	FailedAt    time.Time      `json:"failed_at,omitempty"`
}

// Valid reports whether s is a known delivery status.
func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryAssigned, DeliveryPickedUp, DeliveryOnTheWay, DeliveryDelivered, DeliveryFailed:
		return true
	}
	return false
}

// Terminal reports whether s ends the delivery.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryDelivered || s == DeliveryFailed
}

// CanTransitionTo reports whether the forward transition s -> next is legal.
// The only permitted moves are assigned -> picked_up -> on_the_way ->
// delivered, plus a jump to failed from any non-terminal state.
func (s DeliveryStatus) CanTransitionTo(next DeliveryStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == DeliveryFailed {
		return true
	}
	switch s {
	case DeliveryAssigned:
		return next == DeliveryPickedUp
	case DeliveryPickedUp:
		return next == DeliveryOnTheWay
	case DeliveryOnTheWay:
		return next == DeliveryDelivered
	}
	return false
}

// OrderStatus maps a delivery status onto the order status it mirrors.
// A failed delivery cancels the order.
func (s DeliveryStatus) OrderStatus() OrderStatus {
	switch s {
	case DeliveryPickedUp:
		return OrderPickedUp
	case DeliveryOnTheWay:
		return OrderOnTheWay
	case DeliveryDelivered:
		return OrderDelivered
	case DeliveryFailed:
		return OrderCancelled
	}
	return OrderAssigned
}
