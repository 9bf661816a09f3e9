package model

import "time"

// RiderAvailability is the authoritative dispatch-eligibility record for one
// rider. Invariant: CurrentOrderID != "" implies IsAvailable == false.
type RiderAvailability struct {
	RiderID          string    `json:"rider_id"`
	IsOnline         bool      `json:"is_online"`
	IsAvailable      bool      `json:"is_available"`
	CurrentOrderID   string    `json:"current_order_id,omitempty"`
	ActiveDeliveries int       `json:"active_deliveries"`
	LastSeen         time.Time `json:"last_seen,omitempty"`
}

// Consistent reports whether the availability invariant holds.
func (r RiderAvailability) Consistent() bool {
	if r.CurrentOrderID != "" && r.IsAvailable {
		return false
	}
	return true
}
