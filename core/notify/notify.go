// Package notify delivers structured events to riders, sellers, and
// customers over their live channels. Delivery is best-effort and
// fire-and-forget: an unreachable channel is logged and skipped, never
// queued or retried.
package notify

import (
	"github.com/Jammarkeun/PawfectFinds/core/directory"
	"github.com/Jammarkeun/PawfectFinds/core/model"
)

// Event names exchanged over live channels.
const (
	EventNewDeliveryOpportunity = "new_delivery_opportunity"
	EventOrderAccepted          = "order_accepted"
	EventOrderAcceptError       = "order_accept_error"
	EventOrderTaken             = "order_taken"
	EventOrderAssigned          = "order_assigned"
	EventOrderReassigned        = "order_reassigned"
	EventDeliveryStatus         = "delivery_status"
	EventRiderStatus            = "rider_status"
)

// RoomRiders is the general broadcast room every online rider joins.
const RoomRiders = "riders"

// RoomSellers is the broadcast room seller dashboards join for rider
// presence and assignment events.
const RoomSellers = "sellers"

// SellerRoom names the per-seller broadcast room.
func SellerRoom(sellerID string) string { return "sellers." + sellerID }

// DeliveryOpportunity is the payload broadcast to available riders when an
// order becomes dispatchable.
type DeliveryOpportunity struct {
	OrderID         string        `json:"order_id"`
	OrderNumber     string        `json:"order_number"`
	PickupAddress   model.Address `json:"pickup_address"`
	DeliveryAddress model.Address `json:"delivery_address"`
	TotalAmount     float64       `json:"total_amount"`
	ItemsCount      int           `json:"items_count"`
}

// OrderAccepted confirms a winning accept intent to the rider.
type OrderAccepted struct {
	OrderID     string `json:"order_id"`
	Message     string `json:"message"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

// OrderAcceptError tells the requesting rider why an accept intent failed.
type OrderAcceptError struct {
	OrderID string `json:"order_id"`
	Message string `json:"message"`
}

// OrderTaken tells the riders room an order is no longer available.
type OrderTaken struct {
	OrderID string `json:"order_id"`
	RiderID string `json:"rider_id"`
	Message string `json:"message"`
}

// AssignmentNotice tells a seller room which rider now holds an order.
type AssignmentNotice struct {
	OrderID string `json:"order_id"`
	RiderID string `json:"rider_id"`
}

// DeliveryStatusUpdate propagates a delivery transition to interested
// parties.
type DeliveryStatusUpdate struct {
	DeliveryID string `json:"delivery_id"`
	OrderID    string `json:"order_id"`
	RiderID    string `json:"rider_id"`
	Status     string `json:"status"`
	Notes      string `json:"notes,omitempty"`
}

// RiderStatus announces a rider's presence change to sellers.
type RiderStatus struct {
	RiderID  string `json:"rider_id"`
	IsOnline bool   `json:"is_online"`
}

// Notifier is the fan-out contract used by the dispatch coordinator.
// EmitToRider reports how many channels the event was handed to.
type Notifier interface {
	EmitToRider(riderID, event string, payload any) int
	EmitToRoom(room, event string, payload any)
	EmitToChannel(ch directory.Channel, event string, payload any)
}

// RoomPublisher delivers an event to a named broadcast room over some
// transport. Implementations live in infra.
type RoomPublisher interface {
	PublishRoom(room, event string, payload any) error
}
