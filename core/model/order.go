package model

import "time"

// OrderStatus enumerates the lifecycle states of a marketplace order that are
// visible to the dispatch core.
type OrderStatus string

const (
	OrderReadyForPickup OrderStatus = "ready_for_pickup"
	OrderAssigned       OrderStatus = "assigned"
	OrderShipped        OrderStatus = "shipped"
	OrderPickedUp       OrderStatus = "picked_up"
	OrderOnTheWay       OrderStatus = "on_the_way"
	OrderDelivered      OrderStatus = "delivered"
	OrderCancelled      OrderStatus = "cancelled"
)

// Address is a pickup or drop-off location derived from the seller profile or
// the customer's shipping address.
type Address struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Contact string `json:"contact"`
}

// LineItem is a single purchased product on an order.
type LineItem struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// Order is the dispatch-relevant view of a marketplace order. The catalog and
// payment fields live in the order store; dispatch only reads the delivery
// subset and writes rider assignment.
type Order struct {
	ID              string      `json:"id"`
	Number          string      `json:"order_number"`
	SellerID        string      `json:"seller_id"`
	CustomerID      string      `json:"customer_id"`
	TotalAmount     float64     `json:"total_amount"`
	PickupAddress   Address     `json:"pickup_address"`
	DeliveryAddress Address     `json:"delivery_address"`
	Items           []LineItem  `json:"items"`
	Status          OrderStatus `json:"status"`
	RiderID         string      `json:"rider_id,omitempty"`
	AssignedAt      time.Time   `json:"assigned_at,omitempty"`
	PickedUpAt      time.Time   `json:"picked_up_at,omitempty"`
	DeliveredAt     time.Time   `json:"delivered_at,omitempty"`
}

// ItemsCount returns the number of line items on the order.
func (o Order) ItemsCount() int { return len(o.Items) }

// Dispatchable reports whether the order can still be offered to riders:
// ready for pickup and not yet claimed.
func (o Order) Dispatchable() bool {
	return o.Status == OrderReadyForPickup && o.RiderID == ""
}
