// Package store defines the order lifecycle bridge: the only surface through
// which the dispatch core touches persisted order and delivery state in the
// marketplace's catalog/order store.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Jammarkeun/PawfectFinds/core/model"
)

var (
	// ErrOrderNotFound is returned when the order id does not exist.
	ErrOrderNotFound = errors.New("order not found")
	// ErrDeliveryNotFound is returned when the delivery id does not exist.
	ErrDeliveryNotFound = errors.New("delivery not found")
	// ErrOrderTaken is returned when the conditional assignment finds the
	// order already claimed or no longer ready for pickup.
	ErrOrderTaken = errors.New("order already taken")
	// ErrInvalidTransition is returned for a delivery status move outside
	// the allowed forward chain.
	ErrInvalidTransition = errors.New("invalid delivery status transition")
)

// OrderStore is the read/write adapter over the external catalog/order
// store. AssignOrder is the serialization point for the accept-order race:
// it must behave as a compare-and-swap, succeeding for at most one caller
// per order.
type OrderStore interface {
	// OrderByID fetches any order.
	OrderByID(ctx context.Context, orderID string) (model.Order, error)
	// DispatchableOrder fetches the order only if it is still ready for
	// pickup with no rider; otherwise ErrOrderTaken (or ErrOrderNotFound).
	DispatchableOrder(ctx context.Context, orderID string) (model.Order, error)
	// OrdersReadyForPickup lists all currently dispatchable orders.
	OrdersReadyForPickup(ctx context.Context) ([]model.Order, error)

	// AssignOrder atomically claims the order for the rider and creates the
	// delivery record in the same transaction. Fails with ErrOrderTaken if
	// another rider won the race.
	AssignOrder(ctx context.Context, orderID, riderID string, at time.Time) (model.Delivery, error)
	// RevertAssignment compensates a half-applied assignment when the
	// registry mutation that accompanies it fails.
	RevertAssignment(ctx context.Context, orderID, deliveryID string) error
	// ReassignOrder is the manual path: it upserts the delivery for the
	// order onto the given rider regardless of any current assignment and
	// returns the previous rider, if any. The order status is not regressed
	// when the order has already progressed past assignment.
	ReassignOrder(ctx context.Context, orderID, riderID, notes string, at time.Time) (d model.Delivery, prevRider string, err error)

	// DeliveryByID fetches a delivery.
	DeliveryByID(ctx context.Context, deliveryID string) (model.Delivery, error)
	// UpdateDeliveryStatus applies a validated transition, stamps the
	// matching timestamp and mirrors the status onto the order record.
	UpdateDeliveryStatus(ctx context.Context, deliveryID string, status model.DeliveryStatus, notes string, at time.Time) (model.Delivery, error)
	// OpenDeliveries lists the rider's non-terminal deliveries.
	OpenDeliveries(ctx context.Context, riderID string) ([]model.Delivery, error)
	// ActiveDeliveryCount counts the rider's non-delivered deliveries.
	ActiveDeliveryCount(ctx context.Context, riderID string) (int, error)
	// CompletedDeliveryDurations returns assignment-to-delivered durations
	// in seconds for the rider since the given time.
	CompletedDeliveryDurations(ctx context.Context, riderID string, since time.Time) ([]float64, error)
}
