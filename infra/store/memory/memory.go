// Package memory provides a mutex-guarded in-process OrderStore. It backs
// tests and single-node deployments that do not run the marketplace's
// postgres order store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Jammarkeun/PawfectFinds/core/model"
	"github.com/Jammarkeun/PawfectFinds/core/store"
)

// Store keeps orders and deliveries in maps. All operations take a write
// lock; the conditional claim in AssignOrder is therefore atomic.
type Store struct {
	mu         sync.Mutex
	orders     map[string]model.Order
	deliveries map[string]model.Delivery
}

var _ store.OrderStore = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{
		orders:     make(map[string]model.Order),
		deliveries: make(map[string]model.Delivery),
	}
}

// PutOrder inserts or replaces an order. Test and bridge seam.
func (s *Store) PutOrder(o model.Order) {
	s.mu.Lock()
	s.orders[o.ID] = o
	s.mu.Unlock()
}

func (s *Store) OrderByID(ctx context.Context, orderID string) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return model.Order{}, store.ErrOrderNotFound
	}
	return o, nil
}

func (s *Store) DispatchableOrder(ctx context.Context, orderID string) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return model.Order{}, store.ErrOrderNotFound
	}
	if !o.Dispatchable() {
		return model.Order{}, store.ErrOrderTaken
	}
	return o, nil
}

func (s *Store) OrdersReadyForPickup(ctx context.Context) ([]model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]model.Order, 0)
	for _, o := range s.orders {
		if o.Dispatchable() {
			res = append(res, o)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// AssignOrder claims the order for the rider if and only if it is still
// ready for pickup and unclaimed, then records the delivery. At most one
// caller per order can succeed.
func (s *Store) AssignOrder(ctx context.Context, orderID, riderID string, at time.Time) (model.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return model.Delivery{}, store.ErrOrderNotFound
	}
	if !o.Dispatchable() {
		return model.Delivery{}, store.ErrOrderTaken
	}
	d := model.Delivery{
		ID:         uuid.NewString(),
		OrderID:    orderID,
		RiderID:    riderID,
		Status:     model.DeliveryAssigned,
		AssignedAt: at,
	}
	o.Status = model.OrderAssigned
	o.RiderID = riderID
	o.AssignedAt = at
	s.orders[orderID] = o
	s.deliveries[d.ID] = d
	return d, nil
}

// RevertAssignment undoes AssignOrder: the delivery is removed and the order
// returns to the dispatchable pool.
func (s *Store) RevertAssignment(ctx context.Context, orderID, deliveryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return store.ErrOrderNotFound
	}
	delete(s.deliveries, deliveryID)
	o.Status = model.OrderReadyForPickup
	o.RiderID = ""
	o.AssignedAt = time.Time{}
	s.orders[orderID] = o
	return nil
}

// ReassignOrder moves the order's open delivery onto the given rider,
// creating the delivery when none exists. The order status only moves
// forward: an order already picked up keeps its progressed status.
func (s *Store) ReassignOrder(ctx context.Context, orderID, riderID, notes string, at time.Time) (model.Delivery, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return model.Delivery{}, "", store.ErrOrderNotFound
	}

	var prev string
	var d model.Delivery
	found := false
	for id, cand := range s.deliveries {
		if cand.OrderID == orderID && !cand.Status.Terminal() {
			prev = cand.RiderID
			cand.RiderID = riderID
			cand.Notes = notes
			s.deliveries[id] = cand
			d = cand
			found = true
			break
		}
	}
	if !found {
		d = model.Delivery{
			ID:         uuid.NewString(),
			OrderID:    orderID,
			RiderID:    riderID,
			Status:     model.DeliveryAssigned,
			Notes:      notes,
			AssignedAt: at,
		}
		s.deliveries[d.ID] = d
	}

	o.RiderID = riderID
	if o.Status == model.OrderReadyForPickup {
		o.Status = model.OrderAssigned
		o.AssignedAt = at
	}
	s.orders[orderID] = o
	return d, prev, nil
}

func (s *Store) DeliveryByID(ctx context.Context, deliveryID string) (model.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[deliveryID]
	if !ok {
		return model.Delivery{}, store.ErrDeliveryNotFound
	}
	return d, nil
}

// UpdateDeliveryStatus applies a validated forward transition, stamps the
// matching timestamp, and mirrors the status onto the order.
func (s *Store) UpdateDeliveryStatus(ctx context.Context, deliveryID string, status model.DeliveryStatus, notes string, at time.Time) (model.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[deliveryID]
	if !ok {
		return model.Delivery{}, store.ErrDeliveryNotFound
	}
	if !d.Status.CanTransitionTo(status) {
		return model.Delivery{}, store.ErrInvalidTransition
	}
	d.Status = status
	if notes != "" {
		d.Notes = notes
	}
	switch status {
	case model.DeliveryPickedUp:
		d.PickedUpAt = at
	case model.DeliveryOnTheWay:
		d.OnTheWayAt = at
	case model.DeliveryDelivered:
		d.DeliveredAt = at
	case model.DeliveryFailed:
		d.FailedAt = at
	}
	s.deliveries[deliveryID] = d

	if o, ok := s.orders[d.OrderID]; ok {
		o.Status = status.OrderStatus()
		if status == model.DeliveryDelivered {
			o.DeliveredAt = at
		}
		if status == model.DeliveryPickedUp {
			o.PickedUpAt = at
		}
		if status == model.DeliveryFailed {
			o.RiderID = ""
		}
		s.orders[d.OrderID] = o
	}
	return d, nil
}

func (s *Store) OpenDeliveries(ctx context.Context, riderID string) ([]model.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]model.Delivery, 0)
	for _, d := range s.deliveries {
		if d.RiderID == riderID && !d.Status.Terminal() {
			res = append(res, d)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].AssignedAt.Before(res[j].AssignedAt) })
	return res, nil
}

func (s *Store) ActiveDeliveryCount(ctx context.Context, riderID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.deliveries {
		if d.RiderID == riderID && !d.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

func (s *Store) CompletedDeliveryDurations(ctx context.Context, riderID string, since time.Time) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]float64, 0)
	for _, d := range s.deliveries {
		if d.RiderID != riderID || d.Status != model.DeliveryDelivered {
			continue
		}
		if !since.IsZero() && d.DeliveredAt.Before(since) {
			continue
		}
		res = append(res, d.DeliveredAt.Sub(d.AssignedAt).Seconds())
	}
	sort.Float64s(res)
	return res, nil
}
