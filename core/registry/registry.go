// Package registry holds the authoritative online/available state of every
// rider. It is the single source of truth for dispatch eligibility; only the
// dispatch coordinator transitions assignment fields.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Jammarkeun/PawfectFinds/core/model"
)

var (
	// ErrUnknownRider is returned for operations against a rider identity
	// that has never announced itself.
	ErrUnknownRider = errors.New("unknown rider")
	// ErrRiderUnavailable is returned when an assignment is attempted on a
	// rider that is offline, busy, or already holding an order.
	ErrRiderUnavailable = errors.New("rider unavailable")
)

// DeliverySource reports a rider's in-flight deliveries from durable storage.
// The registry uses it to re-derive availability on reconnect so state
// survives process restarts.
type DeliverySource interface {
	OpenDeliveries(ctx context.Context, riderID string) ([]model.Delivery, error)
	ActiveDeliveryCount(ctx context.Context, riderID string) (int, error)
}

// Registry tracks rider availability.
type Registry interface {
	SetOnline(ctx context.Context, riderID string) error
	SetOffline(ctx context.Context, riderID string) error
	Get(ctx context.Context, riderID string) (model.RiderAvailability, error)
	// List returns every known rider, online or not.
	List(ctx context.Context) ([]model.RiderAvailability, error)
	// ListAvailable returns online, available riders ordered by ascending
	// active-delivery count, least loaded first.
	ListAvailable(ctx context.Context) ([]model.RiderAvailability, error)
	// TryAssign atomically claims the rider for the order. It fails with
	// ErrUnknownRider or ErrRiderUnavailable and changes nothing on failure.
	TryAssign(ctx context.Context, riderID, orderID string) error
	// ForceAssign claims the rider regardless of current availability. Used
	// by the seller-initiated manual assignment path.
	ForceAssign(ctx context.Context, riderID, orderID string) error
	// Release frees the rider after the current delivery completes or fails.
	Release(ctx context.Context, riderID string) error
}

// MemoryRegistry is a mutex-guarded in-process Registry. Entries are created
// on the first online announcement.
type MemoryRegistry struct {
	mu         sync.RWMutex
	riders     map[string]model.RiderAvailability
	deliveries DeliverySource
	now        func() time.Time
}

// NewMemoryRegistry creates an empty registry. src may be nil; reconciliation
// against open deliveries is then skipped.
func NewMemoryRegistry(src DeliverySource) *MemoryRegistry {
	return &MemoryRegistry{
		riders:     make(map[string]model.RiderAvailability),
		deliveries: src,
		now:        time.Now,
	}
}

// SetOnline marks the rider online and available unless it is holding an
// order. When a delivery source is configured the current assignment is
// re-derived from the store's non-terminal deliveries, not from possibly
// stale in-memory flags. Idempotent.
func (m *MemoryRegistry) SetOnline(ctx context.Context, riderID string) error {
	var (
		currentOrder string
		load         int
	)
	if m.deliveries != nil {
		open, err := m.deliveries.OpenDeliveries(ctx, riderID)
		if err != nil {
			return err
		}
		load = len(open)
		if load > 0 {
			currentOrder = open[0].OrderID
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.riders[riderID]
	r.RiderID = riderID
	r.IsOnline = true
	r.LastSeen = m.now()
	if m.deliveries != nil {
		r.CurrentOrderID = currentOrder
		r.ActiveDeliveries = load
	}
	r.IsAvailable = r.CurrentOrderID == ""
	m.riders[riderID] = r
	return nil
}

// SetOffline marks the rider offline. An in-flight delivery survives the
// disconnect: CurrentOrderID is left untouched. IsAvailable tracks only
// order-holding, so it survives too; eligibility checks gate on IsOnline.
func (m *MemoryRegistry) SetOffline(ctx context.Context, riderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.riders[riderID]
	if !ok {
		return ErrUnknownRider
	}
	r.IsOnline = false
	r.LastSeen = m.now()
	m.riders[riderID] = r
	return nil
}

// Get returns the rider's current availability record.
func (m *MemoryRegistry) Get(ctx context.Context, riderID string) (model.RiderAvailability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.riders[riderID]
	if !ok {
		return model.RiderAvailability{}, ErrUnknownRider
	}
	return r, nil
}

// List returns every known rider sorted by id.
func (m *MemoryRegistry) List(ctx context.Context) ([]model.RiderAvailability, error) {
	m.mu.RLock()
	res := make([]model.RiderAvailability, 0, len(m.riders))
	for _, r := range m.riders {
		res = append(res, r)
	}
	m.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool { return res[i].RiderID < res[j].RiderID })
	return res, nil
}

// ListAvailable returns online available riders, least loaded first. Load is
// refreshed from the delivery source when one is configured.
func (m *MemoryRegistry) ListAvailable(ctx context.Context) ([]model.RiderAvailability, error) {
	m.mu.RLock()
	res := make([]model.RiderAvailability, 0, len(m.riders))
	for _, r := range m.riders {
		if r.IsOnline && r.IsAvailable {
			res = append(res, r)
		}
	}
	m.mu.RUnlock()

	if m.deliveries != nil {
		for i := range res {
			n, err := m.deliveries.ActiveDeliveryCount(ctx, res[i].RiderID)
			if err != nil {
				return nil, err
			}
			res[i].ActiveDeliveries = n
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].ActiveDeliveries != res[j].ActiveDeliveries {
			return res[i].ActiveDeliveries < res[j].ActiveDeliveries
		}
		return res[i].RiderID < res[j].RiderID
	})
	return res, nil
}

// TryAssign atomically verifies the rider is online, available and idle, then
// claims it for the order.
func (m *MemoryRegistry) TryAssign(ctx context.Context, riderID, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.riders[riderID]
	if !ok {
		return ErrUnknownRider
	}
	if !r.IsOnline || !r.IsAvailable || r.CurrentOrderID != "" {
		return ErrRiderUnavailable
	}
	r.IsAvailable = false
	r.CurrentOrderID = orderID
	r.ActiveDeliveries++
	m.riders[riderID] = r
	return nil
}

// ForceAssign claims the rider for the order regardless of availability.
func (m *MemoryRegistry) ForceAssign(ctx context.Context, riderID, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.riders[riderID]
	if !ok {
		return ErrUnknownRider
	}
	if r.CurrentOrderID != orderID {
		r.ActiveDeliveries++
	}
	r.IsAvailable = false
	r.CurrentOrderID = orderID
	m.riders[riderID] = r
	return nil
}

// Release clears the rider's current assignment. Availability flips back on
// even for an offline rider: holding no order means available, and offer
// eligibility is gated on IsOnline separately.
func (m *MemoryRegistry) Release(ctx context.Context, riderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.riders[riderID]
	if !ok {
		return ErrUnknownRider
	}
	r.CurrentOrderID = ""
	r.IsAvailable = true
	if r.ActiveDeliveries > 0 {
		r.ActiveDeliveries--
	}
	m.riders[riderID] = r
	return nil
}
