// Package dispatch implements the dispatch coordinator: the single
// arbitration point between dispatchable orders and available riders. All
// accept intents for all orders funnel through one coordinator so that at
// most one rider ever wins a given order.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Jammarkeun/PawfectFinds/core/directory"
	"github.com/Jammarkeun/PawfectFinds/core/dispatch/logging"
	"github.com/Jammarkeun/PawfectFinds/core/events"
	"github.com/Jammarkeun/PawfectFinds/core/logger"
	"github.com/Jammarkeun/PawfectFinds/core/metrics"
	"github.com/Jammarkeun/PawfectFinds/core/model"
	"github.com/Jammarkeun/PawfectFinds/core/notify"
	"github.com/Jammarkeun/PawfectFinds/core/registry"
	"github.com/Jammarkeun/PawfectFinds/core/store"
	"github.com/Jammarkeun/PawfectFinds/internal/eventbus"
)

// Rider-facing messages. These are shown verbatim in rider apps, so keep
// them stable.
const (
	msgAccepted       = "Order accepted successfully!"
	msgNotAvailable   = "You are not available to accept orders."
	msgOrderGone      = "This order is no longer available."
	msgNotRegistered  = "You are not registered as an active rider."
	msgTryAgain       = "Something went wrong, please try again."
	msgTakenBroadcast = "This order has been accepted by another rider."
	msgReassignedAway = "This order has been reassigned to another rider."
	msgAssignedManual = "A delivery has been assigned to you."
)

// Coordinator arbitrates the accept-order race, fans out dispatch events,
// and keeps the rider registry consistent with the order store.
type Coordinator struct {
	registry registry.Registry
	store    store.OrderStore
	dir      *directory.Directory
	notifier notify.Notifier
	sink     metrics.Sink
	bus      eventbus.EventBus
	log      logger.Logger
	cfg      Config

	// acceptMu serializes every mutation that couples registry and order
	// store state: Accept and ManualAssign.
	acceptMu sync.Mutex

	auditMu sync.Mutex
	audit   logging.LogStore
}

// NewCoordinator creates a dispatch coordinator. sink may be nil, in which
// case records are discarded. bus may be nil to disable event publication.
func NewCoordinator(reg registry.Registry, st store.OrderStore, dir *directory.Directory, notifier notify.Notifier, sink metrics.Sink, bus eventbus.EventBus, log logger.Logger, cfg Config) (*Coordinator, error) {
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if st == nil {
		return nil, errors.New("order store is required")
	}
	if dir == nil {
		return nil, errors.New("connection directory is required")
	}
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Coordinator{
		registry: reg,
		store:    st,
		dir:      dir,
		notifier: notifier,
		sink:     sink,
		bus:      bus,
		log:      log,
		cfg:      cfg,
	}, nil
}

// SetAuditStore attaches a dispatch audit log. Passing nil disables
// auditing.
func (c *Coordinator) SetAuditStore(ls logging.LogStore) {
	c.auditMu.Lock()
	c.audit = ls
	c.auditMu.Unlock()
}

func (c *Coordinator) appendAudit(ctx context.Context, rec logging.Record) {
	c.auditMu.Lock()
	ls := c.audit
	c.auditMu.Unlock()
	if ls == nil {
		return
	}
	if err := ls.Append(ctx, rec); err != nil {
		c.log.Errorf("failed to append audit record: %v", err)
	}
}

func (c *Coordinator) publish(e eventbus.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}

func opportunity(o model.Order) notify.DeliveryOpportunity {
	return notify.DeliveryOpportunity{
		OrderID:         o.ID,
		OrderNumber:     o.Number,
		PickupAddress:   o.PickupAddress,
		DeliveryAddress: o.DeliveryAddress,
		TotalAmount:     o.TotalAmount,
		ItemsCount:      o.ItemsCount(),
	}
}

func (c *Coordinator) redirectURL(orderID string) string {
	if c.cfg.RedirectBaseURL == "" {
		return ""
	}
	return c.cfg.RedirectBaseURL + "/deliveries/" + orderID
}

// Run consumes dispatch-eligible orders and offers each to the available
// fleet. When a re-offer interval is configured, unaccepted ready orders
// are periodically re-broadcast. Run blocks until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context, orders <-chan model.Order) {
	var reoffer <-chan time.Time
	if c.cfg.ReofferIntervalSeconds > 0 {
		t := time.NewTicker(time.Duration(c.cfg.ReofferIntervalSeconds) * time.Second)
		defer t.Stop()
		reoffer = t.C
	}
	for {
		select {
		case o, ok := <-orders:
			if !ok {
				return
			}
			if _, err := c.Offer(ctx, o); err != nil {
				c.log.Errorf("failed to offer order %s: %v", o.ID, err)
			}
		case <-reoffer:
			if err := c.OfferPending(ctx); err != nil {
				c.log.Errorf("failed to re-offer pending orders: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Offer broadcasts a dispatchable order to every available rider and returns
// the identities whose channels received it. An order without a live
// audience is not an error; it stays ready and can be offered again.
func (c *Coordinator) Offer(ctx context.Context, o model.Order) ([]string, error) {
	if !o.Dispatchable() {
		return nil, fmt.Errorf("order %s is not dispatchable: %w", o.ID, store.ErrOrderTaken)
	}
	riders, err := c.registry.ListAvailable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list available riders: %w", err)
	}

	payload := opportunity(o)
	now := time.Now()
	notified := make([]string, 0, len(riders))
	records := make([]metrics.OfferRecord, 0, len(riders))
	for _, r := range riders {
		n := c.notifier.EmitToRider(r.RiderID, notify.EventNewDeliveryOpportunity, payload)
		if n > 0 {
			notified = append(notified, r.RiderID)
			ridersNotified.Inc()
		}
		records = append(records, metrics.OfferRecord{
			OrderID:     o.ID,
			OrderNumber: o.Number,
			RiderID:     r.RiderID,
			Notified:    n > 0,
			Time:        now,
		})
	}
	offersBroadcast.Inc()

	c.log.Infof("offered order %s to %d of %d available riders", o.ID, len(notified), len(riders))
	if err := c.sink.RecordOffers(records); err != nil {
		c.log.Errorf("failed to record offer metrics: %v", err)
	}
	c.publish(events.OfferEvent{Order: o, RidersNotified: notified})
	c.appendAudit(ctx, logging.Record{
		Timestamp: now,
		Event:     logging.EventOffered,
		OrderID:   o.ID,
		Riders:    notified,
	})
	return notified, nil
}

// OfferOrder looks up the order and offers it if it is still dispatchable.
func (c *Coordinator) OfferOrder(ctx context.Context, orderID string) ([]string, error) {
	o, err := c.store.DispatchableOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return c.Offer(ctx, o)
}

// OfferPending broadcasts every currently dispatchable order.
func (c *Coordinator) OfferPending(ctx context.Context) error {
	orders, err := c.store.OrdersReadyForPickup(ctx)
	if err != nil {
		return fmt.Errorf("failed to list ready orders: %w", err)
	}
	for _, o := range orders {
		if _, err := c.Offer(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

// Accept resolves one rider's intent to take an order. Intents are
// serialized: for any order exactly one caller can win, every later caller
// is told the order is gone. On a persistence fault the partial assignment
// is rolled back and the rider is asked to retry.
func (c *Coordinator) Accept(ctx context.Context, riderID, orderID string) (model.Delivery, error) {
	start := time.Now()
	c.acceptMu.Lock()
	defer c.acceptMu.Unlock()

	r, err := c.registry.Get(ctx, riderID)
	if err != nil {
		return c.rejectAccept(ctx, riderID, orderID, err, msgNotRegistered, start)
	}
	if !r.IsOnline || !r.IsAvailable || r.CurrentOrderID != "" {
		return c.rejectAccept(ctx, riderID, orderID, registry.ErrRiderUnavailable, msgNotAvailable, start)
	}

	o, err := c.store.DispatchableOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrOrderTaken) || errors.Is(err, store.ErrOrderNotFound) {
			return c.rejectAccept(ctx, riderID, orderID, store.ErrOrderTaken, msgOrderGone, start)
		}
		return c.rejectAccept(ctx, riderID, orderID, fmt.Errorf("%w: %v", ErrPersistence, err), msgTryAgain, start)
	}

	d, err := c.store.AssignOrder(ctx, orderID, riderID, time.Now())
	if err != nil {
		if errors.Is(err, store.ErrOrderTaken) {
			return c.rejectAccept(ctx, riderID, orderID, store.ErrOrderTaken, msgOrderGone, start)
		}
		return c.rejectAccept(ctx, riderID, orderID, fmt.Errorf("%w: %v", ErrPersistence, err), msgTryAgain, start)
	}
	if err := c.registry.TryAssign(ctx, riderID, orderID); err != nil {
		if rerr := c.store.RevertAssignment(ctx, orderID, d.ID); rerr != nil {
			c.log.Errorf("failed to revert assignment of order %s after registry fault: %v", orderID, rerr)
		}
		return c.rejectAccept(ctx, riderID, orderID, fmt.Errorf("%w: %v", ErrPersistence, err), msgTryAgain, start)
	}

	latency := time.Since(start)
	acceptAttempts.WithLabelValues("won").Inc()
	acceptLatency.Observe(latency.Seconds())
	c.log.Infof("order %s assigned to rider %s", orderID, riderID)

	c.notifier.EmitToRider(riderID, notify.EventOrderAccepted, notify.OrderAccepted{
		OrderID:     orderID,
		Message:     msgAccepted,
		RedirectURL: c.redirectURL(orderID),
	})
	c.notifier.EmitToRoom(notify.RoomRiders, notify.EventOrderTaken, notify.OrderTaken{
		OrderID: orderID,
		RiderID: riderID,
		Message: msgTakenBroadcast,
	})
	c.notifier.EmitToRoom(notify.SellerRoom(o.SellerID), notify.EventOrderAccepted, notify.AssignmentNotice{
		OrderID: orderID,
		RiderID: riderID,
	})

	c.recordAccept(ctx, metrics.AcceptRecord{
		OrderID: orderID,
		RiderID: riderID,
		Won:     true,
		Latency: latency,
		Time:    time.Now(),
	})
	c.publish(events.AcceptEvent{OrderID: orderID, RiderID: riderID, Won: true, Latency: latency})
	c.appendAudit(ctx, logging.Record{
		Timestamp:  time.Now(),
		Event:      logging.EventAccepted,
		OrderID:    orderID,
		RiderID:    riderID,
		DeliveryID: d.ID,
		LatencyMS:  latency.Milliseconds(),
	})
	return d, nil
}

func (c *Coordinator) rejectAccept(ctx context.Context, riderID, orderID string, reason error, msg string, start time.Time) (model.Delivery, error) {
	latency := time.Since(start)
	acceptAttempts.WithLabelValues(acceptResult(reason)).Inc()
	acceptLatency.Observe(latency.Seconds())
	c.log.Debugf("rider %s lost order %s: %v", riderID, orderID, reason)

	c.notifier.EmitToRider(riderID, notify.EventOrderAcceptError, notify.OrderAcceptError{
		OrderID: orderID,
		Message: msg,
	})
	c.recordAccept(ctx, metrics.AcceptRecord{
		OrderID: orderID,
		RiderID: riderID,
		Reason:  reason.Error(),
		Latency: latency,
		Time:    time.Now(),
	})
	c.publish(events.AcceptEvent{OrderID: orderID, RiderID: riderID, Err: reason, Latency: latency})
	c.appendAudit(ctx, logging.Record{
		Timestamp: time.Now(),
		Event:     logging.EventRejected,
		OrderID:   orderID,
		RiderID:   riderID,
		Reason:    reason.Error(),
		LatencyMS: latency.Milliseconds(),
	})
	return model.Delivery{}, reason
}

func (c *Coordinator) recordAccept(ctx context.Context, rec metrics.AcceptRecord) {
	ar, ok := c.sink.(metrics.AcceptRecorder)
	if !ok {
		return
	}
	if err := ar.RecordAccept(rec); err != nil {
		c.log.Errorf("failed to record accept metrics: %v", err)
	}
}

func acceptResult(err error) string {
	switch {
	case errors.Is(err, registry.ErrUnknownRider):
		return "unknown_rider"
	case errors.Is(err, registry.ErrRiderUnavailable):
		return "rider_unavailable"
	case errors.Is(err, store.ErrOrderTaken):
		return "order_taken"
	default:
		return "persistence"
	}
}

// AdvanceStatus applies a forward delivery status transition requested by
// the assigned rider. Terminal transitions release the rider for new
// offers.
func (c *Coordinator) AdvanceStatus(ctx context.Context, riderID, deliveryID string, status model.DeliveryStatus, notes string) (model.Delivery, error) {
	if !status.Valid() || status == model.DeliveryAssigned {
		return model.Delivery{}, store.ErrInvalidTransition
	}
	d, err := c.store.DeliveryByID(ctx, deliveryID)
	if err != nil {
		return model.Delivery{}, err
	}
	if d.RiderID != riderID {
		return model.Delivery{}, ErrNotAssignedRider
	}
	if !d.Status.CanTransitionTo(status) {
		return model.Delivery{}, store.ErrInvalidTransition
	}

	updated, err := c.store.UpdateDeliveryStatus(ctx, deliveryID, status, notes, time.Now())
	if err != nil {
		return model.Delivery{}, err
	}
	c.log.Infof("delivery %s moved %s -> %s by rider %s", deliveryID, d.Status, status, riderID)

	if status.Terminal() {
		deliveriesClosed.WithLabelValues(string(status)).Inc()
		if err := c.registry.Release(ctx, riderID); err != nil && !errors.Is(err, registry.ErrUnknownRider) {
			c.log.Errorf("failed to release rider %s: %v", riderID, err)
		}
	}

	payload := notify.DeliveryStatusUpdate{
		DeliveryID: updated.ID,
		OrderID:    updated.OrderID,
		RiderID:    riderID,
		Status:     string(status),
		Notes:      notes,
	}
	c.notifier.EmitToRider(riderID, notify.EventDeliveryStatus, payload)
	if o, err := c.store.OrderByID(ctx, updated.OrderID); err == nil {
		c.notifier.EmitToRoom(notify.SellerRoom(o.SellerID), notify.EventDeliveryStatus, payload)
	} else {
		c.log.Warnf("failed to load order %s for status fan-out: %v", updated.OrderID, err)
	}

	rec := metrics.DeliveryRecord{
		DeliveryID: updated.ID,
		OrderID:    updated.OrderID,
		RiderID:    riderID,
		Status:     string(status),
		Time:       time.Now(),
	}
	if status == model.DeliveryDelivered && !updated.DeliveredAt.IsZero() {
		rec.Duration = updated.DeliveredAt.Sub(updated.AssignedAt)
	}
	if dr, ok := c.sink.(metrics.DeliveryRecorder); ok {
		if err := dr.RecordDelivery(rec); err != nil {
			c.log.Errorf("failed to record delivery metrics: %v", err)
		}
	}
	c.publish(events.DeliveryStatusEvent{Delivery: updated, Previous: d.Status})
	c.appendAudit(ctx, logging.Record{
		Timestamp:  time.Now(),
		Event:      logging.EventStatus,
		OrderID:    updated.OrderID,
		RiderID:    riderID,
		DeliveryID: updated.ID,
		Status:     string(status),
	})
	return updated, nil
}

// ManualAssign is the seller-initiated path: it places the order on the
// given rider regardless of the rider's availability, displacing any
// previous assignee. The order's own status never regresses.
func (c *Coordinator) ManualAssign(ctx context.Context, orderID, riderID, notes string) (model.Delivery, error) {
	c.acceptMu.Lock()
	defer c.acceptMu.Unlock()

	if _, err := c.registry.Get(ctx, riderID); err != nil {
		return model.Delivery{}, err
	}
	o, err := c.store.OrderByID(ctx, orderID)
	if err != nil {
		return model.Delivery{}, err
	}
	if o.Status == model.OrderDelivered || o.Status == model.OrderCancelled {
		return model.Delivery{}, store.ErrInvalidTransition
	}

	d, prev, err := c.store.ReassignOrder(ctx, orderID, riderID, notes, time.Now())
	if err != nil {
		return model.Delivery{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := c.registry.ForceAssign(ctx, riderID, orderID); err != nil {
		if prev != "" {
			if _, _, rerr := c.store.ReassignOrder(ctx, orderID, prev, notes, time.Now()); rerr != nil {
				c.log.Errorf("failed to restore order %s to rider %s after registry fault: %v", orderID, prev, rerr)
			}
		} else if rerr := c.store.RevertAssignment(ctx, orderID, d.ID); rerr != nil {
			c.log.Errorf("failed to revert assignment of order %s after registry fault: %v", orderID, rerr)
		}
		return model.Delivery{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if prev != "" && prev != riderID {
		if err := c.registry.Release(ctx, prev); err != nil && !errors.Is(err, registry.ErrUnknownRider) {
			c.log.Errorf("failed to release displaced rider %s: %v", prev, err)
		}
		c.notifier.EmitToRider(prev, notify.EventOrderReassigned, notify.OrderTaken{
			OrderID: orderID,
			RiderID: riderID,
			Message: msgReassignedAway,
		})
	}
	c.log.Infof("order %s manually assigned to rider %s (previous %q)", orderID, riderID, prev)

	c.notifier.EmitToRider(riderID, notify.EventOrderAssigned, notify.OrderAccepted{
		OrderID:     orderID,
		Message:     msgAssignedManual,
		RedirectURL: c.redirectURL(orderID),
	})
	c.notifier.EmitToRoom(notify.RoomRiders, notify.EventOrderTaken, notify.OrderTaken{
		OrderID: orderID,
		RiderID: riderID,
		Message: msgTakenBroadcast,
	})
	c.notifier.EmitToRoom(notify.SellerRoom(o.SellerID), notify.EventOrderAssigned, notify.AssignmentNotice{
		OrderID: orderID,
		RiderID: riderID,
	})

	c.publish(events.ReassignmentEvent{OrderID: orderID, OldRiderID: prev, NewRiderID: riderID})
	c.appendAudit(ctx, logging.Record{
		Timestamp:  time.Now(),
		Event:      logging.EventReassigned,
		OrderID:    orderID,
		RiderID:    riderID,
		DeliveryID: d.ID,
		Reason:     prev,
	})
	return d, nil
}

// RiderOnline registers a live channel for the rider, announces presence to
// sellers, and replays every pending offer to the new channel so a rider
// connecting mid-broadcast misses nothing.
func (c *Coordinator) RiderOnline(ctx context.Context, riderID string, ch directory.Channel) error {
	if err := c.registry.SetOnline(ctx, riderID); err != nil {
		return fmt.Errorf("failed to mark rider %s online: %w", riderID, err)
	}
	c.dir.Register(riderID, ch)
	c.log.Infof("rider %s online on channel %s (%d riders connected)", riderID, ch.ID(), c.dir.Len())

	c.notifier.EmitToRoom(notify.RoomSellers, notify.EventRiderStatus, notify.RiderStatus{
		RiderID:  riderID,
		IsOnline: true,
	})
	c.publish(events.PresenceEvent{RiderID: riderID, Online: true})
	c.recordRiderCount()

	r, err := c.registry.Get(ctx, riderID)
	if err != nil || !r.IsAvailable {
		return nil
	}
	orders, err := c.store.OrdersReadyForPickup(ctx)
	if err != nil {
		c.log.Errorf("failed to replay pending offers to rider %s: %v", riderID, err)
		return nil
	}
	for _, o := range orders {
		c.notifier.EmitToChannel(ch, notify.EventNewDeliveryOpportunity, opportunity(o))
	}
	if len(orders) > 0 {
		c.log.Debugf("replayed %d pending offers to rider %s", len(orders), riderID)
	}
	return nil
}

// ChannelClosed removes a dead channel. When it was the rider's last one the
// rider goes offline; an in-flight delivery stays assigned across the
// disconnect.
func (c *Coordinator) ChannelClosed(ctx context.Context, channelID string) {
	riderID, last := c.dir.Unregister(channelID)
	if riderID == "" {
		return
	}
	c.log.Infof("channel %s closed for rider %s (last=%t)", channelID, riderID, last)
	if !last {
		return
	}
	if err := c.registry.SetOffline(ctx, riderID); err != nil && !errors.Is(err, registry.ErrUnknownRider) {
		c.log.Errorf("failed to mark rider %s offline: %v", riderID, err)
	}
	c.notifier.EmitToRoom(notify.RoomSellers, notify.EventRiderStatus, notify.RiderStatus{
		RiderID:  riderID,
		IsOnline: false,
	})
	c.publish(events.PresenceEvent{RiderID: riderID, Online: false})
	c.recordRiderCount()
}

func (c *Coordinator) recordRiderCount() {
	fr, ok := c.sink.(metrics.FleetSizeRecorder)
	if !ok {
		return
	}
	if err := fr.RecordRiderCount(c.dir.Len()); err != nil {
		c.log.Errorf("failed to record rider count: %v", err)
	}
}

// Close releases the coordinator's attached resources.
func (c *Coordinator) Close() error {
	if c.bus != nil {
		if n := c.bus.Dropped(); n > 0 {
			c.log.Warnf("event bus dropped %d events to slow subscribers", n)
		}
		c.bus.Close()
	}
	c.auditMu.Lock()
	ls := c.audit
	c.audit = nil
	c.auditMu.Unlock()
	if ls != nil {
		return ls.Close()
	}
	return nil
}
