package metrics

import "time"

// OfferRecord represents one rider notification during an offer broadcast.
type OfferRecord struct {
	OrderID     string
	OrderNumber string
	RiderID     string
	Notified    bool
	Time        time.Time
}

// Sink records offer broadcasts for observability purposes.
type Sink interface {
	RecordOffers(records []OfferRecord) error
}

// AcceptRecord captures the resolution of one accept intent.
type AcceptRecord struct {
	OrderID string
	RiderID string
	Won     bool
	Reason  string
	Latency time.Duration
	Time    time.Time
}

// AcceptRecorder is implemented by sinks able to record accept resolutions.
type AcceptRecorder interface {
	RecordAccept(rec AcceptRecord) error
}

// DeliveryRecord captures a delivery status transition.
type DeliveryRecord struct {
	DeliveryID string
	OrderID    string
	RiderID    string
	Status     string
	// Duration is the time from assignment to this transition. Zero when
	// unknown.
	Duration time.Duration
	Time     time.Time
}

// DeliveryRecorder is implemented by sinks able to record delivery
// transitions.
type DeliveryRecorder interface {
	RecordDelivery(rec DeliveryRecord) error
}

// FleetSizeRecorder records the number of riders currently connected.
type FleetSizeRecorder interface {
	RecordRiderCount(count int) error
}

// NopSink implements all recorder interfaces with no-op methods.
type NopSink struct{}

func (NopSink) RecordOffers([]OfferRecord) error    { return nil }
func (NopSink) RecordAccept(AcceptRecord) error     { return nil }
func (NopSink) RecordDelivery(DeliveryRecord) error { return nil }
func (NopSink) RecordRiderCount(int) error          { return nil }
