package metrics

import coremetrics "github.com/Jammarkeun/PawfectFinds/core/metrics"

// MultiSink fans dispatch records out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordOffers forwards the records to all sinks, returning the first error
// encountered.
func (m *MultiSink) RecordOffers(recs []coremetrics.OfferRecord) error {
	for _, s := range m.Sinks {
		if err := s.RecordOffers(recs); err != nil {
			return err
		}
	}
	return nil
}

// RecordAccept forwards accept resolutions to sinks that support them.
func (m *MultiSink) RecordAccept(rec coremetrics.AcceptRecord) error {
	for _, s := range m.Sinks {
		if ar, ok := s.(coremetrics.AcceptRecorder); ok {
			if err := ar.RecordAccept(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordDelivery forwards delivery transitions to sinks that support them.
func (m *MultiSink) RecordDelivery(rec coremetrics.DeliveryRecord) error {
	for _, s := range m.Sinks {
		if dr, ok := s.(coremetrics.DeliveryRecorder); ok {
			if err := dr.RecordDelivery(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordRiderCount forwards fleet size metrics to sinks that support them.
func (m *MultiSink) RecordRiderCount(count int) error {
	for _, s := range m.Sinks {
		if fr, ok := s.(coremetrics.FleetSizeRecorder); ok {
			if err := fr.RecordRiderCount(count); err != nil {
				return err
			}
		}
	}
	return nil
}
