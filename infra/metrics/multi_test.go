package metrics

import (
	"testing"

	coremetrics "github.com/Jammarkeun/PawfectFinds/core/metrics"
)

type recordSink struct {
	count int
}

func (r *recordSink) RecordOffers([]coremetrics.OfferRecord) error {
	r.count++
	return nil
}

func (r *recordSink) RecordAccept(coremetrics.AcceptRecord) error {
	r.count++
	return nil
}

func TestMultiSink(t *testing.T) {
	s1 := &recordSink{}
	s2 := &recordSink{}
	m := NewMultiSink(s1, s2)
	if err := m.RecordOffers(nil); err != nil {
		t.Fatalf("record offers: %v", err)
	}
	if err := m.RecordAccept(coremetrics.AcceptRecord{}); err != nil {
		t.Fatalf("record accept: %v", err)
	}
	if s1.count != 2 || s2.count != 2 {
		t.Fatalf("records not forwarded")
	}
}

func TestMultiSinkSkipsUnsupported(t *testing.T) {
	m := NewMultiSink(coremetrics.NopSink{})
	if err := m.RecordDelivery(coremetrics.DeliveryRecord{}); err != nil {
		t.Fatalf("record delivery: %v", err)
	}
	if err := m.RecordRiderCount(3); err != nil {
		t.Fatalf("record rider count: %v", err)
	}
}
