// Package metrics provides the Prometheus and InfluxDB sink implementations
// behind the core metrics interfaces.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/Jammarkeun/PawfectFinds/core/metrics"
)

// PromSink records dispatch events in Prometheus metrics.
type PromSink struct {
	offers     *prometheus.CounterVec
	accepts    *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	deliveries *prometheus.CounterVec
	fleet      prometheus.Gauge
}

// NewPromSink registers dispatch sink metrics on the default Prometheus
// registerer. The Prometheus server should be started separately using
// cfg.PrometheusAddr.
func NewPromSink(cfg coremetrics.Config) (*PromSink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(cfg coremetrics.Config, reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	offers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rider_offer_notifications_total",
		Help: "Offer notifications by rider and outcome",
	}, []string{"rider_id", "notified"})
	accepts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rider_accept_results_total",
		Help: "Accept resolutions by rider and outcome",
	}, []string{"rider_id", "won"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rider_accept_resolution_seconds",
		Help:    "Time between an accept intent arriving and resolving",
		Buckets: prometheus.DefBuckets,
	}, []string{"won"})
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rider_delivery_transitions_total",
		Help: "Delivery status transitions by rider and status",
	}, []string{"rider_id", "status"})
	fleet := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "riders_connected_total",
		Help: "Number of riders with at least one live channel",
	})

	if err := reg.Register(offers); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			offers = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(accepts); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			accepts = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(latency); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			latency = are.ExistingCollector.(*prometheus.HistogramVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(deliveries); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			deliveries = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(fleet); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			fleet = are.ExistingCollector.(prometheus.Gauge)
		} else {
			return nil, err
		}
	}

	return &PromSink{offers: offers, accepts: accepts, latency: latency, deliveries: deliveries, fleet: fleet}, nil
}

// RecordOffers increments the offer counter for each notified rider.
func (s *PromSink) RecordOffers(recs []coremetrics.OfferRecord) error {
	for _, r := range recs {
		s.offers.WithLabelValues(r.RiderID, strconv.FormatBool(r.Notified)).Inc()
	}
	return nil
}

// RecordAccept counts the resolution and observes its latency.
func (s *PromSink) RecordAccept(rec coremetrics.AcceptRecord) error {
	won := strconv.FormatBool(rec.Won)
	s.accepts.WithLabelValues(rec.RiderID, won).Inc()
	s.latency.WithLabelValues(won).Observe(rec.Latency.Seconds())
	return nil
}

// RecordDelivery counts the delivery transition.
func (s *PromSink) RecordDelivery(rec coremetrics.DeliveryRecord) error {
	s.deliveries.WithLabelValues(rec.RiderID, rec.Status).Inc()
	return nil
}

// RecordRiderCount sets the connected-riders gauge.
func (s *PromSink) RecordRiderCount(count int) error {
	if s.fleet != nil {
		s.fleet.Set(float64(count))
	}
	return nil
}
