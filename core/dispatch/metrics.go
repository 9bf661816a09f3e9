package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	offersBroadcast  prometheus.Counter
	ridersNotified   prometheus.Counter
	acceptAttempts   *prometheus.CounterVec
	acceptLatency    prometheus.Histogram
	deliveriesClosed *prometheus.CounterVec
)

// newCollectors creates new metric collectors.
func newCollectors() (prometheus.Counter, prometheus.Counter, *prometheus.CounterVec, prometheus.Histogram, *prometheus.CounterVec) {
	offers := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_offers_total",
		Help: "Number of orders broadcast to available riders",
	})
	notified := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_offer_notifications_total",
		Help: "Number of riders notified across all offer broadcasts",
	})
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_accept_attempts_total",
		Help: "Accept intents by resolution",
	}, []string{"result"})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_accept_latency_seconds",
		Help:    "Latency of accept intents from arrival to resolution",
		Buckets: prometheus.DefBuckets,
	})
	closed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deliveries_closed_total",
		Help: "Deliveries reaching a terminal status",
	}, []string{"status"})
	return offers, notified, attempts, latency, closed
}

func init() {
	offersBroadcast, ridersNotified, acceptAttempts, acceptLatency, deliveriesClosed = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(offersBroadcast, ridersNotified, acceptAttempts, acceptLatency, deliveriesClosed)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	offersBroadcast, ridersNotified, acceptAttempts, acceptLatency, deliveriesClosed = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
