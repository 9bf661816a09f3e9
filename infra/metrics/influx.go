package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/Jammarkeun/PawfectFinds/core/metrics"
	"github.com/Jammarkeun/PawfectFinds/infra/logger"
)

// InfluxSink writes dispatch events to an InfluxDB instance using the
// official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB
// endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and returns
// a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.Sink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordOffers writes every offer notification as a line protocol event.
func (s *InfluxSink) RecordOffers(recs []coremetrics.OfferRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, r := range recs {
		p := write.NewPointWithMeasurement("dispatch_offer").
			AddTag("order_id", r.OrderID).
			AddTag("rider_id", r.RiderID).
			AddTag("notified", strconv.FormatBool(r.Notified)).
			AddTag("component", "dispatch_coordinator").
			AddField("order_number", r.OrderNumber).
			SetTime(r.Time)
		if err := s.writeAPI.WritePoint(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// RecordAccept writes an accept resolution.
func (s *InfluxSink) RecordAccept(rec coremetrics.AcceptRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("dispatch_accept").
		AddTag("order_id", rec.OrderID).
		AddTag("rider_id", rec.RiderID).
		AddTag("won", strconv.FormatBool(rec.Won)).
		AddTag("component", "dispatch_coordinator").
		AddField("latency_ms", round3(rec.Latency.Seconds()*1000)).
		AddField("reason", rec.Reason).
		SetTime(rec.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordDelivery writes a delivery status transition.
func (s *InfluxSink) RecordDelivery(rec coremetrics.DeliveryRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("delivery_transition").
		AddTag("delivery_id", rec.DeliveryID).
		AddTag("order_id", rec.OrderID).
		AddTag("rider_id", rec.RiderID).
		AddTag("status", rec.Status).
		AddTag("component", "dispatch_coordinator").
		AddField("duration_s", round3(rec.Duration.Seconds())).
		SetTime(rec.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordRiderCount writes a connected-fleet snapshot.
func (s *InfluxSink) RecordRiderCount(count int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("riders_connected").
		AddTag("component", "connection_directory").
		AddField("count", count).
		SetTime(time.Now())
	return s.writeAPI.WritePoint(ctx, p)
}

// Close shuts down the underlying client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
