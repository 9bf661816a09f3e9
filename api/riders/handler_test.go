package riders

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Jammarkeun/PawfectFinds/core/model"
	"github.com/Jammarkeun/PawfectFinds/core/registry"
)

func TestStatusHandler(t *testing.T) {
	reg := registry.NewMemoryRegistry(nil)
	ctx := context.Background()
	if err := reg.SetOnline(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	if err := reg.SetOnline(ctx, "r2"); err != nil {
		t.Fatal(err)
	}
	if err := reg.SetOffline(ctx, "r2"); err != nil {
		t.Fatal(err)
	}

	h := NewStatusHandler(reg)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/riders/status", nil))
	if rec.Code != 200 {
		t.Fatalf("status %d", rec.Code)
	}
	var all []model.RiderAvailability
	if err := json.Unmarshal(rec.Body.Bytes(), &all); err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 riders, got %d", len(all))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/riders/status?available=true", nil))
	var avail []model.RiderAvailability
	if err := json.Unmarshal(rec.Body.Bytes(), &avail); err != nil {
		t.Fatal(err)
	}
	if len(avail) != 1 || avail[0].RiderID != "r1" {
		t.Fatalf("unexpected available riders: %+v", avail)
	}
}

func TestStatusHandlerMethodNotAllowed(t *testing.T) {
	h := NewStatusHandler(registry.NewMemoryRegistry(nil))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/riders/status", nil))
	if rec.Code != 405 {
		t.Fatalf("status %d", rec.Code)
	}
}

type staticDurations struct {
	durations []float64
	since     time.Time
}

func (s *staticDurations) CompletedDeliveryDurations(_ context.Context, _ string, since time.Time) ([]float64, error) {
	s.since = since
	return s.durations, nil
}

func TestKPIHandler(t *testing.T) {
	src := &staticDurations{durations: []float64{600, 1200, 1800}}
	h := NewKPIHandler(src)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/riders/r1/kpis?since=2026-01-01T00:00:00Z", nil))
	if rec.Code != 200 {
		t.Fatalf("status %d", rec.Code)
	}
	var rep KPIReport
	if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
		t.Fatal(err)
	}
	if rep.RiderID != "r1" || rep.Completed != 3 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if rep.MeanSeconds != 1200 {
		t.Fatalf("mean = %v", rep.MeanSeconds)
	}
	if src.since.Year() != 2026 {
		t.Fatalf("since not parsed: %v", src.since)
	}
}

func TestKPIHandlerRejectsMalformedSince(t *testing.T) {
	src := &staticDurations{durations: []float64{600}}
	h := NewKPIHandler(src)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/riders/r1/kpis?since=yesterday", nil))
	if rec.Code != 400 {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestKPIHandlerBadPath(t *testing.T) {
	h := NewKPIHandler(&staticDurations{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/riders/r1", nil))
	if rec.Code != 404 {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	rep := Summarize("r1", nil)
	if rep.Completed != 0 || rep.MeanSeconds != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
}
