package riders

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"
)

// DurationSource reports completed delivery durations for one rider.
// Satisfied by the order stores.
type DurationSource interface {
	CompletedDeliveryDurations(ctx context.Context, riderID string, since time.Time) ([]float64, error)
}

// KPIReport summarizes a rider's delivery performance.
type KPIReport struct {
	RiderID       string  `json:"rider_id"`
	Completed     int     `json:"completed"`
	MeanSeconds   float64 `json:"mean_seconds"`
	StddevSeconds float64 `json:"stddev_seconds"`
	P50Seconds    float64 `json:"p50_seconds"`
	P90Seconds    float64 `json:"p90_seconds"`
}

// NewKPIHandler exposes delivery KPIs via GET /api/riders/{id}/kpis.
// The optional since query parameter (RFC3339) bounds the window.
func NewKPIHandler(src DurationSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		path := strings.TrimPrefix(r.URL.Path, "/api/riders/")
		parts := strings.Split(path, "/")
		if len(parts) < 2 || parts[1] != "kpis" {
			http.NotFound(w, r)
			return
		}
		riderID := parts[0]
		var since time.Time
		if raw := r.URL.Query().Get("since"); raw != "" {
			var err error
			since, err = time.Parse(time.RFC3339, raw)
			if err != nil {
				http.Error(w, "since must be RFC3339", http.StatusBadRequest)
				return
			}
		}

		durations, err := src.CompletedDeliveryDurations(r.Context(), riderID, since)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Summarize(riderID, durations))
	})
}

// Summarize computes the KPI report from raw durations in seconds.
func Summarize(riderID string, durations []float64) KPIReport {
	rep := KPIReport{RiderID: riderID, Completed: len(durations)}
	if len(durations) == 0 {
		return rep
	}
	sorted := make([]float64, len(durations))
	copy(sorted, durations)
	sort.Float64s(sorted)

	rep.MeanSeconds = stat.Mean(sorted, nil)
	if len(sorted) > 1 {
		rep.StddevSeconds = stat.StdDev(sorted, nil)
	}
	rep.P50Seconds = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	rep.P90Seconds = stat.Quantile(0.9, stat.Empirical, sorted, nil)
	return rep
}
