// Package riders exposes the rider fleet over HTTP for seller and admin
// dashboards.
package riders

import (
	"encoding/json"
	"net/http"

	"github.com/Jammarkeun/PawfectFinds/core/registry"
)

// NewStatusHandler returns an HTTP handler exposing rider availability via
// GET /api/riders/status.
func NewStatusHandler(reg registry.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		riders, err := reg.List(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if q := r.URL.Query().Get("available"); q == "true" {
			riders, err = reg.ListAvailable(r.Context())
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(riders); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}
