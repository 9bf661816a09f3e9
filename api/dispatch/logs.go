// Package dispatch exposes the dispatch audit log over HTTP.
package dispatch

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Jammarkeun/PawfectFinds/core/dispatch/logging"
)

// NewLogHandler returns an HTTP handler exposing dispatch audit records via
// GET /api/dispatch/logs. Requests must include an Authorization header with
// "Bearer <token>" when token is non-empty.
func NewLogHandler(store logging.LogStore, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token != "" {
			auth := r.Header.Get("Authorization")
			if auth != "Bearer "+token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		if store == nil {
			http.Error(w, "audit log disabled", http.StatusServiceUnavailable)
			return
		}
		q := logging.Query{}
		if s := r.URL.Query().Get("start"); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				q.Start = t
			}
		}
		if s := r.URL.Query().Get("end"); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				q.End = t
			}
		}
		q.OrderID = r.URL.Query().Get("order_id")
		q.RiderID = r.URL.Query().Get("rider_id")
		q.Event = r.URL.Query().Get("event")

		records, err := store.Query(r.Context(), q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(records); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	})
}
