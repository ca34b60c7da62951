package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger is the store-connectivity slice readiness depends on.
type Pinger interface {
	Ready(ctx context.Context) error
}

func Readiness(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		out := resp{Status: "ready"}
		w.Header().Set("Content-Type", "application/json")
		if err := p.Ready(ctx); err != nil {
			out = resp{Status: "not_ready", Error: err.Error()}
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
