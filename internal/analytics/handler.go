package analytics

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// StatsResponse is the body of GET /analytics. The aggregate fields stay at
// the top level; User is filled only when the request names a user.
type StatsResponse struct {
	AggregatedStats
	GeneratedAt   time.Time     `json:"generated_at"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	User          *UserActivity `json:"user,omitempty"`
}

// Handler serves the aggregator over HTTP.
type Handler struct {
	aggregator *Aggregator
	logger     *slog.Logger
}

func NewHandler(aggregator *Aggregator) *Handler {
	return &Handler{
		aggregator: aggregator,
		logger:     slog.Default().With("component", "analytics-handler"),
	}
}

// Register mounts GET {prefix}/analytics.
func (h *Handler) Register(mux *http.ServeMux, prefix string) {
	mux.HandleFunc("GET "+prefix+"/analytics", h.Stats)
}

// Stats answers the current aggregates. ?user=name adds that user's counts;
// an empty value means the anonymous user.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		AggregatedStats: h.aggregator.Stats(),
		GeneratedAt:     time.Now().UTC(),
		UptimeSeconds:   int64(h.aggregator.Uptime().Seconds()),
	}
	if q := r.URL.Query(); q.Has("user") {
		activity := h.aggregator.UserActivity(q.Get("user"))
		resp.User = &activity
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("writing analytics response", "error", err)
	}
}
