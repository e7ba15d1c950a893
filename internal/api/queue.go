package api

import (
	"context"
	"net/http"

	"github.com/Priya8975/gh-bridge/internal/engine"
	"github.com/Priya8975/gh-bridge/internal/store"
)

type QueueDepther interface {
	Depth(ctx context.Context) (int64, error)
}

type CircuitInspector interface {
	GetState(ctx context.Context, host string) engine.CircuitBreakerState
}

type StatsStore interface {
	GetStats(ctx context.Context) (*store.Stats, error)
}

type ClientCounter interface {
	ClientCount() int
}

// DashboardHandler reports pipeline state for operators.
type DashboardHandler struct {
	stats   StatsStore
	queue   QueueDepther
	breaker CircuitInspector
	hub     ClientCounter
	hosts   []string
}

// NewDashboardHandler reports circuit state for each of hosts.
func NewDashboardHandler(stats StatsStore, queue QueueDepther, breaker CircuitInspector, hub ClientCounter, hosts []string) *DashboardHandler {
	return &DashboardHandler{stats: stats, queue: queue, breaker: breaker, hub: hub, hosts: hosts}
}

type queueResponse struct {
	QueueDepth       int64                        `json:"queue_depth"`
	WebSocketClients int                          `json:"websocket_clients"`
	Circuits         []engine.CircuitBreakerState `json:"circuits"`
}

// Queue returns the webhook backlog, connected chat clients and the state
// of the GitHub circuits.
func (h *DashboardHandler) Queue(w http.ResponseWriter, r *http.Request) {
	depth, err := h.queue.Depth(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read queue depth")
		return
	}

	circuits := make([]engine.CircuitBreakerState, 0, len(h.hosts))
	for _, host := range h.hosts {
		circuits = append(circuits, h.breaker.GetState(r.Context(), host))
	}

	respondJSON(w, http.StatusOK, queueResponse{
		QueueDepth:       depth,
		WebSocketClients: h.hub.ClientCount(),
		Circuits:         circuits,
	})
}

func (h *DashboardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.GetStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	respondJSON(w, http.StatusOK, stats)
}
