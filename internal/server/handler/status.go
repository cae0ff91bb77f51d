package handler

import (
	"net/http"
	"time"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/gateway"
)

// StatusHandler reports process-level state: run mode, uptime, the event
// inbox depth and the marketplace work queues.
type StatusHandler struct {
	mode    string
	started time.Time
	pending func() int
	queues  map[string]func() gateway.Stats
}

// NewStatusHandler creates a StatusHandler. pending may be nil.
func NewStatusHandler(mode string, started time.Time, pending func() int, queues map[string]func() gateway.Stats) *StatusHandler {
	return &StatusHandler{mode: mode, started: started, pending: pending, queues: queues}
}

// GetStatus responds with the current status.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	queues := make(map[string]gateway.Stats, len(h.queues))
	for chain, stats := range h.queues {
		queues[chain] = stats()
	}
	pending := 0
	if h.pending != nil {
		pending = h.pending()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"pending_events": pending,
		"queues":         queues,
	})
}
