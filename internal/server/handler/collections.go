package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/engine"
)

// CollectionSource reads engine state.
type CollectionSource interface {
	Summaries() []engine.Summary
	Collection(symbol string) (domain.CollectionSnapshot, error)
}

// CollectionHandler serves the per-collection endpoints.
type CollectionHandler struct {
	src    CollectionSource
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewCollectionHandler creates a CollectionHandler. audit may be nil, in
// which case the audit endpoint answers 404.
func NewCollectionHandler(src CollectionSource, audit domain.AuditStore, logger *slog.Logger) *CollectionHandler {
	return &CollectionHandler{
		src:    src,
		audit:  audit,
		logger: logger.With(slog.String("handler", "collections")),
	}
}

// List returns one summary per tracked collection.
// GET /api/collections
func (h *CollectionHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"collections": h.src.Summaries()})
}

// Get returns the full ledger state of one collection.
// GET /api/collections/{symbol}
func (h *CollectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.src.Collection(r.PathValue("symbol"))
	if errors.Is(err, domain.ErrUnknownCollection) {
		writeError(w, http.StatusNotFound, "unknown collection")
		return
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "collection lookup failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Audit lists the audit trail of one collection, newest first.
// GET /api/collections/{symbol}/audit
func (h *CollectionHandler) Audit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotFound, "audit trail disabled")
		return
	}
	symbol := r.PathValue("symbol")
	if _, err := h.src.Collection(symbol); errors.Is(err, domain.ErrUnknownCollection) {
		writeError(w, http.StatusNotFound, "unknown collection")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts.Collection = symbol

	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "audit list failed",
			slog.String("collection", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
