package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	appctx "github.com/duelcam/backend/internal/context"
	"github.com/duelcam/backend/internal/repository"
	"github.com/duelcam/backend/internal/store"
)

// AckRequest is the body of POST /events/ack.
type AckRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}

// EventsHandler serves the pending/acknowledge/stats surface over the
// delivery core.
type EventsHandler struct {
	store  *store.Store
	repo   repository.EventRepositoryInterface
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(st *store.Store, repo repository.EventRepositoryInterface, logger *slog.Logger) *EventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventsHandler{
		store:  st,
		repo:   repo,
		logger: logger,
	}
}

// List handles GET /api/v1/events: a snapshot of the caller's pending
// events, sorted by creation time.
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeAuthInvalid, "Invalid or expired token", nil)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"events": h.store.GetUserEvents(userID),
	})
}

// Ack handles POST /api/v1/events/ack: the client acknowledges a set of
// event ids. Acknowledged events are flagged read in the durable table and
// removed from the in-memory store, cancelling their escalation timers.
func (h *EventsHandler) Ack(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeAuthInvalid, "Invalid or expired token", nil)
		return
	}

	var req AckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, CodeValidationError, "ids is required", nil)
		return
	}

	updated, err := h.repo.MarkRead(r.Context(), userID, req.IDs)
	if err != nil {
		h.logger.Error("failed to mark events read",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "Failed to acknowledge events", nil)
		return
	}

	// Removing ids that are no longer pending is a no-op by design.
	for _, id := range req.IDs {
		h.store.RemoveEvent(id, userID)
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"acknowledged": updated,
	})
}

// Stats handles GET /api/v1/events/stats: store occupancy for monitoring.
func (h *EventsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"stats": h.store.Stats(),
	})
}
