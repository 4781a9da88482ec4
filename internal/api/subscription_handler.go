package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	appctx "github.com/duelcam/backend/internal/context"
	"github.com/duelcam/backend/internal/events"
	"github.com/duelcam/backend/internal/repository"
	"github.com/duelcam/backend/internal/store"
)

// SubscribeRequest mirrors the browser PushSubscription JSON.
type SubscribeRequest struct {
	Endpoint       string `json:"endpoint" validate:"required,url"`
	ExpirationTime *int64 `json:"expirationTime"`
	Keys           struct {
		P256dh string `json:"p256dh" validate:"required"`
		Auth   string `json:"auth" validate:"required"`
	} `json:"keys"`
}

// SubscriptionHandler maintains the push target registry.
type SubscriptionHandler struct {
	store    *store.Store
	events   repository.EventRepositoryInterface
	subs     repository.SubscriptionRepositoryInterface
	validate *validator.Validate
	logger   *slog.Logger
}

// NewSubscriptionHandler creates a SubscriptionHandler.
func NewSubscriptionHandler(st *store.Store, eventRepo repository.EventRepositoryInterface, subs repository.SubscriptionRepositoryInterface, logger *slog.Logger) *SubscriptionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionHandler{
		store:    st,
		events:   eventRepo,
		subs:     subs,
		validate: validator.New(),
		logger:   logger,
	}
}

// Subscribe handles POST /api/v1/push/subscriptions: registers a push
// target and records a SUBSCRIPTION event so other devices learn about it.
func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeAuthInvalid, "Invalid or expired token", nil)
		return
	}

	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid subscription", nil)
		return
	}

	sub := repository.PushSubscription{
		ID:        uuid.New().String(),
		UserID:    userID,
		Endpoint:  req.Endpoint,
		P256dh:    req.Keys.P256dh,
		Auth:      req.Keys.Auth,
		CreatedAt: time.Now().UTC(),
	}
	if req.ExpirationTime != nil {
		t := time.UnixMilli(*req.ExpirationTime).UTC()
		sub.ExpirationTime = &t
	}

	if err := h.subs.Insert(r.Context(), sub); err != nil {
		h.logger.Error("failed to store push subscription",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "Failed to register subscription", nil)
		return
	}

	event, err := events.New(userID, events.TypeSubscription, events.SubscriptionData{
		SubscriptionID: sub.ID,
		Endpoint:       sub.Endpoint,
	}, events.WithTechnical())
	if err == nil {
		if err := h.events.Insert(r.Context(), event); err != nil {
			h.logger.Warn("failed to persist subscription event",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		} else {
			h.store.RecordEvent(event)
		}
	}

	writeSuccess(w, http.StatusCreated, map[string]interface{}{
		"subscriptionId": sub.ID,
	})
}

// Unsubscribe handles DELETE /api/v1/push/subscriptions/{id}. The delete is
// scoped to the caller; another user's subscription id reads as not found.
func (h *SubscriptionHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeAuthInvalid, "Invalid or expired token", nil)
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.subs.DeleteOwned(r.Context(), userID, id); err != nil {
		if errors.Is(err, repository.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "Subscription not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, CodeInternalError, "Failed to remove subscription", nil)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"deleted": true,
	})
}

// UnsubscribeByEndpointRequest carries the endpoint URL a browser
// PushSubscription identifies itself with.
type UnsubscribeByEndpointRequest struct {
	Endpoint string `json:"endpoint" validate:"required,url"`
}

// UnsubscribeByEndpoint handles DELETE /api/v1/push/subscriptions. Browsers
// hold the subscription endpoint, not our row id, so this is the path a
// client uses after pushManager.getSubscription().unsubscribe().
func (h *SubscriptionHandler) UnsubscribeByEndpoint(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeAuthInvalid, "Invalid or expired token", nil)
		return
	}

	var req UnsubscribeByEndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid endpoint", nil)
		return
	}

	if err := h.subs.DeleteByEndpoint(r.Context(), userID, req.Endpoint); err != nil {
		if errors.Is(err, repository.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, CodeNotFound, "Subscription not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, CodeInternalError, "Failed to remove subscription", nil)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"deleted": true,
	})
}
