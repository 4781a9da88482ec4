package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	appctx "github.com/duelcam/backend/internal/context"
	"github.com/duelcam/backend/internal/events"
	"github.com/duelcam/backend/internal/repository"
	"github.com/duelcam/backend/internal/store"
)

// MatchDirectory resolves a matchup to the peer a signal should be routed
// to. Matchmaking rules live outside this package.
type MatchDirectory interface {
	// ResolvePeer returns the id of the other participant of the match.
	ResolvePeer(ctx context.Context, matchID, userID string) (string, error)
}

// sessionDescription is an SDP offer/answer in RTCSessionDescriptionInit
// shape.
type sessionDescription struct {
	Type string `json:"type" validate:"required,oneof=offer pranswer answer rollback"`
	SDP  string `json:"sdp" validate:"required"`
}

// iceCandidate is an RTCIceCandidateInit. All fields may be absent; an
// empty candidate signals end-of-candidates.
type iceCandidate struct {
	Candidate        *string `json:"candidate"`
	SdpMid           *string `json:"sdpMid"`
	SdpMLineIndex    *int    `json:"sdpMLineIndex"`
	UsernameFragment *string `json:"usernameFragment"`
}

// SignalHandler relays WebRTC signaling payloads between match participants
// as technical events.
type SignalHandler struct {
	store    *store.Store
	repo     repository.EventRepositoryInterface
	matches  MatchDirectory
	validate *validator.Validate
	logger   *slog.Logger
}

// NewSignalHandler creates a SignalHandler.
func NewSignalHandler(st *store.Store, repo repository.EventRepositoryInterface, matches MatchDirectory, logger *slog.Logger) *SignalHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SignalHandler{
		store:    st,
		repo:     repo,
		matches:  matches,
		validate: validator.New(),
		logger:   logger,
	}
}

// Signal handles POST /api/v1/matches/{match}/signal. The body must be a
// session description or an ICE candidate; anything else is rejected here
// and never reaches the delivery core.
func (h *SignalHandler) Signal(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeAuthInvalid, "Invalid or expired token", nil)
		return
	}

	matchID := chi.URLParam(r, "match")
	peerID, err := h.matches.ResolvePeer(r.Context(), matchID, userID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrMatchNotFound):
			writeError(w, http.StatusNotFound, CodeNotFound, "Match not found", nil)
		case errors.Is(err, repository.ErrNotParticipant):
			writeError(w, http.StatusForbidden, CodeForbidden, "Not authorized for this match", nil)
		default:
			h.logger.Error("failed to resolve match peer",
				slog.String("match_id", matchID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, CodeInternalError, "Failed to resolve match", nil)
		}
		return
	}

	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}
	if !h.validSignal(body) {
		writeError(w, http.StatusBadRequest, CodeValidationError,
			"Body must be a session description or an ICE candidate", nil)
		return
	}

	event, err := events.New(peerID, events.TypeWebRTC, events.WebRTCData{
		MatchID: matchID,
		Payload: body,
	}, events.WithTechnical())
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternalError, "Failed to build event", nil)
		return
	}

	if err := h.repo.Insert(r.Context(), event); err != nil {
		h.logger.Error("failed to persist signal event",
			slog.String("match_id", matchID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "Failed to record event", nil)
		return
	}
	h.store.RecordEvent(event)

	writeSuccess(w, http.StatusOK, map[string]interface{}{
		"eventId": event.ID,
	})
}

// validSignal accepts the union of the two signaling shapes, mirroring what
// peers hand to setRemoteDescription/addIceCandidate.
func (h *SignalHandler) validSignal(body json.RawMessage) bool {
	var desc sessionDescription
	if err := strictUnmarshal(body, &desc); err == nil {
		if err := h.validate.Struct(desc); err == nil {
			return true
		}
	}

	var cand iceCandidate
	return strictUnmarshal(body, &cand) == nil
}

// strictUnmarshal rejects unknown fields so the union stays closed.
func strictUnmarshal(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
