package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/duelcam/backend/internal/auth"
	"github.com/duelcam/backend/internal/events"
	"github.com/duelcam/backend/internal/metrics"
)

// Config holds stream endpoint configuration.
type Config struct {
	PollInterval      time.Duration // Default: 100ms
	HeartbeatInterval time.Duration // Default: 30 seconds
}

// DefaultConfig returns the default stream configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval:      100 * time.Millisecond,
		HeartbeatInterval: 30 * time.Second,
	}
}

// PendingStore is the slice of the in-memory event store the endpoint
// drains. Events are only removed after a successful emit.
type PendingStore interface {
	AddUser(userID string)
	GetUserEvents(userID string) []events.Event
	RemoveEvents(evs []events.Event)
}

// EventJournal is the durable-table surface the endpoint keeps consistent:
// the persistent backlog on connect, and send_at bookkeeping after a drain.
type EventJournal interface {
	UnreadPersistent(ctx context.Context, userID string) ([]events.Event, error)
	MarkSent(ctx context.Context, ids []string, sentAt time.Time) error
}

// Handler serves the long-lived per-user event stream.
type Handler struct {
	config       Config
	manager      *Manager
	store        PendingStore
	journal      EventJournal
	tokenService *auth.TokenService
	logger       *slog.Logger
}

// NewHandler creates a stream handler.
func NewHandler(config Config, manager *Manager, store PendingStore, journal EventJournal, tokenService *auth.TokenService, log *slog.Logger) *Handler {
	if config.PollInterval <= 0 {
		config.PollInterval = 100 * time.Millisecond
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	return &Handler{
		config:       config,
		manager:      manager,
		store:        store,
		journal:      journal,
		tokenService: tokenService,
		logger:       log,
	}
}

// HandleStream handles a stream request: one emit of the unread persistent
// backlog from the durable table, then a poll loop over the in-memory store
// until the transport fails or the client goes away.
//
// Ordering is emit-before-remove: a batch is only removed from the store
// and marked sent after the channel accepted it, so a drop mid-handshake
// redelivers rather than loses.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	userID, err := h.authenticate(r)
	if err != nil {
		h.writeUnauthorized(w)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	conn, err := NewConnection(uuid.New().String(), userID, w)
	if err != nil {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	h.manager.Add(conn)
	defer h.manager.Remove(conn)

	h.store.AddUser(userID)

	metrics.StreamConnectionsActive.Inc()
	defer metrics.StreamConnectionsActive.Dec()

	h.logger.Debug("stream opened",
		slog.String("user_id", userID),
		slog.String("connection_id", conn.ID),
	)

	ctx := r.Context()
	if err := h.emitBacklog(ctx, conn, userID); err != nil {
		h.logger.Debug("stream closed during backlog emit",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}

	h.pollLoop(ctx, conn, userID)
}

// emitBacklog sends the unread persistent events recorded while the user
// had no live connection, possibly before this process started. They stay
// unread in the durable table until the client acknowledges them.
func (h *Handler) emitBacklog(ctx context.Context, conn *Connection, userID string) error {
	backlog, err := h.journal.UnreadPersistent(ctx, userID)
	if err != nil {
		h.logger.Error("failed to load persistent backlog",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return err
	}
	if len(backlog) == 0 {
		return nil
	}
	return conn.EmitBatch(backlog)
}

// pollLoop drains the in-memory store as fast as the channel accepts
// batches. Polling at a fixed interval stands in for a wake-on-insert
// primitive; the interval bounds added latency.
func (h *Handler) pollLoop(ctx context.Context, conn *Connection, userID string) {
	poll := time.NewTicker(h.config.PollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(h.config.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			return
		case <-heartbeat.C:
			if err := conn.Ping(); err != nil {
				return
			}
		case <-poll.C:
			if done := h.drainOnce(ctx, conn, userID); done {
				return
			}
		}
	}
}

// drainOnce emits one batch if anything is pending. Returns true when the
// loop should stop.
func (h *Handler) drainOnce(ctx context.Context, conn *Connection, userID string) bool {
	pending := h.store.GetUserEvents(userID)
	if len(pending) == 0 {
		return false
	}

	if err := conn.EmitBatch(pending); err != nil {
		// Transport failure: leave the batch in the store so the next
		// connection redelivers it.
		h.logger.Debug("stream emit failed, releasing connection",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return true
	}

	h.store.RemoveEvents(pending)

	ids := make([]string, len(pending))
	for i, e := range pending {
		ids[i] = e.ID
	}
	if err := h.journal.MarkSent(ctx, ids, time.Now().UTC()); err != nil {
		// Already delivered; the durable flag catches up on the next ack.
		h.logger.Warn("failed to mark events sent",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	metrics.StreamBatchesEmitted.Inc()
	metrics.EventsDeliveredTotal.Add(float64(len(pending)))
	return false
}

// authenticate extracts and validates the access token from the request.
// It supports both query parameter (token) and Authorization header.
func (h *Handler) authenticate(r *http.Request) (string, error) {
	tokenString := r.URL.Query().Get("token")

	if tokenString == "" {
		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				tokenString = parts[1]
			}
		}
	}

	if tokenString == "" {
		return "", ErrInvalidToken
	}

	claims, err := h.tokenService.ValidateAccessToken(tokenString)
	if err != nil {
		return "", ErrInvalidToken
	}

	return claims.UserID(), nil
}

// writeUnauthorized writes a 401 Unauthorized response.
func (h *Handler) writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error": map[string]string{
			"code":    "AUTH_TOKEN_INVALID",
			"message": "Invalid or missing authentication token",
		},
		"timestamp": time.Now().UTC(),
	})
}
