// Package store holds not-yet-delivered events in memory, one map per user,
// and drives escalation to push notifications when the stream path does not
// claim an event within the timeout window.
package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/duelcam/backend/internal/events"
	"github.com/duelcam/backend/internal/metrics"
)

const (
	// DefaultEscalationTimeout is how long an event may sit undelivered
	// before it is promoted to a push notification.
	DefaultEscalationTimeout = 10 * time.Second

	// escalationSendTimeout bounds a single notifier attempt.
	escalationSendTimeout = 30 * time.Second
)

// Notifier delivers a single event out-of-band when the stream path has not
// claimed it in time. A nil error means the event is considered handled.
type Notifier interface {
	Send(ctx context.Context, userID string, event events.Event) error
}

// Stats is a point-in-time snapshot of store state for monitoring.
type Stats struct {
	UserCount    int `json:"userCount"`
	EventCount   int `json:"eventCount"`
	TimeoutCount int `json:"timeoutCount"`
}

// Config holds store tuning knobs.
type Config struct {
	// EscalationTimeout is the delay before an undelivered event is handed
	// to the notifier. Zero means DefaultEscalationTimeout.
	EscalationTimeout time.Duration
}

// Store is the authoritative in-memory index of pending events.
//
// Producers (route handlers), the per-user stream loops and the escalation
// timer callbacks all mutate the same maps, so every access goes through mu.
// Each pending event owns exactly one timer; re-arming cancels the old timer
// and installs the new one under the same lock acquisition.
type Store struct {
	mu         sync.Mutex
	userEvents map[string]map[string]events.Event
	timers     map[string]*escalation
	users      map[string]struct{}
	closed     bool

	notifier Notifier
	timeout  time.Duration
	logger   *slog.Logger
}

// escalation is one armed timer. The handle's identity distinguishes the
// live timer for an id from a stale one whose callback fired before Stop
// could take effect.
type escalation struct {
	timer *time.Timer
}

// New creates a store with the given notifier for escalations.
func New(cfg Config, notifier Notifier, log *slog.Logger) *Store {
	if cfg.EscalationTimeout <= 0 {
		cfg.EscalationTimeout = DefaultEscalationTimeout
	}
	if log == nil {
		log = slog.Default()
	}

	return &Store{
		userEvents: make(map[string]map[string]events.Event),
		timers:     make(map[string]*escalation),
		users:      make(map[string]struct{}),
		notifier:   notifier,
		timeout:    cfg.EscalationTimeout,
		logger:     log,
	}
}

// AddUser registers a user id as known. processEvent refuses to escalate
// events for unknown users; this is a defensive check, not ownership.
func (s *Store) AddUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.users[userID] = struct{}{}
}

// RecordEvent inserts the event under its user and arms the escalation
// timer. Inserting an id that already has a timer cancels the old timer
// first, so re-arming never leaves two live timers for one id. Returns the
// event id.
func (s *Store) RecordEvent(e events.Event) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return e.ID
	}

	userEvents, ok := s.userEvents[e.UserID]
	if !ok {
		userEvents = make(map[string]events.Event)
		s.userEvents[e.UserID] = userEvents
	}
	userEvents[e.ID] = e

	if old, ok := s.timers[e.ID]; ok {
		old.timer.Stop()
	}
	id, userID := e.ID, e.UserID
	h := &escalation{}
	h.timer = time.AfterFunc(s.timeout, func() {
		s.processEvent(id, userID, h)
	})
	s.timers[e.ID] = h

	metrics.EventsRecordedTotal.WithLabelValues(string(e.Type)).Inc()
	return e.ID
}

// processEvent runs when an escalation timer fires. The event being gone
// already is the common race (it was drained or acknowledged) and is a
// silent no-op, as is an unknown user. A fired timer that is no longer the
// one registered for the id was re-armed while its callback waited on mu;
// only the registered timer may consume the event.
func (s *Store) processEvent(id, userID string, fired *escalation) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if cur, ok := s.timers[id]; !ok || cur != fired {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)

	userEvents, ok := s.userEvents[userID]
	if !ok {
		s.mu.Unlock()
		return
	}
	e, ok := userEvents[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	if _, known := s.users[userID]; !known {
		s.mu.Unlock()
		return
	}

	// Detach before notifying so a concurrent drain cannot deliver the
	// event while the push attempt is in flight.
	delete(userEvents, id)
	if len(userEvents) == 0 {
		delete(s.userEvents, userID)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), escalationSendTimeout)
	defer cancel()

	if err := s.notifier.Send(ctx, userID, e); err != nil {
		metrics.EscalationsTotal.WithLabelValues("failure").Inc()
		s.logger.Warn("push escalation failed, re-arming event",
			slog.String("event_id", id),
			slog.String("user_id", userID),
			slog.String("type", string(e.Type)),
			slog.String("error", err.Error()),
		)
		// At-least-once: the event goes back in with a fresh timer rather
		// than being dropped. Retries are paced by the escalation timeout.
		s.RecordEvent(e)
		return
	}

	metrics.EscalationsTotal.WithLabelValues("success").Inc()
	s.logger.Debug("event escalated to push notification",
		slog.String("event_id", id),
		slog.String("user_id", userID),
	)
}

// GetUserEvents returns a snapshot of the user's pending events sorted by
// creation time. The result is never a live view.
func (s *Store) GetUserEvents(userID string) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	userEvents, ok := s.userEvents[userID]
	if !ok {
		return []events.Event{}
	}

	result := make([]events.Event, 0, len(userEvents))
	for _, e := range userEvents {
		result = append(result, e)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// GetEvent is a point lookup of a pending event.
func (s *Store) GetEvent(id, userID string) (events.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userEvents, ok := s.userEvents[userID]
	if !ok {
		return events.Event{}, false
	}
	e, ok := userEvents[id]
	return e, ok
}

// RemoveEvent cancels the event's timer and deletes it. Removing an id that
// is not present is a no-op. Empty per-user maps are pruned so the store
// never retains them.
func (s *Store) RemoveEvent(id, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id, userID)
}

// RemoveEvents is the batch form of RemoveEvent, used after a drain.
func (s *Store) RemoveEvents(evs []events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range evs {
		s.removeLocked(e.ID, e.UserID)
	}
}

func (s *Store) removeLocked(id, userID string) {
	if h, ok := s.timers[id]; ok {
		h.timer.Stop()
		delete(s.timers, id)
	}

	userEvents, ok := s.userEvents[userID]
	if !ok {
		return
	}
	delete(userEvents, id)
	if len(userEvents) == 0 {
		delete(s.userEvents, userID)
	}
}

// Cleanup cancels all outstanding timers and clears all state. It is called
// once at shutdown; timers that have already fired see the closed flag and
// return without touching the notifier.
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for _, h := range s.timers {
		h.timer.Stop()
	}
	s.timers = make(map[string]*escalation)
	s.userEvents = make(map[string]map[string]events.Event)
	s.users = make(map[string]struct{})
}

// Stats reports current store occupancy. Read-only, no side effects.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, userEvents := range s.userEvents {
		total += len(userEvents)
	}

	return Stats{
		UserCount:    len(s.users),
		EventCount:   total,
		TimeoutCount: len(s.timers),
	}
}
