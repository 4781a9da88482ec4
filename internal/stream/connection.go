// Package stream implements the per-user event delivery channel over
// Server-Sent Events and the endpoint loop that drains the event store
// into it.
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/duelcam/backend/internal/events"
)

// Connection is the delivery channel to one connected client. Writes are
// serialized; a transport failure or Close makes every later write return
// ErrConnectionClosed.
type Connection struct {
	ID        string
	UserID    string
	CreatedAt time.Time

	mu      sync.Mutex
	writer  http.ResponseWriter
	flusher http.Flusher
	done    chan struct{}
}

// NewConnection wraps a response writer as a delivery channel. Fails when
// the writer cannot flush incrementally.
func NewConnection(id, userID string, w http.ResponseWriter) (*Connection, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingNotSupported
	}

	return &Connection{
		ID:        id,
		UserID:    userID,
		CreatedAt: time.Now(),
		writer:    w,
		flusher:   flusher,
		done:      make(chan struct{}),
	}, nil
}

// EmitBatch serializes the events as one JSON array and pushes it down the
// channel as a single SSE message. The frame id is the last event's id so
// clients can resume.
func (c *Connection) EmitBatch(batch []events.Event) error {
	if len(batch) == 0 {
		return nil
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal event batch: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosedLocked() {
		return ErrConnectionClosed
	}

	frame := fmt.Sprintf("event: message\ndata: %s\nid: %s\n\n", data, batch[len(batch)-1].ID)
	if _, err := fmt.Fprint(c.writer, frame); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

// Ping writes an SSE comment to detect dead transports between batches.
func (c *Connection) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosedLocked() {
		return ErrConnectionClosed
	}
	if _, err := fmt.Fprint(c.writer, ": ping\n\n"); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

// Close marks the connection closed. Safe to call more than once.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isClosedLocked() {
		close(c.done)
	}
}

// Done exposes the closed signal for select loops.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// IsClosed returns true once the connection is closed.
func (c *Connection) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Connection) isClosedLocked() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
