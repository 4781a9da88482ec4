// Package events defines the event record flowing through the delivery core.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of event. The set is closed; payloads that name
// anything outside this list are rejected at the boundary.
type Type string

const (
	TypeFriendRequest         Type = "FRIEND_REQUEST"
	TypeFriendRequestAccepted Type = "FRIEND_REQUEST_ACCEPTED"
	TypeLogin                 Type = "LOGIN"
	TypeRegister              Type = "REGISTER"
	TypeReady                 Type = "READY"
	TypeStart                 Type = "START"
	TypeCapture               Type = "CAPTURE"
	TypeUpload                Type = "UPLOAD"
	TypeDeleteMatchup         Type = "DELETE_MATCHUP"
	TypeSubscription          Type = "SUBSCRIPTION"
	TypeWebRTC                Type = "WEBRTC"
)

// Valid reports whether t is one of the known event types.
func (t Type) Valid() bool {
	switch t {
	case TypeFriendRequest, TypeFriendRequestAccepted, TypeLogin, TypeRegister,
		TypeReady, TypeStart, TypeCapture, TypeUpload, TypeDeleteMatchup,
		TypeSubscription, TypeWebRTC:
		return true
	}
	return false
}

// Event is a single notification/state-change unit addressed to one user.
//
// SendAt is nil until the event has been handed to a delivery channel.
// Persistent events must be explicitly acknowledged by the client; they are
// never dropped silently by the in-memory timeout path. Technical events
// drive client state transitions (navigation, signaling) without a visible
// notification.
type Event struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"userId" db:"user_id"`
	Type        Type            `json:"type" db:"type"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
	SendAt      *time.Time      `json:"sendAt" db:"send_at"`
	Data        json.RawMessage `json:"data" db:"data"`
	Persistent  bool            `json:"persistent" db:"persistent"`
	Read        bool            `json:"read" db:"read"`
	IsTechnical bool            `json:"isTechnical" db:"is_technical"`
}

// Option customizes an event at construction time.
type Option func(*Event)

// WithPersistent marks the event as requiring explicit acknowledgement.
func WithPersistent() Option {
	return func(e *Event) { e.Persistent = true }
}

// WithTechnical marks the event as a client-state transition that should not
// surface a visible notification badge.
func WithTechnical() Option {
	return func(e *Event) { e.IsTechnical = true }
}

// New builds an event for a user with a marshaled payload and a fresh id.
func New(userID string, typ Type, payload any, opts ...Option) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	e := Event{
		ID:        uuid.New().String(),
		UserID:    userID,
		Type:      typ,
		CreatedAt: time.Now().UTC(),
		Data:      data,
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e, nil
}
