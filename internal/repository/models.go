package repository

import (
	"time"
)

// PushSubscription is a registered Web Push target for a user.
//
// ExpirationTime mirrors the browser PushSubscription field; nil means the
// subscription does not expire on its own.
type PushSubscription struct {
	ID             string     `db:"id"`
	UserID         string     `db:"user_id"`
	Endpoint       string     `db:"endpoint"`
	P256dh         string     `db:"p256dh"`
	Auth           string     `db:"auth"`
	ExpirationTime *time.Time `db:"expiration_time"`
	CreatedAt      time.Time  `db:"created_at"`
}
