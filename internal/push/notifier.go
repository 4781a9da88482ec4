// Package push implements Web Push delivery for escalated events.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/duelcam/backend/internal/events"
	"github.com/duelcam/backend/internal/metrics"
	"github.com/duelcam/backend/internal/repository"
)

// Notifier errors
var (
	// ErrNoTargetDelivered is returned when the user had push targets but
	// none of them accepted the notification.
	ErrNoTargetDelivered = errors.New("no push target accepted the notification")

	// ErrMissingVAPIDKeys is returned when the notifier is constructed
	// without a key pair.
	ErrMissingVAPIDKeys = errors.New("VAPID keys not set")
)

// defaultTTL is the push message TTL in seconds.
const defaultTTL = 300

// Config holds Web Push configuration.
type Config struct {
	// VAPIDPublicKey and VAPIDPrivateKey identify this server to push
	// services. Both are required.
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// Subject is the mailto: or https:// contact URL sent with each push.
	Subject string
	// TTL is the push message TTL in seconds. Zero means defaultTTL.
	TTL int
}

// sendFunc delivers one payload to one target and returns the push service
// status code. Swappable in tests.
type sendFunc func(ctx context.Context, sub repository.PushSubscription, payload []byte) (int, error)

// Notifier sends an escalated event to every active push target of a user.
//
// The overall call succeeds when at least one target accepted the payload,
// or when the user has no targets at all (nothing to deliver is not a
// failure; it would only feed pointless retries).
type Notifier struct {
	subs   repository.SubscriptionRepositoryInterface
	cfg    Config
	logger *slog.Logger
	sendFn sendFunc
}

// New creates a Web Push notifier over the given subscription registry.
func New(cfg Config, subs repository.SubscriptionRepositoryInterface, log *slog.Logger) (*Notifier, error) {
	if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		return nil, ErrMissingVAPIDKeys
	}
	if cfg.Subject == "" {
		cfg.Subject = "mailto:admin@duelcam.app"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if log == nil {
		log = slog.Default()
	}

	n := &Notifier{
		subs:   subs,
		cfg:    cfg,
		logger: log,
	}
	n.sendFn = n.webpushSend
	return n, nil
}

// GenerateVAPIDKeys creates a fresh key pair, for first-time setup.
func GenerateVAPIDKeys() (privateKey, publicKey string, err error) {
	return webpush.GenerateVAPIDKeys()
}

// Send delivers the event to all of the user's active push targets. One
// failing target never blocks the others; it is logged and skipped.
func (n *Notifier) Send(ctx context.Context, userID string, event events.Event) error {
	targets, err := n.subs.ActiveForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("load push targets: %w", err)
	}
	if len(targets) == 0 {
		return nil
	}

	payload, err := json.Marshal(struct {
		Event events.Event `json:"event"`
	}{Event: event})
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	delivered := false
	for _, target := range targets {
		status, err := n.sendFn(ctx, target, payload)
		if err != nil {
			metrics.PushSendsTotal.WithLabelValues("error").Inc()
			n.logger.Warn("push send failed",
				slog.String("user_id", userID),
				slog.String("subscription_id", target.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch {
		case status == http.StatusOK || status == http.StatusCreated:
			metrics.PushSendsTotal.WithLabelValues("accepted").Inc()
			delivered = true
		case status == http.StatusNotFound || status == http.StatusGone:
			metrics.PushSendsTotal.WithLabelValues("gone").Inc()
			n.pruneTarget(ctx, target)
		default:
			metrics.PushSendsTotal.WithLabelValues("rejected").Inc()
			n.logger.Warn("push service rejected notification",
				slog.String("user_id", userID),
				slog.String("subscription_id", target.ID),
				slog.Int("status", status),
			)
		}
	}

	if !delivered {
		return ErrNoTargetDelivered
	}
	return nil
}

// pruneTarget drops a subscription the push service reported gone. Best
// effort; the Send result does not depend on it.
func (n *Notifier) pruneTarget(ctx context.Context, target repository.PushSubscription) {
	if err := n.subs.Delete(ctx, target.ID); err != nil && !errors.Is(err, repository.ErrSubscriptionNotFound) {
		n.logger.Warn("failed to prune gone push subscription",
			slog.String("subscription_id", target.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	n.logger.Info("pruned gone push subscription",
		slog.String("subscription_id", target.ID),
	)
}

// webpushSend is the production sendFunc.
func (n *Notifier) webpushSend(ctx context.Context, sub repository.PushSubscription, payload []byte) (int, error) {
	target := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}

	options := &webpush.Options{
		Subscriber:      n.cfg.Subject,
		VAPIDPublicKey:  n.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: n.cfg.VAPIDPrivateKey,
		TTL:             n.cfg.TTL,
		Urgency:         webpush.UrgencyHigh,
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, target, options)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}
