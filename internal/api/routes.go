package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the event, signaling and push subscription
// routes with the Chi router. All routes require an authenticated user.
// Patterns are kept flat so they coexist with the stream route under the
// same /events prefix.
func RegisterRoutes(r chi.Router, eventsH *EventsHandler, signalH *SignalHandler, subsH *SubscriptionHandler, authenticate, rateLimitSignal func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(authenticate)

		r.Get("/events", eventsH.List)
		r.Post("/events/ack", eventsH.Ack)
		r.Get("/events/stats", eventsH.Stats)

		r.With(rateLimitSignal).Post("/matches/{match}/signal", signalH.Signal)

		r.Post("/push/subscriptions", subsH.Subscribe)
		r.Delete("/push/subscriptions", subsH.UnsubscribeByEndpoint)
		r.Delete("/push/subscriptions/{id}", subsH.Unsubscribe)
	})
}
