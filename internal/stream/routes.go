package stream

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the stream route with the Chi router.
// Authentication is handled inside the handler so clients can pass the
// token either as a query parameter or as a bearer header (EventSource
// cannot set custom headers in every browser).
func RegisterRoutes(r chi.Router, handler *Handler) {
	r.Get("/events/stream", handler.HandleStream)
}
