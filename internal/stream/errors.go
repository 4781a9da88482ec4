package stream

import "errors"

var (
	// ErrStreamingNotSupported is returned when the response writer doesn't support streaming.
	ErrStreamingNotSupported = errors.New("streaming not supported")

	// ErrConnectionClosed is returned when trying to write to a closed connection.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrInvalidToken is returned when authentication fails.
	ErrInvalidToken = errors.New("invalid or missing authentication token")
)
