package transport

import "errors"

// Sentinel errors transports return; dispatcher and worker code switch on
// these with errors.Is rather than inspecting backend-specific errors
// (teacher's pkg/queue.ErrEmpty/ErrClosed/ErrInvalid convention).
var (
	ErrEmpty         = errors.New("transport: no messages available")
	ErrClosed        = errors.New("transport: closed")
	ErrNotFound      = errors.New("transport: receipt not found or already settled")
	ErrBatchTooLarge = errors.New("transport: batch exceeds max batch size")
	ErrUnknownQueue  = errors.New("transport: unknown queue")
)
