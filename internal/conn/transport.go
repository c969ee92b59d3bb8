package conn

import (
	"context"
	"errors"
)

// Transport errors
var (
	ErrConnClosed       = errors.New("connection closed")
	ErrWriteChannelFull = errors.New("write channel full")
)

// Transport abstracts the realtime wire so the manager (and every consumer
// above it) never learns whether events arrive over a websocket or a
// long-poll loop.
type Transport interface {
	// Name identifies the transport for logging
	Name() string

	// ReadMessage blocks until one inbound frame is available
	ReadMessage() ([]byte, error)

	// WriteMessage queues one outbound frame
	WriteMessage(data []byte) error

	// Close tears the transport down. Idempotent.
	Close() error
}

// Dialer opens a transport for an authenticated user
type Dialer func(ctx context.Context, userID int64) (Transport, error)
