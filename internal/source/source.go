// Package source provides transports that deliver the device's output
// as ordered text chunks (serial port, stdin, TCP, capture files).
package source

import (
	"context"
	"errors"
)

// ErrUnsupported reports that a transport cannot be used in this
// environment at all, for example when the platform has no serial
// port support. It is a setup-time precondition failure.
var ErrUnsupported = errors.New("transport not supported in this environment")

// Chunk is one delivery of text from a transport. Chunk boundaries are
// arbitrary: a chunk may hold zero, one or many record separators.
type Chunk struct {
	// Text is the chunk content, already decoded as UTF-8.
	Text string
	// Source identifies which device/file/stream produced this chunk.
	Source string
}

// Source defines the interface for all transports. Closing the Chunks
// channel is the end-of-stream signal.
type Source interface {
	// Chunks returns a channel that emits text chunks in arrival order.
	Chunks() <-chan Chunk
	// Errors returns a channel that emits non-fatal errors encountered
	// while reading.
	Errors() <-chan error
	// Start begins reading. It blocks until the stream ends, ctx is
	// cancelled or Stop is called, and returns the transport error that
	// ended the stream, if any.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the source and releases its handle.
	Stop() error
	// Name describes the source for display.
	Name() string
}
