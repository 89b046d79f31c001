// Package errors collects the sentinel errors shared across the RTSTT
// pipeline, following §7's error taxonomy.
package errors

import "errors"

var (
	// ErrNotStarted is returned when an operation is attempted on a pool or
	// façade that has not had Start called yet.
	ErrNotStarted = errors.New("rtstt: not started")

	// ErrAlreadyStarted signals a repeated Start. The Start methods in this
	// module are idempotent and never return it.
	ErrAlreadyStarted = errors.New("rtstt: already started")

	// ErrClosed is returned when an operation is attempted after Close.
	ErrClosed = errors.New("rtstt: closed")

	// ErrUnknownConnection is returned by feed/disconnect for an
	// unregistered connection id.
	ErrUnknownConnection = errors.New("rtstt: unknown connection")

	// ErrInvalidChunkDuration is returned when a PCM chunk's duration is not
	// one of 10, 20, or 30 ms.
	ErrInvalidChunkDuration = errors.New("rtstt: chunk duration must be 10, 20, or 30ms")

	// ErrEmptyAudio is returned by the transcriber when asked to process a
	// zero-length buffer.
	ErrEmptyAudio = errors.New("rtstt: empty audio buffer")
)
