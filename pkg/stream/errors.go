package stream

import (
	"errors"
	"fmt"
)

// Common error types used across the stream engines

var (
	// ErrStreamDestroyed indicates an operation on a destroyed stream.
	ErrStreamDestroyed = errors.New("stream is destroyed")

	// ErrStreamFinished indicates a write or end after End has been called.
	ErrStreamFinished = errors.New("stream is finished")

	// ErrPushAfterEOF indicates a push after the EOF marker was accepted.
	ErrPushAfterEOF = errors.New("push after EOF")

	// ErrUnknownEncoding indicates an unrecognized chunk text encoding.
	ErrUnknownEncoding = errors.New("unknown encoding")

	// ErrInvalidChunk indicates a chunk whose kind does not match the
	// stream's mode (object chunk on a byte stream or vice versa).
	ErrInvalidChunk = errors.New("chunk does not match stream mode")
)

// SourceError wraps a failure reported by a Source's Fill.
type SourceError struct {
	Err error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source: %v", e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// SinkError wraps a failure reported by a Sink's Write, WriteBatch,
// Final, or Teardown completion.
type SinkError struct {
	Err error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink: %v", e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// IsTerminal returns true if the error indicates the stream can no longer
// accept work.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrStreamDestroyed) || errors.Is(err, ErrStreamFinished) || errors.Is(err, ErrPushAfterEOF)
}
