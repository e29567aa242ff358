package testutil

import (
	"errors"
	"io"
	"sync"

	"github.com/vnykmshr/streamflow/pkg/stream"
)

// ReaderSource adapts an io.Reader into a stream.Source for tests: each
// fill request reads up to the requested size and pushes it, turning
// io.EOF into a stream EOF.
type ReaderSource struct {
	mu sync.Mutex
	rd io.Reader
}

// NewReaderSource creates a source backed by rd.
func NewReaderSource(rd io.Reader) *ReaderSource {
	return &ReaderSource{rd: rd}
}

// Fill implements stream.Source.
func (rs *ReaderSource) Fill(r *stream.Readable, size int) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if size < 1 {
		size = 1
	}
	buf := make([]byte, size)
	n, err := rs.rd.Read(buf)
	if n > 0 {
		if _, perr := r.PushBytes(buf[:n]); perr != nil {
			return perr
		}
	}
	if errors.Is(err, io.EOF) {
		return r.PushEOF()
	}
	if err != nil {
		return err
	}
	if n == 0 {
		// A zero-byte read with no error: answer the fill contract
		// anyway so the engine can issue the next request.
		_ = r.PushEOF()
	}
	return nil
}

// WriterSink adapts an io.Writer into a stream.Sink for tests.
type WriterSink struct {
	mu sync.Mutex
	wr io.Writer
}

// NewWriterSink creates a sink backed by wr.
func NewWriterSink(wr io.Writer) *WriterSink {
	return &WriterSink{wr: wr}
}

// Write implements stream.Sink.
func (ws *WriterSink) Write(c stream.Chunk, done func(error)) {
	ws.mu.Lock()
	_, err := ws.wr.Write(c.Bytes())
	ws.mu.Unlock()
	done(err)
}
