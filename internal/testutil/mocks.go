package testutil

import (
	"sync"
	"time"

	"github.com/vnykmshr/streamflow/pkg/stream"
)

// MockSink is a test sink that records flushed chunks and can simulate
// delayed completions and flush errors. It implements the optional
// finalize and teardown hooks and counts their invocations.
type MockSink struct {
	mu            sync.Mutex
	chunks        []stream.Chunk
	writeCount    int
	delay         time.Duration
	errorOnNth    int
	err           error
	finalCalls    int
	finalErr      error
	teardownCalls int
	teardownErr   error
	lastTeardown  error
}

// NewMockSink creates a new MockSink completing flushes synchronously.
func NewMockSink() *MockSink {
	return &MockSink{}
}

// Write implements stream.Sink.
func (ms *MockSink) Write(c stream.Chunk, done func(error)) {
	ms.mu.Lock()
	ms.writeCount++
	var err error
	if ms.errorOnNth > 0 && ms.writeCount == ms.errorOnNth {
		err = ms.err
	} else {
		ms.chunks = append(ms.chunks, c)
	}
	delay := ms.delay
	ms.mu.Unlock()

	if delay > 0 {
		time.AfterFunc(delay, func() { done(err) })
		return
	}
	done(err)
}

// Final implements stream.FinalizeSink.
func (ms *MockSink) Final(done func(error)) {
	ms.mu.Lock()
	ms.finalCalls++
	err := ms.finalErr
	ms.mu.Unlock()
	done(err)
}

// Teardown implements stream.Teardowner.
func (ms *MockSink) Teardown(err error, done func(error)) {
	ms.mu.Lock()
	ms.teardownCalls++
	ms.lastTeardown = err
	terr := ms.teardownErr
	ms.mu.Unlock()
	done(terr)
}

// SetDelay completes subsequent flushes asynchronously after d.
func (ms *MockSink) SetDelay(d time.Duration) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.delay = d
}

// SetErrorOnNth makes the nth flush fail with err.
func (ms *MockSink) SetErrorOnNth(n int, err error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.errorOnNth = n
	ms.err = err
}

// SetFinalError makes the finalize hook fail with err.
func (ms *MockSink) SetFinalError(err error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.finalErr = err
}

// Chunks returns the flushed chunks.
func (ms *MockSink) Chunks() []stream.Chunk {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]stream.Chunk, len(ms.chunks))
	copy(out, ms.chunks)
	return out
}

// String returns the concatenated byte payload of the flushed chunks.
func (ms *MockSink) String() string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	var out []byte
	for _, c := range ms.chunks {
		out = append(out, c.Bytes()...)
	}
	return string(out)
}

// WriteCount returns the number of flush calls received.
func (ms *MockSink) WriteCount() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.writeCount
}

// FinalCalls returns how many times the finalize hook ran.
func (ms *MockSink) FinalCalls() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.finalCalls
}

// TeardownCalls returns how many times the teardown hook ran.
func (ms *MockSink) TeardownCalls() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.teardownCalls
}

// LastTeardownErr returns the error the teardown hook was invoked with.
func (ms *MockSink) LastTeardownErr() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.lastTeardown
}

// BatchMockSink is a MockSink that additionally accepts corked batches.
type BatchMockSink struct {
	MockSink
	mu         sync.Mutex
	batchCount int
	batchSizes []int
}

// NewBatchMockSink creates a new BatchMockSink.
func NewBatchMockSink() *BatchMockSink {
	return &BatchMockSink{}
}

// WriteBatch implements stream.BatchSink by recording the batch shape and
// delegating each chunk to the underlying MockSink recording.
func (bs *BatchMockSink) WriteBatch(chunks []stream.Chunk, done func(error)) {
	bs.mu.Lock()
	bs.batchCount++
	bs.batchSizes = append(bs.batchSizes, len(chunks))
	bs.mu.Unlock()

	bs.MockSink.mu.Lock()
	bs.MockSink.writeCount++
	bs.MockSink.chunks = append(bs.MockSink.chunks, chunks...)
	delay := bs.MockSink.delay
	bs.MockSink.mu.Unlock()

	if delay > 0 {
		time.AfterFunc(delay, func() { done(nil) })
		return
	}
	done(nil)
}

// BatchCount returns the number of batched flushes.
func (bs *BatchMockSink) BatchCount() int {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.batchCount
}

// BatchSizes returns the chunk count of each batched flush.
func (bs *BatchMockSink) BatchSizes() []int {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	out := make([]int, len(bs.batchSizes))
	copy(out, bs.batchSizes)
	return out
}

// MockSource feeds a fixed sequence of chunks, one per fill request,
// followed by EOF. It can simulate a fill failure at a given call.
type MockSource struct {
	mu         sync.Mutex
	pending    []stream.Chunk
	fillCount  int
	errorOnNth int
	err        error
	sizes      []int
}

// NewMockSource creates a source that will deliver the given byte chunks.
func NewMockSource(chunks ...[]byte) *MockSource {
	ms := &MockSource{}
	for _, b := range chunks {
		ms.pending = append(ms.pending, stream.BytesChunk(b))
	}
	return ms
}

// NewMockObjectSource creates a source that will deliver the given objects.
func NewMockObjectSource(objects ...any) *MockSource {
	ms := &MockSource{}
	for _, v := range objects {
		ms.pending = append(ms.pending, stream.ObjectChunk(v))
	}
	return ms
}

// Fill implements stream.Source.
func (ms *MockSource) Fill(r *stream.Readable, size int) error {
	ms.mu.Lock()
	ms.fillCount++
	ms.sizes = append(ms.sizes, size)
	if ms.errorOnNth > 0 && ms.fillCount == ms.errorOnNth {
		err := ms.err
		ms.mu.Unlock()
		return err
	}
	if len(ms.pending) == 0 {
		ms.mu.Unlock()
		return r.PushEOF()
	}
	c := ms.pending[0]
	ms.pending = ms.pending[1:]
	ms.mu.Unlock()

	_, err := r.Push(c)
	return err
}

// SetErrorOnNth makes the nth fill request fail with err.
func (ms *MockSource) SetErrorOnNth(n int, err error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.errorOnNth = n
	ms.err = err
}

// FillCount returns the number of fill requests received.
func (ms *MockSource) FillCount() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.fillCount
}

// RequestedSizes returns the size argument of each fill request.
func (ms *MockSource) RequestedSizes() []int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]int, len(ms.sizes))
	copy(out, ms.sizes)
	return out
}
