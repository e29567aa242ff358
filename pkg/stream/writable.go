package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vnykmshr/streamflow/pkg/metrics"
)

// Sink accepts flushed chunks from a Writable. Write is invoked at most
// once at a time per stream; done must eventually be called exactly once
// with the flush outcome. A non-nil outcome is recorded as the stream's
// fatal error.
type Sink interface {
	Write(c Chunk, done func(error))
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(c Chunk, done func(error))

// Write implements Sink.
func (f SinkFunc) Write(c Chunk, done func(error)) { f(c, done) }

// BatchSink is an optional Sink capability: chunks coalesced while the
// stream was corked are flushed in a single call instead of one by one.
type BatchSink interface {
	WriteBatch(chunks []Chunk, done func(error))
}

// FinalizeSink is an optional Sink capability: Final runs exactly once
// after End, when all pending writes have completed and before the finish
// notification fires.
type FinalizeSink interface {
	Final(done func(error))
}

// WritableConfig holds configuration options for a Writable.
type WritableConfig struct {
	// HighWaterMark is the pending length at which Write signals
	// backpressure. Defaults to 16KB (16 chunks in object mode).
	HighWaterMark int

	// ObjectMode carries arbitrary objects instead of bytes.
	ObjectMode bool

	// Name labels the stream in logs and metrics. Defaults to a
	// generated identifier.
	Name string

	// Logger receives debug logging. Defaults to a no-op logger.
	Logger *zap.Logger

	// Metrics configures Prometheus collection. Disabled by default.
	Metrics metrics.Config

	// OnDrain fires once per backpressure episode, when the pending
	// length falls back to the high-water mark or below.
	OnDrain func()

	// OnFinish fires exactly once when the stream has ended and every
	// pending write (and the sink finalizer) completed.
	OnFinish func()

	// OnError fires at most once with the stream's fatal error.
	OnError func(error)

	// OnClose fires exactly once after teardown completes.
	OnClose func()
}

// DefaultWritableConfig returns a default configuration.
func DefaultWritableConfig() WritableConfig {
	return WritableConfig{
		HighWaterMark: DefaultHighWaterMark,
	}
}

// WritableStats is a snapshot of a Writable's counters.
type WritableStats struct {
	// Writes is the number of accepted writes.
	Writes int64

	// Flushes is the number of sink flush calls (a batch counts once).
	Flushes int64

	// BytesWritten is the total declared length flushed.
	BytesWritten int64

	// BackpressureEpisodes counts transitions into the Write-returns-false state.
	BackpressureEpisodes int64

	// DrainEvents counts drain notifications.
	DrainEvents int64

	// Buffered is the pending declared length (queued plus in flight).
	Buffered int

	// HighWaterMark is the configured mark.
	HighWaterMark int

	// Corked is the current cork depth.
	Corked int

	// Ending is true once End was called.
	Ending bool

	// Finished is true once the finish notification fired.
	Finished bool

	// Destroyed is true once the stream was torn down.
	Destroyed bool
}

// writeReq is one accepted write and its completion callback.
type writeReq struct {
	chunk Chunk
	done  func(error)
}

// Writable manages a sink's pending-write queue, write coalescing via
// corking, and the drain signal toward the producer.
type Writable struct {
	mu   sync.Mutex
	cfg  WritableConfig
	sink Sink
	life *lifecycle
	ins  *instruments
	log  *zap.Logger
	name string

	hwm        int
	objectMode bool

	queue    []writeReq
	inFlight []writeReq
	buffered int
	corked   int
	writing  bool

	ending     bool
	finalizing bool
	finished   bool
	destroyed  bool
	needDrain  bool

	endDones     []func(error)
	drainHooks   map[int]func()
	drainHookSeq int
	drainWaiters []chan struct{}

	stats WritableStats
}

// NewWritable creates a Writable flushing into sink with the default
// configuration.
func NewWritable(sink Sink) *Writable {
	return NewWritableWithConfig(sink, DefaultWritableConfig())
}

// NewWritableWithConfig creates a Writable flushing into sink with the
// specified configuration.
func NewWritableWithConfig(sink Sink, cfg WritableConfig) *Writable {
	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("writable-%s", uuid.NewString()[:8])
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	life := newLifecycle(name, log)
	w := newWritableSide(sink, cfg, name, log, life)
	life.members = append(life.members, w)
	if td, ok := sink.(Teardowner); ok {
		life.teardown = td.Teardown
	}
	return w
}

// newWritableSide wires a writable engine onto an existing lifecycle.
// Used directly by Duplex, which shares one lifecycle across both sides.
func newWritableSide(sink Sink, cfg WritableConfig, name string, log *zap.Logger, life *lifecycle) *Writable {
	hwm := cfg.HighWaterMark
	if hwm <= 0 {
		if cfg.ObjectMode {
			hwm = DefaultObjectHighWaterMark
		} else {
			hwm = DefaultHighWaterMark
		}
	}
	w := &Writable{
		cfg:        cfg,
		sink:       sink,
		life:       life,
		ins:        newInstruments(cfg.Metrics, name),
		log:        log,
		name:       name,
		hwm:        hwm,
		objectMode: cfg.ObjectMode,
	}
	life.onError(cfg.OnError)
	life.onClose(cfg.OnClose)
	return w
}

// Name returns the stream's label.
func (w *Writable) Name() string { return w.name }

// ObjectMode reports whether the stream carries objects instead of bytes.
func (w *Writable) ObjectMode() bool { return w.objectMode }

// HighWaterMark returns the configured mark.
func (w *Writable) HighWaterMark() int { return w.hwm }

// Buffered returns the pending declared length: queued plus in flight.
func (w *Writable) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buffered
}

// Corked returns the current cork depth.
func (w *Writable) Corked() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.corked
}

// Ending reports whether End has been called.
func (w *Writable) Ending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ending
}

// Finished reports whether the finish notification has fired.
func (w *Writable) Finished() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finished
}

// Destroyed reports whether the stream was torn down.
func (w *Writable) Destroyed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.destroyed
}

// Err returns the stream's recorded fatal error, if any.
func (w *Writable) Err() error { return w.life.lastError() }

// Stats returns a snapshot of the stream's counters.
func (w *Writable) Stats() WritableStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	s.Buffered = w.buffered
	s.HighWaterMark = w.hwm
	s.Corked = w.corked
	s.Ending = w.ending
	s.Finished = w.finished
	s.Destroyed = w.destroyed
	return s
}

// Write enqueues a chunk and its completion callback. done (which may be
// nil) fires exactly once, in submission order, after the sink flushed
// the chunk. The returned bool is the keep-writing signal: false asks the
// producer to wait for the drain notification, though further writes are
// still accepted and queued — backpressure is advisory.
func (w *Writable) Write(c Chunk, done func(error)) (bool, error) {
	w.mu.Lock()
	// ending outranks destroyed so that misuse after a clean End keeps
	// reporting the finished condition once the stream auto-closes.
	if w.ending || w.finished {
		w.mu.Unlock()
		return false, ErrStreamFinished
	}
	if w.destroyed {
		w.mu.Unlock()
		return false, ErrStreamDestroyed
	}
	if c.IsObject() != w.objectMode {
		w.mu.Unlock()
		return false, ErrInvalidChunk
	}

	w.queue = append(w.queue, writeReq{chunk: c, done: done})
	w.buffered += c.Len()
	w.stats.Writes++
	w.ins.wrote(c.Len())
	w.ins.writeBuffered(w.buffered)

	ok := w.buffered < w.hwm
	if !ok && !w.needDrain {
		w.needDrain = true
		w.stats.BackpressureEpisodes++
		w.ins.backpressure("writable")
	}
	post := w.flushLocked()
	w.mu.Unlock()
	w.run(post)
	return ok, nil
}

// WriteBytes writes a byte chunk with no completion callback.
func (w *Writable) WriteBytes(b []byte) (bool, error) {
	return w.Write(BytesChunk(b), nil)
}

// WriteString writes a string's bytes with no completion callback.
func (w *Writable) WriteString(s string) (bool, error) {
	return w.Write(StringChunk(s), nil)
}

// Cork defers flushing: writes accepted while corked are coalesced and
// flushed together (through WriteBatch when the sink supports it) once
// the matching Uncork brings the depth back to zero. Cork nests.
func (w *Writable) Cork() {
	w.mu.Lock()
	w.corked++
	w.mu.Unlock()
}

// Uncork decrements the cork depth and flushes the coalesced writes when
// it reaches zero.
func (w *Writable) Uncork() {
	w.mu.Lock()
	if w.corked > 0 {
		w.corked--
	}
	var post []func()
	if w.corked == 0 {
		post = w.flushLocked()
	}
	w.mu.Unlock()
	w.run(post)
}

// End marks the stream as ending: no further writes are accepted, pending
// writes flush, the sink finalizer (if any) runs once, and the finish
// notification fires. done (which may be nil) is called with the outcome.
// A second End returns ErrStreamFinished; End after Destroy returns
// ErrStreamDestroyed.
func (w *Writable) End(done func(error)) error {
	return w.end(nil, done)
}

// EndWith writes one final chunk, then behaves like End.
func (w *Writable) EndWith(c Chunk, done func(error)) error {
	return w.end(&c, done)
}

func (w *Writable) end(final *Chunk, done func(error)) error {
	w.mu.Lock()
	if w.ending || w.finished {
		w.mu.Unlock()
		return ErrStreamFinished
	}
	if w.destroyed {
		w.mu.Unlock()
		return ErrStreamDestroyed
	}
	if final != nil {
		if final.IsObject() != w.objectMode {
			w.mu.Unlock()
			return ErrInvalidChunk
		}
		w.queue = append(w.queue, writeReq{chunk: *final})
		w.buffered += final.Len()
		w.stats.Writes++
		w.ins.wrote(final.Len())
		w.ins.writeBuffered(w.buffered)
	}
	w.ending = true
	w.corked = 0
	if done != nil {
		w.endDones = append(w.endDones, done)
	}
	post := w.flushLocked()
	post = append(post, w.finishLocked()...)
	w.mu.Unlock()
	w.run(post)
	return nil
}

// Destroy tears the stream down: queued writes are discarded, their
// completion callbacks fire with the terminal error, and the close
// notification fires exactly once. A second call is a no-op.
func (w *Writable) Destroy(err error) {
	w.life.destroy(err, nil)
}

// Wait blocks until the current backpressure episode drains, the stream
// reaches a terminal state, or ctx is done.
func (w *Writable) Wait(ctx context.Context) error {
	for {
		w.mu.Lock()
		if w.destroyed {
			recorded := w.life.lastError()
			w.mu.Unlock()
			if recorded != nil {
				return recorded
			}
			return ErrStreamDestroyed
		}
		if !w.needDrain || w.finished {
			w.mu.Unlock()
			return nil
		}
		ch := make(chan struct{})
		w.drainWaiters = append(w.drainWaiters, ch)
		w.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// flushLocked hands pending work to the sink when nothing is in flight
// and the stream is not corked. A multi-chunk backlog goes through
// WriteBatch when the sink supports it.
func (w *Writable) flushLocked() []func() {
	if w.writing || w.corked > 0 || w.destroyed || len(w.queue) == 0 {
		return nil
	}
	batch, batchOK := w.sink.(BatchSink)
	var reqs []writeReq
	if batchOK && len(w.queue) > 1 {
		reqs = w.queue
		w.queue = nil
	} else {
		reqs = w.queue[:1]
		w.queue = w.queue[1:]
	}
	w.writing = true
	w.inFlight = reqs
	done := w.completionFor(reqs)

	if len(reqs) > 1 {
		chunks := make([]Chunk, len(reqs))
		for i, req := range reqs {
			chunks[i] = req.chunk
		}
		return []func(){func() { batch.WriteBatch(chunks, done) }}
	}
	c := reqs[0].chunk
	return []func(){func() { w.sink.Write(c, done) }}
}

// completionFor builds the exactly-once completion callback for one sink
// flush covering reqs.
func (w *Writable) completionFor(reqs []writeReq) func(error) {
	var once sync.Once
	return func(err error) {
		once.Do(func() {
			w.afterFlush(reqs, err)
		})
	}
}

// afterFlush is the sink's completion path: accounting, completion
// callbacks in submission order, drain, next flush, finish.
func (w *Writable) afterFlush(reqs []writeReq, err error) {
	w.mu.Lock()
	if w.destroyed {
		// Late completion after teardown: result discarded, callbacks
		// were already failed by closeState.
		w.mu.Unlock()
		return
	}
	w.writing = false
	w.inFlight = nil
	var total int
	for _, req := range reqs {
		total += req.chunk.Len()
	}
	w.buffered -= total
	w.stats.Flushes++
	w.stats.BytesWritten += int64(total)
	w.ins.flushed(total)
	w.ins.writeBuffered(w.buffered)

	if err != nil {
		w.mu.Unlock()
		wrapped := &SinkError{Err: err}
		for _, req := range reqs {
			if req.done != nil {
				done := req.done
				w.life.disp.enqueue(func() { done(wrapped) })
			}
		}
		w.life.destroy(wrapped, nil)
		return
	}

	var post []func()
	for _, req := range reqs {
		if req.done != nil {
			done := req.done
			post = append(post, func() { done(nil) })
		}
	}
	post = append(post, w.drainLocked()...)
	post = append(post, w.flushLocked()...)
	post = append(post, w.finishLocked()...)
	w.mu.Unlock()
	w.run(post)
}

// drainLocked emits the drain notification once per backpressure episode,
// after the pending length falls back to the mark or below.
func (w *Writable) drainLocked() []func() {
	if !w.needDrain || w.buffered > w.hwm {
		return nil
	}
	w.needDrain = false
	w.stats.DrainEvents++
	for _, ch := range w.drainWaiters {
		close(ch)
	}
	w.drainWaiters = nil
	hooks := make([]func(), 0, len(w.drainHooks)+1)
	if w.cfg.OnDrain != nil {
		hooks = append(hooks, w.cfg.OnDrain)
	}
	for _, h := range w.drainHooks {
		hooks = append(hooks, h)
	}
	return []func(){func() {
		w.log.Debug("stream drained", zap.String("stream", w.name))
		w.ins.drained()
		for _, h := range hooks {
			h()
		}
	}}
}

// finishLocked advances the ending stream toward finished: once the queue
// and the in-flight write are empty, the sink finalizer runs, then the
// finish notification and the recorded end callbacks fire in order.
func (w *Writable) finishLocked() []func() {
	if !w.ending || w.finished || w.finalizing || w.writing || len(w.queue) > 0 || w.destroyed {
		return nil
	}
	if fin, ok := w.sink.(FinalizeSink); ok {
		w.finalizing = true
		return []func(){func() {
			var once sync.Once
			fin.Final(func(err error) {
				once.Do(func() { w.afterFinal(err) })
			})
		}}
	}
	return w.becomeFinishedLocked()
}

// afterFinal is the finalizer's completion path.
func (w *Writable) afterFinal(err error) {
	if err != nil {
		w.life.destroy(&SinkError{Err: err}, nil)
		return
	}
	w.mu.Lock()
	if w.destroyed {
		w.mu.Unlock()
		return
	}
	post := w.becomeFinishedLocked()
	w.mu.Unlock()
	w.run(post)
}

// becomeFinishedLocked flips the stream to finished and builds the
// notification job.
func (w *Writable) becomeFinishedLocked() []func() {
	w.finished = true
	w.finalizing = false
	dones := w.endDones
	w.endDones = nil
	for _, ch := range w.drainWaiters {
		close(ch)
	}
	w.drainWaiters = nil
	onFinish := w.cfg.OnFinish
	return []func(){func() {
		w.log.Debug("stream finished", zap.String("stream", w.name))
		w.ins.finished()
		if onFinish != nil {
			onFinish()
		}
		for _, done := range dones {
			done(nil)
		}
		w.life.maybeSettle()
	}}
}

// needsDrain reports whether a backpressure episode is currently open,
// i.e. Write signalled false and the drain notification has not fired
// yet. Pipe bindings consult it rather than a write's return value,
// which can go stale when the sink flushes synchronously.
func (w *Writable) needsDrain() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.needDrain
}

// addDrainHook registers an internal drain listener (used by pipe
// bindings) and returns its remove function.
func (w *Writable) addDrainHook(fn func()) func() {
	w.mu.Lock()
	if w.drainHooks == nil {
		w.drainHooks = make(map[int]func())
	}
	id := w.drainHookSeq
	w.drainHookSeq++
	w.drainHooks[id] = fn
	w.mu.Unlock()
	return func() {
		w.mu.Lock()
		delete(w.drainHooks, id)
		w.mu.Unlock()
	}
}

// run executes collected follow-up jobs through the lifecycle dispatcher.
func (w *Writable) run(post []func()) {
	for _, fn := range post {
		w.life.disp.enqueue(fn)
	}
}

// closeState implements member: invoked exactly once by the lifecycle.
func (w *Writable) closeState(err error) {
	w.mu.Lock()
	w.destroyed = true
	failErr := err
	if failErr == nil {
		failErr = ErrStreamDestroyed
	}
	var dones []func(error)
	for _, req := range w.inFlight {
		if req.done != nil {
			dones = append(dones, req.done)
		}
	}
	for _, req := range w.queue {
		if req.done != nil {
			dones = append(dones, req.done)
		}
	}
	dones = append(dones, w.endDones...)
	w.inFlight = nil
	w.queue = nil
	w.endDones = nil
	w.buffered = 0
	w.writing = false
	w.ins.writeBuffered(0)
	for _, ch := range w.drainWaiters {
		close(ch)
	}
	w.drainWaiters = nil
	w.mu.Unlock()

	for _, done := range dones {
		done := done
		w.life.disp.enqueue(func() { done(failErr) })
	}
	if err != nil {
		w.ins.errored()
	}
	w.ins.destroyed()
}

// settled implements member.
func (w *Writable) settled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finished
}
