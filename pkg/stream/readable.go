package stream

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vnykmshr/streamflow/pkg/metrics"
)

// DefaultHighWaterMark is the buffered-length threshold for byte-mode
// streams when none is configured.
const DefaultHighWaterMark = 16 * 1024

// DefaultObjectHighWaterMark is the buffered-count threshold for
// object-mode streams when none is configured.
const DefaultObjectHighWaterMark = 16

// Source supplies data to a Readable on demand. Fill is invoked with the
// number of length units the stream would like buffered; it must
// eventually call Push zero or more times and PushEOF once the source is
// exhausted. A non-nil return is recorded as the stream's fatal error.
//
// Fill is never invoked re-entrantly: a new request is issued only after
// the previous one was answered by a push.
type Source interface {
	Fill(r *Readable, size int) error
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(r *Readable, size int) error

// Fill implements Source.
func (f SourceFunc) Fill(r *Readable, size int) error { return f(r, size) }

// Teardowner is an optional collaborator hook invoked exactly once while
// the stream is being destroyed. done must eventually be called exactly
// once; its error is surfaced through the stream's error notification.
type Teardowner interface {
	Teardown(err error, done func(error))
}

// flowState is the delivery mode of a Readable: unset until the consumer
// commits to pulling or flowing, then toggled by Resume/Pause.
type flowState int8

const (
	flowIdle flowState = iota
	flowFlowing
	flowPaused
)

// ReadableConfig holds configuration options for a Readable.
type ReadableConfig struct {
	// HighWaterMark is the buffered length above which Push signals
	// backpressure. Defaults to 16KB (16 chunks in object mode).
	HighWaterMark int

	// ObjectMode carries arbitrary objects instead of bytes; each object
	// counts as length 1.
	ObjectMode bool

	// Name labels the stream in logs and metrics. Defaults to a
	// generated identifier.
	Name string

	// Logger receives debug logging. Defaults to a no-op logger.
	Logger *zap.Logger

	// Metrics configures Prometheus collection. Disabled by default.
	Metrics metrics.Config

	// OnData receives every chunk while the stream is flowing.
	OnData func(Chunk)

	// OnReadable fires (coalesced) when buffered data becomes available
	// for an explicit Read while the stream is paused.
	OnReadable func()

	// OnEnd fires exactly once when the stream is exhausted: EOF pushed
	// and the buffer fully consumed.
	OnEnd func()

	// OnError fires at most once with the stream's fatal error.
	OnError func(error)

	// OnClose fires exactly once after teardown completes.
	OnClose func()
}

// DefaultReadableConfig returns a default configuration.
func DefaultReadableConfig() ReadableConfig {
	return ReadableConfig{
		HighWaterMark: DefaultHighWaterMark,
	}
}

// ReadableStats is a snapshot of a Readable's counters.
type ReadableStats struct {
	// Pushes is the number of chunks accepted from the producer.
	Pushes int64

	// Deliveries is the number of chunks or prefixes handed to the consumer.
	Deliveries int64

	// BytesIn is the total declared length pushed.
	BytesIn int64

	// BytesOut is the total declared length delivered.
	BytesOut int64

	// BackpressureEpisodes counts transitions into the Push-returns-false state.
	BackpressureEpisodes int64

	// Buffered is the current buffered declared length.
	Buffered int

	// HighWaterMark is the current (possibly grown) mark.
	HighWaterMark int

	// Flowing is true while the stream is in push-delivery mode.
	Flowing bool

	// Ended is true once EOF was pushed.
	Ended bool

	// EndEmitted is true once the end notification fired.
	EndEmitted bool

	// Destroyed is true once the stream was torn down.
	Destroyed bool
}

// Readable manages a source's buffer, the flowing/paused delivery modes,
// and the fill contract toward the producer.
type Readable struct {
	mu   sync.Mutex
	cfg  ReadableConfig
	src  Source
	life *lifecycle
	ins  *instruments
	log  *zap.Logger
	name string

	buf        chunkQueue
	hwm        int
	objectMode bool
	enc        Encoding

	flow         flowState
	ended        bool
	endEmitted   bool
	reading      bool
	needReadable bool
	destroyed    bool

	readablePending bool
	pumpScheduled   bool
	flowStarting    bool
	awaitDrain      bool
	pushStalled     bool

	waiters  []chan struct{}
	pipes    []*pipeBinding
	endHooks []func()

	stats ReadableStats
}

// NewReadable creates a Readable fed by src with the default configuration.
// src may be nil for purely externally driven producers.
func NewReadable(src Source) *Readable {
	return NewReadableWithConfig(src, DefaultReadableConfig())
}

// NewReadableWithConfig creates a Readable fed by src with the specified
// configuration.
func NewReadableWithConfig(src Source, cfg ReadableConfig) *Readable {
	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("readable-%s", uuid.NewString()[:8])
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	life := newLifecycle(name, log)
	r := newReadableSide(src, cfg, name, log, life)
	life.members = append(life.members, r)
	if td, ok := src.(Teardowner); ok {
		life.teardown = td.Teardown
	}
	return r
}

// newReadableSide wires a readable engine onto an existing lifecycle.
// Used directly by Duplex, which shares one lifecycle across both sides.
func newReadableSide(src Source, cfg ReadableConfig, name string, log *zap.Logger, life *lifecycle) *Readable {
	hwm := cfg.HighWaterMark
	if hwm <= 0 {
		if cfg.ObjectMode {
			hwm = DefaultObjectHighWaterMark
		} else {
			hwm = DefaultHighWaterMark
		}
	}
	r := &Readable{
		cfg:        cfg,
		src:        src,
		life:       life,
		ins:        newInstruments(cfg.Metrics, name),
		log:        log,
		name:       name,
		hwm:        hwm,
		objectMode: cfg.ObjectMode,
	}
	life.onError(cfg.OnError)
	life.onClose(cfg.OnClose)
	return r
}

// Name returns the stream's label.
func (r *Readable) Name() string { return r.name }

// ObjectMode reports whether the stream carries objects instead of bytes.
func (r *Readable) ObjectMode() bool { return r.objectMode }

// HighWaterMark returns the current mark; it can grow via large reads.
func (r *Readable) HighWaterMark() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hwm
}

// Buffered returns the buffered declared length.
func (r *Readable) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.size()
}

// Flowing reports whether the stream is in push-delivery mode.
func (r *Readable) Flowing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flow == flowFlowing
}

// Ended reports whether EOF was pushed.
func (r *Readable) Ended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ended
}

// Destroyed reports whether the stream was torn down.
func (r *Readable) Destroyed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed
}

// Err returns the stream's recorded fatal error, if any.
func (r *Readable) Err() error { return r.life.lastError() }

// Stats returns a snapshot of the stream's counters.
func (r *Readable) Stats() ReadableStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Buffered = r.buf.size()
	s.HighWaterMark = r.hwm
	s.Flowing = r.flow == flowFlowing
	s.Ended = r.ended
	s.EndEmitted = r.endEmitted
	s.Destroyed = r.destroyed
	return s
}

// SetEncoding declares the text encoding of delivered byte chunks.
// Already-buffered chunks are retagged as well.
func (r *Readable) SetEncoding(name string) error {
	enc, err := ParseEncoding(name)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enc = enc
	r.buf.retag(enc)
	return nil
}

// Push hands a chunk from the producer to the stream. The returned bool
// is the keep-pushing signal: false asks the producer to pause until the
// consumer drains the buffer below the high-water mark.
func (r *Readable) Push(c Chunk) (bool, error) {
	r.mu.Lock()
	// ended outranks destroyed so that a push after a clean EOF keeps
	// reporting the EOF condition once the stream auto-closes.
	if r.ended {
		r.mu.Unlock()
		return false, ErrPushAfterEOF
	}
	if r.destroyed {
		r.mu.Unlock()
		return false, ErrStreamDestroyed
	}
	if c.IsObject() != r.objectMode {
		r.mu.Unlock()
		return false, ErrInvalidChunk
	}
	if !c.IsObject() && r.enc != Raw && c.Encoding() == Raw {
		c = c.WithEncoding(r.enc)
	}

	r.reading = false
	r.buf.push(c)
	r.stats.Pushes++
	r.stats.BytesIn += int64(c.Len())
	r.ins.pushed(c.Len())
	r.ins.readBuffered(r.buf.size())
	r.wakeLocked()

	var post []func()
	if job := r.scheduleReadableLocked(); job != nil {
		post = append(post, job)
	}
	if job := r.schedulePumpLocked(); job != nil {
		post = append(post, job)
	}

	ok := r.buf.size() < r.hwm
	if !ok && !r.pushStalled {
		r.pushStalled = true
		r.stats.BackpressureEpisodes++
		r.ins.backpressure("readable")
	}
	r.mu.Unlock()
	r.run(post)
	return ok, nil
}

// PushBytes pushes a byte chunk.
func (r *Readable) PushBytes(b []byte) (bool, error) {
	return r.Push(BytesChunk(b))
}

// PushString pushes a string's bytes.
func (r *Readable) PushString(s string) (bool, error) {
	return r.Push(StringChunk(s))
}

// PushObject pushes an object-mode chunk.
func (r *Readable) PushObject(v any) (bool, error) {
	return r.Push(ObjectChunk(v))
}

// PushEOF marks the end of the source's data. Buffered chunks remain
// readable; the end notification fires once the buffer is consumed.
// Calling PushEOF on an already-ended stream is a no-op.
func (r *Readable) PushEOF() error {
	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		return nil
	}
	if r.destroyed {
		r.mu.Unlock()
		return ErrStreamDestroyed
	}
	r.ended = true
	r.reading = false
	r.wakeLocked()

	var post []func()
	if job := r.scheduleReadableLocked(); job != nil {
		post = append(post, job)
	}
	if job := r.schedulePumpLocked(); job != nil {
		post = append(post, job)
	}
	if job := r.emitEndLocked(); job != nil {
		post = append(post, job)
	}
	r.mu.Unlock()
	r.run(post)
	return nil
}

// Read pulls up to n length units from the buffer. In object mode n is
// ignored and one object is returned. ok is false when nothing can be
// delivered yet (the request was noted and the source asked to fill) or
// when the stream has ended with an empty buffer. n <= 0 drains the whole
// buffer. Requests larger than the high-water mark grow the mark to the
// next power of two so the request can be admitted in one pull.
func (r *Readable) Read(n int) (Chunk, bool, error) {
	c, ok, err, filled := r.tryRead(n)
	if filled {
		// The fill may have pushed synchronously; serve the request if it
		// can now be satisfied.
		c, ok, err, _ = r.tryRead(n)
	}
	return c, ok, err
}

// tryRead attempts one buffered take. filled reports that a source fill
// was dispatched, meaning a synchronous retry may succeed.
func (r *Readable) tryRead(n int) (c Chunk, ok bool, err error, filled bool) {
	r.mu.Lock()
	if r.destroyed {
		recorded := r.life.lastError()
		r.mu.Unlock()
		if r.endEmitted && recorded == nil {
			return Chunk{}, false, nil, false
		}
		if recorded != nil {
			return Chunk{}, false, recorded, false
		}
		return Chunk{}, false, ErrStreamDestroyed, false
	}

	if !r.objectMode && n > r.hwm {
		r.hwm = growHighWaterMark(n)
	}

	c, ok = r.takeLocked(n)
	var post []func()
	if ok {
		post = r.afterTakeLocked(c)
	} else {
		r.needReadable = true
		if job := r.fillLocked(); job != nil {
			post = append(post, job)
			filled = true
		}
		if job := r.emitEndLocked(); job != nil {
			post = append(post, job)
		}
	}
	r.mu.Unlock()
	r.run(post)
	return c, ok, nil, filled
}

// takeLocked removes what the request can be satisfied with, or nothing.
func (r *Readable) takeLocked(n int) (Chunk, bool) {
	if r.buf.empty() {
		return Chunk{}, false
	}
	if r.objectMode {
		c, _ := r.buf.shift()
		return c, true
	}
	if n <= 0 {
		return r.buf.concat(), true
	}
	if r.buf.size() >= n {
		return r.buf.splice(n), true
	}
	if r.ended {
		// Largest satisfiable prefix: whatever remains.
		return r.buf.concat(), true
	}
	return Chunk{}, false
}

// afterTakeLocked does the post-delivery bookkeeping shared by Read and
// Next: accounting, refill, end emission.
func (r *Readable) afterTakeLocked(c Chunk) []func() {
	r.stats.Deliveries++
	r.stats.BytesOut += int64(c.Len())
	r.ins.delivered(c.Len())
	r.ins.readBuffered(r.buf.size())
	if r.buf.size() < r.hwm {
		r.pushStalled = false
	}
	var post []func()
	if job := r.fillLocked(); job != nil {
		post = append(post, job)
	}
	if job := r.emitEndLocked(); job != nil {
		post = append(post, job)
	}
	return post
}

// fillLocked schedules a source fill when one is wanted and none is in
// flight. The reading guard holds until the source answers with a push.
func (r *Readable) fillLocked() func() {
	if r.reading || r.ended || r.destroyed || r.src == nil {
		return nil
	}
	if !r.needReadable && r.buf.size() >= r.hwm {
		return nil
	}
	r.reading = true
	r.needReadable = false
	size := r.hwm - r.buf.size()
	if size < 1 {
		size = 1
	}
	return func() {
		if r.life.isDestroyed() {
			return
		}
		if err := r.src.Fill(r, size); err != nil {
			r.mu.Lock()
			r.reading = false
			r.mu.Unlock()
			r.fail(&SourceError{Err: err})
		}
	}
}

// Resume switches the stream to flowing (push-delivery) mode: buffered
// and future chunks are handed to OnData and attached pipes as soon as
// they exist.
func (r *Readable) Resume() {
	r.mu.Lock()
	if r.destroyed || r.flow == flowFlowing {
		r.mu.Unlock()
		return
	}
	r.flow = flowFlowing
	r.awaitDrain = false
	r.log.Debug("stream resumed", zap.String("stream", r.name))
	var post []func()
	if job := r.schedulePumpLocked(); job != nil {
		post = append(post, job)
	}
	if job := r.fillLocked(); job != nil {
		post = append(post, job)
	}
	r.mu.Unlock()
	r.run(post)
}

// startFlow switches the stream to flowing mode off the caller's stack.
// Attaching a pipe must not drain a synchronous source inline, or sinks
// piped back-to-back after the first would only ever see an ended
// stream; delivery begins once the attaching call stack has unwound.
func (r *Readable) startFlow() {
	r.mu.Lock()
	if r.destroyed || r.flow == flowFlowing || r.flowStarting {
		r.mu.Unlock()
		return
	}
	r.flowStarting = true
	r.mu.Unlock()
	go func() {
		r.mu.Lock()
		r.flowStarting = false
		r.mu.Unlock()
		r.Resume()
	}()
}

// Pause halts flowing delivery, leaving buffered data for explicit Reads.
func (r *Readable) Pause() {
	r.mu.Lock()
	if r.destroyed || r.flow == flowPaused {
		r.mu.Unlock()
		return
	}
	r.flow = flowPaused
	r.awaitDrain = false
	r.log.Debug("stream paused", zap.String("stream", r.name))
	r.mu.Unlock()
}

// Destroy tears the stream down: buffered data is discarded and the close
// notification fires exactly once. A second call is a no-op.
func (r *Readable) Destroy(err error) {
	r.life.destroy(err, nil)
}

// fail records a collaborator failure and forces teardown.
func (r *Readable) fail(err error) {
	r.life.destroy(err, nil)
}

// schedulePumpLocked arranges one flowing delivery loop if the stream is
// flowing and none is pending.
func (r *Readable) schedulePumpLocked() func() {
	if r.flow != flowFlowing || r.pumpScheduled || r.destroyed {
		return nil
	}
	r.pumpScheduled = true
	return r.pump
}

// pump delivers buffered chunks while the stream stays in flowing mode.
// It runs as a dispatcher job; reentrant engine calls made by OnData are
// queued behind it rather than recursing.
func (r *Readable) pump() {
	r.mu.Lock()
	r.pumpScheduled = false
	for {
		if r.destroyed || r.flow != flowFlowing {
			break
		}
		c, ok := r.buf.shift()
		if !ok {
			break
		}
		onData := r.cfg.OnData
		bindings := r.activeBindingsLocked()
		post := r.afterTakeLocked(c)
		r.mu.Unlock()

		if onData != nil {
			onData(c)
		}
		r.forward(c, bindings)
		r.run(post)

		r.mu.Lock()
	}
	var post []func()
	if job := r.fillLocked(); job != nil {
		post = append(post, job)
	}
	if job := r.emitEndLocked(); job != nil {
		post = append(post, job)
	}
	r.mu.Unlock()
	r.run(post)
}

// scheduleReadableLocked coalesces the readable notification: many state
// changes before the listener runs produce one callback.
func (r *Readable) scheduleReadableLocked() func() {
	if r.cfg.OnReadable == nil || r.readablePending || r.flow == flowFlowing {
		return nil
	}
	if r.buf.empty() && !r.ended {
		return nil
	}
	r.readablePending = true
	return func() {
		r.mu.Lock()
		r.readablePending = false
		destroyed := r.destroyed
		r.mu.Unlock()
		if !destroyed {
			r.cfg.OnReadable()
		}
	}
}

// emitEndLocked emits the end notification once the stream has ended and
// the buffer is fully consumed. It also propagates end to attached pipes
// and runs the half-open coupling hooks.
func (r *Readable) emitEndLocked() func() {
	if !r.ended || r.endEmitted || r.destroyed || !r.buf.empty() {
		return nil
	}
	r.endEmitted = true
	bindings := r.activeBindingsLocked()
	for _, b := range bindings {
		b.unpiped = true
		if b.unregister != nil {
			b.unregister()
		}
	}
	r.pipes = nil
	r.ins.bindings(0)
	hooks := r.endHooks
	onEnd := r.cfg.OnEnd
	return func() {
		r.log.Debug("stream ended", zap.String("stream", r.name))
		r.ins.ended()
		if onEnd != nil {
			onEnd()
		}
		for _, b := range bindings {
			if !b.keepOpen {
				b.endSink()
			}
		}
		for _, h := range hooks {
			h()
		}
		r.life.maybeSettle()
	}
}

// onEnd registers an internal hook run when the end notification fires.
// Duplex uses this for the half-open write-side coupling.
func (r *Readable) onEnd(fn func()) {
	r.mu.Lock()
	r.endHooks = append(r.endHooks, fn)
	r.mu.Unlock()
}

// wakeLocked releases all blocked Next callers.
func (r *Readable) wakeLocked() {
	for _, ch := range r.waiters {
		close(ch)
	}
	r.waiters = nil
}

// run executes collected follow-up jobs through the lifecycle dispatcher.
func (r *Readable) run(post []func()) {
	for _, fn := range post {
		r.life.disp.enqueue(fn)
	}
}

// closeState implements member: invoked exactly once by the lifecycle.
func (r *Readable) closeState(err error) {
	r.mu.Lock()
	r.destroyed = true
	r.reading = false
	r.buf.drain()
	r.ins.readBuffered(0)
	for _, b := range r.pipes {
		b.unpiped = true
		if b.unregister != nil {
			b.unregister()
		}
	}
	r.pipes = nil
	r.ins.bindings(0)
	r.wakeLocked()
	r.mu.Unlock()
	if err != nil {
		r.ins.errored()
	}
	r.ins.destroyed()
}

// settled implements member.
func (r *Readable) settled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endEmitted
}

// maxHighWaterMark caps high-water-mark growth at 1GiB.
const maxHighWaterMark = 1 << 30

// growHighWaterMark rounds n up to the next power of two so an oversized
// read can be admitted in a single pull. The mark only ever grows.
func growHighWaterMark(n int) int {
	if n >= maxHighWaterMark {
		return maxHighWaterMark
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n++
	return n
}
