package stream

import (
	"context"
	"fmt"
	"iter"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vnykmshr/streamflow/pkg/metrics"
)

// DuplexConfig holds configuration options for a Duplex.
type DuplexConfig struct {
	// Readable configures the read side. Name, Logger, and Metrics are
	// taken from the duplex-level fields below.
	Readable ReadableConfig

	// Writable configures the write side, same caveat as Readable.
	Writable WritableConfig

	// AllowHalfOpen keeps the write side open after the read side ends.
	// When false, end-of-read automatically Ends the write side. The
	// coupling is deliberately asymmetric: finishing the write side
	// never ends the read side.
	AllowHalfOpen bool

	// Name labels the stream in logs and metrics. Defaults to a
	// generated identifier.
	Name string

	// Logger receives debug logging. Defaults to a no-op logger.
	Logger *zap.Logger

	// Metrics configures Prometheus collection. Disabled by default.
	Metrics metrics.Config

	// OnError fires at most once with the fatal error of either side.
	OnError func(error)

	// OnClose fires exactly once after teardown of both sides completes.
	OnClose func()
}

// DefaultDuplexConfig returns a default configuration.
func DefaultDuplexConfig() DuplexConfig {
	return DuplexConfig{
		Readable:      DefaultReadableConfig(),
		Writable:      DefaultWritableConfig(),
		AllowHalfOpen: true,
	}
}

// DuplexStats snapshots both sides' counters.
type DuplexStats struct {
	Readable ReadableStats
	Writable WritableStats
}

// Duplex composes one Readable and one Writable with independent data
// paths behind a single destroy/error lifecycle. The two sides may be
// driven concurrently; destroy and error are atomic with respect to both.
type Duplex struct {
	r    *Readable
	w    *Writable
	life *lifecycle

	allowHalfOpen bool
}

// NewDuplex creates a Duplex over src and sink with the default
// configuration (half-open allowed).
func NewDuplex(src Source, sink Sink) *Duplex {
	return NewDuplexWithConfig(src, sink, DefaultDuplexConfig())
}

// NewDuplexWithConfig creates a Duplex over src and sink with the
// specified configuration.
func NewDuplexWithConfig(src Source, sink Sink, cfg DuplexConfig) *Duplex {
	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("duplex-%s", uuid.NewString()[:8])
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	life := newLifecycle(name, log)

	rcfg := cfg.Readable
	rcfg.Logger = log
	rcfg.Metrics = cfg.Metrics
	wcfg := cfg.Writable
	wcfg.Logger = log
	wcfg.Metrics = cfg.Metrics

	d := &Duplex{
		r:             newReadableSide(src, rcfg, name, log, life),
		w:             newWritableSide(sink, wcfg, name, log, life),
		life:          life,
		allowHalfOpen: cfg.AllowHalfOpen,
	}
	life.members = append(life.members, d.r, d.w)
	life.teardown = composeTeardown(src, sink)
	life.onError(cfg.OnError)
	life.onClose(cfg.OnClose)

	if !cfg.AllowHalfOpen {
		d.r.onEnd(func() {
			// End after End and end after destroy are fine here: the
			// write side may already be on its way down.
			_ = d.w.End(nil)
		})
	}
	return d
}

// composeTeardown chains the optional teardown hooks of both
// collaborators, sink side first.
func composeTeardown(src Source, sink Sink) teardownFunc {
	srcTD, _ := src.(Teardowner)
	sinkTD, _ := sink.(Teardowner)
	if srcTD == nil && sinkTD == nil {
		return nil
	}
	if sinkTD == nil {
		return srcTD.Teardown
	}
	if srcTD == nil {
		return sinkTD.Teardown
	}
	return func(err error, done func(error)) {
		sinkTD.Teardown(err, func(sinkErr error) {
			srcTD.Teardown(err, func(srcErr error) {
				if sinkErr != nil {
					done(sinkErr)
					return
				}
				done(srcErr)
			})
		})
	}
}

// Reader returns the read side for pipe targets and direct driving.
func (d *Duplex) Reader() *Readable { return d.r }

// Writer returns the write side for pipe targets and direct driving.
func (d *Duplex) Writer() *Writable { return d.w }

// Name returns the stream's label.
func (d *Duplex) Name() string { return d.life.name }

// AllowHalfOpen reports whether the write side survives end-of-read.
func (d *Duplex) AllowHalfOpen() bool { return d.allowHalfOpen }

// Read side delegation.

// Push hands a chunk from the producer to the read side.
func (d *Duplex) Push(c Chunk) (bool, error) { return d.r.Push(c) }

// PushBytes pushes a byte chunk into the read side.
func (d *Duplex) PushBytes(b []byte) (bool, error) { return d.r.PushBytes(b) }

// PushEOF marks the end of the read side's data.
func (d *Duplex) PushEOF() error { return d.r.PushEOF() }

// Read pulls up to n length units from the read side.
func (d *Duplex) Read(n int) (Chunk, bool, error) { return d.r.Read(n) }

// Next blocks for the read side's next chunk.
func (d *Duplex) Next(ctx context.Context) (Chunk, bool, error) { return d.r.Next(ctx) }

// All iterates the read side.
func (d *Duplex) All(ctx context.Context) iter.Seq2[Chunk, error] { return d.r.All(ctx) }

// Resume switches the read side to flowing mode.
func (d *Duplex) Resume() { d.r.Resume() }

// Pause halts the read side's flowing delivery.
func (d *Duplex) Pause() { d.r.Pause() }

// Pipe connects the read side to dst.
func (d *Duplex) Pipe(dst *Writable) *Writable { return d.r.Pipe(dst) }

// Unpipe detaches the read side's forwarding relations.
func (d *Duplex) Unpipe(dsts ...*Writable) { d.r.Unpipe(dsts...) }

// Write side delegation.

// Write enqueues a chunk on the write side.
func (d *Duplex) Write(c Chunk, done func(error)) (bool, error) { return d.w.Write(c, done) }

// WriteBytes writes a byte chunk on the write side.
func (d *Duplex) WriteBytes(b []byte) (bool, error) { return d.w.WriteBytes(b) }

// Cork defers write-side flushing.
func (d *Duplex) Cork() { d.w.Cork() }

// Uncork resumes write-side flushing.
func (d *Duplex) Uncork() { d.w.Uncork() }

// End finishes the write side; the read side is unaffected.
func (d *Duplex) End(done func(error)) error { return d.w.End(done) }

// EndWith writes one final chunk and finishes the write side.
func (d *Duplex) EndWith(c Chunk, done func(error)) error { return d.w.EndWith(c, done) }

// Wait blocks until the write side's backpressure episode drains.
func (d *Duplex) Wait(ctx context.Context) error { return d.w.Wait(ctx) }

// Shared lifecycle.

// Destroy tears both sides down exactly once; a second call is a no-op.
func (d *Duplex) Destroy(err error) { d.life.destroy(err, nil) }

// Destroyed reports whether the stream was torn down.
func (d *Duplex) Destroyed() bool { return d.life.isDestroyed() }

// Err returns the recorded fatal error of either side, if any.
func (d *Duplex) Err() error { return d.life.lastError() }

// Stats snapshots both sides.
func (d *Duplex) Stats() DuplexStats {
	return DuplexStats{Readable: d.r.Stats(), Writable: d.w.Stats()}
}
