package stream

import (
	"go.uber.org/zap"
)

// PipeConfig holds options for one pipe binding.
type PipeConfig struct {
	// KeepOpen leaves the sink open when the source ends instead of
	// calling End on it.
	KeepOpen bool
}

// pipeBinding is one non-owning forwarding relation from a source to a
// sink. Its mutable fields are guarded by the source's lock.
type pipeBinding struct {
	dst           *Writable
	keepOpen      bool
	backpressured bool
	unpiped       bool
	unregister    func()
}

func (b *pipeBinding) endSink() {
	_ = b.dst.End(nil)
}

// Pipe connects the stream's output to dst with automatic flow control:
// the source switches to flowing mode, pauses while every attached sink
// signals backpressure, resumes when none does, and ends dst when the
// source ends. Delivery starts asynchronously, so sinks piped
// back-to-back all receive the stream's data from the beginning. It
// returns dst.
func (r *Readable) Pipe(dst *Writable) *Writable {
	return r.PipeWith(dst, PipeConfig{})
}

// PipeWith connects the stream's output to dst with the given options.
func (r *Readable) PipeWith(dst *Writable, cfg PipeConfig) *Writable {
	r.mu.Lock()
	if r.destroyed || r.endEmitted {
		// A cleanly consumed source has already auto-closed; piping it
		// still ends the sink. A source destroyed mid-stream does not.
		endNow := r.endEmitted && !cfg.KeepOpen
		r.mu.Unlock()
		if endNow {
			_ = dst.End(nil)
		}
		return dst
	}
	b := &pipeBinding{dst: dst, keepOpen: cfg.KeepOpen}
	r.pipes = append(r.pipes, b)
	r.ins.bindings(len(r.activeBindingsLocked()))
	r.mu.Unlock()

	b.unregister = dst.addDrainHook(func() { r.sinkDrained(b) })
	dst.life.onClose(func() { r.sinkClosed(b) })

	r.log.Debug("pipe attached",
		zap.String("source", r.name),
		zap.String("sink", dst.name))
	r.startFlow()
	return dst
}

// Unpipe detaches the forwarding relations to the given sinks, or every
// relation when called with no arguments. The source's own state is left
// alone; piping the same sink again later is a fresh binding.
func (r *Readable) Unpipe(dsts ...*Writable) {
	r.mu.Lock()
	var matched []*pipeBinding
	for _, b := range r.pipes {
		if len(dsts) == 0 {
			matched = append(matched, b)
			continue
		}
		for _, dst := range dsts {
			if b.dst == dst {
				matched = append(matched, b)
				break
			}
		}
	}
	r.mu.Unlock()

	for _, b := range matched {
		r.unpipeBinding(b)
	}
}

// activeBindingsLocked returns the attached bindings.
func (r *Readable) activeBindingsLocked() []*pipeBinding {
	if len(r.pipes) == 0 {
		return nil
	}
	out := make([]*pipeBinding, 0, len(r.pipes))
	for _, b := range r.pipes {
		if !b.unpiped {
			out = append(out, b)
		}
	}
	return out
}

// forward writes one flowing chunk into every attached sink and applies
// the pause policy: the source pauses only when ALL attached sinks
// currently signal backpressure.
func (r *Readable) forward(c Chunk, bindings []*pipeBinding) {
	if len(bindings) == 0 {
		return
	}
	type outcome struct {
		b         *pipeBinding
		pressured bool
		err       error
	}
	outcomes := make([]outcome, 0, len(bindings))
	for _, b := range bindings {
		ok, err := b.dst.Write(c, nil)
		r.ins.piped()
		outcomes = append(outcomes, outcome{b: b, pressured: err == nil && !ok, err: err})
	}

	r.mu.Lock()
	for _, o := range outcomes {
		if o.err != nil {
			continue
		}
		// A fast sink may flush and fire its drain inside Write, before
		// this lock is taken; the drain hook would then have nothing to
		// clear and the pause below would never be lifted. Trust the
		// sink's live episode state over the write's return value.
		o.b.backpressured = o.pressured && o.b.dst.needsDrain()
	}
	active := r.activeBindingsLocked()
	pauseAll := len(active) > 0
	for _, b := range active {
		if !b.backpressured {
			pauseAll = false
			break
		}
	}
	if pauseAll && r.flow == flowFlowing {
		r.flow = flowPaused
		r.awaitDrain = true
		r.log.Debug("source paused on sink backpressure", zap.String("stream", r.name))
	}
	r.mu.Unlock()

	for _, o := range outcomes {
		if o.err != nil {
			r.sinkFailed(o.b, o.err)
		}
	}
}

// sinkDrained is the per-binding drain hook: clear the sink's pressure
// flag and resume the source once no attached sink is backpressured.
func (r *Readable) sinkDrained(b *pipeBinding) {
	r.mu.Lock()
	b.backpressured = false
	var post []func()
	if r.awaitDrain && r.flow == flowPaused && !r.destroyed {
		resume := true
		for _, other := range r.activeBindingsLocked() {
			if other.backpressured {
				resume = false
				break
			}
		}
		if resume {
			r.awaitDrain = false
			r.flow = flowFlowing
			if job := r.schedulePumpLocked(); job != nil {
				post = append(post, job)
			}
			if job := r.fillLocked(); job != nil {
				post = append(post, job)
			}
		}
	}
	r.mu.Unlock()
	r.run(post)
}

// sinkFailed handles a terminal write error from a piped sink: detach the
// binding and propagate the cause to the source unless the sink carries
// its own error listener.
func (r *Readable) sinkFailed(b *pipeBinding, err error) {
	if !r.unpipeBinding(b) {
		return
	}
	cause := b.dst.life.lastError()
	if cause == nil {
		cause = err
	}
	if !b.dst.life.hasErrorHandler() {
		r.Destroy(cause)
	}
}

// sinkClosed runs when a piped sink's lifecycle closes: detach, and
// propagate the sink's fatal error (if it had one) to the source unless
// the sink carries its own error listener.
func (r *Readable) sinkClosed(b *pipeBinding) {
	if !r.unpipeBinding(b) {
		return
	}
	if err := b.dst.life.lastError(); err != nil && !b.dst.life.hasErrorHandler() {
		r.Destroy(err)
	}
}

// unpipeBinding detaches one binding. It reports whether the binding was
// still attached, and resumes the source when the detachment clears the
// all-sinks-backpressured condition.
func (r *Readable) unpipeBinding(b *pipeBinding) bool {
	r.mu.Lock()
	if b.unpiped {
		r.mu.Unlock()
		return false
	}
	b.unpiped = true
	for i, cur := range r.pipes {
		if cur == b {
			r.pipes = append(r.pipes[:i], r.pipes[i+1:]...)
			break
		}
	}
	r.ins.bindings(len(r.activeBindingsLocked()))
	var post []func()
	if r.awaitDrain && r.flow == flowPaused && !r.destroyed {
		resume := true
		for _, other := range r.activeBindingsLocked() {
			if other.backpressured {
				resume = false
				break
			}
		}
		if resume {
			r.awaitDrain = false
			r.flow = flowFlowing
			if job := r.schedulePumpLocked(); job != nil {
				post = append(post, job)
			}
		}
	}
	unregister := b.unregister
	r.mu.Unlock()

	if unregister != nil {
		unregister()
	}
	r.log.Debug("pipe detached",
		zap.String("source", r.name),
		zap.String("sink", b.dst.name))
	r.run(post)
	return true
}
