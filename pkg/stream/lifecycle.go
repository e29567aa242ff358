package stream

import (
	"sync"

	"go.uber.org/zap"
)

// member is one side of a stream participating in a shared lifecycle.
// A standalone Readable or Writable has a lifecycle with one member; a
// Duplex registers both sides on one lifecycle so that destroy and error
// are atomic with respect to both.
type member interface {
	// closeState marks the side destroyed, discards its buffers, and
	// fails its pending completions. Called exactly once.
	closeState(err error)

	// settled reports whether the side has run to natural completion
	// (end emitted for a readable, finished for a writable).
	settled() bool
}

// teardownFunc is the composed teardown hook run once during destroy.
type teardownFunc func(err error, done func(error))

// lifecycle owns the destroy/error/close discipline shared by a stream's
// sides: destroy happens at most once, the error notification fires at
// most once, and the close notification fires exactly once after the
// teardown hook completes.
type lifecycle struct {
	mu   sync.Mutex
	disp *dispatcher
	log  *zap.Logger
	name string

	members  []member
	teardown teardownFunc

	destroyed    bool
	err          error
	errEmitted   bool
	closeEmitted bool

	errorHandlers []func(error)
	closeHandlers []func()
}

func newLifecycle(name string, log *zap.Logger) *lifecycle {
	return &lifecycle{
		disp: &dispatcher{},
		log:  log,
		name: name,
	}
}

func (l *lifecycle) onError(fn func(error)) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.errorHandlers = append(l.errorHandlers, fn)
	l.mu.Unlock()
}

func (l *lifecycle) onClose(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.closeHandlers = append(l.closeHandlers, fn)
	l.mu.Unlock()
}

func (l *lifecycle) hasErrorHandler() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errorHandlers) > 0
}

func (l *lifecycle) isDestroyed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.destroyed
}

// lastError returns the recorded fatal error, if any.
func (l *lifecycle) lastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// destroy tears the stream down: at most once for real, a no-op for every
// later call (done still completes, with no error). err may be nil for a
// clean teardown. Must not be called while holding an engine lock.
func (l *lifecycle) destroy(err error, done func(error)) {
	l.mu.Lock()
	if l.destroyed {
		l.mu.Unlock()
		if done != nil {
			l.disp.enqueue(func() { done(nil) })
		}
		return
	}
	l.destroyed = true
	if err != nil && l.err == nil {
		l.err = err
	}
	members := l.members
	teardown := l.teardown
	recorded := l.err
	l.mu.Unlock()

	l.log.Debug("stream destroyed", zap.String("stream", l.name), zap.Error(recorded))

	for _, m := range members {
		m.closeState(recorded)
	}
	if recorded != nil {
		l.emitError(recorded)
	}

	finish := func(terr error) {
		if terr != nil {
			l.emitError(&SinkError{Err: terr})
		}
		l.emitClose()
		if done != nil {
			l.disp.enqueue(func() { done(terr) })
		}
	}
	if teardown == nil {
		finish(nil)
		return
	}
	l.disp.enqueue(func() {
		var once sync.Once
		teardown(recorded, func(terr error) {
			once.Do(func() { finish(terr) })
		})
	})
}

// maybeSettle destroys the stream cleanly once every member has run to
// natural completion. This is what turns a finished writable or a fully
// consumed readable into the terminal close notification.
func (l *lifecycle) maybeSettle() {
	l.mu.Lock()
	if l.destroyed {
		l.mu.Unlock()
		return
	}
	for _, m := range l.members {
		if !m.settled() {
			l.mu.Unlock()
			return
		}
	}
	l.mu.Unlock()
	l.destroy(nil, nil)
}

// recordError notes a fatal error on the lifecycle without destroying,
// so both sides of a duplex observe the same error value.
func (l *lifecycle) recordError(err error) {
	l.mu.Lock()
	if l.err == nil {
		l.err = err
	}
	l.mu.Unlock()
}

func (l *lifecycle) emitError(err error) {
	l.mu.Lock()
	if l.errEmitted {
		l.mu.Unlock()
		return
	}
	l.errEmitted = true
	handlers := l.errorHandlers
	l.mu.Unlock()

	l.log.Debug("stream errored", zap.String("stream", l.name), zap.Error(err))
	for _, h := range handlers {
		h := h
		l.disp.enqueue(func() { h(err) })
	}
}

func (l *lifecycle) emitClose() {
	l.mu.Lock()
	if l.closeEmitted {
		l.mu.Unlock()
		return
	}
	l.closeEmitted = true
	handlers := l.closeHandlers
	l.mu.Unlock()

	for _, h := range handlers {
		h := h
		l.disp.enqueue(func() { h() })
	}
}
