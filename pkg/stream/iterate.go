package stream

import (
	"context"
	"iter"
)

// Next blocks until one chunk can be delivered, the stream ends, ctx is
// done, or the stream fails. ok is false at end of data.
func (r *Readable) Next(ctx context.Context) (Chunk, bool, error) {
	for {
		r.mu.Lock()
		if r.destroyed {
			recorded := r.life.lastError()
			endEmitted := r.endEmitted
			r.mu.Unlock()
			if recorded != nil {
				return Chunk{}, false, recorded
			}
			if endEmitted {
				return Chunk{}, false, nil
			}
			return Chunk{}, false, ErrStreamDestroyed
		}
		if c, ok := r.buf.shift(); ok {
			post := r.afterTakeLocked(c)
			r.mu.Unlock()
			r.run(post)
			return c, true, nil
		}
		if r.ended {
			post := []func(){}
			if job := r.emitEndLocked(); job != nil {
				post = append(post, job)
			}
			r.mu.Unlock()
			r.run(post)
			return Chunk{}, false, nil
		}
		r.needReadable = true
		ch := make(chan struct{})
		r.waiters = append(r.waiters, ch)
		var post []func()
		if job := r.fillLocked(); job != nil {
			post = append(post, job)
		}
		r.mu.Unlock()
		r.run(post)

		select {
		case <-ch:
		case <-ctx.Done():
			return Chunk{}, false, ctx.Err()
		}
	}
}

// All returns a lazy, single-pass sequence of the stream's chunks.
// Breaking out early destroys the stream to release the source; a fatal
// error is yielded as the final element.
func (r *Readable) All(ctx context.Context) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		for {
			c, ok, err := r.Next(ctx)
			if err != nil {
				yield(Chunk{}, err)
				return
			}
			if !ok {
				return
			}
			if !yield(c, nil) {
				r.Destroy(nil)
				return
			}
		}
	}
}
