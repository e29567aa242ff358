/*
Package stream provides flow-controlled streaming engines: a Readable for
producers, a Writable for sinks, a Duplex composing both, and piping with
automatic backpressure.

A Readable buffers chunks pushed by a producer and delivers them either by
explicit pulls (paused mode) or by pushing every available chunk to a data
callback (flowing mode). A Writable queues chunks toward a sink, flushing
one at a time (or in corked batches), and signals drain when a
backpressured producer may continue. Neither side ever drops data:
backpressure is advisory, expressed through the boolean returned by Push
and Write.

# Quick Start

	src := stream.SourceFunc(func(r *stream.Readable, size int) error {
		r.PushBytes(produce(size)) // or r.PushEOF() when exhausted
		return nil
	})
	r := stream.NewReadable(src)

	sink := stream.SinkFunc(func(c stream.Chunk, done func(error)) {
		done(store(c.Bytes()))
	})
	w := stream.NewWritable(sink)

	r.Pipe(w) // flow control, end and error propagation handled for you

# Pulling

	chunk, ok, err := r.Read(64)  // largest satisfiable prefix, up to 64 bytes
	chunk, ok, err = r.Next(ctx)  // blocking, one chunk

	for chunk, err := range r.All(ctx) { // single pass; break destroys
		...
	}

# Backpressure

Push and Write return false once the buffered length reaches the
high-water mark. A producer should stop and wait for the drain
notification (OnDrain, or Writable.Wait); the engine still accepts and
queues writes that arrive anyway.

	ok, err := w.WriteBytes(data)
	if err != nil {
		return err
	}
	if !ok {
		if err := w.Wait(ctx); err != nil { // one drain per episode
			return err
		}
	}

# Corking

	w.Cork()
	w.WriteBytes(header)
	w.WriteBytes(payload)
	w.Uncork() // both flushed in one WriteBatch when the sink supports it

# Lifecycle

End finishes the write side gracefully: pending writes flush, the sink's
Final hook runs, OnFinish fires. Destroy tears a stream down at any time:
buffered data is discarded, pending completion callbacks fire with the
terminal error, the collaborator's Teardown hook runs, and OnClose fires
exactly once. A Duplex shares one lifecycle across both sides: destroying
or erroring either side takes both down atomically, while
AllowHalfOpen=false additionally couples end-of-read to an automatic End
of the write side (and only in that direction).

# Configuration

	r := stream.NewReadableWithConfig(src, stream.ReadableConfig{
		HighWaterMark: 64 * 1024,
		Name:          "ingest",
		Logger:        logger,
		OnData:        func(c stream.Chunk) { ... },
		OnEnd:         func() { ... },
		OnError:       func(err error) { ... },
	})

All callbacks are serialized: the engine never runs two callbacks of one
stream concurrently, and calls made back into the engine from inside a
callback are queued rather than invoked recursively.
*/
package stream
