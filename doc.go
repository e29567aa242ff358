/*
Package streamflow provides flow-controlled streaming primitives: readable
sources, writable sinks, duplex streams, and piping with automatic
backpressure.

Core Engine (pkg/stream):
  - Readable: pull or push delivery of chunks from a producer
  - Writable: queued, corkable writes into a sink with drain signaling
  - Duplex: one readable and one writable side behind a shared lifecycle
  - Pipe: connect a Readable to one or more Writables with automatic
    pause/resume, end propagation, and detachment

Observability (pkg/metrics):
  - Prometheus counters and gauges for pushes, reads, writes, flushes,
    buffered bytes, backpressure and drain episodes

Example usage:

	import "github.com/vnykmshr/streamflow/pkg/stream"

	r := stream.NewReadable(src)          // src fills the buffer on demand
	w := stream.NewWritable(sink)         // sink flushes accepted chunks

	r.Pipe(w)                             // flow control handled for you

	for chunk, err := range r.All(ctx) {  // or pull chunks yourself
		...
	}
*/
package streamflow
