// Package metrics provides Prometheus instrumentation for streamflow components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all metric instances for streamflow components.
type Registry struct {
	// Readable Metrics
	ReadablePushes    *prometheus.CounterVec
	ReadableReads     *prometheus.CounterVec
	ReadableBytesIn   *prometheus.CounterVec
	ReadableBytesOut  *prometheus.CounterVec
	ReadableBuffered  *prometheus.GaugeVec
	ReadableEndEvents *prometheus.CounterVec

	// Writable Metrics
	WritableWrites       *prometheus.CounterVec
	WritableFlushes      *prometheus.CounterVec
	WritableBytesWritten *prometheus.CounterVec
	WritableBuffered     *prometheus.GaugeVec
	WritableFinishEvents *prometheus.CounterVec
	DrainEvents          *prometheus.CounterVec

	// Flow Control Metrics
	BackpressureEvents *prometheus.CounterVec
	PipeChunks         *prometheus.CounterVec
	PipeBindings       *prometheus.GaugeVec

	// Lifecycle Metrics
	StreamErrors   *prometheus.CounterVec
	StreamDestroys *prometheus.CounterVec
}

// DefaultRegistry is the default metrics registry used by streamflow components.
var DefaultRegistry *Registry

func init() {
	DefaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		// Readable Metrics
		ReadablePushes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamflow",
				Subsystem: "readable",
				Name:      "pushes_total",
				Help:      "Total number of chunks pushed by producers",
			},
			[]string{"stream_name"},
		),

		ReadableReads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamflow",
				Subsystem: "readable",
				Name:      "reads_total",
				Help:      "Total number of satisfied consumer reads",
			},
			[]string{"stream_name"},
		),

		ReadableBytesIn: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamflow",
				Subsystem: "readable",
				Name:      "bytes_in_total",
				Help:      "Total declared length pushed into readable buffers",
			},
			[]string{"stream_name"},
		),

		ReadableBytesOut: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamflow",
				Subsystem: "readable",
				Name:      "bytes_out_total",
				Help:      "Total declared length delivered to consumers",
			},
			[]string{"stream_name"},
		),

		ReadableBuffered: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "streamflow",
				Subsystem: "readable",
				Name:      "buffered",
				Help:      "Current declared length buffered on the read side",
			},
			[]string{"stream_name"},
		),

		ReadableEndEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamflow",
				Subsystem: "readable",
				Name:      "end_events_total",
				Help:      "Total number of end-of-data notifications",
			},
			[]string{"stream_name"},
		),

		// Writable Metrics
		WritableWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamflow",
				Subsystem: "writable",
				Name:      "writes_total",
				Help:      "Total number of accepted writes",
			},
			[]string{"stream_name"},
		),

		WritableFlushes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamflow",
				Subsystem: "writable",
				Name:      "flushes_total",
				Help:      "Total number of sink flush calls (a batched flush counts once)",
			},
			[]string{"stream_name"},
		),

		WritableBytesWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamflow",
				Subsystem: "writable",
				Name:      "bytes_written_total",
				Help:      "Total declared length flushed to sinks",
			},
			[]string{"stream_name"},
		),

		WritableBuffered: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "streamflow",
				Subsystem: "writable",
				Name:      "buffered",
				Help:      "Current declared length pending on the write side",
			},
			[]string{"stream_name"},
		),

		WritableFinishEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamflow",
				Subsystem: "writable",
				Name:      "finish_events_total",
				Help:      "Total number of finish notifications",
			},
			[]string{"stream_name"},
		),

		DrainEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamflow",
				Subsystem: "writable",
				Name:      "drain_events_total",
				Help:      "Total number of drain notifications (one per backpressure episode)",
			},
			[]string{"stream_name"},
		),

		// Flow Control Metrics
		BackpressureEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamflow",
				Subsystem: "flow",
				Name:      "backpressure_events_total",
				Help:      "Total number of backpressure episodes signalled",
			},
			[]string{"side", "stream_name"},
		),

		PipeChunks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamflow",
				Subsystem: "pipe",
				Name:      "chunks_forwarded_total",
				Help:      "Total number of chunks forwarded through pipe bindings",
			},
			[]string{"stream_name"},
		),

		PipeBindings: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "streamflow",
				Subsystem: "pipe",
				Name:      "bindings",
				Help:      "Current number of attached pipe bindings",
			},
			[]string{"stream_name"},
		),

		// Lifecycle Metrics
		StreamErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamflow",
				Subsystem: "lifecycle",
				Name:      "errors_total",
				Help:      "Total number of fatal stream errors",
			},
			[]string{"stream_name"},
		),

		StreamDestroys: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "streamflow",
				Subsystem: "lifecycle",
				Name:      "destroys_total",
				Help:      "Total number of stream teardowns",
			},
			[]string{"stream_name"},
		),
	}
}
