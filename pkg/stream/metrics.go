package stream

import (
	"github.com/vnykmshr/streamflow/pkg/metrics"
)

// instruments binds a stream's name to its metric series. A nil
// *instruments disables collection, so call sites never branch.
type instruments struct {
	reg  *metrics.Registry
	name string
}

func newInstruments(cfg metrics.Config, name string) *instruments {
	reg := cfg.Resolve()
	if reg == nil {
		return nil
	}
	return &instruments{reg: reg, name: name}
}

func (m *instruments) pushed(n int) {
	if m == nil {
		return
	}
	m.reg.ReadablePushes.WithLabelValues(m.name).Inc()
	m.reg.ReadableBytesIn.WithLabelValues(m.name).Add(float64(n))
}

func (m *instruments) delivered(n int) {
	if m == nil {
		return
	}
	m.reg.ReadableReads.WithLabelValues(m.name).Inc()
	m.reg.ReadableBytesOut.WithLabelValues(m.name).Add(float64(n))
}

func (m *instruments) readBuffered(n int) {
	if m == nil {
		return
	}
	m.reg.ReadableBuffered.WithLabelValues(m.name).Set(float64(n))
}

func (m *instruments) ended() {
	if m == nil {
		return
	}
	m.reg.ReadableEndEvents.WithLabelValues(m.name).Inc()
}

func (m *instruments) wrote(n int) {
	if m == nil {
		return
	}
	m.reg.WritableWrites.WithLabelValues(m.name).Inc()
}

func (m *instruments) flushed(n int) {
	if m == nil {
		return
	}
	m.reg.WritableFlushes.WithLabelValues(m.name).Inc()
	m.reg.WritableBytesWritten.WithLabelValues(m.name).Add(float64(n))
}

func (m *instruments) writeBuffered(n int) {
	if m == nil {
		return
	}
	m.reg.WritableBuffered.WithLabelValues(m.name).Set(float64(n))
}

func (m *instruments) finished() {
	if m == nil {
		return
	}
	m.reg.WritableFinishEvents.WithLabelValues(m.name).Inc()
}

func (m *instruments) drained() {
	if m == nil {
		return
	}
	m.reg.DrainEvents.WithLabelValues(m.name).Inc()
}

func (m *instruments) backpressure(side string) {
	if m == nil {
		return
	}
	m.reg.BackpressureEvents.WithLabelValues(side, m.name).Inc()
}

func (m *instruments) piped() {
	if m == nil {
		return
	}
	m.reg.PipeChunks.WithLabelValues(m.name).Inc()
}

func (m *instruments) bindings(n int) {
	if m == nil {
		return
	}
	m.reg.PipeBindings.WithLabelValues(m.name).Set(float64(n))
}

func (m *instruments) errored() {
	if m == nil {
		return
	}
	m.reg.StreamErrors.WithLabelValues(m.name).Inc()
}

func (m *instruments) destroyed() {
	if m == nil {
		return
	}
	m.reg.StreamDestroys.WithLabelValues(m.name).Inc()
}
