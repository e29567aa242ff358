package stream_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/streamflow/internal/testutil"
	"github.com/vnykmshr/streamflow/pkg/metrics"
	"github.com/vnykmshr/streamflow/pkg/stream"
)

func TestDuplexSidesAreIndependent(t *testing.T) {
	sink := testutil.NewMockSink()
	d := stream.NewDuplex(nil, sink)

	// Inbound path.
	_, err := d.PushBytes([]byte("in"))
	require.NoError(t, err)
	c, ok, err := d.Read(0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "in", string(c.Bytes()))

	// Outbound path, unaffected by the read side.
	_, err = d.WriteBytes([]byte("out"))
	require.NoError(t, err)
	assert.Equal(t, "out", sink.String())

	d.Destroy(nil)
}

func TestDuplexHalfOpenKeepsWriteSide(t *testing.T) {
	sink := testutil.NewMockSink()
	d := stream.NewDuplex(nil, sink) // half-open by default

	require.NoError(t, d.PushEOF())
	_, ok, err := d.Read(0)
	require.NoError(t, err)
	assert.False(t, ok)

	// Read side ended; write side still accepts work.
	assert.False(t, d.Writer().Ending())
	_, err = d.WriteBytes([]byte("still open"))
	require.NoError(t, err)

	require.NoError(t, d.End(nil))
	testutil.WaitFor(t, "both sides settle", d.Destroyed)
	assert.Equal(t, "still open", sink.String())
}

func TestDuplexCoupledEndsWriteSideOnEOF(t *testing.T) {
	sink := testutil.NewMockSink()
	closes := 0
	cfg := stream.DefaultDuplexConfig()
	cfg.AllowHalfOpen = false
	cfg.OnClose = func() { closes++ }
	d := stream.NewDuplexWithConfig(nil, sink, cfg)

	_, err := d.WriteBytes([]byte("payload"))
	require.NoError(t, err)

	require.NoError(t, d.PushEOF())
	_, _, err = d.Read(0)
	require.NoError(t, err)

	testutil.WaitFor(t, "write side finishes", d.Writer().Finished)
	testutil.WaitFor(t, "close", d.Destroyed)
	assert.Equal(t, 1, closes)
	assert.Equal(t, "payload", sink.String())
}

func TestDuplexFinishNeverEndsReadSide(t *testing.T) {
	sink := testutil.NewMockSink()
	cfg := stream.DefaultDuplexConfig()
	cfg.AllowHalfOpen = false
	d := stream.NewDuplexWithConfig(nil, sink, cfg)

	// The coupling is one-directional: finishing the writer leaves the
	// reader alive even with half-open disallowed.
	require.NoError(t, d.End(nil))
	testutil.WaitFor(t, "write side finishes", d.Writer().Finished)

	assert.False(t, d.Destroyed())
	_, err := d.PushBytes([]byte("inbound"))
	require.NoError(t, err)
	c, ok, err := d.Read(0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "inbound", string(c.Bytes()))

	d.Destroy(nil)
}

func TestDuplexDestroyIsAtomic(t *testing.T) {
	sink := testutil.NewMockSink()

	var mu sync.Mutex
	var errs []error
	closes := 0
	cfg := stream.DefaultDuplexConfig()
	cfg.OnError = func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}
	cfg.OnClose = func() {
		mu.Lock()
		closes++
		mu.Unlock()
	}
	d := stream.NewDuplexWithConfig(nil, sink, cfg)

	_, err := d.PushBytes([]byte("buffered"))
	require.NoError(t, err)

	boom := errors.New("boom")
	d.Destroy(boom)
	d.Destroy(errors.New("dropped"))

	mu.Lock()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
	assert.Equal(t, 1, closes)
	mu.Unlock()

	// Both sides observe the same terminal state and error.
	assert.True(t, d.Reader().Destroyed())
	assert.True(t, d.Writer().Destroyed())
	assert.ErrorIs(t, d.Reader().Err(), boom)
	assert.ErrorIs(t, d.Writer().Err(), boom)

	_, _, err = d.Read(1)
	assert.ErrorIs(t, err, boom)
	_, err = d.WriteBytes([]byte("x"))
	assert.ErrorIs(t, err, stream.ErrStreamDestroyed)
}

func TestDuplexSinkErrorTearsDownBothSides(t *testing.T) {
	boom := errors.New("sink gone")
	sink := testutil.NewMockSink()
	sink.SetErrorOnNth(1, boom)

	var mu sync.Mutex
	var errs []error
	cfg := stream.DefaultDuplexConfig()
	cfg.OnError = func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}
	d := stream.NewDuplexWithConfig(nil, sink, cfg)

	_, err := d.WriteBytes([]byte("x"))
	require.NoError(t, err)

	testutil.WaitFor(t, "teardown", d.Destroyed)
	mu.Lock()
	require.Len(t, errs, 1)
	mu.Unlock()

	// The read side reports the write side's failure.
	_, _, err = d.Read(1)
	assert.ErrorIs(t, err, boom)
}

// teardownRecorder tracks teardown ordering across a duplex's collaborators.
type teardownRecorder struct {
	mu    sync.Mutex
	order *[]string
	tag   string
}

func (tr *teardownRecorder) record() {
	tr.mu.Lock()
	*tr.order = append(*tr.order, tr.tag)
	tr.mu.Unlock()
}

type recordingSource struct {
	teardownRecorder
}

func (rs *recordingSource) Fill(r *stream.Readable, size int) error { return nil }

func (rs *recordingSource) Teardown(err error, done func(error)) {
	rs.record()
	done(nil)
}

type recordingSink struct {
	teardownRecorder
}

func (rs *recordingSink) Write(c stream.Chunk, done func(error)) { done(nil) }

func (rs *recordingSink) Teardown(err error, done func(error)) {
	rs.record()
	done(nil)
}

func TestDuplexTeardownOrderSinkFirst(t *testing.T) {
	var order []string
	src := &recordingSource{teardownRecorder{order: &order, tag: "source"}}
	sink := &recordingSink{teardownRecorder{order: &order, tag: "sink"}}
	d := stream.NewDuplex(src, sink)

	d.Destroy(nil)
	assert.Equal(t, []string{"sink", "source"}, order)
}

func TestDuplexStatsSnapshotsBothSides(t *testing.T) {
	sink := testutil.NewMockSink()
	d := stream.NewDuplex(nil, sink)

	_, err := d.PushBytes([]byte("ab"))
	require.NoError(t, err)
	_, err = d.WriteBytes([]byte("cdef"))
	require.NoError(t, err)

	s := d.Stats()
	assert.Equal(t, int64(1), s.Readable.Pushes)
	assert.Equal(t, int64(2), s.Readable.BytesIn)
	assert.Equal(t, int64(1), s.Writable.Writes)
	assert.Equal(t, int64(4), s.Writable.BytesWritten)

	d.Destroy(nil)
}

func TestDuplexSidesShareMetricsRegistry(t *testing.T) {
	promReg := prometheus.NewRegistry()
	sink := testutil.NewMockSink()
	cfg := stream.DefaultDuplexConfig()
	cfg.Name = "metered-conn"
	cfg.Metrics = metrics.Config{Enabled: true, Registry: promReg}

	// Both sides resolve the same registerer; constructing the second
	// side must reuse the first side's series, not register them again.
	d := stream.NewDuplexWithConfig(nil, sink, cfg)

	_, err := d.PushBytes([]byte("in"))
	require.NoError(t, err)
	_, err = d.WriteBytes([]byte("out"))
	require.NoError(t, err)

	families, err := promReg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["streamflow_readable_pushes_total"])
	assert.True(t, names["streamflow_writable_writes_total"])

	d.Destroy(nil)
}
