package stream_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/streamflow/internal/testutil"
	"github.com/vnykmshr/streamflow/pkg/stream"
)

func TestWritableFlushesInOrder(t *testing.T) {
	sink := testutil.NewMockSink()
	sink.SetDelay(2 * time.Millisecond)

	var mu sync.Mutex
	var order []string
	done := func(tag string) func(error) {
		return func(err error) {
			mu.Lock()
			defer mu.Unlock()
			assert.NoError(t, err)
			order = append(order, tag)
		}
	}

	w := stream.NewWritable(sink)
	_, err := w.Write(stream.StringChunk("a"), done("a"))
	require.NoError(t, err)
	_, err = w.Write(stream.StringChunk("b"), done("b"))
	require.NoError(t, err)
	_, err = w.Write(stream.StringChunk("c"), done("c"))
	require.NoError(t, err)
	require.NoError(t, w.End(done("end")))

	testutil.WaitFor(t, "finish", w.Finished)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c", "end"}, order)
	assert.Equal(t, "abc", sink.String())
	assert.Equal(t, 1, sink.FinalCalls())
}

func TestWritableBackpressureAndDrain(t *testing.T) {
	sink := testutil.NewMockSink()
	sink.SetDelay(2 * time.Millisecond)

	var mu sync.Mutex
	drains := 0
	cfg := stream.DefaultWritableConfig()
	cfg.HighWaterMark = 4
	cfg.OnDrain = func() {
		mu.Lock()
		drains++
		mu.Unlock()
	}
	w := stream.NewWritableWithConfig(sink, cfg)

	ok, err := w.Write(stream.StringChunk("ab"), nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = w.Write(stream.StringChunk("cde"), nil)
	require.NoError(t, err)
	assert.False(t, ok, "pending length crossed the mark")

	// Wait releases once the episode drains.
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	require.NoError(t, w.Wait(ctx))

	mu.Lock()
	assert.Equal(t, 1, drains, "one drain per backpressure episode")
	mu.Unlock()
	assert.Equal(t, int64(1), w.Stats().BackpressureEpisodes)

	testutil.WaitFor(t, "flush backlog", func() bool { return w.Buffered() == 0 })
	ok, err = w.Write(stream.StringChunk("f"), nil)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, w.End(nil))
	testutil.WaitFor(t, "finish", w.Finished)
	assert.Equal(t, "abcdef", sink.String())
}

func TestWritableWaitContextCancel(t *testing.T) {
	sink := testutil.NewMockSink()
	sink.SetDelay(50 * time.Millisecond)
	cfg := stream.DefaultWritableConfig()
	cfg.HighWaterMark = 1
	w := stream.NewWritableWithConfig(sink, cfg)

	ok, err := w.Write(stream.StringChunk("xx"), nil)
	require.NoError(t, err)
	require.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Wait(ctx), context.DeadlineExceeded)

	require.NoError(t, w.End(nil))
	testutil.WaitFor(t, "finish after end", w.Finished)
}

func TestWritableWriteAfterEnd(t *testing.T) {
	sink := testutil.NewMockSink()
	w := stream.NewWritable(sink)

	require.NoError(t, w.End(nil))

	_, err := w.Write(stream.StringChunk("late"), nil)
	assert.ErrorIs(t, err, stream.ErrStreamFinished)
	assert.ErrorIs(t, w.End(nil), stream.ErrStreamFinished)

	// The clean finish settles into a close; misuse afterwards keeps
	// reporting the finished condition.
	testutil.WaitFor(t, "auto close", w.Destroyed)
	_, err = w.Write(stream.StringChunk("later"), nil)
	assert.ErrorIs(t, err, stream.ErrStreamFinished)
}

func TestWritableCorkCoalescesIntoBatch(t *testing.T) {
	sink := testutil.NewBatchMockSink()
	w := stream.NewWritable(sink)

	var order []string
	done := func(tag string) func(error) {
		return func(err error) {
			require.NoError(t, err)
			order = append(order, tag)
		}
	}

	w.Cork()
	_, err := w.Write(stream.StringChunk("a"), done("a"))
	require.NoError(t, err)
	_, err = w.Write(stream.StringChunk("b"), done("b"))
	require.NoError(t, err)
	_, err = w.Write(stream.StringChunk("c"), done("c"))
	require.NoError(t, err)
	assert.Equal(t, 0, sink.WriteCount(), "no flush while corked")
	assert.Equal(t, 3, w.Buffered())

	w.Uncork()
	assert.Equal(t, 1, sink.BatchCount())
	assert.Equal(t, []int{3}, sink.BatchSizes())
	assert.Equal(t, "abc", sink.String())
	assert.Equal(t, []string{"a", "b", "c"}, order,
		"batch completion fans out in submission order")
	w.Destroy(nil)
}

func TestWritableCorkNests(t *testing.T) {
	sink := testutil.NewBatchMockSink()
	w := stream.NewWritable(sink)

	w.Cork()
	w.Cork()
	_, err := w.Write(stream.StringChunk("x"), nil)
	require.NoError(t, err)

	w.Uncork()
	assert.Equal(t, 0, sink.WriteCount(), "still corked at depth 1")
	assert.Equal(t, 1, w.Corked())

	w.Uncork()
	assert.Equal(t, 1, sink.WriteCount())
	w.Destroy(nil)
}

func TestWritableCorkSingleChunkSkipsBatch(t *testing.T) {
	sink := testutil.NewBatchMockSink()
	w := stream.NewWritable(sink)

	w.Cork()
	_, err := w.Write(stream.StringChunk("solo"), nil)
	require.NoError(t, err)
	w.Uncork()

	assert.Equal(t, 0, sink.BatchCount(), "one chunk flushes plainly")
	assert.Equal(t, "solo", sink.String())
	w.Destroy(nil)
}

func TestWritableEndUncorks(t *testing.T) {
	sink := testutil.NewBatchMockSink()
	w := stream.NewWritable(sink)

	w.Cork()
	_, err := w.Write(stream.StringChunk("a"), nil)
	require.NoError(t, err)
	_, err = w.Write(stream.StringChunk("b"), nil)
	require.NoError(t, err)

	require.NoError(t, w.End(nil))
	testutil.WaitFor(t, "finish", w.Finished)
	assert.Equal(t, 1, sink.BatchCount())
	assert.Equal(t, "ab", sink.String())
}

func TestWritableEndWith(t *testing.T) {
	sink := testutil.NewMockSink()
	w := stream.NewWritable(sink)

	_, err := w.Write(stream.StringChunk("almost "), nil)
	require.NoError(t, err)
	require.NoError(t, w.EndWith(stream.StringChunk("done"), nil))

	testutil.WaitFor(t, "finish", w.Finished)
	assert.Equal(t, "almost done", sink.String())
}

func TestWritableSinkErrorDestroys(t *testing.T) {
	boom := errors.New("connection reset")
	sink := testutil.NewMockSink()
	sink.SetErrorOnNth(1, boom)

	var mu sync.Mutex
	var errs []error
	var doneErr error
	cfg := stream.DefaultWritableConfig()
	cfg.OnError = func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}
	w := stream.NewWritableWithConfig(sink, cfg)

	_, err := w.Write(stream.StringChunk("x"), func(err error) {
		mu.Lock()
		doneErr = err
		mu.Unlock()
	})
	require.NoError(t, err)

	testutil.WaitFor(t, "destroy", w.Destroyed)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, errs, 1)
	var sinkErr *stream.SinkError
	assert.ErrorAs(t, errs[0], &sinkErr)
	assert.ErrorIs(t, errs[0], boom)
	assert.ErrorIs(t, doneErr, boom)

	_, err = w.Write(stream.StringChunk("more"), nil)
	assert.ErrorIs(t, err, stream.ErrStreamDestroyed)
}

func TestWritableDestroyFailsPending(t *testing.T) {
	sink := testutil.NewMockSink()
	sink.SetDelay(3 * time.Millisecond)

	var mu sync.Mutex
	var failed []error
	closes := 0
	cfg := stream.DefaultWritableConfig()
	cfg.OnClose = func() {
		mu.Lock()
		closes++
		mu.Unlock()
	}
	w := stream.NewWritableWithConfig(sink, cfg)

	record := func(err error) {
		mu.Lock()
		failed = append(failed, err)
		mu.Unlock()
	}
	_, err := w.Write(stream.StringChunk("a"), record)
	require.NoError(t, err)
	_, err = w.Write(stream.StringChunk("b"), record)
	require.NoError(t, err)

	w.Destroy(nil)
	w.Destroy(nil)

	mu.Lock()
	require.Len(t, failed, 2)
	assert.ErrorIs(t, failed[0], stream.ErrStreamDestroyed)
	assert.ErrorIs(t, failed[1], stream.ErrStreamDestroyed)
	assert.Equal(t, 1, closes)
	mu.Unlock()
	assert.Equal(t, 0, w.Buffered())

	// Let the in-flight sink timer fire; its late completion is discarded.
	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	assert.Len(t, failed, 2)
	mu.Unlock()
}

func TestWritableFinalErrorDestroys(t *testing.T) {
	boom := errors.New("flush to disk failed")
	sink := testutil.NewMockSink()
	sink.SetFinalError(boom)

	var mu sync.Mutex
	var endErr error
	w := stream.NewWritable(sink)
	require.NoError(t, w.End(func(err error) {
		mu.Lock()
		endErr = err
		mu.Unlock()
	}))

	testutil.WaitFor(t, "destroy", w.Destroyed)
	mu.Lock()
	defer mu.Unlock()
	assert.ErrorIs(t, endErr, boom)
	assert.False(t, w.Finished())
	assert.ErrorIs(t, w.Err(), boom)
}

func TestWritableTeardownHooks(t *testing.T) {
	boom := errors.New("boom")
	sink := testutil.NewMockSink()
	w := stream.NewWritable(sink)
	w.Destroy(boom)
	assert.Equal(t, 1, sink.TeardownCalls())
	assert.ErrorIs(t, sink.LastTeardownErr(), boom)

	// A clean finish also runs teardown, with no error.
	sink2 := testutil.NewMockSink()
	w2 := stream.NewWritable(sink2)
	require.NoError(t, w2.End(nil))
	testutil.WaitFor(t, "auto close", w2.Destroyed)
	assert.Equal(t, 1, sink2.TeardownCalls())
	assert.NoError(t, sink2.LastTeardownErr())
}

func TestWritableObjectModeMismatch(t *testing.T) {
	sink := testutil.NewMockSink()
	cfg := stream.DefaultWritableConfig()
	cfg.ObjectMode = true
	w := stream.NewWritableWithConfig(sink, cfg)

	_, err := w.Write(stream.StringChunk("bytes"), nil)
	assert.ErrorIs(t, err, stream.ErrInvalidChunk)

	_, err = w.Write(stream.ObjectChunk(7), nil)
	require.NoError(t, err)
	w.Destroy(nil)
}

func TestWritableStatsSnapshot(t *testing.T) {
	sink := testutil.NewMockSink()
	w := stream.NewWritable(sink)

	_, err := w.Write(stream.StringChunk("abcd"), nil)
	require.NoError(t, err)
	require.NoError(t, w.End(nil))
	testutil.WaitFor(t, "finish", func() bool { return w.Stats().Finished })

	s := w.Stats()
	assert.Equal(t, int64(1), s.Writes)
	assert.Equal(t, int64(1), s.Flushes)
	assert.Equal(t, int64(4), s.BytesWritten)
	assert.Equal(t, 0, s.Buffered)
	assert.True(t, s.Ending)
}
