package recorder

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/glimte/hookmate/config"
	"github.com/glimte/hookmate/contracts"
	"github.com/glimte/hookmate/internal/reliability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Write(ctx context.Context, events []contracts.Event) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

func (m *mockSink) Close() error {
	args := m.Called()
	return args.Error(0)
}

// blockingSink holds every write until released
type blockingSink struct {
	Memory
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingSink) Write(ctx context.Context, events []contracts.Event) error {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.Memory.Write(ctx, events)
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func event(method string) contracts.Event {
	return contracts.NewSpanEvent("call", "target", method)
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	m.Record(event("a"))
	m.Record(nil)
	require.NoError(t, m.Write(context.Background(), []contracts.Event{event("b"), event("c")}))
	assert.Equal(t, 3, m.Len())

	other := NewMemory()
	Fanout{m, nil, other}.Record(event("d"))
	assert.Equal(t, 4, m.Len())
	assert.Equal(t, 1, other.Len())

	m.Reset()
	assert.Empty(t, m.Events())
	require.NoError(t, m.Close())
	assert.True(t, m.Closed())

	Discard.Record(event("e"))
}

func TestAsyncFlush(t *testing.T) {
	sink := NewMemory()
	rec := NewAsync(sink, WithBatchSize(3), WithFlushInterval(time.Hour), WithLogger(quiet()))
	defer rec.Close()

	for i := 0; i < 7; i++ {
		rec.Record(event("m"))
	}
	require.NoError(t, rec.Flush(context.Background()))

	assert.Equal(t, 7, sink.Len())
	stats := rec.Stats()
	assert.Equal(t, int64(7), stats.Recorded)
	assert.Equal(t, int64(7), stats.Written)
	assert.Equal(t, int64(0), stats.Dropped)
	assert.Equal(t, 0, stats.Pending)
}

func TestAsyncFlushInterval(t *testing.T) {
	sink := NewMemory()
	rec := NewAsync(sink, WithBatchSize(100), WithFlushInterval(10*time.Millisecond), WithLogger(quiet()))
	defer rec.Close()

	rec.Record(event("m"))
	assert.Eventually(t, func() bool { return sink.Len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestAsyncDropsWhenFull(t *testing.T) {
	sink := &blockingSink{entered: make(chan struct{}), release: make(chan struct{})}
	rec := NewAsync(sink, WithBufferSize(1), WithBatchSize(1), WithLogger(quiet()))

	rec.Record(event("first"))
	<-sink.entered

	rec.Record(event("second"))
	rec.Record(event("third"))
	rec.Record(event("fourth"))

	stats := rec.Stats()
	assert.Equal(t, int64(2), stats.Recorded)
	assert.Equal(t, int64(2), stats.Dropped)

	close(sink.release)
	require.NoError(t, rec.Close())
	assert.Equal(t, 2, sink.Len())
	assert.True(t, sink.Closed())
}

func TestAsyncSinkFailure(t *testing.T) {
	sink := &mockSink{}
	sink.On("Write", mock.Anything, mock.Anything).Return(errors.New("store unavailable"))
	sink.On("Close").Return(nil)

	var logs bytes.Buffer
	rec := NewAsync(sink,
		WithRetryPolicy(reliability.NoRetry),
		WithFlushInterval(time.Hour),
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
	)

	rec.Record(event("a"))
	rec.Record(event("b"))
	err := rec.Flush(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int64(2), rec.Stats().Failed)
	assert.Contains(t, logs.String(), "failed to write events")

	require.NoError(t, rec.Close())
	sink.AssertExpectations(t)
}

func TestAsyncBreakerStopsWrites(t *testing.T) {
	sink := &mockSink{}
	sink.On("Write", mock.Anything, mock.Anything).Return(errors.New("store unavailable")).Twice()
	sink.On("Close").Return(nil)

	cb := reliability.NewCircuitBreaker(reliability.WithFailureThreshold(2), reliability.WithCooldown(time.Hour))
	rec := NewAsync(sink,
		WithRetryPolicy(reliability.NoRetry),
		WithCircuitBreaker(cb),
		WithFlushInterval(time.Hour),
		WithLogger(quiet()),
	)

	for i := 0; i < 3; i++ {
		rec.Record(event("m"))
		assert.Error(t, rec.Flush(context.Background()))
	}

	assert.Equal(t, reliability.StateOpen, rec.Stats().Breaker.State)
	require.NoError(t, rec.Close())
	sink.AssertNumberOfCalls(t, "Write", 2)
}

func TestAsyncClose(t *testing.T) {
	sink := NewMemory()
	rec := NewAsync(sink, WithFlushInterval(time.Hour), WithLogger(quiet()))

	rec.Record(event("a"))
	rec.Record(event("b"))
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())

	assert.Equal(t, 2, sink.Len())
	assert.True(t, sink.Closed())

	rec.Record(event("late"))
	assert.Equal(t, int64(1), rec.Stats().Dropped)
	assert.ErrorIs(t, rec.Flush(context.Background()), ErrClosed)
}

func TestAsyncRecordDuringClose(t *testing.T) {
	sink := NewMemory()
	rec := NewAsync(sink, WithBufferSize(100000), WithFlushInterval(time.Hour), WithLogger(quiet()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				rec.Record(event("m"))
			}
		}()
	}
	require.NoError(t, rec.Close())
	wg.Wait()

	stats := rec.Stats()
	assert.Equal(t, int64(8000), stats.Recorded+stats.Dropped)
	assert.Equal(t, stats.Recorded, int64(sink.Len()), "every accepted event reaches the sink")
	assert.Equal(t, 0, stats.Pending)
}

func TestFromConfig(t *testing.T) {
	props := config.New(map[string]string{
		"profiler.recorder.buffer":         "8",
		"profiler.recorder.batch":          "2",
		"profiler.recorder.flush.interval": "50ms",
	})

	opts := asyncOptions{bufferSize: 1024, batchSize: 100, flushInterval: time.Second}
	FromConfig(props)(&opts)
	assert.Equal(t, 8, opts.bufferSize)
	assert.Equal(t, 2, opts.batchSize)
	assert.Equal(t, 50*time.Millisecond, opts.flushInterval)

	defaults := asyncOptions{bufferSize: 1024, batchSize: 100, flushInterval: time.Second}
	FromConfig(config.Empty())(&defaults)
	assert.Equal(t, 1024, defaults.bufferSize)
}
