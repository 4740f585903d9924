package recorder

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glimte/hookmate/config"
	"github.com/glimte/hookmate/contracts"
	"github.com/glimte/hookmate/internal/reliability"
)

// ErrClosed is returned by Flush after Close
var ErrClosed = errors.New("recorder: closed")

// Configuration keys read by FromConfig
const (
	KeyBufferSize    = "profiler.recorder.buffer"
	KeyBatchSize     = "profiler.recorder.batch"
	KeyFlushInterval = "profiler.recorder.flush.interval"
)

// Async hands events to a sink on a single worker goroutine. Record never
// blocks: when the buffer is full the event is dropped and counted.
type Async struct {
	sink    contracts.Sink
	events  chan contracts.Event
	flushes chan chan error
	stop    chan struct{}
	done    chan struct{}

	batchSize     int
	flushInterval time.Duration
	writeTimeout  time.Duration
	retry         reliability.RetryPolicy
	breaker       *reliability.CircuitBreaker
	logger        *slog.Logger

	// mu orders sends against Close, so nothing lands in the buffer after the final drain
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	closeErr  error

	recorded atomic.Int64
	dropped  atomic.Int64
	written  atomic.Int64
	failed   atomic.Int64
}

// AsyncOption configures the async recorder
type AsyncOption func(*asyncOptions)

type asyncOptions struct {
	bufferSize    int
	batchSize     int
	flushInterval time.Duration
	writeTimeout  time.Duration
	retry         reliability.RetryPolicy
	breaker       *reliability.CircuitBreaker
	logger        *slog.Logger
}

// WithBufferSize sets the capacity of the event buffer
func WithBufferSize(size int) AsyncOption {
	return func(o *asyncOptions) {
		if size > 0 {
			o.bufferSize = size
		}
	}
}

// WithBatchSize sets the maximum number of events per sink write
func WithBatchSize(size int) AsyncOption {
	return func(o *asyncOptions) {
		if size > 0 {
			o.batchSize = size
		}
	}
}

// WithFlushInterval sets how often a partial batch is written
func WithFlushInterval(interval time.Duration) AsyncOption {
	return func(o *asyncOptions) {
		if interval > 0 {
			o.flushInterval = interval
		}
	}
}

// WithWriteTimeout bounds each sink write including retries
func WithWriteTimeout(timeout time.Duration) AsyncOption {
	return func(o *asyncOptions) {
		if timeout > 0 {
			o.writeTimeout = timeout
		}
	}
}

// WithRetryPolicy sets the retry policy for failed writes
func WithRetryPolicy(policy reliability.RetryPolicy) AsyncOption {
	return func(o *asyncOptions) {
		o.retry = policy
	}
}

// WithCircuitBreaker sets the breaker guarding the sink
func WithCircuitBreaker(cb *reliability.CircuitBreaker) AsyncOption {
	return func(o *asyncOptions) {
		o.breaker = cb
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) AsyncOption {
	return func(o *asyncOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// FromConfig reads the recorder options from properties
func FromConfig(props config.Properties) AsyncOption {
	return func(o *asyncOptions) {
		WithBufferSize(props.ReadInt(KeyBufferSize, o.bufferSize))(o)
		WithBatchSize(props.ReadInt(KeyBatchSize, o.batchSize))(o)
		WithFlushInterval(props.ReadDuration(KeyFlushInterval, o.flushInterval))(o)
	}
}

// NewAsync creates an async recorder and starts its worker
func NewAsync(sink contracts.Sink, options ...AsyncOption) *Async {
	opts := asyncOptions{
		bufferSize:    1024,
		batchSize:     100,
		flushInterval: time.Second,
		writeTimeout:  5 * time.Second,
		retry:         reliability.NewBackoff(50*time.Millisecond, time.Second, 3),
		logger:        slog.Default(),
	}
	for _, opt := range options {
		opt(&opts)
	}

	a := &Async{
		sink:          sink,
		events:        make(chan contracts.Event, opts.bufferSize),
		flushes:       make(chan chan error),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		batchSize:     opts.batchSize,
		flushInterval: opts.flushInterval,
		writeTimeout:  opts.writeTimeout,
		retry:         opts.retry,
		logger:        opts.logger,
	}

	a.breaker = opts.breaker
	if a.breaker == nil {
		a.breaker = reliability.NewCircuitBreaker(
			reliability.WithName("recorder"),
			reliability.WithCooldown(10*time.Second),
			reliability.WithStateChange(func(name string, from, to reliability.State, reason string) {
				a.logger.Warn("sink circuit changed state", "from", from, "to", to, "reason", reason)
			}),
		)
	}

	go a.run()
	return a
}

// Record implements contracts.Recorder
func (a *Async) Record(event contracts.Event) {
	if event == nil {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return
	}

	select {
	case a.events <- event:
		a.recorded.Add(1)
	default:
		a.dropped.Add(1)
	}
}

// Flush writes every event recorded before the call
func (a *Async) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case a.flushes <- reply:
	case <-a.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the buffer, writes what is left and closes the sink
func (a *Async) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()
		close(a.stop)
		<-a.done
		a.closeErr = a.sink.Close()
	})
	return a.closeErr
}

// Stats returns the recorder counters
func (a *Async) Stats() AsyncStats {
	return AsyncStats{
		Recorded: a.recorded.Load(),
		Dropped:  a.dropped.Load(),
		Written:  a.written.Load(),
		Failed:   a.failed.Load(),
		Pending:  len(a.events),
		Breaker:  a.breaker.Stats(),
	}
}

// AsyncStats is a snapshot of the async recorder counters
type AsyncStats struct {
	Recorded int64
	Dropped  int64
	Written  int64
	Failed   int64
	Pending  int
	Breaker  reliability.BreakerStats
}

func (a *Async) run() {
	defer close(a.done)

	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	batch := make([]contracts.Event, 0, a.batchSize)

	for {
		select {
		case event := <-a.events:
			batch = append(batch, event)
			if len(batch) >= a.batchSize {
				a.write(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				a.write(batch)
				batch = batch[:0]
			}

		case reply := <-a.flushes:
			batch = a.drain(batch)
			reply <- a.write(batch)
			batch = batch[:0]

		case <-a.stop:
			batch = a.drain(batch)
			a.write(batch)
			return
		}
	}
}

// drain moves buffered events into batch, writing full batches on the way
func (a *Async) drain(batch []contracts.Event) []contracts.Event {
	for {
		select {
		case event := <-a.events:
			batch = append(batch, event)
			if len(batch) >= a.batchSize {
				a.write(batch)
				batch = batch[:0]
			}
		default:
			return batch
		}
	}
}

func (a *Async) write(batch []contracts.Event) error {
	if len(batch) == 0 {
		return nil
	}

	// the sink may keep the slice
	events := append([]contracts.Event(nil), batch...)

	ctx, cancel := context.WithTimeout(context.Background(), a.writeTimeout)
	defer cancel()

	err := reliability.Retry(ctx, "write events", a.retry, func(ctx context.Context) error {
		return a.breaker.Execute(ctx, func(ctx context.Context) error {
			return a.sink.Write(ctx, events)
		})
	})
	if err != nil {
		a.failed.Add(int64(len(events)))
		a.logger.Warn("failed to write events", "count", len(events), "error", err)
		return err
	}

	a.written.Add(int64(len(events)))
	return nil
}
