package interceptors

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	stageBefore = "before"
	stageAfter  = "after"
	stageEnter  = "enter"
)

// PanicError carries a panic raised by the real call to the After hooks
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Dispatcher runs interceptors around real calls. It is the failure boundary:
// nothing an interceptor does can change the result, error or panic of the
// call it observes.
type Dispatcher struct {
	logger  *slog.Logger
	metrics MetricsCollector
}

// DispatcherOption configures the dispatcher
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger for hook failures
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(metrics MetricsCollector) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = metrics
	}
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(options ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(d)
	}

	return d
}

type hookFrame struct {
	interceptor Interceptor
	name        string
	ctx         context.Context
	frame       Frame
}

// Execute runs the Before hooks in order, the real call, then the After hooks
// in reverse order. Grouped interceptors decide through their frame whether
// to fire; the context passed to call carries every group entry.
func (d *Dispatcher) Execute(ctx context.Context, hooks []Interceptor, inv *Invocation, call CallFunc) (result any, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(hooks) == 0 {
		return call(ctx)
	}
	if inv.start.IsZero() {
		inv.start = time.Now()
	}

	frames := make([]hookFrame, 0, len(hooks))
	for _, interceptor := range hooks {
		if interceptor == nil {
			continue
		}

		hf := hookFrame{interceptor: interceptor, name: NameOf(interceptor)}
		ctx, hf.frame = d.enter(ctx, hf, inv)
		hf.ctx = ctx
		frames = append(frames, hf)

		if hf.frame.Fires() {
			d.safely(hf, stageBefore, inv, func() {
				interceptor.Before(hf.ctx, inv)
			})
		} else if d.metrics != nil {
			d.metrics.IncrementSuppressedCount(hf.name, stageBefore)
		}
	}

	completed := false
	defer func() {
		if completed {
			return
		}
		r := recover()
		d.exit(frames, inv, nil, &PanicError{Value: r})
		if r != nil {
			panic(r)
		}
	}()

	result, err = call(ctx)
	completed = true
	d.exit(frames, inv, result, err)
	return result, err
}

func (d *Dispatcher) enter(ctx context.Context, hf hookFrame, inv *Invocation) (next context.Context, frame Frame) {
	scoped, ok := hf.interceptor.(Scoped)
	if !ok {
		return ctx, Frame{fire: true}
	}

	defer func() {
		if r := recover(); r != nil {
			d.report(hf.name, stageEnter, inv, r)
			next, frame = ctx, Frame{}
		}
	}()

	return scoped.Enter(ctx)
}

func (d *Dispatcher) exit(frames []hookFrame, inv *Invocation, result any, err error) {
	for i := len(frames) - 1; i >= 0; i-- {
		hf := frames[i]
		if !hf.frame.Fires() {
			if d.metrics != nil {
				d.metrics.IncrementSuppressedCount(hf.name, stageAfter)
			}
			continue
		}
		d.safely(hf, stageAfter, inv, func() {
			hf.interceptor.After(hf.ctx, inv, result, err)
		})
	}

	if d.metrics != nil {
		d.metrics.RecordCallTime(inv.TypeName+"."+inv.Method, inv.Elapsed())
	}
}

func (d *Dispatcher) safely(hf hookFrame, stage string, inv *Invocation, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.report(hf.name, stage, inv, r)
		}
	}()

	fn()

	if d.metrics != nil {
		d.metrics.IncrementHookCount(hf.name, stage)
	}
}

func (d *Dispatcher) report(name, stage string, inv *Invocation, r any) {
	d.logger.Error("interceptor failed",
		"interceptor", name,
		"stage", stage,
		"type", inv.TypeName,
		"method", inv.Method,
		"panic", r,
	)
	if d.metrics != nil {
		d.metrics.IncrementFailureCount(name, stage)
	}
}
