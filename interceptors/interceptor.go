package interceptors

import (
	"context"
	"fmt"
	"time"

	"github.com/glimte/hookmate/contracts"
)

// CallFunc performs the real call that hooks observe
type CallFunc func(ctx context.Context) (any, error)

// Invocation describes one call on an instrumented target
type Invocation struct {
	// Target is the object the call was made on
	Target any
	// TypeName is the stable name of the target's type
	TypeName string
	// Method is the name of the called method
	Method string
	// Args are the call arguments in declaration order
	Args  []any
	start time.Time
}

// NewInvocation creates an invocation starting now
func NewInvocation(target any, typeName, method string, args []any) *Invocation {
	return &Invocation{
		Target:   target,
		TypeName: typeName,
		Method:   method,
		Args:     args,
		start:    time.Now(),
	}
}

// Arg returns the i-th call argument or nil
func (inv *Invocation) Arg(i int) any {
	if i < 0 || i >= len(inv.Args) {
		return nil
	}
	return inv.Args[i]
}

// Started returns when the call entered the dispatch boundary
func (inv *Invocation) Started() time.Time {
	return inv.start
}

// Elapsed returns the time since the call entered the dispatch boundary
func (inv *Invocation) Elapsed() time.Duration {
	if inv.start.IsZero() {
		return 0
	}
	return time.Since(inv.start)
}

// Interceptor observes calls on instrumented targets
type Interceptor interface {
	// Before runs before the real call
	Before(ctx context.Context, inv *Invocation)

	// After runs after the real call with its unmodified result and error
	After(ctx context.Context, inv *Invocation, result any, err error)
}

// Named is implemented by interceptors that report a name for logs and metrics
type Named interface {
	Name() string
}

// NameOf returns the interceptor name used in logs and metrics
func NameOf(interceptor Interceptor) string {
	if n, ok := interceptor.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", interceptor)
}

// InterceptorFunc is a function adapter for Interceptor
type InterceptorFunc struct {
	name   string
	before func(ctx context.Context, inv *Invocation)
	after  func(ctx context.Context, inv *Invocation, result any, err error)
}

// NewInterceptorFunc creates a new function-based interceptor; either hook may be nil
func NewInterceptorFunc(name string, before func(ctx context.Context, inv *Invocation), after func(ctx context.Context, inv *Invocation, result any, err error)) *InterceptorFunc {
	return &InterceptorFunc{name: name, before: before, after: after}
}

// Before implements Interceptor
func (i *InterceptorFunc) Before(ctx context.Context, inv *Invocation) {
	if i.before != nil {
		i.before(ctx, inv)
	}
}

// After implements Interceptor
func (i *InterceptorFunc) After(ctx context.Context, inv *Invocation, result any, err error) {
	if i.after != nil {
		i.after(ctx, inv, result, err)
	}
}

// Name implements Named
func (i *InterceptorFunc) Name() string {
	return i.name
}

// Factory builds an interceptor from its constructor arguments
type Factory func(args ...any) (Interceptor, error)

// Descriptor identifies an interceptor implementation and how to construct it
type Descriptor struct {
	Name string
	New  Factory
}

// Build constructs the interceptor, turning constructor panics into errors
func (d Descriptor) Build(args ...any) (interceptor Interceptor, err error) {
	if d.New == nil {
		return nil, contracts.ErrMissingFactory
	}

	defer func() {
		if r := recover(); r != nil {
			interceptor = nil
			err = fmt.Errorf("constructor %s panicked: %v", d.Name, r)
		}
	}()

	interceptor, err = d.New(args...)
	if err != nil {
		return nil, fmt.Errorf("constructor %s: %w", d.Name, err)
	}
	if interceptor == nil {
		return nil, fmt.Errorf("constructor %s returned nil", d.Name)
	}
	return interceptor, nil
}

// Arg extracts the i-th constructor argument as T
func Arg[T any](args []any, i int) (T, error) {
	var zero T
	if i < 0 || i >= len(args) {
		return zero, &contracts.ArgumentError{Index: i, Expected: typeName[T]()}
	}
	v, ok := args[i].(T)
	if !ok {
		return zero, &contracts.ArgumentError{Index: i, Expected: typeName[T](), Got: args[i]}
	}
	return v, nil
}

func typeName[T any]() string {
	var ptr *T
	return fmt.Sprintf("%T", ptr)[1:]
}

// MetricsCollector defines the interface for collecting hook metrics
type MetricsCollector interface {
	IncrementHookCount(interceptor string, stage string)
	IncrementSuppressedCount(interceptor string, stage string)
	IncrementFailureCount(interceptor string, stage string)
	RecordCallTime(method string, duration time.Duration)
}
