// Package reliability keeps a failing event sink from slowing down or
// flooding the recorder.
//
// Sink writes run under a CircuitBreaker and a RetryPolicy:
//
//	cb := NewCircuitBreaker(WithFailureThreshold(5), WithCooldown(10*time.Second))
//	err := Retry(ctx, "write batch", NewBackoff(50*time.Millisecond, time.Second, 3), func(ctx context.Context) error {
//	    return cb.Execute(ctx, func(ctx context.Context) error {
//	        return sink.Write(ctx, batch)
//	    })
//	})
package reliability
