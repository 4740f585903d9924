// Package interceptors provides the hook model and the group coordination engine.
//
// An Interceptor observes calls on instrumented targets through two hooks,
// Before and After. Interceptors that watch the same logical resource share a
// Group, and each one runs under an ExecutionPolicy:
//   - PolicyDefault: unset; BOUNDARY for grouped interceptors
//   - PolicyNone: fires on every call, ignores the group
//   - PolicyAlways: fires on every call, counts toward the group depth
//   - PolicyBoundary: fires only on the outermost call of the group
//
// Group depth is carried in context.Context, so it follows the call chain the
// way a thread-local counter would and goroutines never see each other's depth.
//
// Example usage:
//
//	group := interceptors.GroupFor("db")
//	hook := interceptors.NewScopedInterceptor(connectInterceptor, group, interceptors.PolicyBoundary)
//
//	dispatcher := interceptors.NewDispatcher(interceptors.WithLogger(logger))
//	inv := interceptors.NewInvocation(conn, "*sql.Conn", "Connect", nil)
//	result, err := dispatcher.Execute(ctx, []interceptors.Interceptor{hook}, inv, realCall)
//
// The Dispatcher recovers panics raised by hooks, logs and counts them, and
// always returns the real call's result unchanged.
package interceptors
