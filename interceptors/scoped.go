package interceptors

import (
	"context"
)

// Scoped is implemented by interceptors that take part in a group
type Scoped interface {
	Interceptor
	Enter(ctx context.Context) (context.Context, Frame)
}

// ScopedInterceptor runs an interceptor under a group and execution policy
type ScopedInterceptor struct {
	interceptor Interceptor
	group       *Group
	policy      ExecutionPolicy
}

// NewScopedInterceptor wraps interceptor with a group and policy
func NewScopedInterceptor(interceptor Interceptor, group *Group, policy ExecutionPolicy) *ScopedInterceptor {
	return &ScopedInterceptor{
		interceptor: interceptor,
		group:       group,
		policy:      policy,
	}
}

// Enter implements Scoped
func (s *ScopedInterceptor) Enter(ctx context.Context) (context.Context, Frame) {
	if s.group == nil {
		return ctx, Frame{fire: true}
	}
	return s.group.Enter(ctx, s.policy)
}

// Before implements Interceptor
func (s *ScopedInterceptor) Before(ctx context.Context, inv *Invocation) {
	s.interceptor.Before(ctx, inv)
}

// After implements Interceptor
func (s *ScopedInterceptor) After(ctx context.Context, inv *Invocation, result any, err error) {
	s.interceptor.After(ctx, inv, result, err)
}

// Name implements Named
func (s *ScopedInterceptor) Name() string {
	return NameOf(s.interceptor)
}

// Unwrap returns the wrapped interceptor
func (s *ScopedInterceptor) Unwrap() Interceptor {
	return s.interceptor
}

// Group returns the interceptor's group, or nil
func (s *ScopedInterceptor) Group() *Group {
	return s.group
}

// Policy returns the interceptor's execution policy
func (s *ScopedInterceptor) Policy() ExecutionPolicy {
	return s.policy
}
