package registry

import (
	"sync"
	"sync/atomic"

	"github.com/glimte/hookmate/contracts"
	"github.com/glimte/hookmate/interceptors"
)

// Adaptor is the interceptor table of one session. Ids index the table and are
// never reused. Readers load an immutable snapshot; writers copy on write.
type Adaptor struct {
	mu      sync.Mutex
	entries atomic.Pointer[[]interceptors.Interceptor]
	removed atomic.Int64
}

// NewAdaptor creates an empty interceptor table
func NewAdaptor() *Adaptor {
	a := &Adaptor{}
	empty := make([]interceptors.Interceptor, 0)
	a.entries.Store(&empty)
	return a
}

// RegisterOption configures how an interceptor is registered
type RegisterOption func(*registration)

type registration struct {
	group  string
	policy interceptors.ExecutionPolicy
}

// WithGroup places the interceptor in the named group
func WithGroup(name string) RegisterOption {
	return func(r *registration) {
		r.group = name
	}
}

// WithPolicy sets the execution policy; it only applies with a group
func WithPolicy(policy interceptors.ExecutionPolicy) RegisterOption {
	return func(r *registration) {
		r.policy = policy
	}
}

// Register stores the interceptor and returns its id
func (a *Adaptor) Register(interceptor interceptors.Interceptor, options ...RegisterOption) (int, error) {
	if interceptor == nil {
		return -1, contracts.ErrInvalidInterceptor
	}

	reg := &registration{}
	for _, opt := range options {
		opt(reg)
	}
	if !reg.policy.Valid() {
		return -1, contracts.ErrInvalidPolicy
	}

	entry := interceptor
	if reg.group != "" {
		policy := reg.policy.Or(interceptors.PolicyBoundary)
		entry = interceptors.NewScopedInterceptor(interceptor, interceptors.GroupFor(reg.group), policy)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	current := *a.entries.Load()
	next := make([]interceptors.Interceptor, len(current), len(current)+1)
	copy(next, current)
	next = append(next, entry)
	a.entries.Store(&next)

	return len(next) - 1, nil
}

// Find returns the interceptor registered under id
func (a *Adaptor) Find(id int) (interceptors.Interceptor, bool) {
	entries := *a.entries.Load()
	if id < 0 || id >= len(entries) {
		return nil, false
	}
	interceptor := entries[id]
	return interceptor, interceptor != nil
}

// Remove deletes the entry for id; other ids are unaffected
func (a *Adaptor) Remove(id int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	current := *a.entries.Load()
	if id < 0 || id >= len(current) || current[id] == nil {
		return false
	}

	next := make([]interceptors.Interceptor, len(current))
	copy(next, current)
	next[id] = nil
	a.entries.Store(&next)
	a.removed.Add(1)

	return true
}

// Len returns the number of live entries
func (a *Adaptor) Len() int {
	return len(*a.entries.Load()) - int(a.removed.Load())
}
