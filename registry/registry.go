package registry

import (
	"sync"
	"sync/atomic"

	"github.com/glimte/hookmate/contracts"
	"github.com/glimte/hookmate/interceptors"
)

// binding pairs the bound adaptor with the token that owns it
type binding struct {
	adaptor *Adaptor
	token   *Token
}

var (
	current atomic.Pointer[binding]
	bindMu  sync.Mutex
)

// Bind installs adaptor as the process-wide interceptor table
func Bind(adaptor *Adaptor, token *Token) error {
	if adaptor == nil || token == nil {
		return contracts.ErrInvalidBinding
	}

	bindMu.Lock()
	defer bindMu.Unlock()

	if b := current.Load(); b != nil {
		return &contracts.AlreadyBoundError{Session: b.token.String()}
	}

	current.Store(&binding{adaptor: adaptor, token: token})
	return nil
}

// Unbind removes the bound adaptor if token owns it
func Unbind(token *Token) error {
	bindMu.Lock()
	defer bindMu.Unlock()

	b := current.Load()
	if b == nil {
		return contracts.ErrNotBound
	}
	if b.token != token {
		return &contracts.AuthorizationError{Op: "unbind", Session: b.token.String()}
	}

	current.Store(nil)
	return nil
}

// Bound returns the bound adaptor, or nil
func Bound() *Adaptor {
	b := current.Load()
	if b == nil {
		return nil
	}
	return b.adaptor
}

// CurrentAdaptor is Bound under its administrative name
func CurrentAdaptor() *Adaptor {
	return Bound()
}

// Register adds an interceptor to the bound adaptor
func Register(interceptor interceptors.Interceptor, options ...RegisterOption) (int, error) {
	adaptor := Bound()
	if adaptor == nil {
		return -1, contracts.ErrNotBound
	}
	return adaptor.Register(interceptor, options...)
}

// Dispatch returns the interceptor registered under id in the bound adaptor
func Dispatch(id int) (interceptors.Interceptor, bool) {
	adaptor := Bound()
	if adaptor == nil {
		return nil, false
	}
	return adaptor.Find(id)
}
