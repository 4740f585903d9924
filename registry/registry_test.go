package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/glimte/hookmate/contracts"
	"github.com/glimte/hookmate/interceptors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(name string) interceptors.Interceptor {
	return interceptors.NewInterceptorFunc(name, nil, nil)
}

// bindForTest binds a fresh session and unbinds it when the test ends
func bindForTest(t *testing.T) *Session {
	t.Helper()
	s := NewSession()
	require.NoError(t, s.Bind())
	t.Cleanup(func() {
		if s.IsBound() {
			_ = s.Unbind()
		}
	})
	return s
}

func TestBindLifecycle(t *testing.T) {
	t.Run("Bind then unbind with the same token", func(t *testing.T) {
		adaptor := NewAdaptor()
		token := NewToken()

		require.NoError(t, Bind(adaptor, token))
		assert.Same(t, adaptor, Bound())
		assert.Same(t, adaptor, CurrentAdaptor())

		require.NoError(t, Unbind(token))
		assert.Nil(t, Bound())
	})

	t.Run("Second bind is rejected", func(t *testing.T) {
		s := bindForTest(t)

		err := Bind(NewAdaptor(), NewToken())
		var bound *contracts.AlreadyBoundError
		require.ErrorAs(t, err, &bound)
		assert.Equal(t, s.ID(), bound.Session)
		assert.Same(t, s.Adaptor(), Bound())
	})

	t.Run("Unbind with a foreign token leaves state untouched", func(t *testing.T) {
		s := bindForTest(t)
		id, err := Register(noop("kept"))
		require.NoError(t, err)

		err = Unbind(NewToken())
		var authErr *contracts.AuthorizationError
		require.ErrorAs(t, err, &authErr)
		assert.Same(t, s.Adaptor(), Bound())

		ic, ok := Dispatch(id)
		assert.True(t, ok)
		assert.Equal(t, "kept", interceptors.NameOf(ic))
	})

	t.Run("Unbind without binding", func(t *testing.T) {
		assert.ErrorIs(t, Unbind(NewToken()), contracts.ErrNotBound)
	})

	t.Run("Unbind invalidates every id", func(t *testing.T) {
		s := NewSession()
		require.NoError(t, s.Bind())
		id, err := Register(noop("gone"))
		require.NoError(t, err)

		require.NoError(t, s.Unbind())
		_, ok := Dispatch(id)
		assert.False(t, ok)
		_, err = Register(noop("late"))
		assert.ErrorIs(t, err, contracts.ErrNotBound)
	})

	t.Run("Nil arguments are rejected", func(t *testing.T) {
		assert.ErrorIs(t, Bind(nil, NewToken()), contracts.ErrInvalidBinding)
		assert.ErrorIs(t, Bind(NewAdaptor(), nil), contracts.ErrInvalidBinding)
	})
}

func TestRegisterIDs(t *testing.T) {
	bindForTest(t)

	a, err := Register(noop("a"))
	require.NoError(t, err)
	b, err := Register(noop("b"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	for i := 0; i < 10; i++ {
		_, err := Register(noop("filler"))
		require.NoError(t, err)
	}
	require.True(t, Bound().Remove(b))
	assert.False(t, Bound().Remove(b))

	ic, ok := Dispatch(a)
	require.True(t, ok)
	assert.Equal(t, "a", interceptors.NameOf(ic))
	_, ok = Dispatch(b)
	assert.False(t, ok)

	c, err := Register(noop("c"))
	require.NoError(t, err)
	assert.NotEqual(t, b, c)
	assert.Equal(t, 12, Bound().Len())

	_, err = Register(nil)
	assert.ErrorIs(t, err, contracts.ErrInvalidInterceptor)
	_, ok = Dispatch(-1)
	assert.False(t, ok)
}

func TestRegisterWithGroup(t *testing.T) {
	adaptor := NewAdaptor()

	id, err := adaptor.Register(noop("grouped"), WithGroup("db"))
	require.NoError(t, err)
	ic, ok := adaptor.Find(id)
	require.True(t, ok)

	scoped, ok := ic.(*interceptors.ScopedInterceptor)
	require.True(t, ok)
	assert.Equal(t, "db", scoped.Group().Name())
	assert.Equal(t, interceptors.PolicyBoundary, scoped.Policy())
	assert.Equal(t, "grouped", scoped.Name())

	id, err = adaptor.Register(noop("always"), WithGroup("db"), WithPolicy(interceptors.PolicyAlways))
	require.NoError(t, err)
	ic, _ = adaptor.Find(id)
	assert.Equal(t, interceptors.PolicyAlways, ic.(*interceptors.ScopedInterceptor).Policy())

	id, err = adaptor.Register(noop("none"), WithGroup("db"), WithPolicy(interceptors.PolicyNone))
	require.NoError(t, err)
	ic, _ = adaptor.Find(id)
	assert.Equal(t, interceptors.PolicyNone, ic.(*interceptors.ScopedInterceptor).Policy())

	id, err = adaptor.Register(noop("default"), WithGroup("db"), WithPolicy(interceptors.PolicyDefault))
	require.NoError(t, err)
	ic, _ = adaptor.Find(id)
	assert.Equal(t, interceptors.PolicyBoundary, ic.(*interceptors.ScopedInterceptor).Policy())

	id, err = adaptor.Register(noop("plain"), WithPolicy(interceptors.PolicyBoundary))
	require.NoError(t, err)
	ic, _ = adaptor.Find(id)
	_, isScoped := ic.(*interceptors.ScopedInterceptor)
	assert.False(t, isScoped)

	_, err = adaptor.Register(noop("bad"), WithGroup("db"), WithPolicy(interceptors.ExecutionPolicy(9)))
	assert.ErrorIs(t, err, contracts.ErrInvalidPolicy)
}

func TestConcurrentDispatch(t *testing.T) {
	adaptor := NewAdaptor()
	first, err := adaptor.Register(noop("first"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				ic, ok := adaptor.Find(first)
				if !ok || interceptors.NameOf(ic) != "first" {
					t.Error("stable id changed while registering")
					return
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		_, err := adaptor.Register(noop("more"))
		require.NoError(t, err)
	}
	cancel()
	wg.Wait()

	assert.Equal(t, 501, adaptor.Len())
}
