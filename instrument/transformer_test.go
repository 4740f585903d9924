package instrument

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/glimte/hookmate/contracts"
	"github.com/glimte/hookmate/interceptors"
	"github.com/glimte/hookmate/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingInterceptor appends its name and the method to a shared log
type recordingInterceptor struct {
	name string
	mu   *sync.Mutex
	log  *[]string
}

func (r *recordingInterceptor) Before(ctx context.Context, inv *interceptors.Invocation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.log = append(*r.log, r.name+".before:"+inv.Method)
}

func (r *recordingInterceptor) After(ctx context.Context, inv *interceptors.Invocation, result any, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.log = append(*r.log, r.name+".after:"+inv.Method)
}

func (r *recordingInterceptor) Name() string {
	return r.name
}

type callLog struct {
	mu      sync.Mutex
	entries []string
	built   int
}

func (c *callLog) descriptor(name string) interceptors.Descriptor {
	return interceptors.Descriptor{Name: name, New: func(args ...any) (interceptors.Interceptor, error) {
		c.mu.Lock()
		c.built++
		c.mu.Unlock()
		return &recordingInterceptor{name: name, mu: &c.mu, log: &c.entries}, nil
	}}
}

func (c *callLog) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.entries...)
}

func (c *callLog) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
}

// target is a decorated object used by the tests
type target struct {
	inst *Instance
}

func (t *target) Instance() *Instance {
	return t.inst
}

func (t *target) call(ctx context.Context, method string) (any, error) {
	return t.inst.Invoke(ctx, method, nil, func(ctx context.Context) (any, error) {
		return method, nil
	})
}

func bindSession(t *testing.T) *registry.Session {
	t.Helper()
	s := registry.NewSession()
	require.NoError(t, s.Bind())
	t.Cleanup(func() {
		if s.IsBound() {
			_ = s.Unbind()
		}
	})
	return s
}

func quietTransformer() *Transformer {
	return NewTransformer(WithTransformerLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))))
}

func methods(names ...string) []Method {
	out := make([]Method, len(names))
	for i, n := range names {
		out[i] = Method{Name: n, Signature: "()"}
	}
	return out
}

func TestTransformAbstractType(t *testing.T) {
	session := bindSession(t)
	log := &callLog{}
	tr := quietTransformer()

	plan := NewPlan().
		AddSlot(NewAccessor[string]("info"), nil).
		Attach(Attachment{Filter: Names("Close"), Interceptor: log.descriptor("close")})
	require.NoError(t, tr.RegisterTransform("db.Conn", plan))

	typ, changed := tr.Transform(DefaultLoader, "db.Conn", &TypeDescriptor{Name: "db.Conn", Abstract: true, Methods: methods("Close")})
	assert.False(t, changed)
	assert.Nil(t, typ)
	assert.Equal(t, 0, log.built)
	assert.Equal(t, 0, session.Adaptor().Len())
}

func TestTransformOnce(t *testing.T) {
	bindSession(t)
	log := &callLog{}
	tr := quietTransformer()

	plan := NewPlan().Attach(Attachment{Filter: Names("Close", "Open"), Interceptor: log.descriptor("lifecycle")})
	require.NoError(t, tr.RegisterTransform("db.Conn", plan))
	require.NoError(t, tr.RegisterTransform("db.ConnImpl", plan))

	desc := &TypeDescriptor{Name: "db.Conn", Methods: methods("Open", "Close", "Ping")}
	first, changed := tr.Transform(DefaultLoader, "db.Conn", desc)
	require.True(t, changed)
	second, changed := tr.Transform(DefaultLoader, "db.Conn", desc)
	require.True(t, changed)
	assert.Same(t, first, second)
	assert.Equal(t, 2, log.built, "one interceptor per hooked method")

	impl, changed := tr.Transform(DefaultLoader, "db.ConnImpl", &TypeDescriptor{Name: "db.ConnImpl", Methods: methods("Close")})
	require.True(t, changed)
	assert.NotSame(t, first, impl)
	assert.Equal(t, 3, log.built)
	assert.NotEqual(t, first.Sites("Close"), impl.Sites("Close"))

	other, changed := tr.Transform(LoaderContext{Name: "plugin"}, "db.Conn", desc)
	require.True(t, changed)
	assert.NotSame(t, first, other)

	_, changed = tr.Transform(DefaultLoader, "db.Unplanned", &TypeDescriptor{Name: "db.Unplanned"})
	assert.False(t, changed)
}

func TestAttachmentOrdering(t *testing.T) {
	bindSession(t)
	log := &callLog{}
	tr := quietTransformer()

	plan := NewPlan().
		Attach(Attachment{Filter: Names("Exec"), Interceptor: log.descriptor("first")}).
		Attach(Attachment{Filter: Names("Exec"), Interceptor: log.descriptor("second")})
	require.NoError(t, tr.RegisterTransform("db.Stmt", plan))

	typ, ok := tr.Transform(DefaultLoader, "db.Stmt", &TypeDescriptor{Methods: methods("Exec")})
	require.True(t, ok)
	obj := &target{}
	obj.inst = typ.NewInstance(obj)

	res, err := obj.call(context.Background(), "Exec")
	require.NoError(t, err)
	assert.Equal(t, "Exec", res)
	assert.Equal(t, []string{"first.before:Exec", "second.before:Exec", "second.after:Exec", "first.after:Exec"}, log.snapshot())

	log.reset()
	_, _ = obj.call(context.Background(), "Other")
	assert.Empty(t, log.snapshot())
}

func TestComplementaryFilters(t *testing.T) {
	bindSession(t)
	log := &callLog{}
	tr := quietTransformer()

	family := []string{"BindInt64", "BindString", "BindBytes", "BindRowID", "BindNamed", "BindJSON"}
	special := []string{"BindRowID", "BindNamed", "BindJSON"}

	basePlan := NewPlan().Attach(Attachment{
		Filter:      ExcludeMethods(family, special...),
		Interceptor: log.descriptor("bind"),
		Group:       "db",
	})
	variantPlan := NewPlan().Attach(Attachment{
		Filter:      IncludeMethods(family, special...),
		Interceptor: log.descriptor("bind"),
		Group:       "db",
	})
	require.NoError(t, tr.RegisterTransform("db.Stmt", basePlan))
	require.NoError(t, tr.RegisterTransform("db.NamedStmt", variantPlan))

	baseType, ok := tr.Transform(DefaultLoader, "db.Stmt", &TypeDescriptor{Methods: methods(family...)})
	require.True(t, ok)
	variantType, ok := tr.Transform(DefaultLoader, "db.NamedStmt", &TypeDescriptor{
		Base:    "db.Stmt",
		Methods: methods(special...),
	})
	require.True(t, ok)
	assert.Same(t, baseType, variantType.Base())

	variant := &target{}
	variant.inst = variantType.NewInstance(variant)
	for _, m := range family {
		log.reset()
		_, err := variant.call(context.Background(), m)
		require.NoError(t, err)
		assert.Equal(t, []string{"bind.before:" + m, "bind.after:" + m}, log.snapshot(), "method %s", m)
		assert.Len(t, variantType.Sites(m), 1)
	}

	for _, m := range special {
		assert.Empty(t, baseType.Sites(m))
	}
}

func TestVariantBeforeBase(t *testing.T) {
	bindSession(t)
	log := &callLog{}
	tr := quietTransformer()
	info := NewAccessor[string]("info")

	require.NoError(t, tr.RegisterTransform("db.Stmt", NewPlan().
		AddSlot(info, func() any { return "base" }).
		Attach(Attachment{Filter: Names("Exec"), Interceptor: log.descriptor("exec")})))
	require.NoError(t, tr.RegisterTransform("db.NamedStmt", NewPlan().
		Attach(Attachment{Filter: Names("BindNamed"), Interceptor: log.descriptor("bind")})))

	variantDesc := &TypeDescriptor{Base: "db.Stmt", Methods: methods("BindNamed")}
	typ, ok := tr.Transform(DefaultLoader, "db.NamedStmt", variantDesc)
	assert.False(t, ok)
	assert.Nil(t, typ)
	_, cached := tr.Lookup(DefaultLoader, "db.NamedStmt")
	assert.False(t, cached)

	_, ok = tr.Transform(DefaultLoader, "db.Stmt", &TypeDescriptor{Methods: methods("Exec")})
	require.True(t, ok)

	variantType, ok := tr.Transform(DefaultLoader, "db.NamedStmt", variantDesc)
	require.True(t, ok)
	assert.True(t, variantType.HasSlot("info"))
	assert.Len(t, variantType.Sites("Exec"), 1)

	obj := &target{}
	obj.inst = variantType.NewInstance(obj)
	v, ok := info.Get(obj)
	require.True(t, ok)
	assert.Equal(t, "base", v)

	_, err := obj.call(context.Background(), "Exec")
	require.NoError(t, err)
	assert.Equal(t, []string{"exec.before:Exec", "exec.after:Exec"}, log.snapshot())

	t.Run("Base without a plan", func(t *testing.T) {
		require.NoError(t, tr.RegisterTransform("db.LooseStmt", NewPlan().
			Attach(Attachment{Filter: Names("BindNamed"), Interceptor: log.descriptor("bind")})))
		loose, ok := tr.Transform(DefaultLoader, "db.LooseStmt", &TypeDescriptor{Base: "db.Plain", Methods: methods("BindNamed")})
		require.True(t, ok)
		assert.Nil(t, loose.Base())
	})
}

func TestGroupedPolicyNone(t *testing.T) {
	bindSession(t)
	log := &callLog{}
	tr := quietTransformer()

	for _, name := range []string{"db.Outer", "db.Inner"} {
		require.NoError(t, tr.RegisterTransform(name, NewPlan().Attach(Attachment{
			Filter:      Names("Outer", "Inner"),
			Interceptor: log.descriptor("none"),
			Group:       "g",
			Policy:      interceptors.PolicyNone,
		})))
	}
	outerType, ok := tr.Transform(DefaultLoader, "db.Outer", &TypeDescriptor{Methods: methods("Outer")})
	require.True(t, ok)
	innerType, ok := tr.Transform(DefaultLoader, "db.Inner", &TypeDescriptor{Methods: methods("Inner")})
	require.True(t, ok)

	inner := &target{}
	inner.inst = innerType.NewInstance(inner)
	outer := &target{}
	outer.inst = outerType.NewInstance(outer)

	_, err := outer.inst.Invoke(context.Background(), "Outer", nil, func(ctx context.Context) (any, error) {
		return inner.call(ctx, "Inner")
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"none.before:Outer", "none.before:Inner", "none.after:Inner", "none.after:Outer"}, log.snapshot())
	assert.Equal(t, 0, interceptors.GroupFor("g").Depth(context.Background()))

	t.Run("Default policy is boundary", func(t *testing.T) {
		log := &callLog{}
		for _, name := range []string{"db.OuterDefault", "db.InnerDefault"} {
			require.NoError(t, tr.RegisterTransform(name, NewPlan().Attach(Attachment{
				Filter: Names("Outer", "Inner"), Interceptor: log.descriptor("boundary"), Group: "g2",
			})))
		}
		outerType, ok := tr.Transform(DefaultLoader, "db.OuterDefault", &TypeDescriptor{Methods: methods("Outer")})
		require.True(t, ok)
		innerType, ok := tr.Transform(DefaultLoader, "db.InnerDefault", &TypeDescriptor{Methods: methods("Inner")})
		require.True(t, ok)

		inner := &target{}
		inner.inst = innerType.NewInstance(inner)
		outer := &target{}
		outer.inst = outerType.NewInstance(outer)

		_, err := outer.inst.Invoke(context.Background(), "Outer", nil, func(ctx context.Context) (any, error) {
			return inner.call(ctx, "Inner")
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"boundary.before:Outer", "boundary.after:Outer"}, log.snapshot())
	})
}

func TestFilterValidation(t *testing.T) {
	family := []string{"A", "B"}

	assert.NoError(t, ExcludeMethods(family, "A").Validate())
	assert.Error(t, IncludeMethods(family, "C").Validate())
	assert.Error(t, ExcludeMethods(nil).Validate())
	assert.Error(t, Names().Validate())
	assert.Error(t, All().Validate())
	assert.Error(t, AnyOf(Names("A"), IncludeMethods(family, "Z")).Validate())

	plan := NewPlan().Attach(Attachment{
		Filter:      IncludeMethods(family, "Z"),
		Interceptor: interceptors.Descriptor{Name: "x", New: func(args ...any) (interceptors.Interceptor, error) { return nil, nil }},
	})
	assert.Error(t, plan.Validate())

	accept := All(Prefix("Set"), Not(Names("SetNull")))
	assert.True(t, accept.Accept(Method{Name: "SetInt"}))
	assert.False(t, accept.Accept(Method{Name: "SetNull"}))
	assert.False(t, accept.Accept(Method{Name: "Close"}))
}

func TestSlots(t *testing.T) {
	bindSession(t)
	tr := quietTransformer()

	bindValues := NewAccessor[*interceptors.Values]("bindValues")
	info := NewAccessor[string]("databaseInfo")
	plan := NewPlan().
		AddSlot(bindValues, func() any { return interceptors.NewValues() }).
		AddSlot(info, nil)
	require.NoError(t, tr.RegisterTransform("db.Stmt", plan))

	typ, ok := tr.Transform(DefaultLoader, "db.Stmt", &TypeDescriptor{Methods: methods("Exec")})
	require.True(t, ok)

	t.Run("Fresh instance reads the default", func(t *testing.T) {
		obj := &target{}
		obj.inst = typ.NewInstance(obj)

		values, ok := bindValues.Get(obj)
		require.True(t, ok)
		require.NotNil(t, values)
		assert.Equal(t, 0, values.Len())

		again, _ := bindValues.Get(obj)
		assert.Same(t, values, again)

		s, ok := info.Get(obj)
		assert.True(t, ok)
		assert.Equal(t, "", s)
	})

	t.Run("Instances do not share cells", func(t *testing.T) {
		a, b := &target{}, &target{}
		a.inst = typ.NewInstance(a)
		b.inst = typ.NewInstance(b)

		require.True(t, info.Set(a, "sqlite:a.db"))
		va, _ := info.Get(a)
		vb, _ := info.Get(b)
		assert.Equal(t, "sqlite:a.db", va)
		assert.Equal(t, "", vb)

		valuesA, _ := bindValues.Get(a)
		valuesB, _ := bindValues.Get(b)
		assert.NotSame(t, valuesA, valuesB)
	})

	t.Run("Write before read keeps the written value", func(t *testing.T) {
		obj := &target{}
		obj.inst = typ.NewInstance(obj)
		custom := interceptors.NewValues()
		custom.Set("1", "x")

		bindValues.Set(obj, custom)
		got, _ := bindValues.Get(obj)
		assert.Same(t, custom, got)
	})

	t.Run("Targets without the slot", func(t *testing.T) {
		_, ok := info.Get("not augmented")
		assert.False(t, ok)
		assert.False(t, info.Set(&target{}, "x"))
		_, ok = NewAccessor[int]("unknown").Get(&target{inst: typ.NewInstance(nil)})
		assert.False(t, ok)
	})

	t.Run("Concurrent access", func(t *testing.T) {
		obj := &target{}
		obj.inst = typ.NewInstance(obj)

		var wg sync.WaitGroup
		seen := make([]*interceptors.Values, 32)
		for i := range seen {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				seen[i], _ = bindValues.Get(obj)
				seen[i].Set("k", i)
				_ = info.Set(obj, "db")
			}(i)
		}
		wg.Wait()

		for _, v := range seen {
			assert.Same(t, seen[0], v)
		}
		assert.Equal(t, 1, seen[0].Len())
	})
}

func TestSetupFailures(t *testing.T) {
	t.Run("Slot collision is rejected at registration", func(t *testing.T) {
		tr := quietTransformer()
		plan := NewPlan().
			AddSlot(NewAccessor[string]("dup"), nil).
			AddSlot(NewAccessor[int]("dup"), nil)

		err := tr.RegisterTransform("db.Conn", plan)
		var collision *contracts.SlotCollisionError
		require.ErrorAs(t, err, &collision)
		assert.Equal(t, "dup", collision.Slot)
	})

	t.Run("Slot collision with the base leaves the variant unchanged", func(t *testing.T) {
		bindSession(t)
		tr := quietTransformer()
		require.NoError(t, tr.RegisterTransform("db.Base", NewPlan().AddSlot(NewAccessor[string]("info"), nil)))
		require.NoError(t, tr.RegisterTransform("db.Variant", NewPlan().AddSlot(NewAccessor[string]("info"), nil)))

		_, ok := tr.Transform(DefaultLoader, "db.Base", &TypeDescriptor{})
		require.True(t, ok)
		_, ok = tr.Transform(DefaultLoader, "db.Variant", &TypeDescriptor{Base: "db.Base"})
		assert.False(t, ok)
	})

	t.Run("Constructor failure rolls back and leaves the type unchanged", func(t *testing.T) {
		session := bindSession(t)
		var logs bytes.Buffer
		tr := NewTransformer(WithTransformerLogger(slog.New(slog.NewTextHandler(&logs, nil))))
		log := &callLog{}

		failing := interceptors.Descriptor{Name: "failing", New: func(args ...any) (interceptors.Interceptor, error) {
			return nil, errors.New("missing parser")
		}}
		plan := NewPlan().
			Attach(Attachment{Filter: Names("Open"), Interceptor: log.descriptor("ok")}).
			Attach(Attachment{Filter: Names("Open"), Interceptor: failing})
		require.NoError(t, tr.RegisterTransform("db.Driver", plan))

		typ, ok := tr.Transform(DefaultLoader, "db.Driver", &TypeDescriptor{Methods: methods("Open")})
		assert.False(t, ok)
		assert.Nil(t, typ)
		assert.Equal(t, 0, session.Adaptor().Len())
		assert.Contains(t, logs.String(), "missing parser")

		obj := &target{inst: typ.NewInstance(nil)}
		res, err := obj.call(context.Background(), "Open")
		require.NoError(t, err)
		assert.Equal(t, "Open", res)
	})

	t.Run("Duplicate plan for one name", func(t *testing.T) {
		tr := quietTransformer()
		plan := NewPlan().AddSlot(NewAccessor[string]("info"), nil)
		require.NoError(t, tr.RegisterTransform("db.Conn", plan))
		assert.ErrorIs(t, tr.RegisterTransform("db.Conn", plan), contracts.ErrDuplicateTarget)
		assert.ErrorIs(t, tr.RegisterTransform("db.Other", NewPlan()), contracts.ErrEmptyPlan)
	})

	t.Run("Unbound registry leaves types unchanged until bind", func(t *testing.T) {
		tr := quietTransformer()
		require.NoError(t, tr.RegisterTransform("db.Conn", NewPlan().AddSlot(NewAccessor[string]("info"), nil)))

		_, ok := tr.Transform(DefaultLoader, "db.Conn", &TypeDescriptor{})
		assert.False(t, ok)

		bindSession(t)
		_, ok = tr.Transform(DefaultLoader, "db.Conn", &TypeDescriptor{})
		assert.True(t, ok)
	})
}

func TestSharedGroupAcrossTypes(t *testing.T) {
	bindSession(t)
	log := &callLog{}
	tr := quietTransformer()

	require.NoError(t, tr.RegisterTransform("db.Driver", NewPlan().Attach(Attachment{
		Filter: Names("Connect"), Interceptor: log.descriptor("connect"), Group: "db",
	})))
	require.NoError(t, tr.RegisterTransform("db.Conn", NewPlan().Attach(Attachment{
		Filter: Names("CreateStatement"), Interceptor: log.descriptor("createStatement"), Group: "db",
	})))

	driverType, ok := tr.Transform(DefaultLoader, "db.Driver", &TypeDescriptor{Methods: methods("Connect")})
	require.True(t, ok)
	connType, ok := tr.Transform(DefaultLoader, "db.Conn", &TypeDescriptor{Methods: methods("CreateStatement")})
	require.True(t, ok)

	conn := &target{}
	conn.inst = connType.NewInstance(conn)
	driver := &target{}
	driver.inst = driverType.NewInstance(driver)

	_, err := driver.inst.Invoke(context.Background(), "Connect", nil, func(ctx context.Context) (any, error) {
		return conn.call(ctx, "CreateStatement")
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"connect.before:Connect", "connect.after:Connect"}, log.snapshot())

	log.reset()
	_, err = conn.call(context.Background(), "CreateStatement")
	require.NoError(t, err)
	assert.Equal(t, []string{"createStatement.before:CreateStatement", "createStatement.after:CreateStatement"}, log.snapshot())
}

func TestUnboundSessionMakesTypesInert(t *testing.T) {
	session := registry.NewSession()
	require.NoError(t, session.Bind())
	log := &callLog{}
	tr := quietTransformer()

	require.NoError(t, tr.RegisterTransform("db.Conn", NewPlan().Attach(Attachment{
		Filter: Names("Close"), Interceptor: log.descriptor("close"),
	})))
	typ, ok := tr.Transform(DefaultLoader, "db.Conn", &TypeDescriptor{Methods: methods("Close")})
	require.True(t, ok)
	require.NoError(t, session.Unbind())

	next := bindSession(t)
	_, err := next.Adaptor().Register(interceptors.NewInterceptorFunc("intruder", func(ctx context.Context, inv *interceptors.Invocation) {
		t.Error("stale id dispatched into a new session")
	}, nil))
	require.NoError(t, err)

	obj := &target{}
	obj.inst = typ.NewInstance(obj)
	res, err := obj.call(context.Background(), "Close")
	require.NoError(t, err)
	assert.Equal(t, "Close", res)
	assert.Empty(t, log.snapshot())
}

func TestDescribe(t *testing.T) {
	d := Describe(&bytes.Buffer{})
	assert.Equal(t, "*bytes.Buffer", d.Name)
	assert.False(t, d.Abstract)
	assert.True(t, d.Declares("WriteString"))

	for _, m := range d.Methods {
		if m.Name == "WriteString" {
			assert.Equal(t, "(string) (int, error)", m.Signature)
		}
	}

	assert.True(t, Describe(nil).Abstract)
	assert.Equal(t, "*bytes.Buffer", TypeName(&bytes.Buffer{}))

	extended := d.WithMethods(Method{Name: "BindInt64"}, Method{Name: "WriteString"})
	assert.True(t, extended.Declares("BindInt64"))
	assert.Len(t, extended.Methods, len(d.Methods)+1)
	assert.False(t, d.Declares("BindInt64"))
}

func TestAttachIf(t *testing.T) {
	log := &callLog{}
	plan := NewPlan().
		AttachIf(false, Attachment{Filter: Names("Begin"), Interceptor: log.descriptor("begin")}).
		AttachIf(true, Attachment{Filter: Names("Commit"), Interceptor: log.descriptor("commit")})

	require.Len(t, plan.Attachments(), 1)
	assert.Equal(t, "commit", plan.Attachments()[0].Interceptor.Name)
	assert.Empty(t, plan.Slots())
	assert.NoError(t, plan.Validate())

	assert.ErrorIs(t, NewPlan().AttachIf(false, Attachment{}).Validate(), contracts.ErrEmptyPlan)
}
