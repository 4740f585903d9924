package instrument

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/glimte/hookmate/contracts"
	"github.com/glimte/hookmate/interceptors"
	"github.com/glimte/hookmate/registry"
)

// LoaderContext identifies the host component that surfaced a type. Types are
// augmented at most once per loader and name.
type LoaderContext struct {
	Name string
}

// DefaultLoader is used by hosts that only have one loading context
var DefaultLoader = LoaderContext{Name: "default"}

type cacheKey struct {
	loader string
	name   string
}

// Transformer applies registered plans to types as hosts surface them
type Transformer struct {
	mu    sync.RWMutex
	plans map[string]*Plan
	cache map[cacheKey]*Type

	installMu  sync.Mutex
	logger     *slog.Logger
	dispatcher *interceptors.Dispatcher
}

// TransformerOption configures the transformer
type TransformerOption func(*Transformer)

// WithTransformerLogger sets the logger
func WithTransformerLogger(logger *slog.Logger) TransformerOption {
	return func(t *Transformer) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithDispatcher sets the dispatcher used by instrumented types
func WithDispatcher(dispatcher *interceptors.Dispatcher) TransformerOption {
	return func(t *Transformer) {
		if dispatcher != nil {
			t.dispatcher = dispatcher
		}
	}
}

// NewTransformer creates a transformer without plans
func NewTransformer(options ...TransformerOption) *Transformer {
	t := &Transformer{
		plans:  make(map[string]*Plan),
		cache:  make(map[cacheKey]*Type),
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(t)
	}

	if t.dispatcher == nil {
		t.dispatcher = interceptors.NewDispatcher(interceptors.WithLogger(t.logger))
	}

	return t
}

// RegisterTransform registers plan for the named type. The same plan may be
// registered under several names; each name is augmented on its own.
func (t *Transformer) RegisterTransform(typeName string, plan *Plan) error {
	if typeName == "" {
		return fmt.Errorf("transformer: empty type name")
	}
	if plan == nil {
		return contracts.ErrEmptyPlan
	}
	if err := plan.Validate(); err != nil {
		return fmt.Errorf("transformer: plan for %s: %w", typeName, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.plans[typeName]; exists {
		return fmt.Errorf("%w: %s", contracts.ErrDuplicateTarget, typeName)
	}

	t.plans[typeName] = &Plan{
		slots:       append([]slotSpec(nil), plan.slots...),
		attachments: plan.Attachments(),
	}
	return nil
}

// HasPlan reports whether a plan is registered for the named type
func (t *Transformer) HasPlan(typeName string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.plans[typeName]
	return ok
}

// Lookup returns the cached outcome for a type
func (t *Transformer) Lookup(loader LoaderContext, typeName string) (*Type, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	typ := t.cache[cacheKey{loader: loader.Name, name: typeName}]
	return typ, typ != nil
}

// Resolve is the decorator fast path: describe is only called the first time
// a type with a plan is surfaced.
func (t *Transformer) Resolve(loader LoaderContext, typeName string, describe func() *TypeDescriptor) (*Type, bool) {
	if typ, done := t.cached(cacheKey{loader: loader.Name, name: typeName}); done {
		return typ, typ != nil
	}
	if !t.HasPlan(typeName) {
		return nil, false
	}
	return t.Transform(loader, typeName, describe())
}

// Transform augments original according to the plan registered for typeName.
// It returns false, leaving the type unchanged, when there is no plan, the
// type is abstract, no registry is bound, or installation fails. A variant
// whose base has a plan is only transformed once the base is; until then the
// outcome is not cached.
func (t *Transformer) Transform(loader LoaderContext, typeName string, original *TypeDescriptor) (*Type, bool) {
	key := cacheKey{loader: loader.Name, name: typeName}
	if typ, done := t.cached(key); done {
		return typ, typ != nil
	}

	t.installMu.Lock()
	defer t.installMu.Unlock()

	if typ, done := t.cached(key); done {
		return typ, typ != nil
	}

	typ, err := t.install(loader, typeName, original)
	switch {
	case errors.Is(err, contracts.ErrNotBound):
		t.logger.Debug("type surfaced before registry bind", "type", typeName)
		return nil, false
	case errors.Is(err, contracts.ErrBasePending):
		t.logger.Debug("variant surfaced before its base", "type", typeName, "base", original.Base)
		return nil, false
	case errors.Is(err, contracts.ErrNotInstrumentable):
		t.logger.Debug("type not instrumentable", "type", typeName)
	case err != nil:
		t.logger.Warn("type left unchanged", "type", typeName, "loader", loader.Name, "error", err)
	case typ != nil:
		t.logger.Debug("type instrumented", "type", typeName, "loader", loader.Name, "slots", len(typ.inits))
	}

	t.mu.Lock()
	t.cache[key] = typ
	t.mu.Unlock()

	return typ, typ != nil
}

func (t *Transformer) cached(key cacheKey) (*Type, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	typ, done := t.cache[key]
	return typ, done
}

func (t *Transformer) install(loader LoaderContext, typeName string, original *TypeDescriptor) (*Type, error) {
	t.mu.RLock()
	plan := t.plans[typeName]
	var (
		base        *Type
		baseDone    bool
		basePlanned bool
	)
	if original != nil && original.Base != "" {
		base, baseDone = t.cache[cacheKey{loader: loader.Name, name: original.Base}]
		_, basePlanned = t.plans[original.Base]
	}
	t.mu.RUnlock()

	if plan == nil {
		return nil, nil
	}
	if original == nil || original.Abstract {
		return nil, contracts.ErrNotInstrumentable
	}
	// variants take the base layout, so they wait for the base
	if basePlanned && !baseDone {
		return nil, fmt.Errorf("%w: %s", contracts.ErrBasePending, original.Base)
	}

	adaptor := registry.Bound()
	if adaptor == nil {
		return nil, contracts.ErrNotBound
	}

	desc := *original
	desc.Name = typeName
	typ := &Type{
		desc:       &desc,
		base:       base,
		slots:      make(map[string]int),
		sites:      make(map[string][]int),
		adaptor:    adaptor,
		dispatcher: t.dispatcher,
	}

	if base != nil {
		for name, idx := range base.slots {
			typ.slots[name] = idx
		}
		typ.inits = append(typ.inits, base.inits...)
	}

	for _, s := range plan.slots {
		if _, exists := typ.slots[s.name]; exists {
			return nil, &contracts.SlotCollisionError{Type: typeName, Slot: s.name}
		}
		typ.slots[s.name] = len(typ.inits)
		typ.inits = append(typ.inits, s.init)
	}

	var registered []int
	rollback := func() {
		for _, id := range registered {
			adaptor.Remove(id)
		}
	}

	for _, a := range plan.attachments {
		for _, m := range desc.Methods {
			if !a.Filter.Accept(m) {
				continue
			}

			interceptor, err := a.Interceptor.Build(a.Args...)
			if err != nil {
				rollback()
				return nil, &contracts.InstallError{Type: typeName, Method: m.Name, Op: "construct interceptor", Err: err}
			}

			var options []registry.RegisterOption
			if a.Group != "" {
				options = append(options, registry.WithGroup(a.Group), registry.WithPolicy(a.Policy))
			}

			id, err := adaptor.Register(interceptor, options...)
			if err != nil {
				rollback()
				return nil, &contracts.InstallError{Type: typeName, Method: m.Name, Op: "register interceptor", Err: err}
			}
			registered = append(registered, id)
			typ.sites[m.Name] = append(typ.sites[m.Name], id)
		}
	}

	return typ, nil
}
