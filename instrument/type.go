package instrument

import (
	"context"

	"github.com/glimte/hookmate/interceptors"
	"github.com/glimte/hookmate/registry"
)

// Type is the augmented representation of a target type: its slot layout and
// the registry ids stored at each method call site.
type Type struct {
	desc       *TypeDescriptor
	base       *Type
	slots      map[string]int
	inits      []func() any
	sites      map[string][]int
	adaptor    *registry.Adaptor
	dispatcher *interceptors.Dispatcher
}

// Name returns the stable type name
func (t *Type) Name() string {
	return t.desc.Name
}

// Descriptor returns the descriptor the type was built from
func (t *Type) Descriptor() *TypeDescriptor {
	return t.desc
}

// Base returns the augmented base type, or nil
func (t *Type) Base() *Type {
	return t.base
}

// HasSlot reports whether instances carry the named slot
func (t *Type) HasSlot(name string) bool {
	_, ok := t.slots[name]
	return ok
}

// Sites returns the registry ids hooked on method. Methods the type does not
// declare resolve to the base type's call sites.
func (t *Type) Sites(method string) []int {
	ids, _ := t.resolve(method)
	return ids
}

func (t *Type) resolve(method string) ([]int, *Type) {
	for cur := t; cur != nil; cur = cur.base {
		if cur.desc.Declares(method) {
			return cur.sites[method], cur
		}
	}
	return nil, nil
}

// NewInstance creates the per-object state for self. A nil type yields a
// pass-through instance.
func (t *Type) NewInstance(self any) *Instance {
	if t == nil {
		return nil
	}
	inst := &Instance{
		typ:   t,
		self:  self,
		cells: make([]cell, len(t.inits)),
	}
	for i, init := range t.inits {
		inst.cells[i].init = init
	}
	return inst
}

// Instance holds the slots of one augmented object and routes its calls
type Instance struct {
	typ   *Type
	self  any
	cells []cell
}

// Type returns the instance's augmented type
func (i *Instance) Type() *Type {
	if i == nil {
		return nil
	}
	return i.typ
}

func (i *Instance) cell(name string) *cell {
	idx, ok := i.typ.slots[name]
	if !ok {
		return nil
	}
	return &i.cells[idx]
}

// Invoke performs call under the hooks attached to method. Calls on a nil
// instance, on unhooked methods, or after the owning session was unbound go
// straight to call.
func (i *Instance) Invoke(ctx context.Context, method string, args []any, call interceptors.CallFunc) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if i == nil || i.typ == nil {
		return call(ctx)
	}

	ids, owner := i.typ.resolve(method)
	if len(ids) == 0 {
		return call(ctx)
	}

	adaptor := registry.Bound()
	if adaptor == nil || adaptor != owner.adaptor {
		return call(ctx)
	}

	hooks := make([]interceptors.Interceptor, 0, len(ids))
	for _, id := range ids {
		if interceptor, ok := adaptor.Find(id); ok {
			hooks = append(hooks, interceptor)
		}
	}

	inv := interceptors.NewInvocation(i.self, i.typ.Name(), method, args)
	return i.typ.dispatcher.Execute(ctx, hooks, inv, call)
}
