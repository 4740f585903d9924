package instrument

import (
	"sync"
)

// SlotKey names a slot in a plan
type SlotKey interface {
	SlotName() string
}

// Augmented is implemented by objects that carry slots
type Augmented interface {
	Instance() *Instance
}

// Accessor is the typed capability to read and write one slot. Code without
// the accessor has no way to reach the slot's storage.
type Accessor[T any] struct {
	name string
}

// NewAccessor creates an accessor for the named slot
func NewAccessor[T any](name string) *Accessor[T] {
	return &Accessor[T]{name: name}
}

// SlotName implements SlotKey
func (a *Accessor[T]) SlotName() string {
	return a.name
}

// Get reads the slot on target. The second result is false when target carries no such slot.
func (a *Accessor[T]) Get(target any) (T, bool) {
	var zero T
	c := a.cell(target)
	if c == nil {
		return zero, false
	}
	v, ok := c.get().(T)
	if !ok {
		return zero, true
	}
	return v, true
}

// Set writes the slot on target. It returns false when target carries no such slot.
func (a *Accessor[T]) Set(target any, value T) bool {
	c := a.cell(target)
	if c == nil {
		return false
	}
	c.set(value)
	return true
}

func (a *Accessor[T]) cell(target any) *cell {
	aug, ok := target.(Augmented)
	if !ok {
		return nil
	}
	inst := aug.Instance()
	if inst == nil {
		return nil
	}
	return inst.cell(a.name)
}

// slotSpec declares one slot of a plan
type slotSpec struct {
	name string
	init func() any
}

// cell is the per-instance storage of one slot
type cell struct {
	mu          sync.RWMutex
	value       any
	initialized bool
	init        func() any
}

func (c *cell) get() any {
	c.mu.RLock()
	if c.initialized {
		v := c.value
		c.mu.RUnlock()
		return v
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		if c.init != nil {
			c.value = c.init()
		}
		c.initialized = true
	}
	return c.value
}

func (c *cell) set(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
	c.initialized = true
}
