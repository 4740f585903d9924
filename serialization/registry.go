package serialization

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/glimte/hookmate/contracts"
)

// EventRegistry maps event type names to Go types for decoding
type EventRegistry struct {
	types map[string]reflect.Type
	mu    sync.RWMutex
}

// NewEventRegistry creates a registry that knows the built-in event types
func NewEventRegistry() *EventRegistry {
	r := &EventRegistry{types: make(map[string]reflect.Type)}
	_ = r.Register("SpanEvent", &contracts.SpanEvent{})
	_ = r.Register("DatabaseEvent", &contracts.DatabaseEvent{})
	return r
}

// Register associates typeName with the struct type of sample
func (r *EventRegistry) Register(typeName string, sample contracts.Event) error {
	if typeName == "" {
		return fmt.Errorf("type name cannot be empty")
	}
	if sample == nil {
		return fmt.Errorf("event type cannot be nil")
	}

	t := reflect.TypeOf(sample)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return fmt.Errorf("event type must be a struct, got %v", t.Kind())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.types[typeName]; exists && existing != t {
		return fmt.Errorf("type name %s already registered to %v", typeName, existing)
	}
	r.types[typeName] = t
	return nil
}

// New returns a pointer to a fresh value of the registered type
func (r *EventRegistry) New(typeName string) (contracts.Event, error) {
	r.mu.RLock()
	t, exists := r.types[typeName]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("event type %s not registered", typeName)
	}

	event, ok := reflect.New(t).Interface().(contracts.Event)
	if !ok {
		return nil, fmt.Errorf("type %s does not implement Event", typeName)
	}
	return event, nil
}

// IsRegistered checks if a type is registered
func (r *EventRegistry) IsRegistered(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.types[typeName]
	return exists
}

// Types returns the registered type names in order
func (r *EventRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
