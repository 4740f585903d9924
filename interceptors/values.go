package interceptors

import (
	"sort"
	"sync"
)

// Values is a concurrency-safe associative container. Interceptors use it as
// the default value of slots that accumulate state across calls.
type Values struct {
	values map[string]any
	mu     sync.RWMutex
}

// NewValues creates an empty container
func NewValues() *Values {
	return &Values{
		values: make(map[string]any),
	}
}

// Set stores a value
func (v *Values) Set(key string, value any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.values[key] = value
}

// Get retrieves a value
func (v *Values) Get(key string) (any, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	value, exists := v.values[key]
	return value, exists
}

// GetString retrieves a string value
func (v *Values) GetString(key string) (string, bool) {
	value, exists := v.Get(key)
	if !exists {
		return "", false
	}
	str, ok := value.(string)
	return str, ok
}

// Delete removes a value
func (v *Values) Delete(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.values, key)
}

// Clear removes all values
func (v *Values) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.values = make(map[string]any)
}

// Len returns the number of stored values
func (v *Values) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.values)
}

// Keys returns the stored keys in lexical order
func (v *Values) Keys() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	keys := make([]string, 0, len(v.values))
	for k := range v.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a copy of the stored values
func (v *Values) Snapshot() map[string]any {
	v.mu.RLock()
	defer v.mu.RUnlock()

	snapshot := make(map[string]any, len(v.values))
	for k, val := range v.values {
		snapshot[k] = val
	}
	return snapshot
}

// Drain returns the stored values and clears the container in one step
func (v *Values) Drain() map[string]any {
	v.mu.Lock()
	defer v.mu.Unlock()

	drained := v.values
	v.values = make(map[string]any)
	return drained
}
