package recorder

import (
	"context"
	"sync"

	"github.com/glimte/hookmate/contracts"
)

// Memory keeps every recorded event in memory. It is both a Recorder and a Sink.
type Memory struct {
	mu     sync.Mutex
	events []contracts.Event
	closed bool
}

// NewMemory creates an empty memory recorder
func NewMemory() *Memory {
	return &Memory{}
}

// Record implements contracts.Recorder
func (m *Memory) Record(event contracts.Event) {
	if event == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

// Write implements contracts.Sink
func (m *Memory) Write(ctx context.Context, events []contracts.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

// Close implements contracts.Sink
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called
func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Events returns a copy of the recorded events
func (m *Memory) Events() []contracts.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]contracts.Event(nil), m.events...)
}

// Len returns the number of recorded events
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// Reset discards all recorded events
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}

// Fanout forwards each event to every recorder
type Fanout []contracts.Recorder

// Record implements contracts.Recorder
func (f Fanout) Record(event contracts.Event) {
	for _, r := range f {
		if r != nil {
			r.Record(event)
		}
	}
}

// Discard drops every event
var Discard contracts.Recorder = contracts.RecorderFunc(func(contracts.Event) {})
