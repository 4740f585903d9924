package contracts

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is the base interface for all captured data
type Event interface {
	GetID() string
	GetTimestamp() time.Time
	GetType() string
}

// Recorder receives events from hooks. Record must not block the caller.
type Recorder interface {
	Record(event Event)
}

// RecorderFunc is a function adapter for Recorder
type RecorderFunc func(event Event)

// Record implements Recorder
func (f RecorderFunc) Record(event Event) {
	f(event)
}

// Sink consumes batches of events on behalf of an asynchronous recorder
type Sink interface {
	Write(ctx context.Context, events []Event) error
	Close() error
}

// BaseEvent provides common fields for all event types
type BaseEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
}

// NewBaseEvent creates a new base event with generated ID and current timestamp
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
	}
}

// GetID returns the event ID
func (e BaseEvent) GetID() string {
	return e.ID
}

// GetTimestamp returns the event timestamp
func (e BaseEvent) GetTimestamp() time.Time {
	return e.Timestamp
}

// GetType returns the event type
func (e BaseEvent) GetType() string {
	return e.Type
}

// SpanEvent describes one observed call
type SpanEvent struct {
	BaseEvent
	Operation  string            `json:"operation"`
	Target     string            `json:"target"`
	Method     string            `json:"method"`
	Duration   time.Duration     `json:"duration"`
	Error      string            `json:"error,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// NewSpanEvent creates a span event for a call on target
func NewSpanEvent(operation, target, method string) *SpanEvent {
	return &SpanEvent{
		BaseEvent: NewBaseEvent("SpanEvent"),
		Operation: operation,
		Target:    target,
		Method:    method,
	}
}

// SetError records the outcome of the observed call
func (e *SpanEvent) SetError(err error) {
	if err != nil {
		e.Error = err.Error()
	}
}

// SetAttribute adds a free-form attribute
func (e *SpanEvent) SetAttribute(key, value string) {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
}

// Failed reports whether the observed call returned an error
func (e *SpanEvent) Failed() bool {
	return e.Error != ""
}

// DatabaseEvent is a span on a database resource
type DatabaseEvent struct {
	SpanEvent
	DatabaseType string `json:"databaseType"`
	DatabaseID   string `json:"databaseId,omitempty"`
	URL          string `json:"url,omitempty"`
	SQL          string `json:"sql,omitempty"`
	BindValues   string `json:"bindValues,omitempty"`
}

// NewDatabaseEvent creates a database event for a call on target
func NewDatabaseEvent(operation, target, method string) *DatabaseEvent {
	e := &DatabaseEvent{SpanEvent: *NewSpanEvent(operation, target, method)}
	e.Type = "DatabaseEvent"
	return e
}
