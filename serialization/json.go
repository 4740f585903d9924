package serialization

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/glimte/hookmate/contracts"
)

// Envelope is the wire form of one event
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// JSONSerializer encodes events as JSON envelopes
type JSONSerializer struct {
	registry    *EventRegistry
	prettyPrint bool
}

// JSONSerializerOption configures the JSON serializer
type JSONSerializerOption func(*JSONSerializer)

// WithEventRegistry sets the registry used for decoding
func WithEventRegistry(registry *EventRegistry) JSONSerializerOption {
	return func(s *JSONSerializer) {
		if registry != nil {
			s.registry = registry
		}
	}
}

// WithPrettyPrint enables indented output
func WithPrettyPrint(pretty bool) JSONSerializerOption {
	return func(s *JSONSerializer) {
		s.prettyPrint = pretty
	}
}

// NewJSONSerializer creates a new JSON serializer
func NewJSONSerializer(opts ...JSONSerializerOption) *JSONSerializer {
	s := &JSONSerializer{registry: NewEventRegistry()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ContentType returns the MIME type of serialized events
func (s *JSONSerializer) ContentType() string {
	return "application/json"
}

// Payload encodes the event body without the envelope
func (s *JSONSerializer) Payload(event contracts.Event) ([]byte, error) {
	if event == nil {
		return nil, fmt.Errorf("event cannot be nil")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", event.GetType(), err)
	}
	return payload, nil
}

// Serialize encodes the event in an envelope
func (s *JSONSerializer) Serialize(event contracts.Event) ([]byte, error) {
	payload, err := s.Payload(event)
	if err != nil {
		return nil, err
	}

	env := Envelope{
		Type:      event.GetType(),
		ID:        event.GetID(),
		Timestamp: event.GetTimestamp(),
		Payload:   payload,
	}
	if s.prettyPrint {
		return json.MarshalIndent(env, "", "  ")
	}
	return json.Marshal(env)
}

// Deserialize decodes an envelope into the registered event type
func (s *JSONSerializer) Deserialize(data []byte) (contracts.Event, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("data cannot be empty")
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return s.Decode(env.Type, env.Payload)
}

// Decode decodes a bare payload of the named type
func (s *JSONSerializer) Decode(typeName string, payload []byte) (contracts.Event, error) {
	event, err := s.registry.New(typeName)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into type %s: %w", typeName, err)
	}
	return event, nil
}
