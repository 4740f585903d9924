// Package rabbitmq provides a contracts.Sink that publishes captured events to
// a RabbitMQ topic exchange, one message per event routed by event type.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glimte/hookmate/contracts"
	"github.com/glimte/hookmate/internal/rabbitmq"
	"github.com/glimte/hookmate/serialization"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange receives events unless WithExchange is given
const DefaultExchange = "hookmate.events"

// Publisher is the subset of the confirm publisher the sink needs
type Publisher interface {
	DeclareExchange(name, kind string) error
	Publish(ctx context.Context, exchange, routingKey string, msgs ...amqp.Publishing) error
	Close() error
}

// EventPublisher publishes event batches
type EventPublisher struct {
	publisher  Publisher
	manager    *rabbitmq.ConnectionManager
	serializer *serialization.JSONSerializer
	exchange   string
	appID      string
	logger     *slog.Logger
}

// Option configures the event publisher
type Option func(*options)

type options struct {
	exchange          string
	appID             string
	logger            *slog.Logger
	connectionOptions []rabbitmq.ConnectionOption
	publisherOptions  []rabbitmq.PublisherOption
}

// WithExchange sets the topic exchange
func WithExchange(name string) Option {
	return func(o *options) {
		if name != "" {
			o.exchange = name
		}
	}
}

// WithAppID sets the AMQP app-id property
func WithAppID(id string) Option {
	return func(o *options) {
		o.appID = id
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithConnectionOptions passes options to the connection manager
func WithConnectionOptions(opts ...rabbitmq.ConnectionOption) Option {
	return func(o *options) {
		o.connectionOptions = append(o.connectionOptions, opts...)
	}
}

// WithPublisherOptions passes options to the confirm publisher
func WithPublisherOptions(opts ...rabbitmq.PublisherOption) Option {
	return func(o *options) {
		o.publisherOptions = append(o.publisherOptions, opts...)
	}
}

func buildOptions(opts []Option) options {
	o := options{
		exchange: DefaultExchange,
		appID:    "hookmate",
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Dial connects to the broker at url and declares the exchange
func Dial(ctx context.Context, url string, opts ...Option) (*EventPublisher, error) {
	o := buildOptions(opts)

	connOpts := append([]rabbitmq.ConnectionOption{rabbitmq.WithLogger(o.logger)}, o.connectionOptions...)
	manager := rabbitmq.NewConnectionManager(url, connOpts...)
	if err := manager.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	pubOpts := append([]rabbitmq.PublisherOption{rabbitmq.WithPublisherLogger(o.logger)}, o.publisherOptions...)
	publisher := rabbitmq.NewPublisher(manager.Channel, pubOpts...)

	p, err := newEventPublisher(publisher, o)
	if err != nil {
		publisher.Close()
		manager.Close()
		return nil, err
	}
	p.manager = manager
	return p, nil
}

// NewEventPublisher wraps an existing publisher and declares the exchange
func NewEventPublisher(publisher Publisher, opts ...Option) (*EventPublisher, error) {
	return newEventPublisher(publisher, buildOptions(opts))
}

func newEventPublisher(publisher Publisher, o options) (*EventPublisher, error) {
	if err := publisher.DeclareExchange(o.exchange, amqp.ExchangeTopic); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", o.exchange, err)
	}

	return &EventPublisher{
		publisher:  publisher,
		serializer: serialization.NewJSONSerializer(),
		exchange:   o.exchange,
		appID:      o.appID,
		logger:     o.logger,
	}, nil
}

// Write implements contracts.Sink. Events are grouped by routing key so that
// each group is published and confirmed together.
func (p *EventPublisher) Write(ctx context.Context, events []contracts.Event) error {
	var order []string
	groups := make(map[string][]amqp.Publishing)

	for _, event := range events {
		body, err := p.serializer.Serialize(event)
		if err != nil {
			p.logger.Warn("dropping unserializable event", "type", event.GetType(), "error", err)
			continue
		}

		key := RoutingKey(event)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], amqp.Publishing{
			ContentType:  p.serializer.ContentType(),
			DeliveryMode: amqp.Persistent,
			MessageId:    event.GetID(),
			Timestamp:    event.GetTimestamp(),
			Type:         event.GetType(),
			AppId:        p.appID,
			Body:         body,
		})
	}

	for _, key := range order {
		if err := p.publisher.Publish(ctx, p.exchange, key, groups[key]...); err != nil {
			return err
		}
	}
	return nil
}

// RoutingKey returns "<type>.<method>" for spans and the bare type otherwise
func RoutingKey(event contracts.Event) string {
	switch e := event.(type) {
	case *contracts.DatabaseEvent:
		return e.Type + "." + e.Method
	case *contracts.SpanEvent:
		return e.Type + "." + e.Method
	default:
		return event.GetType()
	}
}

// Close implements contracts.Sink
func (p *EventPublisher) Close() error {
	err := p.publisher.Close()
	if p.manager != nil {
		if cerr := p.manager.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Ping reports whether the broker connection is up
func (p *EventPublisher) Ping() error {
	if p.manager == nil || p.manager.IsConnected() {
		return nil
	}
	return rabbitmq.ErrConnectionNotReady
}
