package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the part of *amqp.Channel the publisher uses
type Channel interface {
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	NotifyReturn(c chan amqp.Return) chan amqp.Return
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Close() error
}

// ChannelOpener supplies channels, normally ConnectionManager.Channel
type ChannelOpener func() (Channel, error)

// Publisher publishes batches on one confirm-mode channel. A channel that
// failed is dropped and reopened on the next publish.
type Publisher struct {
	open           ChannelOpener
	confirmTimeout time.Duration
	window         int
	mandatory      bool
	logger         *slog.Logger

	mu       sync.Mutex
	ch       Channel
	confirms chan amqp.Confirmation
	returns  chan amqp.Return
	closed   bool
}

// PublisherOption configures the publisher
type PublisherOption func(*Publisher)

// WithConfirmTimeout sets how long to wait for broker confirms
func WithConfirmTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		if timeout > 0 {
			p.confirmTimeout = timeout
		}
	}
}

// WithConfirmWindow sets how many messages may await confirmation at once
func WithConfirmWindow(window int) PublisherOption {
	return func(p *Publisher) {
		if window > 0 {
			p.window = window
		}
	}
}

// WithMandatory publishes with the mandatory flag, failing unroutable messages
func WithMandatory(mandatory bool) PublisherOption {
	return func(p *Publisher) {
		p.mandatory = mandatory
	}
}

// WithPublisherLogger sets the logger
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPublisher creates a publisher that opens channels with open
func NewPublisher(open ChannelOpener, options ...PublisherOption) *Publisher {
	p := &Publisher{
		open:           open,
		confirmTimeout: 5 * time.Second,
		window:         256,
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// DeclareExchange declares a durable exchange
func (p *Publisher) DeclareExchange(name, kind string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(name, kind, true, false, false, false, nil); err != nil {
		p.reset()
		return &ChannelError{Op: "declare exchange " + name, Err: err, Timestamp: time.Now()}
	}
	return nil
}

// Publish publishes msgs and waits until the broker confirmed all of them
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, msgs ...amqp.Publishing) error {
	if len(msgs) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return &PublishError{Exchange: exchange, RoutingKey: routingKey, Count: len(msgs), Err: err, Timestamp: time.Now()}
	}

	for start := 0; start < len(msgs); start += p.window {
		end := start + p.window
		if end > len(msgs) {
			end = len(msgs)
		}
		if err := p.publishWindow(ctx, ch, exchange, routingKey, msgs[start:end]); err != nil {
			p.reset()
			return &PublishError{Exchange: exchange, RoutingKey: routingKey, Count: len(msgs), Err: err, Timestamp: time.Now()}
		}
	}

	return nil
}

func (p *Publisher) publishWindow(ctx context.Context, ch Channel, exchange, routingKey string, msgs []amqp.Publishing) error {
	for i, msg := range msgs {
		if err := ch.PublishWithContext(ctx, exchange, routingKey, p.mandatory, false, msg); err != nil {
			return fmt.Errorf("failed to publish message %d: %w", i, err)
		}
	}

	timer := time.NewTimer(p.confirmTimeout)
	defer timer.Stop()

	for confirmed := 0; confirmed < len(msgs); {
		select {
		case confirm, ok := <-p.confirms:
			if !ok {
				return ErrPublishNotConfirmed
			}
			if !confirm.Ack {
				return fmt.Errorf("%w: delivery %d nacked", ErrPublishNotConfirmed, confirm.DeliveryTag)
			}
			confirmed++

		case ret := <-p.returns:
			return fmt.Errorf("%w: %s", ErrMandatoryFailed, ret.ReplyText)

		case <-timer.C:
			return fmt.Errorf("%w: confirmed %d/%d", ErrPublishTimeout, confirmed, len(msgs))

		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// channel must be called with mu held
func (p *Publisher) channel() (Channel, error) {
	if p.closed {
		return nil, ErrPublisherClosed
	}
	if p.ch != nil {
		return p.ch, nil
	}

	ch, err := p.open()
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, &ChannelError{Op: "enable confirms", Err: err, Timestamp: time.Now()}
	}

	p.ch = ch
	p.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, p.window))
	p.returns = ch.NotifyReturn(make(chan amqp.Return, p.window))
	return ch, nil
}

// reset must be called with mu held
func (p *Publisher) reset() {
	if p.ch == nil {
		return
	}
	if err := p.ch.Close(); err != nil {
		p.logger.Debug("failed to close publisher channel", "error", err)
	}
	p.ch = nil
	p.confirms = nil
	p.returns = nil
}

// Close closes the channel
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	p.reset()
	return nil
}
