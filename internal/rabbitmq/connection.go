package rabbitmq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/hookmate/internal/reliability"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Dialer opens an AMQP connection
type Dialer func(url string) (*amqp.Connection, error)

// ConnectionState is reported to the state callback
type ConnectionState int

const (
	StateConnected ConnectionState = iota
	StateDisconnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// StateFunc receives connection state changes
type StateFunc func(state ConnectionState, err error)

// ConnectionManager owns the broker connection and re-dials after it drops
type ConnectionManager struct {
	url         string
	dial        Dialer
	backoff     *reliability.Backoff
	maxRetries  int
	dialTimeout time.Duration
	logger      *slog.Logger
	onState     StateFunc

	mu          sync.RWMutex
	conn        *amqp.Connection
	notifyClose chan *amqp.Error
	done        chan struct{}
	closed      bool
}

// ConnectionOption configures the ConnectionManager
type ConnectionOption func(*ConnectionManager)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		if logger != nil {
			cm.logger = logger
		}
	}
}

// WithDialer replaces amqp.Dial
func WithDialer(dial Dialer) ConnectionOption {
	return func(cm *ConnectionManager) {
		if dial != nil {
			cm.dial = dial
		}
	}
}

// WithReconnectDelay sets the first reconnection delay; later delays double
func WithReconnectDelay(delay time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.backoff = reliability.NewBackoff(delay, 5*time.Minute, 0)
	}
}

// WithMaxRetries bounds reconnection attempts; negative means unbounded
func WithMaxRetries(retries int) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.maxRetries = retries
	}
}

// WithDialTimeout bounds a single dial
func WithDialTimeout(timeout time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		if timeout > 0 {
			cm.dialTimeout = timeout
		}
	}
}

// WithStateFunc registers the state callback
func WithStateFunc(fn StateFunc) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.onState = fn
	}
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(url string, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:         url,
		dial:        amqp.Dial,
		backoff:     reliability.NewBackoff(time.Second, 5*time.Minute, 0),
		maxRetries:  -1,
		dialTimeout: 30 * time.Second,
		logger:      slog.Default(),
		done:        make(chan struct{}),
	}

	for _, opt := range options {
		opt(cm)
	}

	return cm
}

// Connect establishes the initial connection
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()

	if cm.closed {
		cm.mu.Unlock()
		return ErrConnectionClosed
	}
	if cm.conn != nil && !cm.conn.IsClosed() {
		cm.mu.Unlock()
		return nil
	}

	conn, err := cm.dialContext(ctx)
	if err != nil {
		cm.mu.Unlock()
		return &ConnectionError{Op: "connect", URL: SanitizeURL(cm.url), Err: err, Timestamp: time.Now(), Attempts: 1}
	}

	cm.attach(conn)
	notifyClose := cm.notifyClose
	cm.mu.Unlock()

	cm.logger.Info("connected to RabbitMQ", "url", SanitizeURL(cm.url))
	cm.notify(StateConnected, nil)

	go cm.handleReconnect(notifyClose)
	return nil
}

func (cm *ConnectionManager) dialContext(ctx context.Context) (*amqp.Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, cm.dialTimeout)
	defer cancel()

	type result struct {
		conn *amqp.Connection
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := cm.dial(cm.url)
		ch <- result{conn, err}
	}()

	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
		// close a connection that arrives late
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ErrConnectionTimeout
	}
}

// attach must be called with mu held
func (cm *ConnectionManager) attach(conn *amqp.Connection) {
	cm.conn = conn
	cm.notifyClose = conn.NotifyClose(make(chan *amqp.Error, 1))
}

// Connection returns the live connection
func (cm *ConnectionManager) Connection() (*amqp.Connection, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.conn == nil {
		return nil, ErrConnectionNotReady
	}
	if cm.conn.IsClosed() {
		return nil, ErrConnectionClosed
	}
	return cm.conn, nil
}

// Channel opens a channel on the live connection
func (cm *ConnectionManager) Channel() (Channel, error) {
	conn, err := cm.Connection()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, &ChannelError{Op: "open", Err: err, Timestamp: time.Now()}
	}
	return ch, nil
}

// IsConnected returns the connection status
func (cm *ConnectionManager) IsConnected() bool {
	_, err := cm.Connection()
	return err == nil
}

// Close closes the connection and stops reconnecting
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.closed {
		return nil
	}
	cm.closed = true
	close(cm.done)

	if cm.conn != nil {
		err := cm.conn.Close()
		cm.conn = nil
		return err
	}
	return nil
}

func (cm *ConnectionManager) handleReconnect(notifyClose chan *amqp.Error) {
	select {
	case err, ok := <-notifyClose:
		if !ok && err == nil {
			// graceful close
			select {
			case <-cm.done:
				return
			default:
			}
		}
		cm.logger.Error("connection closed", "error", err)

		cm.mu.Lock()
		cm.conn = nil
		cm.mu.Unlock()

		if err != nil {
			cm.notify(StateDisconnected, err)
		} else {
			cm.notify(StateDisconnected, ErrConnectionClosed)
		}
		cm.reconnect()

	case <-cm.done:
	}
}

func (cm *ConnectionManager) reconnect() {
	started := time.Now()

	for attempt := 0; ; attempt++ {
		if cm.maxRetries >= 0 && attempt >= cm.maxRetries {
			cm.logger.Error("max reconnection attempts reached", "attempts", attempt, "duration", time.Since(started))
			cm.notify(StateDisconnected, &ConnectionError{
				Op: "reconnect", URL: SanitizeURL(cm.url), Err: ErrMaxRetriesExceeded, Timestamp: time.Now(), Attempts: attempt,
			})
			return
		}

		if attempt > 0 {
			timer := time.NewTimer(cm.backoff.Delay(attempt - 1))
			select {
			case <-timer.C:
			case <-cm.done:
				timer.Stop()
				return
			}
		}

		cm.notify(StateReconnecting, nil)
		conn, err := cm.dialContext(context.Background())
		if err != nil {
			cm.logger.Error("reconnection failed", "error", err, "attempt", attempt+1)
			continue
		}

		cm.mu.Lock()
		if cm.closed {
			cm.mu.Unlock()
			conn.Close()
			return
		}
		cm.attach(conn)
		notifyClose := cm.notifyClose
		cm.mu.Unlock()

		cm.logger.Info("reconnected to RabbitMQ", "attempts", attempt+1, "duration", time.Since(started))
		cm.notify(StateConnected, nil)

		go cm.handleReconnect(notifyClose)
		return
	}
}

func (cm *ConnectionManager) notify(state ConnectionState, err error) {
	if cm.onState != nil {
		cm.onState(state, err)
	}
}
