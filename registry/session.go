package registry

import (
	"log/slog"

	"github.com/rs/xid"
)

// Token proves ownership of a binding. Only the pointer identity matters.
type Token struct {
	id xid.ID
}

// NewToken creates a fresh ownership token
func NewToken() *Token {
	return &Token{id: xid.New()}
}

func (t *Token) String() string {
	if t == nil {
		return "<nil>"
	}
	return t.id.String()
}

// Session owns an adaptor and the token that binds it
type Session struct {
	adaptor *Adaptor
	token   *Token
	logger  *slog.Logger
}

// SessionOption configures a session
type SessionOption func(*Session)

// WithSessionLogger sets the session logger
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSession creates an unbound session with its own adaptor and token
func NewSession(options ...SessionOption) *Session {
	s := &Session{
		adaptor: NewAdaptor(),
		token:   NewToken(),
		logger:  slog.Default(),
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// ID returns the session identifier used in logs
func (s *Session) ID() string {
	return s.token.String()
}

// Adaptor returns the session's interceptor table
func (s *Session) Adaptor() *Adaptor {
	return s.adaptor
}

// Bind makes the session's adaptor the process-wide table
func (s *Session) Bind() error {
	if err := Bind(s.adaptor, s.token); err != nil {
		s.logger.Warn("registry bind rejected", "session", s.ID(), "error", err)
		return err
	}
	s.logger.Info("registry bound", "session", s.ID())
	return nil
}

// Unbind releases the process-wide table; every id of the session becomes invalid
func (s *Session) Unbind() error {
	if err := Unbind(s.token); err != nil {
		s.logger.Warn("registry unbind rejected", "session", s.ID(), "error", err)
		return err
	}
	s.logger.Info("registry unbound", "session", s.ID(), "interceptors", s.adaptor.Len())
	return nil
}

// IsBound reports whether this session currently holds the registry
func (s *Session) IsBound() bool {
	return Bound() == s.adaptor
}
