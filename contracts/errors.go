package contracts

import (
	"errors"
	"fmt"
)

var (
	// Registry errors
	ErrNotBound           = errors.New("registry: no adaptor bound")
	ErrInvalidBinding     = errors.New("registry: adaptor and token are required")
	ErrInvalidInterceptor = errors.New("registry: interceptor is nil")

	// Plan errors
	ErrEmptyPlan         = errors.New("plan: no slots or attachments")
	ErrMissingFilter     = errors.New("plan: attachment has no method filter")
	ErrMissingFactory    = errors.New("plan: attachment has no interceptor constructor")
	ErrInvalidPolicy     = errors.New("plan: invalid execution policy")
	ErrDuplicateTarget   = errors.New("transformer: target already has a plan")
	ErrNotInstrumentable = errors.New("transformer: type is not instrumentable")
	ErrBasePending       = errors.New("transformer: base type not transformed yet")
)

// AlreadyBoundError is returned when binding while another session holds the registry
type AlreadyBoundError struct {
	Session string
}

func (e *AlreadyBoundError) Error() string {
	return fmt.Sprintf("registry: already bound to session %s", e.Session)
}

// AuthorizationError is returned when unbinding with a token that does not own the binding
type AuthorizationError struct {
	Op      string
	Session string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("registry: %s rejected, token does not own session %s", e.Op, e.Session)
}

// SlotCollisionError reports two slots with the same name on one type
type SlotCollisionError struct {
	Type string
	Slot string
}

func (e *SlotCollisionError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("plan: slot %q declared twice", e.Slot)
	}
	return fmt.Sprintf("plan: slot %q declared twice on %s", e.Slot, e.Type)
}

// InstallError represents a failure to augment a type
type InstallError struct {
	Type   string
	Method string
	Op     string
	Err    error
}

func (e *InstallError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("transformer: %s failed for %s.%s: %v", e.Op, e.Type, e.Method, e.Err)
	}
	return fmt.Sprintf("transformer: %s failed for %s: %v", e.Op, e.Type, e.Err)
}

func (e *InstallError) Unwrap() error {
	return e.Err
}

// ArgumentError reports a constructor argument that is missing or of the wrong type
type ArgumentError struct {
	Index    int
	Expected string
	Got      any
}

func (e *ArgumentError) Error() string {
	if e.Got == nil {
		return fmt.Sprintf("interceptor argument %d: expected %s, got nothing", e.Index, e.Expected)
	}
	return fmt.Sprintf("interceptor argument %d: expected %s, got %T", e.Index, e.Expected, e.Got)
}
