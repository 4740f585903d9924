package interceptors

import (
	"fmt"
	"strings"
)

// ExecutionPolicy decides when a grouped interceptor fires relative to nesting depth
type ExecutionPolicy int

const (
	// PolicyDefault leaves the choice to the registry: BOUNDARY for grouped
	// interceptors
	PolicyDefault ExecutionPolicy = iota
	// PolicyNone fires on every call and takes no part in group depth
	PolicyNone
	// PolicyAlways fires on every call and counts toward group depth
	PolicyAlways
	// PolicyBoundary fires only on the outermost call of a group
	PolicyBoundary
)

func (p ExecutionPolicy) String() string {
	switch p {
	case PolicyDefault:
		return "DEFAULT"
	case PolicyNone:
		return "NONE"
	case PolicyAlways:
		return "ALWAYS"
	case PolicyBoundary:
		return "BOUNDARY"
	default:
		return fmt.Sprintf("ExecutionPolicy(%d)", int(p))
	}
}

// Valid reports whether p is a known policy
func (p ExecutionPolicy) Valid() bool {
	return p >= PolicyDefault && p <= PolicyBoundary
}

// Or returns fallback when p is PolicyDefault
func (p ExecutionPolicy) Or(fallback ExecutionPolicy) ExecutionPolicy {
	if p == PolicyDefault {
		return fallback
	}
	return p
}

// ParsePolicy parses a policy name, case-insensitively
func ParsePolicy(s string) (ExecutionPolicy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NONE":
		return PolicyNone, nil
	case "ALWAYS":
		return PolicyAlways, nil
	case "BOUNDARY":
		return PolicyBoundary, nil
	default:
		return PolicyDefault, fmt.Errorf("unknown execution policy %q", s)
	}
}
