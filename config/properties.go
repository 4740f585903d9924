package config

import (
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Properties is the read-only configuration surface plugins see. Every read
// names its default; unset keys and unparsable values yield that default.
type Properties interface {
	ReadString(key, defaultValue string) string
	ReadBool(key string, defaultValue bool) bool
	ReadInt(key string, defaultValue int) int
	ReadDuration(key string, defaultValue time.Duration) time.Duration
}

// Source is a flat key/value configuration with dotted keys
type Source struct {
	values    map[string]string
	envPrefix string
	logger    *slog.Logger
}

// SourceOption configures a source
type SourceOption func(*Source)

// WithLogger sets the logger used for fallback warnings
func WithLogger(logger *slog.Logger) SourceOption {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEnvironment lets environment variables override keys. The key
// "profiler.jdbc.maxsqlbindvaluesize" with prefix "HOOKMATE_" is read from
// HOOKMATE_PROFILER_JDBC_MAXSQLBINDVALUESIZE.
func WithEnvironment(prefix string) SourceOption {
	return func(s *Source) {
		s.envPrefix = prefix
	}
}

// New creates a source from a map of values
func New(values map[string]string, options ...SourceOption) *Source {
	s := &Source{
		values: make(map[string]string, len(values)),
		logger: slog.Default(),
	}
	for k, v := range values {
		s.values[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// Empty returns a source where every read yields its default
func Empty() *Source {
	return New(nil)
}

// EnvName returns the environment variable that overrides key
func EnvName(prefix, key string) string {
	return prefix + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

// Lookup returns the raw value of key
func (s *Source) Lookup(key string) (string, bool) {
	if s.envPrefix != "" {
		if v, ok := os.LookupEnv(EnvName(s.envPrefix, key)); ok {
			return strings.TrimSpace(v), true
		}
	}
	v, ok := s.values[key]
	return v, ok
}

// ReadString implements Properties
func (s *Source) ReadString(key, defaultValue string) string {
	v, ok := s.Lookup(key)
	if !ok {
		return defaultValue
	}
	return v
}

// ReadBool implements Properties
func (s *Source) ReadBool(key string, defaultValue bool) bool {
	v, ok := s.Lookup(key)
	if !ok || v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		s.fallback(key, v, defaultValue, err)
		return defaultValue
	}
	return b
}

// ReadInt implements Properties
func (s *Source) ReadInt(key string, defaultValue int) int {
	v, ok := s.Lookup(key)
	if !ok || v == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		s.fallback(key, v, defaultValue, err)
		return defaultValue
	}
	return i
}

// ReadDuration implements Properties. Bare integers are milliseconds.
func (s *Source) ReadDuration(key string, defaultValue time.Duration) time.Duration {
	v, ok := s.Lookup(key)
	if !ok || v == "" {
		return defaultValue
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		s.fallback(key, v, defaultValue, err)
		return defaultValue
	}
	return d
}

func (s *Source) fallback(key, value string, defaultValue any, err error) {
	s.logger.Warn("invalid configuration value, using default",
		"key", key,
		"value", value,
		"default", defaultValue,
		"error", err,
	)
}

// Keys returns all keys in lexical order
func (s *Source) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge returns a source holding s overlaid with others, later sources winning
func (s *Source) Merge(others ...*Source) *Source {
	merged := New(s.values, WithLogger(s.logger), WithEnvironment(s.envPrefix))
	for _, o := range others {
		if o == nil {
			continue
		}
		for k, v := range o.values {
			merged.values[k] = v
		}
		if o.envPrefix != "" {
			merged.envPrefix = o.envPrefix
		}
	}
	return merged
}
