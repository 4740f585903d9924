// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hookmate

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/glimte/hookmate/config"
	"github.com/glimte/hookmate/contracts"
	"github.com/glimte/hookmate/instrument"
	"github.com/glimte/hookmate/interceptors"
	"github.com/glimte/hookmate/recorder"
	"github.com/glimte/hookmate/registry"
)

// ErrAgentClosed is returned when starting an agent that was closed
var ErrAgentClosed = errors.New("hookmate: agent closed")

// Agent provides the main entry point: it owns the registry session, the
// transformer and the recorder, and runs plugin setup
type Agent struct {
	props       config.Properties
	logger      *slog.Logger
	recorder    contracts.Recorder
	// owned is the recorder built from WithSink; caller recorders stay open
	owned       *recorder.Async
	session     *registry.Session
	transformer *instrument.Transformer

	mu      sync.Mutex
	plugins []string
	started bool
	closed  bool
}

// agentConfig holds agent configuration
type agentConfig struct {
	logger     *slog.Logger
	props      config.Properties
	configFile string
	envPrefix  string
	recorder   contracts.Recorder
	sink       contracts.Sink
	metrics    interceptors.MetricsCollector
}

// AgentOption configures the agent
type AgentOption func(*agentConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) AgentOption {
	return func(cfg *agentConfig) {
		cfg.logger = logger
	}
}

// WithConfig sets the configuration plugins read
func WithConfig(props config.Properties) AgentOption {
	return func(cfg *agentConfig) {
		cfg.props = props
	}
}

// WithConfigFile loads configuration from a properties or YAML file.
// Unreadable files fall back to defaults.
func WithConfigFile(path string) AgentOption {
	return func(cfg *agentConfig) {
		cfg.configFile = path
	}
}

// WithEnvironment lets environment variables with prefix override file keys
func WithEnvironment(prefix string) AgentOption {
	return func(cfg *agentConfig) {
		cfg.envPrefix = prefix
	}
}

// WithRecorder sets where hooks send captured events
func WithRecorder(rec contracts.Recorder) AgentOption {
	return func(cfg *agentConfig) {
		cfg.recorder = rec
	}
}

// WithSink records events asynchronously into sink. The recorder buffer
// follows the profiler.recorder.* options.
func WithSink(sink contracts.Sink) AgentOption {
	return func(cfg *agentConfig) {
		cfg.sink = sink
	}
}

// WithMetrics sets the collector for hook and call metrics
func WithMetrics(metrics interceptors.MetricsCollector) AgentOption {
	return func(cfg *agentConfig) {
		cfg.metrics = metrics
	}
}

// NewAgent creates an agent. Nothing is instrumented until Start.
func NewAgent(options ...AgentOption) *Agent {
	cfg := &agentConfig{
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	props := cfg.props
	if props == nil {
		var sourceOpts []config.SourceOption
		if cfg.envPrefix != "" {
			sourceOpts = append(sourceOpts, config.WithEnvironment(cfg.envPrefix))
		}
		props = config.LoadOrDefault(cfg.configFile, cfg.logger, sourceOpts...)
	}

	rec := cfg.recorder
	var owned *recorder.Async
	switch {
	case rec != nil && cfg.sink != nil:
		cfg.logger.Warn("both recorder and sink configured, using recorder")
	case cfg.sink != nil:
		owned = recorder.NewAsync(cfg.sink, recorder.FromConfig(props), recorder.WithLogger(cfg.logger))
		rec = owned
	case rec == nil:
		rec = recorder.Discard
	}

	dispatcherOpts := []interceptors.DispatcherOption{interceptors.WithLogger(cfg.logger)}
	if cfg.metrics != nil {
		dispatcherOpts = append(dispatcherOpts, interceptors.WithMetrics(cfg.metrics))
	}

	return &Agent{
		props:    props,
		logger:   cfg.logger,
		recorder: rec,
		owned:    owned,
		session:  registry.NewSession(registry.WithSessionLogger(cfg.logger)),
		transformer: instrument.NewTransformer(
			instrument.WithTransformerLogger(cfg.logger),
			instrument.WithDispatcher(interceptors.NewDispatcher(dispatcherOpts...)),
		),
	}
}

// Start binds the agent's registry session and sets up plugins. A plugin whose
// setup fails is logged and skipped; the others still run.
func (a *Agent) Start(plugins ...instrument.Plugin) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrAgentClosed
	}
	if !a.started {
		if err := a.session.Bind(); err != nil {
			return fmt.Errorf("failed to bind registry: %w", err)
		}
		a.started = true
	}

	for _, p := range plugins {
		if err := p.Setup(a); err != nil {
			a.logger.Error("plugin setup failed", "plugin", p.Name(), "error", err)
			continue
		}
		a.plugins = append(a.plugins, p.Name())
		a.logger.Info("plugin loaded", "plugin", p.Name())
	}

	return nil
}

// Plugins returns the names of the plugins set up successfully
func (a *Agent) Plugins() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.plugins...)
}

// Transformer returns the transformer decorators resolve types with
func (a *Agent) Transformer() *instrument.Transformer {
	return a.transformer
}

// SessionID identifies the agent's registry session in logs
func (a *Agent) SessionID() string {
	return a.session.ID()
}

// Config implements instrument.SetupContext
func (a *Agent) Config() config.Properties {
	return a.props
}

// Logger implements instrument.SetupContext
func (a *Agent) Logger() *slog.Logger {
	return a.logger
}

// Recorder implements instrument.SetupContext
func (a *Agent) Recorder() contracts.Recorder {
	return a.recorder
}

// RegisterTransform implements instrument.SetupContext
func (a *Agent) RegisterTransform(typeName string, plan *instrument.Plan) error {
	return a.transformer.RegisterTransform(typeName, plan)
}

// Close unbinds the registry, which makes every instrumented type inert, and
// closes the recorder built for WithSink. A recorder passed with WithRecorder
// is left open.
func (a *Agent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	var errs []error
	if a.started {
		if err := a.session.Unbind(); err != nil {
			errs = append(errs, fmt.Errorf("failed to unbind registry: %w", err))
		}
	}
	if a.owned != nil {
		if err := a.owned.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close recorder: %w", err))
		}
	}
	return errors.Join(errs...)
}
