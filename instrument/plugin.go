package instrument

import (
	"log/slog"

	"github.com/glimte/hookmate/config"
	"github.com/glimte/hookmate/contracts"
)

// SetupContext is what a plugin sees while it registers its plans
type SetupContext interface {
	Config() config.Properties
	Logger() *slog.Logger
	Recorder() contracts.Recorder
	RegisterTransform(typeName string, plan *Plan) error
}

// Plugin contributes plans for one instrumented library
type Plugin interface {
	Name() string
	Setup(ctx SetupContext) error
}

// Resolver is the part of the transformer that decorators need
type Resolver interface {
	Resolve(loader LoaderContext, typeName string, describe func() *TypeDescriptor) (*Type, bool)
}
