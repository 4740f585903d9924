// Package sqlite instruments SQLite database/sql drivers. Connections,
// prepared statements and transactions report DatabaseEvents carrying the
// normalized statement text and its bind values.
//
// The plugin registers plans for both the cgo driver (github.com/mattn/go-sqlite3)
// and the pure Go driver (github.com/glebarez/go-sqlite). Drivers become
// instrumented by decorating them with Wrap or OpenDB.
package sqlite

import (
	"fmt"

	"github.com/glimte/hookmate/config"
	"github.com/glimte/hookmate/contracts"
	"github.com/glimte/hookmate/instrument"
	"github.com/glimte/hookmate/interceptors"
)

// GroupName is the interceptor group every attachment of this plugin shares
const GroupName = "SQLITE_GROUP"

// Configuration keys
const (
	KeyProfileBegin     = "profiler.jdbc.sqlite.begin"
	KeyProfileCommit    = "profiler.jdbc.sqlite.commit"
	KeyProfileRollback  = "profiler.jdbc.sqlite.rollback"
	KeyMaxBindValueSize = "profiler.jdbc.maxsqlbindvaluesize"

	DefaultMaxBindValueSize = 1024
)

// Config holds the plugin options
type Config struct {
	ProfileBegin     bool
	ProfileCommit    bool
	ProfileRollback  bool
	MaxBindValueSize int
}

// ReadConfig reads the plugin options, falling back to defaults
func ReadConfig(props config.Properties) Config {
	return Config{
		ProfileBegin:     props.ReadBool(KeyProfileBegin, false),
		ProfileCommit:    props.ReadBool(KeyProfileCommit, false),
		ProfileRollback:  props.ReadBool(KeyProfileRollback, false),
		MaxBindValueSize: props.ReadInt(KeyMaxBindValueSize, DefaultMaxBindValueSize),
	}
}

// Targets names the concrete types of one driver implementation
type Targets struct {
	Driver string
	Conn   string
	Stmt   string
	Tx     string
}

var (
	// MattnTargets are the types of github.com/mattn/go-sqlite3
	MattnTargets = Targets{
		Driver: "*sqlite3.SQLiteDriver",
		Conn:   "*sqlite3.SQLiteConn",
		Stmt:   "*sqlite3.SQLiteStmt",
		Tx:     "*sqlite3.SQLiteTx",
	}
	// GlebarezTargets are the types of github.com/glebarez/go-sqlite
	GlebarezTargets = Targets{
		Driver: "*sqlite.Driver",
		Conn:   "*sqlite.conn",
		Stmt:   "*sqlite.stmt",
		Tx:     "*sqlite.tx",
	}
)

// Plugin contributes the SQLite plans
type Plugin struct {
	targets []Targets
	parser  DSNParser
}

// Option configures the plugin
type Option func(*Plugin)

// WithTargets replaces the driver types the plugin instruments
func WithTargets(targets ...Targets) Option {
	return func(p *Plugin) {
		p.targets = targets
	}
}

// WithDSNParser replaces the data source name parser
func WithDSNParser(parser DSNParser) Option {
	return func(p *Plugin) {
		if parser != nil {
			p.parser = parser
		}
	}
}

// New creates the plugin for the mattn and glebarez drivers
func New(options ...Option) *Plugin {
	p := &Plugin{
		targets: []Targets{MattnTargets, GlebarezTargets},
		parser:  ParseDSN,
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Name implements instrument.Plugin
func (p *Plugin) Name() string {
	return "sqlite"
}

// Setup implements instrument.Plugin
func (p *Plugin) Setup(ctx instrument.SetupContext) error {
	cfg := ReadConfig(ctx.Config())
	rec := ctx.Recorder()
	if rec == nil {
		rec = contracts.RecorderFunc(func(contracts.Event) {})
	}

	plans := []struct {
		name func(Targets) string
		plan *instrument.Plan
	}{
		{func(t Targets) string { return t.Driver }, p.driverPlan(rec)},
		{func(t Targets) string { return t.Conn }, connPlan(rec, cfg)},
		{func(t Targets) string { return t.Stmt }, statementPlan(rec, cfg)},
		{namedTarget, namedStatementPlan()},
		{func(t Targets) string { return t.Tx }, transactionPlan(rec, cfg)},
	}

	for _, t := range p.targets {
		for _, entry := range plans {
			name := entry.name(t)
			if name == "" {
				continue
			}
			if err := ctx.RegisterTransform(name, entry.plan); err != nil {
				return fmt.Errorf("sqlite: %w", err)
			}
		}
	}

	ctx.Logger().Info("sqlite instrumentation configured",
		"targets", len(p.targets),
		"begin", cfg.ProfileBegin,
		"commit", cfg.ProfileCommit,
		"rollback", cfg.ProfileRollback,
		"maxBindValueSize", cfg.MaxBindValueSize)
	return nil
}

func namedTarget(t Targets) string {
	if t.Stmt == "" {
		return ""
	}
	return NamedVariant(t.Stmt)
}

func grouped(filter instrument.MethodFilter, descriptor interceptors.Descriptor, args ...any) instrument.Attachment {
	return instrument.Attachment{
		Filter:      filter,
		Interceptor: descriptor,
		Args:        args,
		Group:       GroupName,
		Policy:      interceptors.PolicyBoundary,
	}
}

func (p *Plugin) driverPlan(rec contracts.Recorder) *instrument.Plan {
	connect := grouped(instrument.Names("Open"), driverConnect(rec), p.parser, false)
	connect.Policy = interceptors.PolicyAlways
	return instrument.NewPlan().Attach(connect)
}

func connPlan(rec contracts.Recorder, cfg Config) *instrument.Plan {
	return instrument.NewPlan().
		AddSlot(databaseInfo, nil).
		Attach(grouped(instrument.Names("Close"), connectionClose(rec))).
		Attach(grouped(instrument.Names("PrepareContext"), statementPrepare(rec))).
		Attach(grouped(instrument.Names("QueryContext"), statementExecute("statement-query", rec), "query")).
		Attach(grouped(instrument.Names("ExecContext"), statementExecute("statement-exec", rec), "update")).
		AttachIf(cfg.ProfileBegin, grouped(instrument.Names("BeginTx"), transaction("transaction-begin", rec), "begin"))
}

func statementPlan(rec contracts.Recorder, cfg Config) *instrument.Plan {
	return instrument.NewPlan().
		AddSlot(databaseInfo, nil).
		AddSlot(parsingResult, nil).
		AddSlot(bindValues, func() any { return interceptors.NewValues() }).
		Attach(grouped(instrument.Names("ExecContext", "QueryContext"), preparedExecute(rec), cfg.MaxBindValueSize)).
		Attach(grouped(instrument.ExcludeMethods(BindFamily, BindNamed), bindVariable()))
}

// namedStatementPlan hooks the bind methods the base statement plan leaves out
func namedStatementPlan() *instrument.Plan {
	return instrument.NewPlan().
		Attach(grouped(instrument.IncludeMethods(BindFamily, BindNamed), bindVariable()))
}

func transactionPlan(rec contracts.Recorder, cfg Config) *instrument.Plan {
	return instrument.NewPlan().
		AddSlot(databaseInfo, nil).
		AttachIf(cfg.ProfileCommit, grouped(instrument.Names("Commit"), transaction("transaction-commit", rec), "commit")).
		AttachIf(cfg.ProfileRollback, grouped(instrument.Names("Rollback"), transaction("transaction-rollback", rec), "rollback"))
}
