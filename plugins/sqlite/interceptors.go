package sqlite

import (
	"context"
	"database/sql/driver"
	"errors"
	"strconv"

	"github.com/glimte/hookmate/contracts"
	"github.com/glimte/hookmate/instrument"
	"github.com/glimte/hookmate/interceptors"
)

// Slots shared by the interceptors and decorators of this plugin
var (
	databaseInfo  = instrument.NewAccessor[*DatabaseInfo]("sqlite.databaseInfo")
	parsingResult = instrument.NewAccessor[*ParsingResult]("sqlite.parsingResult")
	bindValues    = instrument.NewAccessor[*interceptors.Values]("sqlite.bindValues")
)

func infoOf(target any) *DatabaseInfo {
	if info, _ := databaseInfo.Get(target); info != nil {
		return info
	}
	return UnknownDatabase
}

func newEvent(operation string, inv *interceptors.Invocation, info *DatabaseInfo, err error) *contracts.DatabaseEvent {
	event := contracts.NewDatabaseEvent(operation, inv.TypeName, inv.Method)
	event.Duration = inv.Elapsed()
	event.SetError(err)
	event.DatabaseType = info.Type
	event.DatabaseID = info.DatabaseID
	event.URL = info.URL
	return event
}

// skipped reports driver errors that only ask database/sql to take another path
func skipped(err error) bool {
	return errors.Is(err, driver.ErrSkip)
}

// driverConnectInterceptor attaches DatabaseInfo to every opened connection
type driverConnectInterceptor struct {
	recorder      contracts.Recorder
	parser        DSNParser
	recordConnect bool
}

func driverConnect(recorder contracts.Recorder) interceptors.Descriptor {
	return interceptors.Descriptor{
		Name: "driver-connect",
		New: func(args ...any) (interceptors.Interceptor, error) {
			parser, err := interceptors.Arg[DSNParser](args, 0)
			if err != nil {
				return nil, err
			}
			recordConnect, err := interceptors.Arg[bool](args, 1)
			if err != nil {
				return nil, err
			}
			return &driverConnectInterceptor{recorder: recorder, parser: parser, recordConnect: recordConnect}, nil
		},
	}
}

func (i *driverConnectInterceptor) Name() string { return "driver-connect" }

func (i *driverConnectInterceptor) Before(ctx context.Context, inv *interceptors.Invocation) {}

func (i *driverConnectInterceptor) After(ctx context.Context, inv *interceptors.Invocation, result any, err error) {
	dsn, _ := inv.Arg(0).(string)
	info := i.parser.Parse(dsn)
	if result != nil {
		databaseInfo.Set(result, info)
	}
	if i.recordConnect {
		i.recorder.Record(newEvent("connect", inv, info, err))
	}
}

// connectionCloseInterceptor records connection shutdown
type connectionCloseInterceptor struct {
	recorder contracts.Recorder
}

func connectionClose(recorder contracts.Recorder) interceptors.Descriptor {
	return interceptors.Descriptor{
		Name: "connection-close",
		New: func(args ...any) (interceptors.Interceptor, error) {
			return &connectionCloseInterceptor{recorder: recorder}, nil
		},
	}
}

func (i *connectionCloseInterceptor) Name() string { return "connection-close" }

func (i *connectionCloseInterceptor) Before(ctx context.Context, inv *interceptors.Invocation) {}

func (i *connectionCloseInterceptor) After(ctx context.Context, inv *interceptors.Invocation, result any, err error) {
	i.recorder.Record(newEvent("close", inv, infoOf(inv.Target), err))
}

// statementPrepareInterceptor hands connection info and the parsed statement
// to every prepared statement
type statementPrepareInterceptor struct {
	recorder contracts.Recorder
}

func statementPrepare(recorder contracts.Recorder) interceptors.Descriptor {
	return interceptors.Descriptor{
		Name: "statement-prepare",
		New: func(args ...any) (interceptors.Interceptor, error) {
			return &statementPrepareInterceptor{recorder: recorder}, nil
		},
	}
}

func (i *statementPrepareInterceptor) Name() string { return "statement-prepare" }

func (i *statementPrepareInterceptor) Before(ctx context.Context, inv *interceptors.Invocation) {}

func (i *statementPrepareInterceptor) After(ctx context.Context, inv *interceptors.Invocation, result any, err error) {
	info := infoOf(inv.Target)
	query, _ := inv.Arg(0).(string)
	parsed := ParseSQL(query)

	if result != nil {
		databaseInfo.Set(result, info)
		parsingResult.Set(result, parsed)
	}

	event := newEvent("prepare", inv, info, err)
	event.SQL = parsed.SQL
	i.recorder.Record(event)
}

// statementExecuteInterceptor records queries run directly on a connection
type statementExecuteInterceptor struct {
	name      string
	operation string
	recorder  contracts.Recorder
}

func statementExecute(name string, recorder contracts.Recorder) interceptors.Descriptor {
	return interceptors.Descriptor{
		Name: name,
		New: func(args ...any) (interceptors.Interceptor, error) {
			operation, err := interceptors.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			return &statementExecuteInterceptor{name: name, operation: operation, recorder: recorder}, nil
		},
	}
}

func (i *statementExecuteInterceptor) Name() string { return i.name }

func (i *statementExecuteInterceptor) Before(ctx context.Context, inv *interceptors.Invocation) {}

func (i *statementExecuteInterceptor) After(ctx context.Context, inv *interceptors.Invocation, result any, err error) {
	if skipped(err) {
		return
	}
	query, _ := inv.Arg(0).(string)
	parsed := ParseSQL(query)

	event := newEvent(i.operation, inv, infoOf(inv.Target), err)
	event.SQL = parsed.SQL
	if parsed.Output != "" {
		event.SetAttribute("literals", parsed.Output)
	}
	i.recorder.Record(event)
}

// preparedExecuteInterceptor records a prepared statement execution together
// with the values bound to it, then clears the bind values for the next run
type preparedExecuteInterceptor struct {
	recorder         contracts.Recorder
	maxBindValueSize int
}

func preparedExecute(recorder contracts.Recorder) interceptors.Descriptor {
	return interceptors.Descriptor{
		Name: "prepared-execute",
		New: func(args ...any) (interceptors.Interceptor, error) {
			maxSize, err := interceptors.Arg[int](args, 0)
			if err != nil {
				return nil, err
			}
			return &preparedExecuteInterceptor{recorder: recorder, maxBindValueSize: maxSize}, nil
		},
	}
}

func (i *preparedExecuteInterceptor) Name() string { return "prepared-execute" }

func (i *preparedExecuteInterceptor) Before(ctx context.Context, inv *interceptors.Invocation) {}

func (i *preparedExecuteInterceptor) After(ctx context.Context, inv *interceptors.Invocation, result any, err error) {
	event := newEvent("execute", inv, infoOf(inv.Target), err)

	if parsed, _ := parsingResult.Get(inv.Target); parsed != nil {
		event.SQL = parsed.SQL
	}
	if values, _ := bindValues.Get(inv.Target); values != nil {
		event.BindValues = FormatBindValues(values.Drain(), i.maxBindValueSize)
	}

	i.recorder.Record(event)
}

// bindVariableInterceptor collects the values bound to a prepared statement
type bindVariableInterceptor struct{}

func bindVariable() interceptors.Descriptor {
	return interceptors.Descriptor{
		Name: "prepared-bind",
		New: func(args ...any) (interceptors.Interceptor, error) {
			return &bindVariableInterceptor{}, nil
		},
	}
}

func (i *bindVariableInterceptor) Name() string { return "prepared-bind" }

func (i *bindVariableInterceptor) Before(ctx context.Context, inv *interceptors.Invocation) {}

func (i *bindVariableInterceptor) After(ctx context.Context, inv *interceptors.Invocation, result any, err error) {
	if err != nil {
		return
	}
	values, _ := bindValues.Get(inv.Target)
	ordinal, ok := inv.Arg(0).(int)
	if values == nil || !ok {
		return
	}
	values.Set(strconv.Itoa(ordinal), inv.Arg(1))
}

// transactionInterceptor records transaction boundaries
type transactionInterceptor struct {
	name      string
	operation string
	recorder  contracts.Recorder
}

func transaction(name string, recorder contracts.Recorder) interceptors.Descriptor {
	return interceptors.Descriptor{
		Name: name,
		New: func(args ...any) (interceptors.Interceptor, error) {
			operation, err := interceptors.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			return &transactionInterceptor{name: name, operation: operation, recorder: recorder}, nil
		},
	}
}

func (i *transactionInterceptor) Name() string { return i.name }

func (i *transactionInterceptor) Before(ctx context.Context, inv *interceptors.Invocation) {}

func (i *transactionInterceptor) After(ctx context.Context, inv *interceptors.Invocation, result any, err error) {
	i.recorder.Record(newEvent(i.operation, inv, infoOf(inv.Target), err))
}
