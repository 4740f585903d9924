package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"time"

	"github.com/glimte/hookmate/instrument"
)

// Bind methods form the binding family of a statement. The decorator calls
// one of them per argument before each execution.
const (
	BindNull    = "BindNull"
	BindInt64   = "BindInt64"
	BindFloat64 = "BindFloat64"
	BindBool    = "BindBool"
	BindString  = "BindString"
	BindBytes   = "BindBytes"
	BindTime    = "BindTime"
	BindValue   = "BindValue"
	BindNamed   = "BindNamed"
)

// BindFamily lists every bind method
var BindFamily = []string{BindNull, BindInt64, BindFloat64, BindBool, BindString, BindBytes, BindTime, BindValue, BindNamed}

var errNamedUnsupported = errors.New("sqlite: driver does not support named arguments")

// NamedVariant returns the type name used for statements with named parameters
func NamedVariant(stmtType string) string {
	return stmtType + "+named"
}

var (
	driverMethods = []instrument.Method{{Name: "Open", Signature: "(string) (driver.Conn, error)"}}
	connMethods   = []instrument.Method{
		{Name: "Close", Signature: "() error"},
		{Name: "PrepareContext", Signature: "(context.Context, string) (driver.Stmt, error)"},
		{Name: "ExecContext", Signature: "(context.Context, string, []driver.NamedValue) (driver.Result, error)"},
		{Name: "QueryContext", Signature: "(context.Context, string, []driver.NamedValue) (driver.Rows, error)"},
		{Name: "BeginTx", Signature: "(context.Context, driver.TxOptions) (driver.Tx, error)"},
	}
	stmtMethods = []instrument.Method{
		{Name: "ExecContext", Signature: "(context.Context, []driver.NamedValue) (driver.Result, error)"},
		{Name: "QueryContext", Signature: "(context.Context, []driver.NamedValue) (driver.Rows, error)"},
	}
	txMethods = []instrument.Method{
		{Name: "Commit", Signature: "() error"},
		{Name: "Rollback", Signature: "() error"},
	}
)

func bindMethods() []instrument.Method {
	methods := make([]instrument.Method, len(BindFamily))
	for i, name := range BindFamily {
		methods[i] = instrument.Method{Name: name, Signature: "(int, driver.Value)"}
	}
	return methods
}

// bindMethodFor picks the family member for one argument
func bindMethodFor(arg driver.NamedValue) string {
	if arg.Name != "" {
		return BindNamed
	}
	switch arg.Value.(type) {
	case nil:
		return BindNull
	case int64:
		return BindInt64
	case float64:
		return BindFloat64
	case bool:
		return BindBool
	case string:
		return BindString
	case []byte:
		return BindBytes
	case time.Time:
		return BindTime
	default:
		return BindValue
	}
}

// DecorateOption configures the decorators
type DecorateOption func(*decorator)

// WithLoader sets the loader context types are resolved under
func WithLoader(loader instrument.LoaderContext) DecorateOption {
	return func(d *decorator) {
		d.loader = loader
	}
}

type decorator struct {
	resolver instrument.Resolver
	loader   instrument.LoaderContext
}

func (d *decorator) resolve(v any, declared []instrument.Method) *instrument.Type {
	name := instrument.TypeName(v)
	typ, _ := d.resolver.Resolve(d.loader, name, func() *instrument.TypeDescriptor {
		return instrument.Describe(v).WithMethods(declared...)
	})
	return typ
}

// Wrap decorates a database/sql driver so that connections, statements and
// transactions it hands out run under the hooks the transformer installed
func Wrap(resolver instrument.Resolver, drv driver.Driver, options ...DecorateOption) driver.Driver {
	d := &decorator{resolver: resolver, loader: instrument.DefaultLoader}
	for _, opt := range options {
		opt(d)
	}

	w := &wrappedDriver{decorator: d, driver: drv}
	w.inst = d.resolve(drv, driverMethods).NewInstance(w)
	return w
}

// OpenDB opens a database handle over the decorated driver without
// registering it globally
func OpenDB(resolver instrument.Resolver, drv driver.Driver, dsn string, options ...DecorateOption) *sql.DB {
	return sql.OpenDB(&connector{driver: Wrap(resolver, drv, options...), dsn: dsn})
}

type connector struct {
	driver driver.Driver
	dsn    string
}

func (c *connector) Connect(ctx context.Context) (driver.Conn, error) {
	return c.driver.Open(c.dsn)
}

func (c *connector) Driver() driver.Driver {
	return c.driver
}

type wrappedDriver struct {
	*decorator
	driver driver.Driver
	inst   *instrument.Instance
}

func (w *wrappedDriver) Instance() *instrument.Instance { return w.inst }

func (w *wrappedDriver) Open(name string) (driver.Conn, error) {
	res, err := w.inst.Invoke(context.Background(), "Open", []any{name}, func(ctx context.Context) (any, error) {
		c, err := w.driver.Open(name)
		if err != nil {
			return nil, err
		}
		return w.conn(c), nil
	})
	if err != nil {
		return nil, err
	}
	v, _ := res.(driver.Conn)
	return v, nil
}

func (d *decorator) conn(c driver.Conn) *wrappedConn {
	w := &wrappedConn{decorator: d, conn: c}
	w.inst = d.resolve(c, connMethods).NewInstance(w)
	return w
}

type wrappedConn struct {
	*decorator
	conn driver.Conn
	inst *instrument.Instance
}

var (
	_ driver.Conn               = (*wrappedConn)(nil)
	_ driver.ConnPrepareContext = (*wrappedConn)(nil)
	_ driver.ConnBeginTx        = (*wrappedConn)(nil)
	_ driver.ExecerContext      = (*wrappedConn)(nil)
	_ driver.QueryerContext     = (*wrappedConn)(nil)
	_ driver.Pinger             = (*wrappedConn)(nil)
	_ driver.SessionResetter    = (*wrappedConn)(nil)
	_ driver.Validator          = (*wrappedConn)(nil)
	_ driver.NamedValueChecker  = (*wrappedConn)(nil)
)

func (w *wrappedConn) Instance() *instrument.Instance { return w.inst }

func (w *wrappedConn) Close() error {
	_, err := w.inst.Invoke(context.Background(), "Close", nil, func(ctx context.Context) (any, error) {
		return nil, w.conn.Close()
	})
	return err
}

func (w *wrappedConn) Prepare(query string) (driver.Stmt, error) {
	return w.PrepareContext(context.Background(), query)
}

func (w *wrappedConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	res, err := w.inst.Invoke(ctx, "PrepareContext", []any{query}, func(ctx context.Context) (any, error) {
		var (
			s   driver.Stmt
			err error
		)
		if p, ok := w.conn.(driver.ConnPrepareContext); ok {
			s, err = p.PrepareContext(ctx, query)
		} else {
			s, err = w.conn.Prepare(query)
		}
		if err != nil {
			return nil, err
		}
		return w.stmt(s, query), nil
	})
	if err != nil {
		return nil, err
	}
	v, _ := res.(driver.Stmt)
	return v, nil
}

func (w *wrappedConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	execer, ok := w.conn.(driver.ExecerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	res, err := w.inst.Invoke(ctx, "ExecContext", []any{query, args}, func(ctx context.Context) (any, error) {
		return execer.ExecContext(ctx, query, args)
	})
	if err != nil {
		return nil, err
	}
	v, _ := res.(driver.Result)
	return v, nil
}

func (w *wrappedConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	queryer, ok := w.conn.(driver.QueryerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	res, err := w.inst.Invoke(ctx, "QueryContext", []any{query, args}, func(ctx context.Context) (any, error) {
		return queryer.QueryContext(ctx, query, args)
	})
	if err != nil {
		return nil, err
	}
	v, _ := res.(driver.Rows)
	return v, nil
}

func (w *wrappedConn) Begin() (driver.Tx, error) {
	return w.BeginTx(context.Background(), driver.TxOptions{})
}

func (w *wrappedConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	res, err := w.inst.Invoke(ctx, "BeginTx", []any{opts}, func(ctx context.Context) (any, error) {
		var (
			t   driver.Tx
			err error
		)
		if b, ok := w.conn.(driver.ConnBeginTx); ok {
			t, err = b.BeginTx(ctx, opts)
		} else {
			t, err = w.conn.Begin()
		}
		if err != nil {
			return nil, err
		}
		tx := w.tx(t)
		if info, _ := databaseInfo.Get(w); info != nil {
			databaseInfo.Set(tx, info)
		}
		return tx, nil
	})
	if err != nil {
		return nil, err
	}
	v, _ := res.(driver.Tx)
	return v, nil
}

func (w *wrappedConn) Ping(ctx context.Context) error {
	if p, ok := w.conn.(driver.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (w *wrappedConn) ResetSession(ctx context.Context) error {
	if r, ok := w.conn.(driver.SessionResetter); ok {
		return r.ResetSession(ctx)
	}
	return nil
}

func (w *wrappedConn) IsValid() bool {
	if v, ok := w.conn.(driver.Validator); ok {
		return v.IsValid()
	}
	return true
}

func (w *wrappedConn) CheckNamedValue(nv *driver.NamedValue) error {
	if c, ok := w.conn.(driver.NamedValueChecker); ok {
		return c.CheckNamedValue(nv)
	}
	return driver.ErrSkip
}

// stmt resolves the statement type, or its named-parameter variant when the
// query uses named parameters and a plan exists for it
func (d *decorator) stmt(s driver.Stmt, query string) *wrappedStmt {
	w := &wrappedStmt{decorator: d, stmt: s}

	declared := append(append([]instrument.Method(nil), stmtMethods...), bindMethods()...)
	typ := d.resolve(s, declared)

	if ParseSQL(query).Named {
		base := instrument.TypeName(s)
		name := NamedVariant(base)
		variant, ok := d.resolver.Resolve(d.loader, name, func() *instrument.TypeDescriptor {
			return &instrument.TypeDescriptor{
				Name:    name,
				Base:    base,
				Methods: []instrument.Method{{Name: BindNamed, Signature: "(int, driver.Value)"}},
			}
		})
		if ok {
			typ = variant
		}
	}

	w.inst = typ.NewInstance(w)
	return w
}

type wrappedStmt struct {
	*decorator
	stmt driver.Stmt
	inst *instrument.Instance
}

var (
	_ driver.Stmt              = (*wrappedStmt)(nil)
	_ driver.StmtExecContext   = (*wrappedStmt)(nil)
	_ driver.StmtQueryContext  = (*wrappedStmt)(nil)
	_ driver.NamedValueChecker = (*wrappedStmt)(nil)
)

func (w *wrappedStmt) Instance() *instrument.Instance { return w.inst }

func (w *wrappedStmt) Close() error {
	return w.stmt.Close()
}

func (w *wrappedStmt) NumInput() int {
	return w.stmt.NumInput()
}

func (w *wrappedStmt) CheckNamedValue(nv *driver.NamedValue) error {
	if c, ok := w.stmt.(driver.NamedValueChecker); ok {
		return c.CheckNamedValue(nv)
	}
	return driver.ErrSkip
}

// bind routes every argument through its bind method so that hooks see the
// values in ordinal order before the execution they belong to
func (w *wrappedStmt) bind(ctx context.Context, args []driver.NamedValue) {
	for _, arg := range args {
		_, _ = w.inst.Invoke(ctx, bindMethodFor(arg), []any{arg.Ordinal, arg.Value}, noop)
	}
}

func noop(ctx context.Context) (any, error) {
	return nil, nil
}

func (w *wrappedStmt) Exec(args []driver.Value) (driver.Result, error) {
	return w.ExecContext(context.Background(), namedValues(args))
}

func (w *wrappedStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	w.bind(ctx, args)
	res, err := w.inst.Invoke(ctx, "ExecContext", []any{args}, func(ctx context.Context) (any, error) {
		if e, ok := w.stmt.(driver.StmtExecContext); ok {
			return e.ExecContext(ctx, args)
		}
		values, err := plainValues(args)
		if err != nil {
			return nil, err
		}
		return w.stmt.Exec(values)
	})
	if err != nil {
		return nil, err
	}
	v, _ := res.(driver.Result)
	return v, nil
}

func (w *wrappedStmt) Query(args []driver.Value) (driver.Rows, error) {
	return w.QueryContext(context.Background(), namedValues(args))
}

func (w *wrappedStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	w.bind(ctx, args)
	res, err := w.inst.Invoke(ctx, "QueryContext", []any{args}, func(ctx context.Context) (any, error) {
		if q, ok := w.stmt.(driver.StmtQueryContext); ok {
			return q.QueryContext(ctx, args)
		}
		values, err := plainValues(args)
		if err != nil {
			return nil, err
		}
		return w.stmt.Query(values)
	})
	if err != nil {
		return nil, err
	}
	v, _ := res.(driver.Rows)
	return v, nil
}

func namedValues(args []driver.Value) []driver.NamedValue {
	named := make([]driver.NamedValue, len(args))
	for i, v := range args {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return named
}

func plainValues(args []driver.NamedValue) ([]driver.Value, error) {
	values := make([]driver.Value, len(args))
	for i, arg := range args {
		if arg.Name != "" {
			return nil, errNamedUnsupported
		}
		values[i] = arg.Value
	}
	return values, nil
}

func (d *decorator) tx(t driver.Tx) *wrappedTx {
	w := &wrappedTx{tx: t}
	w.inst = d.resolve(t, txMethods).NewInstance(w)
	return w
}

type wrappedTx struct {
	tx   driver.Tx
	inst *instrument.Instance
}

func (w *wrappedTx) Instance() *instrument.Instance { return w.inst }

func (w *wrappedTx) Commit() error {
	_, err := w.inst.Invoke(context.Background(), "Commit", nil, func(ctx context.Context) (any, error) {
		return nil, w.tx.Commit()
	})
	return err
}

func (w *wrappedTx) Rollback() error {
	_, err := w.inst.Invoke(context.Background(), "Rollback", nil, func(ctx context.Context) (any, error) {
		return nil, w.tx.Rollback()
	})
	return err
}
