package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/glimte/hookmate"
	"github.com/glimte/hookmate/config"
	"github.com/glimte/hookmate/contracts"
	"github.com/glimte/hookmate/monitor"
	sqliteplugin "github.com/glimte/hookmate/plugins/sqlite"
	"github.com/glimte/hookmate/recorder"
	"github.com/glimte/hookmate/recorder/sqlitestore"
	"github.com/glimte/hookmate/transports/rabbitmq"
	"github.com/spf13/cobra"

	_ "github.com/glebarez/go-sqlite"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

const envPrefix = "HOOKMATE_"

func main() {
	rootCmd := &cobra.Command{
		Use:   "hookmate",
		Short: "Instrument database/sql drivers with grouped interceptors",
		Long: `hookmate attaches interceptors to SQLite drivers and records every
connection, statement and transaction as an event.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
	}

	var (
		configFile string
		verbose    bool
	)
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Properties or YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	var (
		storePath string
		amqpURL   string
		dsn       string
	)
	demoCmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a sample workload against an instrumented SQLite driver",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runDemo(ctx, newLogger(verbose), configFile, storePath, amqpURL, dsn)
		},
	}
	demoCmd.Flags().StringVar(&storePath, "store", "", "Also persist events to this SQLite file")
	demoCmd.Flags().StringVar(&amqpURL, "amqp", "", "Also publish events to this RabbitMQ URL")
	demoCmd.Flags().StringVar(&dsn, "dsn", ":memory:", "Data source name of the instrumented database")

	optionsCmd := &cobra.Command{
		Use:   "options",
		Short: "List configuration options with their effective values",
		RunE: func(cmd *cobra.Command, args []string) error {
			props := config.LoadOrDefault(configFile, newLogger(verbose), config.WithEnvironment(envPrefix))
			return printOptions(props)
		},
	}

	rootCmd.AddCommand(demoCmd, optionsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func runDemo(ctx context.Context, logger *slog.Logger, configFile, storePath, amqpURL, dsn string) error {
	events := recorder.NewMemory()
	recorders := recorder.Fanout{events}
	var sinks []*recorder.Async

	props := config.LoadOrDefault(configFile, logger, config.WithEnvironment(envPrefix))

	if storePath != "" {
		store, err := sqlitestore.Open(storePath)
		if err != nil {
			return err
		}
		async := recorder.NewAsync(store, recorder.FromConfig(props), recorder.WithLogger(logger))
		sinks = append(sinks, async)
		recorders = append(recorders, async)
	}

	if amqpURL != "" {
		publisher, err := rabbitmq.Dial(ctx, amqpURL, rabbitmq.WithLogger(logger))
		if err != nil {
			return err
		}
		async := recorder.NewAsync(publisher, recorder.FromConfig(props), recorder.WithLogger(logger))
		sinks = append(sinks, async)
		recorders = append(recorders, async)
	}

	metrics := monitor.NewSimpleMetricsCollector()
	agent := hookmate.NewAgent(
		hookmate.WithLogger(logger),
		hookmate.WithConfig(props),
		hookmate.WithRecorder(recorders),
		hookmate.WithMetrics(metrics),
	)
	if err := agent.Start(sqliteplugin.New()); err != nil {
		return err
	}

	workloadErr := runWorkload(ctx, agent, dsn)

	if err := agent.Close(); err != nil {
		logger.Warn("agent close failed", "error", err)
	}
	for _, async := range sinks {
		if err := async.Close(); err != nil {
			logger.Warn("sink close failed", "error", err)
		}
		stats := async.Stats()
		logger.Info("sink drained", "written", stats.Written, "dropped", stats.Dropped, "failed", stats.Failed)
	}
	if workloadErr != nil {
		return workloadErr
	}

	if err := printEvents(events.Events()); err != nil {
		return err
	}
	fmt.Println()
	if err := metrics.Summary().WriteTable(os.Stdout); err != nil {
		return err
	}

	if storePath != "" {
		store, err := sqlitestore.Open(storePath)
		if err != nil {
			return err
		}
		defer store.Close()
		n, err := store.Count(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("\n%d events stored in %s\n", n, store.Path())
	}
	return nil
}

// runWorkload drives the pure Go SQLite driver through database/sql
func runWorkload(ctx context.Context, agent *hookmate.Agent, dsn string) error {
	probe, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to load sqlite driver: %w", err)
	}
	drv := probe.Driver()
	probe.Close()

	db := sqliteplugin.OpenDB(agent.Transformer(), drv, dsn)
	defer db.Close()
	// one connection keeps an in-memory database alive for the whole run
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS orders (id INTEGER PRIMARY KEY, item TEXT, qty INTEGER)`); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	insert, err := db.PrepareContext(ctx, `INSERT INTO orders (item, qty) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	for i, item := range []string{"bolt", "nut", "washer"} {
		if _, err := insert.ExecContext(ctx, item, i+1); err != nil {
			insert.Close()
			return fmt.Errorf("failed to insert %s: %w", item, err)
		}
	}
	insert.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE orders SET qty = qty * 10 WHERE item = 'bolt'`); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	rename, err := db.PrepareContext(ctx, `UPDATE orders SET item = :item WHERE id = :id`)
	if err != nil {
		return fmt.Errorf("failed to prepare rename: %w", err)
	}
	defer rename.Close()
	if _, err := rename.ExecContext(ctx, sql.Named("item", "hex bolt"), sql.Named("id", 1)); err != nil {
		return fmt.Errorf("failed to rename: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT item, qty FROM orders WHERE qty > ?`, 1)
	if err != nil {
		return fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			item string
			qty  int
		)
		if err := rows.Scan(&item, &qty); err != nil {
			return err
		}
	}
	return rows.Err()
}

func printEvents(events []contracts.Event) error {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OPERATION\tTARGET\tMETHOD\tDURATION\tSQL\tBIND VALUES\tERROR")
	for _, e := range events {
		db, ok := e.(*contracts.DatabaseEvent)
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%s\t%s\t%s\n",
			db.Operation, db.Target, db.Method, db.Duration.Round(time.Microsecond), db.SQL, db.BindValues, db.Error)
	}
	return tw.Flush()
}

type option struct {
	key          string
	kind         string
	defaultValue string
}

var options = []option{
	{sqliteplugin.KeyProfileBegin, "bool", "false"},
	{sqliteplugin.KeyProfileCommit, "bool", "false"},
	{sqliteplugin.KeyProfileRollback, "bool", "false"},
	{sqliteplugin.KeyMaxBindValueSize, "int", strconv.Itoa(sqliteplugin.DefaultMaxBindValueSize)},
	{recorder.KeyBufferSize, "int", "1024"},
	{recorder.KeyBatchSize, "int", "100"},
	{recorder.KeyFlushInterval, "duration", "1s"},
}

func printOptions(props *config.Source) error {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tTYPE\tDEFAULT\tVALUE\tENV")
	for _, o := range options {
		value := o.defaultValue
		switch o.kind {
		case "bool":
			value = strconv.FormatBool(props.ReadBool(o.key, o.defaultValue == "true"))
		case "int":
			d, _ := strconv.Atoi(o.defaultValue)
			value = strconv.Itoa(props.ReadInt(o.key, d))
		case "duration":
			d, _ := time.ParseDuration(o.defaultValue)
			value = props.ReadDuration(o.key, d).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", o.key, o.kind, o.defaultValue, value, config.EnvName(envPrefix, o.key))
	}
	return tw.Flush()
}
