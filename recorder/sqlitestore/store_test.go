package sqlitestore

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/glimte/hookmate/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "events.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreWriteAndQuery(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	exec := contracts.NewDatabaseEvent("sql", "*sqlite3.SQLiteStmt", "ExecContext")
	exec.SQL = "INSERT INTO users (name) VALUES (?)"
	exec.BindValues = "[1:ada]"
	exec.Duration = 3 * time.Millisecond

	failed := contracts.NewDatabaseEvent("sql", "*sqlite3.SQLiteStmt", "QueryContext")
	failed.SQL = "SELECT * FROM missing"
	failed.SetError(errors.New("no such table: missing"))

	closeSpan := contracts.NewSpanEvent("connection", "*sqlite3.SQLiteConn", "Close")

	require.NoError(t, store.Write(ctx, []contracts.Event{exec, failed, closeSpan}))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	t.Run("All events round trip", func(t *testing.T) {
		events, err := store.Events(ctx, Query{})
		require.NoError(t, err)
		require.Len(t, events, 3)

		db, ok := events[0].(*contracts.DatabaseEvent)
		require.True(t, ok)
		assert.Equal(t, exec.GetID(), db.GetID())
		assert.Equal(t, exec.SQL, db.SQL)
		assert.Equal(t, 3*time.Millisecond, db.Duration)

		_, ok = events[2].(*contracts.SpanEvent)
		assert.True(t, ok)
	})

	t.Run("Filters", func(t *testing.T) {
		events, err := store.Events(ctx, Query{Failed: true})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, failed.GetID(), events[0].GetID())

		events, err = store.Events(ctx, Query{Target: "*sqlite3.SQLiteConn", Method: "Close"})
		require.NoError(t, err)
		require.Len(t, events, 1)

		events, err = store.Events(ctx, Query{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})

	t.Run("Rewriting a batch does not duplicate", func(t *testing.T) {
		require.NoError(t, store.Write(ctx, []contracts.Event{exec, failed}))
		n, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("Empty batch", func(t *testing.T) {
		assert.NoError(t, store.Write(ctx, nil))
	})
}

func TestStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.sqlite3")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Write(ctx, []contracts.Event{contracts.NewSpanEvent("call", "t", "m")}))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, path, store.Path())
}

func TestDefaultPath(t *testing.T) {
	a, b := DefaultPath(), DefaultPath()
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "hookmate_events_"))
	assert.True(t, strings.HasSuffix(a, ".sqlite3"))
}
