package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceReads(t *testing.T) {
	var logs bytes.Buffer
	src := New(map[string]string{
		"profiler.jdbc.sqlite.commit":       "true",
		"profiler.jdbc.maxsqlbindvaluesize": " 2048 ",
		"profiler.recorder.flush.interval":  "250ms",
		"profiler.recorder.batch":           "lots",
		"profiler.jdbc.sqlite.rollback":     "maybe",
		"profiler.name":                     "demo",
		"profiler.timeout":                  "1500",
	}, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	t.Run("Typed reads", func(t *testing.T) {
		assert.True(t, src.ReadBool("profiler.jdbc.sqlite.commit", false))
		assert.Equal(t, 2048, src.ReadInt("profiler.jdbc.maxsqlbindvaluesize", 1024))
		assert.Equal(t, 250*time.Millisecond, src.ReadDuration("profiler.recorder.flush.interval", time.Second))
		assert.Equal(t, 1500*time.Millisecond, src.ReadDuration("profiler.timeout", time.Second))
		assert.Equal(t, "demo", src.ReadString("profiler.name", ""))
	})

	t.Run("Unset keys yield defaults", func(t *testing.T) {
		assert.False(t, src.ReadBool("profiler.jdbc.sqlite.begin", false))
		assert.Equal(t, 1024, src.ReadInt("missing", 1024))
		assert.Equal(t, "fallback", src.ReadString("missing", "fallback"))
	})

	t.Run("Unparsable values yield defaults with a warning", func(t *testing.T) {
		assert.Equal(t, 100, src.ReadInt("profiler.recorder.batch", 100))
		assert.False(t, src.ReadBool("profiler.jdbc.sqlite.rollback", false))
		assert.Contains(t, logs.String(), "invalid configuration value")
		assert.Contains(t, logs.String(), "profiler.recorder.batch")
	})
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("HOOKMATE_PROFILER_JDBC_SQLITE_BEGIN", "true")
	src := New(map[string]string{"profiler.jdbc.sqlite.begin": "false"}, WithEnvironment("HOOKMATE_"))

	assert.True(t, src.ReadBool("profiler.jdbc.sqlite.begin", false))
	assert.Equal(t, "HOOKMATE_PROFILER_JDBC_SQLITE_BEGIN", EnvName("HOOKMATE_", "profiler.jdbc.sqlite.begin"))
}

func TestLoaders(t *testing.T) {
	dir := t.TempDir()

	t.Run("Properties file", func(t *testing.T) {
		path := filepath.Join(dir, "hookmate.config")
		content := "# sqlite plugin\nprofiler.jdbc.sqlite.commit=true\nprofiler.jdbc.maxsqlbindvaluesize=64\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		src, err := Load(path)
		require.NoError(t, err)
		assert.True(t, src.ReadBool("profiler.jdbc.sqlite.commit", false))
		assert.Equal(t, 64, src.ReadInt("profiler.jdbc.maxsqlbindvaluesize", 1024))
	})

	t.Run("YAML file is flattened", func(t *testing.T) {
		path := filepath.Join(dir, "hookmate.yaml")
		content := "profiler:\n  jdbc:\n    sqlite:\n      rollback: true\n    maxsqlbindvaluesize: 32\n  targets: [a, b]\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		src, err := Load(path)
		require.NoError(t, err)
		assert.True(t, src.ReadBool("profiler.jdbc.sqlite.rollback", false))
		assert.Equal(t, 32, src.ReadInt("profiler.jdbc.maxsqlbindvaluesize", 1024))
		assert.Equal(t, "a,b", src.ReadString("profiler.targets", ""))
		assert.Contains(t, src.Keys(), "profiler.jdbc.sqlite.rollback")
	})

	t.Run("Missing file falls back to defaults", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "absent.properties"))
		assert.Error(t, err)

		src := LoadOrDefault(filepath.Join(dir, "absent.properties"), slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
		assert.Equal(t, 1024, src.ReadInt("profiler.jdbc.maxsqlbindvaluesize", 1024))
	})

	t.Run("Malformed yaml is an error", func(t *testing.T) {
		_, err := ParseYAML([]byte("profiler: [unclosed"))
		assert.Error(t, err)
	})
}

func TestMerge(t *testing.T) {
	base := New(map[string]string{"a": "1", "b": "1"})
	override := New(map[string]string{"b": "2"})

	merged := base.Merge(override)
	assert.Equal(t, 1, merged.ReadInt("a", 0))
	assert.Equal(t, 2, merged.ReadInt("b", 0))
	assert.Equal(t, 1, base.ReadInt("b", 0))
}
