package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads a configuration file. Files ending in .yaml or .yml are parsed as
// YAML with nested keys flattened to dotted form; anything else is read as
// key=value properties.
func Load(path string, options ...SourceOption) (*Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(path, options...)
	default:
		return LoadProperties(path, options...)
	}
}

// LoadOrDefault loads path and falls back to an empty source on any failure
func LoadOrDefault(path string, logger *slog.Logger, options ...SourceOption) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	options = append([]SourceOption{WithLogger(logger)}, options...)

	if path == "" {
		return New(nil, options...)
	}

	src, err := Load(path, options...)
	if err != nil {
		logger.Warn("configuration unreadable, using defaults", "path", path, "error", err)
		return New(nil, options...)
	}
	return src
}

// LoadProperties reads a key=value properties file
func LoadProperties(path string, options ...SourceOption) (*Source, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read properties %s: %w", path, err)
	}
	return New(values, options...), nil
}

// LoadYAML reads a YAML file
func LoadYAML(path string, options ...SourceOption) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read yaml %s: %w", path, err)
	}
	return ParseYAML(data, options...)
}

// ParseYAML parses YAML bytes into a source
func ParseYAML(data []byte, options ...SourceOption) (*Source, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}

	values := make(map[string]string)
	flatten("", doc, values)
	return New(values, options...), nil
}

func flatten(prefix string, node any, out map[string]string) {
	switch v := node.(type) {
	case map[string]any:
		for k, child := range v {
			flatten(join(prefix, k), child, out)
		}
	case map[any]any:
		for k, child := range v {
			flatten(join(prefix, fmt.Sprint(k)), child, out)
		}
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		out[prefix] = strings.Join(parts, ",")
	case nil:
		out[prefix] = ""
	default:
		out[prefix] = fmt.Sprint(v)
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
