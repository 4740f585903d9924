package sqlite

import (
	"net/url"
	"path/filepath"
	"strings"
)

// DatabaseType is reported on every event of this plugin
const DatabaseType = "SQLITE"

const memoryDatabase = ":memory:"

// sensitiveParams are masked in the recorded URL
var sensitiveParams = map[string]bool{
	"_auth_pass": true,
	"_auth_user": true,
	"_key":       true,
	"password":   true,
}

// DatabaseInfo identifies the database a connection talks to
type DatabaseInfo struct {
	Type       string
	DatabaseID string
	URL        string
	Options    map[string]string
}

// UnknownDatabase is used when a connection was opened outside of the hooks
var UnknownDatabase = &DatabaseInfo{Type: DatabaseType, DatabaseID: "unknown"}

// DSNParser turns a data source name into DatabaseInfo
type DSNParser interface {
	Parse(dsn string) *DatabaseInfo
}

// DSNParserFunc is a function adapter for DSNParser
type DSNParserFunc func(dsn string) *DatabaseInfo

// Parse implements DSNParser
func (f DSNParserFunc) Parse(dsn string) *DatabaseInfo {
	return f(dsn)
}

// ParseDSN understands plain paths, ":memory:" and "file:" URIs with query options
var ParseDSN DSNParserFunc = parseDSN

func parseDSN(dsn string) *DatabaseInfo {
	info := &DatabaseInfo{Type: DatabaseType, Options: map[string]string{}}

	path, rawQuery, _ := strings.Cut(dsn, "?")
	path = strings.TrimPrefix(path, "file:")
	path = strings.TrimPrefix(path, "//")

	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		query = url.Values{}
	}
	for key := range query {
		if sensitiveParams[strings.ToLower(key)] {
			continue
		}
		info.Options[key] = query.Get(key)
	}

	if path == "" || path == memoryDatabase {
		info.DatabaseID = memoryDatabase
	} else {
		info.DatabaseID = filepath.Base(path)
	}

	info.URL = maskDSN(path, query)
	return info
}

func maskDSN(path string, query url.Values) string {
	if len(query) == 0 {
		return path
	}
	masked := url.Values{}
	for key, values := range query {
		for _, v := range values {
			if sensitiveParams[strings.ToLower(key)] {
				v = "xxxxx"
			}
			masked.Add(key, v)
		}
	}
	return path + "?" + masked.Encode()
}
