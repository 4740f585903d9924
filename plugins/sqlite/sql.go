package sqlite

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// ParsingResult is a statement with its literals replaced by placeholders
type ParsingResult struct {
	// SQL is the normalized statement
	SQL string
	// Output lists the removed literals, comma separated
	Output string
	// Named is set when the statement uses :name, @name or $name parameters
	Named bool
}

// ParseSQL normalizes a statement so that executions differing only in literal
// values share one text. Comments are dropped and whitespace is collapsed.
func ParseSQL(query string) *ParsingResult {
	var (
		out      strings.Builder
		literals []string
		named    bool
		prev     rune
	)

	emit := func(r rune) {
		if r == ' ' && (prev == ' ' || prev == 0) {
			return
		}
		out.WriteRune(r)
		prev = r
	}

	rs := []rune(query)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		switch {
		case r == '\'':
			var lit strings.Builder
			i++
			for ; i < len(rs); i++ {
				if rs[i] == '\'' {
					if i+1 < len(rs) && rs[i+1] == '\'' {
						lit.WriteRune('\'')
						i++
						continue
					}
					break
				}
				lit.WriteRune(rs[i])
			}
			literals = append(literals, lit.String())
			emit('?')

		case r == '"' || r == '`' || r == '[':
			closing := r
			if r == '[' {
				closing = ']'
			}
			emit(r)
			for i++; i < len(rs); i++ {
				emit(rs[i])
				if rs[i] == closing {
					break
				}
			}

		case r == '-' && i+1 < len(rs) && rs[i+1] == '-':
			for i < len(rs) && rs[i] != '\n' {
				i++
			}
			emit(' ')

		case r == '/' && i+1 < len(rs) && rs[i+1] == '*':
			i += 2
			for i < len(rs) && !(rs[i] == '*' && i+1 < len(rs) && rs[i+1] == '/') {
				i++
			}
			i++
			emit(' ')

		case unicode.IsSpace(r):
			emit(' ')

		case (r == ':' || r == '@' || r == '$') && i+1 < len(rs) && isIdentStart(rs[i+1]):
			named = true
			emit(r)

		case unicode.IsDigit(r) && !isIdentPart(prev):
			start := i
			for i+1 < len(rs) && isNumberPart(rs[i+1]) {
				i++
			}
			literals = append(literals, string(rs[start:i+1]))
			emit('?')

		default:
			emit(r)
		}
	}

	return &ParsingResult{
		SQL:    strings.TrimSpace(out.String()),
		Output: strings.Join(literals, ","),
		Named:  named,
	}
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r) || r == '$' || r == ':' || r == '@' || r == '?'
}

func isNumberPart(r rune) bool {
	return unicode.IsDigit(r) || r == '.' || r == 'e' || r == 'E' || r == 'x' || r == 'X' ||
		(r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

// FormatBindValue renders one bound argument
func FormatBindValue(v any) string {
	switch value := v.(type) {
	case nil:
		return "NULL"
	case string:
		return value
	case []byte:
		return "0x" + hex.EncodeToString(value)
	case time.Time:
		return value.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return value.String()
	default:
		return fmt.Sprint(value)
	}
}

// FormatBindValues joins bind values in ordinal order and truncates the
// result to maxSize bytes. Keys are ordinals; non-numeric keys sort last.
func FormatBindValues(values map[string]any, maxSize int) string {
	if len(values) == 0 {
		return ""
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return keys[i] < keys[j]
		}
	})

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = FormatBindValue(values[k])
	}
	return truncate(strings.Join(parts, ", "), maxSize)
}

func truncate(s string, maxSize int) string {
	if maxSize <= 0 || len(s) <= maxSize {
		return s
	}
	cut := maxSize
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
