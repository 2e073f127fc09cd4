// Package toolresult normalizes heterogeneous tool-call payloads into a
// canonical map form.
//
// Upstream tools return results produced by different serializers: real JSON,
// JSON with Python literal tokens (True/False/None), or repr-style literal
// strings with single-quoted keys. Rather than failing hard on cosmetic
// formatting differences, Normalize tries a strict parse first and degrades
// through progressively more permissive ones. Genuinely malformed payloads
// still fail.
package toolresult

import (
	"encoding/json"
	"strings"
	"unicode"
)

// MaxLogged caps how much of an unparseable payload callers should log.
const MaxLogged = 256

// Normalize converts a raw tool result into a key/value map.
//
// Maps pass through unchanged. Strings and byte slices are parsed with an
// ordered fallback: strict JSON, JSON after Python token substitution, then
// a permissive Python-literal parse. Anything else, or a payload that
// survives no parser, returns (nil, false); callers treat that as
// "unparseable", never as a fatal error.
func Normalize(raw interface{}) (map[string]interface{}, bool) {
	switch v := raw.(type) {
	case map[string]interface{}:
		return v, true
	case string:
		return normalizeText(v)
	case []byte:
		return normalizeText(string(v))
	default:
		return nil, false
	}
}

// Truncate shortens a payload for diagnostic logging.
func Truncate(s string) string {
	if len(s) <= MaxLogged {
		return s
	}
	return s[:MaxLogged] + "..."
}

func normalizeText(s string) (map[string]interface{}, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}

	// 1. Strict JSON.
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err == nil {
		return m, true
	}

	// 2. JSON after substituting Python literal tokens outside strings.
	if sub, changed := substitutePythonTokens(s); changed {
		m = nil
		if err := json.Unmarshal([]byte(sub), &m); err == nil {
			return m, true
		}
	}

	// 3. Permissive Python-literal parse.
	v, err := parseLiteral(s)
	if err != nil {
		return nil, false
	}
	m, ok := v.(map[string]interface{})
	return m, ok
}

// substitutePythonTokens replaces True/False/None with their JSON
// equivalents everywhere outside string literals. Reports whether any
// substitution happened.
func substitutePythonTokens(s string) (string, bool) {
	var b strings.Builder
	b.Grow(len(s))
	changed := false
	inString := false
	var quote byte

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			if c == '\\' && i+1 < len(s) {
				i++
				b.WriteByte(s[i])
				continue
			}
			if c == quote {
				inString = false
			}
			continue
		}
		if c == '"' || c == '\'' {
			inString = true
			quote = c
			b.WriteByte(c)
			continue
		}
		if isIdentStart(c) {
			j := i
			for j < len(s) && isIdentPart(s[j]) {
				j++
			}
			switch s[i:j] {
			case "True":
				b.WriteString("true")
				changed = true
			case "False":
				b.WriteString("false")
				changed = true
			case "None":
				b.WriteString("null")
				changed = true
			default:
				b.WriteString(s[i:j])
			}
			i = j - 1
			continue
		}
		b.WriteByte(c)
	}
	return b.String(), changed
}

func isIdentStart(c byte) bool {
	return c == '_' || unicode.IsLetter(rune(c))
}

func isIdentPart(c byte) bool {
	return c == '_' || unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c))
}
