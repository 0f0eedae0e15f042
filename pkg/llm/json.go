package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when a reply carries no parseable JSON value.
var ErrNoJSON = errors.New("no valid JSON found in reply")

var (
	// Reasoning models may prefix replies with <think>...</think>.
	thinkTagPattern  = regexp.MustCompile(`(?s)^\s*<think>.*?</think>\s*`)
	jsonFencePattern = regexp.MustCompile("(?s)```json[^\\n]*\\n(.*?)```")
)

// ExtractJSON returns the first JSON object or array in an assistant reply.
// A ```json fence wins over bare JSON elsewhere in the text.
func ExtractJSON(reply string) (string, error) {
	cleaned := thinkTagPattern.ReplaceAllString(reply, "")

	if m := jsonFencePattern.FindStringSubmatch(cleaned); m != nil {
		if body := strings.TrimSpace(m[1]); json.Valid([]byte(body)) {
			return body, nil
		}
	}

	objStart := strings.IndexByte(cleaned, '{')
	arrStart := strings.IndexByte(cleaned, '[')

	// Try whichever delimiter appears first, then the other.
	order := [][2]byte{{'[', ']'}, {'{', '}'}}
	if objStart >= 0 && (arrStart < 0 || objStart < arrStart) {
		order[0], order[1] = order[1], order[0]
	}
	for _, pair := range order {
		if candidate, ok := balancedJSON(cleaned, pair[0], pair[1]); ok && json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	if trimmed := strings.TrimSpace(cleaned); trimmed != "" && json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}
	return "", ErrNoJSON
}

// balancedJSON returns the first balanced open...close span, skipping
// delimiters inside string literals.
func balancedJSON(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// ParseJSONReply extracts JSON from a reply and unmarshals it into T.
func ParseJSONReply[T any](reply string) (T, error) {
	var result T

	raw, err := ExtractJSON(reply)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return result, fmt.Errorf("unmarshal reply JSON: %w", err)
	}
	return result, nil
}
