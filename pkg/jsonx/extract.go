// Package jsonx pulls JSON objects out of free-form model replies.
package jsonx

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	jsonFence = regexp.MustCompile("(?s)```json\\s*(.*?)```")
	anyFence  = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\\s*(.*?)```")
)

// Extract returns the first JSON object found in text. A ```json fence wins,
// then any fence, then the first balanced {...} that parses.
func Extract(text string) (map[string]any, bool) {
	var out map[string]any
	if !ExtractInto(text, &out) || out == nil {
		return nil, false
	}
	return out, true
}

// ExtractInto decodes the first JSON object found in text into v.
func ExtractInto(text string, v any) bool {
	raw, ok := Find(text)
	if !ok {
		return false
	}
	return json.Unmarshal([]byte(raw), v) == nil
}

// Find returns the raw text of the first JSON object in text.
func Find(text string) (string, bool) {
	for _, re := range []*regexp.Regexp{jsonFence, anyFence} {
		if m := re.FindStringSubmatch(text); m != nil {
			body := strings.TrimSpace(m[1])
			if isObject(body) {
				return body, true
			}
			if obj, ok := scan(body); ok {
				return obj, true
			}
		}
	}
	return scan(text)
}

// scan tries every '{' as a start and returns the first balanced candidate
// that is a valid JSON object. Braces inside strings are ignored.
func scan(text string) (string, bool) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end := matchBrace(text, start); end > start {
			if cand := text[start : end+1]; isObject(cand) {
				return cand, true
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchBrace(text string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func isObject(s string) bool {
	if !strings.HasPrefix(s, "{") {
		return false
	}
	var m map[string]any
	return json.Unmarshal([]byte(s), &m) == nil
}
