package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

var jsonCodeBlockRegex = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")

// ExtractStructured pulls the structured payload out of a model response.
// It prefers a fenced JSON block, falling back to the first balanced JSON
// object in the text. Returns nil when the response carries no parseable
// structure; the caller treats this as plain prose.
func ExtractStructured(text string) map[string]any {
	candidate := ""
	if matches := jsonCodeBlockRegex.FindStringSubmatch(text); len(matches) > 1 {
		candidate = strings.TrimSpace(matches[1])
	} else {
		start := strings.Index(text, "{")
		if start == -1 {
			return nil
		}
		end := findMatchingBrace(text, start)
		if end == -1 {
			return nil
		}
		candidate = text[start : end+1]
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(candidate), &out); err != nil {
		return nil
	}
	return out
}

// findMatchingBrace finds the closing brace for the object opening at
// startPos, skipping braces inside string literals. Returns -1 when the
// object is truncated.
func findMatchingBrace(s string, startPos int) int {
	count := 0
	inString := false
	escaped := false

	for i := startPos; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			escaped = inString
		case '"':
			inString = !inString
		case '{':
			if !inString {
				count++
			}
		case '}':
			if !inString {
				count--
				if count == 0 {
					return i
				}
			}
		}
	}
	return -1
}
