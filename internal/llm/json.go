package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// ParseJSONResponse parses a JSON object from an LLM response, handling
// markdown code fences and prose around the object.
func ParseJSONResponse(text string) map[string]any {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	// Strip markdown code fences
	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		endIdx := len(lines) - 1
		for i := len(lines) - 1; i > 0; i-- {
			if strings.TrimSpace(lines[i]) == "```" {
				endIdx = i
				break
			}
		}
		text = strings.Join(lines[1:endIdx], "\n")
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(text), &result); err == nil {
		return result
	}

	// Fall back to the outermost braces for answers wrapped in reasoning.
	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(text[start:end+1]), &result); err == nil {
			return result
		}
	}

	slog.Debug("failed to parse LLM response as JSON", slog.Int("length", len(text)))
	return nil
}

// String returns m[key] as a string, or fallback when missing or not a string.
func String(m map[string]any, key, fallback string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

// FirstString returns the first key present as a string.
func FirstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// Bool returns m[key] as a bool. Strings "true"/"false" are accepted.
func Bool(m map[string]any, key string) (bool, bool) {
	switch v := m[key].(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes":
			return true, true
		case "false", "no":
			return false, true
		}
	}
	return false, false
}

// Strings returns the string elements of m[key]. Numbers are rendered as
// integers so index-style answers survive.
func Strings(m map[string]any, key string) ([]string, bool) {
	arr, ok := m[key].([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		switch x := v.(type) {
		case string:
			out = append(out, x)
		case float64:
			out = append(out, fmt.Sprintf("%d", int64(x)))
		}
	}
	return out, true
}
