// Package util contains internal helpers for extracting and validating
// structured payloads from model output.
package util

import (
	"strings"

	"github.com/tidwall/gjson"
)

// ExtractJSON pulls a JSON document out of model output that may wrap it
// in markdown code fences or surrounding prose. It returns the innermost
// candidate that parses as valid JSON, or the trimmed input when no
// better candidate is found.
func ExtractJSON(text string) string {
	text = strings.TrimSpace(text)

	if fenced, ok := extractFenced(text); ok {
		return fenced
	}

	// Fall back to the outermost object or array literal, whichever
	// starts first, so an array of objects is not mistaken for its
	// first element.
	pairs := [][2]byte{{'{', '}'}, {'[', ']'}}
	if objStart, arrStart := strings.IndexByte(text, '{'), strings.IndexByte(text, '['); arrStart >= 0 && (objStart < 0 || arrStart < objStart) {
		pairs[0], pairs[1] = pairs[1], pairs[0]
	}
	for _, pair := range pairs {
		start := strings.IndexByte(text, pair[0])
		end := strings.LastIndexByte(text, pair[1])
		if start >= 0 && end > start {
			candidate := text[start : end+1]
			if gjson.Valid(candidate) {
				return candidate
			}
		}
	}

	return text
}

func extractFenced(text string) (string, bool) {
	for _, marker := range []string{"```json", "```"} {
		start := strings.Index(text, marker)
		if start < 0 {
			continue
		}
		rest := text[start+len(marker):]
		end := strings.Index(rest, "```")
		if end < 0 {
			continue
		}
		candidate := strings.TrimSpace(rest[:end])
		if gjson.Valid(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// StringField reads a top-level string field from a JSON document,
// returning the empty string when absent.
func StringField(doc, field string) string {
	return gjson.Get(doc, field).String()
}

// FloatField reads a top-level numeric field from a JSON document.
func FloatField(doc, field string) float64 {
	return gjson.Get(doc, field).Float()
}
