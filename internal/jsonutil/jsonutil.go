package jsonutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrEmptyInput = errors.New("jsonutil: empty input")

// DecodeWithFallback decodes model-produced JSON into v. Direct decoding is
// tried first; when the payload is wrapped in a markdown code fence or in
// surrounding prose, the fenced block or the outermost object is extracted
// and retried before failing.
func DecodeWithFallback(raw string, v any) error {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ErrEmptyInput
	}
	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}
	if fenced, ok := extractCodeFence(s); ok {
		if err := json.Unmarshal([]byte(fenced), v); err == nil {
			return nil
		}
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(s[start:end+1]), v); err == nil {
			return nil
		}
	}
	return fmt.Errorf("jsonutil: input is not valid JSON (len=%d)", len(s))
}

func extractCodeFence(s string) (string, bool) {
	start := strings.Index(s, "```")
	if start < 0 {
		return "", false
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Skip an optional language tag on the fence line.
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	body := strings.TrimSpace(rest[:end])
	if body == "" {
		return "", false
	}
	return body, true
}
