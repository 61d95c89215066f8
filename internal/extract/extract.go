// Package extract pulls JSON payloads out of worker and model output.
//
// Workers print diagnostic text and finish with one line of JSON; language
// models often wrap JSON in markdown fences. Both are handled here with an
// explicit error instead of falling back to defaults.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoPayload is returned when the input contains no JSON candidate at all.
var ErrNoPayload = errors.New("no JSON payload found")

// ParseError carries the raw text that failed to parse.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse JSON payload: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

const fence = "```"

// JSON returns the JSON document contained in text, which may be bare or
// wrapped in a ``` / ```json fence. Only the first fenced block is considered.
func JSON(text string) (json.RawMessage, error) {
	body := strings.TrimSpace(text)
	if body == "" {
		return nil, &ParseError{Raw: text, Err: ErrNoPayload}
	}

	if inner, ok := unfence(body); ok {
		body = inner
	}
	if body == "" {
		return nil, &ParseError{Raw: text, Err: ErrNoPayload}
	}

	if !json.Valid([]byte(body)) {
		var v any
		err := json.Unmarshal([]byte(body), &v)
		return nil, &ParseError{Raw: text, Err: err}
	}
	return compact(body), nil
}

// LastJSONLine scans output from the end and returns the last line that is a
// JSON object or array.
func LastJSONLine(output string) (json.RawMessage, error) {
	lines := strings.Split(strings.TrimRight(output, "\r\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if line[0] != '{' && line[0] != '[' {
			continue
		}
		if json.Valid([]byte(line)) {
			return compact(line), nil
		}
	}
	if strings.TrimSpace(output) == "" {
		return nil, &ParseError{Raw: output, Err: ErrNoPayload}
	}
	// A fenced block spanning several lines is still accepted.
	if strings.Contains(output, fence) {
		return JSON(output[strings.Index(output, fence):])
	}
	return nil, &ParseError{Raw: output, Err: ErrNoPayload}
}

func unfence(s string) (string, bool) {
	start := strings.Index(s, fence)
	if start < 0 {
		return "", false
	}
	rest := s[start+len(fence):]
	// Drop the info string ("json", "JSON", ...) on the opening line.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		info := strings.TrimSpace(rest[:nl])
		if info == "" || !strings.ContainsAny(info, "{[") {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, fence)
	if end < 0 {
		return strings.TrimSpace(rest), true
	}
	return strings.TrimSpace(rest[:end]), true
}

func compact(s string) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return json.RawMessage(s)
	}
	return buf.Bytes()
}
