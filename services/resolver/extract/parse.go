// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrMalformedOutput is the cause recorded in every ParseError.
var ErrMalformedOutput = errors.New("completion output is not a single JSON object")

// ParseError reports completion output that failed strict parsing.
//
// Raw holds the model output for internal logging. It must never be copied
// into a response.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("extract: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func parseErr(raw, format string, args ...any) *ParseError {
	return &ParseError{
		Raw: raw,
		Err: fmt.Errorf("%w: %s", ErrMalformedOutput, fmt.Sprintf(format, args...)),
	}
}

// ParseObject strictly parses completion output as one JSON object.
//
// # Description
//
// Accepted input is, after trimming whitespace, exactly one JSON object,
// optionally wrapped in a single Markdown code fence (```json ... ```).
// Everything else fails: prose before or after the object, arrays, scalars,
// two objects, truncated output. Keys keep the order in which they appear.
// Numbers decode as json.Number so identifiers like 0042 survive when quoted
// and integers are not rendered in float notation.
//
// # Outputs
//
//   - *Result: Parsed object. Never nil on success.
//   - error: *ParseError on any deviation.
func ParseObject(raw string) (*Result, error) {
	body := StripCodeFence(strings.TrimSpace(raw))
	if body == "" {
		return nil, parseErr(raw, "empty output")
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, parseErr(raw, "%v", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, parseErr(raw, "expected '{', found %v", tok)
	}

	result := NewResult()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, parseErr(raw, "%v", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, parseErr(raw, "expected object key, found %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, parseErr(raw, "value for %q: %v", key, err)
		}
		result.Set(key, v)
	}

	tok, err = dec.Token()
	if err != nil {
		return nil, parseErr(raw, "%v", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '}' {
		return nil, parseErr(raw, "expected '}', found %v", tok)
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, parseErr(raw, "unexpected data after JSON object")
	}
	return result, nil
}

// StripCodeFence removes one surrounding Markdown code fence. Input without
// both an opening and a closing fence is returned unchanged.
func StripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	inner := strings.TrimSuffix(s[3:], "```")
	// Drop the info string ("json") on the opening line.
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 {
		first := strings.TrimSpace(inner[:nl])
		if first == "" || !strings.ContainsAny(first, "{[\"") {
			inner = inner[nl+1:]
		}
	}
	return strings.TrimSpace(inner)
}
