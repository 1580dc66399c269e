// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package template substitutes extracted parameter values into endpoint URL
// templates.
package template

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Values is an insertion-ordered parameter mapping. extract.Result satisfies it.
type Values interface {
	// Keys returns the parameter names in insertion order.
	Keys() []string

	// Get returns the value stored for key.
	Get(key string) (any, bool)
}

// Resolve builds the final URL by substituting each value into urlTemplate.
//
// # Description
//
// Keys are applied in insertion order. For each key only ONE occurrence is
// replaced: the last one in the current string. When that occurrence is
// wrapped in braces, "{key}", the braces are consumed with it. A key that
// does not occur is skipped.
//
// Targeting the last occurrence picks the trailing slot when the key text also
// appears earlier, e.g. in a query-string name:
//
//	Resolve("/marks/?StudentID=StudentID", {StudentID: "S002"})
//	// "/marks/?StudentID=S002"
//
//	Resolve("X/{id}/sub/{id}", {id: "42"})
//	// "X/{id}/sub/42"
//
//	Resolve("/a/{id}/b/id", {id: "42"})
//	// "/a/{id}/b/42"
//
// # Thread Safety
//
// Pure function; safe for concurrent use.
func Resolve(urlTemplate string, values Values) string {
	if values == nil {
		return urlTemplate
	}
	out := urlTemplate
	for _, key := range values.Keys() {
		if key == "" {
			continue
		}
		v, _ := values.Get(key)
		out = replaceLast(out, key, ValueString(v))
	}
	return out
}

// replaceLast replaces the last occurrence of key in s, widening the span to
// the enclosing braces when the occurrence is written "{key}".
func replaceLast(s, key, value string) string {
	i := strings.LastIndex(s, key)
	if i < 0 {
		return s
	}
	start, end := i, i+len(key)
	if start > 0 && end < len(s) && s[start-1] == '{' && s[end] == '}' {
		start--
		end++
	}
	return s[:start] + value + s[end:]
}

// ValueString renders an extracted value for substitution.
//
//	string           verbatim
//	json.Number      its literal
//	float64, int     shortest decimal form
//	bool             true / false
//	nil              empty string
//	anything else    compact JSON
func ValueString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
