// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog reads the endpoint corpus: the table of internal API
// descriptions, URL templates and declared parameter names that the resolver
// searches over.
package catalog

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// EmptyParameterList is the serialized marker for an endpoint without parameters.
const EmptyParameterList = "[]"

// EndpointRecord is one catalogued internal API.
//
// # Description
//
// Records are created once during corpus load and never mutated afterwards.
// ParameterNames keeps the order in which the corpus declared the fields;
// the extraction prompt lists them in that order.
//
// # Thread Safety
//
// Immutable after construction; safe to share between goroutines.
type EndpointRecord struct {
	ID             string   `json:"id"`
	Description    string   `json:"description"`
	URLTemplate    string   `json:"url"`
	ParameterNames []string `json:"variables"`
	IsFrontend     bool     `json:"isFrontend"`
}

// HasParameters reports whether the endpoint declares any parameter.
func (r EndpointRecord) HasParameters() bool {
	return len(r.ParameterNames) > 0
}

// NewRecordID returns a fresh opaque record id.
func NewRecordID() string {
	return uuid.NewString()
}

// ParseParameterNames decodes the serialized parameter list of a corpus row.
//
// # Description
//
// The corpus has been edited by hand and by spreadsheet exports, so several
// encodings appear in practice:
//
//	""                  -> none
//	"[]"                -> none
//	`["A", "B"]`        -> [A B]
//	"['A', 'B']"        -> [A B]
//	"A, B"              -> [A B]
//
// Blank entries are dropped and surrounding whitespace is trimmed. Order is
// preserved and duplicates are kept out.
//
// # Outputs
//
//   - []string: Parameter names. Nil when the row declares none.
func ParseParameterNames(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == EmptyParameterList {
		return nil
	}

	var names []string
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &names); err != nil {
			names = splitLoose(strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]"))
		}
	} else {
		names = splitLoose(raw)
	}

	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// splitLoose splits a comma separated list and strips quote characters.
func splitLoose(s string) []string {
	parts := strings.Split(s, ",")
	for i, p := range parts {
		parts[i] = strings.Trim(strings.TrimSpace(p), `'"`)
	}
	return parts
}

// FormatParameterNames is the inverse of ParseParameterNames, producing the
// JSON array form. It is used when records are written to metadata stores.
func FormatParameterNames(names []string) string {
	if len(names) == 0 {
		return EmptyParameterList
	}
	b, err := json.Marshal(names)
	if err != nil {
		return EmptyParameterList
	}
	return string(b)
}
