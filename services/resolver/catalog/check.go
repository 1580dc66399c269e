// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"fmt"
	"regexp"
	"strings"
)

var braceToken = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Issue is a data-quality finding for one corpus row.
type Issue struct {
	RecordID    string
	Description string
	Message     string
}

func (i Issue) String() string {
	return fmt.Sprintf("%q: %s", i.Description, i.Message)
}

// Check compares declared parameter names against the tokens in each URL
// template and reports mismatches. Findings are advisory; the resolver never
// rejects a record because of them.
func Check(records []EndpointRecord) []Issue {
	var issues []Issue
	seenIDs := make(map[string]struct{}, len(records))

	for _, r := range records {
		if _, dup := seenIDs[r.ID]; dup {
			issues = append(issues, Issue{RecordID: r.ID, Description: r.Description, Message: "duplicate record id"})
		}
		seenIDs[r.ID] = struct{}{}

		declared := make(map[string]struct{}, len(r.ParameterNames))
		for _, name := range r.ParameterNames {
			declared[name] = struct{}{}
			if !strings.Contains(r.URLTemplate, name) {
				issues = append(issues, Issue{
					RecordID:    r.ID,
					Description: r.Description,
					Message:     fmt.Sprintf("parameter %s does not occur in url %s", name, r.URLTemplate),
				})
			}
		}

		for _, m := range braceToken.FindAllStringSubmatch(r.URLTemplate, -1) {
			if _, ok := declared[m[1]]; !ok {
				issues = append(issues, Issue{
					RecordID:    r.ID,
					Description: r.Description,
					Message:     fmt.Sprintf("url token %s is not a declared parameter", m[0]),
				})
			}
		}
	}
	return issues
}
