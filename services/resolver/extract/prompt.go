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
	"strings"
	"text/template"
)

// extractionSystemPrompt keeps chat models from adding commentary.
const extractionSystemPrompt = "You extract structured fields from text. Reply with one JSON object and nothing else."

var extractionPrompt = template.Must(template.New("extract").Parse(`
Given the following text, extract the required fields listed below.
Ensure the response is strictly formatted as a JSON object without any additional text.

Fields to extract: {{.Fields}}

Use each field name exactly as written as the JSON key.
If a field is not stated explicitly in the text, use its default value instead of guessing:
{{- range .Defaults}}
- {{.Name}}: {{.Value}}
{{- end}}

Text:
{{.Text}}

### JSON OUTPUT (STRICT FORMAT, NO EXTRA TEXT):
`))

type promptDefault struct {
	Name  string
	Value string
}

// BuildPrompt renders the extraction prompt for the given fields and text.
//
// Fields are listed as a JSON array in declaration order. Every field gets a
// default line: the configured per-field default, else defaultValue. Defaults
// are rendered as JSON literals so the model copies them verbatim.
func BuildPrompt(fields []string, text string, defaults map[string]string, defaultValue string) string {
	fieldsJSON, _ := json.Marshal(fields)

	lines := make([]promptDefault, 0, len(fields))
	for _, f := range fields {
		v, ok := defaults[f]
		if !ok {
			v = defaultValue
		}
		lines = append(lines, promptDefault{Name: f, Value: jsonLiteral(v)})
	}

	var sb strings.Builder
	_ = extractionPrompt.Execute(&sb, struct {
		Fields   string
		Defaults []promptDefault
		Text     string
	}{
		Fields:   string(fieldsJSON),
		Defaults: lines,
		Text:     text,
	})
	return strings.TrimSpace(sb.String()) + "\n"
}

// jsonLiteral returns v as written when it is already a JSON literal (null,
// true, a number), otherwise as a quoted JSON string.
func jsonLiteral(v string) string {
	if json.Valid([]byte(v)) && !strings.HasPrefix(strings.TrimSpace(v), "{") && !strings.HasPrefix(strings.TrimSpace(v), "[") {
		return v
	}
	b, _ := json.Marshal(v)
	return string(b)
}
