// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"regexp"
)

// secretPatterns lists credential formats that may show up in backend error
// bodies or echoed prompts. More specific prefixes come first so that
// "sk-ant-..." is labelled as an Anthropic key rather than an OpenAI one.
var secretPatterns = []struct {
	re    *regexp.Regexp
	label string
}{
	{regexp.MustCompile(`gsk_[A-Za-z0-9]{20,}`), "[REDACTED:groq_key]"},
	{regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{20,}`), "[REDACTED:anthropic_key]"},
	{regexp.MustCompile(`sk-(?:proj-)?[A-Za-z0-9_-]{20,}`), "[REDACTED:openai_key]"},
	{regexp.MustCompile(`AIza[A-Za-z0-9_-]{30,}`), "[REDACTED:gemini_key]"},
	{regexp.MustCompile(`Bearer\s+[A-Za-z0-9._-]{10,}`), "[REDACTED:bearer_token]"},
	{regexp.MustCompile(`key=[A-Za-z0-9._-]{10,}`), "key=[REDACTED]"},
}

// SafeLogString redacts known credential formats from s.
//
// Description:
//
//	Applied to every backend body that ends up in an error message or a log
//	line. Detection is pattern based: a key with an unknown prefix is not
//	caught, and a secret split across lines is not matched.
//
// Examples:
//
//	SafeLogString("invalid key gsk_abcdefghijklmnopqrstuvwx")
//	// "invalid key [REDACTED:groq_key]"
//
// Thread Safety: This function is safe for concurrent use.
func SafeLogString(s string) string {
	if s == "" {
		return s
	}
	for _, p := range secretPatterns {
		s = p.re.ReplaceAllString(s, p.label)
	}
	return s
}
