// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"encoding/json"
	"strings"
	"time"
	"unicode"

	"github.com/AleutianAI/apiresolver/services/resolver/catalog"
)

// RemoteOptions configure the weaviate and qdrant backends.
type RemoteOptions struct {
	Embed        EmbedOptions
	QueryTimeout time.Duration

	// Collection names the qdrant collection or, camel-cased, the weaviate
	// class. Empty selects DefaultCollection.
	Collection string
}

func (o RemoteOptions) collection() string {
	if o.Collection == "" {
		return DefaultCollection
	}
	return o.Collection
}

// Remote payload field names.
const (
	fieldRecordID    = "recordId"
	fieldDescription = "description"
	fieldURLTemplate = "urlTemplate"
	fieldParameters  = "parameterNames"
	fieldIsFrontend  = "isFrontend"
)

// payloadRecord is the flat form of a record stored next to its vector.
// Parameter names travel as a JSON array string so every store can keep them
// as plain text.
type payloadRecord struct {
	ID          string
	Description string
	URLTemplate string
	Parameters  string
	IsFrontend  bool
}

func toPayload(r catalog.EndpointRecord) payloadRecord {
	return payloadRecord{
		ID:          r.ID,
		Description: r.Description,
		URLTemplate: r.URLTemplate,
		Parameters:  catalog.FormatParameterNames(r.ParameterNames),
		IsFrontend:  r.IsFrontend,
	}
}

func (p payloadRecord) asMap() map[string]any {
	return map[string]any{
		fieldRecordID:    p.ID,
		fieldDescription: p.Description,
		fieldURLTemplate: p.URLTemplate,
		fieldParameters:  p.Parameters,
		fieldIsFrontend:  p.IsFrontend,
	}
}

func (p payloadRecord) record() catalog.EndpointRecord {
	return catalog.EndpointRecord{
		ID:             p.ID,
		Description:    p.Description,
		URLTemplate:    p.URLTemplate,
		ParameterNames: catalog.ParseParameterNames(p.Parameters),
		IsFrontend:     p.IsFrontend,
	}
}

// className turns a collection name into a weaviate class name
// ("api_endpoints" becomes "ApiEndpoints").
func className(collection string) string {
	var sb strings.Builder
	upper := true
	for _, r := range collection {
		if r == '_' || r == '-' || r == ' ' || r == '.' {
			upper = true
			continue
		}
		if upper {
			sb.WriteRune(unicode.ToUpper(r))
			upper = false
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// jsonString extracts a string from a decoded GraphQL value.
func jsonString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		b, _ := json.Marshal(s)
		return string(b)
	}
}
