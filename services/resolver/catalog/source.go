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
	"bytes"
	"context"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// =============================================================================
// Embedded Default Corpus
// =============================================================================

//go:embed endpoints.csv
var defaultCorpusCSV []byte

// DefaultSourceName labels the embedded corpus in logs and spans.
const DefaultSourceName = "embedded:endpoints.csv"

// MaxCorpusFileSize caps the corpus file read at startup.
const MaxCorpusFileSize = 16 << 20

var catalogTracer = otel.Tracer("resolver.catalog")

// column aliases, compared after lower-casing the header cell.
var (
	descriptionColumns = []string{"description"}
	urlColumns         = []string{"url", "urltemplate", "url_template"}
	variableColumns    = []string{"variables", "parameternames", "parameter_names"}
	frontendColumns    = []string{"isfrontend", "is_frontend", "frontend"}
)

// ErrMissingColumn is returned when a required header is absent.
var ErrMissingColumn = errors.New("catalog: missing required column")

// =============================================================================
// Loading
// =============================================================================

// Load reads the corpus from path, or the embedded default when path is empty.
//
// # Description
//
// Every row becomes an EndpointRecord with a freshly generated id. A read or
// parse failure is returned as an error; callers treat it as fatal because the
// resolver cannot serve without a corpus.
//
// # Inputs
//
//   - ctx: Context for tracing.
//   - path: CSV file path. Empty selects the embedded corpus.
//
// # Outputs
//
//   - []EndpointRecord: Records in file order. May be empty for a header-only file.
//   - string: Source name for logging.
//   - error: Non-nil if the file cannot be read or parsed.
func Load(ctx context.Context, path string) ([]EndpointRecord, string, error) {
	_, span := catalogTracer.Start(ctx, "catalog.Load")
	defer span.End()

	data := defaultCorpusCSV
	source := DefaultSourceName
	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "stat failed")
			return nil, path, fmt.Errorf("catalog: reading %s: %w", path, err)
		}
		if info.Size() > MaxCorpusFileSize {
			err := fmt.Errorf("catalog: %s exceeds maximum size (%d > %d)", path, info.Size(), MaxCorpusFileSize)
			span.SetStatus(codes.Error, err.Error())
			return nil, path, err
		}
		data, err = os.ReadFile(path)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "read failed")
			return nil, path, fmt.Errorf("catalog: reading %s: %w", path, err)
		}
		source = path
	}
	span.SetAttributes(attribute.String("catalog.source", source))

	records, err := Parse(bytes.NewReader(data))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return nil, source, fmt.Errorf("catalog: parsing %s: %w", source, err)
	}
	span.SetAttributes(attribute.Int("catalog.records", len(records)))
	return records, source, nil
}

// Parse decodes a corpus CSV stream with a header row.
//
// Rows with an empty description or url are skipped; they cannot be searched
// or resolved. Extra columns are ignored.
func Parse(r io.Reader) ([]EndpointRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	cols := indexHeader(header)
	descIdx, ok := lookupColumn(cols, descriptionColumns)
	if !ok {
		return nil, fmt.Errorf("%w: Description", ErrMissingColumn)
	}
	urlIdx, ok := lookupColumn(cols, urlColumns)
	if !ok {
		return nil, fmt.Errorf("%w: url", ErrMissingColumn)
	}
	varIdx, hasVars := lookupColumn(cols, variableColumns)
	feIdx, hasFrontend := lookupColumn(cols, frontendColumns)

	var records []EndpointRecord
	line := 1
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		desc := cell(row, descIdx)
		url := cell(row, urlIdx)
		if desc == "" || url == "" {
			continue
		}

		rec := EndpointRecord{
			ID:          NewRecordID(),
			Description: desc,
			URLTemplate: url,
		}
		if hasVars {
			rec.ParameterNames = ParseParameterNames(cell(row, varIdx))
		}
		if hasFrontend {
			rec.IsFrontend = parseBool(cell(row, feIdx))
		}
		records = append(records, rec)
	}
	return records, nil
}

func indexHeader(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, exists := cols[key]; !exists {
			cols[key] = i
		}
	}
	return cols
}

func lookupColumn(cols map[string]int, aliases []string) (int, bool) {
	for _, a := range aliases {
		if i, ok := cols[a]; ok {
			return i, true
		}
	}
	return 0, false
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// parseBool accepts the spreadsheet spellings of a boolean. Anything else is false.
func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "yes", "y":
		return true
	}
	b, err := strconv.ParseBool(s)
	return err == nil && b
}
