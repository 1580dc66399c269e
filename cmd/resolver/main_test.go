// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd(&stdout, &stderr)
	root.SetArgs(append([]string{"--env-file", "", "--log-format", "json"}, args...))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

// offlineEnv points every backend at in-process implementations.
func offlineEnv(t *testing.T, corpus string) {
	t.Helper()
	t.Setenv("EMBEDDING_PROVIDER", "hash")
	t.Setenv("INDEX_BACKEND", "memory")
	t.Setenv("TELEMETRY_EXPORTER", "none")
	if corpus != "" {
		path := filepath.Join(t.TempDir(), "endpoints.csv")
		require.NoError(t, os.WriteFile(path, []byte(corpus), 0o600))
		t.Setenv("CORPUS_PATH", path)
	}
}

func TestHelp(t *testing.T) {
	out, err := runCLI(t, "--help")
	require.NoError(t, err)
	for _, sub := range []string{"serve", "load", "resolve", "insights", "index"} {
		assert.Contains(t, out, sub)
	}
}

func TestLoadCheck_EmbeddedCorpus(t *testing.T) {
	offlineEnv(t, "")
	out, err := runCLI(t, "load", "--check")
	require.NoError(t, err)
	assert.Contains(t, out, "Corpus: embedded:endpoints.csv")
	assert.Contains(t, out, "Records: 25")
}

func TestLoadCheck_ReportsTemplateMismatch(t *testing.T) {
	offlineEnv(t, "Description,url,variables,isFrontend\n"+
		"Get a teacher,http://127.0.0.1:8000/teachers/,['TID'],false\n")
	out, err := runCLI(t, "load", "--check")
	require.NoError(t, err)
	assert.Contains(t, out, "Records: 1")
	assert.Contains(t, out, "warning:")
}

func TestResolve_ParameterlessEndpoint(t *testing.T) {
	offlineEnv(t, "Description,url,variables,isFrontend\n"+
		"List all teachers,http://127.0.0.1:8000/teachers/,[],false\n")
	out, err := runCLI(t, "resolve", "list", "all", "teachers")
	require.NoError(t, err)
	assert.JSONEq(t, `{"url":"http://127.0.0.1:8000/teachers/","data":{},"isFrontend":false}`, out)
}

func TestResolve_NoMatchIsSoft(t *testing.T) {
	offlineEnv(t, "Description,url,variables,isFrontend\n")
	out, err := runCLI(t, "resolve", "anything")
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"No matching API found","code":"NO_MATCH"}`, out)
}

func TestResolve_RequiresQuery(t *testing.T) {
	offlineEnv(t, "")
	_, err := runCLI(t, "resolve")
	assert.Error(t, err)
}

func TestLoadThenDump(t *testing.T) {
	offlineEnv(t, "Description,url,variables,isFrontend\n"+
		"List all teachers,http://127.0.0.1:8000/teachers/,[],false\n"+
		"Get a student,http://127.0.0.1:8000/students/SID/,['SID'],false\n")
	dir := filepath.Join(t.TempDir(), "index")
	t.Setenv("INDEX_DATA_DIR", dir)

	out, err := runCLI(t, "load")
	require.NoError(t, err)
	assert.Contains(t, out, "Loaded:  2 records")

	out, err = runCLI(t, "load")
	require.NoError(t, err)
	assert.Contains(t, out, "already populated with 2 records")

	out, err = runCLI(t, "index", "dump")
	require.NoError(t, err)
	assert.Contains(t, out, "List all teachers")
	assert.Contains(t, out, "Get a student")
	assert.Contains(t, out, "2 entries.")
}

func TestDump_MissingDirectory(t *testing.T) {
	offlineEnv(t, "")
	out, err := runCLI(t, "index", "dump", "--path", filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Contains(t, out, "does not exist")
}

func TestInvalidConfigFails(t *testing.T) {
	offlineEnv(t, "")
	t.Setenv("INDEX_BACKEND", "sqlite")
	_, err := runCLI(t, "load", "--check")
	assert.Error(t, err)
}
