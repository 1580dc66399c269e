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
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/apiresolver/services/resolver/index"
)

func newIndexCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Inspect the persisted embedding index",
	}
	cmd.AddCommand(newIndexDumpCmd(g))
	return cmd
}

func newIndexDumpCmd(g *globalOptions) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print every record and vector stored in the BadgerDB index",
		Long: `Open the memory backend's BadgerDB directory read-only and print one block
per stored record: key, record id, description, vector dimension and norm,
and a short sample of the vector.

Defaults to index.data_dir from the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				path = g.cfg.Index.DataDir
			}
			if path == "" {
				return errors.New("no index directory: pass --path or set INDEX_DATA_DIR")
			}
			return runDump(cmd, path, g.stdout)
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "BadgerDB directory (overrides index.data_dir)")
	return cmd
}

func runDump(cmd *cobra.Command, path string, w io.Writer) error {
	fmt.Fprintf(w, "Index path: %s\n", path)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(w, "Index directory does not exist. Run `resolver load` with INDEX_DATA_DIR set to populate it.")
		return nil
	}

	db, err := index.OpenBadgerReadOnly(path)
	if err != nil {
		return fmt.Errorf("open index at %s: %w", path, err)
	}
	defer func() { _ = db.Close() }()

	n := 0
	err = index.NewBadgerStore(db, nil).Scan(cmd.Context(), func(e index.ScannedEntry) error {
		n++
		if n == 1 {
			fmt.Fprintln(w, strings.Repeat("─", 80))
		}
		printEntry(w, n, e)
		return nil
	})
	if err != nil {
		return fmt.Errorf("read index: %w", err)
	}
	if n == 0 {
		fmt.Fprintln(w, "No index entries found.")
		return nil
	}
	fmt.Fprintf(w, "\n%d entr%s.\n", n, plural(n, "y", "ies"))
	return nil
}

func printEntry(w io.Writer, i int, e index.ScannedEntry) {
	fmt.Fprintf(w, "\n[%d] Key:         %s\n", i, e.Key)
	fmt.Fprintf(w, "    Raw size:    %d bytes\n", e.RawSize)
	if e.DecodeErr != nil {
		fmt.Fprintf(w, "    ERROR:       %v\n", e.DecodeErr)
		return
	}
	fmt.Fprintf(w, "    Record:      %s\n", e.Record.ID)
	fmt.Fprintf(w, "    Description: %s\n", e.Record.Description)
	fmt.Fprintf(w, "    URL:         %s\n", e.Record.URLTemplate)
	fmt.Fprintf(w, "    Dims:        %d\n", len(e.Vector))
	fmt.Fprintf(w, "    Norm:        %.4f\n", norm(e.Vector))
	fmt.Fprintf(w, "    Sample:      %s\n", sample(e.Vector, 5))
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func sample(v []float32, n int) string {
	if len(v) == 0 {
		return "[]"
	}
	parts := make([]string, 0, n+1)
	for i := 0; i < len(v) && i < n; i++ {
		parts = append(parts, fmt.Sprintf("%.4f", v[i]))
	}
	if len(v) > n {
		parts = append(parts, "…")
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
