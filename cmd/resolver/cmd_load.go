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
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/apiresolver/services/resolver/catalog"
)

func newLoadCmd(g *globalOptions) *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load the endpoint corpus into the configured index",
		Long: `Read the endpoint corpus and embed every description into the configured
index. An index that already holds records is left untouched.

With --check the corpus is only parsed and validated: URL templates are
compared against their declared parameter names and every mismatch is
printed as a warning. Nothing is embedded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if check {
				return runCheck(cmd, g)
			}
			return runLoad(cmd, g)
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "validate the corpus without embedding it")
	return cmd
}

func runCheck(cmd *cobra.Command, g *globalOptions) error {
	records, source, err := catalog.Load(cmd.Context(), g.cfg.Corpus.Path)
	if err != nil {
		return err
	}
	issues := catalog.Check(records)
	printCheck(g.stdout, source, len(records), issues)
	return nil
}

func printCheck(w io.Writer, source string, n int, issues []catalog.Issue) {
	fmt.Fprintf(w, "Corpus: %s\n", source)
	fmt.Fprintf(w, "Records: %d\n", n)
	if len(issues) == 0 {
		fmt.Fprintln(w, "No issues found.")
		return
	}
	fmt.Fprintf(w, "%d warning%s:\n", len(issues), plural(len(issues), "", "s"))
	for _, is := range issues {
		fmt.Fprintf(w, "  warning: %s\n", is)
	}
}

func runLoad(cmd *cobra.Command, g *globalOptions) error {
	idx, loader, err := openIndex(cmd.Context(), g.cfg, g.logger)
	if err != nil {
		return err
	}
	defer func() { _ = idx.Close() }()

	res, err := loader.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("%w: %w", errCorpusLoad, err)
	}

	w := g.stdout
	fmt.Fprintf(w, "Backend: %s\n", idx.Backend())
	if res.Skipped {
		fmt.Fprintf(w, "Index already populated with %d records; nothing loaded.\n", res.Total)
		return nil
	}
	fmt.Fprintf(w, "Corpus:  %s\n", res.Source)
	fmt.Fprintf(w, "Loaded:  %d record%s in %s\n", res.Loaded, plural(res.Loaded, "", "s"), res.Duration.Round(time.Millisecond))
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
