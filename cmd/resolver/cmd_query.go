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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/apiresolver/services/resolver"
)

func newResolveCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <query...>",
		Short: "Resolve one query and print the response JSON",
		Long: `Load the corpus, resolve a single free-text query and print the same JSON
body POST /resolve would return. Soft failures (no match, unparseable
extraction) are printed as {"error": ...} and exit 0.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReadyService(cmd.Context(), g, func(ctx context.Context, svc *resolver.Service) (any, error) {
				return svc.Resolve(ctx, strings.Join(args, " "))
			})
		},
	}
}

func newInsightsCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "insights <text...>",
		Short: "Summarise text into three insights and print the response JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReadyService(cmd.Context(), g, func(ctx context.Context, svc *resolver.Service) (any, error) {
				return svc.Insights(ctx, strings.Join(args, " "))
			})
		},
	}
}

// withReadyService builds the app, completes the corpus load and prints the
// result of fn as indented JSON.
func withReadyService(ctx context.Context, g *globalOptions, fn func(context.Context, *resolver.Service) (any, error)) error {
	a, err := buildApp(ctx, g.cfg, g.logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if _, err := a.loader.Load(ctx); err != nil {
		return fmt.Errorf("%w: %w", errCorpusLoad, err)
	}

	out, err := fn(ctx, a.service)
	if err != nil {
		var re *resolver.Error
		if errors.As(err, &re) && re.Status() == http.StatusOK {
			return writeJSON(g.stdout, resolver.ErrorResponse{Error: re.Message, Code: string(re.Kind)})
		}
		return err
	}
	return writeJSON(g.stdout, out)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
