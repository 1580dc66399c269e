// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command resolver serves and operates the natural-language API resolver.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/apiresolver/services/resolver/config"
)

// globalOptions hold the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	envFile    string
	logLevel   string
	logFormat  string

	// Populated by PersistentPreRunE.
	cfg       *config.Config
	logger    *slog.Logger
	syncLog   func() error
	stdout    io.Writer
	logOutput io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{stdout: stdout, logOutput: stderr}

	root := &cobra.Command{
		Use:   "resolver",
		Short: "Resolve natural-language requests to internal API calls",
		Long: `resolver matches free text to the closest internal API endpoint,
extracts the endpoint's parameters from the text with a completion model and
returns the finished request URL.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if opts.syncLog != nil {
				_ = opts.syncLog()
			}
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "YAML configuration file layered over the built-in defaults")
	pf.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment (missing file is ignored)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level override: debug, info, warn, error")
	pf.StringVar(&opts.logFormat, "log-format", "", "log format override: auto, json, console")

	root.AddCommand(
		newServeCmd(opts),
		newLoadCmd(opts),
		newResolveCmd(opts),
		newInsightsCmd(opts),
		newIndexCmd(opts),
	)
	return root
}

// init loads configuration and builds the logger.
func (o *globalOptions) init() error {
	if o.envFile != "" {
		if err := config.LoadDotEnv(o.envFile); err != nil {
			return err
		}
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, sync, err := newLogger(cfg.Logging, o.logOutput)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	o.cfg, o.logger, o.syncLog = cfg, logger, sync
	return nil
}

func main() {
	root := newRootCmd(os.Stdout, os.Stderr)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "resolver: %v\n", err)
		os.Exit(1)
	}
}
