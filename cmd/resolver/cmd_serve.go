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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/apiresolver/services/resolver"
	"github.com/AleutianAI/apiresolver/services/resolver/config"
)

func newServeCmd(g *globalOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Start the HTTP server. The endpoint corpus is loaded in the background;
/resolve answers 503 SERVICE_WARMING_UP until it is ready. A failed corpus
load stops the server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				g.cfg.Server.Addr = addr
			}
			return runServe(cmd.Context(), g.cfg, g.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

// newRouter builds the gin engine with tracing, recovery and all routes.
func newRouter(svc *resolver.Service, cfg *config.Config, metrics http.Handler, logger *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	router.Use(requestLogger(logger))

	handlers := resolver.NewHandlers(svc, cfg.Server.MaxBodyBytes, logger)
	resolver.RegisterRoutes(router, handlers, cfg.Server.WarmupRetryAfter)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
	return router
}

// requestLogger logs one debug line per request.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}

func runServe(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	tel, err := setupTelemetry(ctx, cfg.Telemetry, logger)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			logger.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("Index close failed", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newRouter(a.service, cfg, tel.metrics, logger),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("Starting resolver server", slog.String("address", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go loadInBackground(ctx, a, logger, errCh)

	select {
	case <-ctx.Done():
		logger.Info("Shutting down resolver server")
	case err = <-errCh:
		logger.Error("Resolver server stopping", slog.String("error", err.Error()))
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(sctx); serr != nil {
		logger.Warn("HTTP shutdown incomplete", slog.String("error", serr.Error()))
	}
	return err
}

// loadInBackground runs the corpus load while the server already answers
// /health and /ready. A failure or panic is reported on errCh.
func loadInBackground(ctx context.Context, a *app, logger *slog.Logger, errCh chan<- error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			logger.Error("Panic in corpus load recovered",
				slog.Any("panic", r),
				slog.String("stack", string(buf[:n])),
			)
			errCh <- fmt.Errorf("%w: panic: %v", errCorpusLoad, r)
		}
	}()

	logger.Info("Corpus load in progress", slog.String("backend", a.index.Backend()))
	res, err := a.loader.Load(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		errCh <- fmt.Errorf("%w: %w", errCorpusLoad, err)
		return
	}
	logger.Info("Resolver ready",
		slog.Int("records", res.Total),
		slog.Bool("skipped", res.Skipped),
		slog.Duration("duration", res.Duration),
	)
}
