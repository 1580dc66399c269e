// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolver

import (
	"time"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the resolver endpoints.
//
// Endpoints:
//
//	POST /resolve   - Resolve a query to an API URL
//	POST /api       - Alias of /resolve
//	POST /insights  - Three-point summary of aggregate data
//	GET  /health    - Liveness
//	GET  /ready     - Corpus load status
//
// /resolve and /api validate their body first and then sit behind the
// warm-up guard. /metrics is registered by
// the server, which owns the exporters.
func RegisterRoutes(r gin.IRouter, h *Handlers, retryAfter time.Duration) {
	r.GET("/health", h.HandleHealth)
	r.GET("/ready", h.HandleReady)
	r.POST("/insights", h.HandleInsights)

	guarded := r.Group("")
	guarded.Use(h.ValidateResolveRequest, WarmupGuardMiddleware(h.svc.Ready, retryAfter, h.logger))
	guarded.POST("/resolve", h.HandleResolve)
	guarded.POST("/api", h.HandleResolve)
}
