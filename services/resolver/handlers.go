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
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Request / Response Types
// =============================================================================

// ResolveRequest is the body of POST /resolve.
type ResolveRequest struct {
	Query string `json:"query"`
}

// InsightsRequest is the body of POST /insights.
type InsightsRequest struct {
	Text string `json:"text"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	TraceID string `json:"trace_id,omitempty"`
}

// ReadyResponse is the body of GET /ready.
type ReadyResponse struct {
	Ready   bool   `json:"ready"`
	Records int    `json:"records"`
	Error   string `json:"error,omitempty"`
}

// =============================================================================
// Handlers
// =============================================================================

// Handlers serves the HTTP API over a Service.
type Handlers struct {
	svc          *Service
	logger       *slog.Logger
	maxBodyBytes int64
}

// DefaultMaxBodyBytes caps request bodies when no limit is configured.
const DefaultMaxBodyBytes = 1 << 20

// NewHandlers creates Handlers. maxBodyBytes <= 0 selects DefaultMaxBodyBytes.
func NewHandlers(svc *Service, maxBodyBytes int64, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &Handlers{svc: svc, logger: logger, maxBodyBytes: maxBodyBytes}
}

// HandleResolve handles POST /resolve and its alias POST /api.
//
// Success is 200 {"url","data","isFrontend"}. Failures carry {"error","code"}
// with the status from Error.Status.
func (h *Handlers) HandleResolve(c *gin.Context) {
	req, ok := c.Get(resolveRequestKey)
	if !ok {
		var r ResolveRequest
		if !h.bind(c, &r) {
			return
		}
		req = r
	}
	res, err := h.svc.Resolve(c.Request.Context(), req.(ResolveRequest).Query)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleInsights handles POST /insights.
func (h *Handlers) HandleInsights(c *gin.Context) {
	var req InsightsRequest
	if !h.bind(c, &req) {
		return
	}
	summary, err := h.svc.Insights(c.Request.Context(), req.Text)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// HandleHealth handles GET /health. It reports liveness only.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// HandleReady handles GET /ready: 200 once the corpus is loaded, else 503.
func (h *Handlers) HandleReady(c *gin.Context) {
	resp := ReadyResponse{Ready: h.svc.Ready()}
	n, err := h.svc.Count(c.Request.Context())
	if err != nil {
		resp.Ready = false
		resp.Error = err.Error()
	}
	resp.Records = n

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// bind decodes the JSON body into dst. It answers 400 and returns false on
// failure.
func (h *Handlers) bind(c *gin.Context, dst any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	if err := c.ShouldBindJSON(dst); err != nil {
		h.fail(c, newError(KindInvalidInput, "Invalid JSON body", err))
		return false
	}
	return true
}

// resolveRequestKey holds the ResolveRequest decoded by ValidateResolveRequest.
const resolveRequestKey = "resolver.resolve_request"

// ValidateResolveRequest decodes and checks the /resolve body ahead of the
// warm-up guard, so a malformed body or empty query is answered 400 even
// while the corpus is loading.
func (h *Handlers) ValidateResolveRequest(c *gin.Context) {
	var req ResolveRequest
	if !h.bind(c, &req) {
		c.Abort()
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		e := newError(KindInvalidInput, msgNoQuery, nil)
		recordOutcome("resolve", e)
		h.fail(c, e)
		c.Abort()
		return
	}
	c.Set(resolveRequestKey, req)
	c.Next()
}

func (h *Handlers) fail(c *gin.Context, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = classify(err, KindExtractionParse)
	}
	tid := traceID(c.Request.Context())
	if e.Status() >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			slog.String("path", c.FullPath()),
			slog.String("code", string(e.Kind)),
			slog.String("error", e.Error()),
			slog.String("trace_id", tid),
		)
	}
	c.JSON(e.Status(), ErrorResponse{Error: e.Message, Code: string(e.Kind), TraceID: tid})
}

// =============================================================================
// Middleware
// =============================================================================

// WarmupGuardMiddleware answers 503 SERVICE_WARMING_UP until ready returns
// true.
//
// # Description
//
// Placed in front of the query routes so no request reaches the index before
// the corpus load has finished. Rejections get a Retry-After header and a
// span carrying the inherited trace context, so clients can correlate the
// 503 with their own traces.
//
// # Thread Safety
//
// Safe for concurrent use.
func WarmupGuardMiddleware(ready func() bool, retryAfter time.Duration, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	secs := int(retryAfter.Round(time.Second) / time.Second)
	if secs <= 0 {
		secs = 1
	}
	retry := strconv.Itoa(secs)

	return func(c *gin.Context) {
		if ready() {
			c.Next()
			return
		}
		_, span := resolverTracer.Start(c.Request.Context(), "warmup_guard.reject",
			oteltrace.WithAttributes(
				attribute.String("path", c.Request.URL.Path),
				attribute.String("method", c.Request.Method),
				attribute.Int("http.status_code", http.StatusServiceUnavailable),
			),
		)
		defer span.End()
		span.SetStatus(codes.Error, "service unavailable during corpus load")

		tid := ""
		if sc := span.SpanContext(); sc.HasTraceID() {
			tid = sc.TraceID().String()
		}
		logger.Warn("request rejected: corpus load in progress",
			slog.String("path", c.Request.URL.Path),
			slog.String("trace_id", tid),
		)
		recordOutcome("guard", newError(KindWarmingUp, msgWarmingUp, nil))

		c.Header("Retry-After", retry)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   msgWarmingUp,
			Code:    string(KindWarmingUp),
			TraceID: tid,
		})
	}
}
