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
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	resolverTracer = otel.Tracer("resolver.service")
	resolverMeter  = otel.Meter("resolver.service")
)

// stageDuration records per-stage latency through the OTel meter provider,
// which the server exports on /metrics.
var stageDuration, _ = resolverMeter.Float64Histogram(
	"resolver.stage.duration",
	metric.WithDescription("Duration of each resolve pipeline stage."),
	metric.WithUnit("s"),
)

var requestOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "resolver",
		Name:      "requests_total",
		Help:      "Resolve and insights requests by outcome code.",
	},
	[]string{"operation", "code"},
)

var extractedParams = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "resolver",
		Name:      "extracted_parameters",
		Help:      "Parameters extracted per resolved query.",
		Buckets:   []float64{0, 1, 2, 3, 4, 6, 8},
	},
)

func observeStage(ctx context.Context, stage string, start time.Time) {
	if stageDuration == nil {
		return
	}
	stageDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

func recordOutcome(operation string, err *Error) {
	code := "OK"
	if err != nil {
		code = string(err.Kind)
	}
	requestOutcomes.WithLabelValues(operation, code).Inc()
}
