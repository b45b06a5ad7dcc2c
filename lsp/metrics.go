// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for connection instrumentation.
var (
	tracer = otel.Tracer("aleutian.lsprpc")
	meter  = otel.Meter("aleutian.lsprpc")
)

const (
	directionInbound  = "inbound"
	directionOutbound = "outbound"
)

// Metrics for RPC traffic.
var (
	rpcLatency  metric.Float64Histogram
	rpcTotal    metric.Int64Counter
	cancelTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		rpcLatency, err = meter.Float64Histogram(
			"lsp_rpc_duration_seconds",
			metric.WithDescription("Duration of LSP requests, from dispatch or send to response"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rpcTotal, err = meter.Int64Counter(
			"lsp_rpc_total",
			metric.WithDescription("Total number of LSP requests"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cancelTotal, err = meter.Int64Counter(
			"lsp_cancel_total",
			metric.WithDescription("Total number of $/cancelRequest notifications acted on"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startDispatchSpan creates a span for an inbound request dispatch.
func startDispatchSpan(ctx context.Context, method string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Conn.dispatch/"+method,
		trace.WithAttributes(
			attribute.String("lsp.method", method),
		),
	)
}

// recordRPC records metrics for one completed request.
func recordRPC(ctx context.Context, method, direction string, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("direction", direction),
		attribute.Bool("success", success),
	)
	rpcLatency.Record(ctx, duration.Seconds(), attrs)
	rpcTotal.Add(ctx, 1, attrs)
}

// recordCancel records an acted-on inbound cancellation.
func recordCancel(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	cancelTotal.Add(ctx, 1)
}
