// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires tracing and metrics for an agent run.
//
// Tracing uses OpenTelemetry with a stdout exporter (the agent is a
// single local process; there is no collector to ship to). Metrics use a
// dedicated Prometheus registry exposed by the status API's /metrics
// endpoint. Both are optional: a nil *Telemetry degrades to no-ops via
// the Noop constructor.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/prometheus/client_golang/prometheus"
)

// Config configures run telemetry.
type Config struct {
	// ServiceName labels traces. Default: "caldera".
	ServiceName string

	// EnableTracing turns on the stdout span exporter. Off by default;
	// span output on stderr is noisy for interactive runs.
	EnableTracing bool
}

// Telemetry bundles the run's tracer and metrics.
type Telemetry struct {
	Tracer   trace.Tracer
	Metrics  *Metrics
	Registry *prometheus.Registry

	tp *sdktrace.TracerProvider
}

// New initializes telemetry for a run.
func New(cfg Config) (*Telemetry, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "caldera"
	}

	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	t := &Telemetry{
		Metrics:  metrics,
		Registry: registry,
	}

	if !cfg.EnableTracing {
		t.Tracer = noop.NewTracerProvider().Tracer(name)
		return t, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", name),
	)
	t.tp = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	t.Tracer = t.tp.Tracer(name)
	return t, nil
}

// Noop returns telemetry that records nothing. Used in tests.
func Noop() *Telemetry {
	registry := prometheus.NewRegistry()
	return &Telemetry{
		Tracer:   noop.NewTracerProvider().Tracer("caldera"),
		Metrics:  NewMetrics(registry),
		Registry: registry,
	}
}

// Shutdown flushes pending spans. Safe on no-op telemetry.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.tp == nil {
		return nil
	}
	return t.tp.Shutdown(ctx)
}
