// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the status API router.
//
// Endpoints:
//
//	GET  /healthz - Liveness
//	GET  /metrics - Prometheus run metrics
//	GET  /v1/agent/tasks?project= - List tasks
//	POST /v1/agent/tasks - Enqueue a task
//	GET  /v1/agent/tasks/:id?project= - Get one task
//	GET  /v1/agent/stats?project= - Backlog statistics
//	GET  /v1/agent/sessions?project= - List sessions
//	GET  /v1/agent/sessions/resume-point?project= - Canonical resume target
//	GET  /v1/agent/graph/component?project=&id=&relation=&recursive= - Graph query
func NewRouter(h *Handlers, registry *prometheus.Registry) *gin.Engine {
	RegisterValidations()

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", h.Healthz)
	if registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/v1/agent")
	{
		v1.GET("/tasks", h.ListTasks)
		v1.POST("/tasks", h.CreateTask)
		v1.GET("/tasks/:id", h.GetTask)
		v1.GET("/stats", h.Stats)
		v1.GET("/sessions", h.ListSessions)
		v1.GET("/sessions/resume-point", h.ResumePoint)
		v1.GET("/graph/component", h.GraphComponent)
	}
	return r
}
