// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes the agent's persisted state over HTTP.
//
// The run itself is driven by the CLI; this service exists so terminal
// task states, session summaries, and graph queries are inspectable
// after the fact, and so an external planner can enqueue tasks. Nothing
// here mutates executor state beyond task creation.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/caldera/services/agent/knowledge"
	"github.com/AleutianAI/caldera/services/agent/session"
	"github.com/AleutianAI/caldera/services/agent/task"
)

// Handlers holds the stores the API reads from.
type Handlers struct {
	tasks    *task.Store
	sessions *session.Manager
	graphs   *knowledge.Store
	logger   *slog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(tasks *task.Store, sessions *session.Manager, graphs *knowledge.Store, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{tasks: tasks, sessions: sessions, graphs: graphs, logger: logger}
}

// RegisterValidations installs custom enum validators on gin's binding
// engine. Called once during router construction.
func RegisterValidations() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	_ = v.RegisterValidation("taskpriority", func(fl validator.FieldLevel) bool {
		return task.Priority(fl.Field().String()).IsValid()
	})
}

func projectParam(c *gin.Context) (string, bool) {
	project := c.Query("project")
	if project == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "project query parameter is required"})
		return "", false
	}
	return project, true
}

// Healthz reports liveness.
func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListTasks returns all tasks for a project in creation order.
func (h *Handlers) ListTasks(c *gin.Context) {
	project, ok := projectParam(c)
	if !ok {
		return
	}
	tasks, err := h.tasks.List(c.Request.Context(), project)
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// GetTask returns one task.
func (h *Handlers) GetTask(c *gin.Context) {
	project, ok := projectParam(c)
	if !ok {
		return
	}
	t, err := h.tasks.Get(c.Request.Context(), project, c.Param("id"))
	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type createTaskRequest struct {
	ProjectID   string   `json:"project_id" binding:"required"`
	Title       string   `json:"title" binding:"required"`
	Description string   `json:"description"`
	Type        string   `json:"type"`
	Priority    string   `json:"priority" binding:"omitempty,taskpriority"`
	DependsOn   []string `json:"depends_on"`
	MaxRetries  int      `json:"max_retries" binding:"omitempty,min=1,max=10"`
}

// CreateTask enqueues a task from an external planner.
func (h *Handlers) CreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t, err := h.tasks.Create(c.Request.Context(), task.Spec{
		ProjectID:   req.ProjectID,
		Title:       req.Title,
		Description: req.Description,
		Type:        req.Type,
		Priority:    task.Priority(req.Priority),
		DependsOn:   req.DependsOn,
		MaxRetries:  req.MaxRetries,
	})
	if err != nil {
		if errors.Is(err, task.ErrInvalidSpec) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// Stats returns backlog statistics: counts per status, average completed
// duration, and the drain ETA.
func (h *Handlers) Stats(c *gin.Context) {
	project, ok := projectParam(c)
	if !ok {
		return
	}
	stats, err := h.tasks.Statistics(c.Request.Context(), project)
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ListSessions returns all sessions, most recently updated first.
func (h *Handlers) ListSessions(c *gin.Context) {
	project, ok := projectParam(c)
	if !ok {
		return
	}
	sessions, err := h.sessions.List(c.Request.Context(), project)
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// ResumePoint returns the session a new process would resume.
func (h *Handlers) ResumePoint(c *gin.Context) {
	project, ok := projectParam(c)
	if !ok {
		return
	}
	sess, err := h.sessions.ResumePoint(c.Request.Context(), project)
	if err != nil {
		if errors.Is(err, session.ErrNoResumePoint) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// GraphComponent answers dependency queries against the persisted graph.
//
// Query parameters: project, id, relation (dependencies|dependents|
// affected; default dependencies), recursive (bool).
func (h *Handlers) GraphComponent(c *gin.Context) {
	project, ok := projectParam(c)
	if !ok {
		return
	}
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id query parameter is required"})
		return
	}

	graph, err := h.graphs.Load(c.Request.Context(), project)
	if err != nil {
		if errors.Is(err, knowledge.ErrGraphNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.internalError(c, err)
		return
	}

	recursive := c.Query("recursive") == "true"
	var ids []string
	switch relation := c.DefaultQuery("relation", "dependencies"); relation {
	case "dependencies":
		ids, err = graph.Dependencies(id, recursive)
	case "dependents":
		ids, err = graph.Dependents(id, recursive)
	case "affected":
		ids, err = graph.AffectedBy(id)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown relation " + relation})
		return
	}
	if err != nil {
		if errors.Is(err, knowledge.ErrComponentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.internalError(c, err)
		return
	}

	component, _ := graph.Component(id)
	c.JSON(http.StatusOK, gin.H{
		"component": component,
		"related":   ids,
	})
}

func (h *Handlers) internalError(c *gin.Context, err error) {
	h.logger.Error("request failed",
		slog.String("path", c.Request.URL.Path),
		slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
