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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/caldera/services/agent/knowledge"
	"github.com/AleutianAI/caldera/services/agent/session"
	storage "github.com/AleutianAI/caldera/services/agent/storage/badger"
	"github.com/AleutianAI/caldera/services/agent/task"
)

const testProject = "proj"

type fixture struct {
	router   *gin.Engine
	tasks    *task.Store
	sessions *session.Manager
	graphs   *knowledge.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := storage.Open(storage.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		tasks:    task.NewStore(db, nil),
		sessions: session.NewManager(db, nil),
		graphs:   knowledge.NewStore(db),
	}
	f.router = NewRouter(NewHandlers(f.tasks, f.sessions, f.graphs, nil), nil)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

// TestHealthz verifies the liveness endpoint.
func TestHealthz(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

// TestCreateAndGetTask verifies the enqueue round trip.
func TestCreateAndGetTask(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/agent/tasks",
		`{"project_id":"proj","title":"add parser","priority":"high"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created task.Task
	decode(t, w, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, task.PriorityHigh, created.Priority)
	assert.Equal(t, task.StatusPending, created.Status)

	w = f.do(t, http.MethodGet, "/v1/agent/tasks/"+created.ID+"?project=proj", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got task.Task
	decode(t, w, &got)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "add parser", got.Title)
}

// TestCreateTaskValidation verifies binding failures are 400s.
func TestCreateTaskValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing title", `{"project_id":"proj"}`},
		{"missing project", `{"title":"x"}`},
		{"unknown priority", `{"project_id":"proj","title":"x","priority":"urgent"}`},
		{"retries out of range", `{"project_id":"proj","title":"x","max_retries":99}`},
		{"not json", `nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/v1/agent/tasks", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

// TestGetTaskNotFound verifies unknown ids are 404s.
func TestGetTaskNotFound(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/v1/agent/tasks/nope?project=proj", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestListTasksRequiresProject verifies the project parameter contract.
func TestListTasksRequiresProject(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/v1/agent/tasks", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestListTasksScopedByProject verifies projects do not leak into each
// other.
func TestListTasksScopedByProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.tasks.Create(ctx, task.Spec{ProjectID: "proj", Title: "mine"})
	require.NoError(t, err)
	_, err = f.tasks.Create(ctx, task.Spec{ProjectID: "other", Title: "theirs"})
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/v1/agent/tasks?project=proj", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Tasks []*task.Task `json:"tasks"`
	}
	decode(t, w, &resp)
	require.Len(t, resp.Tasks, 1)
	assert.Equal(t, "mine", resp.Tasks[0].Title)
}

// TestStats verifies the statistics endpoint shape.
func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.tasks.Create(ctx, task.Spec{ProjectID: testProject, Title: "a"})
	require.NoError(t, err)

	w := f.do(t, http.MethodGet, "/v1/agent/stats?project="+testProject, "")
	require.Equal(t, http.StatusOK, w.Code)

	var stats task.Stats
	decode(t, w, &stats)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Remaining)
}

// TestResumePoint verifies the resume-point endpoint against both
// outcomes.
func TestResumePoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w := f.do(t, http.MethodGet, "/v1/agent/sessions/resume-point?project="+testProject, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	sess, err := f.sessions.Create(ctx, testProject, 3)
	require.NoError(t, err)
	_, err = f.sessions.Start(ctx, testProject, sess.ID)
	require.NoError(t, err)
	_, err = f.sessions.Pause(ctx, testProject, sess.ID)
	require.NoError(t, err)

	w = f.do(t, http.MethodGet, "/v1/agent/sessions/resume-point?project="+testProject, "")
	require.Equal(t, http.StatusOK, w.Code)

	var got session.Session
	decode(t, w, &got)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, session.StatusPaused, got.Status)
}

// TestGraphComponent verifies the graph query endpoint.
func TestGraphComponent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w := f.do(t, http.MethodGet, "/v1/agent/graph/component?project="+testProject+"&id=a.ts", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "no graph built yet")

	graph := &knowledge.Graph{
		ProjectID: testProject,
		Components: map[string]*knowledge.Component{
			"a.ts": {ID: "a.ts", Language: "typescript"},
			"b.ts": {ID: "b.ts", Language: "typescript"},
		},
	}
	require.NoError(t, graph.AddDependency("a.ts", "b.ts", knowledge.ConfidenceExact))
	require.NoError(t, f.graphs.Save(ctx, graph))

	w = f.do(t, http.MethodGet, "/v1/agent/graph/component?project="+testProject+"&id=a.ts", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Component *knowledge.Component `json:"component"`
		Related   []string             `json:"related"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "a.ts", resp.Component.ID)
	assert.Equal(t, []string{"b.ts"}, resp.Related)

	// Reverse relation.
	w = f.do(t, http.MethodGet,
		"/v1/agent/graph/component?project="+testProject+"&id=b.ts&relation=dependents", "")
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &resp)
	assert.Equal(t, []string{"a.ts"}, resp.Related)

	// Unknown relation and unknown component.
	w = f.do(t, http.MethodGet,
		"/v1/agent/graph/component?project="+testProject+"&id=a.ts&relation=sideways", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet,
		"/v1/agent/graph/component?project="+testProject+"&id=ghost.ts", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
