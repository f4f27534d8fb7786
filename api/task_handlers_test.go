package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"tasktracker/core"
	"tasktracker/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTaskID = "7d3c1a9e-2b4f-4f60-9c1e-3d2a5b6c7d8e"

var jsonHeaders = map[string]string{"Content-Type": "application/json"}

func TestListTasks_ParsesFilter(t *testing.T) {
	var got core.TaskFilter
	a := newTestAPI(t, &mockTaskStorage{
		listTasks: func(ctx context.Context, filter core.TaskFilter) ([]core.Task, error) {
			got = filter
			return []core.Task{{ID: testTaskID, Title: "Write report", Priority: core.PriorityHigh}}, nil
		},
	}, nil)

	rr := serve(a, http.MethodGet, "/api/tasks?completed=false&priority=high&limit=10&offset=20", nil, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, got.Completed)
	assert.False(t, *got.Completed)
	assert.Equal(t, core.PriorityHigh, got.Priority)
	assert.Equal(t, 10, got.Limit)
	assert.Equal(t, 20, got.Offset)

	var tasks []core.Task
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "Write report", tasks[0].Title)
}

func TestListTasks_InvalidFilter(t *testing.T) {
	a := newTestAPI(t, &mockTaskStorage{}, nil)

	tests := []struct {
		query   string
		message string
	}{
		{"completed=maybe", "completed must be true or false"},
		{"priority=urgent", "priority must be one of low, medium, high"},
	}

	for _, tt := range tests {
		rr := serve(a, http.MethodGet, "/api/tasks?"+tt.query, nil, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code, tt.query)
		assert.JSONEq(t, `{"error":"`+tt.message+`"}`, rr.Body.String(), tt.query)
	}
}

func TestListTasks_StorageErrorIsSanitized(t *testing.T) {
	a := newTestAPI(t, &mockTaskStorage{
		listTasks: func(ctx context.Context, filter core.TaskFilter) ([]core.Task, error) {
			return nil, errors.New("server selection error: mongodb://admin:pw@10.0.0.5:27017")
		},
	}, nil)

	rr := serve(a, http.MethodGet, "/api/tasks", nil, nil)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"Failed to list tasks"}`, rr.Body.String())
	assert.NotContains(t, rr.Body.String(), "mongodb://")
}

func TestCreateTask(t *testing.T) {
	var stored *core.Task
	a := newTestAPI(t, &mockTaskStorage{
		createTask: func(ctx context.Context, task *core.Task) error {
			stored = task
			return nil
		},
	}, nil)

	body := `{"title":"  Buy milk  ","description":"2 liters","due_date":"2024-06-01T09:00:00Z"}`
	rr := serve(a, http.MethodPost, "/api/tasks", strings.NewReader(body), jsonHeaders)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.NotNil(t, stored)
	assert.Equal(t, "Buy milk", stored.Title)
	assert.Equal(t, core.PriorityMedium, stored.Priority)
	require.NotNil(t, stored.DueDate)
	assert.NoError(t, validateUUID(stored.ID))

	var created core.Task
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, stored.ID, created.ID)
	assert.False(t, created.Completed)
}

func TestCreateTask_ValidationErrors(t *testing.T) {
	a := newTestAPI(t, &mockTaskStorage{
		createTask: func(ctx context.Context, task *core.Task) error {
			t.Fatal("storage must not be called for invalid input")
			return nil
		},
	}, nil)

	tests := []struct {
		name    string
		body    string
		headers map[string]string
		status  int
	}{
		{"missing title", `{"description":"x"}`, jsonHeaders, http.StatusBadRequest},
		{"blank title", `{"title":"   "}`, jsonHeaders, http.StatusBadRequest},
		{"bad priority", `{"title":"x","priority":"urgent"}`, jsonHeaders, http.StatusBadRequest},
		{"long title", `{"title":"` + strings.Repeat("a", core.MaxTitleLength+1) + `"}`, jsonHeaders, http.StatusBadRequest},
		{"wrong type", `{"title":42}`, jsonHeaders, http.StatusBadRequest},
		{"unknown field", `{"title":"x","owner":"bob"}`, jsonHeaders, http.StatusBadRequest},
		{"bad date", `{"title":"x","due_date":"tomorrow"}`, jsonHeaders, http.StatusBadRequest},
		{"empty body", ``, jsonHeaders, http.StatusBadRequest},
		{"not json", `title=x`, map[string]string{"Content-Type": "application/x-www-form-urlencoded"}, http.StatusUnsupportedMediaType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(a, http.MethodPost, "/api/tasks", strings.NewReader(tt.body), tt.headers)

			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			var resp errorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestCreateTask_Conflict(t *testing.T) {
	a := newTestAPI(t, &mockTaskStorage{
		createTask: func(ctx context.Context, task *core.Task) error {
			return storage.ErrTaskExists
		},
	}, nil)

	rr := serve(a, http.MethodPost, "/api/tasks", strings.NewReader(`{"title":"x"}`), jsonHeaders)

	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestGetTask(t *testing.T) {
	a := newTestAPI(t, &mockTaskStorage{
		getTask: func(ctx context.Context, id string) (*core.Task, error) {
			assert.Equal(t, testTaskID, id)
			return &core.Task{ID: id, Title: "Write report", Priority: core.PriorityLow}, nil
		},
	}, nil)

	rr := serve(a, http.MethodGet, "/api/tasks/"+testTaskID, nil, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	var task core.Task
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &task))
	assert.Equal(t, "Write report", task.Title)
}

func TestGetTask_InvalidID(t *testing.T) {
	a := newTestAPI(t, &mockTaskStorage{}, nil)

	rr := serve(a, http.MethodGet, "/api/tasks/not-a-uuid", nil, nil)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"error":"Invalid task ID"}`, rr.Body.String())
}

func TestGetTask_NotFound(t *testing.T) {
	a := newTestAPI(t, &mockTaskStorage{
		getTask: func(ctx context.Context, id string) (*core.Task, error) {
			return nil, storage.ErrTaskNotFound
		},
	}, nil)

	rr := serve(a, http.MethodGet, "/api/tasks/"+testTaskID, nil, nil)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"error":"Task not found"}`, rr.Body.String())
}

func TestUpdateTask(t *testing.T) {
	for _, method := range []string{http.MethodPut, http.MethodPatch} {
		t.Run(method, func(t *testing.T) {
			var got *core.TaskUpdate
			a := newTestAPI(t, &mockTaskStorage{
				updateTask: func(ctx context.Context, id string, update *core.TaskUpdate) (*core.Task, error) {
					got = update
					return &core.Task{ID: id, Title: *update.Title, Priority: core.PriorityMedium}, nil
				},
			}, nil)

			rr := serve(a, method, "/api/tasks/"+testTaskID, strings.NewReader(`{"title":" Renamed "}`), jsonHeaders)

			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
			require.NotNil(t, got)
			assert.Equal(t, "Renamed", *got.Title)
			assert.Nil(t, got.Completed)
		})
	}
}

func TestUpdateTask_EmptyUpdate(t *testing.T) {
	a := newTestAPI(t, &mockTaskStorage{}, nil)

	rr := serve(a, http.MethodPatch, "/api/tasks/"+testTaskID, strings.NewReader(`{}`), jsonHeaders)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"error":"no fields to update"}`, rr.Body.String())
}

func TestUpdateTask_NotFound(t *testing.T) {
	a := newTestAPI(t, &mockTaskStorage{
		updateTask: func(ctx context.Context, id string, update *core.TaskUpdate) (*core.Task, error) {
			return nil, storage.ErrTaskNotFound
		},
	}, nil)

	rr := serve(a, http.MethodPut, "/api/tasks/"+testTaskID, strings.NewReader(`{"completed":true}`), jsonHeaders)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestToggleTask(t *testing.T) {
	a := newTestAPI(t, &mockTaskStorage{}, nil)

	rr := serve(a, http.MethodPatch, "/api/tasks/"+testTaskID+"/toggle", nil, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	var task core.Task
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &task))
	assert.True(t, task.Completed)
}

func TestDeleteTask(t *testing.T) {
	deleted := ""
	a := newTestAPI(t, &mockTaskStorage{
		deleteTask: func(ctx context.Context, id string) error {
			deleted = id
			return nil
		},
	}, nil)

	rr := serve(a, http.MethodDelete, "/api/tasks/"+testTaskID, nil, nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"message":"Task deleted"}`, rr.Body.String())
	assert.Equal(t, testTaskID, deleted)
}

func TestDeleteTask_NotFound(t *testing.T) {
	a := newTestAPI(t, &mockTaskStorage{
		deleteTask: func(ctx context.Context, id string) error {
			return storage.ErrTaskNotFound
		},
	}, nil)

	rr := serve(a, http.MethodDelete, "/api/tasks/"+testTaskID, nil, nil)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestTaskRoutes_StorageUnavailable(t *testing.T) {
	a := newTestAPI(t, nil, nil)

	rr := serve(a, http.MethodGet, "/api/tasks", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.JSONEq(t, `{"error":"Task storage not available"}`, rr.Body.String())

	// Unmatched paths under the prefix still get the default 404
	rr = serve(a, http.MethodGet, "/api/tasks/a/b/c", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
