package api

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tasktracker/config"
	"tasktracker/core"
	"tasktracker/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockTaskStorage struct {
	listTasks  func(ctx context.Context, filter core.TaskFilter) ([]core.Task, error)
	getTask    func(ctx context.Context, id string) (*core.Task, error)
	createTask func(ctx context.Context, task *core.Task) error
	updateTask func(ctx context.Context, id string, update *core.TaskUpdate) (*core.Task, error)
	toggleTask func(ctx context.Context, id string) (*core.Task, error)
	deleteTask func(ctx context.Context, id string) error
}

func (m *mockTaskStorage) ListTasks(ctx context.Context, filter core.TaskFilter) ([]core.Task, error) {
	if m.listTasks != nil {
		return m.listTasks(ctx, filter)
	}
	return []core.Task{}, nil
}

func (m *mockTaskStorage) GetTask(ctx context.Context, id string) (*core.Task, error) {
	if m.getTask != nil {
		return m.getTask(ctx, id)
	}
	return &core.Task{ID: id}, nil
}

func (m *mockTaskStorage) CreateTask(ctx context.Context, task *core.Task) error {
	if m.createTask != nil {
		return m.createTask(ctx, task)
	}
	return nil
}

func (m *mockTaskStorage) UpdateTask(ctx context.Context, id string, update *core.TaskUpdate) (*core.Task, error) {
	if m.updateTask != nil {
		return m.updateTask(ctx, id, update)
	}
	return &core.Task{ID: id}, nil
}

func (m *mockTaskStorage) ToggleTask(ctx context.Context, id string) (*core.Task, error) {
	if m.toggleTask != nil {
		return m.toggleTask(ctx, id)
	}
	return &core.Task{ID: id, Completed: true}, nil
}

func (m *mockTaskStorage) DeleteTask(ctx context.Context, id string) error {
	if m.deleteTask != nil {
		return m.deleteTask(ctx, id)
	}
	return nil
}

func newTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.API.Port = config.DefaultPort
	cfg.API.JSONBodyLimit = 1 << 20
	cfg.API.ReadTimeout = 5 * time.Second
	cfg.API.WriteTimeout = 5 * time.Second
	cfg.API.ShutdownTimeout = 5 * time.Second
	return cfg
}

func newTestAPI(t *testing.T, taskStorage TaskStorer, cfg *config.Config) *API {
	t.Helper()
	if cfg == nil {
		cfg = newTestConfig()
	}
	a := NewAPI(taskStorage, cfg, zap.NewNop().Sugar())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = a.Stop(ctx)
	})
	return a
}

func serve(a *API, method, target string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)
	return rr
}

func TestRoot_ReturnsRunningMessage(t *testing.T) {
	a := newTestAPI(t, &mockTaskStorage{}, nil)

	rr := serve(a, http.MethodGet, "/", nil, nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Task Tracker API is running", rr.Body.String())
	assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/plain"))
}

func TestRoot_IgnoresRequestInputs(t *testing.T) {
	a := newTestAPI(t, nil, nil)

	requests := []struct {
		target  string
		headers map[string]string
	}{
		{"/", nil},
		{"/?verbose=1&x=y", nil},
		{"/", map[string]string{"Accept": "application/json"}},
		{"/", map[string]string{"Authorization": "Bearer nope", "X-Request-ID": "abc"}},
	}

	for _, tt := range requests {
		rr := serve(a, http.MethodGet, tt.target, nil, tt.headers)
		assert.Equal(t, http.StatusOK, rr.Code, tt.target)
		assert.Equal(t, RootMessage, rr.Body.String(), tt.target)
	}
}

func TestRoot_IsIdempotent(t *testing.T) {
	a := newTestAPI(t, nil, nil)

	first := serve(a, http.MethodGet, "/", nil, nil)
	for i := 0; i < 5; i++ {
		rr := serve(a, http.MethodGet, "/", nil, nil)
		assert.Equal(t, first.Code, rr.Code)
		assert.Equal(t, first.Body.String(), rr.Body.String())
		assert.Equal(t, first.Header().Get("Content-Type"), rr.Header().Get("Content-Type"))
	}
}

func TestRoot_Head(t *testing.T) {
	a := newTestAPI(t, nil, nil)

	rr := serve(a, http.MethodHead, "/", nil, nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Body.String())
}

func TestDefaultMatcher_NotFound(t *testing.T) {
	a := newTestAPI(t, &mockTaskStorage{}, nil)

	tests := []struct {
		method string
		target string
	}{
		{http.MethodGet, "/foo"},
		{http.MethodGet, "/api"},
		{http.MethodGet, "/api/task"},
		{http.MethodGet, "/api/tasksx"},
		{http.MethodGet, "/health"},
		{http.MethodGet, "/metrics"},
		{http.MethodPost, "/"},
		{http.MethodDelete, "/"},
		{http.MethodPut, "/anything/else"},
		{http.MethodDelete, "/api/tasks"},
		{http.MethodPost, "/api/tasks/7d3c1a9e-2b4f-4f60-9c1e-3d2a5b6c7d8e"},
		{http.MethodGet, "/api/tasks/7d3c1a9e-2b4f-4f60-9c1e-3d2a5b6c7d8e/nested"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			rr := serve(a, tt.method, tt.target, nil, nil)

			assert.Equal(t, http.StatusNotFound, rr.Code)
			assert.Equal(t, `{"error":"Not Found"}`, rr.Body.String())
			assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json"))
		})
	}
}

func TestDefaultMatcher_NonCanonicalPathsAreNotRedirected(t *testing.T) {
	a := newTestAPI(t, &mockTaskStorage{}, nil)

	for _, target := range []string{"//foo", "/foo/../bar", "/./", "/api/tasks/../x"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.URL.Path = target
		rr := httptest.NewRecorder()
		a.Handler().ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code, target)
		assert.Empty(t, rr.Header().Get("Location"), target)
		assert.Equal(t, `{"error":"Not Found"}`, rr.Body.String(), target)
	}
}

func TestDispatch_TaskPrefixReachesTaskRoutes(t *testing.T) {
	called := 0
	a := newTestAPI(t, &mockTaskStorage{
		listTasks: func(ctx context.Context, filter core.TaskFilter) ([]core.Task, error) {
			called++
			return []core.Task{}, nil
		},
	}, nil)

	for _, target := range []string{"/api/tasks", "/api/tasks/"} {
		rr := serve(a, http.MethodGet, target, nil, nil)
		assert.Equal(t, http.StatusOK, rr.Code, target)
		assert.Equal(t, "[]", rr.Body.String(), target)
	}
	assert.Equal(t, 2, called)
}

func TestPipeline_MalformedJSONRejectedBeforeHandler(t *testing.T) {
	called := false
	a := newTestAPI(t, &mockTaskStorage{
		createTask: func(ctx context.Context, task *core.Task) error {
			called = true
			return nil
		},
	}, nil)

	for _, ct := range []string{"application/json", "application/json; charset=utf-8", "application/merge-patch+json"} {
		rr := serve(a, http.MethodPost, "/api/tasks", strings.NewReader(`{"title": "oops",`), map[string]string{"Content-Type": ct})

		assert.Equal(t, http.StatusBadRequest, rr.Code, ct)
		assert.Equal(t, `{"error":"Invalid JSON body"}`, rr.Body.String(), ct)
	}
	assert.False(t, called, "handler must not run for malformed JSON")
}

func TestPipeline_MalformedJSONRejectedOnAnyPath(t *testing.T) {
	a := newTestAPI(t, nil, nil)

	rr := serve(a, http.MethodPost, "/not-a-route", strings.NewReader("{bad"), map[string]string{"Content-Type": "application/json"})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, `{"error":"Invalid JSON body"}`, rr.Body.String())
}

func TestPipeline_PrimitiveJSONRejected(t *testing.T) {
	a := newTestAPI(t, &mockTaskStorage{}, nil)

	rr := serve(a, http.MethodPost, "/api/tasks", strings.NewReader(`"just a string"`), map[string]string{"Content-Type": "application/json"})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPipeline_BodyTooLarge(t *testing.T) {
	cfg := newTestConfig()
	cfg.API.JSONBodyLimit = 32
	a := newTestAPI(t, &mockTaskStorage{}, cfg)

	body := `{"title":"` + strings.Repeat("a", 100) + `"}`
	rr := serve(a, http.MethodPost, "/api/tasks", strings.NewReader(body), map[string]string{"Content-Type": "application/json"})

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.JSONEq(t, `{"error":"Request body too large"}`, rr.Body.String())
}

func TestPipeline_NonJSONBodyIsNotParsed(t *testing.T) {
	a := newTestAPI(t, nil, nil)

	rr := serve(a, http.MethodPost, "/nowhere", strings.NewReader("{bad"), map[string]string{"Content-Type": "text/plain"})

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, `{"error":"Not Found"}`, rr.Body.String())
}

func TestPipeline_EmptyJSONBodyPassesThrough(t *testing.T) {
	a := newTestAPI(t, nil, nil)

	rr := serve(a, http.MethodGet, "/", strings.NewReader(""), map[string]string{"Content-Type": "application/json"})

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, RootMessage, rr.Body.String())
}

func TestRequestMetrics(t *testing.T) {
	a := newTestAPI(t, nil, nil)

	rootBefore := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/", "200"))
	missBefore := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", routeUnmatched, "404"))

	serve(a, http.MethodGet, "/", nil, nil)
	serve(a, http.MethodGet, "/missing", nil, nil)

	assert.Equal(t, rootBefore+1, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/", "200")))
	assert.Equal(t, missBefore+1, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", routeUnmatched, "404")))
}

func TestAPI_StartAndStop(t *testing.T) {
	a := NewAPI(nil, newTestConfig(), zap.NewNop().Sugar())

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- a.Start(listener) }()

	resp, err := http.Get("http://" + listener.Addr().String() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, RootMessage, string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
