// Package api serves the task tracker HTTP surface.
//
// Every request passes through a fixed pipeline (request tracing, optional
// CORS and rate limiting, JSON body parsing) before it reaches the dispatch
// table. The table is matched in order and ends in a default matcher that
// answers 404 {"error":"Not Found"}.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"tasktracker/config"
	"tasktracker/core"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// rateLimiterEntry holds a rate limiter with last seen time
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// TaskStorer interface for task storage
type TaskStorer interface {
	ListTasks(ctx context.Context, filter core.TaskFilter) ([]core.Task, error)
	GetTask(ctx context.Context, id string) (*core.Task, error)
	CreateTask(ctx context.Context, task *core.Task) error
	UpdateTask(ctx context.Context, id string, update *core.TaskUpdate) (*core.Task, error)
	ToggleTask(ctx context.Context, id string) (*core.Task, error)
	DeleteTask(ctx context.Context, id string) error
}

// API holds the API server
type API struct {
	router         *mux.Router
	handler        http.Handler
	server         *http.Server
	taskStorage    TaskStorer
	config         *config.Config
	logger         *zap.SugaredLogger
	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex
	stopCh         chan struct{}
	stopOnce       sync.Once
}

// NewAPI creates a new API server. A nil taskStorage is allowed; task routes
// then answer 503.
func NewAPI(taskStorage TaskStorer, cfg *config.Config, logger *zap.SugaredLogger) *API {
	a := &API{
		router:       mux.NewRouter(),
		taskStorage:  taskStorage,
		config:       cfg,
		logger:       logger,
		rateLimiters: make(map[string]*rateLimiterEntry),
		stopCh:       make(chan struct{}),
	}
	a.setupRoutes()
	a.handler = a.buildPipeline(a.router)
	a.server = &http.Server{
		Handler:      a.handler,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		ErrorLog:     zap.NewStdLog(logger.Desugar()),
	}
	if a.rateLimitEnabled() {
		go a.cleanupRateLimiters()
	}
	return a
}

// routeEntry is one row of the dispatch table
type routeEntry struct {
	name     string
	register func(r *mux.Router) *mux.Route
}

// routeTable lists the dispatch targets in match order. The default matcher
// is not part of the table; it is installed as the router's fallback.
func (a *API) routeTable() []routeEntry {
	return []routeEntry{
		{
			name: "tasks",
			register: func(r *mux.Router) *mux.Route {
				route := r.PathPrefix("/api/tasks")
				a.registerTaskRoutes(route.Subrouter())
				return route
			},
		},
		{
			name: "root",
			register: func(r *mux.Router) *mux.Route {
				return r.HandleFunc("/", a.rootHandler).Methods(http.MethodGet, http.MethodHead)
			},
		},
	}
}

// setupRoutes installs the dispatch table and the default matcher
func (a *API) setupRoutes() {
	// Paths are matched as sent; non-canonical forms like //foo are misses, not redirects
	a.router.SkipClean(true)
	a.router.Use(a.routeLabelMiddleware)
	for _, entry := range a.routeTable() {
		entry.register(a.router).Name(entry.name)
	}
	a.router.NotFoundHandler = http.HandlerFunc(a.notFoundHandler)
	// A path that exists under another method is still a miss
	a.router.MethodNotAllowedHandler = http.HandlerFunc(a.notFoundHandler)
}

// buildPipeline wraps next with the request pipeline, outermost first
func (a *API) buildPipeline(next http.Handler) http.Handler {
	h := a.jsonBodyMiddleware(next)
	if a.rateLimitEnabled() {
		h = a.rateLimitMiddleware(h)
	}
	if len(a.config.API.AllowedOrigins) > 0 {
		h = a.corsMiddleware(h)
	}
	return a.requestIDMiddleware(h)
}

func (a *API) rateLimitEnabled() bool {
	return a.config.API.RateLimit.RequestsPerSecond > 0
}

// Handler returns the full request pipeline
func (a *API) Handler() http.Handler {
	return a.handler
}

// Start serves on l until Stop is called. It returns nil after a graceful stop.
func (a *API) Start(l net.Listener) error {
	if err := a.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the API server
func (a *API) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	return a.server.Shutdown(ctx)
}
