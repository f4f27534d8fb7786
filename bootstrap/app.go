package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tasktracker/api"
	"tasktracker/config"
	"tasktracker/storage"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// App represents the task tracker process with all its components.
type App struct {
	// Configuration
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	// Storage
	MongoDB     *storage.MongoDB
	TaskStorage *storage.TaskStorage

	// Services
	APIServer     *api.API
	MetricsServer *http.Server

	connectDB       DBConnector
	listener        net.Listener
	metricsListener net.Listener

	// Lifecycle
	serviceWg    sync.WaitGroup
	serveErrCh   chan error
	shutdownOnce sync.Once
}

// NewApp creates a new application instance from the environment.
func NewApp(ctx context.Context) (*App, error) {
	cfg, err := InitConfig()
	if err != nil {
		return nil, err
	}

	logger, sugar, err := InitLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	sugar.Info("Task Tracker API starting...")
	logConfig(cfg, sugar)

	return NewAppWithConfig(cfg, logger), nil
}

// NewAppWithConfig creates an application from an already loaded configuration.
func NewAppWithConfig(cfg *config.Config, logger *zap.Logger) *App {
	return &App{
		Config:     cfg,
		Logger:     logger,
		Sugar:      logger.Sugar(),
		connectDB:  InitMongoDB,
		serveErrCh: make(chan error, 2),
	}
}

// Start connects to the database, then binds and serves the API. The
// listener is only opened after the connection has succeeded.
func (a *App) Start(ctx context.Context) error {
	mongoDB, err := a.connectDB(ctx, a.Config.MongoDB, a.Sugar)
	if err != nil {
		a.Sugar.Errorf("DB connection failed: %v", err)
		return fmt.Errorf("DB connection failed: %w", err)
	}
	a.MongoDB = mongoDB
	a.TaskStorage = InitTaskStorage(ctx, mongoDB, a.Sugar)

	if err := a.startAPIServer(); err != nil {
		return err
	}

	if a.Config.Metrics.Addr != "" {
		if err := a.startMetricsServer(); err != nil {
			return err
		}
	}

	return nil
}

// Addr returns the bound API address, or nil before Start.
func (a *App) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// WaitForShutdown blocks until a shutdown signal is received or a server
// stops unexpectedly. The server error, if any, is returned.
func (a *App) WaitForShutdown() error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case sig := <-c:
		a.Sugar.Infow("Shutdown signal received", "signal", sig.String())
		return nil
	case err := <-a.serveErrCh:
		a.Sugar.Errorw("Server stopped unexpectedly", "error", err)
		return err
	}
}

// Shutdown gracefully shuts down all components. It is safe to call more than once.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(a.shutdown)
}

func (a *App) shutdown() {
	a.Sugar.Info("Shutting down...")

	timeout := a.Config.API.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Phase 1 - Stop accepting requests and drain in-flight ones
	a.Sugar.Info("Phase 1: Stopping API server...")
	if a.APIServer != nil {
		if err := a.APIServer.Stop(ctx); err != nil {
			a.Sugar.Errorw("Failed to stop API server", "error", err)
		}
	}
	if a.MetricsServer != nil {
		if err := a.MetricsServer.Shutdown(ctx); err != nil {
			a.Sugar.Errorw("Failed to stop metrics server", "error", err)
		}
	}

	// Phase 2 - Wait for service goroutines
	a.Sugar.Info("Phase 2: Waiting for service goroutines to complete...")
	done := make(chan struct{})
	go func() {
		a.serviceWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.Sugar.Info("All service goroutines stopped successfully")
	case <-ctx.Done():
		a.Sugar.Warn("Service goroutine shutdown timed out")
	}

	// Phase 3 - Close database connection
	a.Sugar.Info("Phase 3: Closing database connection...")
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	closeMongoDB(closeCtx, a.MongoDB, a.Sugar)

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}

// startAPIServer binds the configured address and serves the API in the background.
func (a *App) startAPIServer() error {
	addr := a.Config.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	a.listener = listener

	a.APIServer = api.NewAPI(a.TaskStorage, a.Config, a.Sugar)
	a.serve("API", func() error { return a.APIServer.Start(listener) })

	port := listener.Addr().(*net.TCPAddr).Port
	a.Sugar.Infof("Server running on http://localhost:%d", port)
	return nil
}

// startMetricsServer exposes Prometheus metrics and a database health check
// on a separate listener, keeping them off the public API surface.
func (a *App) startMetricsServer() error {
	listener, err := net.Listen("tcp", a.Config.Metrics.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen for metrics on %s: %w", a.Config.Metrics.Addr, err)
	}
	a.metricsListener = listener

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/health", a.healthCheck).Methods(http.MethodGet)

	a.MetricsServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.serve("Metrics", func() error {
		if err := a.MetricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	a.Sugar.Infow("Metrics server started", "addr", listener.Addr().String())
	return nil
}

// serve runs start in a tracked goroutine and reports failures to WaitForShutdown
func (a *App) serve(name string, start func() error) {
	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		if err := start(); err != nil {
			a.Sugar.Errorw(fmt.Sprintf("%s server failed", name), "error", err)
			a.serveErrCh <- fmt.Errorf("%s server: %w", name, err)
		}
	}()
}

// healthCheck reports whether MongoDB answers a ping
func (a *App) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if a.MongoDB == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	if err := a.MongoDB.HealthCheck(ctx); err != nil {
		a.Sugar.Warnw("Health check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unhealthy"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
