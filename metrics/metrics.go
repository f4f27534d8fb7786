package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasktracker_http_requests_total",
			Help: "Total number of HTTP requests handled",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tasktracker_http_request_duration_seconds",
			Help:    "Time taken to serve HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	DBConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasktracker_db_connect_attempts_total",
			Help: "Total number of database connection attempts",
		},
		[]string{"result"},
	)

	TaskOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasktracker_task_operations_total",
			Help: "Total number of task storage operations",
		},
		[]string{"operation", "result"},
	)
)

// Result label values
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultNotFound = "not_found"
)

// ObserveTaskOperation records the outcome of a task storage call
func ObserveTaskOperation(operation string, err error, notFound bool) {
	result := ResultSuccess
	switch {
	case notFound:
		result = ResultNotFound
	case err != nil:
		result = ResultFailure
	}
	TaskOperations.WithLabelValues(operation, result).Inc()
}
