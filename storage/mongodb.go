package storage

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"tasktracker/config"
	"tasktracker/metrics"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
	"go.uber.org/zap"
)

// ConnectionError is returned when the database could not be reached
type ConnectionError struct {
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to MongoDB after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// MongoDB holds the MongoDB client and database
type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
	logger   *zap.SugaredLogger
}

// NewMongoDB creates the process's MongoDB connection. The URI is used as
// given; a missing or malformed URI fails here like any unreachable server.
// Up to cfg.ConnectAttempts attempts are made with exponential backoff.
func NewMongoDB(ctx context.Context, cfg config.MongoDBConfig, logger *zap.SugaredLogger) (*MongoDB, error) {
	attempts := cfg.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.RetryBackoff
	policy.MaxElapsedTime = 0

	tries := 0
	var client *mongo.Client
	operation := func() error {
		tries++
		c, err := connectOnce(ctx, cfg)
		if err != nil {
			metrics.DBConnectAttempts.WithLabelValues(metrics.ResultFailure).Inc()
			return err
		}
		metrics.DBConnectAttempts.WithLabelValues(metrics.ResultSuccess).Inc()
		client = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Warnw("MongoDB connection attempt failed, retrying",
			"attempt", tries,
			"max_attempts", attempts,
			"retry_in", wait.String(),
			"error", err.Error())
	}

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		return nil, &ConnectionError{Attempts: tries, Err: err}
	}

	dbName := databaseName(cfg)
	logger.Infow("MongoDB connected",
		"database", dbName,
		"host", redactURI(cfg.URI),
		"attempts", tries)

	return &MongoDB{
		Client:   client,
		Database: client.Database(dbName),
		logger:   logger,
	}, nil
}

// connectOnce dials and pings. Errors from building the client (bad URI,
// bad options) are permanent; ping failures are worth retrying.
func connectOnce(ctx context.Context, cfg config.MongoDBConfig) (*mongo.Client, error) {
	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ConnectTimeout)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("invalid MongoDB client options: %w", err))
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer disconnectCancel()
		_ = client.Disconnect(disconnectCtx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client, nil
}

// databaseName prefers the database named in the URI path over the configured default
func databaseName(cfg config.MongoDBConfig) string {
	if cs, err := connstring.ParseAndValidate(cfg.URI); err == nil && cs.Database != "" {
		return cs.Database
	}
	return cfg.Database
}

// redactURI returns the URI host list without credentials, for logging
func redactURI(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil || parsed.Host == "" {
		return "[unparseable]"
	}
	return parsed.Scheme + "://" + parsed.Host
}

// HealthCheck performs a health check on the MongoDB connection
func (m *MongoDB) HealthCheck(ctx context.Context) error {
	return m.Client.Ping(ctx, readpref.Primary())
}

// Collection returns a handle to the named collection
func (m *MongoDB) Collection(name string) *mongo.Collection {
	return m.Database.Collection(name)
}

// Close closes the MongoDB connection
func (m *MongoDB) Close(ctx context.Context) error {
	if err := m.Client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
	}
	if m.logger != nil {
		m.logger.Info("MongoDB connection closed")
	}
	return nil
}
