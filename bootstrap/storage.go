package bootstrap

import (
	"context"

	"tasktracker/config"
	"tasktracker/storage"

	"go.uber.org/zap"
)

// DBConnector opens the process's database connection
type DBConnector func(ctx context.Context, cfg config.MongoDBConfig, sugar *zap.SugaredLogger) (*storage.MongoDB, error)

// InitMongoDB connects to MongoDB, retrying as configured. The URI is used as-is.
func InitMongoDB(ctx context.Context, cfg config.MongoDBConfig, sugar *zap.SugaredLogger) (*storage.MongoDB, error) {
	sugar.Infow("Connecting to MongoDB",
		"database", cfg.Database,
		"attempts", cfg.ConnectAttempts,
		"timeout", cfg.ConnectTimeout.String())

	return storage.NewMongoDB(ctx, cfg, sugar)
}

// InitTaskStorage creates the task storage and its indexes. Index creation
// failure is logged and does not stop startup.
func InitTaskStorage(ctx context.Context, mongoDB *storage.MongoDB, sugar *zap.SugaredLogger) *storage.TaskStorage {
	taskStorage := storage.NewTaskStorage(mongoDB)
	if err := taskStorage.EnsureIndexes(ctx); err != nil {
		sugar.Warnw("Failed to create task indexes, listings may be slow", "error", err)
	} else {
		sugar.Info("Task indexes ensured")
	}
	return taskStorage
}

// closeMongoDB disconnects, logging rather than returning failures
func closeMongoDB(ctx context.Context, mongoDB *storage.MongoDB, sugar *zap.SugaredLogger) {
	if mongoDB == nil {
		return
	}
	if err := mongoDB.Close(ctx); err != nil {
		sugar.Errorw("Failed to close MongoDB connection", "error", err)
	}
}
