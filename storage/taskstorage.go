package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tasktracker/core"
	"tasktracker/metrics"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// TasksCollectionName is the MongoDB collection holding tasks
const TasksCollectionName = "tasks"

var (
	// ErrTaskNotFound is returned when a task is not found
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskExists is returned when inserting a task whose ID is taken
	ErrTaskExists = errors.New("task already exists")
)

const (
	readTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
)

// TaskCursor interface for mocking
type TaskCursor interface {
	All(ctx context.Context, results interface{}) error
	Close(ctx context.Context) error
	Err() error
	Next(ctx context.Context) bool
	Decode(v interface{}) error
}

// TaskSingleResult interface for mocking
type TaskSingleResult interface {
	Decode(v interface{}) error
}

// TaskCollection interface for mocking
type TaskCollection interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (TaskCursor, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) TaskSingleResult
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) TaskSingleResult
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	CreateIndexes(ctx context.Context, models []mongo.IndexModel) ([]string, error)
}

// mongoTaskCollection adapts *mongo.Collection to TaskCollection
type mongoTaskCollection struct {
	*mongo.Collection
}

func (m *mongoTaskCollection) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (TaskCursor, error) {
	cursor, err := m.Collection.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return cursor, nil
}

func (m *mongoTaskCollection) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) TaskSingleResult {
	return m.Collection.FindOne(ctx, filter, opts...)
}

func (m *mongoTaskCollection) FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) TaskSingleResult {
	return m.Collection.FindOneAndUpdate(ctx, filter, update, opts...)
}

func (m *mongoTaskCollection) CreateIndexes(ctx context.Context, models []mongo.IndexModel) ([]string, error) {
	return m.Collection.Indexes().CreateMany(ctx, models)
}

// TaskStorage handles task persistence and retrieval
type TaskStorage struct {
	tasksColl TaskCollection
}

// NewTaskStorage creates a task storage on the given connection
func NewTaskStorage(mongoDB *MongoDB) *TaskStorage {
	return &TaskStorage{
		tasksColl: &mongoTaskCollection{Collection: mongoDB.Collection(TasksCollectionName)},
	}
}

// NewTaskStorageWithCollection creates a task storage backed by coll
func NewTaskStorageWithCollection(coll TaskCollection) *TaskStorage {
	return &TaskStorage{tasksColl: coll}
}

// EnsureIndexes creates the indexes used by ListTasks
func (ts *TaskStorage) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "completed", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("completed_created_at"),
		},
		{
			Keys:    bson.D{{Key: "priority", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("priority_created_at"),
		},
	}
	if _, err := ts.tasksColl.CreateIndexes(ctx, models); err != nil {
		return fmt.Errorf("failed to create task indexes: %w", err)
	}
	return nil
}

// listFilter builds the query document for a TaskFilter
func listFilter(f core.TaskFilter) bson.M {
	filter := bson.M{}
	if f.Completed != nil {
		filter["completed"] = *f.Completed
	}
	if f.Priority != "" {
		filter["priority"] = string(f.Priority)
	}
	return filter
}

// ListTasks returns tasks matching f, newest first
func (ts *TaskStorage) ListTasks(ctx context.Context, f core.TaskFilter) (tasks []core.Task, err error) {
	defer func() { metrics.ObserveTaskOperation("list", err, false) }()

	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	// _id breaks created_at ties so offsets page through a stable order
	findOptions := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(f.EffectiveLimit()))
	if f.Offset > 0 {
		findOptions.SetSkip(int64(f.Offset))
	}

	cursor, err := ts.tasksColl.Find(ctx, listFilter(f), findOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to find tasks: %w", err)
	}
	defer cursor.Close(ctx)

	tasks = make([]core.Task, 0)
	if err = cursor.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("failed to decode tasks: %w", err)
	}

	return tasks, nil
}

// GetTask retrieves a single task by ID
func (ts *TaskStorage) GetTask(ctx context.Context, id string) (task *core.Task, err error) {
	defer func() { metrics.ObserveTaskOperation("get", err, errors.Is(err, ErrTaskNotFound)) }()

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	var t core.Task
	if err := ts.tasksColl.FindOne(ctx, bson.M{"_id": id}).Decode(&t); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to find task: %w", err)
	}

	return &t, nil
}

// CreateTask inserts a new task
func (ts *TaskStorage) CreateTask(ctx context.Context, task *core.Task) (err error) {
	defer func() { metrics.ObserveTaskOperation("create", err, false) }()

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if _, err := ts.tasksColl.InsertOne(ctx, task); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", ErrTaskExists, task.ID)
		}
		return fmt.Errorf("failed to insert task: %w", err)
	}

	return nil
}

// updateDocument builds the $set document for a partial update
func updateDocument(update *core.TaskUpdate, now time.Time) bson.M {
	set := bson.M{"updated_at": now}
	if update.Title != nil {
		set["title"] = *update.Title
	}
	if update.Description != nil {
		set["description"] = *update.Description
	}
	if update.Completed != nil {
		set["completed"] = *update.Completed
	}
	if update.Priority != nil {
		set["priority"] = string(*update.Priority)
	}
	if update.DueDate != nil {
		set["due_date"] = update.DueDate.UTC()
	}
	return bson.M{"$set": set}
}

// UpdateTask applies a partial update and returns the task as stored afterwards
func (ts *TaskStorage) UpdateTask(ctx context.Context, id string, update *core.TaskUpdate) (task *core.Task, err error) {
	defer func() { metrics.ObserveTaskOperation("update", err, errors.Is(err, ErrTaskNotFound)) }()

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var t core.Task
	result := ts.tasksColl.FindOneAndUpdate(ctx, bson.M{"_id": id}, updateDocument(update, time.Now().UTC()), opts)
	if err := result.Decode(&t); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to update task: %w", err)
	}

	return &t, nil
}

// toggleDocument is an update pipeline that negates completed server-side
func toggleDocument(now time.Time) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"completed":  bson.M{"$not": bson.A{"$completed"}},
			"updated_at": now,
		}}},
	}
}

// ToggleTask flips the completed flag of a task in a single round trip
func (ts *TaskStorage) ToggleTask(ctx context.Context, id string) (task *core.Task, err error) {
	defer func() { metrics.ObserveTaskOperation("toggle", err, errors.Is(err, ErrTaskNotFound)) }()

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var t core.Task
	result := ts.tasksColl.FindOneAndUpdate(ctx, bson.M{"_id": id}, toggleDocument(time.Now().UTC()), opts)
	if err := result.Decode(&t); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to toggle task: %w", err)
	}

	return &t, nil
}

// DeleteTask deletes a task by ID
func (ts *TaskStorage) DeleteTask(ctx context.Context, id string) (err error) {
	defer func() { metrics.ObserveTaskOperation("delete", err, errors.Is(err, ErrTaskNotFound)) }()

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	result, err := ts.tasksColl.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	if result.DeletedCount == 0 {
		return ErrTaskNotFound
	}

	return nil
}
