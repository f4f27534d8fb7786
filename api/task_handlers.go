package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"tasktracker/core"
	"tasktracker/storage"

	"github.com/gorilla/mux"
)

// createTaskRequest is the body accepted by POST /api/tasks
type createTaskRequest struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Priority    core.TaskPriority `json:"priority"`
	Completed   bool              `json:"completed"`
	DueDate     *time.Time        `json:"due_date"`
}

// registerTaskRoutes mounts the task handlers on the /api/tasks subrouter.
// Anything the subrouter does not match falls through to the default matcher.
func (a *API) registerTaskRoutes(r *mux.Router) {
	r.Use(a.requireTaskStorage)

	for _, collection := range []string{"", "/"} {
		r.HandleFunc(collection, a.listTasks).Methods(http.MethodGet, http.MethodHead)
		r.HandleFunc(collection, a.createTask).Methods(http.MethodPost)
	}
	r.HandleFunc("/{id}", a.getTask).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/{id}", a.updateTask).Methods(http.MethodPut, http.MethodPatch)
	r.HandleFunc("/{id}", a.deleteTask).Methods(http.MethodDelete)
	r.HandleFunc("/{id}/toggle", a.toggleTask).Methods(http.MethodPatch)
}

// requireTaskStorage answers 503 for matched task routes when no storage is wired
func (a *API) requireTaskStorage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.taskStorage == nil {
			writeError(w, http.StatusServiceUnavailable, "Task storage not available", nil, a.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// taskID extracts and validates the {id} path variable, writing a 400 on failure
func (a *API) taskID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := mux.Vars(r)["id"]
	if err := validateUUID(id); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid task ID", err, a.logger)
		return "", false
	}
	return id, true
}

// writeStorageError maps storage errors onto HTTP statuses
func (a *API) writeStorageError(w http.ResponseWriter, r *http.Request, message string, err error) {
	switch {
	case errors.Is(err, storage.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "Task not found", err, a.logger)
	case errors.Is(err, storage.ErrTaskExists):
		writeError(w, http.StatusConflict, "Task already exists", err, a.logger)
	default:
		writeError(w, http.StatusInternalServerError, message, err, LogWithRequestID(r, a.logger))
	}
}

// parseTaskFilter reads the completed, priority, limit and offset query parameters
func parseTaskFilter(r *http.Request) (core.TaskFilter, error) {
	var filter core.TaskFilter
	query := r.URL.Query()

	if c := query.Get("completed"); c != "" {
		completed, err := strconv.ParseBool(c)
		if err != nil {
			return filter, errors.New("completed must be true or false")
		}
		filter.Completed = &completed
	}

	if p := query.Get("priority"); p != "" {
		priority := core.TaskPriority(p)
		if !priority.IsValid() {
			return filter, errors.New("priority must be one of low, medium, high")
		}
		filter.Priority = priority
	}

	if l := query.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}

	if o := query.Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed > 0 {
			filter.Offset = parsed
		}
	}

	return filter, nil
}

// listTasks returns tasks, newest first
func (a *API) listTasks(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTaskFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}

	tasks, err := a.taskStorage.ListTasks(r.Context(), filter)
	if err != nil {
		a.writeStorageError(w, r, "Failed to list tasks", err)
		return
	}
	a.respondJSON(w, tasks, http.StatusOK)
}

// createTask validates and stores a new task
func (a *API) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		return
	}

	task := core.NewTask(req.Title, req.Description, req.Priority, req.DueDate)
	task.Completed = req.Completed
	if err := task.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}

	if err := a.taskStorage.CreateTask(r.Context(), task); err != nil {
		a.writeStorageError(w, r, "Failed to create task", err)
		return
	}

	LogWithRequestID(r, a.logger).Infow("Task created", "task_id", task.ID)
	a.respondJSON(w, task, http.StatusCreated)
}

// getTask returns a single task
func (a *API) getTask(w http.ResponseWriter, r *http.Request) {
	id, ok := a.taskID(w, r)
	if !ok {
		return
	}

	task, err := a.taskStorage.GetTask(r.Context(), id)
	if err != nil {
		a.writeStorageError(w, r, "Failed to get task", err)
		return
	}
	a.respondJSON(w, task, http.StatusOK)
}

// updateTask applies a partial update. PUT and PATCH behave the same.
func (a *API) updateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := a.taskID(w, r)
	if !ok {
		return
	}

	var update core.TaskUpdate
	if err := a.decodeJSONBody(w, r, &update); err != nil {
		return
	}
	update.Normalize()
	if err := update.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}

	task, err := a.taskStorage.UpdateTask(r.Context(), id, &update)
	if err != nil {
		a.writeStorageError(w, r, "Failed to update task", err)
		return
	}
	a.respondJSON(w, task, http.StatusOK)
}

// toggleTask flips a task's completed flag
func (a *API) toggleTask(w http.ResponseWriter, r *http.Request) {
	id, ok := a.taskID(w, r)
	if !ok {
		return
	}

	task, err := a.taskStorage.ToggleTask(r.Context(), id)
	if err != nil {
		a.writeStorageError(w, r, "Failed to toggle task", err)
		return
	}
	a.respondJSON(w, task, http.StatusOK)
}

// deleteTask removes a task
func (a *API) deleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := a.taskID(w, r)
	if !ok {
		return
	}

	if err := a.taskStorage.DeleteTask(r.Context(), id); err != nil {
		a.writeStorageError(w, r, "Failed to delete task", err)
		return
	}

	LogWithRequestID(r, a.logger).Infow("Task deleted", "task_id", id)
	a.respondJSON(w, messageResponse{Message: "Task deleted"}, http.StatusOK)
}
