package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	// MaxTitleLength is the maximum length of a task title
	MaxTitleLength = 200
	// MaxDescriptionLength is the maximum length of a task description
	MaxDescriptionLength = 2000
	// MaxErrorMessageLength caps error messages returned to clients
	MaxErrorMessageLength = 500
)

// ErrEmptyUpdate is returned when an update carries no fields
var ErrEmptyUpdate = errors.New("no fields to update")

// TaskPriority represents how urgent a task is
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

// String returns the string representation
func (p TaskPriority) String() string {
	return string(p)
}

// IsValid checks if the priority is valid
func (p TaskPriority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

// Task is a single tracked item
type Task struct {
	ID          string       `json:"id" bson:"_id"`
	Title       string       `json:"title" bson:"title" validate:"required,max=200"`
	Description string       `json:"description" bson:"description" validate:"max=2000"`
	Completed   bool         `json:"completed" bson:"completed"`
	Priority    TaskPriority `json:"priority" bson:"priority" validate:"required,priority"`
	DueDate     *time.Time   `json:"due_date,omitempty" bson:"due_date,omitempty"`
	CreatedAt   time.Time    `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" bson:"updated_at"`
}

// NewTask builds a task with a fresh ID, trimmed text fields and default priority
func NewTask(title, description string, priority TaskPriority, dueDate *time.Time) *Task {
	now := time.Now().UTC()
	if priority == "" {
		priority = PriorityMedium
	}
	return &Task{
		ID:          uuid.New().String(),
		Title:       strings.TrimSpace(title),
		Description: strings.TrimSpace(description),
		Priority:    priority,
		DueDate:     dueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Validate checks the task against its field constraints
func (t *Task) Validate() error {
	return validationError(validate.Struct(t))
}

// TaskUpdate is a partial update; nil fields are left unchanged
type TaskUpdate struct {
	Title       *string       `json:"title,omitempty" validate:"omitempty,max=200"`
	Description *string       `json:"description,omitempty" validate:"omitempty,max=2000"`
	Completed   *bool         `json:"completed,omitempty"`
	Priority    *TaskPriority `json:"priority,omitempty" validate:"omitempty,priority"`
	DueDate     *time.Time    `json:"due_date,omitempty"`
}

// IsEmpty reports whether the update changes nothing
func (u *TaskUpdate) IsEmpty() bool {
	return u.Title == nil && u.Description == nil && u.Completed == nil && u.Priority == nil && u.DueDate == nil
}

// Normalize trims text fields in place
func (u *TaskUpdate) Normalize() {
	if u.Title != nil {
		title := strings.TrimSpace(*u.Title)
		u.Title = &title
	}
	if u.Description != nil {
		description := strings.TrimSpace(*u.Description)
		u.Description = &description
	}
}

// Validate checks the update against the same constraints as Task
func (u *TaskUpdate) Validate() error {
	if u.IsEmpty() {
		return ErrEmptyUpdate
	}
	if u.Title != nil && *u.Title == "" {
		return fmt.Errorf("title cannot be empty")
	}
	return validationError(validate.Struct(u))
}

// TaskFilter narrows a task listing
type TaskFilter struct {
	Completed *bool
	Priority  TaskPriority
	Limit     int
	// Offset skips that many matches; negative values count as zero
	Offset int
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// EffectiveLimit clamps Limit into [1, MaxListLimit], using DefaultListLimit when unset
func (f TaskFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		return MaxListLimit
	}
	return f.Limit
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("priority", func(fl validator.FieldLevel) bool {
		return TaskPriority(fl.Field().String()).IsValid()
	})
	return v
}

// validationError turns validator output into a short client-facing message
func validationError(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}

	fe := fieldErrs[0]
	field := strings.ToLower(fe.Field())
	if field == "duedate" {
		field = "due_date"
	}
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", field)
	case "max":
		return fmt.Errorf("%s must be at most %s characters", field, fe.Param())
	case "priority":
		return fmt.Errorf("priority must be one of low, medium, high")
	default:
		return fmt.Errorf("%s is invalid", field)
	}
}
