// Package cmd provides command-line interface commands for the task tracker.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tasktracker/bootstrap"
	"tasktracker/config"
	"tasktracker/core"
	"tasktracker/storage"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags for tasks commands
var (
	outputJSON bool
	noColor    bool
	quiet      bool
)

const (
	maxImportFileSize = 10 * 1024 * 1024 // 10MB
	defaultTimeout    = 2 * time.Minute
)

// taskStore is the storage surface the CLI needs
type taskStore interface {
	ListTasks(ctx context.Context, filter core.TaskFilter) ([]core.Task, error)
	GetTask(ctx context.Context, id string) (*core.Task, error)
	CreateTask(ctx context.Context, task *core.Task) error
	UpdateTask(ctx context.Context, id string, update *core.TaskUpdate) (*core.Task, error)
	ToggleTask(ctx context.Context, id string) (*core.Task, error)
	DeleteTask(ctx context.Context, id string) error
}

// openTaskStore connects to MongoDB using the process configuration.
// Tests replace it with an in-memory store.
var openTaskStore = func(ctx context.Context, cmd *cobra.Command) (taskStore, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, sugar, err := bootstrap.InitLogger(config.LogConfig{Level: "warn", Format: cfg.Log.Format})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	var s *spinner.Spinner
	if !outputJSON && !quiet {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		s.Writer = cmd.ErrOrStderr()
		s.Suffix = " Connecting to MongoDB..."
		s.Start()
	}

	mongoDB, err := storage.NewMongoDB(ctx, cfg.MongoDB, sugar)

	if s != nil {
		s.Stop()
	}
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongoDB.Close(closeCtx); err != nil {
			sugar.Warnf("Failed to close MongoDB connection during cleanup: %v", err)
		}
		_ = logger.Sync()
	}

	return storage.NewTaskStorage(mongoDB), cleanup, nil
}

// validateFilePath rejects paths that escape the working directory.
func validateFilePath(filename string) error {
	// Decode URL encoding to prevent bypass (e.g., %2e%2e%2f)
	decoded, err := url.QueryUnescape(filename)
	if err != nil {
		decoded = filename
	}

	if strings.Contains(decoded, "..") || strings.Contains(filename, "..") {
		return fmt.Errorf("path traversal detected: '..' not allowed in file path")
	}

	absPath, err := filepath.Abs(filepath.Clean(decoded))
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	if absPath != workDir && !strings.HasPrefix(absPath, workDir+string(filepath.Separator)) {
		return fmt.Errorf("path escapes current directory")
	}

	return nil
}

// NewTasksCmd creates the root tasks command with all subcommands.
func NewTasksCmd() *cobra.Command {
	tasksCmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage tasks from the command line",
		Long: `Manage tasks stored in MongoDB without going through the HTTP API.

Connection settings are read the same way the server reads them: .env,
config.yaml and the environment (MONGO_URI, MONGO_DATABASE, ...).`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	tasksCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	tasksCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	tasksCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-essential output")

	tasksCmd.AddCommand(newListCmd())
	tasksCmd.AddCommand(newShowCmd())
	tasksCmd.AddCommand(newAddCmd())
	tasksCmd.AddCommand(newCompleteCmd())
	tasksCmd.AddCommand(newToggleCmd())
	tasksCmd.AddCommand(newDeleteCmd())
	tasksCmd.AddCommand(newExportCmd())
	tasksCmd.AddCommand(newImportCmd())

	return tasksCmd
}

// withStore runs fn against an opened store under the default timeout
func withStore(cmd *cobra.Command, fn func(ctx context.Context, store taskStore) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	store, cleanup, err := openTaskStore(ctx, cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	return fn(ctx, store)
}

// newListCmd creates the 'list' subcommand
func newListCmd() *cobra.Command {
	var completed string
	var priority string
	var limit int

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks",
		Long:    "Display a table of tasks, newest first.",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := core.TaskFilter{Limit: limit}
			switch completed {
			case "":
			case "true", "yes":
				done := true
				filter.Completed = &done
			case "false", "no":
				open := false
				filter.Completed = &open
			default:
				return fmt.Errorf("invalid --completed value %q: use true or false", completed)
			}
			if priority != "" {
				filter.Priority = core.TaskPriority(priority)
				if !filter.Priority.IsValid() {
					return fmt.Errorf("invalid --priority value %q: use low, medium or high", priority)
				}
			}

			return withStore(cmd, func(ctx context.Context, store taskStore) error {
				tasks, err := store.ListTasks(ctx, filter)
				if err != nil {
					return fmt.Errorf("failed to list tasks: %w", err)
				}

				if outputJSON {
					return outputAsJSON(cmd.OutOrStdout(), tasks)
				}
				renderTasksTable(cmd.OutOrStdout(), tasks)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&completed, "completed", "", "Filter by completion (true or false)")
	cmd.Flags().StringVar(&priority, "priority", "", "Filter by priority (low, medium, high)")
	cmd.Flags().IntVar(&limit, "limit", core.DefaultListLimit, "Maximum number of tasks to show")

	return cmd
}

// newShowCmd creates the 'show' subcommand
func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show task details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store taskStore) error {
				task, err := store.GetTask(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to get task: %w", err)
				}

				if outputJSON {
					return outputAsJSON(cmd.OutOrStdout(), task)
				}
				renderTaskDetails(cmd.OutOrStdout(), task)
				return nil
			})
		},
	}
}

// newAddCmd creates the 'add' subcommand
func newAddCmd() *cobra.Command {
	var title, description, priority, due string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var dueDate *time.Time
			if due != "" {
				parsed, err := time.Parse(time.RFC3339, due)
				if err != nil {
					return fmt.Errorf("invalid --due value %q: expected RFC3339 (2006-01-02T15:04:05Z07:00)", due)
				}
				parsed = parsed.UTC()
				dueDate = &parsed
			}

			task := core.NewTask(title, description, core.TaskPriority(priority), dueDate)
			if err := task.Validate(); err != nil {
				return fmt.Errorf("invalid task: %w", err)
			}

			return withStore(cmd, func(ctx context.Context, store taskStore) error {
				if err := store.CreateTask(ctx, task); err != nil {
					return fmt.Errorf("failed to create task: %w", err)
				}

				if outputJSON {
					return outputAsJSON(cmd.OutOrStdout(), task)
				}
				if !quiet {
					successColor.Fprintf(cmd.OutOrStdout(), "✓ Task created: %s\n", task.Title)
					fmt.Fprintf(cmd.OutOrStdout(), "  ID: %s\n", task.ID)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Task title (required)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Task description")
	cmd.Flags().StringVarP(&priority, "priority", "p", string(core.PriorityMedium), "Priority (low, medium, high)")
	cmd.Flags().StringVar(&due, "due", "", "Due date in RFC3339 format")
	_ = cmd.MarkFlagRequired("title")

	return cmd
}

// newCompleteCmd creates the 'complete' subcommand
func newCompleteCmd() *cobra.Command {
	var reopen bool

	cmd := &cobra.Command{
		Use:     "complete <task-id>",
		Aliases: []string{"done"},
		Short:   "Mark a task as completed",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			completed := !reopen
			update := &core.TaskUpdate{Completed: &completed}

			return withStore(cmd, func(ctx context.Context, store taskStore) error {
				task, err := store.UpdateTask(ctx, args[0], update)
				if err != nil {
					return fmt.Errorf("failed to update task: %w", err)
				}

				if outputJSON {
					return outputAsJSON(cmd.OutOrStdout(), task)
				}
				if !quiet {
					state := "completed"
					if reopen {
						state = "reopened"
					}
					successColor.Fprintf(cmd.OutOrStdout(), "✓ Task %s: %s\n", state, task.Title)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&reopen, "reopen", false, "Mark the task as not completed instead")

	return cmd
}

// newToggleCmd creates the 'toggle' subcommand
func newToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <task-id>",
		Short: "Flip a task's completed flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store taskStore) error {
				task, err := store.ToggleTask(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to toggle task: %w", err)
				}

				if outputJSON {
					return outputAsJSON(cmd.OutOrStdout(), task)
				}
				if !quiet {
					successColor.Fprintf(cmd.OutOrStdout(), "✓ %s is now %s\n", task.Title, formatCompletedPlain(task.Completed))
				}
				return nil
			})
		},
	}
}

// newDeleteCmd creates the 'delete' subcommand
func newDeleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "delete <task-id>",
		Aliases: []string{"rm", "remove"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store taskStore) error {
				taskID := args[0]

				task, err := store.GetTask(ctx, taskID)
				if err != nil {
					return fmt.Errorf("failed to get task: %w", err)
				}

				if !force {
					fmt.Fprintf(cmd.OutOrStdout(), "Are you sure you want to delete task '%s' (ID: %s)? [y/N]: ", task.Title, taskID)
					if !confirm(cmd.InOrStdin()) {
						fmt.Fprintln(cmd.OutOrStdout(), "\nDeletion cancelled")
						return nil
					}
				}

				if err := store.DeleteTask(ctx, taskID); err != nil {
					return fmt.Errorf("failed to delete task: %w", err)
				}

				if !quiet {
					successColor.Fprintf(cmd.OutOrStdout(), "✓ Task deleted: %s\n", task.Title)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation prompt")

	return cmd
}

// confirm reads a y/yes answer; EOF and empty input mean no
func confirm(in io.Reader) bool {
	var response string
	if _, err := fmt.Fscanln(in, &response); err != nil {
		return false
	}
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}

// taskRecord is the YAML shape used by export and import
type taskRecord struct {
	ID          string            `yaml:"id,omitempty"`
	Title       string            `yaml:"title"`
	Description string            `yaml:"description,omitempty"`
	Completed   bool              `yaml:"completed"`
	Priority    core.TaskPriority `yaml:"priority,omitempty"`
	DueDate     *time.Time        `yaml:"due_date,omitempty"`
	CreatedAt   time.Time         `yaml:"created_at,omitempty"`
}

// taskFile is the top-level YAML document
type taskFile struct {
	Tasks []taskRecord `yaml:"tasks"`
}

func recordFromTask(t core.Task) taskRecord {
	return taskRecord{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		Priority:    t.Priority,
		DueDate:     t.DueDate,
		CreatedAt:   t.CreatedAt,
	}
}

// taskFromRecord builds a validated task. IDs that are not UUIDs are replaced.
func taskFromRecord(r taskRecord) (*core.Task, error) {
	task := core.NewTask(r.Title, r.Description, r.Priority, r.DueDate)
	if _, err := uuid.Parse(r.ID); err == nil {
		task.ID = r.ID
	}
	task.Completed = r.Completed
	if !r.CreatedAt.IsZero() {
		task.CreatedAt = r.CreatedAt.UTC()
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	return task, nil
}

// listAllTasks pages through the store until it returns a short page
func listAllTasks(ctx context.Context, store taskStore) ([]core.Task, error) {
	var all []core.Task
	for offset := 0; ; offset += core.MaxListLimit {
		page, err := store.ListTasks(ctx, core.TaskFilter{Limit: core.MaxListLimit, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("failed to list tasks at offset %d: %w", offset, err)
		}
		all = append(all, page...)
		if len(page) < core.MaxListLimit {
			return all, nil
		}
	}
}

// newExportCmd creates the 'export' subcommand
func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Export tasks to a YAML file",
		Long:  "Export all tasks to a YAML file. If no file is specified, output to stdout.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				if err := validateFilePath(args[0]); err != nil {
					return fmt.Errorf("invalid file path: %w", err)
				}
			}

			return withStore(cmd, func(ctx context.Context, store taskStore) error {
				tasks, err := listAllTasks(ctx, store)
				if err != nil {
					return err
				}

				doc := taskFile{Tasks: make([]taskRecord, 0, len(tasks))}
				for _, t := range tasks {
					doc.Tasks = append(doc.Tasks, recordFromTask(t))
				}

				data, err := yaml.Marshal(doc)
				if err != nil {
					return fmt.Errorf("failed to marshal YAML: %w", err)
				}

				if len(args) == 0 {
					_, err := cmd.OutOrStdout().Write(data)
					return err
				}

				if err := os.WriteFile(args[0], data, 0644); err != nil {
					return fmt.Errorf("failed to write file: %w", err)
				}
				if !quiet {
					successColor.Fprintf(cmd.OutOrStdout(), "✓ Exported %d tasks to %s\n", len(tasks), args[0])
				}
				return nil
			})
		},
	}
}

// readTaskFile loads and parses an import file
func readTaskFile(filename string) (*taskFile, error) {
	if err := validateFilePath(filename); err != nil {
		return nil, fmt.Errorf("invalid file path: %w", err)
	}

	fileInfo, err := os.Stat(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if fileInfo.Size() > maxImportFileSize {
		return nil, fmt.Errorf("file too large: maximum size is %d bytes, got %d bytes", maxImportFileSize, fileInfo.Size())
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var doc taskFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &doc, nil
}

// newImportCmd creates the 'import' subcommand
func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import tasks from a YAML file",
		Long:  "Import tasks from a YAML file in the format written by export. Existing IDs are skipped.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readTaskFile(args[0])
			if err != nil {
				return err
			}

			return withStore(cmd, func(ctx context.Context, store taskStore) error {
				imported, skipped, failed := 0, 0, 0
				for _, record := range doc.Tasks {
					task, err := taskFromRecord(record)
					if err != nil {
						errorColor.Fprintf(cmd.ErrOrStderr(), "✗ Invalid task %q: %v\n", record.Title, err)
						failed++
						continue
					}

					if err := store.CreateTask(ctx, task); err != nil {
						if errors.Is(err, storage.ErrTaskExists) {
							if !quiet {
								warningColor.Fprintf(cmd.OutOrStdout(), "- Skipped existing task: %s\n", task.Title)
							}
							skipped++
							continue
						}
						errorColor.Fprintf(cmd.ErrOrStderr(), "✗ Failed to import task %q: %v\n", task.Title, err)
						failed++
						continue
					}

					if !quiet {
						successColor.Fprintf(cmd.OutOrStdout(), "✓ Imported task: %s\n", task.Title)
					}
					imported++
				}

				if !quiet {
					infoColor.Fprintf(cmd.OutOrStdout(), "\nImported %d tasks, %d skipped, %d failed\n", imported, skipped, failed)
				}
				if failed > 0 {
					return fmt.Errorf("%d task(s) failed to import", failed)
				}
				return nil
			})
		},
	}
}

// outputAsJSON writes data as indented JSON.
func outputAsJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
