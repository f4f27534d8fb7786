// Package main is the entry point for the task tracker API.
package main

import (
	"context"
	"fmt"
	"os"

	"tasktracker/bootstrap"
	"tasktracker/cmd"
)

// run initializes and starts the task tracker API.
func run() error {
	ctx := context.Background()

	// Create and initialize application
	app, err := bootstrap.NewApp(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	// Start all services
	if err := app.Start(ctx); err != nil {
		app.Shutdown()
		return fmt.Errorf("failed to start application: %w", err)
	}

	// Wait for a shutdown signal or a listener failure
	serveErr := app.WaitForShutdown()

	// Graceful shutdown
	app.Shutdown()

	return serveErr
}

// main is the entry point.
func main() {
	// Check if running as CLI command
	if len(os.Args) > 1 && os.Args[1] == "tasks" {
		// Strip "tasks" from os.Args since the command already knows it's the tasks command
		os.Args = append([]string{os.Args[0]}, os.Args[2:]...)

		tasksCmd := cmd.NewTasksCmd()
		tasksCmd.SilenceErrors = true
		if err := tasksCmd.Execute(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Otherwise run as normal server
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
