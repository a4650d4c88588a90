package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show the status of an indexing task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := apiClient.TaskStatus(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("get task: %w", err)
		}

		fmt.Printf("Task: %s\n", snap.ID)
		fmt.Printf("  Status: %s\n", snap.Status)
		fmt.Printf("  Message: %s\n", snap.Message)
		fmt.Printf("  Progress: %d%%\n", snap.Progress)
		fmt.Printf("  Knowledge base: %s\n", snap.DBName)
		if snap.Filename != "" {
			fmt.Printf("  File: %s\n", snap.Filename)
		}
		fmt.Printf("  Created: %s\n", snap.CreatedAt.Format(time.RFC3339))
		if snap.CompletedAt != nil {
			fmt.Printf("  Finished: %s\n", snap.CompletedAt.Format(time.RFC3339))
			fmt.Printf("  Duration: %s\n", snap.CompletedAt.Sub(snap.CreatedAt).Round(time.Second))
		}
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a queued or running indexing task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, err := apiClient.CancelTask(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("cancel task: %w", err)
		}
		if !ok {
			fmt.Printf("Task %s is already finished or cancelling\n", args[0])
			return nil
		}
		fmt.Printf("Cancellation requested for task %s\n", args[0])
		return nil
	},
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List indexing tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, err := apiClient.ListTasks(cmd.Context())
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks found")
			return nil
		}

		fmt.Printf("%-10s %-11s %-9s %-14s %-9s %s\n", "ID", "STATUS", "PROGRESS", "DB", "CREATED", "MESSAGE")
		fmt.Println("--------------------------------------------------------------------------------")
		for _, t := range tasks {
			fmt.Printf("%-10s %-11s %-9s %-14s %-9s %s\n",
				t.ID, t.Status, fmt.Sprintf("%d%%", t.Progress), t.DBName, t.CreatedAt.Format("15:04:05"), t.Message)
		}
		return nil
	},
}
