package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/offsync/internal/models"
)

var taskCmd = &cobra.Command{
	Use:     "task",
	Aliases: []string{"t"},
	Short:   "Manage tasks",
	GroupID: "data",
}

var taskAddCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Add a task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.TrimSpace(strings.Join(args, " "))
		if text == "" {
			return fail(cmd, fmt.Errorf("%w: task text required", errInvalidInput))
		}
		return addRow(cmd, models.EntityTask, map[string]any{"text": text, "done": false})
	},
}

var taskDoneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a task done",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		undo, _ := cmd.Flags().GetBool("undo")
		return updateFields(cmd, models.EntityTask, args[0], map[string]any{"done": !undo})
	},
}

var taskEditCmd = &cobra.Command{
	Use:   "edit <id> <text>",
	Short: "Change a task's text",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.TrimSpace(strings.Join(args[1:], " "))
		if text == "" {
			return fail(cmd, fmt.Errorf("%w: task text required", errInvalidInput))
		}
		return updateFields(cmd, models.EntityTask, args[0], map[string]any{"text": text})
	},
}

func init() {
	taskDoneCmd.Flags().Bool("undo", false, "Mark the task not done")

	taskCmd.AddCommand(taskAddCmd, taskDoneCmd, taskEditCmd,
		newRmCmd(models.EntityTask), newListCmd(models.EntityTask))
	rootCmd.AddCommand(taskCmd)
}
