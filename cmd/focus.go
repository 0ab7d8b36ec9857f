package cmd

import (
	"context"
	"fmt"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/marcus/offsync/internal/app"
	"github.com/marcus/offsync/internal/events"
	"github.com/marcus/offsync/internal/models"
	"github.com/marcus/offsync/internal/output"
	"github.com/marcus/offsync/internal/store"
	"github.com/marcus/offsync/internal/tui/focusview"
)

var focusCmd = &cobra.Command{
	Use:     "focus",
	Short:   "Run a focus timer",
	GroupID: "focus",
}

var focusStartCmd = &cobra.Command{
	Use:   "start [minutes]",
	Short: "Start a focus session (replaces a running one)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		minutes := cfg.FocusMinutes
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				return fail(cmd, fmt.Errorf("%w: minutes must be a positive number", errInvalidInput))
			}
			minutes = n
		}
		watchAfter, _ := cmd.Flags().GetBool("watch")

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			a.Bus.Publish(events.FocusStart{DurationMinutes: minutes})
			snap := a.Focus.Snapshot()
			if snap.Status != models.FocusRunning {
				return fail(cmd, fmt.Errorf("%w: focus session did not start", errInvalidInput))
			}
			if watchAfter && !jsonOutput(cmd) {
				return runFocusView(a)
			}
			return printFocus(cmd, snap)
		})
	},
}

var focusCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Abandon the running focus session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if a.Focus.Snapshot().Status != models.FocusRunning {
				output.Info("No focus session running")
				return nil
			}
			a.Bus.Publish(events.FocusCancel{})
			return printFocus(cmd, a.Focus.Snapshot())
		})
	},
}

var focusStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the focus session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return printFocus(cmd, a.Focus.Snapshot())
		})
	},
}

var focusWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the running session as a live countdown",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if a.Focus.Snapshot().Status != models.FocusRunning {
				output.Info("No focus session running")
				return nil
			}
			return runFocusView(a)
		})
	},
}

var focusHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List completed focus sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if clear, _ := cmd.Flags().GetBool("clear"); clear {
				if err := a.Store.ClearHistory(store.HistoryFocus); err != nil {
					report(cmd, output.ErrCodeStoreError, err)
					return err
				}
				output.Success("Cleared focus history")
				return nil
			}

			records, err := store.ReadHistory[models.FocusRecord](a.Store, store.HistoryFocus)
			if err != nil {
				report(cmd, output.ErrCodeStoreError, err)
				return err
			}
			if jsonOutput(cmd) {
				return output.JSON(records)
			}
			if len(records) == 0 {
				output.Info("No completed focus sessions")
				return nil
			}
			total := 0
			for _, r := range records {
				fmt.Println(output.FormatFocusRecord(r))
				total += r.DurationMinutes
			}
			fmt.Printf("\n%d sessions, %d minutes\n", len(records), total)
			return nil
		})
	},
}

func printFocus(cmd *cobra.Command, s models.FocusSession) error {
	if jsonOutput(cmd) {
		return output.JSON(s)
	}
	fmt.Println(output.FormatFocus(s))
	return nil
}

func runFocusView(a *app.App) error {
	model := focusview.NewModel(a.Bus, a.Focus)
	defer model.Close()

	if _, err := tea.NewProgram(model).Run(); err != nil {
		return fmt.Errorf("focus view: %w", err)
	}
	return nil
}

func init() {
	focusStartCmd.Flags().BoolP("watch", "w", false, "Follow the session after starting it")
	focusHistoryCmd.Flags().Bool("clear", false, "Delete the history")

	focusCmd.AddCommand(focusStartCmd, focusCancelCmd, focusStatusCmd, focusWatchCmd, focusHistoryCmd)
	rootCmd.AddCommand(focusCmd)
}
