package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/offsync/internal/app"
	"github.com/marcus/offsync/internal/events"
	"github.com/marcus/offsync/internal/identity"
	"github.com/marcus/offsync/internal/models"
	"github.com/marcus/offsync/internal/output"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	Aliases: []string{"q"},
	Short:   "Inspect and drain unsynced changes",
	GroupID: "sync",
}

var queueListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List queued changes in the order they will be sent",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, _ := cmd.Flags().GetString("type")
		if filter != "" && !models.IsValidEntityType(filter) {
			return fail(cmd, fmt.Errorf("%w: unknown type %q", errInvalidInput, filter))
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			var entries []models.QueueEntry
			for _, e := range a.Queue.Queue() {
				if filter == "" || string(e.EntityType) == filter {
					entries = append(entries, e)
				}
			}
			if jsonOutput(cmd) {
				return output.JSON(entries)
			}
			if len(entries) == 0 {
				output.Info("Queue is empty")
				return nil
			}
			for _, e := range entries {
				fmt.Println(output.FormatQueueEntry(e))
			}
			return nil
		})
	},
}

var queueDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Send queued changes to the remote service now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if !a.Identity.IsAuthenticated() {
				return fail(cmd, fmt.Errorf("cannot drain: %w", identity.ErrNotSignedIn))
			}

			// Coming online starts a drain of its own; count every pass.
			var synced, evicted int
			subs := []events.Subscription{
				a.Bus.Subscribe(events.KindSyncCompleted, func(ev events.Event) {
					if p, ok := ev.Payload.(events.SyncCompleted); ok {
						synced += p.Count
					}
				}),
				a.Bus.Subscribe(events.KindSyncEvicted, func(ev events.Event) {
					if p, ok := ev.Payload.(events.SyncEvicted); ok {
						evicted++
						output.Warning("dropped %s %s after %d attempts", p.EntityType, output.ShortID(p.EntryID), p.RetryCount)
					}
				}),
			}
			defer func() {
				for _, s := range subs {
					s.Cancel()
				}
			}()

			if !a.Net.Check(ctx) {
				return fail(cmd, fmt.Errorf("remote service unreachable at %s", cfg.URL))
			}
			a.Flush()
			a.Queue.Drain(ctx)
			remaining := len(a.Queue.Queue())

			if jsonOutput(cmd) {
				return output.JSON(map[string]int{"synced": synced, "remaining": remaining, "evicted": evicted})
			}
			output.Success("Synced %d, %d remaining", synced, remaining)
			return nil
		})
	},
}

func init() {
	queueListCmd.Flags().String("type", "", "Only show entries of this entity type (task, document, book)")

	queueCmd.AddCommand(queueListCmd, queueDrainCmd)
	rootCmd.AddCommand(queueCmd)
}
