package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marcus/offsync/internal/app"
	"github.com/marcus/offsync/internal/events"
	"github.com/marcus/offsync/internal/models"
	"github.com/marcus/offsync/internal/output"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Background sync",
	GroupID: "sync",
}

var syncRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Keep draining the queue until interrupted",
	Long: `Runs the drain loop in the foreground: the queue drains every drain
interval, whenever the remote service comes back, and when another offsync
command queues a change.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		cmd.SetContext(ctx)

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			subs := []events.Subscription{
				a.Bus.Subscribe(events.KindSyncCompleted, func(ev events.Event) {
					if p, ok := ev.Payload.(events.SyncCompleted); ok && p.Count > 0 {
						slog.Info("synced", "count", p.Count, "remaining", a.Queue.PendingCount(""))
					}
				}),
				a.Bus.Subscribe(events.KindConnectivityChanged, func(ev events.Event) {
					if p, ok := ev.Payload.(events.ConnectivityChanged); ok {
						slog.Info("connectivity", "online", p.Online)
					}
				}),
				a.Bus.Subscribe(events.KindAuthStateChanged, func(ev events.Event) {
					if p, ok := ev.Payload.(events.AuthStateChanged); ok && p.User == nil {
						slog.Warn("signed out; queued changes wait for the next sign-in")
					}
				}),
			}
			defer func() {
				for _, s := range subs {
					s.Cancel()
				}
			}()

			output.Info("Syncing %s every %s (Ctrl+C to stop)", cfg.URL, cfg.DrainInterval)
			a.Bus.Publish(events.SyncRequested{})
			return a.Run(ctx)
		})
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity, account and queue state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			online := a.Net.Check(ctx)
			user := a.Identity.Cached()
			pending := make(map[models.EntityType]int)
			for _, et := range models.AllEntityTypes() {
				pending[et] = a.Queue.PendingCount(et)
			}

			if jsonOutput(cmd) {
				email := ""
				if user != nil {
					email = user.Email
				}
				return output.JSON(map[string]any{
					"online":  online,
					"url":     cfg.URL,
					"user":    email,
					"pending": pending,
				})
			}

			state := "offline"
			if online {
				state = "online"
			}
			fmt.Printf("%-10s %s (%s)\n", "remote", cfg.URL, state)
			account := "not signed in"
			if user != nil {
				account = user.DisplayName()
			}
			fmt.Printf("%-10s %s\n", "account", account)
			for _, et := range models.AllEntityTypes() {
				fmt.Printf("%-10s %d pending\n", et, pending[et])
			}
			return nil
		})
	},
}

func init() {
	syncCmd.AddCommand(syncRunCmd, syncStatusCmd)
	rootCmd.AddCommand(syncCmd)
}
