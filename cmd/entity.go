package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/offsync/internal/app"
	"github.com/marcus/offsync/internal/models"
	"github.com/marcus/offsync/internal/output"
)

var (
	errNoMatch      = errors.New("no row matches")
	errAmbiguous    = errors.New("id is ambiguous")
	errInvalidInput = errors.New("invalid input")
)

// resolveRow finds the row whose id equals ref, or else the single row whose
// id ends with ref (the short form printed by list).
func resolveRow(view []models.Row, ref string) (models.Row, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return models.Row{}, fmt.Errorf("%w: empty id", errInvalidInput)
	}
	var matches []models.Row
	for _, r := range view {
		if r.ID == ref {
			return r, nil
		}
		if strings.HasSuffix(r.ID, ref) {
			matches = append(matches, r)
		}
	}
	switch len(matches) {
	case 0:
		return models.Row{}, fmt.Errorf("%w: %s", errNoMatch, ref)
	case 1:
		return matches[0], nil
	default:
		return models.Row{}, fmt.Errorf("%w: %s matches %d rows", errAmbiguous, ref, len(matches))
	}
}

// findRow lists entityType and resolves ref against the merged view.
func findRow(ctx context.Context, a *app.App, et models.EntityType, ref string) (models.Row, error) {
	view, _, err := a.List(ctx, et)
	if err != nil {
		return models.Row{}, err
	}
	return resolveRow(view, ref)
}

// enqueue queues a mutation, lets an online drain run, and reports whether
// the entry is still pending.
func enqueue(cmd *cobra.Command, a *app.App, et models.EntityType, op models.Operation, p models.Payload) error {
	entry, err := a.Queue.Enqueue(et, op, p)
	if err != nil {
		return fail(cmd, fmt.Errorf("%w: %v", errInvalidInput, err))
	}
	a.Flush()

	pending := false
	for _, e := range a.Queue.Queue() {
		if e.ID == entry.ID {
			pending = true
			break
		}
	}

	if jsonOutput(cmd) {
		return output.JSON(map[string]any{"entry": entry, "pending": pending})
	}
	state := "synced"
	if pending {
		state = "queued"
	}
	output.Success("%s %s %s (%s)", strings.ToUpper(string(op)), et, output.ShortID(entry.RowID()), state)
	return nil
}

func printRows(cmd *cobra.Command, et models.EntityType, rows []models.Row, fresh bool) error {
	if jsonOutput(cmd) {
		return output.JSON(map[string]any{"rows": rows, "fresh": fresh})
	}
	if len(rows) == 0 {
		output.Info("No %ss", et)
	}
	for _, r := range rows {
		fmt.Println(output.FormatRow(et, r))
	}
	if !fresh {
		output.Warning("offline: showing last synced %ss plus local changes", et)
	}
	return nil
}

func newListCmd(et models.EntityType) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   fmt.Sprintf("List %ss, including unsynced local changes", et),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				rows, fresh, err := a.List(ctx, et)
				if err != nil {
					return fail(cmd, err)
				}
				return printRows(cmd, et, rows, fresh)
			})
		},
	}
}

func newRmCmd(et models.EntityType) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   fmt.Sprintf("Delete a %s", et),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				row, err := findRow(ctx, a, et, args[0])
				if err != nil {
					return fail(cmd, err)
				}
				return enqueue(cmd, a, et, models.OpDelete, models.Payload{TargetID: row.ID})
			})
		},
	}
}

// updateFields enqueues a partial update of the row ref resolves to.
func updateFields(cmd *cobra.Command, et models.EntityType, ref string, fields map[string]any) error {
	if len(fields) == 0 {
		return fail(cmd, fmt.Errorf("%w: nothing to update", errInvalidInput))
	}
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		row, err := findRow(ctx, a, et, ref)
		if err != nil {
			return fail(cmd, err)
		}
		return enqueue(cmd, a, et, models.OpUpdate, models.Payload{TargetID: row.ID, Fields: fields})
	})
}

// addRow enqueues an Add after checking the user is signed in.
func addRow(cmd *cobra.Command, et models.EntityType, fields map[string]any) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if !a.Identity.IsAuthenticated() {
			output.Warning("not signed in: the %s will sync after `offsync auth login`", et)
		}
		return enqueue(cmd, a, et, models.OpAdd, models.Payload{Fields: fields})
	})
}
