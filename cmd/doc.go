package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/offsync/internal/app"
	"github.com/marcus/offsync/internal/models"
	"github.com/marcus/offsync/internal/output"
)

var docCmd = &cobra.Command{
	Use:     "doc",
	Aliases: []string{"d"},
	Short:   "Manage markdown documents",
	GroupID: "data",
}

// readBody returns --body, or the contents of --file ("-" for stdin).
func readBody(cmd *cobra.Command) (string, bool, error) {
	if cmd.Flags().Changed("body") {
		body, _ := cmd.Flags().GetString("body")
		return body, true, nil
	}
	path, _ := cmd.Flags().GetString("file")
	if path == "" {
		return "", false, nil
	}
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), true, nil
}

var docAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a document",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title := strings.TrimSpace(strings.Join(args, " "))
		if title == "" {
			return fail(cmd, fmt.Errorf("%w: title required", errInvalidInput))
		}
		body, _, err := readBody(cmd)
		if err != nil {
			return fail(cmd, fmt.Errorf("%w: %v", errInvalidInput, err))
		}
		return addRow(cmd, models.EntityDocument, map[string]any{"title": title, "text": body})
	},
}

var docEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Change a document's title or body",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields := map[string]any{}
		if cmd.Flags().Changed("title") {
			title, _ := cmd.Flags().GetString("title")
			fields["title"] = title
		}
		body, ok, err := readBody(cmd)
		if err != nil {
			return fail(cmd, fmt.Errorf("%w: %v", errInvalidInput, err))
		}
		if ok {
			fields["text"] = body
		}
		return updateFields(cmd, models.EntityDocument, args[0], fields)
	},
}

var docShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Render a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			row, err := findRow(ctx, a, models.EntityDocument, args[0])
			if err != nil {
				return fail(cmd, err)
			}
			if jsonOutput(cmd) {
				return output.JSON(row)
			}

			fmt.Println(output.SectionHeader(output.RowTitle(models.EntityDocument, row)))
			if row.Pending {
				output.Warning("this document has unsynced changes")
			}
			body, _ := row.Fields["text"].(string)
			rendered, err := output.RenderDocument(body)
			if err != nil {
				rendered = body
			}
			if rendered != "" {
				fmt.Println()
				fmt.Println(rendered)
			}
			return nil
		})
	},
}

func init() {
	docAddCmd.Flags().String("body", "", "Document body (markdown)")
	docAddCmd.Flags().String("file", "", "Read the body from a file (- for stdin)")
	docEditCmd.Flags().String("title", "", "New title")
	docEditCmd.Flags().String("body", "", "New body (markdown)")
	docEditCmd.Flags().String("file", "", "Read the new body from a file (- for stdin)")

	docCmd.AddCommand(docAddCmd, docEditCmd, docShowCmd,
		newRmCmd(models.EntityDocument), newListCmd(models.EntityDocument))
	rootCmd.AddCommand(docCmd)
}
