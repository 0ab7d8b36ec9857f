package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/offsync/internal/models"
)

var bookCmd = &cobra.Command{
	Use:     "book",
	Aliases: []string{"b"},
	Short:   "Manage your reading list",
	GroupID: "data",
}

var bookAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a book",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title := strings.TrimSpace(strings.Join(args, " "))
		if title == "" {
			return fail(cmd, fmt.Errorf("%w: title required", errInvalidInput))
		}
		fields := map[string]any{"title": title}
		if author, _ := cmd.Flags().GetString("author"); author != "" {
			fields["author"] = author
		}
		return addRow(cmd, models.EntityBook, fields)
	},
}

var bookEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Change a book's title or author",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields := map[string]any{}
		for _, name := range []string{"title", "author"} {
			if cmd.Flags().Changed(name) {
				v, _ := cmd.Flags().GetString(name)
				fields[name] = v
			}
		}
		return updateFields(cmd, models.EntityBook, args[0], fields)
	},
}

func init() {
	bookAddCmd.Flags().String("author", "", "Author")
	bookEditCmd.Flags().String("title", "", "New title")
	bookEditCmd.Flags().String("author", "", "New author")

	bookCmd.AddCommand(bookAddCmd, bookEditCmd,
		newRmCmd(models.EntityBook), newListCmd(models.EntityBook))
	rootCmd.AddCommand(bookCmd)
}
