package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/offsync/internal/app"
	"github.com/marcus/offsync/internal/models"
	"github.com/marcus/offsync/internal/output"
)

var profileCmd = &cobra.Command{
	Use:     "profile",
	Short:   "Manage your profile",
	GroupID: "system",
}

var profileSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update display name or avatar",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var patch models.Profile
		if cmd.Flags().Changed("name") {
			v, _ := cmd.Flags().GetString("name")
			patch.FullName = &v
		}
		if cmd.Flags().Changed("avatar") {
			v, _ := cmd.Flags().GetString("avatar")
			patch.AvatarURL = &v
		}
		if patch.FullName == nil && patch.AvatarURL == nil {
			return fail(cmd, fmt.Errorf("%w: pass --name and/or --avatar", errInvalidInput))
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			user, err := a.Identity.UpdateProfile(ctx, patch)
			if err != nil {
				return fail(cmd, err)
			}
			if jsonOutput(cmd) {
				return output.JSON(redact(user))
			}
			output.Success("Profile updated")
			fmt.Println(output.FormatIdentity(user))
			return nil
		})
	},
}

func init() {
	profileSetCmd.Flags().String("name", "", "Display name (empty string clears it)")
	profileSetCmd.Flags().String("avatar", "", "Avatar URL")

	profileCmd.AddCommand(profileSetCmd)
	rootCmd.AddCommand(profileCmd)
}
