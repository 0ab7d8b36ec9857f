package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/marcus/offsync/internal/app"
	"github.com/marcus/offsync/internal/models"
	"github.com/marcus/offsync/internal/output"
)

var authCmd = &cobra.Command{
	Use:     "auth",
	Short:   "Sign in to the remote service",
	GroupID: "system",
}

// credentialsFor returns email and password from flags and the environment,
// prompting with a form for whatever is missing when attached to a terminal.
func credentialsFor(cmd *cobra.Command, title string) (string, string, error) {
	email, _ := cmd.Flags().GetString("email")
	password := os.Getenv("OFFSYNC_PASSWORD")

	if email == "" || password == "" {
		if !output.IsTerminal() {
			return "", "", fmt.Errorf("%w: --email and OFFSYNC_PASSWORD are required without a terminal", errInvalidInput)
		}
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Email").
					Value(&email).
					Validate(func(s string) error {
						if !strings.Contains(s, "@") {
							return fmt.Errorf("enter an email address")
						}
						return nil
					}),
				huh.NewInput().
					Title("Password").
					EchoMode(huh.EchoModePassword).
					Value(&password).
					Validate(func(s string) error {
						if s == "" {
							return fmt.Errorf("password required")
						}
						return nil
					}),
			).Title(title),
		)
		if err := form.Run(); err != nil {
			return "", "", fmt.Errorf("%s: %w", strings.ToLower(title), err)
		}
	}
	return strings.TrimSpace(email), password, nil
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email and password",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, password, err := credentialsFor(cmd, "Sign in")
		if err != nil {
			return fail(cmd, err)
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			user, err := a.SignIn(ctx, email, password)
			if err != nil {
				return fail(cmd, err)
			}
			a.Flush()
			return printSignedIn(cmd, a, user)
		})
	},
}

var authSignupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, password, err := credentialsFor(cmd, "Create account")
		if err != nil {
			return fail(cmd, err)
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			user, err := a.SignUp(ctx, email, password)
			if err != nil {
				return fail(cmd, err)
			}
			if user == nil {
				output.Info("Check %s to confirm the account, then run `offsync auth login`", email)
				return nil
			}
			a.Flush()
			return printSignedIn(cmd, a, user)
		})
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear cached account data",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			pending := a.Queue.PendingCount("")
			a.SignOut(ctx)
			if jsonOutput(cmd) {
				return output.JSON(map[string]any{"signed_out": true, "pending": pending})
			}
			output.Success("Signed out")
			if pending > 0 {
				output.Warning("%d unsynced changes stay queued until the next sign-in", pending)
			}
			return nil
		})
	},
}

var authWhoamiCmd = &cobra.Command{
	Use:     "whoami",
	Aliases: []string{"status"},
	Short:   "Show the signed-in account",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			user := a.Identity.Cached()
			if refresh, _ := cmd.Flags().GetBool("refresh"); refresh && user != nil {
				current, err := a.Identity.Current(ctx)
				if err != nil {
					output.Warning("could not verify session: %v", err)
				} else {
					user = current
				}
			}
			if jsonOutput(cmd) {
				return output.JSON(redact(user))
			}
			fmt.Println(output.FormatIdentity(user))
			return nil
		})
	},
}

func printSignedIn(cmd *cobra.Command, a *app.App, user *models.Identity) error {
	if cached := a.Identity.Cached(); cached != nil {
		user = cached
	}
	if jsonOutput(cmd) {
		return output.JSON(redact(user))
	}
	output.Success("Signed in as %s", user.DisplayName())
	return nil
}

// redact drops the access token from machine output.
func redact(user *models.Identity) *models.Identity {
	if user == nil {
		return nil
	}
	c := user.Clone()
	c.AccessToken = ""
	return c
}

func init() {
	authLoginCmd.Flags().String("email", "", "Account email (password from OFFSYNC_PASSWORD or a prompt)")
	authSignupCmd.Flags().String("email", "", "Account email (password from OFFSYNC_PASSWORD or a prompt)")
	authWhoamiCmd.Flags().Bool("refresh", false, "Verify the session with the remote service")

	authCmd.AddCommand(authLoginCmd, authSignupCmd, authLogoutCmd, authWhoamiCmd)
	rootCmd.AddCommand(authCmd)
}
