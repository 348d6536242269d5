package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and erase local credentials",
	Long: `Sign out. Local credentials are erased immediately; the server is asked
to revoke the refresh token in the background, bounded by
session.revoke_timeout. Works offline.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, runLogout)
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}

func runLogout(ctx context.Context, a *app) error {
	if _, err := a.manager.Initialize(ctx); err != nil {
		a.logger.Debug("restore incomplete before logout", "error", err)
	}
	if err := a.manager.Logout(ctx); err != nil {
		return fmt.Errorf("logout left local data behind: %w", err)
	}
	fmt.Println("Signed out.")
	return nil
}
