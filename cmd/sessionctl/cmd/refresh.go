package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/renovo-works/sessioncore/internal/domain/session"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Exchange the refresh token for a new access token",
	Long: `Restore the session and force one refresh. If the server reports the
refresh token expired, the session is signed out.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, runRefresh)
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(ctx context.Context, a *app) error {
	state, err := a.manager.Initialize(ctx)
	if err != nil {
		a.logger.Warn("restore did not finish", "error", err)
	}
	if state != session.Authenticated {
		return fmt.Errorf("not signed in (state %s)", state)
	}

	res := a.manager.TriggerRefresh(ctx)
	if !res.OK() {
		if res.Err != nil {
			return fmt.Errorf("refresh %s: %w", res.Outcome, res.Err)
		}
		return fmt.Errorf("refresh %s", res.Outcome)
	}
	fmt.Printf("Refreshed (token %s).\n", a.manager.Current().TokenFingerprint())
	return nil
}
