package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove all local session state",
	Long: `Remove the refresh token, the session record and every preference,
including the device id and the passcode. The server is not contacted; use
logout to revoke the session first.

Optional flags:
  --force   Skip confirmation prompt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, runReset)
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

func runReset(ctx context.Context, a *app) error {
	if !resetForce {
		fmt.Fprintf(os.Stderr, "This removes all %s session state and the keyring entry.\n", a.cfg.Storage.Backend)
		if !confirm("Proceed?") {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return nil
		}
	}

	var errs []error
	if err := a.vault.Delete(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.store.Reset(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("reset incomplete: %w", err)
	}
	fmt.Fprintln(os.Stderr, "Reset complete.")
	return nil
}
