package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/renovo-works/sessioncore/internal/domain/session"
)

// pushWait bounds how long login waits for push registration.
const pushWait = 5 * time.Second

var (
	loginUsername string
	loginDeviceID string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with username and password",
	Long: `Sign in and store the session.

The password is read from the terminal without echo, or from one line of
stdin when stdin is not a terminal.

Examples:
  sessionctl login -u alice
  printf '%s\n' "$PASSWORD" | sessionctl login -u alice`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, runLogin)
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "username (prompted when empty)")
	loginCmd.Flags().StringVar(&loginDeviceID, "device-id", "", "device id to send instead of the stored one")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(ctx context.Context, a *app) error {
	username := loginUsername
	if username == "" {
		var err error
		if username, err = readLine("Username: "); err != nil {
			return err
		}
	}
	password, err := readSecret("Password: ")
	if err != nil {
		return err
	}

	sess, err := a.manager.Login(ctx, session.Credentials{
		Username: username,
		Password: password,
		DeviceID: loginDeviceID,
	})
	if err != nil {
		var le *session.LoginError
		if errors.As(err, &le) {
			return fmt.Errorf("sign in failed: %s", le.Reason)
		}
		return err
	}

	fmt.Printf("Signed in as %s", sess.User.Username)
	if sess.User.Role != "" {
		fmt.Printf(" (%s)", sess.User.Role)
	}
	fmt.Println()

	waitCtx, cancel := context.WithTimeout(ctx, pushWait)
	defer cancel()
	if err := a.push.Wait(waitCtx); err != nil {
		a.logger.Debug("push registration still pending", "error", err)
	}

	if a.vault.ShouldOfferEnablement(ctx) {
		fmt.Println("Tip: run 'sessionctl biometric enable' to require your passcode before the session is renewed.")
		if err := a.vault.MarkPromptShown(ctx); err != nil {
			a.logger.Warn("failed to record enablement prompt", "error", err)
		}
	}
	return nil
}
