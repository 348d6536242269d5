package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var biometricCmd = &cobra.Command{
	Use:   "biometric",
	Short: "Manage the passcode gate in front of the refresh token",
	Long: `Manage the interactive gate that must pass before the refresh token is
released for a refresh. sessionctl offers a passcode gate; set
biometric.mode: passcode in the config to use it.`,
}

var biometricEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Require the gate before refreshing",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, runBiometricEnable)
	},
}

var biometricDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Stop requiring the gate",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, runBiometricDisable)
	},
}

var biometricStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gate support and whether it is enabled",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			s := a.vault.CheckBiometricSupport(ctx)
			fmt.Printf("%-10s %s\n", "Kind:", s.Kind)
			fmt.Printf("%-10s %t\n", "Supported:", s.Supported)
			fmt.Printf("%-10s %t\n", "Enrolled:", s.Enrolled)
			fmt.Printf("%-10s %t\n", "Enabled:", a.vault.IsEnabled(ctx))
			return nil
		})
	},
}

var errNoGate = errors.New("no gate configured: set biometric.mode: passcode")

func init() {
	biometricCmd.AddCommand(biometricEnableCmd, biometricDisableCmd, biometricStatusCmd)
	rootCmd.AddCommand(biometricCmd)
}

func runBiometricEnable(ctx context.Context, a *app) error {
	if a.gate == nil {
		return errNoGate
	}
	if !a.gate.Support(ctx).Enrolled {
		first, err := readSecret("New passcode: ")
		if err != nil {
			return err
		}
		again, err := readSecret("Repeat passcode: ")
		if err != nil {
			return err
		}
		if first != again {
			return errors.New("passcodes do not match")
		}
		if err := a.gate.Enroll(ctx, first); err != nil {
			return err
		}
	}
	if err := a.vault.Enable(ctx); err != nil {
		return err
	}
	if err := a.vault.MarkPromptShown(ctx); err != nil {
		a.logger.Warn("failed to record enablement prompt", "error", err)
	}
	fmt.Println("Passcode required before each refresh.")
	return nil
}

func runBiometricDisable(ctx context.Context, a *app) error {
	if err := a.vault.Disable(ctx); err != nil {
		return err
	}
	if a.gate != nil {
		if err := a.gate.Unenroll(ctx); err != nil {
			return err
		}
	}
	fmt.Println("Passcode no longer required.")
	return nil
}
