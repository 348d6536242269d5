package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/renovo-works/sessioncore/internal/domain/account"
	"github.com/renovo-works/sessioncore/internal/domain/vault"
)

var statusOutput string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session",
	Long: `Restore the session and print its state.

Output formats: text (default), json, yaml.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		switch statusOutput {
		case "text", "json", "yaml":
		default:
			return fmt.Errorf("unknown output format %q (text, json, yaml)", statusOutput)
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			view, err := collectStatus(ctx, a)
			if err != nil {
				return err
			}
			return renderStatus(os.Stdout, statusOutput, view)
		})
	},
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "text", "output format: text, json, yaml")
	rootCmd.AddCommand(statusCmd)
}

// statusView is what status prints. It never holds a token.
type statusView struct {
	State            string        `json:"state" yaml:"state"`
	User             *account.User `json:"user,omitempty" yaml:"user,omitempty"`
	TokenFingerprint string        `json:"token_fingerprint,omitempty" yaml:"token_fingerprint,omitempty"`
	PushRegistered   bool          `json:"push_registered" yaml:"push_registered"`
	DeviceID         string        `json:"device_id" yaml:"device_id"`
	Biometric        biometricView `json:"biometric" yaml:"biometric"`
	Storage          string        `json:"storage" yaml:"storage"`
}

type biometricView struct {
	Support vault.Support `json:"support" yaml:"support"`
	Enabled bool          `json:"enabled" yaml:"enabled"`
}

func collectStatus(ctx context.Context, a *app) (statusView, error) {
	state, err := a.manager.Initialize(ctx)
	if err != nil {
		a.logger.Warn("restore did not finish", "error", err)
	}
	deviceID, err := a.vault.DeviceID(ctx)
	if err != nil {
		return statusView{}, err
	}

	view := statusView{
		State:    state.String(),
		DeviceID: deviceID,
		Biometric: biometricView{
			Support: a.vault.CheckBiometricSupport(ctx),
			Enabled: a.vault.IsEnabled(ctx),
		},
		Storage: a.cfg.Storage.Backend,
	}
	if cur := a.manager.Current(); cur.Authenticated() {
		u := cur.User
		view.User = &u
		view.TokenFingerprint = cur.TokenFingerprint()
		view.PushRegistered = cur.PushToken != ""
	}
	return view, nil
}

func renderStatus(w io.Writer, format string, v statusView) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}

	fmt.Fprintf(w, "%-12s %s\n", "State:", v.State)
	if v.User != nil {
		fmt.Fprintf(w, "%-12s %s (id %s", "User:", v.User.Username, v.User.ID)
		if v.User.Role != "" {
			fmt.Fprintf(w, ", %s", v.User.Role)
		}
		fmt.Fprintln(w, ")")
		fmt.Fprintf(w, "%-12s %s\n", "Token:", v.TokenFingerprint)
		fmt.Fprintf(w, "%-12s %t\n", "Push:", v.PushRegistered)
	}
	fmt.Fprintf(w, "%-12s %s\n", "Device:", v.DeviceID)
	fmt.Fprintf(w, "%-12s %s (usable %t, enabled %t)\n", "Biometric:",
		v.Biometric.Support.Kind, v.Biometric.Support.Usable(), v.Biometric.Enabled)
	fmt.Fprintf(w, "%-12s %s\n", "Storage:", v.Storage)
	return nil
}
