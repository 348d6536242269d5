package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var deviceIDCmd = &cobra.Command{
	Use:   "device-id",
	Short: "Print the stable device identifier",
	Long:  `Print the identifier sent on login. It is generated on first use and survives logout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			id, err := a.vault.DeviceID(ctx)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(deviceIDCmd)
}
