package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/renovo-works/sessioncore/internal/adapter/outbound/apiclient"
	"github.com/renovo-works/sessioncore/internal/domain/session"
)

var requestData string

var requestCmd = &cobra.Command{
	Use:   "request METHOD PATH",
	Short: "Send an authenticated request",
	Long: `Send a request to the API with the current access token. A 401 answer
triggers one refresh and one retry.

The response body is written to stdout and the status line to stderr.

Examples:
  sessionctl request GET /jobs
  sessionctl request POST /jobs --data '{"name":"roof"}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		method, path := strings.ToUpper(args[0]), args[1]
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return runRequest(ctx, a, method, path, os.Stdout)
		})
	},
}

func init() {
	requestCmd.Flags().StringVarP(&requestData, "data", "d", "", "JSON request body")
	rootCmd.AddCommand(requestCmd)
}

func runRequest(ctx context.Context, a *app, method, path string, out io.Writer) error {
	state, err := a.manager.Initialize(ctx)
	if err != nil {
		a.logger.Warn("restore did not finish", "error", err)
	}
	if state != session.Authenticated {
		return fmt.Errorf("not signed in (state %s)", state)
	}

	var body io.Reader
	if requestData != "" {
		body = strings.NewReader(requestData)
	}
	resp, err := a.client.Do(ctx, method, path, body)
	if err != nil {
		var authErr *apiclient.AuthError
		if errors.As(err, &authErr) {
			return fmt.Errorf("request unauthorized: %w", err)
		}
		return err
	}
	defer resp.Body.Close()

	fmt.Fprintf(os.Stderr, "%s %s: %s\n", method, path, resp.Status)
	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server answered %d", resp.StatusCode)
	}
	return nil
}
