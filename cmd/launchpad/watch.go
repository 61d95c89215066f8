package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/launchpad/internal/tui"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Monitor a running job service in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			apiURL, _ := cmd.Flags().GetString("api")
			apiKey, _ := cmd.Flags().GetString("api-key")
			return tui.Run(cmd.Context(), tui.NewClient(apiURL, apiKey))
		},
	}
	cmd.Flags().String("api", "http://127.0.0.1:5000", "Job service base URL")
	cmd.Flags().String("api-key", os.Getenv("LAUNCHPAD_API_KEY"), "API bearer token (default $LAUNCHPAD_API_KEY)")
	return cmd
}
