package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the crawler and the JSON-RPC server until interrupted",
		Long: `Starts the dispatcher, the JSON-RPC API, enabled plugins and the
periodic index commit. SIGINT or SIGTERM drains in-flight work and exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return rt.Serve(cmd.Context())
		},
	}
}
