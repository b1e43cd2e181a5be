package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRecrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recrawl DOMAIN|URL...",
		Short: "Requeues finished tasks of a domain or a single URL",
		Long: `Resets completed and failed tasks to queued so the next crawl or the
running server fetches them again. Arguments containing "://" are treated as
URLs, anything else as a domain.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			for _, target := range args {
				n, err := rt.Recrawl(cmd.Context(), target)
				if err != nil {
					return fmt.Errorf("recrawl %s: %w", target, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d tasks requeued\n", target, n)
			}
			return nil
		},
	}
}
