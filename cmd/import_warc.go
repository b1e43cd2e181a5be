package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newImportWARCCmd replays archived responses through the indexing pipeline.
// Replayed pages live in memory, so the import crawls before returning.
func newImportWARCCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-warc FILE...",
		Short: "Indexes the HTML responses stored in WARC archives",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			total := 0
			for _, path := range args {
				n, err := rt.ImportWARC(cmd.Context(), path)
				if err != nil {
					return fmt.Errorf("import %s: %w", path, err)
				}
				total += n
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %d archived pages\n", total)
			return rt.Crawl(cmd.Context(), true)
		},
	}
}
