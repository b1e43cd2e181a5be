package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type searchOptions struct {
	lenses []string
	limit  int
	json   bool
}

func newSearchCmd() *cobra.Command {
	opts := searchOptions{}
	cmd := &cobra.Command{
		Use:   "search QUERY...",
		Short: "Searches indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			hits, err := rt.Search(cmd.Context(), strings.Join(args, " "), opts.lenses, opts.limit)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			out := cmd.OutOrStdout()
			if opts.json {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(hits)
			}
			if len(hits) == 0 {
				fmt.Fprintln(out, "no results")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SCORE\tTITLE\tURL")
			for _, h := range hits {
				fmt.Fprintf(tw, "%.3f\t%s\t%s\n", h.Score, h.Title, h.URL)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringSliceVar(&opts.lenses, "lens", nil, "restrict results to a lens (repeatable)")
	cmd.Flags().IntVar(&opts.limit, "limit", 10, "maximum number of results")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print results as JSON")
	return cmd
}
