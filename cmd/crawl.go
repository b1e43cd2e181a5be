package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type crawlOptions struct {
	lenses    []string
	paths     []string
	bootstrap bool
	timeout   time.Duration
}

// newCrawlCmd seeds the queue and drains it once.
func newCrawlCmd() *cobra.Command {
	opts := crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Seeds lenses or local folders and crawls until the queue is idle",
		Long: `Enqueues the seed URLs of the selected lenses (all enabled lenses when
neither --lens nor --path is given) and the supported files under each
--path, then crawls until nothing is left to claim.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, opts)
		},
	}
	cmd.Flags().StringSliceVar(&opts.lenses, "lens", nil, "lens to seed (repeatable)")
	cmd.Flags().StringSliceVar(&opts.paths, "path", nil, "local folder to index (repeatable)")
	cmd.Flags().BoolVar(&opts.bootstrap, "bootstrap", false, "fetch lens seeds through the web archive")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "stop crawling after this long (0 means no limit)")
	return cmd
}

func runCrawl(cmd *cobra.Command, opts crawlOptions) error {
	rt, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	queued := 0
	if len(opts.lenses) > 0 || len(opts.paths) == 0 {
		n, err := rt.SeedLenses(ctx, opts.bootstrap, opts.lenses...)
		if err != nil {
			return fmt.Errorf("seed lenses: %w", err)
		}
		queued += n
	}
	for _, p := range opts.paths {
		n, err := rt.IndexPath(ctx, p)
		if err != nil {
			return fmt.Errorf("index path %s: %w", p, err)
		}
		queued += n
	}
	fmt.Fprintf(cmd.OutOrStdout(), "queued %d new tasks\n", queued)

	if err := rt.Crawl(ctx, true); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("crawl: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "crawl finished")
	return nil
}
