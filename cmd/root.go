// Package cmd defines the lenscrawl command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/lenscrawl/internal/app"
	"github.com/JakeFAU/lenscrawl/internal/config"
	"github.com/JakeFAU/lenscrawl/internal/index"
)

// appKeyType is the key for storing the Runtime in the context.
type appKeyType string

const appKey appKeyType = "app"

// Runtime is the slice of *app.App the commands use. Tests inject fakes
// through newApp.
type Runtime interface {
	SeedLenses(ctx context.Context, bootstrap bool, names ...string) (int, error)
	IndexPath(ctx context.Context, root string) (int, error)
	ImportWARC(ctx context.Context, path string) (int, error)
	Crawl(ctx context.Context, exitWhenIdle bool) error
	Serve(ctx context.Context) error
	Search(ctx context.Context, query string, lenses []string, limit int) ([]index.Hit, error)
	Recrawl(ctx context.Context, target string) (int64, error)
	Close(ctx context.Context) error
}

// newApp is the application factory, replaced in tests.
var newApp = func(ctx context.Context, cfg config.Config) (Runtime, error) {
	return app.Build(ctx, cfg)
}

type rootOptions struct {
	configFile string
	envFile    string

	closeOnce sync.Once
	runtime   Runtime
}

func (o *rootOptions) close(ctx context.Context) error {
	var err error
	o.closeOnce.Do(func() {
		if o.runtime != nil {
			err = o.runtime.Close(ctx)
		}
	})
	return err
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() (*cobra.Command, *rootOptions) {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "lenscrawl",
		Short: "A lens-scoped crawler and full-text index for personal search.",
		Long: `lenscrawl crawls the sites named by lenses, local folders and WARC
archives, extracts their text and keeps it in a full-text index that can be
searched from the command line or over JSON-RPC.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configFile, opts.envFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			rt, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			opts.runtime = rt
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, rt))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.close(context.WithoutCancel(cmd.Context()))
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default is lenscrawl.yaml in ., $HOME/.lenscrawl or /etc/lenscrawl)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file applied before reading the environment")

	cmd.AddCommand(
		newServeCmd(),
		newCrawlCmd(),
		newImportWARCCmd(),
		newSearchCmd(),
		newRecrawlCmd(),
	)
	return cmd, opts
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root, opts := newRootCmd()
	err := root.ExecuteContext(ctx)
	if cerr := opts.close(context.Background()); cerr != nil {
		err = errors.Join(err, cerr)
	}
	if err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (Runtime, error) {
	rt, ok := ctx.Value(appKey).(Runtime)
	if !ok || rt == nil {
		return nil, errors.New("application services not initialized")
	}
	return rt, nil
}
