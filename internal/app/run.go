package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
	filefetcher "github.com/JakeFAU/lenscrawl/internal/fetcher/file"
	"github.com/JakeFAU/lenscrawl/internal/fetcher/replay"
	"github.com/JakeFAU/lenscrawl/internal/index"
	"github.com/JakeFAU/lenscrawl/internal/queue"
	"github.com/JakeFAU/lenscrawl/internal/warc"
)

// Enqueue sources.
const (
	SourceLens   = "lens"
	SourceLocal  = "local"
	SourceReplay = "warc"
)

// PipelineReplay routes tasks to the fetcher loaded from a WARC archive.
const PipelineReplay = "warc"

// SeedLenses enqueues the seed URLs of the named lenses, or of every enabled
// lens when names is empty. Bootstrap seeds are fetched through the archive
// service instead of the live site.
func (a *App) SeedLenses(ctx context.Context, bootstrap bool, names ...string) (int, error) {
	if err := a.Lenses.Validate(names); err != nil {
		return 0, err
	}
	targets := a.Lenses.Enabled()
	if len(names) > 0 {
		targets = targets[:0:0]
		for _, name := range names {
			l, _ := a.Lenses.Get(name)
			targets = append(targets, l)
		}
	}
	crawlType := crawler.CrawlNormal
	if bootstrap {
		crawlType = crawler.CrawlBootstrap
	}
	total := 0
	for _, l := range targets {
		n, err := a.Queue.EnqueueAll(ctx, l.Seeds(), queue.Options{
			Lenses:    []string{l.Name},
			Source:    SourceLens,
			CrawlType: crawlType,
		}, a.Lenses.Filter(l.Name))
		if err != nil {
			return total, fmt.Errorf("seed lens %s: %w", l.Name, err)
		}
		a.logger().Info("lens seeded", zap.String("lens", l.Name), zap.Int("queued", n))
		total += n
	}
	return total, nil
}

// IndexPath enqueues every supported file under root as a file:// task.
func (a *App) IndexPath(ctx context.Context, root string) (int, error) {
	paths, err := filefetcher.Discover(ctx, root, a.Config.Crawler.FileExtensions)
	if err != nil {
		return 0, err
	}
	urls := make([]string, 0, len(paths))
	for _, p := range paths {
		urls = append(urls, filefetcher.URLFor(p))
	}
	n, err := a.Queue.EnqueueAll(ctx, urls, queue.Options{Source: SourceLocal}, nil)
	if err != nil {
		return 0, fmt.Errorf("enqueue local files: %w", err)
	}
	a.logger().Info("local files queued", zap.String("root", root), zap.Int("found", len(paths)), zap.Int("queued", n))
	return n, nil
}

// ImportWARC loads an archive into a replay fetcher and queues its response
// records. Replayed tasks are served from memory, so they must be crawled by
// this process.
func (a *App) ImportWARC(ctx context.Context, path string) (int, error) {
	r, err := warc.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := r.Close(); cerr != nil {
			a.logger().Warn("close warc failed", zap.String("path", path), zap.Error(cerr))
		}
	}()
	replayer := replay.New(a.Logger)
	urls, err := replayer.Load(r)
	if err != nil {
		return 0, fmt.Errorf("load warc %s: %w", path, err)
	}
	a.Fetcher.Handle(PipelineReplay, replayer)
	n, err := a.Queue.EnqueueAll(ctx, urls, queue.Options{
		Source:   SourceReplay,
		Pipeline: PipelineReplay,
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("enqueue warc records: %w", err)
	}
	a.logger().Info("warc imported", zap.String("path", path), zap.Int("records", len(urls)), zap.Int("queued", n))
	return n, nil
}

// Search queries committed documents, optionally scoped to lenses.
func (a *App) Search(ctx context.Context, query string, lenses []string, limit int) ([]index.Hit, error) {
	if err := a.Lenses.Validate(lenses); err != nil {
		return nil, err
	}
	return a.Index.Search(ctx, query, lenses, limit)
}

// Recrawl requeues a domain, or a single URL when target has a scheme.
func (a *App) Recrawl(ctx context.Context, target string) (int64, error) {
	if strings.Contains(target, "://") {
		return a.Queue.RecrawlURL(ctx, target)
	}
	return a.Queue.Recrawl(ctx, strings.ToLower(strings.TrimSpace(target)))
}

// Crawl drains the queue with the configured workers. With exitWhenIdle it
// returns once nothing is left to claim.
func (a *App) Crawl(ctx context.Context, exitWhenIdle bool) (err error) {
	if err := a.Recover(ctx); err != nil {
		return err
	}
	a.Progress.Begin()
	defer func() { a.Progress.End(err) }()
	runErr := a.Dispatcher(nil, exitWhenIdle).Run(ctx)
	if err := a.Documents.Commit(context.WithoutCancel(ctx)); err != nil {
		return errors.Join(runErr, fmt.Errorf("commit documents: %w", err))
	}
	if runErr != nil {
		return fmt.Errorf("run dispatcher: %w", runErr)
	}
	return nil
}

// Serve runs the RPC server, the crawl loop, plugins and the index commit
// timer until ctx ends or one of them fails.
func (a *App) Serve(ctx context.Context) error {
	if err := a.Recover(ctx); err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              a.Config.Server.Addr,
		Handler:           a.APIServer().Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger().Info("dispatcher started", zap.Int("workers", a.Config.Crawler.Workers))
		return a.Dispatcher(nil, false).Run(gctx)
	})
	g.Go(func() error {
		a.logger().Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger().Info("shutdown initiated")
		timeout := time.Duration(a.Config.Server.ShutdownTimeoutSeconds) * time.Second
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	if interval := a.Config.CommitInterval(); interval > 0 {
		g.Go(func() error {
			a.commitLoop(gctx, interval)
			return nil
		})
	}
	if a.Plugins != nil {
		a.Plugins.StartAll(gctx)
	}

	a.Progress.Begin()
	err := g.Wait()
	if commitErr := a.Documents.Commit(context.WithoutCancel(ctx)); commitErr != nil {
		a.logger().Error("final document commit failed", zap.Error(commitErr))
	}
	a.Progress.End(err)
	a.logger().Info("shutdown complete")
	return err
}

func (a *App) commitLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.Documents.Pending() == 0 {
				continue
			}
			if err := a.Documents.Commit(ctx); err != nil {
				a.logger().Warn("periodic document commit failed", zap.Error(err))
			}
		}
	}
}
