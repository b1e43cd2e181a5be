// Package app builds the long-lived services of the crawler and owns their
// shutdown order.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/lenscrawl/internal/api"
	"github.com/JakeFAU/lenscrawl/internal/clock/system"
	"github.com/JakeFAU/lenscrawl/internal/config"
	"github.com/JakeFAU/lenscrawl/internal/crawler"
	"github.com/JakeFAU/lenscrawl/internal/dispatcher"
	"github.com/JakeFAU/lenscrawl/internal/docstore"
	"github.com/JakeFAU/lenscrawl/internal/fetcher"
	collyfetcher "github.com/JakeFAU/lenscrawl/internal/fetcher/colly"
	filefetcher "github.com/JakeFAU/lenscrawl/internal/fetcher/file"
	"github.com/JakeFAU/lenscrawl/internal/hash/sha256"
	"github.com/JakeFAU/lenscrawl/internal/hash/xxhash"
	"github.com/JakeFAU/lenscrawl/internal/id/uuid"
	"github.com/JakeFAU/lenscrawl/internal/index"
	"github.com/JakeFAU/lenscrawl/internal/lens"
	"github.com/JakeFAU/lenscrawl/internal/linkgraph"
	"github.com/JakeFAU/lenscrawl/internal/logging"
	"github.com/JakeFAU/lenscrawl/internal/metrics"
	"github.com/JakeFAU/lenscrawl/internal/plugin"
	"github.com/JakeFAU/lenscrawl/internal/policy"
	"github.com/JakeFAU/lenscrawl/internal/policy/ratelimit"
	"github.com/JakeFAU/lenscrawl/internal/progress"
	"github.com/JakeFAU/lenscrawl/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/lenscrawl/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/lenscrawl/internal/publisher/pubsub"
	"github.com/JakeFAU/lenscrawl/internal/queue"
	"github.com/JakeFAU/lenscrawl/internal/state"
	"github.com/JakeFAU/lenscrawl/internal/storage/gcs"
	"github.com/JakeFAU/lenscrawl/internal/storage/local"
	"github.com/JakeFAU/lenscrawl/internal/storage/postgres"
	"github.com/JakeFAU/lenscrawl/internal/storage/sqlite"
	"github.com/JakeFAU/lenscrawl/internal/store"
	"github.com/JakeFAU/lenscrawl/internal/worker"
)

// documentTopicDefault receives docstore.Event messages when none is configured.
const documentTopicDefault = "lenscrawl-index-events"

// App holds the shared services. Build wires them; Close releases them in
// reverse order.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	State     *state.AppState
	Repo      store.Repository
	Index     *index.Index
	Lenses    *lens.Registry
	Queue     *queue.Service
	Documents *docstore.Store
	Links     *linkgraph.Graph
	Robots    *collyfetcher.RobotsCache
	Fetcher   *fetcher.Router
	Limiter   *ratelimit.Limiter
	Policy    *policy.Engine
	Blobs     crawler.BlobStore
	Publisher crawler.Publisher
	Plugins   *plugin.Manager
	Progress  *progress.Hub

	gcsClient    *storage.Client
	pubsubClient *pubsub.Client
	pubsubPub    *gcppublisher.Publisher
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger.
func BuildWithLogger(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	clock := system.New()
	a := &App{
		Config: cfg,
		Logger: logger,
		State:  state.New(clock.Now()),
		Policy: policy.NewEngine(cfg.Crawler.BlockedDomains),
	}
	a.logger().Info("building application dependencies",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("archive", cfg.Archive.Driver),
		zap.String("publisher", cfg.Publisher.Driver))

	ok := false
	defer func() {
		if !ok {
			_ = a.Close(context.Background())
		}
	}()

	if err := a.setupRepository(ctx); err != nil {
		return nil, err
	}
	var err error
	a.Index, err = index.Open(index.Config{
		Path:      cfg.Index.Path,
		BatchSize: cfg.Index.BatchSize,
		StopWords: cfg.Index.StopWords,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("index init failed: %w", err)
	}
	if err := a.setupArchive(ctx); err != nil {
		return nil, err
	}
	if err := a.setupPublisher(ctx); err != nil {
		return nil, err
	}

	a.Lenses = lens.NewRegistry(logger)
	if err := a.loadLenses(); err != nil {
		return nil, err
	}

	maxRetries, base, maxDelay := cfg.RetryBounds()
	a.Queue = queue.NewService(a.Repo, clock, crawler.NewRetryPolicy(maxRetries, base, maxDelay), logger)

	var opts []docstore.Option
	if a.Publisher != nil {
		topic := cfg.Publisher.Topic
		if topic == "" {
			topic = documentTopicDefault
		}
		opts = append(opts, docstore.WithPublisher(a.Publisher, topic))
	}
	a.Documents = docstore.New(a.Repo, a.Index, uuid.New(), sha256.New(), clock, logger, opts...)
	a.Links = linkgraph.New(a.Repo, cfg.Index.EdgeCapacity, cfg.Index.EdgeFPRate)

	a.Limiter = ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Crawler.DomainRPS, DefaultBurst: cfg.Crawler.DomainBurst})
	httpClient := &http.Client{Timeout: cfg.FetchTimeout()}
	a.Robots = collyfetcher.NewRobotsCache(a.Repo, httpClient, cfg.Crawler.UserAgent, logger)
	web := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Crawler.UserAgent,
		Timeout:      cfg.FetchTimeout(),
		UpgradeHTTPS: cfg.Crawler.UpgradeHTTPS,
		MaxBodyBytes: cfg.Crawler.MaxBodyBytes,
	}, a.Limiter, clock, logger)
	a.Fetcher = fetcher.NewRouter(web, filefetcher.New(int64(cfg.Crawler.MaxBodyBytes)))

	if err := a.setupProgress(); err != nil {
		return nil, err
	}

	if cfg.Plugins.Enabled {
		if err := a.setupPlugins(ctx); err != nil {
			return nil, err
		}
	}

	ok = true
	return a, nil
}

func (a *App) logger() *zap.Logger {
	return a.Logger.Named("app")
}

func (a *App) setupRepository(ctx context.Context) error {
	switch a.Config.Storage.Driver {
	case config.DriverPostgres:
		pg, err := postgres.New(ctx, postgres.Config{
			DSN:             a.Config.DB.DSN,
			MaxConns:        a.Config.DB.MaxConns,
			MinConns:        a.Config.DB.MinConns,
			MaxConnLifetime: time.Duration(a.Config.DB.MaxConnLifetimeMinutes) * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("postgres init failed: %w", err)
		}
		a.Repo = pg
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("postgres schema failed: %w", err)
		}
		a.logger().Info("using postgres repository")
	default:
		path := a.Config.Storage.SQLitePath
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		repo, err := sqlite.Open(path)
		if err != nil {
			return fmt.Errorf("sqlite init failed: %w", err)
		}
		a.Repo = repo
		a.logger().Info("using sqlite repository", zap.String("path", path))
	}
	return nil
}

func (a *App) setupArchive(ctx context.Context) error {
	var err error
	switch a.Config.Archive.Driver {
	case config.DriverGCS:
		a.gcsClient, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.Blobs, err = gcs.New(a.gcsClient, gcs.Config{Bucket: a.Config.Archive.Bucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger().Info("archiving raw pages to gcs", zap.String("bucket", a.Config.Archive.Bucket))
	case config.DriverLocal:
		a.Blobs, err = local.New(local.Config{BaseDir: a.Config.Archive.Dir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger().Info("archiving raw pages locally", zap.String("path", a.Config.Archive.Dir))
	default:
		a.logger().Debug("raw page archive disabled")
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	switch a.Config.Publisher.Driver {
	case config.DriverPubSub:
		var err error
		a.pubsubClient, err = pubsub.NewClient(ctx, a.Config.Publisher.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubPub = gcppublisher.New(a.pubsubClient)
		a.Publisher = a.pubsubPub
		a.logger().Info("Pub/Sub publisher initialized",
			zap.String("project", a.Config.Publisher.ProjectID),
			zap.String("topic", a.Config.Publisher.Topic))
	case config.DriverMemory:
		a.Publisher = memorypublisher.New(0)
		a.logger().Info("using in-memory publisher")
	default:
		a.logger().Debug("index event publishing disabled")
	}
	return nil
}

func (a *App) setupProgress() error {
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	list := []progress.Sink{sinks.NewLogSink(a.Logger), promSink}
	if a.Publisher != nil && a.Config.Publisher.ProgressTopic != "" {
		list = append(list, sinks.NewPublishSink(a.Publisher, a.Config.Publisher.ProgressTopic))
	}
	a.Progress = progress.NewHub(progress.Config{Logger: a.Logger}, list...)
	a.logger().Debug("progress hub started", zap.String("session", a.Progress.Session().String()))
	return nil
}

func (a *App) loadLenses() error {
	dir := a.Config.Lenses.Dir
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		a.logger().Warn("lens directory missing", zap.String("path", dir))
		return nil
	}
	loaded, err := a.Lenses.LoadDir(dir)
	if err != nil {
		return fmt.Errorf("load lenses: %w", err)
	}
	a.logger().Info("lenses loaded", zap.Int("count", len(loaded)), zap.String("path", dir))
	return nil
}

func (a *App) setupPlugins(ctx context.Context) error {
	mgr, err := plugin.NewManager(ctx, a.State, a.Queue, a.Lenses.Filter(), a.Logger)
	if err != nil {
		return fmt.Errorf("plugin host init failed: %w", err)
	}
	a.Plugins = mgr
	if _, err := os.Stat(a.Config.Plugins.Dir); errors.Is(err, os.ErrNotExist) {
		a.logger().Warn("plugin directory missing", zap.String("path", a.Config.Plugins.Dir))
		return nil
	}
	loaded, err := mgr.LoadDir(a.Config.Plugins.Dir)
	if err != nil {
		return fmt.Errorf("load plugins: %w", err)
	}
	a.logger().Info("plugins loaded", zap.Int("count", len(loaded)))
	return nil
}

// Workers builds n workers sharing the app's collaborators. fetch overrides
// the default router when set.
func (a *App) Workers(fetch crawler.Fetcher) []dispatcher.Processor {
	if fetch == nil {
		fetch = a.Fetcher
	}
	deps := worker.Deps{
		Queue:     a.Queue,
		Fetcher:   fetch,
		Policy:    a.Policy,
		Robots:    a.Robots,
		Lenses:    a.Lenses,
		Documents: a.Documents,
		Links:     a.Links,
		Blobs:     a.Blobs,
		Hasher:    xxhash.New(),
	}
	if a.Progress != nil {
		deps.Progress = a.Progress
	}
	cfg := worker.Config{FollowLinks: a.Config.Crawler.FollowLinks, BlobPrefix: a.Config.Archive.Prefix}
	out := make([]dispatcher.Processor, 0, a.Config.Crawler.Workers)
	for i := 0; i < a.Config.Crawler.Workers; i++ {
		out = append(out, worker.New(deps, cfg, a.Logger))
	}
	return out
}

// Dispatcher builds the claim loop over Workers(fetch).
func (a *App) Dispatcher(fetch crawler.Fetcher, exitWhenIdle bool) *dispatcher.Dispatcher {
	return dispatcher.New(a.Queue, a.Workers(fetch), a.State, dispatcher.Config{
		BatchSize:    a.Config.Crawler.BatchSize,
		PollInterval: a.Config.PollInterval(),
		ExitWhenIdle: exitWhenIdle,
	}, a.Logger)
}

// APIServer builds the RPC server over the app's services.
func (a *App) APIServer() *api.Server {
	deps := api.Deps{
		State:     a.State,
		Queue:     a.Queue,
		Documents: a.Documents,
		Searcher:  a.Index,
		Lenses:    a.Lenses,
		Ready:     a.Ready,
	}
	if a.Plugins != nil {
		deps.Plugins = a.Plugins
	}
	return api.NewServer(deps, a.Config, a.Logger)
}

// Ready reports whether the repository answers queries.
func (a *App) Ready(ctx context.Context) error {
	if _, err := a.Repo.CountDocuments(ctx); err != nil {
		return fmt.Errorf("repository not ready: %w", err)
	}
	return nil
}

// Recover returns tasks orphaned in Processing by an earlier run to Queued.
func (a *App) Recover(ctx context.Context) error {
	n, err := a.Queue.ResetProcessing(ctx)
	if err != nil {
		return fmt.Errorf("reset processing tasks: %w", err)
	}
	if n > 0 {
		a.logger().Info("requeued orphaned tasks", zap.Int64("count", n))
	}
	return nil
}

// Close releases every service. It is safe on a partially built App.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Plugins != nil {
		if err := a.Plugins.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close plugins: %w", err))
		}
	}
	if a.Progress != nil {
		if err := a.Progress.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
	}
	if a.Documents != nil {
		if err := a.Documents.Commit(ctx); err != nil {
			errs = append(errs, fmt.Errorf("commit documents: %w", err))
		}
	}
	if a.Index != nil {
		if err := a.Index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close index: %w", err))
		}
	}
	if a.Repo != nil {
		if err := a.Repo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close repository: %w", err))
		}
	}
	if a.pubsubPub != nil {
		a.pubsubPub.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub client: %w", err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close gcs client: %w", err))
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return errors.Join(errs...)
}
