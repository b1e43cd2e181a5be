// Package dispatcher claims task batches from the crawl queue and fans them
// out to a pool of workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
	"github.com/JakeFAU/lenscrawl/internal/metrics"
	"github.com/JakeFAU/lenscrawl/internal/queue/memory"
)

// Defaults for Config.
const (
	DefaultBatchSize    = 32
	DefaultPollInterval = time.Second
)

// Claimer atomically claims eligible tasks.
type Claimer interface {
	DequeueBatch(ctx context.Context, n int) ([]crawler.CrawlTask, error)
}

// Processor runs one claimed task.
type Processor interface {
	Process(ctx context.Context, task crawler.CrawlTask) crawler.Outcome
}

// Pauser blocks while the crawl is paused.
type Pauser interface {
	WaitWhilePaused(ctx context.Context) error
}

// Config controls the claim loop.
type Config struct {
	BatchSize    int
	PollInterval time.Duration
	// ExitWhenIdle stops Run once a claim returns nothing and no task is
	// in flight.
	ExitWhenIdle bool
}

// Dispatcher feeds claimed tasks through a bounded buffer to its workers.
type Dispatcher struct {
	claimer  Claimer
	workers  []Processor
	pauser   Pauser
	cfg      Config
	logger   *zap.Logger
	inflight atomic.Int64
}

// New creates a Dispatcher. pauser may be nil.
func New(claimer Claimer, workers []Processor, pauser Pauser, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		claimer: claimer,
		workers: workers,
		pauser:  pauser,
		cfg:     cfg,
		logger:  logger.Named("dispatcher"),
	}
}

// Run starts the claim loop and every worker and blocks until ctx ends,
// the queue goes idle under ExitWhenIdle, or the claim loop fails.
// Tasks left in the buffer at shutdown stay Processing until the next
// startup reset.
func (d *Dispatcher) Run(ctx context.Context) error {
	if len(d.workers) == 0 {
		return errors.New("dispatcher has no workers")
	}
	buffer := memory.NewQueue(d.cfg.BatchSize)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer buffer.Close()
		return d.claimLoop(gctx, buffer)
	})
	for i, w := range d.workers {
		logger := d.logger.With(zap.Int("index", i))
		g.Go(func() error {
			return d.workLoop(gctx, w, buffer, logger)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (d *Dispatcher) claimLoop(ctx context.Context, buffer *memory.Queue) error {
	for {
		if err := d.waitWhilePaused(ctx); err != nil {
			return err
		}
		tasks, err := d.claimer.DequeueBatch(ctx, d.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.logger.Error("claim batch failed", zap.Error(err))
			if err := sleep(ctx, d.cfg.PollInterval); err != nil {
				return err
			}
			continue
		}
		if len(tasks) == 0 {
			if d.cfg.ExitWhenIdle && d.inflight.Load() == 0 {
				d.logger.Info("queue drained")
				return nil
			}
			if err := sleep(ctx, d.cfg.PollInterval); err != nil {
				return err
			}
			continue
		}
		d.logger.Debug("claimed batch", zap.Int("tasks", len(tasks)))
		for _, task := range tasks {
			d.inflight.Add(1)
			if err := buffer.Enqueue(ctx, task); err != nil {
				d.inflight.Add(-1)
				return fmt.Errorf("hand off task %d: %w", task.ID, err)
			}
		}
	}
}

func (d *Dispatcher) workLoop(ctx context.Context, w Processor, buffer *memory.Queue, logger *zap.Logger) error {
	for {
		if err := d.waitWhilePaused(ctx); err != nil {
			return err
		}
		task, err := buffer.Dequeue(ctx)
		if errors.Is(err, memory.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		metrics.IncActiveWorkers()
		outcome := w.Process(ctx, task)
		metrics.DecActiveWorkers()
		d.inflight.Add(-1)
		logger.Debug("task finished",
			zap.Int64("task_id", task.ID),
			zap.String("url", task.URL),
			zap.String("outcome", outcome.Kind.String()))
	}
}

func (d *Dispatcher) waitWhilePaused(ctx context.Context) error {
	if d.pauser == nil {
		return ctx.Err()
	}
	return d.pauser.WaitWhilePaused(ctx)
}

func sleep(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
