// Package queue owns the crawl queue state machine: enqueue, atomic batch
// claim, completion with retry and backoff, and recrawl.
package queue

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
	"github.com/JakeFAU/lenscrawl/internal/metrics"
	"github.com/JakeFAU/lenscrawl/internal/store"
)

// ErrInvalidTransition is returned when a task is completed while it is not
// in Processing.
var ErrInvalidTransition = errors.New("invalid task transition")

// Result distinguishes new rows from duplicates on enqueue.
type Result int

// Enqueue results.
const (
	Enqueued Result = iota
	AlreadyQueued
)

func (r Result) String() string {
	if r == Enqueued {
		return "enqueued"
	}
	return "already_queued"
}

// Options carries the metadata attached to newly enqueued tasks.
type Options struct {
	Lenses    []string
	Source    string
	CrawlType crawler.CrawlType
	Pipeline  string
	Tags      []crawler.Tag
}

func (o Options) tags() []crawler.Tag {
	tags := make([]crawler.Tag, 0, len(o.Lenses)+len(o.Tags)+1)
	for _, lens := range o.Lenses {
		tags = append(tags, crawler.LensTag(lens))
	}
	if o.Source != "" {
		tags = append(tags, crawler.Tag{Label: crawler.TagSource, Value: o.Source})
	}
	return append(tags, o.Tags...)
}

// Filter decides whether a URL may enter the queue. Nil accepts everything.
type Filter func(rawURL string) bool

// Stats summarizes the queue for status endpoints.
type Stats struct {
	ByStatus map[crawler.TaskStatus]int64 `json:"by_status"`
	ByLens   []store.StatusCount          `json:"by_lens"`
}

// Service implements the crawl queue on top of a TaskRepository.
type Service struct {
	repo   store.TaskRepository
	clock  crawler.Clock
	retry  *crawler.ExponentialRetryPolicy
	logger *zap.Logger
}

// NewService wires a Service. A nil retry policy uses the defaults.
func NewService(repo store.TaskRepository, clock crawler.Clock, retry *crawler.ExponentialRetryPolicy, logger *zap.Logger) *Service {
	if retry == nil {
		retry = crawler.NewExponentialRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, clock: clock, retry: retry, logger: logger.Named("queue")}
}

func (s *Service) newTask(rawURL string, opts Options) (crawler.CrawlTask, error) {
	normalized, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return crawler.CrawlTask{}, fmt.Errorf("normalize %q: %w", rawURL, err)
	}
	domain, err := crawler.Domain(normalized)
	if err != nil {
		return crawler.CrawlTask{}, fmt.Errorf("domain of %q: %w", rawURL, err)
	}
	crawlType := opts.CrawlType
	if crawlType == "" {
		crawlType = crawler.CrawlNormal
	}
	return crawler.CrawlTask{
		URL:       normalized,
		Domain:    domain,
		Status:    crawler.TaskQueued,
		CrawlType: crawlType,
		Pipeline:  opts.Pipeline,
		CreatedAt: s.clock.Now(),
		Tags:      opts.tags(),
	}, nil
}

// Enqueue inserts the normalized URL unless it already exists. Policy is
// not re-validated here; workers check it when the task is claimed.
func (s *Service) Enqueue(ctx context.Context, rawURL string, opts Options) (Result, error) {
	task, err := s.newTask(rawURL, opts)
	if err != nil {
		return AlreadyQueued, err
	}
	inserted, err := s.repo.InsertTask(ctx, task)
	if err != nil {
		return AlreadyQueued, fmt.Errorf("enqueue %s: %w", task.URL, err)
	}
	if !inserted {
		return AlreadyQueued, nil
	}
	metrics.ObserveTransition(string(crawler.TaskQueued))
	return Enqueued, nil
}

// EnqueueAll inserts a batch in one transaction, dropping URLs that fail to
// parse or that filter rejects. It returns the number of new rows.
func (s *Service) EnqueueAll(ctx context.Context, urls []string, opts Options, filter Filter) (int, error) {
	seen := make(map[string]struct{}, len(urls))
	tasks := make([]crawler.CrawlTask, 0, len(urls))
	for _, raw := range urls {
		task, err := s.newTask(raw, opts)
		if err != nil {
			s.logger.Debug("skipping url", zap.String("url", raw), zap.Error(err))
			continue
		}
		if _, dup := seen[task.URL]; dup {
			continue
		}
		if filter != nil && !filter(task.URL) {
			s.logger.Debug("url filtered before enqueue", zap.String("url", task.URL))
			continue
		}
		seen[task.URL] = struct{}{}
		tasks = append(tasks, task)
	}
	if len(tasks) == 0 {
		return 0, nil
	}
	n, err := s.repo.InsertTasks(ctx, tasks)
	if err != nil {
		return 0, fmt.Errorf("enqueue batch: %w", err)
	}
	for i := 0; i < n; i++ {
		metrics.ObserveTransition(string(crawler.TaskQueued))
	}
	return n, nil
}

// DequeueBatch claims up to n eligible tasks, Bootstrap first.
func (s *Service) DequeueBatch(ctx context.Context, n int) ([]crawler.CrawlTask, error) {
	tasks, err := s.repo.ClaimTasks(ctx, n, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("dequeue batch: %w", err)
	}
	for range tasks {
		metrics.ObserveTransition(string(crawler.TaskProcessing))
	}
	return tasks, nil
}

// MarkDone applies the outcome of a claimed task.
func (s *Service) MarkDone(ctx context.Context, id int64, outcome crawler.Outcome) error {
	task, err := s.repo.GetTask(ctx, id)
	if err != nil {
		return fmt.Errorf("mark done %d: %w", id, err)
	}
	if task.Status != crawler.TaskProcessing {
		return fmt.Errorf("task %d is %s: %w", id, task.Status, ErrInvalidTransition)
	}

	now := s.clock.Now()
	update := crawler.TaskUpdate{UpdatedAt: now, NumRetries: task.NumRetries}
	switch outcome.Kind {
	case crawler.OutcomeSuccess:
		update.Status = crawler.TaskCompleted
	case crawler.OutcomeSkipped:
		update.Status = crawler.TaskCompleted
		update.Error = outcome.Reason
	case crawler.OutcomePermanent:
		update.Status = crawler.TaskFailed
		update.Error = outcome.Reason
	case crawler.OutcomeTransient:
		if !s.retry.ShouldRetry(task.NumRetries) {
			update.Status = crawler.TaskFailed
			update.Error = outcome.Reason
			break
		}
		notBefore := now.Add(s.retry.Backoff(task.NumRetries, outcome.RetryAfter))
		update.Status = crawler.TaskQueued
		update.Error = outcome.Reason
		update.NumRetries = task.NumRetries + 1
		update.NotBefore = &notBefore
		s.logger.Warn("requeueing after transient failure",
			zap.String("url", task.URL),
			zap.Int("num_retries", update.NumRetries),
			zap.Time("not_before", notBefore),
			zap.String("reason", outcome.Reason))
	default:
		return fmt.Errorf("unknown outcome %v: %w", outcome.Kind, ErrInvalidTransition)
	}

	ok, err := s.repo.TransitionTask(ctx, id, crawler.TaskProcessing, update)
	if err != nil {
		return fmt.Errorf("mark done %d: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("task %d changed concurrently: %w", id, ErrInvalidTransition)
	}
	metrics.ObserveTransition(string(update.Status))
	return nil
}

// Recrawl resets terminal tasks of a domain to Queued.
func (s *Service) Recrawl(ctx context.Context, domain string) (int64, error) {
	n, err := s.repo.RequeueDomain(ctx, domain, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("recrawl %s: %w", domain, err)
	}
	s.logger.Info("recrawl requested", zap.String("domain", domain), zap.Int64("tasks", n))
	return n, nil
}

// RecrawlURL resets one terminal task to Queued.
func (s *Service) RecrawlURL(ctx context.Context, rawURL string) (int64, error) {
	normalized, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return 0, fmt.Errorf("normalize %q: %w", rawURL, err)
	}
	n, err := s.repo.RequeueURL(ctx, normalized, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("recrawl %s: %w", normalized, err)
	}
	return n, nil
}

// ResetProcessing returns tasks orphaned by a previous run to Queued.
func (s *Service) ResetProcessing(ctx context.Context) (int64, error) {
	n, err := s.repo.ResetProcessing(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("reset processing: %w", err)
	}
	if n > 0 {
		s.logger.Info("reset orphaned tasks", zap.Int64("tasks", n))
	}
	return n, nil
}

// Stats returns counts per status and per lens.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	byStatus, err := s.repo.CountTasks(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	byLens, err := s.repo.CountTasksByLens(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{ByStatus: byStatus, ByLens: byLens}, nil
}

// DeleteByDomain drops every task of a domain.
func (s *Service) DeleteByDomain(ctx context.Context, domain string) (int64, error) {
	n, err := s.repo.DeleteTasksByDomain(ctx, domain)
	if err != nil {
		return 0, fmt.Errorf("delete queue for %s: %w", domain, err)
	}
	return n, nil
}
