package queue_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
	"github.com/JakeFAU/lenscrawl/internal/queue"
	"github.com/JakeFAU/lenscrawl/internal/storage/sqlite"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newService(t *testing.T) (*queue.Service, *fakeClock) {
	t.Helper()
	repo, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	clock := &fakeClock{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	policy := crawler.NewRetryPolicy(5, time.Second, time.Minute)
	return queue.NewService(repo, clock, policy, zap.NewNop()), clock
}

func TestEnqueueIsIdempotent(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	ctx := context.Background()

	res, err := svc.Enqueue(ctx, "https://Example.com/a?b=2&a=1#frag", queue.Options{Lenses: []string{"wiki"}})
	require.NoError(t, err)
	require.Equal(t, queue.Enqueued, res)

	res, err = svc.Enqueue(ctx, "https://example.com/a?a=1&b=2", queue.Options{})
	require.NoError(t, err)
	require.Equal(t, queue.AlreadyQueued, res)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.ByStatus[crawler.TaskQueued])
	require.Len(t, stats.ByLens, 1)
	require.Equal(t, "wiki", stats.ByLens[0].Lens)

	_, err = svc.Enqueue(ctx, "not a url", queue.Options{})
	require.Error(t, err)
}

func TestEnqueueAllFiltersAndDedups(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	ctx := context.Background()

	urls := []string{
		"https://example.com/a",
		"https://example.com/a",
		"https://blocked.example/x",
		"::bad::",
		"https://example.com/b",
	}
	n, err := svc.EnqueueAll(ctx, urls, queue.Options{Source: "seed"}, func(u string) bool {
		return !strings.Contains(u, "blocked")
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = svc.EnqueueAll(ctx, urls, queue.Options{}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, n, "only the previously filtered url is new")
}

func TestDequeueBatchPrefersBootstrap(t *testing.T) {
	t.Parallel()

	svc, clock := newService(t)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, "https://example.com/normal", queue.Options{})
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = svc.Enqueue(ctx, "https://example.com/boot", queue.Options{CrawlType: crawler.CrawlBootstrap})
	require.NoError(t, err)

	batch, err := svc.DequeueBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.Equal(t, "https://example.com/boot", batch[0].URL)
	require.Equal(t, crawler.TaskProcessing, batch[0].Status)
}

func TestMarkDoneSuccessAndPermanent(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.EnqueueAll(ctx, []string{"https://example.com/a", "https://example.com/b"}, queue.Options{}, nil)
	require.NoError(t, err)
	batch, err := svc.DequeueBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	require.NoError(t, svc.MarkDone(ctx, batch[0].ID, crawler.Success("hash")))
	require.NoError(t, svc.MarkDone(ctx, batch[1].ID, crawler.Permanent("404")))

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.ByStatus[crawler.TaskCompleted])
	require.Equal(t, int64(1), stats.ByStatus[crawler.TaskFailed])

	err = svc.MarkDone(ctx, batch[0].ID, crawler.Success("hash"))
	require.ErrorIs(t, err, queue.ErrInvalidTransition)
}

func TestMarkDoneSkippedCountsAsCompleted(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, "https://example.com/private", queue.Options{})
	require.NoError(t, err)
	batch, err := svc.DequeueBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	require.NoError(t, svc.MarkDone(ctx, batch[0].ID, crawler.Skipped(crawler.ErrPolicyDenied.Error())))

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.ByStatus[crawler.TaskCompleted])
	require.Zero(t, stats.ByStatus[crawler.TaskFailed])
}

func TestMarkDoneTransientBacksOffUntilCap(t *testing.T) {
	t.Parallel()

	svc, clock := newService(t)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, "https://example.com/flaky", queue.Options{})
	require.NoError(t, err)

	for attempt := 0; attempt < 5; attempt++ {
		batch, err := svc.DequeueBatch(ctx, 1)
		require.NoError(t, err)
		require.Len(t, batch, 1, "attempt %d", attempt)
		require.Equal(t, attempt, batch[0].NumRetries)

		require.NoError(t, svc.MarkDone(ctx, batch[0].ID, crawler.Transient("503", 0)))

		// Not eligible before the backoff elapses.
		none, err := svc.DequeueBatch(ctx, 1)
		require.NoError(t, err)
		require.Empty(t, none)

		clock.Advance(time.Minute)
	}

	batch, err := svc.DequeueBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.Equal(t, 5, batch[0].NumRetries)
	require.NoError(t, svc.MarkDone(ctx, batch[0].ID, crawler.Transient("503", 0)))

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.ByStatus[crawler.TaskFailed])
}

func TestMarkDoneHonorsRetryAfter(t *testing.T) {
	t.Parallel()

	svc, clock := newService(t)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, "https://example.com/limited", queue.Options{})
	require.NoError(t, err)
	batch, err := svc.DequeueBatch(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, svc.MarkDone(ctx, batch[0].ID, crawler.Transient("429", 10*time.Minute)))

	clock.Advance(5 * time.Minute)
	none, err := svc.DequeueBatch(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, none)

	clock.Advance(5 * time.Minute)
	again, err := svc.DequeueBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, again, 1)
}

func TestRecrawlAndReset(t *testing.T) {
	t.Parallel()

	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.EnqueueAll(ctx, []string{"https://example.com/a", "https://example.com/b"}, queue.Options{}, nil)
	require.NoError(t, err)
	batch, err := svc.DequeueBatch(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, svc.MarkDone(ctx, batch[0].ID, crawler.Success("h")))

	n, err := svc.Recrawl(ctx, "example.com")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = svc.ResetProcessing(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = svc.RecrawlURL(ctx, "https://example.com/a")
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = svc.DeleteByDomain(ctx, "example.com")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}
