package sqlite_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
	"github.com/JakeFAU/lenscrawl/internal/store"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTask(url string, created time.Time, tags ...crawler.Tag) crawler.CrawlTask {
	return crawler.CrawlTask{
		URL:       url,
		Domain:    "example.com",
		CrawlType: crawler.CrawlNormal,
		CreatedAt: created,
		Tags:      tags,
	}
}

func TestRepository_InsertTaskIsIdempotent(t *testing.T) {
	t.Parallel()

	repo := setupTestRepo(t)
	ctx := context.Background()

	inserted, err := repo.InsertTask(ctx, newTask("https://example.com/a", epoch, crawler.LensTag("wiki")))
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = repo.InsertTask(ctx, newTask("https://example.com/a", epoch.Add(time.Hour), crawler.LensTag("docs")))
	require.NoError(t, err)
	require.False(t, inserted)

	counts, err := repo.CountTasks(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), counts[crawler.TaskQueued])

	task, err := repo.FindTaskByURL(ctx, "https://example.com/a")
	require.NoError(t, err)
	require.Equal(t, crawler.TaskQueued, task.Status)
	require.True(t, task.CreatedAt.Equal(epoch))
	require.ElementsMatch(t, []string{"docs", "wiki"}, task.LensNames())
}

func TestRepository_ClaimTasksOrdering(t *testing.T) {
	t.Parallel()

	repo := setupTestRepo(t)
	ctx := context.Background()

	_, err := repo.InsertTask(ctx, newTask("https://example.com/old", epoch))
	require.NoError(t, err)
	_, err = repo.InsertTask(ctx, newTask("https://example.com/new", epoch.Add(time.Minute)))
	require.NoError(t, err)
	boot := newTask("https://example.com/boot", epoch.Add(time.Hour))
	boot.CrawlType = crawler.CrawlBootstrap
	_, err = repo.InsertTask(ctx, boot)
	require.NoError(t, err)

	claimed, err := repo.ClaimTasks(ctx, 2, epoch.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	require.Equal(t, "https://example.com/boot", claimed[0].URL)
	require.Equal(t, "https://example.com/old", claimed[1].URL)
	for _, task := range claimed {
		require.Equal(t, crawler.TaskProcessing, task.Status)
	}
}

func TestRepository_ClaimTasksHonorsNotBefore(t *testing.T) {
	t.Parallel()

	repo := setupTestRepo(t)
	ctx := context.Background()

	_, err := repo.InsertTask(ctx, newTask("https://example.com/a", epoch))
	require.NoError(t, err)
	claimed, err := repo.ClaimTasks(ctx, 1, epoch)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	later := epoch.Add(time.Minute)
	ok, err := repo.TransitionTask(ctx, claimed[0].ID, crawler.TaskProcessing, crawler.TaskUpdate{
		Status:     crawler.TaskQueued,
		NumRetries: 1,
		NotBefore:  &later,
		UpdatedAt:  epoch,
	})
	require.NoError(t, err)
	require.True(t, ok)

	none, err := repo.ClaimTasks(ctx, 1, epoch.Add(30*time.Second))
	require.NoError(t, err)
	require.Empty(t, none)

	again, err := repo.ClaimTasks(ctx, 1, later)
	require.NoError(t, err)
	require.Len(t, again, 1)
	require.Equal(t, 1, again[0].NumRetries)
	require.NotNil(t, again[0].NotBefore)
	require.True(t, again[0].NotBefore.Equal(later))
}

func TestRepository_ConcurrentClaimsAreExclusive(t *testing.T) {
	t.Parallel()

	repo := setupTestRepo(t)
	ctx := context.Background()

	const total = 60
	for i := 0; i < total; i++ {
		_, err := repo.InsertTask(ctx, newTask(fmt.Sprintf("https://example.com/%d", i), epoch.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = make(map[int64]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := repo.ClaimTasks(ctx, 4, epoch.Add(time.Hour))
				if err != nil || len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, task := range batch {
					seen[task.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, total)
	for id, n := range seen {
		require.Equal(t, 1, n, "task %d claimed more than once", id)
	}
}

func TestRepository_TransitionRequiresExpectedStatus(t *testing.T) {
	t.Parallel()

	repo := setupTestRepo(t)
	ctx := context.Background()

	_, err := repo.InsertTask(ctx, newTask("https://example.com/a", epoch))
	require.NoError(t, err)
	task, err := repo.FindTaskByURL(ctx, "https://example.com/a")
	require.NoError(t, err)

	ok, err := repo.TransitionTask(ctx, task.ID, crawler.TaskProcessing, crawler.TaskUpdate{Status: crawler.TaskCompleted, UpdatedAt: epoch})
	require.NoError(t, err)
	require.False(t, ok)

	got, err := repo.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.TaskQueued, got.Status)

	_, err = repo.GetTask(ctx, 999)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRepository_RequeueAndReset(t *testing.T) {
	t.Parallel()

	repo := setupTestRepo(t)
	ctx := context.Background()

	for _, u := range []string{"https://example.com/a", "https://example.com/b", "https://example.com/c"} {
		_, err := repo.InsertTask(ctx, newTask(u, epoch))
		require.NoError(t, err)
	}
	claimed, err := repo.ClaimTasks(ctx, 3, epoch)
	require.NoError(t, err)
	require.Len(t, claimed, 3)

	_, err = repo.TransitionTask(ctx, claimed[0].ID, crawler.TaskProcessing, crawler.TaskUpdate{Status: crawler.TaskCompleted, UpdatedAt: epoch})
	require.NoError(t, err)
	_, err = repo.TransitionTask(ctx, claimed[1].ID, crawler.TaskProcessing, crawler.TaskUpdate{
		Status: crawler.TaskFailed, Error: "404", NumRetries: 2, UpdatedAt: epoch,
	})
	require.NoError(t, err)

	n, err := repo.RequeueDomain(ctx, "example.com", epoch.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	failed, err := repo.GetTask(ctx, claimed[1].ID)
	require.NoError(t, err)
	require.Equal(t, crawler.TaskQueued, failed.Status)
	require.Zero(t, failed.NumRetries)
	require.Empty(t, failed.Error)
	require.Nil(t, failed.NotBefore)

	n, err = repo.ResetProcessing(ctx, epoch.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	counts, err := repo.CountTasks(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), counts[crawler.TaskQueued])

	n, err = repo.RequeueURL(ctx, "https://example.com/a", epoch)
	require.NoError(t, err)
	require.Zero(t, n, "queued rows are not terminal")

	n, err = repo.DeleteTasksByDomain(ctx, "example.com")
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}

func TestRepository_CountTasksByLens(t *testing.T) {
	t.Parallel()

	repo := setupTestRepo(t)
	ctx := context.Background()

	_, err := repo.InsertTask(ctx, newTask("https://example.com/a", epoch, crawler.LensTag("wiki")))
	require.NoError(t, err)
	_, err = repo.InsertTask(ctx, newTask("https://example.com/b", epoch, crawler.LensTag("wiki")))
	require.NoError(t, err)
	_, err = repo.InsertTask(ctx, newTask("https://example.com/c", epoch, crawler.LensTag("docs"), crawler.Tag{Label: crawler.TagSource, Value: "seed"}))
	require.NoError(t, err)

	counts, err := repo.CountTasksByLens(ctx)
	require.NoError(t, err)
	require.Equal(t, []store.StatusCount{
		{Lens: "docs", Status: crawler.TaskQueued, Count: 1},
		{Lens: "wiki", Status: crawler.TaskQueued, Count: 2},
	}, counts)
}
