package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
	"github.com/JakeFAU/lenscrawl/internal/store"
)

const taskColumns = `id, url, domain, status, crawl_type, pipeline, error, num_retries, not_before, created_at, updated_at`

const insertTaskSQL = `
INSERT INTO crawl_queue (url, domain, status, crawl_type, pipeline, num_retries, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 0, $6, $6)
ON CONFLICT (url) DO NOTHING`

// claimTasksSQL locks eligible rows with SKIP LOCKED so concurrent
// processes never claim the same task.
const claimTasksSQL = `
UPDATE crawl_queue
SET status = $1, updated_at = $2
WHERE id IN (
	SELECT id FROM crawl_queue
	WHERE status = $3 AND (not_before IS NULL OR not_before <= $2)
	ORDER BY (crawl_type = 'Bootstrap') DESC, created_at, id
	LIMIT $4
	FOR UPDATE SKIP LOCKED
)
RETURNING ` + taskColumns

const transitionTaskSQL = `
UPDATE crawl_queue
SET status = $1, error = $2, num_retries = $3, not_before = $4, updated_at = $5
WHERE id = $6 AND status = $7`

func scanTask(row pgx.Row) (crawler.CrawlTask, error) {
	var (
		task              crawler.CrawlTask
		status, crawlType string
		pipeline, errText *string
	)
	if err := row.Scan(&task.ID, &task.URL, &task.Domain, &status, &crawlType, &pipeline, &errText,
		&task.NumRetries, &task.NotBefore, &task.CreatedAt, &task.UpdatedAt); err != nil {
		return crawler.CrawlTask{}, err
	}
	task.Status = crawler.TaskStatus(status)
	task.CrawlType = crawler.CrawlType(crawlType)
	if pipeline != nil {
		task.Pipeline = *pipeline
	}
	if errText != nil {
		task.Error = *errText
	}
	return task, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// InsertTask inserts a Queued row keyed on URL, ignoring duplicates.
func (s *Store) InsertTask(ctx context.Context, task crawler.CrawlTask) (bool, error) {
	n, err := s.InsertTasks(ctx, []crawler.CrawlTask{task})
	return n > 0, err
}

// InsertTasks inserts a batch of tasks in one transaction.
func (s *Store) InsertTasks(ctx context.Context, tasks []crawler.CrawlTask) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin insert tasks: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	inserted := 0
	for _, task := range tasks {
		ok, err := insertTask(ctx, tx, task)
		if err != nil {
			return 0, err
		}
		if ok {
			inserted++
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit insert tasks: %w", err)
	}
	return inserted, nil
}

func insertTask(ctx context.Context, q querier, task crawler.CrawlTask) (bool, error) {
	crawlType := task.CrawlType
	if crawlType == "" {
		crawlType = crawler.CrawlNormal
	}
	created := task.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	tag, err := q.Exec(ctx, insertTaskSQL, task.URL, task.Domain, string(crawler.TaskQueued), string(crawlType),
		optional(task.Pipeline), created)
	if err != nil {
		return false, fmt.Errorf("insert task %s: %w", task.URL, err)
	}
	var id int64
	if err := q.QueryRow(ctx, `SELECT id FROM crawl_queue WHERE url = $1`, task.URL).Scan(&id); err != nil {
		return false, fmt.Errorf("lookup task %s: %w", task.URL, err)
	}
	if err := attachTags(ctx, q, "crawl_tag", "crawl_queue_id", id, task.Tags); err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ClaimTasks flips up to n eligible rows to Processing in one statement.
func (s *Store) ClaimTasks(ctx context.Context, n int, now time.Time) ([]crawler.CrawlTask, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, claimTasksSQL, string(crawler.TaskProcessing), now, string(crawler.TaskQueued), n)
	if err != nil {
		return nil, fmt.Errorf("claim tasks: %w", err)
	}
	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, fmt.Errorf("claim tasks: %w", err)
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if (a.CrawlType == crawler.CrawlBootstrap) != (b.CrawlType == crawler.CrawlBootstrap) {
			return a.CrawlType == crawler.CrawlBootstrap
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if err := s.withTaskTags(ctx, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetTask loads a task by id.
func (s *Store) GetTask(ctx context.Context, id int64) (crawler.CrawlTask, error) {
	return s.getTask(ctx, `SELECT `+taskColumns+` FROM crawl_queue WHERE id = $1`, id)
}

// FindTaskByURL loads a task by URL.
func (s *Store) FindTaskByURL(ctx context.Context, url string) (crawler.CrawlTask, error) {
	return s.getTask(ctx, `SELECT `+taskColumns+` FROM crawl_queue WHERE url = $1`, url)
}

func (s *Store) getTask(ctx context.Context, query string, arg any) (crawler.CrawlTask, error) {
	task, err := scanTask(s.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.CrawlTask{}, store.ErrNotFound
	}
	if err != nil {
		return crawler.CrawlTask{}, fmt.Errorf("get task: %w", err)
	}
	tasks := []crawler.CrawlTask{task}
	if err := s.withTaskTags(ctx, tasks); err != nil {
		return crawler.CrawlTask{}, err
	}
	return tasks[0], nil
}

// TransitionTask applies update when the row is still in status from.
func (s *Store) TransitionTask(ctx context.Context, id int64, from crawler.TaskStatus, update crawler.TaskUpdate) (bool, error) {
	tag, err := s.pool.Exec(ctx, transitionTaskSQL, string(update.Status), optional(update.Error), update.NumRetries,
		update.NotBefore, update.UpdatedAt, id, string(from))
	if err != nil {
		return false, fmt.Errorf("transition task %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// RequeueDomain resets terminal rows of a domain.
func (s *Store) RequeueDomain(ctx context.Context, domain string, now time.Time) (int64, error) {
	return s.requeue(ctx, "domain", domain, now)
}

// RequeueURL resets a terminal row.
func (s *Store) RequeueURL(ctx context.Context, url string, now time.Time) (int64, error) {
	return s.requeue(ctx, "url", url, now)
}

func (s *Store) requeue(ctx context.Context, column, value string, now time.Time) (int64, error) {
	query := fmt.Sprintf(`
UPDATE crawl_queue
SET status = $1, num_retries = 0, not_before = NULL, error = NULL, updated_at = $2
WHERE %s = $3 AND status IN ($4, $5)`, column)
	tag, err := s.pool.Exec(ctx, query, string(crawler.TaskQueued), now, value,
		string(crawler.TaskCompleted), string(crawler.TaskFailed))
	if err != nil {
		return 0, fmt.Errorf("requeue by %s: %w", column, err)
	}
	return tag.RowsAffected(), nil
}

// ResetProcessing returns every Processing row to Queued.
func (s *Store) ResetProcessing(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE crawl_queue SET status = $1, updated_at = $2 WHERE status = $3`,
		string(crawler.TaskQueued), now, string(crawler.TaskProcessing))
	if err != nil {
		return 0, fmt.Errorf("reset processing: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountTasks returns row counts per status.
func (s *Store) CountTasks(ctx context.Context) (map[crawler.TaskStatus]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM crawl_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()
	out := make(map[crawler.TaskStatus]int64)
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}
		out[crawler.TaskStatus(status)] = count
	}
	return out, rows.Err()
}

// CountTasksByLens returns counts grouped by lens tag and status.
func (s *Store) CountTasksByLens(ctx context.Context) ([]store.StatusCount, error) {
	rows, err := s.pool.Query(ctx, `
SELECT t.value, q.status, COUNT(*)
FROM crawl_queue q
JOIN crawl_tag ct ON ct.crawl_queue_id = q.id
JOIN tags t ON t.id = ct.tag_id
WHERE t.label = $1
GROUP BY t.value, q.status
ORDER BY t.value, q.status`, string(crawler.TagLens))
	if err != nil {
		return nil, fmt.Errorf("count tasks by lens: %w", err)
	}
	defer rows.Close()
	var out []store.StatusCount
	for rows.Next() {
		var (
			sc     store.StatusCount
			status string
		)
		if err := rows.Scan(&sc.Lens, &status, &sc.Count); err != nil {
			return nil, fmt.Errorf("scan lens count: %w", err)
		}
		sc.Status = crawler.TaskStatus(status)
		out = append(out, sc)
	}
	return out, rows.Err()
}

// DeleteTasksByDomain removes the queue rows of a domain.
func (s *Store) DeleteTasksByDomain(ctx context.Context, domain string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM crawl_queue WHERE domain = $1`, domain)
	if err != nil {
		return 0, fmt.Errorf("delete tasks for %s: %w", domain, err)
	}
	return tag.RowsAffected(), nil
}

func collectTasks(rows pgx.Rows) ([]crawler.CrawlTask, error) {
	defer rows.Close()
	var tasks []crawler.CrawlTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *Store) withTaskTags(ctx context.Context, tasks []crawler.CrawlTask) error {
	if len(tasks) == 0 {
		return nil
	}
	ids := make([]int64, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	tags, err := loadTags(ctx, s.pool, "crawl_tag", "crawl_queue_id", ids)
	if err != nil {
		return err
	}
	for i := range tasks {
		tasks[i].Tags = tags[tasks[i].ID]
	}
	return nil
}
