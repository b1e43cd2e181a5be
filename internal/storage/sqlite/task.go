package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
	"github.com/JakeFAU/lenscrawl/internal/store"
)

const taskColumns = `id, url, domain, status, crawl_type, pipeline, error, num_retries, not_before, created_at, updated_at`

func scanTask(row scanner) (crawler.CrawlTask, error) {
	var (
		task                 crawler.CrawlTask
		status, crawlType    string
		pipeline, errText    sql.NullString
		notBefore            sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&task.ID, &task.URL, &task.Domain, &status, &crawlType, &pipeline, &errText,
		&task.NumRetries, &notBefore, &createdAt, &updatedAt); err != nil {
		return crawler.CrawlTask{}, err
	}
	task.Status = crawler.TaskStatus(status)
	task.CrawlType = crawler.CrawlType(crawlType)
	task.Pipeline = pipeline.String
	task.Error = errText.String

	var err error
	if task.NotBefore, err = parseNullTime(notBefore, "not_before"); err != nil {
		return crawler.CrawlTask{}, err
	}
	if task.CreatedAt, err = parseTime(createdAt, "created_at"); err != nil {
		return crawler.CrawlTask{}, err
	}
	if task.UpdatedAt, err = parseTime(updatedAt, "updated_at"); err != nil {
		return crawler.CrawlTask{}, err
	}
	return task, nil
}

// InsertTask inserts a Queued row keyed on URL, ignoring duplicates.
func (r *Repository) InsertTask(ctx context.Context, task crawler.CrawlTask) (bool, error) {
	n, err := r.InsertTasks(ctx, []crawler.CrawlTask{task})
	return n > 0, err
}

// InsertTasks inserts a batch of tasks in one transaction.
func (r *Repository) InsertTasks(ctx context.Context, tasks []crawler.CrawlTask) (int, error) {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin insert tasks: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

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
	if err := tx.Commit(); err != nil {
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
		created = time.Now()
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO crawl_queue (url, domain, status, crawl_type, pipeline, num_retries, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (url) DO NOTHING
	`, task.URL, task.Domain, string(crawler.TaskQueued), string(crawlType), nullString(task.Pipeline),
		formatTime(created), formatTime(created))
	if err != nil {
		return false, fmt.Errorf("insert task %s: %w", task.URL, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert task rows affected: %w", err)
	}

	var id int64
	if err := q.QueryRowContext(ctx, `SELECT id FROM crawl_queue WHERE url = ?`, task.URL).Scan(&id); err != nil {
		return false, fmt.Errorf("lookup task %s: %w", task.URL, err)
	}
	if err := attachTags(ctx, q, "crawl_tag", "crawl_queue_id", id, task.Tags); err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ClaimTasks flips up to n eligible rows to Processing in one statement.
func (r *Repository) ClaimTasks(ctx context.Context, n int, now time.Time) ([]crawler.CrawlTask, error) {
	if n <= 0 {
		return nil, nil
	}
	stamp := formatTime(now)
	rows, err := r.db.QueryContext(ctx, `
		UPDATE crawl_queue
		SET status = ?, updated_at = ?
		WHERE id IN (
			SELECT id FROM crawl_queue
			WHERE status = ? AND (not_before IS NULL OR not_before <= ?)
			ORDER BY CASE crawl_type WHEN 'Bootstrap' THEN 0 ELSE 1 END, created_at, id
			LIMIT ?
		)
		RETURNING `+taskColumns,
		string(crawler.TaskProcessing), stamp, string(crawler.TaskQueued), stamp, n)
	if err != nil {
		return nil, fmt.Errorf("claim tasks: %w", err)
	}
	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, fmt.Errorf("claim tasks: %w", err)
	}
	// RETURNING does not preserve the subquery order.
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
	if err := r.withTaskTags(ctx, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetTask loads a task by id.
func (r *Repository) GetTask(ctx context.Context, id int64) (crawler.CrawlTask, error) {
	return r.getTask(ctx, `SELECT `+taskColumns+` FROM crawl_queue WHERE id = ?`, id)
}

// FindTaskByURL loads a task by URL.
func (r *Repository) FindTaskByURL(ctx context.Context, url string) (crawler.CrawlTask, error) {
	return r.getTask(ctx, `SELECT `+taskColumns+` FROM crawl_queue WHERE url = ?`, url)
}

func (r *Repository) getTask(ctx context.Context, query string, arg any) (crawler.CrawlTask, error) {
	task, err := scanTask(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.CrawlTask{}, store.ErrNotFound
	}
	if err != nil {
		return crawler.CrawlTask{}, fmt.Errorf("get task: %w", err)
	}
	tasks := []crawler.CrawlTask{task}
	if err := r.withTaskTags(ctx, tasks); err != nil {
		return crawler.CrawlTask{}, err
	}
	return tasks[0], nil
}

// TransitionTask applies update when the row is still in status from.
func (r *Repository) TransitionTask(ctx context.Context, id int64, from crawler.TaskStatus, update crawler.TaskUpdate) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE crawl_queue
		SET status = ?, error = ?, num_retries = ?, not_before = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(update.Status), nullString(update.Error), update.NumRetries, formatTimePtr(update.NotBefore),
		formatTime(update.UpdatedAt), id, string(from))
	if err != nil {
		return false, fmt.Errorf("transition task %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition task rows affected: %w", err)
	}
	return affected > 0, nil
}

// RequeueDomain resets terminal rows of a domain.
func (r *Repository) RequeueDomain(ctx context.Context, domain string, now time.Time) (int64, error) {
	return r.requeue(ctx, "domain", domain, now)
}

// RequeueURL resets a terminal row.
func (r *Repository) RequeueURL(ctx context.Context, url string, now time.Time) (int64, error) {
	return r.requeue(ctx, "url", url, now)
}

func (r *Repository) requeue(ctx context.Context, column, value string, now time.Time) (int64, error) {
	query := fmt.Sprintf(`
		UPDATE crawl_queue
		SET status = ?, num_retries = 0, not_before = NULL, error = NULL, updated_at = ?
		WHERE %s = ? AND status IN (?, ?)
	`, column)
	res, err := r.db.ExecContext(ctx, query, string(crawler.TaskQueued), formatTime(now), value,
		string(crawler.TaskCompleted), string(crawler.TaskFailed))
	if err != nil {
		return 0, fmt.Errorf("requeue by %s: %w", column, err)
	}
	return res.RowsAffected()
}

// ResetProcessing returns every Processing row to Queued.
func (r *Repository) ResetProcessing(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE crawl_queue SET status = ?, updated_at = ? WHERE status = ?`,
		string(crawler.TaskQueued), formatTime(now), string(crawler.TaskProcessing))
	if err != nil {
		return 0, fmt.Errorf("reset processing: %w", err)
	}
	return res.RowsAffected()
}

// CountTasks returns row counts per status.
func (r *Repository) CountTasks(ctx context.Context) (map[crawler.TaskStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM crawl_queue GROUP BY status`)
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
func (r *Repository) CountTasksByLens(ctx context.Context) ([]store.StatusCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.value, q.status, COUNT(*)
		FROM crawl_queue q
		JOIN crawl_tag ct ON ct.crawl_queue_id = q.id
		JOIN tags t ON t.id = ct.tag_id
		WHERE t.label = ?
		GROUP BY t.value, q.status
		ORDER BY t.value, q.status
	`, string(crawler.TagLens))
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
func (r *Repository) DeleteTasksByDomain(ctx context.Context, domain string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM crawl_queue WHERE domain = ?`, domain)
	if err != nil {
		return 0, fmt.Errorf("delete tasks for %s: %w", domain, err)
	}
	return res.RowsAffected()
}

func collectTasks(rows *sql.Rows) ([]crawler.CrawlTask, error) {
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

func (r *Repository) withTaskTags(ctx context.Context, tasks []crawler.CrawlTask) error {
	ids := make([]int64, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	tags, err := loadTags(ctx, r.db, "crawl_tag", "crawl_queue_id", ids)
	if err != nil {
		return err
	}
	for i := range tasks {
		tasks[i].Tags = tags[tasks[i].ID]
	}
	return nil
}
