package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
	"github.com/JakeFAU/lenscrawl/internal/store"
)

var taskColumnNames = []string{
	"id", "url", "domain", "status", "crawl_type", "pipeline", "error",
	"num_retries", "not_before", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s, err := NewWithPool(mock)
	require.NoError(t, err)
	return mock, s
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, s := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_queue").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertTaskAttachesTags(t *testing.T) {
	t.Parallel()

	mock, s := newMockStore(t)
	created := time.Unix(1700000000, 0).UTC()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO crawl_queue").
		WithArgs("https://example.com/a", "example.com", "Queued", "Normal", pgxmock.AnyArg(), created).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT id FROM crawl_queue WHERE url").
		WithArgs("https://example.com/a").
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectQuery("INSERT INTO tags").
		WithArgs("lens", "wiki").
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectExec("INSERT INTO crawl_tag").
		WithArgs(int64(7), int64(3)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	inserted, err := s.InsertTask(context.Background(), crawler.CrawlTask{
		URL:       "https://example.com/a",
		Domain:    "example.com",
		CreatedAt: created,
		Tags:      []crawler.Tag{crawler.LensTag("wiki")},
	})
	require.NoError(t, err)
	require.True(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertTaskDuplicateReportsFalse(t *testing.T) {
	t.Parallel()

	mock, s := newMockStore(t)
	created := time.Unix(1700000000, 0).UTC()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO crawl_queue").
		WithArgs("https://example.com/a", "example.com", "Queued", "Normal", pgxmock.AnyArg(), created).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("SELECT id FROM crawl_queue WHERE url").
		WithArgs("https://example.com/a").
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectCommit()

	inserted, err := s.InsertTask(context.Background(), crawler.CrawlTask{
		URL: "https://example.com/a", Domain: "example.com", CreatedAt: created,
	})
	require.NoError(t, err)
	require.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimTasksUsesSkipLockedAndSorts(t *testing.T) {
	t.Parallel()

	mock, s := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	older := now.Add(-time.Hour)

	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs("Processing", now, "Queued", 2).
		WillReturnRows(mock.NewRows(taskColumnNames).
			AddRow(int64(1), "https://example.com/a", "example.com", "Processing", "Normal", nil, nil, 0, nil, older, now).
			AddRow(int64(2), "https://example.com/b", "example.com", "Processing", "Bootstrap", nil, nil, 0, nil, now, now))
	mock.ExpectQuery("FROM crawl_tag j JOIN tags").
		WithArgs([]int64{2, 1}).
		WillReturnRows(mock.NewRows([]string{"crawl_queue_id", "label", "value"}).
			AddRow(int64(1), "lens", "wiki"))

	tasks, err := s.ClaimTasks(context.Background(), 2, now)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, int64(2), tasks[0].ID)
	require.Equal(t, crawler.CrawlBootstrap, tasks[0].CrawlType)
	require.Equal(t, []string{"wiki"}, tasks[1].LensNames())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionTaskReportsMismatch(t *testing.T) {
	t.Parallel()

	mock, s := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE crawl_queue").
		WithArgs("Completed", pgxmock.AnyArg(), 0, pgxmock.AnyArg(), now, int64(5), "Processing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.TransitionTask(context.Background(), 5, crawler.TaskProcessing, crawler.TaskUpdate{
		Status: crawler.TaskCompleted, UpdatedAt: now,
	})
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTaskNotFound(t *testing.T) {
	t.Parallel()

	mock, s := newMockStore(t)
	mock.ExpectQuery("FROM crawl_queue WHERE id").
		WithArgs(int64(9)).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetTask(context.Background(), 9)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequeueDomain(t *testing.T) {
	t.Parallel()

	mock, s := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("UPDATE crawl_queue").
		WithArgs("Queued", now, "example.com", "Completed", "Failed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))

	n, err := s.RequeueDomain(context.Background(), "example.com", now)
	require.NoError(t, err)
	require.Equal(t, int64(4), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindResourceRules(t *testing.T) {
	t.Parallel()

	mock, s := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("FROM resource_rules WHERE domain").
		WithArgs("example.com").
		WillReturnRows(mock.NewRows([]string{"id", "domain", "rule_path", "no_index", "allow_crawl", "created_at", "updated_at"}).
			AddRow(int64(1), "example.com", "/private", false, false, now, now).
			AddRow(int64(2), "example.com", "/public", false, true, now, now))

	rules, err := s.FindResourceRules(context.Background(), "example.com")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	require.False(t, rules[0].AllowCrawl)
	require.True(t, rules[1].AllowCrawl)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteDocumentsUsesAny(t *testing.T) {
	t.Parallel()

	mock, s := newMockStore(t)
	mock.ExpectExec("DELETE FROM indexed_document WHERE id = ANY").
		WithArgs([]int64{1, 2}).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	require.NoError(t, s.DeleteDocuments(context.Background(), []int64{1, 2}))
	require.NoError(t, s.DeleteDocuments(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertLinkDuplicate(t *testing.T) {
	t.Parallel()

	mock, s := newMockStore(t)
	link := crawler.Link{SrcDomain: "a.com", SrcURL: "https://a.com/", DstDomain: "b.com", DstURL: "https://b.com/"}
	mock.ExpectExec("INSERT INTO link").
		WithArgs(link.SrcDomain, link.SrcURL, link.DstDomain, link.DstURL).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	ok, err := s.InsertLink(context.Background(), link)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHasLink(t *testing.T) {
	t.Parallel()

	mock, s := newMockStore(t)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("https://a.com/", "https://b.com/").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := s.HasLink(context.Background(), "https://a.com/", "https://b.com/")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}
