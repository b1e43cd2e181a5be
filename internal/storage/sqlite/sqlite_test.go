package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lenscrawl/internal/storage/sqlite"
)

func setupTestRepo(t *testing.T) *sqlite.Repository {
	t.Helper()
	repo, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestDB_Open(t *testing.T) {
	t.Parallel()

	t.Run("creates schema on first open", func(t *testing.T) {
		t.Parallel()

		repo := setupTestRepo(t)
		ctx := context.Background()
		for _, table := range []string{"crawl_queue", "resource_rules", "indexed_document", "tags", "crawl_tag", "document_tag", "link"} {
			var n int
			require.NoError(t, repo.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n), table)
			require.Zero(t, n, table)
		}
	})

	t.Run("reopening a file keeps the schema", func(t *testing.T) {
		t.Parallel()

		path := t.TempDir() + "/lenscrawl.db"
		repo, err := sqlite.Open(path)
		require.NoError(t, err)
		require.NoError(t, repo.Close())

		repo, err = sqlite.Open(path)
		require.NoError(t, err)
		require.NoError(t, repo.Close())
	})

	t.Run("returns error for invalid path", func(t *testing.T) {
		t.Parallel()

		_, err := sqlite.Open("/nonexistent/path/db.sqlite")
		require.Error(t, err)
	})
}
