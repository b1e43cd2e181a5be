package docstore_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
	"github.com/JakeFAU/lenscrawl/internal/docstore"
	"github.com/JakeFAU/lenscrawl/internal/hash/sha256"
	"github.com/JakeFAU/lenscrawl/internal/index"
	"github.com/JakeFAU/lenscrawl/internal/storage/sqlite"
	"github.com/JakeFAU/lenscrawl/internal/store"
)

type fakeIndex struct {
	upserts   []string
	deletes   []string
	commits   int
	fail      error
	commitErr error
	full      bool
}

func (f *fakeIndex) Upsert(docID string, _ crawler.Document) error {
	if f.fail != nil {
		return f.fail
	}
	f.upserts = append(f.upserts, docID)
	return nil
}

func (f *fakeIndex) DeleteMany(ids []string) error {
	f.deletes = append(f.deletes, ids...)
	return nil
}

func (f *fakeIndex) Commit() error {
	f.commits++
	return f.commitErr
}

func (f *fakeIndex) Full() bool { return f.full }

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("doc-%d", s.n), nil
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }

type recordingPublisher struct{ events []docstore.Event }

func (p *recordingPublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	p.events = append(p.events, payload.(docstore.Event))
	return "id", nil
}

func setup(t *testing.T, idx docstore.Indexer, opts ...docstore.Option) (*docstore.Store, *sqlite.Repository) {
	t.Helper()
	repo, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return docstore.New(repo, idx, &seqIDs{}, sha256.New(), fixedClock{}, zap.NewNop(), opts...), repo
}

func page(content string) crawler.Document {
	return crawler.Document{
		URL:     "https://example.com/a",
		Domain:  "example.com",
		Title:   "A",
		Content: content,
		Tags:    []crawler.Tag{crawler.LensTag("wiki")},
	}
}

func TestIndexSkipsUnchangedContent(t *testing.T) {
	t.Parallel()

	idx := &fakeIndex{}
	pub := &recordingPublisher{}
	s, _ := setup(t, idx, docstore.WithPublisher(pub, "documents"))
	ctx := context.Background()

	res, err := s.Index(ctx, page("hello"))
	require.NoError(t, err)
	require.False(t, res.Unchanged)
	require.Equal(t, "doc-1", res.DocID)

	_, err = s.Get(ctx, "https://example.com/a")
	require.ErrorIs(t, err, store.ErrNotFound, "row waits for the index commit")

	res, err = s.Index(ctx, page("hello"))
	require.NoError(t, err)
	require.True(t, res.Unchanged, "staged content counts as current")
	require.Equal(t, 1, s.Pending())

	require.NoError(t, s.Commit(ctx))
	require.Zero(t, s.Pending())

	res, err = s.Index(ctx, page("hello"))
	require.NoError(t, err)
	require.True(t, res.Unchanged)
	require.Equal(t, []string{"doc-1"}, idx.upserts, "unchanged content writes nothing")

	res, err = s.Index(ctx, page("hello again"))
	require.NoError(t, err)
	require.Equal(t, "doc-1", res.DocID, "changed content keeps the doc id")
	require.Equal(t, []string{"doc-1", "doc-1"}, idx.upserts)
	require.NoError(t, s.Commit(ctx))

	got, err := s.Get(ctx, "https://example.com/a")
	require.NoError(t, err)
	hash, err := s.ContentHash(page("hello again"))
	require.NoError(t, err)
	require.Equal(t, hash, got.ContentHash)
	require.Equal(t, []crawler.Tag{crawler.LensTag("wiki")}, got.Tags)

	require.Len(t, pub.events, 2)
	require.Equal(t, docstore.ActionIndexed, pub.events[0].Action)
	require.Equal(t, []string{"wiki"}, pub.events[0].Lenses)
}

func TestRecrawlAfterLostCommitRestagesDocument(t *testing.T) {
	t.Parallel()

	repo, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	ctx := context.Background()
	open := func(idx *fakeIndex) *docstore.Store {
		return docstore.New(repo, idx, &seqIDs{}, sha256.New(), fixedClock{}, zap.NewNop())
	}

	// First run: the new page is staged and the process stops before commit.
	before := open(&fakeIndex{})
	_, err = before.Index(ctx, page("hello world"))
	require.NoError(t, err)

	after := &fakeIndex{}
	s := open(after)
	res, err := s.Index(ctx, page("hello world"))
	require.NoError(t, err)
	require.False(t, res.Unchanged)
	require.Equal(t, []string{"doc-1"}, after.upserts)
	require.NoError(t, s.Commit(ctx))

	// Second run: a changed page is staged and lost the same way.
	before = open(&fakeIndex{})
	_, err = before.Index(ctx, page("hello again"))
	require.NoError(t, err)

	after = &fakeIndex{}
	s = open(after)
	res, err = s.Index(ctx, page("hello again"))
	require.NoError(t, err)
	require.False(t, res.Unchanged, "stored hash still describes the committed version")
	require.Equal(t, "doc-1", res.DocID)
	require.Equal(t, []string{"doc-1"}, after.upserts)
}

func TestFailedCommitDropsStagedRows(t *testing.T) {
	t.Parallel()

	idx := &fakeIndex{commitErr: errors.New("disk full")}
	s, _ := setup(t, idx)
	ctx := context.Background()

	_, err := s.Index(ctx, page("hello"))
	require.NoError(t, err)
	require.ErrorIs(t, s.Commit(ctx), docstore.ErrIndexWrite)
	require.Zero(t, s.Pending())

	_, err = s.Get(ctx, "https://example.com/a")
	require.ErrorIs(t, err, store.ErrNotFound)

	idx.commitErr = nil
	res, err := s.Index(ctx, page("hello"))
	require.NoError(t, err)
	require.False(t, res.Unchanged, "dropped document is staged again")
	require.NoError(t, s.Commit(ctx))
	_, err = s.Get(ctx, "https://example.com/a")
	require.NoError(t, err)
}

func TestIndexCommitsWhenBatchIsFull(t *testing.T) {
	t.Parallel()

	idx := &fakeIndex{full: true}
	s, _ := setup(t, idx)
	ctx := context.Background()

	_, err := s.Index(ctx, page("hello"))
	require.NoError(t, err)
	require.Equal(t, 1, idx.commits)
	require.Zero(t, s.Pending())

	got, err := s.Get(ctx, "https://example.com/a")
	require.NoError(t, err)
	require.Equal(t, "doc-1", got.DocID)
}

func TestIndexFailureLeavesRowUntouched(t *testing.T) {
	t.Parallel()

	idx := &fakeIndex{fail: errors.New("segment locked")}
	s, _ := setup(t, idx)
	ctx := context.Background()

	_, err := s.Index(ctx, page("hello"))
	require.ErrorIs(t, err, docstore.ErrIndexWrite)

	_, err = s.Get(ctx, "https://example.com/a")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteRemovesFromIndexAndStore(t *testing.T) {
	t.Parallel()

	idx, err := index.Open(index.Config{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	s, repo := setup(t, idx)
	ctx := context.Background()

	res, err := s.Index(ctx, page("searchable words"))
	require.NoError(t, err)
	other := page("more searchable words")
	other.URL = "https://example.com/b"
	_, err = s.Index(ctx, other)
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx))

	hits, err := idx.Search(ctx, "searchable", nil, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	require.NoError(t, s.Delete(ctx, res.DocID))
	hits, err = idx.Search(ctx, "searchable", nil, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	_, err = s.Get(ctx, "https://example.com/a")
	require.ErrorIs(t, err, store.ErrNotFound)

	n, err := s.DeleteDomain(ctx, "example.com")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	count, err := repo.CountDocuments(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
	docs, err := idx.DocCount()
	require.NoError(t, err)
	require.Zero(t, docs)
}

func TestDeleteURLsIgnoresUnknown(t *testing.T) {
	t.Parallel()

	idx := &fakeIndex{}
	s, _ := setup(t, idx)
	ctx := context.Background()

	res, err := s.Index(ctx, page("x"))
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx))

	n, err := s.DeleteURLs(ctx, []string{"https://example.com/a", "https://example.com/missing"})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{res.DocID}, idx.deletes)
	require.Equal(t, 2, idx.commits)

	err = s.Delete(ctx, "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
}
