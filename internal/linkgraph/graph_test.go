package linkgraph_test

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
	"github.com/JakeFAU/lenscrawl/internal/linkgraph"
)

type fakeLinks struct {
	inserted []crawler.Link
	calls    int
	lookups  int
	err      error
}

func (f *fakeLinks) HasLink(_ context.Context, src, dst string) (bool, error) {
	f.lookups++
	for _, l := range f.inserted {
		if l.SrcURL == src && l.DstURL == dst {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeLinks) InsertLink(_ context.Context, link crawler.Link) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	for _, l := range f.inserted {
		if l.SrcURL == link.SrcURL && l.DstURL == link.DstURL {
			return false, nil
		}
	}
	f.inserted = append(f.inserted, link)
	return true, nil
}

func (f *fakeLinks) ListLinksFrom(context.Context, string) ([]crawler.Link, error) {
	return f.inserted, nil
}

func TestRecordEdge(t *testing.T) {
	t.Parallel()

	repo := &fakeLinks{}
	g := linkgraph.New(repo, 100, 0.01)
	ctx := context.Background()

	ok, err := g.RecordEdge(ctx, "https://a.example/x", "https://b.example/y")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a.example", repo.inserted[0].SrcDomain)
	require.Equal(t, "b.example", repo.inserted[0].DstDomain)

	ok, err = g.RecordEdge(ctx, "https://a.example/x", "https://b.example/y")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 1, repo.calls, "repeat edges are not written again")
	require.Equal(t, 1, repo.lookups)

	ok, err = g.RecordEdge(ctx, "https://a.example/x", "https://a.example/z")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 1, repo.calls, "same-domain edges never reach the store")

	_, err = g.RecordEdge(ctx, "https://a.example/x", "no-scheme")
	require.Error(t, err)
	require.Equal(t, uint(1), g.SeenApprox())
}

func TestRecordEdgeFilterHitStillWritesNewEdges(t *testing.T) {
	t.Parallel()

	// A filter sized for one edge at a 50% false-positive rate saturates
	// quickly, so most new edges test positive.
	repo := &fakeLinks{}
	g := linkgraph.New(repo, 1, 0.5)
	ctx := context.Background()

	const edges = 50
	for i := range edges {
		dst := "https://b.example/" + strconv.Itoa(i)
		ok, err := g.RecordEdge(ctx, "https://a.example/x", dst)
		require.NoError(t, err)
		require.True(t, ok, "edge %d is new", i)
	}
	require.Len(t, repo.inserted, edges)
	require.Positive(t, repo.lookups, "filter hits are confirmed against the store")
}

func TestRecordEdgeStoreError(t *testing.T) {
	t.Parallel()

	repo := &fakeLinks{err: errors.New("disk full")}
	g := linkgraph.New(repo, 0, 0)

	_, err := g.RecordEdge(context.Background(), "https://a.example/", "https://b.example/")
	require.ErrorContains(t, err, "disk full")

	repo.err = nil
	ok, err := g.RecordEdge(context.Background(), "https://a.example/", "https://b.example/")
	require.NoError(t, err)
	require.True(t, ok, "failed writes are not remembered")
}
