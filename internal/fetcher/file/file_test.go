package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
	"github.com/JakeFAU/lenscrawl/internal/fetcher/file"
)

func TestFetchReadsFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# hello"), 0o600))

	u := file.URLFor(path)
	got, err := file.Path(u)
	require.NoError(t, err)
	require.Equal(t, path, got)

	out, err := file.New(0).Fetch(context.Background(), crawler.CrawlTask{URL: u})
	require.NoError(t, err)
	require.Equal(t, 200, out.StatusCode)
	require.Equal(t, "# hello", string(out.Body))
	require.Equal(t, u, out.URL)
	require.NotEmpty(t, out.Headers.Get("Last-Modified"))
}

func TestFetchFailures(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	f := file.New(4)
	ctx := context.Background()

	_, err := f.Fetch(ctx, crawler.CrawlTask{URL: file.URLFor(filepath.Join(dir, "missing.txt"))})
	require.Equal(t, crawler.OutcomePermanent, crawler.OutcomeFor(err).Kind)

	_, err = f.Fetch(ctx, crawler.CrawlTask{URL: file.URLFor(dir)})
	require.Equal(t, crawler.OutcomePermanent, crawler.OutcomeFor(err).Kind)

	big := filepath.Join(dir, "big.txt")
	require.NoError(t, os.WriteFile(big, []byte("too large"), 0o600))
	_, err = f.Fetch(ctx, crawler.CrawlTask{URL: file.URLFor(big)})
	require.Equal(t, crawler.OutcomePermanent, crawler.OutcomeFor(err).Kind)

	_, err = f.Fetch(ctx, crawler.CrawlTask{URL: "https://example.com/"})
	require.ErrorIs(t, err, crawler.ErrUnsupportedScheme)
}

func TestDiscover(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"a.md", "b.DOCX", "c.png", "sub/d.txt", ".hidden/e.md", "sub/.f.md"} {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	}

	got, err := file.Discover(context.Background(), dir, []string{"md", ".docx", "txt"})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{
		file.URLFor(filepath.Join(dir, "a.md")),
		file.URLFor(filepath.Join(dir, "b.DOCX")),
		file.URLFor(filepath.Join(dir, "sub", "d.txt")),
	}, got)

	_, err = file.Discover(context.Background(), filepath.Join(dir, "missing"), []string{"md"})
	require.Error(t, err)
}
