package fetcher_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
	"github.com/JakeFAU/lenscrawl/internal/fetcher"
)

type namedFetcher string

func (n namedFetcher) Fetch(_ context.Context, task crawler.CrawlTask) (crawler.FetchOutcome, error) {
	return crawler.FetchOutcome{URL: task.URL, Body: []byte(n)}, nil
}

func TestRouter(t *testing.T) {
	t.Parallel()

	r := fetcher.NewRouter(namedFetcher("web"), namedFetcher("file"))
	r.Handle("warc", namedFetcher("warc"))
	ctx := context.Background()

	tests := []struct {
		task crawler.CrawlTask
		want string
	}{
		{task: crawler.CrawlTask{URL: "https://example.com/"}, want: "web"},
		{task: crawler.CrawlTask{URL: "HTTP://example.com/"}, want: "web"},
		{task: crawler.CrawlTask{URL: "file:///tmp/a.txt"}, want: "file"},
		{task: crawler.CrawlTask{URL: "https://example.com/", Pipeline: "warc"}, want: "warc"},
		{task: crawler.CrawlTask{URL: "https://example.com/", Pipeline: "unknown"}, want: "web"},
	}
	for _, tt := range tests {
		out, err := r.Fetch(ctx, tt.task)
		require.NoError(t, err)
		require.Equal(t, tt.want, string(out.Body), tt.task.URL)
	}

	_, err := r.Fetch(ctx, crawler.CrawlTask{URL: "ftp://example.com/"})
	require.ErrorIs(t, err, crawler.ErrUnsupportedScheme)

	_, err = fetcher.NewRouter(namedFetcher("web"), nil).Fetch(ctx, crawler.CrawlTask{URL: "file:///x"})
	require.ErrorIs(t, err, crawler.ErrUnsupportedScheme)
}
