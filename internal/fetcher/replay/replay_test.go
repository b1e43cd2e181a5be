package replay_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
	"github.com/JakeFAU/lenscrawl/internal/fetcher/replay"
	"github.com/JakeFAU/lenscrawl/internal/warc"
)

func response(target, payload string) string {
	return fmt.Sprintf("WARC/1.1\r\nWARC-Type: response\r\nWARC-Target-URI: %s\r\nContent-Length: %d\r\n\r\n%s\r\n\r\n",
		target, len(payload), payload)
}

func TestReplayServesArchivedResponses(t *testing.T) {
	t.Parallel()

	archive := response("https://Example.com/a#top", "HTTP/1.1 200 OK\r\nContent-Type: text/html\r\n\r\n<p>a</p>") +
		response("https://example.com/gone", "HTTP/1.1 404 Not Found\r\n\r\n") +
		"WARC/1.1\r\nWARC-Type: response\r\nContent-Length: 0\r\n\r\n\r\n\r\n"
	r, err := warc.NewReader(bytes.NewBufferString(archive))
	require.NoError(t, err)

	f := replay.New(zap.NewNop())
	urls, err := f.Load(r)
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/a", "https://example.com/gone"}, urls)
	require.Equal(t, 2, f.Len())

	out, err := f.Fetch(context.Background(), crawler.CrawlTask{URL: "https://example.com/a"})
	require.NoError(t, err)
	require.Equal(t, "text/html", out.ContentType)
	require.Equal(t, "<p>a</p>", string(out.Body))

	_, err = f.Fetch(context.Background(), crawler.CrawlTask{URL: "https://example.com/gone"})
	require.Equal(t, crawler.OutcomePermanent, crawler.OutcomeFor(err).Kind)

	_, err = f.Fetch(context.Background(), crawler.CrawlTask{URL: "https://example.com/never"})
	require.Equal(t, crawler.OutcomePermanent, crawler.OutcomeFor(err).Kind)
}
