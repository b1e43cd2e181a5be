package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type countingWaiter struct{ calls atomic.Int32 }

func (w *countingWaiter) Wait(context.Context, string) error {
	w.calls.Add(1)
	return nil
}

func newTestFetcher(cfg Config, waiter Waiter) *Fetcher {
	return New(cfg, waiter, fixedClock{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}, zap.NewNop())
}

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	var userAgent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent.Store(r.UserAgent())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><title>ok</title></html>"))
	}))
	defer srv.Close()

	waiter := &countingWaiter{}
	f := newTestFetcher(Config{UserAgent: "lensbot", Timeout: time.Second}, waiter)
	out, err := f.Fetch(context.Background(), crawler.CrawlTask{URL: srv.URL + "/page"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, out.StatusCode)
	require.Equal(t, srv.URL+"/page", out.URL)
	require.Equal(t, "text/html; charset=utf-8", out.ContentType)
	require.Contains(t, string(out.Body), "<title>ok</title>")
	require.Equal(t, int32(1), waiter.calls.Load())
	require.Equal(t, "lensbot", userAgent.Load())

	// Fetching the same URL again is allowed.
	_, err = f.Fetch(context.Background(), crawler.CrawlTask{URL: srv.URL + "/page"})
	require.NoError(t, err)
}

func TestFetchClassifiesStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/limited":
			w.Header().Set("Retry-After", "120")
			w.WriteHeader(http.StatusTooManyRequests)
		case "/down":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := newTestFetcher(Config{Timeout: time.Second}, nil)
	ctx := context.Background()

	out, err := f.Fetch(ctx, crawler.CrawlTask{URL: srv.URL + "/limited"})
	var fe *crawler.FetchError
	require.ErrorAs(t, err, &fe)
	require.True(t, fe.Transient)
	require.Equal(t, 2*time.Minute, fe.RetryAfter)
	require.Equal(t, http.StatusTooManyRequests, out.StatusCode)
	require.Equal(t, crawler.OutcomeTransient, crawler.OutcomeFor(err).Kind)

	_, err = f.Fetch(ctx, crawler.CrawlTask{URL: srv.URL + "/down"})
	require.Equal(t, crawler.OutcomeTransient, crawler.OutcomeFor(err).Kind)

	_, err = f.Fetch(ctx, crawler.CrawlTask{URL: srv.URL + "/missing"})
	require.Equal(t, crawler.OutcomePermanent, crawler.OutcomeFor(err).Kind)
}

func TestFetchUpgradeFallsBackToHTTP(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("plain"))
	}))
	defer srv.Close()
	require.True(t, strings.HasPrefix(srv.URL, "http://"))

	waiter := &countingWaiter{}
	f := newTestFetcher(Config{Timeout: time.Second, UpgradeHTTPS: true}, waiter)
	out, err := f.Fetch(context.Background(), crawler.CrawlTask{URL: srv.URL + "/x"})
	require.NoError(t, err)
	require.Equal(t, "plain", string(out.Body))
	require.Equal(t, srv.URL+"/x", out.URL)
	require.Equal(t, int32(2), waiter.calls.Load(), "https attempt, then the original URL")
}

func TestFetchTransportErrorIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	f := newTestFetcher(Config{Timeout: time.Second}, nil)
	_, err := f.Fetch(context.Background(), crawler.CrawlTask{URL: addr + "/gone"})
	require.Error(t, err)
	require.Equal(t, crawler.OutcomeTransient, crawler.OutcomeFor(err).Kind)
}

func TestFetchRejectsOtherSchemes(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(Config{}, nil)
	_, err := f.Fetch(context.Background(), crawler.CrawlTask{URL: "ftp://example.com/file"})
	require.ErrorIs(t, err, crawler.ErrUnsupportedScheme)
}

func TestFetchHonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	f := newTestFetcher(Config{Timeout: 5 * time.Second}, nil)
	_, err := f.Fetch(ctx, crawler.CrawlTask{URL: srv.URL})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(Config{}, nil)
	var (
		result   crawler.FetchOutcome
		fetchErr error
	)
	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, time.Now(), &result, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"Retry-After": {"5"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/final")},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "https://example.com/final", result.URL)
	require.Equal(t, 5*time.Second, result.RetryAfter)

	hooks.onError(&colly.Response{StatusCode: http.StatusNotFound}, errors.New("Not Found"))
	require.NoError(t, fetchErr, "status errors are handled by OnResponse")

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
