package collyfetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
)

type memoryRules struct {
	mu    sync.Mutex
	rules map[string][]crawler.ResourceRule
}

func (m *memoryRules) InsertResourceRule(_ context.Context, rule crawler.ResourceRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rules == nil {
		m.rules = map[string][]crawler.ResourceRule{}
	}
	m.rules[rule.Domain] = append(m.rules[rule.Domain], rule)
	return nil
}

func (m *memoryRules) FindResourceRules(_ context.Context, domain string) ([]crawler.ResourceRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rules[domain], nil
}

func (m *memoryRules) DeleteResourceRules(_ context.Context, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rules, domain)
	return nil
}

func hostOf(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Host
}

func TestRobotsCacheFetchesOnce(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private\nAllow: /private/ok\n"))
	}))
	defer srv.Close()

	repo := &memoryRules{}
	cache := NewRobotsCache(repo, srv.Client(), "lensbot", zap.NewNop())
	host := hostOf(t, srv.URL)

	rules, err := cache.Rules(context.Background(), "http", host)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	require.False(t, rules[0].AllowCrawl)

	rules, err = cache.Rules(context.Background(), "http", host)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	require.Equal(t, int32(1), hits.Load())
}

func TestRobotsCacheMissingStoresAllowAll(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	repo := &memoryRules{}
	cache := NewRobotsCache(repo, srv.Client(), "lensbot", zap.NewNop())
	host := hostOf(t, srv.URL)

	rules, err := cache.Rules(context.Background(), "http", host)
	require.NoError(t, err)
	require.Equal(t, []crawler.ResourceRule{{Domain: host, RulePath: "/", AllowCrawl: true}}, rules)

	stored, err := repo.FindResourceRules(context.Background(), host)
	require.NoError(t, err)
	require.Len(t, stored, 1)
}

func TestRobotsCacheServerErrorNotCached(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	repo := &memoryRules{}
	cache := NewRobotsCache(repo, srv.Client(), "lensbot", zap.NewNop())
	host := hostOf(t, srv.URL)

	rules, err := cache.Rules(context.Background(), "http", host)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	stored, _ := repo.FindResourceRules(context.Background(), host)
	require.Empty(t, stored)

	rules, err = cache.Rules(context.Background(), "file", "localhost")
	require.NoError(t, err)
	require.Empty(t, rules)
}

type roundTripResult struct {
	resp *http.Response
	err  error
}

type stubRoundTripper struct {
	results []roundTripResult
	calls   int
}

func (s *stubRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	r := s.results[s.calls]
	s.calls++
	return r.resp, r.err
}

func TestRobotsRetryReturnsAllowAllOnTimeout(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{results: []roundTripResult{
		{err: context.DeadlineExceeded},
		{err: context.DeadlineExceeded},
		{err: context.DeadlineExceeded},
		{err: context.DeadlineExceeded},
	}}
	transport := &robotsRetryTransport{base: base}

	req := httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil)
	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "User-agent: *\nAllow: /", string(body))
	require.Equal(t, 4, base.calls)
}

func TestRobotsRetryPassesThroughOtherErrors(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{results: []roundTripResult{{err: io.ErrUnexpectedEOF}}}
	transport := &robotsRetryTransport{base: base}

	req := httptest.NewRequest(http.MethodGet, "https://example.com/robots.txt", nil)
	_, err := transport.RoundTrip(req)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.Equal(t, 1, base.calls)
}
