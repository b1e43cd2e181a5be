// Package collyfetcher fetches http(s) crawl tasks with gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
	"github.com/JakeFAU/lenscrawl/internal/metrics"
)

// DefaultTimeout bounds one request when Config.Timeout is zero.
const DefaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	UpgradeHTTPS bool
	MaxBodyBytes int
}

// Waiter paces requests per host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher implements crawler.Fetcher using a Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	limiter       Waiter
	clock         crawler.Clock
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter Waiter, clock crawler.Clock, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}

	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		limiter:       limiter,
		clock:         clock,
		logger:        logger.Named("fetcher"),
	}
}

// Fetch retrieves task.URL. Bootstrap tasks are served from the Internet
// Archive; plain http URLs try https first when upgrades are enabled. A
// non-success status returns both the outcome and a *crawler.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, task crawler.CrawlTask) (crawler.FetchOutcome, error) {
	target, err := url.Parse(task.URL)
	if err != nil {
		return crawler.FetchOutcome{}, &crawler.FetchError{Err: fmt.Errorf("parse %q: %w", task.URL, err)}
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return crawler.FetchOutcome{}, fmt.Errorf("fetch %s: %w", task.URL, crawler.ErrUnsupportedScheme)
	}

	fetchURL := task.URL
	if task.CrawlType == crawler.CrawlBootstrap {
		fetchURL = crawler.ArchiveURL(task.URL, f.clock.Now())
	} else if target.Scheme == "http" && f.cfg.UpgradeHTTPS {
		upgraded := *target
		upgraded.Scheme = "https"
		outcome, err := f.fetchURL(ctx, upgraded.String())
		if !isTransportError(err) {
			return f.finish(task, outcome, err)
		}
		f.logger.Debug("https upgrade failed, falling back", zap.String("url", task.URL), zap.Error(err))
	}

	outcome, err := f.fetchURL(ctx, fetchURL)
	return f.finish(task, outcome, err)
}

func (f *Fetcher) finish(task crawler.CrawlTask, outcome crawler.FetchOutcome, err error) (crawler.FetchOutcome, error) {
	site := metrics.SanitizeSite(task.URL)
	if err != nil {
		metrics.ObserveCrawl(site, "error", 0)
		return crawler.FetchOutcome{}, err
	}
	metrics.ObserveCrawl(site, fmt.Sprintf("%d", outcome.StatusCode), len(outcome.Body))

	// Report under the queued URL so archive and upgraded fetches map back.
	outcome.URL = task.URL
	if statusErr := crawler.CheckStatus(outcome.StatusCode, outcome.RetryAfter); statusErr != nil {
		return outcome, fmt.Errorf("fetch %s: %w", task.URL, statusErr)
	}
	return outcome, nil
}

func (f *Fetcher) fetchURL(ctx context.Context, rawURL string) (crawler.FetchOutcome, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return crawler.FetchOutcome{}, err
		}
	}
	var (
		result   crawler.FetchOutcome
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(start, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return crawler.FetchOutcome{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(start time.Time, result *crawler.FetchOutcome, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(f.transport)
	f.configureCollectorHooks(collector, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, start time.Time, result *crawler.FetchOutcome, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		finalURL := ""
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		*result = crawler.FetchOutcome{
			URL:         finalURL,
			StatusCode:  r.StatusCode,
			Headers:     headers,
			Body:        append([]byte(nil), r.Body...),
			ContentType: headers.Get("Content-Type"),
			RetryAfter:  crawler.ParseRetryAfter(headers.Get("Retry-After"), f.clock.Now()),
			Duration:    time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		// With ParseHTTPErrorResponse set, error statuses still reach
		// OnResponse; only transport failures land here.
		if r != nil && r.StatusCode != 0 {
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch %s canceled: %w", rawURL, ctx.Err())
	case err := <-done:
		if err != nil && *fetchErr == nil {
			*fetchErr = err
		}
		if *fetchErr != nil {
			return &crawler.FetchError{Transient: isTransportError(*fetchErr), Err: fmt.Errorf("fetch %s: %w", rawURL, *fetchErr)}
		}
		return nil
	}
}

// isTransportError reports failures below HTTP: DNS, dial, TLS, timeouts.
func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	var fe *crawler.FetchError
	if errors.As(err, &fe) {
		return fe.StatusCode == 0 && fe.Transient
	}
	var netErr net.Error
	var urlErr *url.Error
	return errors.As(err, &netErr) || errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
