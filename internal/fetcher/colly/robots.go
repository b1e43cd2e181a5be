package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
	"github.com/JakeFAU/lenscrawl/internal/metrics"
	"github.com/JakeFAU/lenscrawl/internal/policy"
	"github.com/JakeFAU/lenscrawl/internal/store"
)

const maxRobotsBytes = 512 << 10

var robotsRetryBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// RobotsCache loads ResourceRules for a domain from the repository, fetching
// and storing robots.txt on first contact.
type RobotsCache struct {
	rules   store.RuleRepository
	client  *http.Client
	botName string
	logger  *zap.Logger
	group   singleflight.Group
}

// NewRobotsCache builds a RobotsCache. client may be nil.
func NewRobotsCache(rules store.RuleRepository, client *http.Client, botName string, logger *zap.Logger) *RobotsCache {
	if client == nil {
		client = &http.Client{
			Timeout:   DefaultTimeout,
			Transport: &robotsRetryTransport{base: newHTTPTransport()},
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RobotsCache{rules: rules, client: client, botName: botName, logger: logger.Named("robots")}
}

// Rules returns the stored rules for domain, fetching robots.txt when none
// exist. Concurrent callers for one domain share a single fetch.
func (c *RobotsCache) Rules(ctx context.Context, scheme, domain string) ([]crawler.ResourceRule, error) {
	rules, err := c.rules.FindResourceRules(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("load robots rules for %s: %w", domain, err)
	}
	if len(rules) > 0 {
		return rules, nil
	}
	if scheme != "http" && scheme != "https" {
		return nil, nil
	}

	v, err, _ := c.group.Do(domain, func() (any, error) {
		return c.fetchAndStore(ctx, scheme, domain)
	})
	if err != nil {
		return nil, err
	}
	return v.([]crawler.ResourceRule), nil
}

func (c *RobotsCache) fetchAndStore(ctx context.Context, scheme, domain string) ([]crawler.ResourceRule, error) {
	body, status, err := c.fetch(ctx, scheme+"://"+domain+"/robots.txt")
	var rules []crawler.ResourceRule
	switch {
	case err != nil:
		// Unreachable robots.txt is not cached; the next task retries.
		metrics.ObserveRobotsFetch("error")
		c.logger.Warn("robots.txt fetch failed", zap.String("domain", domain), zap.Error(err))
		return policy.AllowAll(domain), nil
	case status == http.StatusOK:
		metrics.ObserveRobotsFetch("ok")
		rules = policy.ParseRobots(domain, body, c.botName)
	case status >= 400 && status < 500:
		metrics.ObserveRobotsFetch("missing")
	default:
		metrics.ObserveRobotsFetch("unavailable")
		c.logger.Warn("robots.txt unavailable", zap.String("domain", domain), zap.Int("status", status))
		return policy.AllowAll(domain), nil
	}
	if len(rules) == 0 {
		rules = policy.AllowAll(domain)
	}

	for _, r := range rules {
		if err := c.rules.InsertResourceRule(ctx, r); err != nil {
			return nil, fmt.Errorf("store robots rule for %s: %w", domain, err)
		}
	}
	c.logger.Debug("cached robots.txt", zap.String("domain", domain), zap.Int("rules", len(rules)))
	return rules, nil
}

func (c *RobotsCache) fetch(ctx context.Context, robotsURL string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("build robots request: %w", err)
	}
	if c.botName != "" {
		req.Header.Set("User-Agent", c.botName)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("get %s: %w", robotsURL, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return "", 0, fmt.Errorf("read %s: %w", robotsURL, err)
	}
	return string(body), resp.StatusCode, nil
}

// robotsRetryTransport retries TLS handshake timeouts and, when they
// persist, answers with an allow-all robots.txt.
type robotsRetryTransport struct {
	base http.RoundTripper
}

func (t *robotsRetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("robots transport received nil request")
	}
	maxAttempts := len(robotsRetryBackoff) + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !isTransientTLSError(err) {
			return nil, fmt.Errorf("robots roundtrip: %w", err)
		}
		if attempt == maxAttempts-1 {
			metrics.ObserveRobotsFetch("tls_timeout")
			return syntheticRobotsAllowAllResponse(req), nil
		}
		if err := sleepWithContext(req.Context(), robotsRetryBackoff[attempt]); err != nil {
			return nil, err
		}
	}
	return nil, errors.New("robots roundtrip exhausted retries")
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func syntheticRobotsAllowAllResponse(req *http.Request) *http.Response {
	const body = "User-agent: *\nAllow: /"
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Header:        make(http.Header),
		Request:       req,
	}
}

func isTransientTLSError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
