// Package replay serves crawl tasks from response records of a WARC
// archive instead of the network.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
	"github.com/JakeFAU/lenscrawl/internal/warc"
)

// Pipeline marks tasks that should be replayed from an archive.
const Pipeline = "warc"

// Fetcher implements crawler.Fetcher over archived responses.
type Fetcher struct {
	mu      sync.RWMutex
	records map[string]*warc.Record
	logger  *zap.Logger
}

// New returns an empty Fetcher.
func New(logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{records: make(map[string]*warc.Record), logger: logger.Named("replay")}
}

// Load adds every response record of r and returns the normalized URLs it
// made available. Records without a target URI are logged and skipped.
func (f *Fetcher) Load(r *warc.Reader) ([]string, error) {
	var urls []string
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return urls, nil
		}
		if errors.Is(err, warc.ErrMissingTargetURI) {
			f.logger.Warn("skipping warc record", zap.Error(err))
			continue
		}
		if err != nil {
			return urls, fmt.Errorf("load warc: %w", err)
		}
		normalized, err := crawler.NormalizeURL(rec.TargetURI)
		if err != nil {
			f.logger.Warn("skipping warc record with bad url", zap.String("url", rec.TargetURI), zap.Error(err))
			continue
		}
		f.mu.Lock()
		if _, dup := f.records[normalized]; !dup {
			urls = append(urls, normalized)
		}
		f.records[normalized] = rec
		f.mu.Unlock()
	}
}

// Len returns the number of archived URLs.
func (f *Fetcher) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.records)
}

// Fetch returns the archived response for task.URL.
func (f *Fetcher) Fetch(_ context.Context, task crawler.CrawlTask) (crawler.FetchOutcome, error) {
	f.mu.RLock()
	rec, ok := f.records[task.URL]
	f.mu.RUnlock()
	if !ok {
		return crawler.FetchOutcome{}, &crawler.FetchError{StatusCode: http.StatusNotFound, Err: fmt.Errorf("%s not in archive", task.URL)}
	}
	status, header, body, err := rec.Response()
	if err != nil {
		return crawler.FetchOutcome{}, &crawler.FetchError{Err: err}
	}
	outcome := crawler.FetchOutcome{
		URL:         task.URL,
		StatusCode:  status,
		Headers:     header,
		Body:        body,
		ContentType: header.Get("Content-Type"),
	}
	if statusErr := crawler.CheckStatus(status, 0); statusErr != nil {
		return outcome, fmt.Errorf("replay %s: %w", task.URL, statusErr)
	}
	return outcome, nil
}
