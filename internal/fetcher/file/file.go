// Package file fetches file:// crawl tasks from the local disk.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
)

// DefaultMaxBytes caps how much of a file is read.
const DefaultMaxBytes = 64 << 20

// Fetcher implements crawler.Fetcher for file:// URLs.
type Fetcher struct {
	maxBytes int64
}

// New builds a Fetcher. A non-positive maxBytes uses DefaultMaxBytes.
func New(maxBytes int64) *Fetcher {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Fetcher{maxBytes: maxBytes}
}

// Path returns the local path of a file:// URL.
func Path(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", rawURL, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("%q: %w", rawURL, crawler.ErrUnsupportedScheme)
	}
	if u.Path == "" {
		return "", fmt.Errorf("%q has no path", rawURL)
	}
	return u.Path, nil
}

// URLFor builds the file:// URL of a local path.
func URLFor(path string) string {
	return (&url.URL{Scheme: "file", Path: path}).String()
}

// Fetch reads the file. A missing file or a directory is a permanent
// failure; other read errors are transient.
func (f *Fetcher) Fetch(ctx context.Context, task crawler.CrawlTask) (crawler.FetchOutcome, error) {
	if err := ctx.Err(); err != nil {
		return crawler.FetchOutcome{}, fmt.Errorf("fetch %s: %w", task.URL, err)
	}
	path, err := Path(task.URL)
	if err != nil {
		return crawler.FetchOutcome{}, fmt.Errorf("fetch: %w", err)
	}

	start := time.Now()
	fh, err := os.Open(path)
	if err != nil {
		return crawler.FetchOutcome{}, classify(task.URL, err)
	}
	defer fh.Close()

	info, err := fh.Stat()
	if err != nil {
		return crawler.FetchOutcome{}, classify(task.URL, err)
	}
	if info.IsDir() {
		return crawler.FetchOutcome{}, &crawler.FetchError{StatusCode: http.StatusNotFound, Err: fmt.Errorf("%s is a directory", path)}
	}
	if info.Size() > f.maxBytes {
		return crawler.FetchOutcome{}, &crawler.FetchError{Err: fmt.Errorf("%s is %d bytes, limit %d", path, info.Size(), f.maxBytes)}
	}

	body, err := io.ReadAll(io.LimitReader(fh, f.maxBytes))
	if err != nil {
		return crawler.FetchOutcome{}, classify(task.URL, err)
	}
	return crawler.FetchOutcome{
		URL:        task.URL,
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Last-Modified": {info.ModTime().UTC().Format(http.TimeFormat)}},
		Body:       body,
		Duration:   time.Since(start),
	}, nil
}

func classify(rawURL string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &crawler.FetchError{StatusCode: http.StatusNotFound, Err: fmt.Errorf("read %s: %w", rawURL, err)}
	case errors.Is(err, fs.ErrPermission):
		return &crawler.FetchError{StatusCode: http.StatusForbidden, Err: fmt.Errorf("read %s: %w", rawURL, err)}
	default:
		return &crawler.FetchError{Transient: true, Err: fmt.Errorf("read %s: %w", rawURL, err)}
	}
}
