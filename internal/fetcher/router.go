// Package fetcher picks the fetcher that serves a crawl task.
package fetcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
)

// Router dispatches on the task pipeline first and the URL scheme second.
type Router struct {
	web       crawler.Fetcher
	file      crawler.Fetcher
	pipelines map[string]crawler.Fetcher
}

// NewRouter builds a Router. Nil fetchers leave their scheme unsupported.
func NewRouter(web, file crawler.Fetcher) *Router {
	return &Router{web: web, file: file, pipelines: map[string]crawler.Fetcher{}}
}

// Handle routes tasks whose Pipeline equals name to f.
func (r *Router) Handle(name string, f crawler.Fetcher) {
	r.pipelines[name] = f
}

// Fetch implements crawler.Fetcher.
func (r *Router) Fetch(ctx context.Context, task crawler.CrawlTask) (crawler.FetchOutcome, error) {
	if f, ok := r.pipelines[task.Pipeline]; ok && task.Pipeline != "" {
		return f.Fetch(ctx, task)
	}
	scheme, _, _ := strings.Cut(task.URL, ":")
	var f crawler.Fetcher
	switch strings.ToLower(scheme) {
	case "http", "https":
		f = r.web
	case "file":
		f = r.file
	}
	if f == nil {
		return crawler.FetchOutcome{}, fmt.Errorf("fetch %s: %w", task.URL, crawler.ErrUnsupportedScheme)
	}
	return f.Fetch(ctx, task)
}
