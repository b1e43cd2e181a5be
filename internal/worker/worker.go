// Package worker runs one claimed crawl task through policy, fetch, parse,
// index, and link discovery, then reports the outcome to the queue.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
	"github.com/JakeFAU/lenscrawl/internal/docstore"
	"github.com/JakeFAU/lenscrawl/internal/metrics"
	"github.com/JakeFAU/lenscrawl/internal/parser"
	"github.com/JakeFAU/lenscrawl/internal/policy"
	"github.com/JakeFAU/lenscrawl/internal/progress"
	"github.com/JakeFAU/lenscrawl/internal/queue"
)

// Queue is the slice of the crawl queue a worker writes to.
type Queue interface {
	MarkDone(ctx context.Context, id int64, outcome crawler.Outcome) error
	EnqueueAll(ctx context.Context, urls []string, opts queue.Options, filter queue.Filter) (int, error)
}

// RobotsRules returns the stored robots.txt rules of a domain.
type RobotsRules interface {
	Rules(ctx context.Context, scheme, domain string) ([]crawler.ResourceRule, error)
}

// Lenses resolves lens tags into rules and link filters.
type Lenses interface {
	RuleSets(names []string) []*policy.RuleSet
	Filter(names ...string) func(string) bool
	Match(rawURL string) []string
}

// Documents writes parsed pages to the index and document table.
type Documents interface {
	ContentHash(doc crawler.Document) (string, error)
	Index(ctx context.Context, doc crawler.Document) (docstore.Result, error)
}

// Links records cross-domain edges.
type Links interface {
	RecordEdge(ctx context.Context, src, dst string) (bool, error)
}

// Config controls Worker behavior.
type Config struct {
	// FollowLinks enqueues discovered http(s) links that a task lens covers.
	FollowLinks bool
	// BlobPrefix namespaces archived raw pages.
	BlobPrefix string
}

// Deps are the collaborators of a Worker. Queue, Fetcher, Policy and
// Documents are required; the rest may be nil.
type Deps struct {
	Queue     Queue
	Fetcher   crawler.Fetcher
	Policy    *policy.Engine
	Robots    RobotsRules
	Lenses    Lenses
	Documents Documents
	Links     Links
	Blobs     crawler.BlobStore
	Hasher    crawler.Hasher
	Progress  progress.Emitter
}

// Worker processes claimed tasks.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Policy == nil {
		deps.Policy = policy.NewEngine(nil)
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger}
}

// Process runs task to completion and reports the outcome it recorded.
// A task whose outcome cannot be recorded stays Processing until the next
// startup reset.
func (w *Worker) Process(ctx context.Context, task crawler.CrawlTask) crawler.Outcome {
	start := time.Now()
	var fs fetchStats
	outcome := w.run(ctx, task, &fs)
	w.report(task, outcome, fs, time.Since(start))
	if err := w.deps.Queue.MarkDone(ctx, task.ID, outcome); err != nil {
		w.logger.Error("mark done failed",
			zap.Int64("task_id", task.ID),
			zap.String("url", task.URL),
			zap.String("outcome", outcome.Kind.String()),
			zap.Error(err))
	}
	return outcome
}

// fetchStats carries what the fetch step learned into the progress event.
type fetchStats struct {
	status int
	bytes  int64
}

func (w *Worker) report(task crawler.CrawlTask, outcome crawler.Outcome, fs fetchStats, dur time.Duration) {
	if w.deps.Progress == nil {
		return
	}
	evt := progress.Event{
		Stage:       progress.StageTaskDone,
		TaskID:      task.ID,
		Domain:      task.Domain,
		URL:         task.URL,
		Outcome:     outcome.Kind.String(),
		StatusClass: progress.ClassifyStatus(fs.status),
		Bytes:       fs.bytes,
		Dur:         dur,
	}
	if outcome.Kind != crawler.OutcomeSuccess {
		evt.Note = outcome.Reason
	}
	w.deps.Progress.Emit(evt)
}

func (w *Worker) run(ctx context.Context, task crawler.CrawlTask, fs *fetchStats) crawler.Outcome {
	decision, err := w.decide(ctx, task)
	if err != nil {
		w.logger.Warn("robots rules unavailable", zap.String("url", task.URL), zap.Error(err))
		return crawler.Transient(err.Error(), 0)
	}
	metrics.ObservePolicyDecision(decision.String())
	if decision == policy.Deny {
		w.logger.Debug("skipping url denied by policy", zap.String("url", task.URL))
		return crawler.Skipped(crawler.ErrPolicyDenied.Error())
	}

	fetched, err := w.deps.Fetcher.Fetch(ctx, task)
	if err != nil {
		var fe *crawler.FetchError
		if errors.As(err, &fe) {
			fs.status = fe.StatusCode
		}
		outcome := crawler.OutcomeFor(err)
		w.logger.Warn("fetch failed",
			zap.String("url", task.URL),
			zap.String("outcome", outcome.Kind.String()),
			zap.Error(err))
		return outcome
	}

	fs.status, fs.bytes = fetched.StatusCode, int64(len(fetched.Body))

	page, err := parser.Parse(task.URL, formatHint(task.URL, fetched), fetched.Body)
	if err != nil {
		if errors.Is(err, parser.ErrUnsupportedFormat) {
			w.logger.Debug("unsupported format", zap.String("url", task.URL), zap.String("content_type", fetched.ContentType))
		} else {
			w.logger.Warn("parse failed", zap.String("url", task.URL), zap.Error(err))
		}
		return crawler.Permanent(err.Error())
	}

	canonical := crawler.CanonicalURL(task.URL, page.Canonical)
	w.discover(ctx, task, canonical, page.Links)

	if decision == policy.SkipNoIndex {
		w.logger.Debug("fetched for links only", zap.String("url", task.URL))
		return crawler.Success("")
	}

	doc, err := w.document(task, canonical, page)
	if err != nil {
		return crawler.Permanent(err.Error())
	}
	res, err := w.deps.Documents.Index(ctx, doc)
	if err != nil {
		w.logger.Error("index document failed", zap.String("url", canonical), zap.Error(err))
		return crawler.Transient(err.Error(), 0)
	}
	if !res.Unchanged {
		w.archive(ctx, doc, fetched)
	}
	w.logger.Debug("page processed",
		zap.String("url", canonical),
		zap.String("doc_id", res.DocID),
		zap.Bool("unchanged", res.Unchanged))
	return crawler.Success(doc.ContentHash)
}

// decide applies the block list, robots rules, and the rules of every
// lens on the task. With several lenses the least restrictive answer wins.
func (w *Worker) decide(ctx context.Context, task crawler.CrawlTask) (policy.Decision, error) {
	var rules []crawler.ResourceRule
	if w.deps.Robots != nil {
		u, err := url.Parse(task.URL)
		if err != nil {
			return policy.Deny, nil
		}
		rules, err = w.deps.Robots.Rules(ctx, u.Scheme, task.Domain)
		if err != nil {
			return policy.Deny, fmt.Errorf("robots rules for %s: %w", task.Domain, err)
		}
	}

	var ruleSets []*policy.RuleSet
	if w.deps.Lenses != nil {
		ruleSets = w.deps.Lenses.RuleSets(task.LensNames())
	}
	if len(ruleSets) == 0 {
		return w.deps.Policy.IsAllowed(task.URL, nil, rules), nil
	}
	best := policy.Deny
	for _, rs := range ruleSets {
		d := w.deps.Policy.IsAllowed(task.URL, rs, rules)
		if restrictiveness(d) < restrictiveness(best) {
			best = d
		}
	}
	return best, nil
}

func restrictiveness(d policy.Decision) int {
	switch d {
	case policy.Allow:
		return 0
	case policy.SkipNoIndex:
		return 1
	default:
		return 2
	}
}

// discover records cross-domain edges and enqueues links a task lens
// covers.
func (w *Worker) discover(ctx context.Context, task crawler.CrawlTask, pageURL string, links []string) {
	if len(links) == 0 {
		return
	}
	if w.deps.Links != nil {
		for _, link := range links {
			if _, err := w.deps.Links.RecordEdge(ctx, pageURL, link); err != nil {
				w.logger.Debug("record link failed", zap.String("src", pageURL), zap.String("dst", link), zap.Error(err))
			}
		}
	}
	if !w.cfg.FollowLinks || w.deps.Lenses == nil {
		return
	}
	if lenses := task.LensNames(); len(lenses) > 0 {
		w.enqueueLinks(ctx, pageURL, links, lenses, w.deps.Lenses.Filter(lenses...))
		return
	}
	// Untagged parents (local files, plugin seeds) hand each link to the
	// enabled lenses that cover it, so the child carries their rules and tags.
	groups := make(map[string][]string)
	var order []string
	for _, link := range links {
		matched := w.deps.Lenses.Match(link)
		if len(matched) == 0 {
			continue
		}
		sort.Strings(matched)
		key := strings.Join(matched, ",")
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], link)
	}
	for _, key := range order {
		w.enqueueLinks(ctx, pageURL, groups[key], strings.Split(key, ","), nil)
	}
}

func (w *Worker) enqueueLinks(ctx context.Context, pageURL string, links, lenses []string, filter queue.Filter) {
	n, err := w.deps.Queue.EnqueueAll(ctx, links, queue.Options{
		Lenses: lenses,
		Source: "crawl",
	}, filter)
	if err != nil {
		w.logger.Warn("enqueue discovered links failed", zap.String("url", pageURL), zap.Error(err))
		return
	}
	if n > 0 {
		w.logger.Debug("enqueued discovered links", zap.String("url", pageURL), zap.Strings("lenses", lenses), zap.Int("new", n))
	}
}

func (w *Worker) document(task crawler.CrawlTask, canonical string, page parser.Result) (crawler.Document, error) {
	domain, err := crawler.Domain(canonical)
	if err != nil {
		return crawler.Document{}, fmt.Errorf("domain of %s: %w", canonical, err)
	}
	tags := make([]crawler.Tag, 0, len(task.Tags)+1)
	for _, t := range task.Tags {
		if t.Label != crawler.TagMimeType {
			tags = append(tags, t)
		}
	}
	tags = append(tags, crawler.Tag{Label: crawler.TagMimeType, Value: page.Format.String()})
	doc := crawler.Document{
		URL:         canonical,
		Domain:      domain,
		Title:       page.Title,
		Description: page.Description,
		Content:     page.Content,
		Tags:        tags,
	}
	if doc.ContentHash, err = w.deps.Documents.ContentHash(doc); err != nil {
		return crawler.Document{}, err
	}
	return doc, nil
}

// archive stores the raw bytes of a changed page. Failures are logged.
func (w *Worker) archive(ctx context.Context, doc crawler.Document, fetched crawler.FetchOutcome) {
	if w.deps.Blobs == nil || w.deps.Hasher == nil {
		return
	}
	hash, err := w.deps.Hasher.Hash(fetched.Body)
	if err != nil {
		w.logger.Warn("hash raw page failed", zap.String("url", doc.URL), zap.Error(err))
		return
	}
	contentType := fetched.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	uri, err := w.deps.Blobs.PutObject(ctx, w.blobPath(doc.Domain, hash), contentType, bytes.NewReader(fetched.Body))
	if err != nil {
		w.logger.Warn("archive raw page failed", zap.String("url", doc.URL), zap.Error(err))
		return
	}
	w.logger.Debug("archived raw page", zap.String("url", doc.URL), zap.String("blob_uri", uri))
}

func (w *Worker) blobPath(domain, hash string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s", domain, hash)
	}
	return fmt.Sprintf("%s/%s/%s", prefix, domain, hash)
}

// formatHint prefers a recognized content type and falls back to the file
// name at the end of the URL path.
func formatHint(rawURL string, fetched crawler.FetchOutcome) string {
	if ct := fetched.ContentType; ct != "" && parser.Detect(ct, nil) != parser.Unsupported {
		return ct
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fetched.ContentType
	}
	name := path.Base(u.Path)
	if parser.SupportedExtension(name) {
		return name
	}
	return fetched.ContentType
}
