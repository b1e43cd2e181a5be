package store

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// StatusCount is one row of a per-lens queue breakdown.
type StatusCount struct {
	Lens   string             `json:"lens"`
	Status crawler.TaskStatus `json:"status"`
	Count  int64              `json:"count"`
}

// TaskRepository persists crawl_queue rows and their tags.
type TaskRepository interface {
	// InsertTask adds a Queued row unless the URL already exists. It reports
	// whether a row was inserted; tags are attached either way.
	InsertTask(ctx context.Context, task crawler.CrawlTask) (bool, error)
	// InsertTasks inserts a batch in one transaction and returns how many
	// rows were new.
	InsertTasks(ctx context.Context, tasks []crawler.CrawlTask) (int, error)
	// ClaimTasks flips up to n eligible Queued rows to Processing in a single
	// statement and returns them. Bootstrap rows come first, then the oldest.
	ClaimTasks(ctx context.Context, n int, now time.Time) ([]crawler.CrawlTask, error)
	// GetTask loads a task or returns ErrNotFound.
	GetTask(ctx context.Context, id int64) (crawler.CrawlTask, error)
	// FindTaskByURL loads a task by URL or returns ErrNotFound.
	FindTaskByURL(ctx context.Context, url string) (crawler.CrawlTask, error)
	// TransitionTask applies update only when the row is currently in status
	// from. It reports whether a row changed.
	TransitionTask(ctx context.Context, id int64, from crawler.TaskStatus, update crawler.TaskUpdate) (bool, error)
	// RequeueDomain resets terminal rows of a domain to Queued.
	RequeueDomain(ctx context.Context, domain string, now time.Time) (int64, error)
	// RequeueURL resets a terminal row to Queued.
	RequeueURL(ctx context.Context, url string, now time.Time) (int64, error)
	// ResetProcessing returns orphaned Processing rows to Queued.
	ResetProcessing(ctx context.Context, now time.Time) (int64, error)
	// CountTasks returns the number of rows per status.
	CountTasks(ctx context.Context) (map[crawler.TaskStatus]int64, error)
	// CountTasksByLens returns per-lens, per-status counts.
	CountTasksByLens(ctx context.Context) ([]StatusCount, error)
	// DeleteTasksByDomain removes every row of a domain.
	DeleteTasksByDomain(ctx context.Context, domain string) (int64, error)
}

// RuleRepository persists compiled robots.txt directives.
type RuleRepository interface {
	// InsertResourceRule upserts on (domain, rule_path).
	InsertResourceRule(ctx context.Context, rule crawler.ResourceRule) error
	// FindResourceRules returns every rule stored for domain.
	FindResourceRules(ctx context.Context, domain string) ([]crawler.ResourceRule, error)
	// DeleteResourceRules removes every rule stored for domain.
	DeleteResourceRules(ctx context.Context, domain string) error
}

// DocumentRepository persists indexed_document rows and their tags.
type DocumentRepository interface {
	// GetDocument loads by URL or returns ErrNotFound.
	GetDocument(ctx context.Context, url string) (crawler.IndexedDocument, error)
	// GetDocumentByDocID loads by index doc id or returns ErrNotFound.
	GetDocumentByDocID(ctx context.Context, docID string) (crawler.IndexedDocument, error)
	// UpsertDocument inserts a row or updates doc_id, content_hash and
	// updated_at of the existing row for the URL, then attaches tags.
	UpsertDocument(ctx context.Context, doc crawler.IndexedDocument) (crawler.IndexedDocument, error)
	// ListDocumentsByDomain returns every row of a domain.
	ListDocumentsByDomain(ctx context.Context, domain string) ([]crawler.IndexedDocument, error)
	// DeleteDocuments removes rows by primary key.
	DeleteDocuments(ctx context.Context, ids []int64) error
	// CountDocuments returns the number of indexed documents.
	CountDocuments(ctx context.Context) (int64, error)
	// CountDocumentsByLens returns indexed documents per lens tag.
	CountDocumentsByLens(ctx context.Context) (map[string]int64, error)
}

// LinkRepository persists cross-domain edges.
type LinkRepository interface {
	// InsertLink stores an edge unless it already exists.
	InsertLink(ctx context.Context, link crawler.Link) (bool, error)
	// HasLink reports whether src -> dst is stored.
	HasLink(ctx context.Context, srcURL, dstURL string) (bool, error)
	// ListLinksFrom returns edges leaving srcDomain.
	ListLinksFrom(ctx context.Context, srcDomain string) ([]crawler.Link, error)
}

// Repository is the full persistence surface shared by both backends.
type Repository interface {
	TaskRepository
	RuleRepository
	DocumentRepository
	LinkRepository
	Close() error
}
