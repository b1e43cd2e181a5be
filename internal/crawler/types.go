package crawler

import (
	"net/http"
	"strings"
	"time"
)

// TaskStatus is the lifecycle state of a crawl_queue row.
type TaskStatus string

// Task statuses persisted in crawl_queue.status.
const (
	TaskQueued     TaskStatus = "Queued"
	TaskProcessing TaskStatus = "Processing"
	TaskCompleted  TaskStatus = "Completed"
	TaskFailed     TaskStatus = "Failed"
)

// Terminal reports whether no worker will touch the task again without a recrawl.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// CrawlType selects how a task is fetched and how it is prioritized.
type CrawlType string

// Crawl types persisted in crawl_queue.crawl_type.
const (
	CrawlNormal    CrawlType = "Normal"
	CrawlBootstrap CrawlType = "Bootstrap"
)

// TagLabel is the category half of a tag.
type TagLabel string

// Tag labels attached to tasks and documents.
const (
	TagLens     TagLabel = "lens"
	TagSource   TagLabel = "source"
	TagMimeType TagLabel = "mimetype"
	TagType     TagLabel = "type"
)

// Tag associates a task or document with a lens or category.
type Tag struct {
	Label TagLabel `json:"label"`
	Value string   `json:"value"`
}

// String renders the tag as label:value, the form stored in the index.
func (t Tag) String() string {
	return string(t.Label) + ":" + t.Value
}

// ParseTag splits a label:value string.
func ParseTag(raw string) (Tag, bool) {
	label, value, ok := strings.Cut(raw, ":")
	if !ok || label == "" || value == "" {
		return Tag{}, false
	}
	return Tag{Label: TagLabel(label), Value: value}, true
}

// LensTag builds the tag that scopes documents to a lens.
func LensTag(name string) Tag {
	return Tag{Label: TagLens, Value: name}
}

// CrawlTask is one row of the persistent crawl queue.
type CrawlTask struct {
	ID         int64      `json:"id"`
	URL        string     `json:"url"`
	Domain     string     `json:"domain"`
	Status     TaskStatus `json:"status"`
	CrawlType  CrawlType  `json:"crawl_type"`
	Pipeline   string     `json:"pipeline,omitempty"`
	Error      string     `json:"error,omitempty"`
	NumRetries int        `json:"num_retries"`
	NotBefore  *time.Time `json:"not_before,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Tags       []Tag      `json:"tags,omitempty"`
}

// LensNames returns the values of every lens tag on the task.
func (t CrawlTask) LensNames() []string {
	return lensNames(t.Tags)
}

// TaskUpdate describes a conditional state change applied by the queue.
type TaskUpdate struct {
	Status     TaskStatus
	Error      string
	NumRetries int
	NotBefore  *time.Time
	UpdatedAt  time.Time
}

// ResourceRule is a compiled robots.txt directive for one domain.
type ResourceRule struct {
	ID         int64     `json:"id"`
	Domain     string    `json:"domain"`
	RulePath   string    `json:"rule_path"`
	NoIndex    bool      `json:"no_index"`
	AllowCrawl bool      `json:"allow_crawl"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IndexedDocument maps a canonical URL to its index document and content hash.
type IndexedDocument struct {
	ID          int64     `json:"id"`
	URL         string    `json:"url"`
	Domain      string    `json:"domain"`
	DocID       string    `json:"doc_id"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Tags        []Tag     `json:"tags,omitempty"`
}

// Link is a cross-domain edge discovered while parsing.
type Link struct {
	ID        int64  `json:"id"`
	SrcDomain string `json:"src_domain"`
	SrcURL    string `json:"src_url"`
	DstDomain string `json:"dst_domain"`
	DstURL    string `json:"dst_url"`
}

// FetchOutcome is the uniform result of a network, file, or archive fetch.
type FetchOutcome struct {
	URL         string
	StatusCode  int
	Headers     http.Header
	Body        []byte
	ContentType string
	RetryAfter  time.Duration
	Duration    time.Duration
}

// OutcomeKind classifies how a task finished.
type OutcomeKind int

// Outcome kinds accepted by the crawl queue.
const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeTransient
	OutcomePermanent
	// OutcomeSkipped closes a task that policy kept from being fetched.
	OutcomeSkipped
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomePermanent:
		return "permanent"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Outcome is reported to the crawl queue when a worker finishes a task.
type Outcome struct {
	Kind        OutcomeKind
	ContentHash string
	Reason      string
	RetryAfter  time.Duration
}

// Success marks the task Completed.
func Success(contentHash string) Outcome {
	return Outcome{Kind: OutcomeSuccess, ContentHash: contentHash}
}

// Transient requeues the task with backoff until the retry cap is reached.
func Transient(reason string, retryAfter time.Duration) Outcome {
	return Outcome{Kind: OutcomeTransient, Reason: reason, RetryAfter: retryAfter}
}

// Permanent marks the task Failed without retry.
func Permanent(reason string) Outcome {
	return Outcome{Kind: OutcomePermanent, Reason: reason}
}

// Skipped marks the task Completed and keeps reason in its error column.
func Skipped(reason string) Outcome {
	return Outcome{Kind: OutcomeSkipped, Reason: reason}
}

// Document is the canonical representation handed to the indexer.
type Document struct {
	URL         string
	Domain      string
	Title       string
	Description string
	Content     string
	ContentHash string
	Tags        []Tag
}

// LensNames returns the values of every lens tag on the document.
func (d Document) LensNames() []string {
	return lensNames(d.Tags)
}

func lensNames(tags []Tag) []string {
	var out []string
	for _, t := range tags {
		if t.Label == TagLens {
			out = append(out, t.Value)
		}
	}
	return out
}
