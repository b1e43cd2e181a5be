// Package docstore keeps the full-text index and the indexed_document table
// in step: content-hash skips, index-first writes, and index-first deletes.
//
// A document row only takes its new content hash once the index commit that
// carries the document succeeded. Until then the row is held in memory, so a
// crash between staging and commit leaves the old hash behind and the next
// crawl of the URL restages it.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
	"github.com/JakeFAU/lenscrawl/internal/store"
)

// ErrIndexWrite wraps failures of the full-text index. The document row is
// never advanced when it is returned.
var ErrIndexWrite = errors.New("index write failed")

// Indexer is the write side of the full-text index.
type Indexer interface {
	Upsert(docID string, doc crawler.Document) error
	DeleteMany(ids []string) error
	Commit() error
	// Full reports whether the staged batch should be committed now.
	Full() bool
}

// Event is published after a document is written or removed.
type Event struct {
	Action string   `json:"action"`
	DocID  string   `json:"doc_id"`
	URL    string   `json:"url"`
	Domain string   `json:"domain"`
	Lenses []string `json:"lenses,omitempty"`
}

// Attributes are routing labels for message brokers.
func (e Event) Attributes() map[string]string {
	return map[string]string{"action": e.Action, "domain": e.Domain}
}

// Event actions.
const (
	ActionIndexed = "indexed"
	ActionDeleted = "deleted"
)

// Result reports what Index did.
type Result struct {
	DocID     string
	Unchanged bool
}

// Store coordinates the index and the document repository.
type Store struct {
	repo   store.DocumentRepository
	index  Indexer
	ids    crawler.IDGenerator
	hasher crawler.Hasher
	clock  crawler.Clock
	logger *zap.Logger

	publisher crawler.Publisher
	topic     string

	// mu orders staging against commits; pending holds rows whose index
	// write is staged but not committed, keyed by URL.
	mu      sync.Mutex
	pending map[string]pendingDoc
}

type pendingDoc struct {
	row    crawler.IndexedDocument
	lenses []string
}

// Option customizes a Store.
type Option func(*Store)

// WithPublisher emits an Event to topic after every write and delete.
func WithPublisher(p crawler.Publisher, topic string) Option {
	return func(s *Store) {
		s.publisher = p
		s.topic = topic
	}
}

// New builds a Store.
func New(repo store.DocumentRepository, index Indexer, ids crawler.IDGenerator, hasher crawler.Hasher, clock crawler.Clock, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		repo:    repo,
		index:   index,
		ids:     ids,
		hasher:  hasher,
		clock:   clock,
		logger:  logger.Named("docstore"),
		pending: make(map[string]pendingDoc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ContentHash digests the indexed fields of doc.
func (s *Store) ContentHash(doc crawler.Document) (string, error) {
	payload := make([]byte, 0, len(doc.Title)+len(doc.Description)+len(doc.Content)+2)
	payload = append(payload, doc.Title...)
	payload = append(payload, 0)
	payload = append(payload, doc.Description...)
	payload = append(payload, 0)
	payload = append(payload, doc.Content...)
	h, err := s.hasher.Hash(payload)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", doc.URL, err)
	}
	return h, nil
}

// Index stages doc in the index unless its content matches what is stored
// or already staged. The row is written by the commit that makes the
// document searchable; Index commits itself once the index batch is full.
func (s *Store) Index(ctx context.Context, doc crawler.Document) (Result, error) {
	hash := doc.ContentHash
	if hash == "" {
		var err error
		if hash, err = s.ContentHash(doc); err != nil {
			return Result{}, err
		}
		doc.ContentHash = hash
	}

	s.mu.Lock()
	staged, isStaged := s.pending[doc.URL]
	s.mu.Unlock()

	var docID string
	if isStaged {
		if staged.row.ContentHash == hash {
			return Result{DocID: staged.row.DocID, Unchanged: true}, nil
		}
		docID = staged.row.DocID
	} else {
		existing, err := s.repo.GetDocument(ctx, doc.URL)
		switch {
		case err == nil:
			if existing.ContentHash == hash {
				s.logger.Debug("content unchanged", zap.String("url", doc.URL))
				return Result{DocID: existing.DocID, Unchanged: true}, nil
			}
			docID = existing.DocID
		case errors.Is(err, store.ErrNotFound):
		default:
			return Result{}, fmt.Errorf("look up document %s: %w", doc.URL, err)
		}
	}
	if docID == "" {
		var err error
		if docID, err = s.ids.NewID(); err != nil {
			return Result{}, fmt.Errorf("new document id: %w", err)
		}
	}

	s.mu.Lock()
	if err := s.index.Upsert(docID, doc); err != nil {
		s.mu.Unlock()
		s.logger.Error("index write failed", zap.String("url", doc.URL), zap.Error(err))
		return Result{}, fmt.Errorf("%w: %s: %w", ErrIndexWrite, doc.URL, err)
	}
	s.pending[doc.URL] = pendingDoc{
		row: crawler.IndexedDocument{
			URL:         doc.URL,
			Domain:      doc.Domain,
			DocID:       docID,
			ContentHash: hash,
			Tags:        doc.Tags,
		},
		lenses: doc.LensNames(),
	}
	var err error
	if s.index.Full() {
		err = s.commitLocked(ctx)
	}
	s.mu.Unlock()
	if errors.Is(err, ErrIndexWrite) {
		return Result{}, err
	}
	return Result{DocID: docID}, nil
}

// Commit makes staged documents searchable and then records their rows. When
// the index commit fails the staged documents are dropped with it; their rows
// keep the previous hash so a recrawl stages them again.
func (s *Store) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(ctx)
}

// Pending reports how many staged documents wait for a commit.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Store) commitLocked(ctx context.Context) error {
	if err := s.index.Commit(); err != nil {
		dropped := len(s.pending)
		clear(s.pending)
		s.logger.Error("index commit failed, staged documents dropped", zap.Int("documents", dropped), zap.Error(err))
		return fmt.Errorf("%w: commit %d documents: %w", ErrIndexWrite, dropped, err)
	}

	var errs []error
	now := s.clock.Now()
	for url, p := range s.pending {
		row := p.row
		row.UpdatedAt = now
		if _, err := s.repo.UpsertDocument(ctx, row); err != nil {
			// The index already holds the document; the row is retried on
			// the next commit.
			s.logger.Error("document row write failed", zap.String("url", url), zap.Error(err))
			errs = append(errs, fmt.Errorf("record document %s: %w", url, err))
			continue
		}
		delete(s.pending, url)
		s.publish(ctx, Event{Action: ActionIndexed, DocID: row.DocID, URL: row.URL, Domain: row.Domain, Lenses: p.lenses})
	}
	return errors.Join(errs...)
}

// Get returns the row for url or store.ErrNotFound.
func (s *Store) Get(ctx context.Context, url string) (crawler.IndexedDocument, error) {
	doc, err := s.repo.GetDocument(ctx, url)
	if err != nil {
		return crawler.IndexedDocument{}, fmt.Errorf("get document %s: %w", url, err)
	}
	return doc, nil
}

// Delete removes one document by index id.
func (s *Store) Delete(ctx context.Context, docID string) error {
	doc, err := s.repo.GetDocumentByDocID(ctx, docID)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", docID, err)
	}
	return s.remove(ctx, []crawler.IndexedDocument{doc})
}

// DeleteDomain removes every document of domain and returns how many went.
func (s *Store) DeleteDomain(ctx context.Context, domain string) (int, error) {
	docs, err := s.repo.ListDocumentsByDomain(ctx, domain)
	if err != nil {
		return 0, fmt.Errorf("list documents of %s: %w", domain, err)
	}
	if err := s.remove(ctx, docs); err != nil {
		return 0, err
	}
	return len(docs), nil
}

// DeleteURLs removes the documents stored under urls. Unknown URLs are
// ignored.
func (s *Store) DeleteURLs(ctx context.Context, urls []string) (int, error) {
	var docs []crawler.IndexedDocument
	for _, u := range urls {
		doc, err := s.repo.GetDocument(ctx, u)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("look up document %s: %w", u, err)
		}
		docs = append(docs, doc)
	}
	if err := s.remove(ctx, docs); err != nil {
		return 0, err
	}
	return len(docs), nil
}

// remove deletes from the index, commits, then deletes the rows.
func (s *Store) remove(ctx context.Context, docs []crawler.IndexedDocument) error {
	if len(docs) == 0 {
		return nil
	}
	docIDs := make([]string, 0, len(docs))
	rowIDs := make([]int64, 0, len(docs))
	for _, d := range docs {
		docIDs = append(docIDs, d.DocID)
		rowIDs = append(rowIDs, d.ID)
	}
	s.mu.Lock()
	if err := s.index.DeleteMany(docIDs); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: delete %d documents: %w", ErrIndexWrite, len(docIDs), err)
	}
	for _, d := range docs {
		delete(s.pending, d.URL)
	}
	err := s.commitLocked(ctx)
	s.mu.Unlock()
	if errors.Is(err, ErrIndexWrite) {
		return fmt.Errorf("commit deletes: %w", err)
	}
	if err != nil {
		s.logger.Warn("staged rows not recorded during delete", zap.Error(err))
	}
	if err := s.repo.DeleteDocuments(ctx, rowIDs); err != nil {
		return fmt.Errorf("delete document rows: %w", err)
	}
	for _, d := range docs {
		s.publish(ctx, Event{Action: ActionDeleted, DocID: d.DocID, URL: d.URL, Domain: d.Domain})
	}
	s.logger.Info("deleted documents", zap.Int("count", len(docs)))
	return nil
}

func (s *Store) publish(ctx context.Context, ev Event) {
	if s.publisher == nil {
		return
	}
	if _, err := s.publisher.Publish(ctx, s.topic, ev); err != nil {
		s.logger.Warn("publish document event", zap.String("action", ev.Action), zap.String("url", ev.URL), zap.Error(err))
	}
}
