// Package index wraps a bleve full-text index with batched writes, the
// lens-aware query plan, and the stop-word analyzer.
package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
	"github.com/JakeFAU/lenscrawl/internal/metrics"
)

// DefaultBatchSize is the number of pending writes after which Full
// reports true.
const DefaultBatchSize = 2000

var (
	// ErrEmptyDocID is returned when a write has no document id.
	ErrEmptyDocID = errors.New("empty document id")
	// ErrCommit is returned when a staged batch could not be applied. The
	// batch is discarded; its writes are lost.
	ErrCommit = errors.New("index commit failed")
)

// Config selects the index location and analysis.
type Config struct {
	// Path of the on-disk index. Empty keeps the index in memory.
	Path      string
	BatchSize int
	// StopWords overrides EnglishStopWords when non-nil.
	StopWords []string
}

// Hit is one search result.
type Hit struct {
	DocID       string  `json:"doc_id"`
	Score       float64 `json:"score"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	URL         string  `json:"url"`
	Domain      string  `json:"domain"`
}

// Index is safe for concurrent use. Writes share a single pending batch
// guarded by a mutex; searches only see committed batches. The caller owns
// the commit cadence: Full reports when the batch reached its threshold.
type Index struct {
	idx       bleve.Index
	logger    *zap.Logger
	threshold int

	mu      sync.Mutex
	batch   *bleve.Batch
	pending int
}

// Open opens the index at cfg.Path, creating it when missing.
func Open(cfg Config, logger *zap.Logger) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m, err := newMapping(cfg.StopWords)
	if err != nil {
		return nil, err
	}

	var idx bleve.Index
	switch {
	case cfg.Path == "":
		idx, err = bleve.NewMemOnly(m)
	default:
		if _, statErr := os.Stat(cfg.Path); statErr == nil {
			idx, err = bleve.Open(cfg.Path)
		} else {
			idx, err = bleve.New(cfg.Path, m)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open index %q: %w", cfg.Path, err)
	}

	threshold := cfg.BatchSize
	if threshold <= 0 {
		threshold = DefaultBatchSize
	}
	return &Index{
		idx:       idx,
		logger:    logger.Named("index"),
		threshold: threshold,
		batch:     idx.NewBatch(),
	}, nil
}

type indexedFields struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Content     string   `json:"content"`
	URL         string   `json:"url"`
	Domain      string   `json:"domain"`
	Tags        []string `json:"tags"`
}

// Upsert stages doc under docID, replacing any previous version.
func (i *Index) Upsert(docID string, doc crawler.Document) error {
	if docID == "" {
		return ErrEmptyDocID
	}
	tags := make([]string, 0, len(doc.Tags))
	for _, t := range doc.Tags {
		tags = append(tags, t.String())
	}
	fields := indexedFields{
		Title:       doc.Title,
		Description: doc.Description,
		Content:     doc.Content,
		URL:         doc.URL,
		Domain:      doc.Domain,
		Tags:        tags,
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.batch.Index(docID, fields); err != nil {
		return fmt.Errorf("stage document %s: %w", docID, err)
	}
	metrics.ObserveIndexOp("upsert", 1)
	i.pending++
	return nil
}

// DeleteMany stages deletion of ids.
func (i *Index) DeleteMany(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, id := range ids {
		i.batch.Delete(id)
	}
	metrics.ObserveIndexOp("delete", len(ids))
	i.pending += len(ids)
	return nil
}

// Full reports whether the staged batch reached the flush threshold.
func (i *Index) Full() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.pending >= i.threshold
}

// Commit applies every staged write. On failure the batch is dropped and the
// error wraps ErrCommit.
func (i *Index) Commit() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.flushLocked()
}

func (i *Index) flushLocked() error {
	if i.pending == 0 {
		return nil
	}
	start := time.Now()
	if err := i.idx.Batch(i.batch); err != nil {
		dropped := i.pending
		i.batch.Reset()
		i.pending = 0
		i.logger.Error("index batch dropped", zap.Int("operations", dropped), zap.Error(err))
		return fmt.Errorf("%w: %d operations: %w", ErrCommit, dropped, err)
	}
	i.logger.Debug("committed index batch",
		zap.Int("operations", i.pending),
		zap.Duration("duration", time.Since(start)))
	metrics.ObserveIndexOp("commit", 1)
	i.batch.Reset()
	i.pending = 0
	return nil
}

// Pending reports the number of staged writes.
func (i *Index) Pending() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.pending
}

// Search runs the query plan for q, optionally scoped to lenses.
func (i *Index) Search(ctx context.Context, q string, lenses []string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	start := time.Now()
	defer func() { metrics.ObserveSearch(time.Since(start)) }()

	req := bleve.NewSearchRequestOptions(BuildQuery(q, lenses), limit, 0, false)
	req.Fields = []string{FieldTitle, FieldDescription, FieldURL, FieldDomain}
	res, err := i.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", q, err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, m := range res.Hits {
		hits = append(hits, Hit{
			DocID:       m.ID,
			Score:       m.Score,
			Title:       stringField(m.Fields, FieldTitle),
			Description: stringField(m.Fields, FieldDescription),
			URL:         stringField(m.Fields, FieldURL),
			Domain:      stringField(m.Fields, FieldDomain),
		})
	}
	return hits, nil
}

func stringField(fields map[string]interface{}, name string) string {
	if v, ok := fields[name].(string); ok {
		return v
	}
	return ""
}

// Analyze runs text through the text analyzer and returns the surviving
// terms in order.
func (i *Index) Analyze(text string) ([]Token, error) {
	analyzer := i.idx.Mapping().AnalyzerNamed(AnalyzerName)
	if analyzer == nil {
		return nil, fmt.Errorf("analyzer %s not registered", AnalyzerName)
	}
	stream := analyzer.Analyze([]byte(text))
	tokens := make([]Token, 0, len(stream))
	for _, tok := range stream {
		tokens = append(tokens, Token{Term: string(tok.Term), Position: tok.Position})
	}
	return tokens, nil
}

// Token is an analyzed term and its position in the source text.
type Token struct {
	Term     string
	Position int
}

// DocCount returns the number of committed documents.
func (i *Index) DocCount() (uint64, error) {
	n, err := i.idx.DocCount()
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// Close commits pending writes and closes the index.
func (i *Index) Close() error {
	commitErr := i.Commit()
	if err := i.idx.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	return commitErr
}
