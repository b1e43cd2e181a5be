package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
	"github.com/JakeFAU/lenscrawl/internal/store"
)

const documentColumns = `id, url, domain, doc_id, content_hash, created_at, updated_at`

const upsertDocumentSQL = `
INSERT INTO indexed_document (url, domain, doc_id, content_hash, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (url) DO UPDATE SET
	domain = EXCLUDED.domain,
	doc_id = EXCLUDED.doc_id,
	content_hash = EXCLUDED.content_hash,
	updated_at = EXCLUDED.updated_at
RETURNING ` + documentColumns

func scanDocument(row pgx.Row) (crawler.IndexedDocument, error) {
	var doc crawler.IndexedDocument
	err := row.Scan(&doc.ID, &doc.URL, &doc.Domain, &doc.DocID, &doc.ContentHash, &doc.CreatedAt, &doc.UpdatedAt)
	return doc, err
}

// GetDocument loads a document row by URL.
func (s *Store) GetDocument(ctx context.Context, url string) (crawler.IndexedDocument, error) {
	return s.getDocument(ctx, `SELECT `+documentColumns+` FROM indexed_document WHERE url = $1`, url)
}

// GetDocumentByDocID loads a document row by index doc id.
func (s *Store) GetDocumentByDocID(ctx context.Context, docID string) (crawler.IndexedDocument, error) {
	return s.getDocument(ctx, `SELECT `+documentColumns+` FROM indexed_document WHERE doc_id = $1`, docID)
}

func (s *Store) getDocument(ctx context.Context, query, arg string) (crawler.IndexedDocument, error) {
	doc, err := scanDocument(s.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.IndexedDocument{}, store.ErrNotFound
	}
	if err != nil {
		return crawler.IndexedDocument{}, fmt.Errorf("get document: %w", err)
	}
	tags, err := loadTags(ctx, s.pool, "document_tag", "indexed_document_id", []int64{doc.ID})
	if err != nil {
		return crawler.IndexedDocument{}, err
	}
	doc.Tags = tags[doc.ID]
	return doc, nil
}

// UpsertDocument inserts or refreshes the row for doc.URL and attaches tags.
func (s *Store) UpsertDocument(ctx context.Context, doc crawler.IndexedDocument) (crawler.IndexedDocument, error) {
	now := doc.UpdatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return crawler.IndexedDocument{}, fmt.Errorf("begin upsert document: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	saved, err := scanDocument(tx.QueryRow(ctx, upsertDocumentSQL, doc.URL, doc.Domain, doc.DocID, doc.ContentHash, now))
	if err != nil {
		return crawler.IndexedDocument{}, fmt.Errorf("upsert document %s: %w", doc.URL, err)
	}
	if err := attachTags(ctx, tx, "document_tag", "indexed_document_id", saved.ID, doc.Tags); err != nil {
		return crawler.IndexedDocument{}, err
	}
	tags, err := loadTags(ctx, tx, "document_tag", "indexed_document_id", []int64{saved.ID})
	if err != nil {
		return crawler.IndexedDocument{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return crawler.IndexedDocument{}, fmt.Errorf("commit upsert document: %w", err)
	}
	saved.Tags = tags[saved.ID]
	return saved, nil
}

// ListDocumentsByDomain returns the rows of a domain without tags.
func (s *Store) ListDocumentsByDomain(ctx context.Context, domain string) ([]crawler.IndexedDocument, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+documentColumns+` FROM indexed_document WHERE domain = $1 ORDER BY id`, domain)
	if err != nil {
		return nil, fmt.Errorf("list documents for %s: %w", domain, err)
	}
	defer rows.Close()
	var docs []crawler.IndexedDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocuments removes rows by id; tag links cascade.
func (s *Store) DeleteDocuments(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM indexed_document WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

// CountDocuments returns the number of rows.
func (s *Store) CountDocuments(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM indexed_document`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// CountDocumentsByLens returns document counts per lens tag value.
func (s *Store) CountDocumentsByLens(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, `
SELECT t.value, COUNT(*)
FROM document_tag dt JOIN tags t ON t.id = dt.tag_id
WHERE t.label = $1
GROUP BY t.value`, string(crawler.TagLens))
	if err != nil {
		return nil, fmt.Errorf("count documents by lens: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var (
			lens  string
			count int64
		)
		if err := rows.Scan(&lens, &count); err != nil {
			return nil, fmt.Errorf("scan lens document count: %w", err)
		}
		out[lens] = count
	}
	return out, rows.Err()
}
