package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
	"github.com/JakeFAU/lenscrawl/internal/store"
)

const documentColumns = `id, url, domain, doc_id, content_hash, created_at, updated_at`

func scanDocument(row scanner) (crawler.IndexedDocument, error) {
	var (
		doc                  crawler.IndexedDocument
		createdAt, updatedAt string
	)
	if err := row.Scan(&doc.ID, &doc.URL, &doc.Domain, &doc.DocID, &doc.ContentHash, &createdAt, &updatedAt); err != nil {
		return crawler.IndexedDocument{}, err
	}
	var err error
	if doc.CreatedAt, err = parseTime(createdAt, "created_at"); err != nil {
		return crawler.IndexedDocument{}, err
	}
	if doc.UpdatedAt, err = parseTime(updatedAt, "updated_at"); err != nil {
		return crawler.IndexedDocument{}, err
	}
	return doc, nil
}

// GetDocument loads a document row by URL.
func (r *Repository) GetDocument(ctx context.Context, url string) (crawler.IndexedDocument, error) {
	return r.getDocument(ctx, `SELECT `+documentColumns+` FROM indexed_document WHERE url = ?`, url)
}

// GetDocumentByDocID loads a document row by index doc id.
func (r *Repository) GetDocumentByDocID(ctx context.Context, docID string) (crawler.IndexedDocument, error) {
	return r.getDocument(ctx, `SELECT `+documentColumns+` FROM indexed_document WHERE doc_id = ?`, docID)
}

func (r *Repository) getDocument(ctx context.Context, query, arg string) (crawler.IndexedDocument, error) {
	doc, err := scanDocument(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.IndexedDocument{}, store.ErrNotFound
	}
	if err != nil {
		return crawler.IndexedDocument{}, fmt.Errorf("get document: %w", err)
	}
	tags, err := loadTags(ctx, r.db, "document_tag", "indexed_document_id", []int64{doc.ID})
	if err != nil {
		return crawler.IndexedDocument{}, err
	}
	doc.Tags = tags[doc.ID]
	return doc, nil
}

// UpsertDocument inserts or refreshes the row for doc.URL and attaches tags.
func (r *Repository) UpsertDocument(ctx context.Context, doc crawler.IndexedDocument) (crawler.IndexedDocument, error) {
	now := doc.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return crawler.IndexedDocument{}, fmt.Errorf("begin upsert document: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	saved, err := scanDocument(tx.QueryRowContext(ctx, `
		INSERT INTO indexed_document (url, domain, doc_id, content_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (url) DO UPDATE SET
			domain = excluded.domain,
			doc_id = excluded.doc_id,
			content_hash = excluded.content_hash,
			updated_at = excluded.updated_at
		RETURNING `+documentColumns,
		doc.URL, doc.Domain, doc.DocID, doc.ContentHash, formatTime(now), formatTime(now)))
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
	if err := tx.Commit(); err != nil {
		return crawler.IndexedDocument{}, fmt.Errorf("commit upsert document: %w", err)
	}
	saved.Tags = tags[saved.ID]
	return saved, nil
}

// ListDocumentsByDomain returns the rows of a domain without tags.
func (r *Repository) ListDocumentsByDomain(ctx context.Context, domain string) ([]crawler.IndexedDocument, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM indexed_document WHERE domain = ? ORDER BY id`, domain)
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
func (r *Repository) DeleteDocuments(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := `DELETE FROM indexed_document WHERE id IN (` + placeholders(len(ids)) + `)`
	if _, err := r.db.ExecContext(ctx, query, int64Args(ids)...); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

// CountDocuments returns the number of rows.
func (r *Repository) CountDocuments(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM indexed_document`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// CountDocumentsByLens returns document counts per lens tag value.
func (r *Repository) CountDocumentsByLens(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.value, COUNT(*)
		FROM document_tag dt JOIN tags t ON t.id = dt.tag_id
		WHERE t.label = ?
		GROUP BY t.value
	`, string(crawler.TagLens))
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
