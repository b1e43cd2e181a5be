package sqlite

import (
	"context"
	"fmt"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
)

// InsertLink stores an edge unless (src_url, dst_url) already exists.
func (r *Repository) InsertLink(ctx context.Context, link crawler.Link) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO link (src_domain, src_url, dst_domain, dst_url)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (src_url, dst_url) DO NOTHING
	`, link.SrcDomain, link.SrcURL, link.DstDomain, link.DstURL)
	if err != nil {
		return false, fmt.Errorf("insert link %s -> %s: %w", link.SrcURL, link.DstURL, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert link rows affected: %w", err)
	}
	return affected > 0, nil
}

// HasLink reports whether the edge srcURL -> dstURL is stored.
func (r *Repository) HasLink(ctx context.Context, srcURL, dstURL string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM link WHERE src_url = ? AND dst_url = ?)
	`, srcURL, dstURL).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("look up link %s -> %s: %w", srcURL, dstURL, err)
	}
	return exists, nil
}

// ListLinksFrom returns the edges leaving srcDomain.
func (r *Repository) ListLinksFrom(ctx context.Context, srcDomain string) ([]crawler.Link, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, src_domain, src_url, dst_domain, dst_url
		FROM link WHERE src_domain = ? ORDER BY id
	`, srcDomain)
	if err != nil {
		return nil, fmt.Errorf("list links from %s: %w", srcDomain, err)
	}
	defer rows.Close()
	var links []crawler.Link
	for rows.Next() {
		var l crawler.Link
		if err := rows.Scan(&l.ID, &l.SrcDomain, &l.SrcURL, &l.DstDomain, &l.DstURL); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}
