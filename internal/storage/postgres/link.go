package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
)

// InsertLink stores an edge unless (src_url, dst_url) already exists.
func (s *Store) InsertLink(ctx context.Context, link crawler.Link) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
INSERT INTO link (src_domain, src_url, dst_domain, dst_url)
VALUES ($1, $2, $3, $4)
ON CONFLICT (src_url, dst_url) DO NOTHING`, link.SrcDomain, link.SrcURL, link.DstDomain, link.DstURL)
	if err != nil {
		return false, fmt.Errorf("insert link %s -> %s: %w", link.SrcURL, link.DstURL, err)
	}
	return tag.RowsAffected() > 0, nil
}

// HasLink reports whether the edge srcURL -> dstURL is stored.
func (s *Store) HasLink(ctx context.Context, srcURL, dstURL string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM link WHERE src_url = $1 AND dst_url = $2)`, srcURL, dstURL).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("look up link %s -> %s: %w", srcURL, dstURL, err)
	}
	return exists, nil
}

// ListLinksFrom returns the edges leaving srcDomain.
func (s *Store) ListLinksFrom(ctx context.Context, srcDomain string) ([]crawler.Link, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, src_domain, src_url, dst_domain, dst_url
FROM link WHERE src_domain = $1 ORDER BY id`, srcDomain)
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
