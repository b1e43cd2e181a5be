package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
)

// InsertResourceRule upserts a rule on (domain, rule_path).
func (r *Repository) InsertResourceRule(ctx context.Context, rule crawler.ResourceRule) error {
	now := rule.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO resource_rules (domain, rule_path, no_index, allow_crawl, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (domain, rule_path) DO UPDATE SET
			no_index = excluded.no_index,
			allow_crawl = excluded.allow_crawl,
			updated_at = excluded.updated_at
	`, rule.Domain, rule.RulePath, rule.NoIndex, rule.AllowCrawl, formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("insert resource rule %s%s: %w", rule.Domain, rule.RulePath, err)
	}
	return nil
}

// FindResourceRules returns the rules of a domain ordered by path.
func (r *Repository) FindResourceRules(ctx context.Context, domain string) ([]crawler.ResourceRule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, domain, rule_path, no_index, allow_crawl, created_at, updated_at
		FROM resource_rules
		WHERE domain = ?
		ORDER BY rule_path, id
	`, domain)
	if err != nil {
		return nil, fmt.Errorf("find resource rules for %s: %w", domain, err)
	}
	defer rows.Close()

	var rules []crawler.ResourceRule
	for rows.Next() {
		var (
			rule                 crawler.ResourceRule
			createdAt, updatedAt string
		)
		if err := rows.Scan(&rule.ID, &rule.Domain, &rule.RulePath, &rule.NoIndex, &rule.AllowCrawl,
			&createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan resource rule: %w", err)
		}
		if rule.CreatedAt, err = parseTime(createdAt, "created_at"); err != nil {
			return nil, err
		}
		if rule.UpdatedAt, err = parseTime(updatedAt, "updated_at"); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// DeleteResourceRules removes the rules of a domain.
func (r *Repository) DeleteResourceRules(ctx context.Context, domain string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM resource_rules WHERE domain = ?`, domain); err != nil {
		return fmt.Errorf("delete resource rules for %s: %w", domain, err)
	}
	return nil
}
