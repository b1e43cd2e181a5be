package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
)

const insertRuleSQL = `
INSERT INTO resource_rules (domain, rule_path, no_index, allow_crawl, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (domain, rule_path) DO UPDATE SET
	no_index = EXCLUDED.no_index,
	allow_crawl = EXCLUDED.allow_crawl,
	updated_at = EXCLUDED.updated_at`

// InsertResourceRule upserts a rule on (domain, rule_path).
func (s *Store) InsertResourceRule(ctx context.Context, rule crawler.ResourceRule) error {
	now := rule.UpdatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if _, err := s.pool.Exec(ctx, insertRuleSQL, rule.Domain, rule.RulePath, rule.NoIndex, rule.AllowCrawl, now); err != nil {
		return fmt.Errorf("insert resource rule %s%s: %w", rule.Domain, rule.RulePath, err)
	}
	return nil
}

// FindResourceRules returns the rules of a domain ordered by path.
func (s *Store) FindResourceRules(ctx context.Context, domain string) ([]crawler.ResourceRule, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, domain, rule_path, no_index, allow_crawl, created_at, updated_at
FROM resource_rules WHERE domain = $1 ORDER BY rule_path, id`, domain)
	if err != nil {
		return nil, fmt.Errorf("find resource rules for %s: %w", domain, err)
	}
	defer rows.Close()
	var rules []crawler.ResourceRule
	for rows.Next() {
		var rule crawler.ResourceRule
		if err := rows.Scan(&rule.ID, &rule.Domain, &rule.RulePath, &rule.NoIndex, &rule.AllowCrawl,
			&rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan resource rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// DeleteResourceRules removes the rules of a domain.
func (s *Store) DeleteResourceRules(ctx context.Context, domain string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM resource_rules WHERE domain = $1`, domain); err != nil {
		return fmt.Errorf("delete resource rules for %s: %w", domain, err)
	}
	return nil
}
