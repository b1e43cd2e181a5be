package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
)

// querier is satisfied by *DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func upsertTag(ctx context.Context, q querier, tag crawler.Tag) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO tags (label, value) VALUES (?, ?)
		ON CONFLICT (label, value) DO UPDATE SET label = excluded.label
		RETURNING id
	`, string(tag.Label), tag.Value).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert tag %s: %w", tag, err)
	}
	return id, nil
}

func attachTags(ctx context.Context, q querier, joinTable, entityColumn string, entityID int64, tags []crawler.Tag) error {
	for _, tag := range tags {
		tagID, err := upsertTag(ctx, q, tag)
		if err != nil {
			return err
		}
		query := fmt.Sprintf(`INSERT INTO %s (%s, tag_id) VALUES (?, ?) ON CONFLICT DO NOTHING`, joinTable, entityColumn)
		if _, err := q.ExecContext(ctx, query, entityID, tagID); err != nil {
			return fmt.Errorf("attach tag %s: %w", tag, err)
		}
	}
	return nil
}

// loadTags returns the tags of every entity in ids keyed by entity id.
func loadTags(ctx context.Context, q querier, joinTable, entityColumn string, ids []int64) (map[int64][]crawler.Tag, error) {
	out := make(map[int64][]crawler.Tag, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query := fmt.Sprintf(`
		SELECT j.%[2]s, t.label, t.value
		FROM %[1]s j JOIN tags t ON t.id = j.tag_id
		WHERE j.%[2]s IN (%[3]s)
		ORDER BY t.label, t.value
	`, joinTable, entityColumn, placeholders(len(ids)))
	rows, err := q.QueryContext(ctx, query, int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("load tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id    int64
			label string
			tag   crawler.Tag
		)
		if err := rows.Scan(&id, &label, &tag.Value); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tag.Label = crawler.TagLabel(label)
		out[id] = append(out[id], tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return out, nil
}
