package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/lenscrawl/internal/crawler"
)

const upsertTagSQL = `
INSERT INTO tags (label, value) VALUES ($1, $2)
ON CONFLICT (label, value) DO UPDATE SET label = EXCLUDED.label
RETURNING id`

func attachTags(ctx context.Context, q querier, joinTable, entityColumn string, entityID int64, tags []crawler.Tag) error {
	link := fmt.Sprintf(`INSERT INTO %s (%s, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, joinTable, entityColumn)
	for _, tag := range tags {
		var tagID int64
		if err := q.QueryRow(ctx, upsertTagSQL, string(tag.Label), tag.Value).Scan(&tagID); err != nil {
			return fmt.Errorf("upsert tag %s: %w", tag, err)
		}
		if _, err := q.Exec(ctx, link, entityID, tagID); err != nil {
			return fmt.Errorf("attach tag %s: %w", tag, err)
		}
	}
	return nil
}

func loadTags(ctx context.Context, q querier, joinTable, entityColumn string, ids []int64) (map[int64][]crawler.Tag, error) {
	out := make(map[int64][]crawler.Tag, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query := fmt.Sprintf(`
SELECT j.%[2]s, t.label, t.value
FROM %[1]s j JOIN tags t ON t.id = j.tag_id
WHERE j.%[2]s = ANY($1)
ORDER BY t.label, t.value`, joinTable, entityColumn)
	rows, err := q.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("load tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id           int64
			label, value string
		)
		if err := rows.Scan(&id, &label, &value); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out[id] = append(out[id], crawler.Tag{Label: crawler.TagLabel(label), Value: value})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return out, nil
}
