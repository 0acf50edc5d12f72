package store

import (
	"context"
	"fmt"
	"time"
)

func (s Store) CountUsageSince(ctx context.Context, userID, model string, since time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM api_usage
WHERE user_id = ? AND model = ? AND used_at >= ?`, userID, model, Time{since.UTC()})
	if err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return count, nil
}

// UsageSince returns usage counts per model recorded at or after since.
func (s Store) UsageSince(ctx context.Context, userID string, since time.Time) (map[string]int, error) {
	var rows []struct {
		Model string `db:"model"`
		Count int    `db:"count"`
	}
	err := s.db.SelectContext(ctx, &rows, `SELECT model, COUNT(*) AS count FROM api_usage
WHERE user_id = ? AND used_at >= ? GROUP BY model`, userID, Time{since.UTC()})
	if err != nil {
		return nil, fmt.Errorf("usage by model: %w", err)
	}
	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[row.Model] = row.Count
	}
	return out, nil
}
