package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/layer-3/walletauth/core"
)

type patternsRepo struct {
	db dbtx
}

func (r *patternsRepo) Upsert(ctx context.Context, p core.StoredPattern) error {
	hours, err := json.Marshal(p.Pattern.ActiveHours)
	if err != nil {
		return fmt.Errorf("failed to encode active hours: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO behavior_patterns (user_id, avg_duration_ms, active_hours, session_count, confidence, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			avg_duration_ms = excluded.avg_duration_ms,
			active_hours = excluded.active_hours,
			session_count = excluded.session_count,
			confidence = excluded.confidence,
			updated_at = excluded.updated_at`,
		p.UserID, p.Pattern.AvgDuration.Milliseconds(), string(hours), p.Pattern.SessionCount,
		p.Confidence.String(), p.UpdatedAt.UTC(),
	)
	return mapErr(err)
}

func (r *patternsRepo) Get(ctx context.Context, userID string) (core.StoredPattern, error) {
	var (
		p     core.StoredPattern
		avgMS int64
		hours string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, avg_duration_ms, active_hours, session_count, confidence, updated_at
		FROM behavior_patterns WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &avgMS, &hours, &p.Pattern.SessionCount, &p.Confidence, &p.UpdatedAt)
	if err != nil {
		return core.StoredPattern{}, mapErr(err)
	}

	if err := json.Unmarshal([]byte(hours), &p.Pattern.ActiveHours); err != nil {
		return core.StoredPattern{}, fmt.Errorf("failed to decode active hours: %w", err)
	}
	p.Pattern.AvgDuration = time.Duration(avgMS) * time.Millisecond
	return p, nil
}
