package sqlite

import (
	"context"
	"fmt"

	"github.com/episodia/episodia/internal/domain"
)

// ─── Achievement Awards ─────────────────────────────────────────────────────

// InsertAward records an award unless the account already holds it.
// Returns true only when this call created the row.
func (t *Tx) InsertAward(ctx context.Context, a domain.AchievementAward) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO achievement_awards (account_id, achievement_id, earned_at, notified)
		 VALUES (?, ?, ?, 0)
		 ON CONFLICT(account_id, achievement_id) DO NOTHING`,
		a.AccountID, a.AchievementID, toMillis(a.EarnedAt))
	if err != nil {
		return false, fmt.Errorf("insert award: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Awards lists an account's awards in the order they were earned.
func (db *DB) Awards(ctx context.Context, accountID string) ([]domain.AchievementAward, error) {
	return db.queryAwards(ctx,
		`SELECT account_id, achievement_id, earned_at, notified FROM achievement_awards
		 WHERE account_id = ? ORDER BY earned_at, achievement_id`, accountID)
}

// PendingAwards lists awards the account has not been notified of.
func (db *DB) PendingAwards(ctx context.Context, accountID string) ([]domain.AchievementAward, error) {
	return db.queryAwards(ctx,
		`SELECT account_id, achievement_id, earned_at, notified FROM achievement_awards
		 WHERE account_id = ? AND notified = 0 ORDER BY earned_at, achievement_id`, accountID)
}

// MarkAwardNotified sets the notified flag. Returns false when the account
// does not hold the award.
func (db *DB) MarkAwardNotified(ctx context.Context, accountID, achievementID string) (bool, error) {
	res, err := db.db.ExecContext(ctx,
		`UPDATE achievement_awards SET notified = 1 WHERE account_id = ? AND achievement_id = ?`,
		accountID, achievementID)
	if err != nil {
		return false, fmt.Errorf("mark notified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (db *DB) queryAwards(ctx context.Context, query string, args ...any) ([]domain.AchievementAward, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query awards: %w", err)
	}
	defer rows.Close()

	var out []domain.AchievementAward
	for rows.Next() {
		var a domain.AchievementAward
		var earned int64
		var notified int
		if err := rows.Scan(&a.AccountID, &a.AchievementID, &earned, &notified); err != nil {
			return nil, err
		}
		a.EarnedAt = fromMillis(earned)
		a.Notified = notified == 1
		out = append(out, a)
	}
	return out, rows.Err()
}
