package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/episodia/episodia/internal/domain"
)

// ─── Entitlements ───────────────────────────────────────────────────────────

// InsertEntitlement records a grant unless one already exists for the same
// (account, series, episode). Returns true only when this call created it.
func (t *Tx) InsertEntitlement(ctx context.Context, e domain.Entitlement) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO entitlements (account_id, series_id, episode, cost, granted_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(account_id, series_id, episode) DO NOTHING`,
		e.AccountID, e.Content.SeriesID, e.Content.Episode, e.Cost, toMillis(e.GrantedAt))
	if err != nil {
		return false, fmt.Errorf("insert entitlement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SeriesEpisodes returns the episode numbers of seriesID that accountID holds.
func (t *Tx) SeriesEpisodes(ctx context.Context, accountID, seriesID string) (map[int]bool, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT episode FROM entitlements WHERE account_id = ? AND series_id = ?`,
		accountID, seriesID)
	if err != nil {
		return nil, fmt.Errorf("query series episodes: %w", err)
	}
	defer rows.Close()

	held := make(map[int]bool)
	for rows.Next() {
		var ep int
		if err := rows.Scan(&ep); err != nil {
			return nil, err
		}
		held[ep] = true
	}
	return held, rows.Err()
}

// HasEntitlement reports whether a grant is stored for ref.
func (db *DB) HasEntitlement(ctx context.Context, accountID string, ref domain.ContentRef) (bool, error) {
	var one int
	err := db.db.QueryRowContext(ctx,
		`SELECT 1 FROM entitlements WHERE account_id = ? AND series_id = ? AND episode = ?`,
		accountID, ref.SeriesID, ref.Episode).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup entitlement: %w", err)
	}
	return true, nil
}

// Entitlements lists an account's stored grants, optionally for one series.
func (db *DB) Entitlements(ctx context.Context, accountID, seriesID string) ([]domain.Entitlement, error) {
	query := `SELECT account_id, series_id, episode, cost, granted_at FROM entitlements WHERE account_id = ?`
	args := []any{accountID}
	if seriesID != "" {
		query += ` AND series_id = ?`
		args = append(args, seriesID)
	}
	query += ` ORDER BY series_id, episode`

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entitlements: %w", err)
	}
	defer rows.Close()

	var out []domain.Entitlement
	for rows.Next() {
		var e domain.Entitlement
		var granted int64
		if err := rows.Scan(&e.AccountID, &e.Content.SeriesID, &e.Content.Episode, &e.Cost, &granted); err != nil {
			return nil, err
		}
		e.GrantedAt = fromMillis(granted)
		out = append(out, e)
	}
	return out, rows.Err()
}
