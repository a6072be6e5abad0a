package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/episodia/episodia/internal/domain"
)

// ─── Activity Log ───────────────────────────────────────────────────────────

// AppendActivity appends an event. An empty ID is replaced with a new UUID.
func (t *Tx) AppendActivity(ctx context.Context, ev domain.ActivityEvent) (domain.ActivityEvent, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	meta, err := encodeMetadata(ev.Metadata)
	if err != nil {
		return ev, err
	}
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO activity_events (id, account_id, type, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.AccountID, string(ev.Type), meta, toMillis(ev.CreatedAt)); err != nil {
		return ev, fmt.Errorf("append activity: %w", err)
	}
	return ev, nil
}

// ActivitySince returns events of one type for an account created at or
// after since, oldest first.
func (db *DB) ActivitySince(ctx context.Context, accountID string, typ domain.ActivityType, since time.Time) ([]domain.ActivityEvent, error) {
	return db.queryActivity(ctx,
		`SELECT id, account_id, type, metadata, created_at FROM activity_events
		 WHERE account_id = ? AND type = ? AND created_at >= ?
		 ORDER BY created_at, id`,
		accountID, string(typ), toMillis(since))
}

// RecentActivity returns an account's latest events of any type, newest first.
func (db *DB) RecentActivity(ctx context.Context, accountID string, limit int) ([]domain.ActivityEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	return db.queryActivity(ctx,
		`SELECT id, account_id, type, metadata, created_at FROM activity_events
		 WHERE account_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		accountID, limit)
}

func (db *DB) queryActivity(ctx context.Context, query string, args ...any) ([]domain.ActivityEvent, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	var out []domain.ActivityEvent
	for rows.Next() {
		var ev domain.ActivityEvent
		var typ, meta string
		var created int64
		if err := rows.Scan(&ev.ID, &ev.AccountID, &typ, &meta, &created); err != nil {
			return nil, err
		}
		ev.Type = domain.ActivityType(typ)
		ev.Metadata = decodeMetadata(meta)
		ev.CreatedAt = fromMillis(created)
		out = append(out, ev)
	}
	return out, rows.Err()
}
