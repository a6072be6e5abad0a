// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture and depends on nothing.
package domain

import (
	"context"
	"time"
)

// ─── Collaborator Interfaces ────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// ContentCatalog is the read-only content lookup owned outside this core.
type ContentCatalog interface {
	// IsFree reports whether ref is free or promotionally flagged.
	IsFree(ref ContentRef) bool

	// EpisodeCount returns the number of episodes in a series, or 0 if unknown.
	EpisodeCount(seriesID string) int

	// Cost returns the unlock price of ref in credits.
	Cost(ref ContentRef) (int64, error)
}

// LeaderboardCache stores computed contest leaderboards.
//
// Every Invalidate bumps the contest's generation. A miss from Get reports
// the generation it observed (ok=false, nil error), and Set stores only if
// the generation is still the same, so a leaderboard read before a vote can
// never be cached after that vote's invalidation.
type LeaderboardCache interface {
	Get(ctx context.Context, contestID string, limit int) (entries []LeaderboardEntry, gen uint64, ok bool, err error)
	Set(ctx context.Context, contestID string, limit int, gen uint64, entries []LeaderboardEntry) (stored bool, err error)
	Invalidate(ctx context.Context, contestID string) error
}

// Clock returns the current time. Services take one so tests can pin "today".
type Clock func() time.Time

// AchievementEvaluator re-checks an account's achievements after a write.
// Services call it after commit and treat failures as non-fatal.
type AchievementEvaluator interface {
	EvaluateAccount(ctx context.Context, accountID string) ([]string, error)
}
