package domain

import (
	"fmt"
	"strings"
	"time"
)

// ─── Content & Entitlement Types ────────────────────────────────────────────

// ContentRef identifies one episode of a series.
type ContentRef struct {
	SeriesID string `json:"series_id"`
	Episode  int    `json:"episode"`
}

// String formats the reference as "series/episode".
func (r ContentRef) String() string {
	return fmt.Sprintf("%s/%d", r.SeriesID, r.Episode)
}

// Validate checks that the reference names a real episode slot.
func (r ContentRef) Validate() error {
	if strings.TrimSpace(r.SeriesID) == "" || r.Episode < 1 {
		return fmt.Errorf("%w: %q", ErrInvalidContent, r.String())
	}
	return nil
}

// FirstEpisode reports whether r is the opening episode of its series.
// Opening episodes are always free and always reported unlocked.
func (r ContentRef) FirstEpisode() bool {
	return r.Episode == 1
}

// Entitlement is a standing grant of access to one episode for one account.
type Entitlement struct {
	AccountID string     `json:"account_id"`
	Content   ContentRef `json:"content"`
	Cost      int64      `json:"cost"`
	GrantedAt time.Time  `json:"granted_at"`
}

// UnlockResult is the outcome of an unlock request.
// AlreadyUnlocked distinguishes an idempotent replay from a fresh grant.
type UnlockResult struct {
	Granted         bool  `json:"granted"`
	AlreadyUnlocked bool  `json:"already_unlocked"`
	BalanceAfter    int64 `json:"balance_after"`
	SeriesCompleted bool  `json:"series_completed,omitempty"`
}
