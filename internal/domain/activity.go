package domain

import "time"

// ActivityType names a discrete account action recorded in the activity log.
type ActivityType string

const (
	ActivityEpisodeUnlocked      ActivityType = "episode_unlocked"
	ActivityCreditsPurchased     ActivityType = "credits_purchased"
	ActivityCreditsSpent         ActivityType = "credits_spent"
	ActivityAchievementEarned    ActivityType = "achievement_earned"
	ActivityVoteCast             ActivityType = "vote_cast"
	ActivityDailyVoteClaimed     ActivityType = "daily_vote_claimed"
	ActivityVotePackagePurchased ActivityType = "vote_package_purchased"
)

// ActivityEvent is an append-only record of one account action.
// It is the only source for time-windowed achievement criteria.
type ActivityEvent struct {
	ID        string            `json:"id"`
	AccountID string            `json:"account_id"`
	Type      ActivityType      `json:"type"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// DayKey returns the calendar date of t in loc as "2006-01-02".
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(time.DateOnly)
}

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}
