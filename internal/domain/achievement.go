package domain

import "time"

// ─── Achievement Types ──────────────────────────────────────────────────────
// Definitions are static and deploy-time; awards are monotonic.

// Rarity is the display tier of an achievement. Cosmetic only.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// CriterionKind tags a Criterion variant.
type CriterionKind string

const (
	CriterionStatThreshold  CriterionKind = "stat_threshold"
	CriterionJoinedBefore   CriterionKind = "joined_before"
	CriterionEventsInWindow CriterionKind = "events_in_window"
)

// Criterion is the condition under which an achievement is earned.
// Implementations are StatThreshold, JoinedBefore and EventsInWindow.
type Criterion interface {
	Kind() CriterionKind
}

// StatThreshold is met when Stats[Stat] >= Min.
type StatThreshold struct {
	Stat string
	Min  int64
}

func (StatThreshold) Kind() CriterionKind { return CriterionStatThreshold }

// JoinedBefore is met when the account was created before Cutoff.
type JoinedBefore struct {
	Cutoff time.Time
}

func (JoinedBefore) Kind() CriterionKind { return CriterionJoinedBefore }

// EventsInWindow is met when any single calendar day within the last
// LookbackDays days holds at least Count events of EventType.
type EventsInWindow struct {
	EventType    ActivityType
	Count        int
	LookbackDays int
}

func (EventsInWindow) Kind() CriterionKind { return CriterionEventsInWindow }

// AchievementDefinition is one entry of the static achievement catalog.
type AchievementDefinition struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Rarity        Rarity    `json:"rarity"`
	RewardCredits int64     `json:"reward_credits"`
	Criterion     Criterion `json:"-"`
}

// AchievementAward records that an account earned an achievement.
// At most one exists per (AccountID, AchievementID) and it is never removed.
type AchievementAward struct {
	AccountID     string    `json:"account_id"`
	AchievementID string    `json:"achievement_id"`
	EarnedAt      time.Time `json:"earned_at"`
	Notified      bool      `json:"notified"`
}

// EarlyAdopterCutoff closes the early adopter achievement.
var EarlyAdopterCutoff = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

// DefaultAchievements returns the deployed achievement catalog.
func DefaultAchievements() []AchievementDefinition {
	return []AchievementDefinition{
		{
			ID:          "first_unlock",
			Name:        "First Steps",
			Description: "Unlock your first episode",
			Rarity:      RarityCommon,
			Criterion:   StatThreshold{Stat: StatEpisodesUnlocked, Min: 1},
		},
		{
			ID:            "collector",
			Name:          "Collector",
			Description:   "Unlock 10 episodes",
			Rarity:        RarityRare,
			RewardCredits: 10,
			Criterion:     StatThreshold{Stat: StatEpisodesUnlocked, Min: 10},
		},
		{
			ID:            "archivist",
			Name:          "Archivist",
			Description:   "Unlock 50 episodes",
			Rarity:        RarityEpic,
			RewardCredits: 50,
			Criterion:     StatThreshold{Stat: StatEpisodesUnlocked, Min: 50},
		},
		{
			ID:          "big_spender",
			Name:        "Big Spender",
			Description: "Spend 1,000 credits",
			Rarity:      RarityRare,
			Criterion:   StatThreshold{Stat: StatCreditsSpent, Min: 1000},
		},
		{
			ID:          "patron",
			Name:        "Patron",
			Description: "Purchase 5,000 credits",
			Rarity:      RarityEpic,
			Criterion:   StatThreshold{Stat: StatCreditsPurchased, Min: 5000},
		},
		{
			ID:            "finisher",
			Name:          "Finisher",
			Description:   "Unlock every episode of a series",
			Rarity:        RarityRare,
			RewardCredits: 20,
			Criterion:     StatThreshold{Stat: StatSeriesCompleted, Min: 1},
		},
		{
			ID:            "completionist",
			Name:          "Completionist",
			Description:   "Complete 10 series",
			Rarity:        RarityLegendary,
			RewardCredits: 200,
			Criterion:     StatThreshold{Stat: StatSeriesCompleted, Min: 10},
		},
		{
			ID:          "first_vote",
			Name:        "Judge",
			Description: "Cast a vote in a contest",
			Rarity:      RarityCommon,
			Criterion:   StatThreshold{Stat: StatVotesCast, Min: 1},
		},
		{
			ID:          "early_adopter",
			Name:        "Early Adopter",
			Description: "Joined before the public launch",
			Rarity:      RarityLegendary,
			Criterion:   JoinedBefore{Cutoff: EarlyAdopterCutoff},
		},
		{
			ID:            "binge_watcher",
			Name:          "Binge Watcher",
			Description:   "Unlock 5 episodes in a single day",
			Rarity:        RarityRare,
			RewardCredits: 15,
			Criterion:     EventsInWindow{EventType: ActivityEpisodeUnlocked, Count: 5, LookbackDays: 30},
		},
		{
			ID:            "marathoner",
			Name:          "Marathoner",
			Description:   "Unlock 20 episodes in a single day",
			Rarity:        RarityLegendary,
			RewardCredits: 100,
			Criterion:     EventsInWindow{EventType: ActivityEpisodeUnlocked, Count: 20, LookbackDays: 30},
		},
	}
}
