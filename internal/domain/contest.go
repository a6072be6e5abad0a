package domain

import (
	"fmt"
	"time"
)

// ─── Contest & Voting Types ─────────────────────────────────────────────────
// Contests run draft → submissions → voting → ended. Votes come in three
// weighted tiers and are spent from a per-(account, contest) allowance.

// ContestStatus is the lifecycle state of a contest.
type ContestStatus string

const (
	ContestDraft       ContestStatus = "draft"
	ContestSubmissions ContestStatus = "submissions"
	ContestVoting      ContestStatus = "voting"
	ContestEnded       ContestStatus = "ended"
)

var contestOrder = map[ContestStatus]int{
	ContestDraft:       0,
	ContestSubmissions: 1,
	ContestVoting:      2,
	ContestEnded:       3,
}

// Valid reports whether s is a known status.
func (s ContestStatus) Valid() bool {
	_, ok := contestOrder[s]
	return ok
}

// CanTransition reports whether a contest may move from s to next.
// Transitions only go forward.
func (s ContestStatus) CanTransition(next ContestStatus) bool {
	from, ok := contestOrder[s]
	if !ok {
		return false
	}
	to, ok := contestOrder[next]
	if !ok {
		return false
	}
	return to > from
}

// Prize is one place of a contest's prize structure.
type Prize struct {
	Place   int    `json:"place"`
	Title   string `json:"title"`
	Credits int64  `json:"credits"`
}

// Contest is a voting competition over user submissions.
type Contest struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Status          ContestStatus `json:"status"`
	SubmissionStart time.Time     `json:"submission_start"`
	SubmissionEnd   time.Time     `json:"submission_end"`
	VotingStart     time.Time     `json:"voting_start"`
	VotingEnd       time.Time     `json:"voting_end"`
	Prizes          []Prize       `json:"prizes,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// AcceptingVotes reports whether votes may be cast at now.
// A zero window bound is treated as open.
func (c Contest) AcceptingVotes(now time.Time) bool {
	if c.Status != ContestVoting {
		return false
	}
	if !c.VotingStart.IsZero() && now.Before(c.VotingStart) {
		return false
	}
	if !c.VotingEnd.IsZero() && !now.Before(c.VotingEnd) {
		return false
	}
	return true
}

// Submission is one entry of a contest with its vote tally.
// Per-tier tallies hold weighted points, Total is their sum.
type Submission struct {
	ID           string    `json:"id"`
	ContestID    string    `json:"contest_id"`
	AuthorID     string    `json:"author_id"`
	Title        string    `json:"title"`
	FreeVotes    int64     `json:"free_votes"`
	PremiumVotes int64     `json:"premium_votes"`
	SuperVotes   int64     `json:"super_votes"`
	Total        int64     `json:"total"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// VoteTier is the weight class of a vote.
type VoteTier string

const (
	TierFree    VoteTier = "free"
	TierPremium VoteTier = "premium"
	TierSuper   VoteTier = "super"
)

// Weight returns the tally weight of a tier: free=1, premium=3, super=10.
func (t VoteTier) Weight() int64 {
	switch t {
	case TierFree:
		return 1
	case TierPremium:
		return 3
	case TierSuper:
		return 10
	}
	return 0
}

// ParseVoteTier validates a tier name.
func ParseVoteTier(s string) (VoteTier, error) {
	t := VoteTier(s)
	if t.Weight() == 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTier, s)
	}
	return t, nil
}

// VoteCounts is a count of votes per tier, used both for remaining
// allowances and for allowance deltas.
type VoteCounts struct {
	Free    int `json:"free" toml:"free"`
	Premium int `json:"premium" toml:"premium"`
	Super   int `json:"super" toml:"super"`
}

// Add returns the element-wise sum of c and o.
func (c VoteCounts) Add(o VoteCounts) VoteCounts {
	return VoteCounts{Free: c.Free + o.Free, Premium: c.Premium + o.Premium, Super: c.Super + o.Super}
}

// Total returns the number of votes across tiers.
func (c VoteCounts) Total() int {
	return c.Free + c.Premium + c.Super
}

// Of returns the count for tier t.
func (c VoteCounts) Of(t VoteTier) int {
	switch t {
	case TierFree:
		return c.Free
	case TierPremium:
		return c.Premium
	case TierSuper:
		return c.Super
	}
	return 0
}

// VoteAllowance is an account's remaining votes and claim streak in a contest.
type VoteAllowance struct {
	AccountID     string     `json:"account_id"`
	ContestID     string     `json:"contest_id"`
	Remaining     VoteCounts `json:"remaining"`
	LastClaimDate string     `json:"last_claim_date,omitempty"`
	Streak        int        `json:"streak"`
}

// VoteRecord is an immutable record of one cast vote.
type VoteRecord struct {
	ID           int64     `json:"id"`
	ContestID    string    `json:"contest_id"`
	SubmissionID string    `json:"submission_id"`
	AccountID    string    `json:"account_id"`
	Tier         VoteTier  `json:"tier"`
	Weight       int64     `json:"weight"`
	CreatedAt    time.Time `json:"created_at"`
}

// VotePackage is a purchasable bundle of votes priced in credits.
type VotePackage struct {
	ID    string     `json:"id" toml:"id"`
	Name  string     `json:"name" toml:"name"`
	Price int64      `json:"price" toml:"price"`
	Votes VoteCounts `json:"votes" toml:"votes"`
}

// DefaultVotePackages returns the standard package catalog.
func DefaultVotePackages() []VotePackage {
	return []VotePackage{
		{ID: "starter", Name: "Starter Pack", Price: 100, Votes: VoteCounts{Free: 5, Premium: 2}},
		{ID: "premium", Name: "Premium Pack", Price: 250, Votes: VoteCounts{Premium: 5, Super: 1}},
		{ID: "super", Name: "Super Pack", Price: 600, Votes: VoteCounts{Premium: 5, Super: 5}},
	}
}

// VotePackagePurchase is the stored record of one package purchase,
// keyed by the caller's request id.
type VotePackagePurchase struct {
	RequestID    string     `json:"request_id"`
	AccountID    string     `json:"account_id"`
	ContestID    string     `json:"contest_id"`
	PackageID    string     `json:"package_id"`
	Price        int64      `json:"price"`
	Votes        VoteCounts `json:"votes"`
	BalanceAfter int64      `json:"balance_after"`
	CreatedAt    time.Time  `json:"created_at"`
}

// StreakBonus grants extra votes on every Every-th consecutive claim day.
type StreakBonus struct {
	Every int        `json:"every" toml:"every"`
	Votes VoteCounts `json:"votes" toml:"votes"`
}

// DefaultStreakBonuses returns the daily-claim bonus schedule:
// +1 premium every 3rd consecutive day, +1 super every 7th.
func DefaultStreakBonuses() []StreakBonus {
	return []StreakBonus{
		{Every: 3, Votes: VoteCounts{Premium: 1}},
		{Every: 7, Votes: VoteCounts{Super: 1}},
	}
}

// BonusForStreak sums the bonuses earned by reaching streak.
func BonusForStreak(streak int, schedule []StreakBonus) VoteCounts {
	var out VoteCounts
	if streak <= 0 {
		return out
	}
	for _, b := range schedule {
		if b.Every > 0 && streak%b.Every == 0 {
			out = out.Add(b.Votes)
		}
	}
	return out
}

// DailyClaimVotes is the base grant of every successful daily claim.
var DailyClaimVotes = VoteCounts{Free: 1}

// CastResult is the outcome of a vote.
type CastResult struct {
	Success  bool  `json:"success"`
	NewTotal int64 `json:"new_total"`
}

// ClaimResult is the outcome of a daily vote claim.
// Granted is false when the account already claimed today.
type ClaimResult struct {
	Granted      bool       `json:"granted"`
	StreakLength int        `json:"streak_length"`
	BonusVotes   VoteCounts `json:"bonus_votes"`
}

// PurchaseResult is the outcome of a vote package purchase.
type PurchaseResult struct {
	RequestID    string     `json:"request_id"`
	VotesAdded   VoteCounts `json:"votes_added"`
	BalanceAfter int64      `json:"balance_after"`
	Replayed     bool       `json:"replayed,omitempty"`
}

// LeaderboardEntry is a submission's position in a contest.
type LeaderboardEntry struct {
	Rank         int       `json:"rank"`
	SubmissionID string    `json:"submission_id"`
	Title        string    `json:"title"`
	AuthorID     string    `json:"author_id"`
	Total        int64     `json:"total"`
	FreeVotes    int64     `json:"free_votes"`
	PremiumVotes int64     `json:"premium_votes"`
	SuperVotes   int64     `json:"super_votes"`
	SubmittedAt  time.Time `json:"submitted_at"`
}
