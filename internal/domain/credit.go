package domain

import "time"

// ─── Credit Types ───────────────────────────────────────────────────────────
// These live in domain because they represent core business rules.
// The ledger service is the only writer of Transactions and balances.

// TransactionKind represents the business reason for a credit operation.
type TransactionKind string

const (
	TxPurchase TransactionKind = "purchase"
	TxSpend    TransactionKind = "spend"
	TxBonus    TransactionKind = "bonus"
)

// Valid reports whether k is a known kind.
func (k TransactionKind) Valid() bool {
	switch k {
	case TxPurchase, TxSpend, TxBonus:
		return true
	}
	return false
}

// Transaction is a single immutable row in the credit ledger.
// Amount is signed: negative for spends, positive for purchases and bonuses.
type Transaction struct {
	ID           int64             `json:"id"`
	AccountID    string            `json:"account_id"`
	Kind         TransactionKind   `json:"kind"`
	Amount       int64             `json:"amount"`
	BalanceAfter int64             `json:"balance_after"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Account is the ledger-side view of an identity-provider account.
type Account struct {
	ID        string       `json:"id"`
	Balance   int64        `json:"balance"`
	Stats     AccountStats `json:"stats"`
	CreatedAt time.Time    `json:"created_at"`
}

// AccountStats holds lifetime aggregates maintained alongside the balance.
type AccountStats struct {
	EpisodesUnlocked int64 `json:"episodes_unlocked"`
	CreditsSpent     int64 `json:"credits_spent"`
	CreditsPurchased int64 `json:"credits_purchased"`
	SeriesCompleted  int64 `json:"series_completed"`
	VotesCast        int64 `json:"votes_cast"`
}

// Stat names used by achievement criteria and the store's stat columns.
const (
	StatEpisodesUnlocked = "episodes_unlocked"
	StatCreditsSpent     = "credits_spent"
	StatCreditsPurchased = "credits_purchased"
	StatSeriesCompleted  = "series_completed"
	StatVotesCast        = "votes_cast"
)

// Stats is a named view of aggregate statistics.
type Stats map[string]int64

// Map returns the stats keyed by stat name.
func (s AccountStats) Map() Stats {
	return Stats{
		StatEpisodesUnlocked: s.EpisodesUnlocked,
		StatCreditsSpent:     s.CreditsSpent,
		StatCreditsPurchased: s.CreditsPurchased,
		StatSeriesCompleted:  s.SeriesCompleted,
		StatVotesCast:        s.VotesCast,
	}
}

// ValidStat reports whether name is a maintained stat column.
func ValidStat(name string) bool {
	switch name {
	case StatEpisodesUnlocked, StatCreditsSpent, StatCreditsPurchased, StatSeriesCompleted, StatVotesCast:
		return true
	}
	return false
}
