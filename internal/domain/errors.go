package domain

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure and carry no infrastructure dependency.

var (
	// Ledger errors
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrInvalidKind         = errors.New("invalid transaction kind")
	ErrLedgerMismatch      = errors.New("balance does not match transaction history")

	// Entitlement errors
	ErrInvalidContent = errors.New("invalid content reference")

	// Achievement errors
	ErrAchievementNotFound = errors.New("achievement not found")
	ErrAwardNotFound       = errors.New("achievement not earned")
	ErrUnknownCriterion    = errors.New("no evaluator registered for criterion kind")

	// Voting errors
	ErrContestNotFound    = errors.New("contest not found")
	ErrContestNotVoting   = errors.New("contest is not accepting votes")
	ErrContestClosed      = errors.New("contest has ended")
	ErrSubmissionsClosed  = errors.New("contest is not accepting submissions")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrAllowanceExhausted = errors.New("vote allowance exhausted")
	ErrInvalidTier        = errors.New("invalid vote tier")
	ErrUnknownPackage     = errors.New("unknown vote package")
	ErrRequestIDConflict  = errors.New("request id already used for a different purchase")
	ErrInvalidTransition  = errors.New("invalid contest status transition")

	// Input errors
	ErrInvalidInput = errors.New("invalid input")

	// Store errors
	ErrStoreBusy = errors.New("store is busy, try again")
)

// InsufficientCreditsError reports a debit that would drive a balance negative.
// It matches ErrInsufficientCredits with errors.Is.
type InsufficientCreditsError struct {
	Balance  int64
	Required int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: balance %d, required %d", e.Balance, e.Required)
}

// Is reports whether target is ErrInsufficientCredits.
func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

// Shortfall returns how many credits are missing.
func (e *InsufficientCreditsError) Shortfall() int64 {
	return e.Required - e.Balance
}
