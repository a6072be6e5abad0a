// Package ledger is the only writer of account balances and the credit
// transaction log.
//
// Every mutation reads the balance, writes the new balance and appends the
// transaction row inside one store transaction, so balance always equals the
// sum of the account's transaction amounts. CreditTx and DebitTx run inside a
// caller's transaction so unlocks and vote purchases compose their own
// writes with the debit atomically.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/episodia/episodia/internal/domain"
	"github.com/episodia/episodia/internal/infra/observability"
	"github.com/episodia/episodia/internal/infra/sqlite"
)

// Config controls ledger behavior.
type Config struct {
	StartingBonus int64 // credits granted when an account is first opened
	HistoryLimit  int   // default page size for History
}

// DefaultConfig returns ledger defaults.
func DefaultConfig() Config {
	return Config{
		StartingBonus: 0,
		HistoryLimit:  100,
	}
}

// Service owns balances and the transaction log.
type Service struct {
	config       Config
	db           *sqlite.DB
	now          domain.Clock
	achievements domain.AchievementEvaluator
}

// New creates a ledger service.
func New(cfg Config, db *sqlite.DB) *Service {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultConfig().HistoryLimit
	}
	return &Service{config: cfg, db: db, now: time.Now}
}

// WithClock replaces the service clock.
func (s *Service) WithClock(c domain.Clock) *Service {
	s.now = c
	return s
}

// SetAchievements wires the evaluator run after credit purchases.
func (s *Service) SetAchievements(ev domain.AchievementEvaluator) {
	s.achievements = ev
}

// ─── Accounts ───────────────────────────────────────────────────────────────

// OpenAccount provisions an account for an identity-provider id. It is
// idempotent: opening an existing account returns it with created=false and
// grants no second starting bonus. A zero createdAt means now.
func (s *Service) OpenAccount(ctx context.Context, id string, createdAt time.Time) (acct domain.Account, created bool, err error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Account{}, false, fmt.Errorf("%w: account id is required", domain.ErrInvalidInput)
	}
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	err = s.db.InTx(ctx, func(tx *sqlite.Tx) error {
		var err error
		created, err = tx.CreateAccount(ctx, id, createdAt)
		if err != nil {
			return err
		}
		if created && s.config.StartingBonus > 0 {
			if _, err := s.CreditTx(ctx, tx, id, s.config.StartingBonus, domain.TxBonus, "welcome bonus", nil); err != nil {
				return err
			}
		}
		acct, err = tx.Account(ctx, id)
		return err
	})
	if err != nil {
		return domain.Account{}, false, fmt.Errorf("open account: %w", err)
	}
	if created {
		log.Printf("[ledger] opened account %s", id)
		if s.config.StartingBonus > 0 {
			observability.CreditsMoved.WithLabelValues(string(domain.TxBonus)).Add(float64(s.config.StartingBonus))
		}
		s.reevaluate(ctx, id)
	}
	return acct, created, nil
}

// Account returns an account with its balance and stats.
func (s *Service) Account(ctx context.Context, id string) (domain.Account, error) {
	return s.db.Account(ctx, id)
}

// Balance returns an account's current balance.
func (s *Service) Balance(ctx context.Context, id string) (int64, error) {
	return s.db.Balance(ctx, id)
}

// ─── Mutations ──────────────────────────────────────────────────────────────

// Credit adds amount to an account as a purchase or bonus and returns the
// new balance.
func (s *Service) Credit(ctx context.Context, accountID string, amount int64, kind domain.TransactionKind, description string, metadata map[string]string) (int64, error) {
	var entry domain.Transaction
	err := s.db.InTx(ctx, func(tx *sqlite.Tx) error {
		var err error
		entry, err = s.CreditTx(ctx, tx, accountID, amount, kind, description, metadata)
		return err
	})
	s.observe("credit", err)
	if err != nil {
		return 0, err
	}
	observability.CreditsMoved.WithLabelValues(string(kind)).Add(float64(amount))
	if kind == domain.TxPurchase {
		s.reevaluate(ctx, accountID)
	}
	return entry.BalanceAfter, nil
}

// Debit spends amount from an account. It fails with
// *domain.InsufficientCreditsError, matching domain.ErrInsufficientCredits,
// when amount exceeds the balance; nothing is written in that case.
func (s *Service) Debit(ctx context.Context, accountID string, amount int64, description string, metadata map[string]string) (domain.Transaction, error) {
	var entry domain.Transaction
	err := s.db.InTx(ctx, func(tx *sqlite.Tx) error {
		var err error
		entry, err = s.DebitTx(ctx, tx, accountID, amount, description, metadata)
		return err
	})
	s.observe("debit", err)
	if err != nil {
		return domain.Transaction{}, err
	}
	observability.CreditsMoved.WithLabelValues(string(domain.TxSpend)).Add(float64(amount))
	s.reevaluate(ctx, accountID)
	return entry, nil
}

// CreditTx is Credit inside the caller's transaction.
func (s *Service) CreditTx(ctx context.Context, tx *sqlite.Tx, accountID string, amount int64, kind domain.TransactionKind, description string, metadata map[string]string) (domain.Transaction, error) {
	if amount <= 0 {
		return domain.Transaction{}, domain.ErrInvalidAmount
	}
	if kind != domain.TxPurchase && kind != domain.TxBonus {
		return domain.Transaction{}, fmt.Errorf("%w: cannot credit as %q", domain.ErrInvalidKind, kind)
	}

	now := s.now()
	entry, err := tx.ApplyDelta(ctx, domain.Transaction{
		AccountID:   accountID,
		Kind:        kind,
		Amount:      amount,
		Description: description,
		Metadata:    metadata,
		CreatedAt:   now,
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	if kind == domain.TxPurchase {
		if err := tx.BumpStat(ctx, accountID, domain.StatCreditsPurchased, amount); err != nil {
			return domain.Transaction{}, err
		}
		if _, err := tx.AppendActivity(ctx, domain.ActivityEvent{
			AccountID: accountID,
			Type:      domain.ActivityCreditsPurchased,
			Metadata:  map[string]string{"amount": fmt.Sprint(amount)},
			CreatedAt: now,
		}); err != nil {
			return domain.Transaction{}, err
		}
	}
	return entry, nil
}

// DebitTx is Debit inside the caller's transaction.
func (s *Service) DebitTx(ctx context.Context, tx *sqlite.Tx, accountID string, amount int64, description string, metadata map[string]string) (domain.Transaction, error) {
	if amount <= 0 {
		return domain.Transaction{}, domain.ErrInvalidAmount
	}

	now := s.now()
	entry, err := tx.ApplyDelta(ctx, domain.Transaction{
		AccountID:   accountID,
		Kind:        domain.TxSpend,
		Amount:      -amount,
		Description: description,
		Metadata:    metadata,
		CreatedAt:   now,
	})
	if err != nil {
		return domain.Transaction{}, err
	}
	if err := tx.BumpStat(ctx, accountID, domain.StatCreditsSpent, amount); err != nil {
		return domain.Transaction{}, err
	}
	if _, err := tx.AppendActivity(ctx, domain.ActivityEvent{
		AccountID: accountID,
		Type:      domain.ActivityCreditsSpent,
		Metadata:  map[string]string{"amount": fmt.Sprint(amount), "description": description},
		CreatedAt: now,
	}); err != nil {
		return domain.Transaction{}, err
	}
	return entry, nil
}

// ─── History & Verification ─────────────────────────────────────────────────

// History returns transactions at or after since, newest first.
// limit <= 0 uses the configured page size.
func (s *Service) History(ctx context.Context, accountID string, since time.Time, limit int) ([]domain.Transaction, error) {
	if _, err := s.db.Balance(ctx, accountID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.config.HistoryLimit
	}
	return s.db.Transactions(ctx, accountID, since, limit)
}

// Verify checks that the stored balance equals the sum of the account's
// transaction amounts.
func (s *Service) Verify(ctx context.Context, accountID string) error {
	balance, sum, err := s.db.LedgerSum(ctx, accountID)
	if err != nil {
		return err
	}
	if balance != sum {
		return fmt.Errorf("%w: balance %d, transactions sum %d", domain.ErrLedgerMismatch, balance, sum)
	}
	return nil
}

func (s *Service) observe(op string, err error) {
	result := "ok"
	switch {
	case errors.Is(err, domain.ErrInsufficientCredits):
		result = "insufficient"
	case err != nil:
		result = "error"
	}
	observability.LedgerOperations.WithLabelValues(op, result).Inc()
}

func (s *Service) reevaluate(ctx context.Context, accountID string) {
	if s.achievements == nil {
		return
	}
	if _, err := s.achievements.EvaluateAccount(ctx, accountID); err != nil {
		observability.AchievementEvalErrors.Inc()
		log.Printf("[ledger] achievement evaluation for %s failed: %v", accountID, err)
	}
}
