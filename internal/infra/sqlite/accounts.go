package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/episodia/episodia/internal/domain"
)

// ─── Accounts & Ledger ──────────────────────────────────────────────────────

// statColumns maps stat names to their accounts column. Only names in this
// map are ever interpolated into SQL.
var statColumns = map[string]string{
	domain.StatEpisodesUnlocked: "episodes_unlocked",
	domain.StatCreditsSpent:     "credits_spent",
	domain.StatCreditsPurchased: "credits_purchased",
	domain.StatSeriesCompleted:  "series_completed",
	domain.StatVotesCast:        "votes_cast",
}

const accountColumns = `id, balance, episodes_unlocked, credits_spent, credits_purchased,
	series_completed, votes_cast, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (domain.Account, error) {
	var a domain.Account
	var created int64
	err := row.Scan(&a.ID, &a.Balance, &a.Stats.EpisodesUnlocked, &a.Stats.CreditsSpent,
		&a.Stats.CreditsPurchased, &a.Stats.SeriesCompleted, &a.Stats.VotesCast, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	if err != nil {
		return domain.Account{}, err
	}
	a.CreatedAt = fromMillis(created)
	return a, nil
}

// CreateAccount inserts an account with a zero balance.
// Returns false when the account already exists.
func (t *Tx) CreateAccount(ctx context.Context, id string, createdAt time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO accounts (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		id, toMillis(createdAt))
	if err != nil {
		return false, fmt.Errorf("insert account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Account reads one account inside the transaction.
func (t *Tx) Account(ctx context.Context, id string) (domain.Account, error) {
	return scanAccount(t.tx.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
}

// AccountExists reports whether id has been provisioned.
func (t *Tx) AccountExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(ctx, `SELECT 1 FROM accounts WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup account: %w", err)
	}
	return true, nil
}

// ApplyDelta adds delta to the account balance and appends the matching
// transaction row with its balance_after. A delta that would drive the
// balance negative fails with *domain.InsufficientCreditsError and writes
// nothing.
func (t *Tx) ApplyDelta(ctx context.Context, entry domain.Transaction) (domain.Transaction, error) {
	var balance int64
	err := t.tx.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = ?`, entry.AccountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Transaction{}, domain.ErrAccountNotFound
	}
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("read balance: %w", err)
	}

	next := balance + entry.Amount
	if next < 0 {
		return domain.Transaction{}, &domain.InsufficientCreditsError{Balance: balance, Required: -entry.Amount}
	}

	if _, err := t.tx.ExecContext(ctx,
		`UPDATE accounts SET balance = ? WHERE id = ?`, next, entry.AccountID); err != nil {
		return domain.Transaction{}, fmt.Errorf("update balance: %w", err)
	}

	meta, err := encodeMetadata(entry.Metadata)
	if err != nil {
		return domain.Transaction{}, err
	}
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO transactions (account_id, kind, amount, balance_after, description, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.AccountID, string(entry.Kind), entry.Amount, next, entry.Description, meta, toMillis(entry.CreatedAt))
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Transaction{}, err
	}

	entry.ID = id
	entry.BalanceAfter = next
	return entry, nil
}

// BumpStat adds by to one of the account's stat counters.
func (t *Tx) BumpStat(ctx context.Context, accountID, stat string, by int64) error {
	col, ok := statColumns[stat]
	if !ok {
		return fmt.Errorf("unknown stat %q", stat)
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE accounts SET `+col+` = `+col+` + ? WHERE id = ?`, by, accountID)
	if err != nil {
		return fmt.Errorf("bump %s: %w", stat, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// ─── Ledger Reads ───────────────────────────────────────────────────────────

// Account returns an account with its balance and stats.
func (db *DB) Account(ctx context.Context, id string) (domain.Account, error) {
	return scanAccount(db.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
}

// Balance returns the current balance of an account.
func (db *DB) Balance(ctx context.Context, id string) (int64, error) {
	var balance int64
	err := db.db.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = ?`, id).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrAccountNotFound
	}
	return balance, err
}

// Transactions returns an account's transactions at or after since, newest
// first. A zero since returns the full history; limit <= 0 means no limit.
func (db *DB) Transactions(ctx context.Context, accountID string, since time.Time, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.db.QueryContext(ctx,
		`SELECT id, account_id, kind, amount, balance_after, description, metadata, created_at
		 FROM transactions
		 WHERE account_id = ? AND created_at >= ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		accountID, toMillis(since), limit)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var kind, meta string
		var created int64
		if err := rows.Scan(&tx.ID, &tx.AccountID, &kind, &tx.Amount, &tx.BalanceAfter,
			&tx.Description, &meta, &created); err != nil {
			return nil, err
		}
		tx.Kind = domain.TransactionKind(kind)
		tx.Metadata = decodeMetadata(meta)
		tx.CreatedAt = fromMillis(created)
		out = append(out, tx)
	}
	return out, rows.Err()
}

// LedgerSum returns the account balance and the sum of its transaction
// amounts, read in one snapshot.
func (db *DB) LedgerSum(ctx context.Context, accountID string) (balance, sum int64, err error) {
	err = db.db.QueryRowContext(ctx,
		`SELECT a.balance, COALESCE((SELECT SUM(amount) FROM transactions WHERE account_id = a.id), 0)
		 FROM accounts a WHERE a.id = ?`, accountID).Scan(&balance, &sum)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, domain.ErrAccountNotFound
	}
	return balance, sum, err
}
