package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/episodia/episodia/internal/domain"
)

// tierColumns maps a vote tier to the column prefix shared by allowances,
// submission tallies and purchase records.
var tierColumns = map[domain.VoteTier]string{
	domain.TierFree:    "free",
	domain.TierPremium: "premium",
	domain.TierSuper:   "super",
}

// ─── Contests ───────────────────────────────────────────────────────────────

const contestColumns = `id, title, status, submission_start, submission_end,
	voting_start, voting_end, prizes, created_at`

func scanContest(row rowScanner) (domain.Contest, error) {
	var c domain.Contest
	var status, prizes string
	var subStart, subEnd, voteStart, voteEnd, created int64
	err := row.Scan(&c.ID, &c.Title, &status, &subStart, &subEnd, &voteStart, &voteEnd, &prizes, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Contest{}, domain.ErrContestNotFound
	}
	if err != nil {
		return domain.Contest{}, err
	}
	c.Status = domain.ContestStatus(status)
	c.SubmissionStart = fromMillis(subStart)
	c.SubmissionEnd = fromMillis(subEnd)
	c.VotingStart = fromMillis(voteStart)
	c.VotingEnd = fromMillis(voteEnd)
	c.CreatedAt = fromMillis(created)
	if prizes != "" && prizes != "[]" {
		if err := json.Unmarshal([]byte(prizes), &c.Prizes); err != nil {
			return domain.Contest{}, fmt.Errorf("decode prizes: %w", err)
		}
	}
	return c, nil
}

// InsertContest stores a new contest.
func (t *Tx) InsertContest(ctx context.Context, c domain.Contest) error {
	prizes := []byte("[]")
	if len(c.Prizes) > 0 {
		var err error
		if prizes, err = json.Marshal(c.Prizes); err != nil {
			return fmt.Errorf("encode prizes: %w", err)
		}
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO contests (`+contestColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Title, string(c.Status),
		toMillis(c.SubmissionStart), toMillis(c.SubmissionEnd),
		toMillis(c.VotingStart), toMillis(c.VotingEnd),
		string(prizes), toMillis(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert contest: %w", err)
	}
	return nil
}

// Contest reads a contest inside the transaction.
func (t *Tx) Contest(ctx context.Context, id string) (domain.Contest, error) {
	return scanContest(t.tx.QueryRowContext(ctx, `SELECT `+contestColumns+` FROM contests WHERE id = ?`, id))
}

// UpdateContestStatus moves a contest from one status to another.
// Returns false when the contest is no longer in from.
func (t *Tx) UpdateContestStatus(ctx context.Context, id string, from, to domain.ContestStatus) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE contests SET status = ? WHERE id = ? AND status = ?`, string(to), id, string(from))
	if err != nil {
		return false, fmt.Errorf("update contest status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Contest returns one contest.
func (db *DB) Contest(ctx context.Context, id string) (domain.Contest, error) {
	return scanContest(db.db.QueryRowContext(ctx, `SELECT `+contestColumns+` FROM contests WHERE id = ?`, id))
}

// Contests lists all contests, newest first.
func (db *DB) Contests(ctx context.Context) ([]domain.Contest, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT `+contestColumns+` FROM contests ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("query contests: %w", err)
	}
	defer rows.Close()

	var out []domain.Contest
	for rows.Next() {
		c, err := scanContest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ─── Submissions ────────────────────────────────────────────────────────────

// InsertSubmission stores a new contest entry with zero tallies.
func (t *Tx) InsertSubmission(ctx context.Context, s domain.Submission) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO submissions (id, contest_id, author_id, title, submitted_at) VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.ContestID, s.AuthorID, s.Title, toMillis(s.SubmittedAt))
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// AddSubmissionVotes adds weight points to one tier tally and the total of
// a submission in contestID. Returns the new total, or
// domain.ErrSubmissionNotFound.
func (t *Tx) AddSubmissionVotes(ctx context.Context, contestID, submissionID string, tier domain.VoteTier) (int64, error) {
	col, ok := tierColumns[tier]
	if !ok {
		return 0, domain.ErrInvalidTier
	}
	weight := tier.Weight()
	var total int64
	err := t.tx.QueryRowContext(ctx,
		`UPDATE submissions
		 SET `+col+`_votes = `+col+`_votes + ?, total_votes = total_votes + ?
		 WHERE id = ? AND contest_id = ?
		 RETURNING total_votes`,
		weight, weight, submissionID, contestID).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrSubmissionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("tally vote: %w", err)
	}
	return total, nil
}

// Leaderboard returns a contest's submissions ranked by total desc, then
// earliest submission, then id. limit <= 0 returns all.
func (db *DB) Leaderboard(ctx context.Context, contestID string, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.db.QueryContext(ctx,
		`SELECT id, title, author_id, total_votes, free_votes, premium_votes, super_votes, submitted_at
		 FROM submissions
		 WHERE contest_id = ?
		 ORDER BY total_votes DESC, submitted_at ASC, id ASC
		 LIMIT ?`, contestID, limit)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	var out []domain.LeaderboardEntry
	for rows.Next() {
		var e domain.LeaderboardEntry
		var submitted int64
		if err := rows.Scan(&e.SubmissionID, &e.Title, &e.AuthorID, &e.Total,
			&e.FreeVotes, &e.PremiumVotes, &e.SuperVotes, &submitted); err != nil {
			return nil, err
		}
		e.SubmittedAt = fromMillis(submitted)
		e.Rank = len(out) + 1
		out = append(out, e)
	}
	return out, rows.Err()
}

// ─── Vote Allowances ────────────────────────────────────────────────────────

func scanAllowance(row rowScanner, accountID, contestID string) (domain.VoteAllowance, error) {
	a := domain.VoteAllowance{AccountID: accountID, ContestID: contestID}
	err := row.Scan(&a.Remaining.Free, &a.Remaining.Premium, &a.Remaining.Super, &a.LastClaimDate, &a.Streak)
	if errors.Is(err, sql.ErrNoRows) {
		return a, nil
	}
	if err != nil {
		return a, fmt.Errorf("read allowance: %w", err)
	}
	return a, nil
}

const allowanceQuery = `SELECT free, premium, super, last_claim_date, streak
	FROM vote_allowances WHERE account_id = ? AND contest_id = ?`

// Allowance reads an allowance inside the transaction. A missing row is a
// zero allowance.
func (t *Tx) Allowance(ctx context.Context, accountID, contestID string) (domain.VoteAllowance, error) {
	return scanAllowance(t.tx.QueryRowContext(ctx, allowanceQuery, accountID, contestID), accountID, contestID)
}

// ConsumeAllowance decrements one vote of tier if any remain.
// Returns false when the tier is exhausted.
func (t *Tx) ConsumeAllowance(ctx context.Context, accountID, contestID string, tier domain.VoteTier) (bool, error) {
	col, ok := tierColumns[tier]
	if !ok {
		return false, domain.ErrInvalidTier
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE vote_allowances SET `+col+` = `+col+` - 1
		 WHERE account_id = ? AND contest_id = ? AND `+col+` > 0`,
		accountID, contestID)
	if err != nil {
		return false, fmt.Errorf("consume allowance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AddAllowance adds delta to an allowance, creating it if needed.
func (t *Tx) AddAllowance(ctx context.Context, accountID, contestID string, delta domain.VoteCounts) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO vote_allowances (account_id, contest_id, free, premium, super)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(account_id, contest_id) DO UPDATE SET
			free = free + excluded.free,
			premium = premium + excluded.premium,
			super = super + excluded.super`,
		accountID, contestID, delta.Free, delta.Premium, delta.Super)
	if err != nil {
		return fmt.Errorf("add allowance: %w", err)
	}
	return nil
}

// ClaimDaily records a daily claim on day with the resulting streak and adds
// grant to the allowance. It takes effect only if day differs from the
// stored last claim date; returns false otherwise.
func (t *Tx) ClaimDaily(ctx context.Context, accountID, contestID, day string, streak int, grant domain.VoteCounts) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO vote_allowances (account_id, contest_id, free, premium, super, last_claim_date, streak)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(account_id, contest_id) DO UPDATE SET
			free = free + excluded.free,
			premium = premium + excluded.premium,
			super = super + excluded.super,
			last_claim_date = excluded.last_claim_date,
			streak = excluded.streak
		 WHERE vote_allowances.last_claim_date <> excluded.last_claim_date`,
		accountID, contestID, grant.Free, grant.Premium, grant.Super, day, streak)
	if err != nil {
		return false, fmt.Errorf("claim daily: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Allowance returns an account's allowance in a contest.
func (db *DB) Allowance(ctx context.Context, accountID, contestID string) (domain.VoteAllowance, error) {
	return scanAllowance(db.db.QueryRowContext(ctx, allowanceQuery, accountID, contestID), accountID, contestID)
}

// ─── Vote Records ───────────────────────────────────────────────────────────

// InsertVoteRecord appends a vote record and returns its id.
func (t *Tx) InsertVoteRecord(ctx context.Context, r domain.VoteRecord) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO vote_records (contest_id, submission_id, account_id, tier, weight, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ContestID, r.SubmissionID, r.AccountID, string(r.Tier), r.Weight, toMillis(r.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert vote record: %w", err)
	}
	return res.LastInsertId()
}

// VoteRecords lists the votes an account cast in a contest, oldest first.
func (db *DB) VoteRecords(ctx context.Context, contestID, accountID string) ([]domain.VoteRecord, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT id, contest_id, submission_id, account_id, tier, weight, created_at
		 FROM vote_records WHERE contest_id = ? AND account_id = ?
		 ORDER BY created_at, id`, contestID, accountID)
	if err != nil {
		return nil, fmt.Errorf("query vote records: %w", err)
	}
	defer rows.Close()

	var out []domain.VoteRecord
	for rows.Next() {
		var r domain.VoteRecord
		var tier string
		var created int64
		if err := rows.Scan(&r.ID, &r.ContestID, &r.SubmissionID, &r.AccountID, &tier, &r.Weight, &created); err != nil {
			return nil, err
		}
		r.Tier = domain.VoteTier(tier)
		r.CreatedAt = fromMillis(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ─── Vote Package Purchases ─────────────────────────────────────────────────

// PackagePurchase returns the purchase stored under requestID, if any.
func (t *Tx) PackagePurchase(ctx context.Context, requestID string) (domain.VotePackagePurchase, bool, error) {
	var p domain.VotePackagePurchase
	var created int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT request_id, account_id, contest_id, package_id, price, free, premium, super, balance_after, created_at
		 FROM vote_package_purchases WHERE request_id = ?`, requestID).
		Scan(&p.RequestID, &p.AccountID, &p.ContestID, &p.PackageID, &p.Price,
			&p.Votes.Free, &p.Votes.Premium, &p.Votes.Super, &p.BalanceAfter, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return p, false, nil
	}
	if err != nil {
		return p, false, fmt.Errorf("read package purchase: %w", err)
	}
	p.CreatedAt = fromMillis(created)
	return p, true, nil
}

// InsertPackagePurchase records a purchase unless its request id exists.
// Returns true only when this call created the row.
func (t *Tx) InsertPackagePurchase(ctx context.Context, p domain.VotePackagePurchase) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO vote_package_purchases
			(request_id, account_id, contest_id, package_id, price, free, premium, super, balance_after, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(request_id) DO NOTHING`,
		p.RequestID, p.AccountID, p.ContestID, p.PackageID, p.Price,
		p.Votes.Free, p.Votes.Premium, p.Votes.Super, p.BalanceAfter, toMillis(p.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("insert package purchase: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
