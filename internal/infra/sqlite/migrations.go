package sqlite

// ─── Schema ─────────────────────────────────────────────────────────────────
// Timestamps are INTEGER unix milliseconds (UTC). Calendar dates used for
// daily claims are TEXT "2006-01-02" in the configured economy time zone.

// Migrations returns the schema statements in application order.
// Each string is a single SQL statement. Statement i is schema version i+1;
// append only, never reorder.
func Migrations() []string {
	return []string{
		// 1: Accounts with balance and lifetime stats
		`CREATE TABLE IF NOT EXISTS accounts (
			id                TEXT PRIMARY KEY,
			balance           INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
			episodes_unlocked INTEGER NOT NULL DEFAULT 0,
			credits_spent     INTEGER NOT NULL DEFAULT 0,
			credits_purchased INTEGER NOT NULL DEFAULT 0,
			series_completed  INTEGER NOT NULL DEFAULT 0,
			votes_cast        INTEGER NOT NULL DEFAULT 0,
			created_at        INTEGER NOT NULL
		)`,

		// 2: Append-only credit ledger
		`CREATE TABLE IF NOT EXISTS transactions (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id    TEXT NOT NULL REFERENCES accounts(id),
			kind          TEXT NOT NULL CHECK (kind IN ('purchase', 'spend', 'bonus')),
			amount        INTEGER NOT NULL,
			balance_after INTEGER NOT NULL CHECK (balance_after >= 0),
			description   TEXT NOT NULL DEFAULT '',
			metadata      TEXT NOT NULL DEFAULT '{}',
			created_at    INTEGER NOT NULL
		)`,
		// 3
		`CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id, created_at)`,

		// 4: Entitlements, one per (account, episode)
		`CREATE TABLE IF NOT EXISTS entitlements (
			account_id TEXT NOT NULL REFERENCES accounts(id),
			series_id  TEXT NOT NULL,
			episode    INTEGER NOT NULL CHECK (episode >= 1),
			cost       INTEGER NOT NULL DEFAULT 0,
			granted_at INTEGER NOT NULL,
			PRIMARY KEY (account_id, series_id, episode)
		)`,

		// 5: Activity log
		`CREATE TABLE IF NOT EXISTS activity_events (
			id         TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id),
			type       TEXT NOT NULL,
			metadata   TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL
		)`,
		// 6
		`CREATE INDEX IF NOT EXISTS idx_activity_account_type ON activity_events(account_id, type, created_at)`,

		// 7: Achievement awards, one per (account, achievement)
		`CREATE TABLE IF NOT EXISTS achievement_awards (
			account_id     TEXT NOT NULL REFERENCES accounts(id),
			achievement_id TEXT NOT NULL,
			earned_at      INTEGER NOT NULL,
			notified       INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (account_id, achievement_id)
		)`,

		// 8: Contests
		`CREATE TABLE IF NOT EXISTS contests (
			id               TEXT PRIMARY KEY,
			title            TEXT NOT NULL,
			status           TEXT NOT NULL DEFAULT 'draft'
			                 CHECK (status IN ('draft', 'submissions', 'voting', 'ended')),
			submission_start INTEGER NOT NULL DEFAULT 0,
			submission_end   INTEGER NOT NULL DEFAULT 0,
			voting_start     INTEGER NOT NULL DEFAULT 0,
			voting_end       INTEGER NOT NULL DEFAULT 0,
			prizes           TEXT NOT NULL DEFAULT '[]',
			created_at       INTEGER NOT NULL
		)`,

		// 9: Submissions with weighted tallies
		`CREATE TABLE IF NOT EXISTS submissions (
			id            TEXT PRIMARY KEY,
			contest_id    TEXT NOT NULL REFERENCES contests(id),
			author_id     TEXT NOT NULL,
			title         TEXT NOT NULL,
			free_votes    INTEGER NOT NULL DEFAULT 0,
			premium_votes INTEGER NOT NULL DEFAULT 0,
			super_votes   INTEGER NOT NULL DEFAULT 0,
			total_votes   INTEGER NOT NULL DEFAULT 0,
			submitted_at  INTEGER NOT NULL
		)`,
		// 10
		`CREATE INDEX IF NOT EXISTS idx_submissions_rank ON submissions(contest_id, total_votes DESC, submitted_at, id)`,

		// 11: Per-(account, contest) vote allowance and claim streak
		`CREATE TABLE IF NOT EXISTS vote_allowances (
			account_id      TEXT NOT NULL REFERENCES accounts(id),
			contest_id      TEXT NOT NULL REFERENCES contests(id),
			free            INTEGER NOT NULL DEFAULT 0 CHECK (free >= 0),
			premium         INTEGER NOT NULL DEFAULT 0 CHECK (premium >= 0),
			super           INTEGER NOT NULL DEFAULT 0 CHECK (super >= 0),
			last_claim_date TEXT NOT NULL DEFAULT '',
			streak          INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (account_id, contest_id)
		)`,

		// 12: Append-only vote records
		`CREATE TABLE IF NOT EXISTS vote_records (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			contest_id    TEXT NOT NULL REFERENCES contests(id),
			submission_id TEXT NOT NULL REFERENCES submissions(id),
			account_id    TEXT NOT NULL REFERENCES accounts(id),
			tier          TEXT NOT NULL CHECK (tier IN ('free', 'premium', 'super')),
			weight        INTEGER NOT NULL,
			created_at    INTEGER NOT NULL
		)`,
		// 13
		`CREATE INDEX IF NOT EXISTS idx_vote_records_account ON vote_records(account_id, contest_id, created_at)`,

		// 14: Vote package purchases keyed by request id
		`CREATE TABLE IF NOT EXISTS vote_package_purchases (
			request_id    TEXT PRIMARY KEY,
			account_id    TEXT NOT NULL REFERENCES accounts(id),
			contest_id    TEXT NOT NULL REFERENCES contests(id),
			package_id    TEXT NOT NULL,
			price         INTEGER NOT NULL,
			free          INTEGER NOT NULL DEFAULT 0,
			premium       INTEGER NOT NULL DEFAULT 0,
			super         INTEGER NOT NULL DEFAULT 0,
			balance_after INTEGER NOT NULL,
			created_at    INTEGER NOT NULL
		)`,
	}
}
