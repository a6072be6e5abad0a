// Package voting runs contests: lifecycle, submissions, weighted votes spent
// from per-(account, contest) allowances, daily claims with streak bonuses,
// vote packages bought with credits, and the ranked leaderboard.
//
// Every allowance change is a conditional write inside one store
// transaction: a vote decrements only while the tier count is positive, a
// daily claim applies only when the stored claim date differs from today,
// and a package purchase is keyed by its request id.
package voting

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/episodia/episodia/internal/app/ledger"
	"github.com/episodia/episodia/internal/domain"
	"github.com/episodia/episodia/internal/infra/observability"
	"github.com/episodia/episodia/internal/infra/sqlite"
)

// Config controls voting behavior.
type Config struct {
	// Location defines the calendar day for daily claims.
	Location         *time.Location
	Packages         []domain.VotePackage
	StreakBonuses    []domain.StreakBonus
	LeaderboardLimit int // default and maximum leaderboard size
}

// DefaultConfig returns voting defaults.
func DefaultConfig() Config {
	return Config{
		Location:         time.UTC,
		Packages:         domain.DefaultVotePackages(),
		StreakBonuses:    domain.DefaultStreakBonuses(),
		LeaderboardLimit: 50,
	}
}

// Service runs contests and votes.
type Service struct {
	config       Config
	db           *sqlite.DB
	ledger       *ledger.Service
	cache        domain.LeaderboardCache
	packages     map[string]domain.VotePackage
	now          domain.Clock
	achievements domain.AchievementEvaluator
}

// New creates a voting service. cache may be nil.
func New(cfg Config, db *sqlite.DB, l *ledger.Service, cache domain.LeaderboardCache) *Service {
	def := DefaultConfig()
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if cfg.Packages == nil {
		cfg.Packages = def.Packages
	}
	if cfg.StreakBonuses == nil {
		cfg.StreakBonuses = def.StreakBonuses
	}
	if cfg.LeaderboardLimit <= 0 {
		cfg.LeaderboardLimit = def.LeaderboardLimit
	}
	pkgs := make(map[string]domain.VotePackage, len(cfg.Packages))
	for _, p := range cfg.Packages {
		pkgs[p.ID] = p
	}
	return &Service{config: cfg, db: db, ledger: l, cache: cache, packages: pkgs, now: time.Now}
}

// WithClock replaces the service clock.
func (s *Service) WithClock(c domain.Clock) *Service {
	s.now = c
	return s
}

// SetAchievements wires the evaluator run after votes.
func (s *Service) SetAchievements(ev domain.AchievementEvaluator) {
	s.achievements = ev
}

// ─── Contest Lifecycle ──────────────────────────────────────────────────────

// CreateContest stores a new contest. An empty ID is generated and an empty
// status defaults to draft.
func (s *Service) CreateContest(ctx context.Context, c domain.Contest) (domain.Contest, error) {
	c.Title = strings.TrimSpace(c.Title)
	if c.Title == "" {
		return domain.Contest{}, fmt.Errorf("%w: contest title is required", domain.ErrInvalidInput)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = domain.ContestDraft
	}
	if !c.Status.Valid() {
		return domain.Contest{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTransition, c.Status)
	}
	if err := checkWindow("submission", c.SubmissionStart, c.SubmissionEnd); err != nil {
		return domain.Contest{}, err
	}
	if err := checkWindow("voting", c.VotingStart, c.VotingEnd); err != nil {
		return domain.Contest{}, err
	}
	c.CreatedAt = s.now()

	if err := s.db.InTx(ctx, func(tx *sqlite.Tx) error { return tx.InsertContest(ctx, c) }); err != nil {
		return domain.Contest{}, fmt.Errorf("create contest: %w", err)
	}
	log.Printf("[voting] created contest %s %q status=%s", c.ID, c.Title, c.Status)
	return c, nil
}

func checkWindow(name string, start, end time.Time) error {
	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		return fmt.Errorf("%w: %s window ends before it starts", domain.ErrInvalidInput, name)
	}
	return nil
}

// SetStatus moves a contest forward in its lifecycle.
func (s *Service) SetStatus(ctx context.Context, contestID string, to domain.ContestStatus) (domain.Contest, error) {
	var c domain.Contest
	err := s.db.InTx(ctx, func(tx *sqlite.Tx) error {
		var err error
		c, err = tx.Contest(ctx, contestID)
		if err != nil {
			return err
		}
		if !c.Status.CanTransition(to) {
			return fmt.Errorf("%w: %s → %s", domain.ErrInvalidTransition, c.Status, to)
		}
		ok, err := tx.UpdateContestStatus(ctx, contestID, c.Status, to)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: status changed concurrently", domain.ErrInvalidTransition)
		}
		c.Status = to
		return nil
	})
	if err != nil {
		return domain.Contest{}, err
	}
	log.Printf("[voting] contest %s is now %s", contestID, to)
	s.invalidate(ctx, contestID)
	return c, nil
}

// Contest returns one contest.
func (s *Service) Contest(ctx context.Context, contestID string) (domain.Contest, error) {
	return s.db.Contest(ctx, contestID)
}

// Contests lists all contests, newest first.
func (s *Service) Contests(ctx context.Context) ([]domain.Contest, error) {
	return s.db.Contests(ctx)
}

// Submit enters a submission while the contest accepts submissions.
func (s *Service) Submit(ctx context.Context, contestID, authorID, title string) (domain.Submission, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Submission{}, fmt.Errorf("%w: submission title is required", domain.ErrInvalidInput)
	}
	sub := domain.Submission{ID: uuid.NewString(), ContestID: contestID, AuthorID: authorID, Title: title}
	err := s.db.InTx(ctx, func(tx *sqlite.Tx) error {
		c, err := tx.Contest(ctx, contestID)
		if err != nil {
			return err
		}
		now := s.now()
		if !acceptingSubmissions(c, now) {
			return domain.ErrSubmissionsClosed
		}
		ok, err := tx.AccountExists(ctx, authorID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrAccountNotFound
		}
		sub.SubmittedAt = now
		return tx.InsertSubmission(ctx, sub)
	})
	if err != nil {
		return domain.Submission{}, fmt.Errorf("submit to %s: %w", contestID, err)
	}
	s.invalidate(ctx, contestID)
	return sub, nil
}

func acceptingSubmissions(c domain.Contest, now time.Time) bool {
	if c.Status != domain.ContestSubmissions {
		return false
	}
	if !c.SubmissionStart.IsZero() && now.Before(c.SubmissionStart) {
		return false
	}
	if !c.SubmissionEnd.IsZero() && !now.Before(c.SubmissionEnd) {
		return false
	}
	return true
}

// ─── Voting ─────────────────────────────────────────────────────────────────

// CastVote spends one vote of tier from the account's allowance on a
// submission and adds the tier's weight to its tally. Repeat votes on the
// same submission are allowed while allowance remains.
func (s *Service) CastVote(ctx context.Context, contestID, submissionID, accountID string, tier domain.VoteTier) (domain.CastResult, error) {
	if tier.Weight() == 0 {
		return domain.CastResult{}, fmt.Errorf("%w: %q", domain.ErrInvalidTier, tier)
	}

	var res domain.CastResult
	err := s.db.InTx(ctx, func(tx *sqlite.Tx) error {
		res = domain.CastResult{}
		c, err := tx.Contest(ctx, contestID)
		if err != nil {
			return err
		}
		now := s.now()
		if !c.AcceptingVotes(now) {
			return domain.ErrContestNotVoting
		}
		ok, err := tx.ConsumeAllowance(ctx, accountID, contestID, tier)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: no %s votes left", domain.ErrAllowanceExhausted, tier)
		}
		total, err := tx.AddSubmissionVotes(ctx, contestID, submissionID, tier)
		if err != nil {
			return err
		}
		if _, err := tx.InsertVoteRecord(ctx, domain.VoteRecord{
			ContestID:    contestID,
			SubmissionID: submissionID,
			AccountID:    accountID,
			Tier:         tier,
			Weight:       tier.Weight(),
			CreatedAt:    now,
		}); err != nil {
			return err
		}
		if err := tx.BumpStat(ctx, accountID, domain.StatVotesCast, 1); err != nil {
			return err
		}
		if _, err := tx.AppendActivity(ctx, domain.ActivityEvent{
			AccountID: accountID,
			Type:      domain.ActivityVoteCast,
			Metadata: map[string]string{
				"contest_id":    contestID,
				"submission_id": submissionID,
				"tier":          string(tier),
			},
			CreatedAt: now,
		}); err != nil {
			return err
		}
		res = domain.CastResult{Success: true, NewTotal: total}
		return nil
	})
	if err != nil {
		return domain.CastResult{}, err
	}

	observability.VotesCast.WithLabelValues(string(tier)).Inc()
	s.invalidate(ctx, contestID)
	s.reevaluate(ctx, accountID)
	return res, nil
}

// ClaimDailyVote grants the daily free vote plus any streak bonus. A second
// claim on the same calendar day is a no-op with Granted=false. The streak
// grows when the previous claim was yesterday and restarts at 1 otherwise.
func (s *Service) ClaimDailyVote(ctx context.Context, contestID, accountID string) (domain.ClaimResult, error) {
	var res domain.ClaimResult
	err := s.db.InTx(ctx, func(tx *sqlite.Tx) error {
		res = domain.ClaimResult{}
		if err := s.requireOpen(ctx, tx, contestID, accountID); err != nil {
			return err
		}
		a, err := tx.Allowance(ctx, accountID, contestID)
		if err != nil {
			return err
		}

		now := s.now()
		today := domain.DayKey(now, s.config.Location)
		if a.LastClaimDate == today {
			res = domain.ClaimResult{Granted: false, StreakLength: a.Streak}
			return nil
		}
		yesterday := domain.DayKey(domain.StartOfDay(now, s.config.Location).AddDate(0, 0, -1), s.config.Location)
		streak := 1
		if a.LastClaimDate == yesterday {
			streak = a.Streak + 1
		}
		bonus := domain.BonusForStreak(streak, s.config.StreakBonuses)

		ok, err := tx.ClaimDaily(ctx, accountID, contestID, today, streak, domain.DailyClaimVotes.Add(bonus))
		if err != nil {
			return err
		}
		if !ok {
			res = domain.ClaimResult{Granted: false, StreakLength: a.Streak}
			return nil
		}
		if _, err := tx.AppendActivity(ctx, domain.ActivityEvent{
			AccountID: accountID,
			Type:      domain.ActivityDailyVoteClaimed,
			Metadata: map[string]string{
				"contest_id": contestID,
				"streak":     strconv.Itoa(streak),
			},
			CreatedAt: now,
		}); err != nil {
			return err
		}
		res = domain.ClaimResult{Granted: true, StreakLength: streak, BonusVotes: bonus}
		return nil
	})
	if err != nil {
		return domain.ClaimResult{}, err
	}

	result := "granted"
	if !res.Granted {
		result = "already_claimed"
	}
	observability.DailyClaims.WithLabelValues(result).Inc()
	return res, nil
}

// PurchaseVotePackage debits the package price and adds its votes to the
// allowance in one transaction. requestID is the idempotency key: repeating
// it returns the original result with Replayed=true and charges nothing.
// An empty requestID is generated.
func (s *Service) PurchaseVotePackage(ctx context.Context, contestID, accountID, packageID, requestID string) (domain.PurchaseResult, error) {
	pkg, ok := s.packages[packageID]
	if !ok {
		return domain.PurchaseResult{}, fmt.Errorf("%w: %q", domain.ErrUnknownPackage, packageID)
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	var res domain.PurchaseResult
	err := s.db.InTx(ctx, func(tx *sqlite.Tx) error {
		res = domain.PurchaseResult{}
		prev, found, err := tx.PackagePurchase(ctx, requestID)
		if err != nil {
			return err
		}
		if found {
			if prev.AccountID != accountID || prev.ContestID != contestID || prev.PackageID != packageID {
				return fmt.Errorf("%w: %s", domain.ErrRequestIDConflict, requestID)
			}
			res = domain.PurchaseResult{
				RequestID:    requestID,
				VotesAdded:   prev.Votes,
				BalanceAfter: prev.BalanceAfter,
				Replayed:     true,
			}
			return nil
		}

		if err := s.requireOpen(ctx, tx, contestID, accountID); err != nil {
			return err
		}
		entry, err := s.ledger.DebitTx(ctx, tx, accountID, pkg.Price, "vote package "+pkg.ID,
			map[string]string{"contest_id": contestID, "package_id": pkg.ID, "request_id": requestID})
		if err != nil {
			return err
		}
		if err := tx.AddAllowance(ctx, accountID, contestID, pkg.Votes); err != nil {
			return err
		}
		now := s.now()
		inserted, err := tx.InsertPackagePurchase(ctx, domain.VotePackagePurchase{
			RequestID:    requestID,
			AccountID:    accountID,
			ContestID:    contestID,
			PackageID:    pkg.ID,
			Price:        pkg.Price,
			Votes:        pkg.Votes,
			BalanceAfter: entry.BalanceAfter,
			CreatedAt:    now,
		})
		if err != nil {
			return err
		}
		if !inserted {
			return fmt.Errorf("%w: %s", domain.ErrRequestIDConflict, requestID)
		}
		if _, err := tx.AppendActivity(ctx, domain.ActivityEvent{
			AccountID: accountID,
			Type:      domain.ActivityVotePackagePurchased,
			Metadata:  map[string]string{"contest_id": contestID, "package_id": pkg.ID},
			CreatedAt: now,
		}); err != nil {
			return err
		}
		res = domain.PurchaseResult{RequestID: requestID, VotesAdded: pkg.Votes, BalanceAfter: entry.BalanceAfter}
		return nil
	})
	if err != nil {
		return domain.PurchaseResult{}, err
	}

	result := "purchased"
	if res.Replayed {
		result = "replayed"
	} else {
		observability.CreditsMoved.WithLabelValues(string(domain.TxSpend)).Add(float64(pkg.Price))
		log.Printf("[voting] %s bought %s in %s balance=%d", accountID, pkg.ID, contestID, res.BalanceAfter)
		s.reevaluate(ctx, accountID)
	}
	observability.PackagePurchases.WithLabelValues(pkg.ID, result).Inc()
	return res, nil
}

// requireOpen checks that the contest exists and has not ended and that the
// account is provisioned.
func (s *Service) requireOpen(ctx context.Context, tx *sqlite.Tx, contestID, accountID string) error {
	c, err := tx.Contest(ctx, contestID)
	if err != nil {
		return err
	}
	if c.Status == domain.ContestEnded {
		return domain.ErrContestClosed
	}
	ok, err := tx.AccountExists(ctx, accountID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrAccountNotFound
	}
	return nil
}

// ─── Reads ──────────────────────────────────────────────────────────────────

// Packages returns the vote package catalog.
func (s *Service) Packages() []domain.VotePackage {
	out := make([]domain.VotePackage, len(s.config.Packages))
	copy(out, s.config.Packages)
	return out
}

// Allowance returns the account's remaining votes and streak in a contest.
func (s *Service) Allowance(ctx context.Context, contestID, accountID string) (domain.VoteAllowance, error) {
	if _, err := s.db.Contest(ctx, contestID); err != nil {
		return domain.VoteAllowance{}, err
	}
	return s.db.Allowance(ctx, accountID, contestID)
}

// Votes lists the votes an account cast in a contest.
func (s *Service) Votes(ctx context.Context, contestID, accountID string) ([]domain.VoteRecord, error) {
	return s.db.VoteRecords(ctx, contestID, accountID)
}

// Leaderboard ranks a contest's submissions by weighted total, earliest
// submission first on ties. limit <= 0 uses the configured limit, which is
// also the maximum.
func (s *Service) Leaderboard(ctx context.Context, contestID string, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 || limit > s.config.LeaderboardLimit {
		limit = s.config.LeaderboardLimit
	}
	var gen uint64
	fill := false
	if s.cache != nil {
		entries, g, ok, err := s.cache.Get(ctx, contestID, limit)
		switch {
		case err != nil:
			observability.LeaderboardCache.WithLabelValues("error").Inc()
			log.Printf("[voting] leaderboard cache get %s: %v", contestID, err)
		case ok:
			observability.LeaderboardCache.WithLabelValues("hit").Inc()
			return entries, nil
		default:
			observability.LeaderboardCache.WithLabelValues("miss").Inc()
			gen, fill = g, true
		}
	}

	if _, err := s.db.Contest(ctx, contestID); err != nil {
		return nil, err
	}
	entries, err := s.db.Leaderboard(ctx, contestID, limit)
	if err != nil {
		return nil, err
	}
	if fill {
		// A vote committed after the cache read bumped the generation and
		// the stale fill is dropped.
		if _, err := s.cache.Set(ctx, contestID, limit, gen, entries); err != nil {
			log.Printf("[voting] leaderboard cache set %s: %v", contestID, err)
		}
	}
	return entries, nil
}

func (s *Service) invalidate(ctx context.Context, contestID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, contestID); err != nil {
		log.Printf("[voting] leaderboard cache invalidate %s: %v", contestID, err)
	}
}

func (s *Service) reevaluate(ctx context.Context, accountID string) {
	if s.achievements == nil {
		return
	}
	if _, err := s.achievements.EvaluateAccount(ctx, accountID); err != nil {
		observability.AchievementEvalErrors.Inc()
		log.Printf("[voting] achievement evaluation for %s failed: %v", accountID, err)
	}
}

// IsClientError reports whether err is a business-rule rejection rather
// than a store failure.
func IsClientError(err error) bool {
	for _, target := range []error{
		domain.ErrContestNotFound, domain.ErrContestNotVoting, domain.ErrContestClosed,
		domain.ErrSubmissionsClosed, domain.ErrSubmissionNotFound, domain.ErrAllowanceExhausted,
		domain.ErrInvalidTier, domain.ErrUnknownPackage, domain.ErrInvalidTransition,
		domain.ErrRequestIDConflict, domain.ErrInsufficientCredits, domain.ErrAccountNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
