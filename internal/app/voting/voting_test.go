package voting

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/episodia/episodia/internal/app/ledger"
	"github.com/episodia/episodia/internal/domain"
	"github.com/episodia/episodia/internal/infra/cache"
	"github.com/episodia/episodia/internal/infra/sqlite"
)

var day0 = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// mapCache is an in-memory leaderboard cache that counts invalidations and
// records the limits it was filled with.
type mapCache struct {
	mu          sync.Mutex
	entries     map[string][]domain.LeaderboardEntry
	gens        map[string]uint64
	limits      map[int]bool
	invalidated int
}

func newMapCache() *mapCache {
	return &mapCache{
		entries: make(map[string][]domain.LeaderboardEntry),
		gens:    make(map[string]uint64),
		limits:  make(map[int]bool),
	}
}

func (c *mapCache) Get(_ context.Context, contestID string, _ int) ([]domain.LeaderboardEntry, uint64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[contestID]
	return e, c.gens[contestID], ok, nil
}

func (c *mapCache) Set(_ context.Context, contestID string, limit int, gen uint64, entries []domain.LeaderboardEntry) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[contestID] != gen {
		return false, nil
	}
	c.entries[contestID] = entries
	c.limits[limit] = true
	return true, nil
}

func (c *mapCache) Invalidate(_ context.Context, contestID string) error {
	c.mu.Lock()
	delete(c.entries, contestID)
	c.gens[contestID]++
	c.invalidated++
	c.mu.Unlock()
	return nil
}

// interleavedCache runs beforeSet once, just ahead of the first fill.
type interleavedCache struct {
	*cache.Memory
	beforeSet func()
}

func (c *interleavedCache) Set(ctx context.Context, contestID string, limit int, gen uint64, entries []domain.LeaderboardEntry) (bool, error) {
	if fn := c.beforeSet; fn != nil {
		c.beforeSet = nil
		fn()
	}
	return c.Memory.Set(ctx, contestID, limit, gen, entries)
}

type fixture struct {
	svc    *Service
	ledger *ledger.Service
	db     *sqlite.DB
	clock  *fakeClock
	cache  *mapCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("sqlite.Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clock := &fakeClock{now: day0}
	mc := newMapCache()
	l := ledger.New(ledger.DefaultConfig(), db).WithClock(clock.Now)
	svc := New(DefaultConfig(), db, l, mc).WithClock(clock.Now)
	return &fixture{svc: svc, ledger: l, db: db, clock: clock, cache: mc}
}

func (f *fixture) account(t *testing.T, id string, balance int64) {
	t.Helper()
	ctx := context.Background()
	if _, _, err := f.ledger.OpenAccount(ctx, id, day0); err != nil {
		t.Fatalf("OpenAccount() error: %v", err)
	}
	if balance > 0 {
		if _, err := f.ledger.Credit(ctx, id, balance, domain.TxPurchase, "seed", nil); err != nil {
			t.Fatalf("Credit() error: %v", err)
		}
	}
}

// votingContest creates a contest with the given submissions and opens it
// for votes. It returns the contest id and submission ids in order.
func (f *fixture) votingContest(t *testing.T, titles ...string) (string, []string) {
	t.Helper()
	ctx := context.Background()
	c, err := f.svc.CreateContest(ctx, domain.Contest{Title: "Spring Shorts", Status: domain.ContestSubmissions})
	if err != nil {
		t.Fatalf("CreateContest() error: %v", err)
	}
	f.account(t, "author", 0)
	var ids []string
	for i, title := range titles {
		f.clock.Set(day0.Add(time.Duration(i) * time.Minute))
		sub, err := f.svc.Submit(ctx, c.ID, "author", title)
		if err != nil {
			t.Fatalf("Submit(%q) error: %v", title, err)
		}
		ids = append(ids, sub.ID)
	}
	f.clock.Set(day0)
	if _, err := f.svc.SetStatus(ctx, c.ID, domain.ContestVoting); err != nil {
		t.Fatalf("SetStatus(voting) error: %v", err)
	}
	return c.ID, ids
}

func (f *fixture) grant(t *testing.T, accountID, contestID string, votes domain.VoteCounts) {
	t.Helper()
	ctx := context.Background()
	err := f.db.InTx(ctx, func(tx *sqlite.Tx) error {
		return tx.AddAllowance(ctx, accountID, contestID, votes)
	})
	if err != nil {
		t.Fatalf("AddAllowance() error: %v", err)
	}
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

func TestSetStatus_ForwardOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.svc.CreateContest(ctx, domain.Contest{Title: "Draft Contest"})
	if err != nil {
		t.Fatalf("CreateContest() error: %v", err)
	}
	if c.Status != domain.ContestDraft {
		t.Errorf("Status = %s, want draft", c.Status)
	}

	if _, err := f.svc.SetStatus(ctx, c.ID, domain.ContestVoting); err != nil {
		t.Fatalf("SetStatus(voting) error: %v", err)
	}
	if _, err := f.svc.SetStatus(ctx, c.ID, domain.ContestSubmissions); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("SetStatus(back) error = %v, want ErrInvalidTransition", err)
	}
	if _, err := f.svc.SetStatus(ctx, "nope", domain.ContestEnded); !errors.Is(err, domain.ErrContestNotFound) {
		t.Errorf("SetStatus(unknown) error = %v, want ErrContestNotFound", err)
	}
}

func TestSubmit_RequiresSubmissionPhase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "author", 0)
	c, _ := f.svc.CreateContest(ctx, domain.Contest{Title: "Closed"})

	if _, err := f.svc.Submit(ctx, c.ID, "author", "Entry"); !errors.Is(err, domain.ErrSubmissionsClosed) {
		t.Errorf("Submit(draft) error = %v, want ErrSubmissionsClosed", err)
	}
}

// ─── CastVote ───────────────────────────────────────────────────────────────

func TestCastVote_WeightsAndLeaderboard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	contestID, subs := f.votingContest(t, "First Light", "Second Wind")
	f.account(t, "voter", 0)
	f.grant(t, "voter", contestID, domain.VoteCounts{Free: 1, Super: 1})

	res, err := f.svc.CastVote(ctx, contestID, subs[0], "voter", domain.TierFree)
	if err != nil {
		t.Fatalf("CastVote(free) error: %v", err)
	}
	if !res.Success || res.NewTotal != 1 {
		t.Errorf("CastVote(free) = %+v, want total 1", res)
	}
	res, err = f.svc.CastVote(ctx, contestID, subs[1], "voter", domain.TierSuper)
	if err != nil {
		t.Fatalf("CastVote(super) error: %v", err)
	}
	if res.NewTotal != 10 {
		t.Errorf("NewTotal = %d, want 10", res.NewTotal)
	}

	board, err := f.svc.Leaderboard(ctx, contestID, 0)
	if err != nil {
		t.Fatalf("Leaderboard() error: %v", err)
	}
	if len(board) != 2 || board[0].SubmissionID != subs[1] || board[1].SubmissionID != subs[0] {
		t.Fatalf("Leaderboard() = %+v, want [S2 S1]", board)
	}
	if board[0].Rank != 1 || board[0].SuperVotes != 10 || board[1].FreeVotes != 1 {
		t.Errorf("Leaderboard() = %+v", board)
	}

	a, _ := f.svc.Allowance(ctx, contestID, "voter")
	if a.Remaining != (domain.VoteCounts{}) {
		t.Errorf("Remaining = %+v, want empty", a.Remaining)
	}
	acct, _ := f.ledger.Account(ctx, "voter")
	if acct.Stats.VotesCast != 2 {
		t.Errorf("VotesCast = %d, want 2", acct.Stats.VotesCast)
	}
}

func TestCastVote_AllowanceExhausted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	contestID, subs := f.votingContest(t, "Only Entry")
	f.account(t, "voter", 0)
	f.grant(t, "voter", contestID, domain.VoteCounts{Free: 1})

	if _, err := f.svc.CastVote(ctx, contestID, subs[0], "voter", domain.TierPremium); !errors.Is(err, domain.ErrAllowanceExhausted) {
		t.Errorf("CastVote(premium) error = %v, want ErrAllowanceExhausted", err)
	}
	if _, err := f.svc.CastVote(ctx, contestID, subs[0], "voter", domain.TierFree); err != nil {
		t.Fatalf("CastVote(free) error: %v", err)
	}
	if _, err := f.svc.CastVote(ctx, contestID, subs[0], "voter", domain.TierFree); !errors.Is(err, domain.ErrAllowanceExhausted) {
		t.Errorf("second CastVote(free) error = %v, want ErrAllowanceExhausted", err)
	}
}

func TestCastVote_UnknownSubmissionRestoresAllowance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	contestID, _ := f.votingContest(t, "Only Entry")
	f.account(t, "voter", 0)
	f.grant(t, "voter", contestID, domain.VoteCounts{Free: 1})

	if _, err := f.svc.CastVote(ctx, contestID, "ghost", "voter", domain.TierFree); !errors.Is(err, domain.ErrSubmissionNotFound) {
		t.Errorf("CastVote(ghost) error = %v, want ErrSubmissionNotFound", err)
	}
	a, _ := f.svc.Allowance(ctx, contestID, "voter")
	if a.Remaining.Free != 1 {
		t.Errorf("Remaining.Free = %d, want 1", a.Remaining.Free)
	}
}

func TestCastVote_RejectsOutsideVoting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	contestID, subs := f.votingContest(t, "Entry")
	f.account(t, "voter", 0)
	f.grant(t, "voter", contestID, domain.VoteCounts{Free: 2})

	if _, err := f.svc.CastVote(ctx, contestID, subs[0], "voter", "golden"); !errors.Is(err, domain.ErrInvalidTier) {
		t.Errorf("CastVote(golden) error = %v, want ErrInvalidTier", err)
	}
	if _, err := f.svc.SetStatus(ctx, contestID, domain.ContestEnded); err != nil {
		t.Fatalf("SetStatus(ended) error: %v", err)
	}
	if _, err := f.svc.CastVote(ctx, contestID, subs[0], "voter", domain.TierFree); !errors.Is(err, domain.ErrContestNotVoting) {
		t.Errorf("CastVote(ended) error = %v, want ErrContestNotVoting", err)
	}
	if _, err := f.svc.ClaimDailyVote(ctx, contestID, "voter"); !errors.Is(err, domain.ErrContestClosed) {
		t.Errorf("ClaimDailyVote(ended) error = %v, want ErrContestClosed", err)
	}
}

func TestCastVote_VotingWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "author", 0)
	f.account(t, "voter", 0)
	c, _ := f.svc.CreateContest(ctx, domain.Contest{
		Title:     "Windowed",
		Status:    domain.ContestSubmissions,
		VotingEnd: day0.Add(time.Hour),
	})
	sub, _ := f.svc.Submit(ctx, c.ID, "author", "Entry")
	f.svc.SetStatus(ctx, c.ID, domain.ContestVoting)
	f.grant(t, "voter", c.ID, domain.VoteCounts{Free: 2})

	if _, err := f.svc.CastVote(ctx, c.ID, sub.ID, "voter", domain.TierFree); err != nil {
		t.Fatalf("CastVote() inside window error: %v", err)
	}
	f.clock.Set(day0.Add(2 * time.Hour))
	if _, err := f.svc.CastVote(ctx, c.ID, sub.ID, "voter", domain.TierFree); !errors.Is(err, domain.ErrContestNotVoting) {
		t.Errorf("CastVote() after window error = %v, want ErrContestNotVoting", err)
	}
}

func TestCastVote_ConcurrentNeverOverdraws(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	contestID, subs := f.votingContest(t, "Entry")
	f.account(t, "voter", 0)
	f.grant(t, "voter", contestID, domain.VoteCounts{Premium: 3})

	var ok, exhausted atomic.Int32
	var g errgroup.Group
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			_, err := f.svc.CastVote(ctx, contestID, subs[0], "voter", domain.TierPremium)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrAllowanceExhausted):
				exhausted.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent CastVote() error: %v", err)
	}
	if ok.Load() != 3 || exhausted.Load() != 7 {
		t.Errorf("ok=%d exhausted=%d, want 3/7", ok.Load(), exhausted.Load())
	}
	board, _ := f.svc.Leaderboard(ctx, contestID, 0)
	if len(board) != 1 || board[0].Total != 9 {
		t.Errorf("Leaderboard() = %+v, want total 9", board)
	}
	votes, _ := f.svc.Votes(ctx, contestID, "voter")
	if len(votes) != 3 {
		t.Errorf("Votes() len = %d, want 3", len(votes))
	}
}

// ─── Daily Claims ───────────────────────────────────────────────────────────

func TestClaimDailyVote_Streak(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	contestID, _ := f.votingContest(t, "Entry")
	f.account(t, "voter", 0)

	steps := []struct {
		day        int
		wantStreak int
		wantBonus  domain.VoteCounts
	}{
		{0, 1, domain.VoteCounts{}},
		{1, 2, domain.VoteCounts{}},
		{2, 3, domain.VoteCounts{Premium: 1}},
		{4, 1, domain.VoteCounts{}}, // day 3 skipped
	}
	for _, s := range steps {
		f.clock.Set(day0.AddDate(0, 0, s.day))
		res, err := f.svc.ClaimDailyVote(ctx, contestID, "voter")
		if err != nil {
			t.Fatalf("day %d ClaimDailyVote() error: %v", s.day, err)
		}
		if !res.Granted || res.StreakLength != s.wantStreak || res.BonusVotes != s.wantBonus {
			t.Errorf("day %d ClaimDailyVote() = %+v, want streak %d bonus %+v", s.day, res, s.wantStreak, s.wantBonus)
		}
	}

	a, _ := f.svc.Allowance(ctx, contestID, "voter")
	if a.Remaining.Free != 4 || a.Remaining.Premium != 1 || a.Streak != 1 {
		t.Errorf("Allowance() = %+v, want 4 free, 1 premium, streak 1", a)
	}
}

func TestClaimDailyVote_SameDayNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	contestID, _ := f.votingContest(t, "Entry")
	f.account(t, "voter", 0)

	if _, err := f.svc.ClaimDailyVote(ctx, contestID, "voter"); err != nil {
		t.Fatalf("ClaimDailyVote() error: %v", err)
	}
	f.clock.Set(day0.Add(10 * time.Hour))
	res, err := f.svc.ClaimDailyVote(ctx, contestID, "voter")
	if err != nil {
		t.Fatalf("second ClaimDailyVote() error: %v", err)
	}
	if res.Granted || res.StreakLength != 1 {
		t.Errorf("second ClaimDailyVote() = %+v, want not granted, streak 1", res)
	}
	a, _ := f.svc.Allowance(ctx, contestID, "voter")
	if a.Remaining.Free != 1 {
		t.Errorf("Remaining.Free = %d, want 1", a.Remaining.Free)
	}
}

func TestClaimDailyVote_LocationDefinesDay(t *testing.T) {
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("sqlite.Open() error: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	jst := time.FixedZone("JST", 9*60*60)
	clock := &fakeClock{now: time.Date(2026, 5, 10, 14, 0, 0, 0, time.UTC)} // 23:00 JST
	l := ledger.New(ledger.DefaultConfig(), db).WithClock(clock.Now)
	svc := New(Config{Location: jst}, db, l, nil).WithClock(clock.Now)
	l.OpenAccount(ctx, "voter", clock.Now())
	c, _ := svc.CreateContest(ctx, domain.Contest{Title: "Tokyo Nights"})

	svc.ClaimDailyVote(ctx, c.ID, "voter")
	clock.Set(time.Date(2026, 5, 10, 16, 0, 0, 0, time.UTC)) // 01:00 JST next day
	res, err := svc.ClaimDailyVote(ctx, c.ID, "voter")
	if err != nil {
		t.Fatalf("ClaimDailyVote() error: %v", err)
	}
	if !res.Granted || res.StreakLength != 2 {
		t.Errorf("ClaimDailyVote() = %+v, want a new JST day with streak 2", res)
	}
}

// ─── Vote Packages ──────────────────────────────────────────────────────────

func TestPurchaseVotePackage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	contestID, _ := f.votingContest(t, "Entry")
	f.account(t, "voter", 300)

	res, err := f.svc.PurchaseVotePackage(ctx, contestID, "voter", "starter", "req-1")
	if err != nil {
		t.Fatalf("PurchaseVotePackage() error: %v", err)
	}
	want := domain.VoteCounts{Free: 5, Premium: 2}
	if res.VotesAdded != want || res.BalanceAfter != 200 || res.Replayed {
		t.Errorf("PurchaseVotePackage() = %+v", res)
	}

	replay, err := f.svc.PurchaseVotePackage(ctx, contestID, "voter", "starter", "req-1")
	if err != nil {
		t.Fatalf("replay error: %v", err)
	}
	if !replay.Replayed || replay.BalanceAfter != 200 || replay.VotesAdded != want {
		t.Errorf("replay = %+v", replay)
	}

	bal, _ := f.ledger.Balance(ctx, "voter")
	if bal != 200 {
		t.Errorf("Balance() = %d, want 200", bal)
	}
	a, _ := f.svc.Allowance(ctx, contestID, "voter")
	if a.Remaining != want {
		t.Errorf("Remaining = %+v, want %+v", a.Remaining, want)
	}
	acct, _ := f.ledger.Account(ctx, "voter")
	if acct.Stats.CreditsSpent != 100 {
		t.Errorf("CreditsSpent = %d, want 100", acct.Stats.CreditsSpent)
	}
}

func TestPurchaseVotePackage_InsufficientIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	contestID, _ := f.votingContest(t, "Entry")
	f.account(t, "voter", 50)

	_, err := f.svc.PurchaseVotePackage(ctx, contestID, "voter", "starter", "req-1")
	var ice *domain.InsufficientCreditsError
	if !errors.As(err, &ice) {
		t.Fatalf("PurchaseVotePackage() error = %v, want *InsufficientCreditsError", err)
	}
	if ice.Balance != 50 || ice.Shortfall() != 50 {
		t.Errorf("InsufficientCreditsError = %+v", ice)
	}

	a, _ := f.svc.Allowance(ctx, contestID, "voter")
	if a.Remaining != (domain.VoteCounts{}) {
		t.Errorf("Remaining = %+v, want empty", a.Remaining)
	}
	bal, _ := f.ledger.Balance(ctx, "voter")
	if bal != 50 {
		t.Errorf("Balance() = %d, want 50", bal)
	}

	// The failed attempt must not consume the request id.
	f.ledger.Credit(ctx, "voter", 100, domain.TxPurchase, "top up", nil)
	res, err := f.svc.PurchaseVotePackage(ctx, contestID, "voter", "starter", "req-1")
	if err != nil || res.Replayed {
		t.Errorf("retry = %+v, %v; want a fresh purchase", res, err)
	}
}

func TestPurchaseVotePackage_Rejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	contestID, _ := f.votingContest(t, "Entry")
	f.account(t, "voter", 1000)
	f.account(t, "other", 1000)

	if _, err := f.svc.PurchaseVotePackage(ctx, contestID, "voter", "mega", ""); !errors.Is(err, domain.ErrUnknownPackage) {
		t.Errorf("unknown package error = %v, want ErrUnknownPackage", err)
	}
	if _, err := f.svc.PurchaseVotePackage(ctx, contestID, "voter", "starter", "req-x"); err != nil {
		t.Fatalf("PurchaseVotePackage() error: %v", err)
	}
	if _, err := f.svc.PurchaseVotePackage(ctx, contestID, "other", "starter", "req-x"); !errors.Is(err, domain.ErrRequestIDConflict) {
		t.Errorf("reused request id error = %v, want ErrRequestIDConflict", err)
	}
	if _, err := f.svc.PurchaseVotePackage(ctx, "nope", "voter", "starter", ""); !errors.Is(err, domain.ErrContestNotFound) {
		t.Errorf("unknown contest error = %v, want ErrContestNotFound", err)
	}
}

func TestPurchaseVotePackage_ConcurrentSameRequestChargesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	contestID, _ := f.votingContest(t, "Entry")
	f.account(t, "voter", 1000)

	var replayed atomic.Int32
	var g errgroup.Group
	for i := 0; i < 6; i++ {
		g.Go(func() error {
			res, err := f.svc.PurchaseVotePackage(ctx, contestID, "voter", "premium", "req-dup")
			if res.Replayed {
				replayed.Add(1)
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent purchase error: %v", err)
	}
	if replayed.Load() != 5 {
		t.Errorf("replayed = %d, want 5", replayed.Load())
	}
	bal, _ := f.ledger.Balance(ctx, "voter")
	if bal != 750 {
		t.Errorf("Balance() = %d, want 750", bal)
	}
}

// ─── Leaderboard Cache ──────────────────────────────────────────────────────

func TestLeaderboard_CacheInvalidatedByVotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	contestID, subs := f.votingContest(t, "Entry")
	f.account(t, "voter", 0)
	f.grant(t, "voter", contestID, domain.VoteCounts{Free: 2})

	board, _ := f.svc.Leaderboard(ctx, contestID, 10)
	if len(board) != 1 || board[0].Total != 0 {
		t.Fatalf("Leaderboard() = %+v", board)
	}
	if _, _, ok, _ := f.cache.Get(ctx, contestID, 10); !ok {
		t.Fatal("leaderboard was not cached")
	}

	before := f.cache.invalidated
	f.svc.CastVote(ctx, contestID, subs[0], "voter", domain.TierFree)
	if f.cache.invalidated != before+1 {
		t.Errorf("invalidations = %d, want %d", f.cache.invalidated, before+1)
	}
	board, _ = f.svc.Leaderboard(ctx, contestID, 10)
	if board[0].Total != 1 {
		t.Errorf("Total after vote = %d, want 1", board[0].Total)
	}
}

func TestLeaderboard_VoteDuringFillIsNotCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	contestID, subs := f.votingContest(t, "Entry")
	f.account(t, "voter", 0)
	f.grant(t, "voter", contestID, domain.VoteCounts{Super: 1})

	lc := &interleavedCache{Memory: cache.NewMemory(time.Minute)}
	svc := New(DefaultConfig(), f.db, f.ledger, lc).WithClock(f.clock.Now)
	lc.beforeSet = func() {
		if _, err := svc.CastVote(ctx, contestID, subs[0], "voter", domain.TierSuper); err != nil {
			t.Errorf("CastVote() error: %v", err)
		}
	}

	board, err := svc.Leaderboard(ctx, contestID, 10)
	if err != nil {
		t.Fatalf("Leaderboard() error: %v", err)
	}
	if board[0].Total != 0 {
		t.Fatalf("Total read before the vote = %d, want 0", board[0].Total)
	}
	if _, _, ok, _ := lc.Get(ctx, contestID, 10); ok {
		t.Error("leaderboard read before the vote was cached")
	}

	board, _ = svc.Leaderboard(ctx, contestID, 10)
	if board[0].Total != 10 {
		t.Errorf("Total after vote = %d, want 10", board[0].Total)
	}
}

func TestLeaderboard_LimitCapped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	contestID, _ := f.votingContest(t, "A", "B")

	for _, limit := range []int{0, 51, 1000, 1 << 20} {
		f.cache.Invalidate(ctx, contestID)
		board, err := f.svc.Leaderboard(ctx, contestID, limit)
		if err != nil {
			t.Fatalf("Leaderboard(%d) error: %v", limit, err)
		}
		if len(board) != 2 {
			t.Errorf("Leaderboard(%d) len = %d, want 2", limit, len(board))
		}
	}
	if len(f.cache.limits) != 1 || !f.cache.limits[DefaultConfig().LeaderboardLimit] {
		t.Errorf("cached limits = %v, want only %d", f.cache.limits, DefaultConfig().LeaderboardLimit)
	}
}
