package achievement

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/episodia/episodia/internal/app/ledger"
	"github.com/episodia/episodia/internal/domain"
	"github.com/episodia/episodia/internal/infra/sqlite"
)

var day0 = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	db     *sqlite.DB
	ledger *ledger.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("sqlite.Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	l := ledger.New(ledger.DefaultConfig(), db).WithClock(func() time.Time { return day0 })
	return &fixture{db: db, ledger: l}
}

func (f *fixture) engine(cfg Config, defs []domain.AchievementDefinition, now time.Time) *Engine {
	return New(cfg, f.db, f.ledger, defs).WithClock(func() time.Time { return now })
}

func (f *fixture) account(t *testing.T, id string, createdAt time.Time) {
	t.Helper()
	if _, _, err := f.ledger.OpenAccount(context.Background(), id, createdAt); err != nil {
		t.Fatalf("OpenAccount() error: %v", err)
	}
}

func (f *fixture) events(t *testing.T, id string, typ domain.ActivityType, at ...time.Time) {
	t.Helper()
	ctx := context.Background()
	err := f.db.InTx(ctx, func(tx *sqlite.Tx) error {
		for _, ts := range at {
			if _, err := tx.AppendActivity(ctx, domain.ActivityEvent{AccountID: id, Type: typ, CreatedAt: ts}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("append events: %v", err)
	}
}

func (f *fixture) bump(t *testing.T, id, stat string, by int64) {
	t.Helper()
	ctx := context.Background()
	if err := f.db.InTx(ctx, func(tx *sqlite.Tx) error { return tx.BumpStat(ctx, id, stat, by) }); err != nil {
		t.Fatalf("BumpStat() error: %v", err)
	}
}

func bingeDefs(counts ...int) []domain.AchievementDefinition {
	var defs []domain.AchievementDefinition
	for _, n := range counts {
		defs = append(defs, domain.AchievementDefinition{
			ID:        "binge_" + string(rune('0'+n)),
			Name:      "Binge",
			Criterion: domain.EventsInWindow{EventType: domain.ActivityEpisodeUnlocked, Count: n, LookbackDays: 30},
		})
	}
	return defs
}

// ─── Rolling Window ─────────────────────────────────────────────────────────

func TestEventsInWindow_BingeOnSingleDay(t *testing.T) {
	f := newFixture(t)
	f.account(t, "acct-1", day0)
	f.events(t, "acct-1", domain.ActivityEpisodeUnlocked,
		day0.Add(9*time.Hour),
		day0.Add(14*time.Hour),
		day0.Add(20*time.Hour),
		day0.AddDate(0, 0, 2).Add(10*time.Hour),
	)

	e := f.engine(DefaultConfig(), bingeDefs(3, 4), day0.AddDate(0, 0, 2).Add(12*time.Hour))
	got, err := e.EvaluateAccount(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("EvaluateAccount() error: %v", err)
	}
	if len(got) != 1 || got[0] != "binge_3" {
		t.Errorf("EvaluateAccount() = %v, want [binge_3]", got)
	}
}

func TestEventsInWindow_DayBoundaryFollowsLocation(t *testing.T) {
	f := newFixture(t)
	f.account(t, "acct-1", day0)
	// 22:00 and 01:00 UTC straddle midnight in UTC but are the same
	// morning in UTC+9.
	f.events(t, "acct-1", domain.ActivityEpisodeUnlocked,
		day0.Add(22*time.Hour),
		day0.Add(25*time.Hour),
	)
	now := day0.Add(30 * time.Hour)

	utc := f.engine(DefaultConfig(), bingeDefs(2), now)
	if got, _ := utc.EvaluateAccount(context.Background(), "acct-1"); len(got) != 0 {
		t.Errorf("UTC EvaluateAccount() = %v, want none", got)
	}

	jst := f.engine(Config{Location: time.FixedZone("JST", 9*60*60)}, bingeDefs(2), now)
	if got, _ := jst.EvaluateAccount(context.Background(), "acct-1"); len(got) != 1 {
		t.Errorf("JST EvaluateAccount() = %v, want [binge_2]", got)
	}
}

func TestEventsInWindow_IgnoresEventsOutsideLookback(t *testing.T) {
	f := newFixture(t)
	f.account(t, "acct-1", day0)
	old := day0.AddDate(0, 0, -40)
	f.events(t, "acct-1", domain.ActivityEpisodeUnlocked, old, old.Add(time.Hour), old.Add(2*time.Hour))

	e := f.engine(DefaultConfig(), bingeDefs(3), day0.Add(12*time.Hour))
	if got, _ := e.EvaluateAccount(context.Background(), "acct-1"); len(got) != 0 {
		t.Errorf("EvaluateAccount() = %v, want none", got)
	}
}

func TestEventsInWindow_IgnoresOtherTypes(t *testing.T) {
	f := newFixture(t)
	f.account(t, "acct-1", day0)
	f.events(t, "acct-1", domain.ActivityVoteCast, day0.Add(time.Hour), day0.Add(2*time.Hour), day0.Add(3*time.Hour))

	e := f.engine(DefaultConfig(), bingeDefs(3), day0.Add(12*time.Hour))
	if got, _ := e.EvaluateAccount(context.Background(), "acct-1"); len(got) != 0 {
		t.Errorf("EvaluateAccount() = %v, want none", got)
	}
}

// ─── Stat Thresholds & Rewards ──────────────────────────────────────────────

func TestEvaluate_StatThresholdsAndRewards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "acct-1", day0)
	f.bump(t, "acct-1", domain.StatEpisodesUnlocked, 10)

	e := f.engine(DefaultConfig(), nil, day0.Add(time.Hour))
	got, err := e.EvaluateAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("EvaluateAccount() error: %v", err)
	}
	sort.Strings(got)
	if len(got) != 2 || got[0] != "collector" || got[1] != "first_unlock" {
		t.Errorf("EvaluateAccount() = %v, want [collector first_unlock]", got)
	}

	bal, _ := f.ledger.Balance(ctx, "acct-1")
	if bal != 10 {
		t.Errorf("Balance() = %d, want collector reward 10", bal)
	}
	if err := f.ledger.Verify(ctx, "acct-1"); err != nil {
		t.Errorf("Verify() error: %v", err)
	}

	events, _ := f.db.ActivitySince(ctx, "acct-1", domain.ActivityAchievementEarned, time.Time{})
	if len(events) != 2 {
		t.Errorf("achievement_earned events = %d, want 2", len(events))
	}
}

func TestEvaluate_UsesGivenStats(t *testing.T) {
	f := newFixture(t)
	f.account(t, "acct-1", day0)

	e := f.engine(DefaultConfig(), nil, day0.Add(time.Hour))
	got, err := e.Evaluate(context.Background(), "acct-1", domain.Stats{domain.StatVotesCast: 1})
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if len(got) != 1 || got[0] != "first_vote" {
		t.Errorf("Evaluate() = %v, want [first_vote]", got)
	}
}

func TestEvaluate_Monotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "acct-1", day0)
	f.bump(t, "acct-1", domain.StatEpisodesUnlocked, 1)

	e := f.engine(DefaultConfig(), nil, day0.Add(time.Hour))
	if got, _ := e.EvaluateAccount(ctx, "acct-1"); len(got) != 1 {
		t.Fatalf("first EvaluateAccount() = %v, want [first_unlock]", got)
	}

	for i := 0; i < 3; i++ {
		got, err := e.EvaluateAccount(ctx, "acct-1")
		if err != nil {
			t.Fatalf("EvaluateAccount() #%d error: %v", i, err)
		}
		if len(got) != 0 {
			t.Errorf("EvaluateAccount() #%d = %v, want nothing new", i, got)
		}
	}
	// Stats that no longer meet the criterion never revoke an award.
	if _, err := e.Evaluate(ctx, "acct-1", domain.Stats{}); err != nil {
		t.Fatalf("Evaluate(empty) error: %v", err)
	}
	awards, _ := e.Awards(ctx, "acct-1")
	if len(awards) != 1 {
		t.Errorf("Awards() len = %d, want 1", len(awards))
	}
}

func TestEvaluate_ConcurrentAwardsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "acct-1", day0)
	f.bump(t, "acct-1", domain.StatSeriesCompleted, 1)

	e := f.engine(DefaultConfig(), nil, day0.Add(time.Hour))
	var mu sync.Mutex
	var all []string
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			got, err := e.EvaluateAccount(ctx, "acct-1")
			mu.Lock()
			all = append(all, got...)
			mu.Unlock()
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent EvaluateAccount() error: %v", err)
	}

	if len(all) != 1 || all[0] != "finisher" {
		t.Errorf("awards across callers = %v, want exactly [finisher]", all)
	}
	bal, _ := f.ledger.Balance(ctx, "acct-1")
	if bal != 20 {
		t.Errorf("Balance() = %d, want one finisher reward of 20", bal)
	}
}

// ─── Join Cutoff ────────────────────────────────────────────────────────────

func TestJoinedBefore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "early", domain.EarlyAdopterCutoff.Add(-time.Hour))
	f.account(t, "late", domain.EarlyAdopterCutoff.Add(time.Hour))

	defs := []domain.AchievementDefinition{{
		ID:        "early_adopter",
		Criterion: domain.JoinedBefore{Cutoff: domain.EarlyAdopterCutoff},
	}}
	e := f.engine(DefaultConfig(), defs, domain.EarlyAdopterCutoff.AddDate(1, 0, 0))

	if got, _ := e.EvaluateAccount(ctx, "early"); len(got) != 1 {
		t.Errorf("EvaluateAccount(early) = %v, want [early_adopter]", got)
	}
	if got, _ := e.EvaluateAccount(ctx, "late"); len(got) != 0 {
		t.Errorf("EvaluateAccount(late) = %v, want none", got)
	}
}

// ─── Registry ───────────────────────────────────────────────────────────────

type voteStreak struct{ Days int }

func (voteStreak) Kind() domain.CriterionKind { return "vote_streak" }

func TestRegister_CustomCriterion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "acct-1", day0)

	defs := []domain.AchievementDefinition{
		{ID: "streaker", Criterion: voteStreak{Days: 3}},
		{ID: "first_unlock", Criterion: domain.StatThreshold{Stat: domain.StatEpisodesUnlocked, Min: 0}},
	}
	e := f.engine(DefaultConfig(), defs, day0)

	got, err := e.EvaluateAccount(ctx, "acct-1")
	if !errors.Is(err, domain.ErrUnknownCriterion) {
		t.Errorf("EvaluateAccount() error = %v, want ErrUnknownCriterion", err)
	}
	if len(got) != 1 || got[0] != "first_unlock" {
		t.Errorf("EvaluateAccount() = %v, other criteria should still award", got)
	}

	e.Register("vote_streak", func(_ context.Context, _ Input, c domain.Criterion) (bool, error) {
		return c.(voteStreak).Days <= 3, nil
	})
	got, err = e.EvaluateAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("EvaluateAccount() after Register error: %v", err)
	}
	if len(got) != 1 || got[0] != "streaker" {
		t.Errorf("EvaluateAccount() = %v, want [streaker]", got)
	}
}

// ─── Notifications ──────────────────────────────────────────────────────────

func TestMarkNotified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "acct-1", day0)
	f.bump(t, "acct-1", domain.StatVotesCast, 1)

	e := f.engine(DefaultConfig(), nil, day0)
	e.EvaluateAccount(ctx, "acct-1")

	pending, _ := e.Pending(ctx, "acct-1")
	if len(pending) != 1 || pending[0].AchievementID != "first_vote" {
		t.Fatalf("Pending() = %+v, want [first_vote]", pending)
	}
	if err := e.MarkNotified(ctx, "acct-1", "first_vote"); err != nil {
		t.Fatalf("MarkNotified() error: %v", err)
	}
	pending, _ = e.Pending(ctx, "acct-1")
	if len(pending) != 0 {
		t.Errorf("Pending() after MarkNotified = %+v, want none", pending)
	}

	if err := e.MarkNotified(ctx, "acct-1", "nope"); !errors.Is(err, domain.ErrAchievementNotFound) {
		t.Errorf("MarkNotified(nope) error = %v, want ErrAchievementNotFound", err)
	}
	if err := e.MarkNotified(ctx, "acct-1", "collector"); !errors.Is(err, domain.ErrAwardNotFound) {
		t.Errorf("MarkNotified(unearned) error = %v, want ErrAwardNotFound", err)
	}
}

func TestEvaluate_UnknownAccount(t *testing.T) {
	f := newFixture(t)
	e := f.engine(DefaultConfig(), nil, day0)
	if _, err := e.EvaluateAccount(context.Background(), "ghost"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("EvaluateAccount(ghost) error = %v, want ErrAccountNotFound", err)
	}
}
