package entitlement

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/episodia/episodia/internal/app/ledger"
	"github.com/episodia/episodia/internal/domain"
	"github.com/episodia/episodia/internal/infra/catalog"
	"github.com/episodia/episodia/internal/infra/sqlite"
)

var t0 = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc    *Service
	ledger *ledger.Service
	db     *sqlite.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("sqlite.Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cat, err := catalog.New(30, []catalog.Series{
		{ID: "night-shift", Title: "Night Shift", Episodes: 12, EpisodeCost: 30},
		{ID: "paper-moons", Title: "Paper Moons", Episodes: 8, EpisodeCost: 25, FreeEpisodes: []int{2}},
		{ID: "last-orbit", Title: "Last Orbit", Episodes: 3, EpisodeCost: 50},
	})
	if err != nil {
		t.Fatalf("catalog.New() error: %v", err)
	}
	clock := func() time.Time { return t0 }
	l := ledger.New(ledger.DefaultConfig(), db).WithClock(clock)
	return &fixture{svc: New(db, l, cat).WithClock(clock), ledger: l, db: db}
}

func (f *fixture) account(t *testing.T, id string, balance int64) {
	t.Helper()
	ctx := context.Background()
	if _, _, err := f.ledger.OpenAccount(ctx, id, t0); err != nil {
		t.Fatalf("OpenAccount() error: %v", err)
	}
	if balance > 0 {
		if _, err := f.ledger.Credit(ctx, id, balance, domain.TxPurchase, "seed", nil); err != nil {
			t.Fatalf("Credit() error: %v", err)
		}
	}
}

func ep(series string, n int) domain.ContentRef {
	return domain.ContentRef{SeriesID: series, Episode: n}
}

// ─── Unlock ─────────────────────────────────────────────────────────────────

func TestUnlock_SequentialIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "acct-1", 100)

	first, err := f.svc.Unlock(ctx, "acct-1", ep("night-shift", 3), 30)
	if err != nil {
		t.Fatalf("first Unlock() error: %v", err)
	}
	if !first.Granted || first.AlreadyUnlocked || first.BalanceAfter != 70 {
		t.Errorf("first Unlock() = %+v", first)
	}

	second, err := f.svc.Unlock(ctx, "acct-1", ep("night-shift", 3), 30)
	if err != nil {
		t.Fatalf("second Unlock() error: %v", err)
	}
	if !second.Granted || !second.AlreadyUnlocked || second.BalanceAfter != 70 {
		t.Errorf("second Unlock() = %+v", second)
	}

	acct, _ := f.ledger.Account(ctx, "acct-1")
	if acct.Balance != 70 || acct.Stats.EpisodesUnlocked != 1 {
		t.Errorf("account = %+v, want balance 70 and one unlock", acct)
	}
	hist, _ := f.ledger.History(ctx, "acct-1", time.Time{}, 0)
	spends := 0
	for _, tx := range hist {
		if tx.Kind == domain.TxSpend {
			spends++
		}
	}
	if spends != 1 {
		t.Errorf("spend transactions = %d, want 1", spends)
	}
}

func TestUnlock_ConcurrentChargesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "acct-1", 100)

	var fresh, already atomic.Int32
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			res, err := f.svc.Unlock(ctx, "acct-1", ep("night-shift", 5), 30)
			if err != nil {
				return err
			}
			if !res.Granted {
				t.Errorf("Unlock() = %+v, want granted", res)
			}
			if res.AlreadyUnlocked {
				already.Add(1)
			} else {
				fresh.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent Unlock() error: %v", err)
	}

	if fresh.Load() != 1 || already.Load() != 7 {
		t.Errorf("fresh=%d already=%d, want 1/7", fresh.Load(), already.Load())
	}
	bal, _ := f.ledger.Balance(ctx, "acct-1")
	if bal != 70 {
		t.Errorf("Balance() = %d, want 70", bal)
	}
	if err := f.ledger.Verify(ctx, "acct-1"); err != nil {
		t.Errorf("Verify() error: %v", err)
	}
}

func TestUnlock_FreeContentSkipsDebit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "acct-1", 10)

	for _, ref := range []domain.ContentRef{ep("night-shift", 1), ep("paper-moons", 2)} {
		res, err := f.svc.Unlock(ctx, "acct-1", ref, 99)
		if err != nil {
			t.Fatalf("Unlock(%s) error: %v", ref, err)
		}
		if !res.Granted || res.BalanceAfter != 10 {
			t.Errorf("Unlock(%s) = %+v, want granted at no cost", ref, res)
		}
	}

	list, _ := f.svc.List(ctx, "acct-1", "")
	if len(list) != 2 {
		t.Errorf("List() len = %d, want 2 stored entitlements", len(list))
	}
	for _, e := range list {
		if e.Cost != 0 {
			t.Errorf("entitlement %s cost = %d, want 0", e.Content, e.Cost)
		}
	}
}

func TestUnlock_InsufficientLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "acct-1", 20)

	_, err := f.svc.Unlock(ctx, "acct-1", ep("night-shift", 4), 30)
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("Unlock() error = %v, want ErrInsufficientCredits", err)
	}

	ok, _ := f.svc.IsUnlocked(ctx, "acct-1", ep("night-shift", 4))
	if ok {
		t.Error("IsUnlocked() = true after a failed unlock")
	}
	acct, _ := f.ledger.Account(ctx, "acct-1")
	if acct.Balance != 20 || acct.Stats.EpisodesUnlocked != 0 || acct.Stats.CreditsSpent != 0 {
		t.Errorf("account = %+v, want untouched", acct)
	}
	events, _ := f.db.ActivitySince(ctx, "acct-1", domain.ActivityEpisodeUnlocked, time.Time{})
	if len(events) != 0 {
		t.Errorf("episode_unlocked events = %d, want 0", len(events))
	}
}

func TestUnlock_Rejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "acct-1", 100)

	if _, err := f.svc.Unlock(ctx, "ghost", ep("night-shift", 2), 30); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("Unlock(ghost) error = %v, want ErrAccountNotFound", err)
	}
	if _, err := f.svc.Unlock(ctx, "acct-1", ep("", 2), 30); !errors.Is(err, domain.ErrInvalidContent) {
		t.Errorf("Unlock(blank series) error = %v, want ErrInvalidContent", err)
	}
	if _, err := f.svc.Unlock(ctx, "acct-1", ep("night-shift", 2), -1); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("Unlock(negative cost) error = %v, want ErrInvalidAmount", err)
	}
}

func TestUnlockPriced_UsesCatalog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "acct-1", 100)

	res, err := f.svc.UnlockPriced(ctx, "acct-1", ep("last-orbit", 2))
	if err != nil {
		t.Fatalf("UnlockPriced() error: %v", err)
	}
	if res.BalanceAfter != 50 {
		t.Errorf("BalanceAfter = %d, want 50", res.BalanceAfter)
	}
	if _, err := f.svc.UnlockPriced(ctx, "acct-1", ep("last-orbit", 9)); !errors.Is(err, domain.ErrInvalidContent) {
		t.Errorf("UnlockPriced(out of range) error = %v, want ErrInvalidContent", err)
	}
}

// ─── Series Completion ──────────────────────────────────────────────────────

func TestUnlock_SeriesCompletionCountedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "acct-1", 500)

	res, _ := f.svc.Unlock(ctx, "acct-1", ep("last-orbit", 3), 50)
	if res.SeriesCompleted {
		t.Error("episode 3 alone should not complete the series")
	}
	res, err := f.svc.Unlock(ctx, "acct-1", ep("last-orbit", 2), 50)
	if err != nil {
		t.Fatalf("Unlock() error: %v", err)
	}
	if !res.SeriesCompleted {
		t.Error("unlocking the last missing episode should complete the series")
	}

	// Opening episode is free, so storing it later changes nothing.
	res, _ = f.svc.Unlock(ctx, "acct-1", ep("last-orbit", 1), 0)
	if res.SeriesCompleted {
		t.Error("series must not complete twice")
	}
	res, _ = f.svc.Unlock(ctx, "acct-1", ep("last-orbit", 2), 50)
	if res.SeriesCompleted || !res.AlreadyUnlocked {
		t.Errorf("replay = %+v", res)
	}

	acct, _ := f.ledger.Account(ctx, "acct-1")
	if acct.Stats.SeriesCompleted != 1 {
		t.Errorf("SeriesCompleted = %d, want 1", acct.Stats.SeriesCompleted)
	}
}

// ─── IsUnlocked ─────────────────────────────────────────────────────────────

func TestIsUnlocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.account(t, "acct-1", 100)
	f.svc.Unlock(ctx, "acct-1", ep("night-shift", 7), 30)

	tests := []struct {
		ref  domain.ContentRef
		want bool
	}{
		{ep("night-shift", 1), true},  // opening episode
		{ep("paper-moons", 2), true},  // promo flag
		{ep("night-shift", 7), true},  // stored
		{ep("night-shift", 8), false}, // not unlocked
	}
	for _, tt := range tests {
		got, err := f.svc.IsUnlocked(ctx, "acct-1", tt.ref)
		if err != nil {
			t.Fatalf("IsUnlocked(%s) error: %v", tt.ref, err)
		}
		if got != tt.want {
			t.Errorf("IsUnlocked(%s) = %v, want %v", tt.ref, got, tt.want)
		}
	}
}
