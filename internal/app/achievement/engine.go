// Package achievement evaluates achievement criteria and records awards.
//
// Criteria dispatch through a registry keyed by criterion kind, so a new
// kind is one Register call. Awards are monotonic: each is a conditional
// insert keyed by (account, achievement), and the earned event and credit
// reward are written in the same transaction only when the insert took
// effect. Evaluating the same account twice, or concurrently, never awards
// or pays twice.
package achievement

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/episodia/episodia/internal/app/ledger"
	"github.com/episodia/episodia/internal/domain"
	"github.com/episodia/episodia/internal/infra/observability"
	"github.com/episodia/episodia/internal/infra/sqlite"
)

// Input is the account snapshot a criterion is evaluated against.
type Input struct {
	AccountID string
	CreatedAt time.Time
	Stats     domain.Stats
	Now       time.Time
}

// Evaluator decides whether a criterion of its registered kind is met.
type Evaluator func(ctx context.Context, in Input, c domain.Criterion) (bool, error)

// Config controls engine behavior.
type Config struct {
	// Location defines calendar-day boundaries for windowed criteria.
	Location *time.Location
}

// DefaultConfig returns engine defaults.
func DefaultConfig() Config {
	return Config{Location: time.UTC}
}

// Engine evaluates a static set of achievement definitions.
type Engine struct {
	db     *sqlite.DB
	ledger *ledger.Service
	loc    *time.Location
	now    domain.Clock

	defs  []domain.AchievementDefinition
	byID  map[string]domain.AchievementDefinition
	mu    sync.RWMutex
	evals map[domain.CriterionKind]Evaluator
}

var _ domain.AchievementEvaluator = (*Engine)(nil)

// New creates an engine over defs with the built-in evaluators registered.
// A nil defs uses domain.DefaultAchievements().
func New(cfg Config, db *sqlite.DB, l *ledger.Service, defs []domain.AchievementDefinition) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if defs == nil {
		defs = domain.DefaultAchievements()
	}
	e := &Engine{
		db:     db,
		ledger: l,
		loc:    cfg.Location,
		now:    time.Now,
		defs:   defs,
		byID:   make(map[string]domain.AchievementDefinition, len(defs)),
		evals:  make(map[domain.CriterionKind]Evaluator),
	}
	for _, d := range defs {
		e.byID[d.ID] = d
	}

	e.Register(domain.CriterionStatThreshold, evalStatThreshold)
	e.Register(domain.CriterionJoinedBefore, evalJoinedBefore)
	e.Register(domain.CriterionEventsInWindow, e.evalEventsInWindow)
	return e
}

// WithClock replaces the engine clock.
func (e *Engine) WithClock(c domain.Clock) *Engine {
	e.now = c
	return e
}

// Register installs the evaluator for a criterion kind, replacing any
// previous one.
func (e *Engine) Register(kind domain.CriterionKind, fn Evaluator) {
	e.mu.Lock()
	e.evals[kind] = fn
	e.mu.Unlock()
}

func (e *Engine) evaluator(kind domain.CriterionKind) (Evaluator, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn, ok := e.evals[kind]
	return fn, ok
}

// Definitions returns the achievement catalog.
func (e *Engine) Definitions() []domain.AchievementDefinition {
	out := make([]domain.AchievementDefinition, len(e.defs))
	copy(out, e.defs)
	return out
}

// Definition returns one achievement definition.
func (e *Engine) Definition(id string) (domain.AchievementDefinition, error) {
	d, ok := e.byID[id]
	if !ok {
		return domain.AchievementDefinition{}, fmt.Errorf("%w: %q", domain.ErrAchievementNotFound, id)
	}
	return d, nil
}

// ─── Evaluation ─────────────────────────────────────────────────────────────

// Evaluate checks every achievement the account does not hold yet against
// stats and awards those whose criterion is met. It returns the ids awarded
// by this call. A failing criterion does not stop the others; its error is
// joined into the returned error.
func (e *Engine) Evaluate(ctx context.Context, accountID string, stats domain.Stats) ([]string, error) {
	acct, err := e.db.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return e.evaluate(ctx, acct, stats)
}

// EvaluateAccount is Evaluate with the account's stored stats.
func (e *Engine) EvaluateAccount(ctx context.Context, accountID string) ([]string, error) {
	acct, err := e.db.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return e.evaluate(ctx, acct, acct.Stats.Map())
}

func (e *Engine) evaluate(ctx context.Context, acct domain.Account, stats domain.Stats) ([]string, error) {
	held, err := e.db.Awards(ctx, acct.ID)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(held))
	for _, a := range held {
		have[a.AchievementID] = true
	}

	in := Input{AccountID: acct.ID, CreatedAt: acct.CreatedAt, Stats: stats, Now: e.now()}
	var awarded []string
	var errs []error
	for _, def := range e.defs {
		if have[def.ID] {
			continue
		}
		if def.Criterion == nil {
			continue
		}
		fn, ok := e.evaluator(def.Criterion.Kind())
		if !ok {
			errs = append(errs, fmt.Errorf("%s: %w %q", def.ID, domain.ErrUnknownCriterion, def.Criterion.Kind()))
			continue
		}
		met, err := fn(ctx, in, def.Criterion)
		if err != nil {
			errs = append(errs, fmt.Errorf("evaluate %s: %w", def.ID, err))
			continue
		}
		if !met {
			continue
		}
		inserted, err := e.award(ctx, acct.ID, def, in.Now)
		if err != nil {
			errs = append(errs, fmt.Errorf("award %s: %w", def.ID, err))
			continue
		}
		if inserted {
			awarded = append(awarded, def.ID)
		}
	}
	return awarded, errors.Join(errs...)
}

// award records def for accountID. The earned event and reward are written
// only by the call whose insert takes effect.
func (e *Engine) award(ctx context.Context, accountID string, def domain.AchievementDefinition, now time.Time) (bool, error) {
	var inserted bool
	err := e.db.InTx(ctx, func(tx *sqlite.Tx) error {
		var err error
		inserted, err = tx.InsertAward(ctx, domain.AchievementAward{
			AccountID:     accountID,
			AchievementID: def.ID,
			EarnedAt:      now,
		})
		if err != nil || !inserted {
			return err
		}
		if _, err := tx.AppendActivity(ctx, domain.ActivityEvent{
			AccountID: accountID,
			Type:      domain.ActivityAchievementEarned,
			Metadata:  map[string]string{"achievement_id": def.ID, "rarity": string(def.Rarity)},
			CreatedAt: now,
		}); err != nil {
			return err
		}
		if def.RewardCredits > 0 && e.ledger != nil {
			_, err := e.ledger.CreditTx(ctx, tx, accountID, def.RewardCredits, domain.TxBonus,
				"achievement reward: "+def.Name, map[string]string{"achievement_id": def.ID})
			return err
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if inserted {
		observability.AchievementsAwarded.WithLabelValues(def.ID).Inc()
		log.Printf("[achievement] %s earned %s reward=%d", accountID, def.ID, def.RewardCredits)
	}
	return inserted, nil
}

// ─── Built-in Evaluators ────────────────────────────────────────────────────

func evalStatThreshold(_ context.Context, in Input, c domain.Criterion) (bool, error) {
	st, ok := c.(domain.StatThreshold)
	if !ok {
		return false, fmt.Errorf("criterion %T is not a stat threshold", c)
	}
	if !domain.ValidStat(st.Stat) {
		return false, fmt.Errorf("unknown stat %q", st.Stat)
	}
	return in.Stats[st.Stat] >= st.Min, nil
}

// evalJoinedBefore compares the account's creation time with a fixed
// cutoff. It never looks at the current time.
func evalJoinedBefore(_ context.Context, in Input, c domain.Criterion) (bool, error) {
	jb, ok := c.(domain.JoinedBefore)
	if !ok {
		return false, fmt.Errorf("criterion %T is not a join cutoff", c)
	}
	return !in.CreatedAt.IsZero() && in.CreatedAt.Before(jb.Cutoff), nil
}

// evalEventsInWindow scans the last LookbackDays calendar days, today
// included, and succeeds when any single day holds Count or more events of
// the criterion's type.
func (e *Engine) evalEventsInWindow(ctx context.Context, in Input, c domain.Criterion) (bool, error) {
	w, ok := c.(domain.EventsInWindow)
	if !ok {
		return false, fmt.Errorf("criterion %T is not an event window", c)
	}
	if w.Count <= 0 {
		return true, nil
	}
	days := w.LookbackDays
	if days < 1 {
		days = 1
	}
	start := domain.StartOfDay(in.Now, e.loc).AddDate(0, 0, -(days - 1))

	events, err := e.db.ActivitySince(ctx, in.AccountID, w.EventType, start)
	if err != nil {
		return false, err
	}
	perDay := make(map[string]int)
	for _, ev := range events {
		day := domain.DayKey(ev.CreatedAt, e.loc)
		perDay[day]++
		if perDay[day] >= w.Count {
			return true, nil
		}
	}
	return false, nil
}

// ─── Awards ─────────────────────────────────────────────────────────────────

// Awards lists the achievements an account holds.
func (e *Engine) Awards(ctx context.Context, accountID string) ([]domain.AchievementAward, error) {
	return e.db.Awards(ctx, accountID)
}

// Pending lists awards the account has not been notified of yet.
func (e *Engine) Pending(ctx context.Context, accountID string) ([]domain.AchievementAward, error) {
	return e.db.PendingAwards(ctx, accountID)
}

// Activity returns the account's most recent activity events.
func (e *Engine) Activity(ctx context.Context, accountID string, limit int) ([]domain.ActivityEvent, error) {
	return e.db.RecentActivity(ctx, accountID, limit)
}

// MarkNotified flags an award as shown to the account.
func (e *Engine) MarkNotified(ctx context.Context, accountID, achievementID string) error {
	if _, err := e.Definition(achievementID); err != nil {
		return err
	}
	ok, err := e.db.MarkAwardNotified(ctx, accountID, achievementID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrAwardNotFound, achievementID)
	}
	return nil
}
