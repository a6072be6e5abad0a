// Package entitlement grants per-episode access in exchange for credits.
//
// An unlock is one store transaction: conditional insert of the entitlement,
// then (only if the insert took effect) the debit, the unlock stats and the
// activity event. A repeated or concurrent unlock of the same episode finds
// the row already present and touches nothing else, so an account is never
// charged twice for one episode.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/episodia/episodia/internal/app/ledger"
	"github.com/episodia/episodia/internal/domain"
	"github.com/episodia/episodia/internal/infra/observability"
	"github.com/episodia/episodia/internal/infra/sqlite"
)

// Service grants and answers entitlements.
type Service struct {
	db           *sqlite.DB
	ledger       *ledger.Service
	catalog      domain.ContentCatalog
	now          domain.Clock
	achievements domain.AchievementEvaluator
}

// New creates an entitlement service.
func New(db *sqlite.DB, l *ledger.Service, catalog domain.ContentCatalog) *Service {
	return &Service{db: db, ledger: l, catalog: catalog, now: time.Now}
}

// WithClock replaces the service clock.
func (s *Service) WithClock(c domain.Clock) *Service {
	s.now = c
	return s
}

// SetAchievements wires the evaluator run after each fresh unlock.
func (s *Service) SetAchievements(ev domain.AchievementEvaluator) {
	s.achievements = ev
}

// Unlock grants accountID access to ref for cost credits. Free content
// (opening episodes and catalog-flagged episodes) is granted at cost 0.
// Unlocking already-held content returns Granted and AlreadyUnlocked without
// touching the ledger. Insufficient credits fail with *domain.InsufficientCreditsError
// and leave no trace.
func (s *Service) Unlock(ctx context.Context, accountID string, ref domain.ContentRef, cost int64) (domain.UnlockResult, error) {
	if err := ref.Validate(); err != nil {
		return domain.UnlockResult{}, err
	}
	if cost < 0 {
		return domain.UnlockResult{}, fmt.Errorf("%w: negative cost %d", domain.ErrInvalidAmount, cost)
	}
	free := s.isFree(ref)
	if free {
		cost = 0
	}

	var res domain.UnlockResult
	err := s.db.InTx(ctx, func(tx *sqlite.Tx) error {
		res = domain.UnlockResult{}
		ok, err := tx.AccountExists(ctx, accountID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrAccountNotFound
		}

		now := s.now()
		inserted, err := tx.InsertEntitlement(ctx, domain.Entitlement{
			AccountID: accountID,
			Content:   ref,
			Cost:      cost,
			GrantedAt: now,
		})
		if err != nil {
			return err
		}
		if !inserted {
			acct, err := tx.Account(ctx, accountID)
			if err != nil {
				return err
			}
			res = domain.UnlockResult{Granted: true, AlreadyUnlocked: true, BalanceAfter: acct.Balance}
			return nil
		}

		if cost > 0 {
			entry, err := s.ledger.DebitTx(ctx, tx, accountID, cost, "unlock "+ref.String(),
				map[string]string{"series_id": ref.SeriesID, "episode": strconv.Itoa(ref.Episode)})
			if err != nil {
				return err
			}
			res.BalanceAfter = entry.BalanceAfter
		} else {
			acct, err := tx.Account(ctx, accountID)
			if err != nil {
				return err
			}
			res.BalanceAfter = acct.Balance
		}
		res.Granted = true

		if err := tx.BumpStat(ctx, accountID, domain.StatEpisodesUnlocked, 1); err != nil {
			return err
		}
		if _, err := tx.AppendActivity(ctx, domain.ActivityEvent{
			AccountID: accountID,
			Type:      domain.ActivityEpisodeUnlocked,
			Metadata: map[string]string{
				"series_id": ref.SeriesID,
				"episode":   strconv.Itoa(ref.Episode),
				"cost":      strconv.FormatInt(cost, 10),
			},
			CreatedAt: now,
		}); err != nil {
			return err
		}

		completed, err := s.completesSeries(ctx, tx, accountID, ref)
		if err != nil {
			return err
		}
		if completed {
			res.SeriesCompleted = true
			return tx.BumpStat(ctx, accountID, domain.StatSeriesCompleted, 1)
		}
		return nil
	})
	s.observe(res, free, err)
	if err != nil {
		return domain.UnlockResult{}, fmt.Errorf("unlock %s: %w", ref, err)
	}

	fresh := res.Granted && !res.AlreadyUnlocked
	if fresh {
		log.Printf("[entitlement] %s unlocked %s cost=%d balance=%d", accountID, ref, cost, res.BalanceAfter)
		if res.SeriesCompleted {
			log.Printf("[entitlement] %s completed series %s", accountID, ref.SeriesID)
		}
		s.reevaluate(ctx, accountID)
	}
	return res, nil
}

// UnlockPriced is Unlock at the catalog price of ref.
func (s *Service) UnlockPriced(ctx context.Context, accountID string, ref domain.ContentRef) (domain.UnlockResult, error) {
	if s.catalog == nil {
		return domain.UnlockResult{}, fmt.Errorf("unlock %s: no content catalog configured", ref)
	}
	cost, err := s.catalog.Cost(ref)
	if err != nil {
		return domain.UnlockResult{}, err
	}
	return s.Unlock(ctx, accountID, ref, cost)
}

// IsUnlocked reports whether accountID may watch ref. Free content is always
// unlocked; everything else needs a stored entitlement.
func (s *Service) IsUnlocked(ctx context.Context, accountID string, ref domain.ContentRef) (bool, error) {
	if err := ref.Validate(); err != nil {
		return false, err
	}
	if s.isFree(ref) {
		return true, nil
	}
	return s.db.HasEntitlement(ctx, accountID, ref)
}

// List returns the account's stored entitlements, optionally for one series.
func (s *Service) List(ctx context.Context, accountID, seriesID string) ([]domain.Entitlement, error) {
	return s.db.Entitlements(ctx, accountID, seriesID)
}

func (s *Service) isFree(ref domain.ContentRef) bool {
	if ref.FirstEpisode() {
		return true
	}
	return s.catalog != nil && s.catalog.IsFree(ref)
}

// completesSeries reports whether the just-inserted ref is the grant that
// makes every episode of its series unlocked. Free episodes count as
// unlocked without a stored row. Series unknown to the catalog never
// complete.
func (s *Service) completesSeries(ctx context.Context, tx *sqlite.Tx, accountID string, ref domain.ContentRef) (bool, error) {
	if s.catalog == nil {
		return false, nil
	}
	n := s.catalog.EpisodeCount(ref.SeriesID)
	if n == 0 || ref.Episode > n {
		return false, nil
	}
	held, err := tx.SeriesEpisodes(ctx, accountID, ref.SeriesID)
	if err != nil {
		return false, err
	}

	unlocked := func(ep int, withNew bool) bool {
		if ep == ref.Episode {
			return withNew || s.isFree(ref)
		}
		return held[ep] || s.isFree(domain.ContentRef{SeriesID: ref.SeriesID, Episode: ep})
	}
	before, after := true, true
	for ep := 1; ep <= n; ep++ {
		if !unlocked(ep, false) {
			before = false
		}
		if !unlocked(ep, true) {
			after = false
		}
	}
	return after && !before, nil
}

func (s *Service) observe(res domain.UnlockResult, free bool, err error) {
	var result string
	switch {
	case errors.Is(err, domain.ErrInsufficientCredits):
		result = "insufficient"
	case err != nil:
		result = "error"
	case res.AlreadyUnlocked:
		result = "already_unlocked"
	case free:
		result = "free"
	default:
		result = "granted"
	}
	observability.Unlocks.WithLabelValues(result).Inc()
	if res.SeriesCompleted {
		observability.SeriesCompletions.Inc()
	}
}

func (s *Service) reevaluate(ctx context.Context, accountID string) {
	if s.achievements == nil {
		return
	}
	if _, err := s.achievements.EvaluateAccount(ctx, accountID); err != nil {
		observability.AchievementEvalErrors.Inc()
		log.Printf("[entitlement] achievement evaluation for %s failed: %v", accountID, err)
	}
}
