package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/episodia/episodia/internal/domain"
	"github.com/episodia/episodia/internal/infra/observability"
)

// ─── Episodia REST API ──────────────────────────────────────────────────────
//
// GET  /api/v1/me                               account, balance, stats
// GET  /api/v1/me/transactions                  credit history (?since, ?limit)
// GET  /api/v1/me/activity                      recent activity (?limit)
// POST /api/v1/me/unlocks                       unlock an episode at catalog price
// GET  /api/v1/me/unlocks                       stored entitlements (?series)
// GET  /api/v1/me/unlocks/{series}/{episode}    access check
// GET  /api/v1/me/achievements                  catalog with earned state
// POST /api/v1/me/achievements/evaluate         re-evaluate now
// POST /api/v1/me/achievements/{id}/notified    mark an award shown
// POST /api/v1/me/credits                       admin credit grant
// POST /api/v1/contests/{id}/votes              cast a vote
// POST /api/v1/contests/{id}/daily-claim        claim the daily free vote
// POST /api/v1/contests/{id}/packages/{pkg}     buy votes (Idempotency-Key)
// GET  /api/v1/contests/{id}/allowance          remaining votes + streak
// GET  /api/v1/contests/{id}/leaderboard        ranked submissions (?limit)

func (s *Server) caller(r *http.Request) string {
	p, _ := principalFrom(r.Context())
	return p.AccountID
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if s.svc.Catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"series": s.svc.Catalog.List()})
}

// ─── Account & Ledger ───────────────────────────────────────────────────────

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	acct, err := s.svc.Ledger.Account(r.Context(), s.caller(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = t
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	txs, err := s.svc.Ledger.History(r.Context(), s.caller(r), since, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	events, err := s.svc.Achievements.Activity(r.Context(), s.caller(r), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

type creditRequest struct {
	AccountID   string                 `json:"account_id"`
	Amount      int64                  `json:"amount"`
	Kind        domain.TransactionKind `json:"kind"`
	Description string                 `json:"description"`
}

// handleCredit grants credits to account_id, or to the caller when omitted.
func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.AccountID == "" {
		req.AccountID = s.caller(r)
	}
	if req.Kind == "" {
		req.Kind = domain.TxPurchase
	}
	balance, err := s.svc.Ledger.Credit(r.Context(), req.AccountID, req.Amount, req.Kind, req.Description, nil)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account_id": req.AccountID, "balance": balance})
}

type openAccountRequest struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	acct, created, err := s.svc.Ledger.OpenAccount(r.Context(), req.ID, req.CreatedAt)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, acct)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.svc.Ledger.Account(r.Context(), chi.URLParam(r, "account"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "account")
	if err := s.svc.Ledger.Verify(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account_id": id, "consistent": true})
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	if limit <= 0 {
		limit = 100
	}
	ops := []observability.Operation{}
	if s.recorder != nil {
		ops = s.recorder.Recent(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": ops})
}

// ─── Entitlements ───────────────────────────────────────────────────────────

type unlockRequest struct {
	SeriesID string `json:"series_id"`
	Episode  int    `json:"episode"`
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	ref := domain.ContentRef{SeriesID: req.SeriesID, Episode: req.Episode}
	res, err := s.svc.Entitlements.UnlockPriced(r.Context(), s.caller(r), ref)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListUnlocks(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Entitlements.List(r.Context(), s.caller(r), r.URL.Query().Get("series"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entitlements": list})
}

func (s *Server) handleIsUnlocked(w http.ResponseWriter, r *http.Request) {
	episode, err := strconv.Atoi(chi.URLParam(r, "episode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "episode must be a number")
		return
	}
	ref := domain.ContentRef{SeriesID: chi.URLParam(r, "series"), Episode: episode}
	ok, err := s.svc.Entitlements.IsUnlocked(r.Context(), s.caller(r), ref)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"series_id": ref.SeriesID, "episode": ref.Episode, "unlocked": ok})
}

// ─── Achievements ───────────────────────────────────────────────────────────

type achievementResponse struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	Rarity        domain.Rarity `json:"rarity"`
	RewardCredits int64         `json:"reward_credits"`
	Earned        bool          `json:"earned"`
	EarnedAt      *time.Time    `json:"earned_at,omitempty"`
	Notified      bool          `json:"notified"`
}

func (s *Server) handleAchievements(w http.ResponseWriter, r *http.Request) {
	awards, err := s.svc.Achievements.Awards(r.Context(), s.caller(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	byID := make(map[string]domain.AchievementAward, len(awards))
	for _, a := range awards {
		byID[a.AchievementID] = a
	}

	defs := s.svc.Achievements.Definitions()
	out := make([]achievementResponse, 0, len(defs))
	earned := 0
	for _, d := range defs {
		resp := achievementResponse{
			ID:            d.ID,
			Name:          d.Name,
			Description:   d.Description,
			Rarity:        d.Rarity,
			RewardCredits: d.RewardCredits,
		}
		if a, ok := byID[d.ID]; ok {
			at := a.EarnedAt
			resp.Earned = true
			resp.EarnedAt = &at
			resp.Notified = a.Notified
			earned++
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"achievements": out,
		"earned":       earned,
		"total":        len(defs),
	})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	awarded, err := s.svc.Achievements.EvaluateAccount(r.Context(), s.caller(r))
	if err != nil && len(awarded) == 0 {
		writeServiceError(w, err)
		return
	}
	if awarded == nil {
		awarded = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"awarded": awarded})
}

func (s *Server) handleNotified(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.Achievements.MarkNotified(r.Context(), s.caller(r), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"achievement_id": id, "notified": true})
}

// ─── Contests ───────────────────────────────────────────────────────────────

func (s *Server) handleListContests(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Voting.Contests(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contests": list})
}

func (s *Server) handleCreateContest(w http.ResponseWriter, r *http.Request) {
	var c domain.Contest
	if err := decodeJSON(w, r, &c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	created, err := s.svc.Voting.CreateContest(r.Context(), c)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetContest(w http.ResponseWriter, r *http.Request) {
	c, err := s.svc.Voting.Contest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handlePackages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"packages": s.svc.Voting.Packages()})
}

type statusRequest struct {
	Status domain.ContestStatus `json:"status"`
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	c, err := s.svc.Voting.SetStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type submitRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	sub, err := s.svc.Voting.Submit(r.Context(), chi.URLParam(r, "id"), s.caller(r), req.Title)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

type voteRequest struct {
	SubmissionID string `json:"submission_id"`
	Tier         string `json:"tier"`
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	tier, err := domain.ParseVoteTier(req.Tier)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	res, err := s.svc.Voting.CastVote(r.Context(), chi.URLParam(r, "id"), req.SubmissionID, s.caller(r), tier)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListVotes(w http.ResponseWriter, r *http.Request) {
	votes, err := s.svc.Voting.Votes(r.Context(), chi.URLParam(r, "id"), s.caller(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"votes": votes})
}

func (s *Server) handleDailyClaim(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Voting.ClaimDailyVote(r.Context(), chi.URLParam(r, "id"), s.caller(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Voting.PurchaseVotePackage(r.Context(),
		chi.URLParam(r, "id"), s.caller(r), chi.URLParam(r, "pkg"), r.Header.Get("Idempotency-Key"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAllowance(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.Voting.Allowance(r.Context(), chi.URLParam(r, "id"), s.caller(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	entries, err := s.svc.Voting.Leaderboard(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// queryInt reads an optional integer query parameter. It writes a 400 and
// returns ok=false when the value is malformed.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}
