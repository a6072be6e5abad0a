// Package api provides the HTTP server for Episodia.
// It exposes the ledger, entitlements, achievements and contest voting
// to authenticated callers under /api/v1.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/episodia/episodia/internal/app/achievement"
	"github.com/episodia/episodia/internal/app/entitlement"
	"github.com/episodia/episodia/internal/app/ledger"
	"github.com/episodia/episodia/internal/app/voting"
	"github.com/episodia/episodia/internal/domain"
	"github.com/episodia/episodia/internal/infra/catalog"
	"github.com/episodia/episodia/internal/infra/observability"
)

// Services bundles the application services the API serves.
type Services struct {
	Ledger       *ledger.Service
	Entitlements *entitlement.Service
	Achievements *achievement.Engine
	Voting       *voting.Service
	Catalog      *catalog.Catalog
}

// Pinger reports store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the Episodia HTTP API server.
type Server struct {
	svc            Services
	auth           *Authenticator
	recorder       *observability.Recorder
	store          Pinger
	metricsEnabled bool
}

// NewServer creates a new API server.
func NewServer(svc Services, auth *Authenticator) *Server {
	return &Server{svc: svc, auth: auth}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetRecorder records every API call into rec.
func (s *Server) SetRecorder(rec *observability.Recorder) { s.recorder = rec }

// SetHealthCheck makes /health ping the store.
func (s *Server) SetHealthCheck(p Pinger) { s.store = p }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.recordOperation)

	r.Get("/health", s.handleHealth)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/catalog", s.handleCatalog)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Route("/me", func(r chi.Router) {
				r.Get("/", s.handleMe)
				r.Get("/transactions", s.handleTransactions)
				r.Get("/activity", s.handleActivity)
				r.Post("/unlocks", s.handleUnlock)
				r.Get("/unlocks", s.handleListUnlocks)
				r.Get("/unlocks/{series}/{episode}", s.handleIsUnlocked)
				r.Get("/achievements", s.handleAchievements)
				r.Post("/achievements/evaluate", s.handleEvaluate)
				r.Post("/achievements/{id}/notified", s.handleNotified)
				r.With(requireAdmin).Post("/credits", s.handleCredit)
			})

			r.Route("/contests", func(r chi.Router) {
				r.Get("/", s.handleListContests)
				r.With(requireAdmin).Post("/", s.handleCreateContest)
				r.Get("/packages", s.handlePackages)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetContest)
					r.With(requireAdmin).Post("/status", s.handleSetStatus)
					r.Post("/submissions", s.handleSubmit)
					r.Post("/votes", s.handleCastVote)
					r.Get("/votes", s.handleListVotes)
					r.Post("/daily-claim", s.handleDailyClaim)
					r.Post("/packages/{pkg}", s.handlePurchase)
					r.Get("/allowance", s.handleAllowance)
					r.Get("/leaderboard", s.handleLeaderboard)
				})
			})

			r.Group(func(r chi.Router) {
				r.Use(requireAdmin)
				r.Post("/accounts", s.handleOpenAccount)
				r.Get("/accounts/{account}", s.handleGetAccount)
				r.Get("/accounts/{account}/verify", s.handleVerify)
				r.Get("/admin/operations", s.handleOperations)
			})
		})
	})

	return r
}

// ─── Operation Recording ────────────────────────────────────────────────────

type operationKey struct{}

func operationFrom(ctx context.Context) *observability.Operation {
	op, _ := ctx.Value(operationKey{}).(*observability.Operation)
	return op
}

// recordOperation times every request and records it under its route
// pattern once routing has resolved.
func (s *Server) recordOperation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := observability.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		op := s.recorder.Start(ctx, r.Method+" "+r.URL.Path)
		ctx = context.WithValue(ctx, operationKey{}, op)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			op.Name = r.Method + " " + rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.recorder.Finish(op, status)
	})
}

// ─── Responses ──────────────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    http.StatusText(status),
		},
	})
}

// writeServiceError maps a service error to its HTTP status.
func writeServiceError(w http.ResponseWriter, err error) {
	var ice *domain.InsufficientCreditsError
	if errors.As(err, &ice) {
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"error": map[string]any{
				"message":   err.Error(),
				"type":      "insufficient_credits",
				"balance":   ice.Balance,
				"required":  ice.Required,
				"shortfall": ice.Shortfall(),
			},
		})
		return
	}
	writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrContestNotFound),
		errors.Is(err, domain.ErrSubmissionNotFound),
		errors.Is(err, domain.ErrAchievementNotFound),
		errors.Is(err, domain.ErrAwardNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAllowanceExhausted),
		errors.Is(err, domain.ErrContestNotVoting),
		errors.Is(err, domain.ErrContestClosed),
		errors.Is(err, domain.ErrSubmissionsClosed),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrRequestIDConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrStoreBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrLedgerMismatch):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidKind),
		errors.Is(err, domain.ErrInvalidContent),
		errors.Is(err, domain.ErrInvalidTier),
		errors.Is(err, domain.ErrUnknownPackage):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
