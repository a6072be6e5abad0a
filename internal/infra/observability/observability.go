// Package observability holds the Prometheus collectors for the economy core
// and an in-memory recorder of recent API operations.
//
// Collectors are registered with promauto on the default registry and are
// exported by the API server at /metrics.
package observability

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ═══════════════════════════════════════════════════════════════════════════
// Operation Recorder: recent request outcomes for the admin debug endpoint
// ═══════════════════════════════════════════════════════════════════════════

// Outcome classifies a finished operation.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeRejected Outcome = "rejected" // business rule said no (4xx)
	OutcomeFailed   Outcome = "failed"   // store or internal error (5xx)
)

// Operation is one recorded API operation.
type Operation struct {
	RequestID string        `json:"request_id"`
	Name      string        `json:"name"`
	AccountID string        `json:"account_id,omitempty"`
	Status    int           `json:"status"`
	Outcome   Outcome       `json:"outcome"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
}

// RecorderConfig configures the operation recorder.
type RecorderConfig struct {
	Enabled bool
	MaxOps  int // ring buffer size
}

// DefaultRecorderConfig returns production defaults.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		Enabled: true,
		MaxOps:  1_000,
	}
}

// Recorder keeps the most recent operations in a bounded ring.
type Recorder struct {
	mu      sync.Mutex
	ops     []Operation
	maxOps  int
	enabled bool
}

// NewRecorder creates a recorder.
func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.MaxOps <= 0 {
		cfg.MaxOps = DefaultRecorderConfig().MaxOps
	}
	return &Recorder{
		ops:     make([]Operation, 0, cfg.MaxOps),
		maxOps:  cfg.MaxOps,
		enabled: cfg.Enabled,
	}
}

// Start begins an operation. The request id is taken from ctx when present.
func (r *Recorder) Start(ctx context.Context, name string) *Operation {
	return &Operation{
		RequestID: RequestIDFromContext(ctx),
		Name:      name,
		StartTime: time.Now(),
	}
}

// Finish completes op with its HTTP status and records it.
func (r *Recorder) Finish(op *Operation, status int) {
	if r == nil || op == nil {
		return
	}
	op.Duration = time.Since(op.StartTime)
	op.Status = status
	switch {
	case status >= 500:
		op.Outcome = OutcomeFailed
	case status >= 400:
		op.Outcome = OutcomeRejected
	default:
		op.Outcome = OutcomeOK
	}
	APIRequests.WithLabelValues(op.Name, string(op.Outcome)).Inc()
	APIRequestDuration.WithLabelValues(op.Name).Observe(op.Duration.Seconds())

	if !r.enabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ops) >= r.maxOps {
		r.ops = r.ops[1:]
	}
	r.ops = append(r.ops, *op)
}

// Recent returns up to limit of the most recent operations, oldest first.
// A non-positive limit returns everything held.
func (r *Recorder) Recent(limit int) []Operation {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 || limit > len(r.ops) {
		limit = len(r.ops)
	}
	out := make([]Operation, limit)
	copy(out, r.ops[len(r.ops)-limit:])
	return out
}

// Len returns the number of held operations.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ops)
}

// ─── Context Helpers ────────────────────────────────────────────────────────

type contextKey string

const requestIDKey contextKey = "episodia-request-id"

// WithRequestID returns a context carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request id in ctx, or a fresh one.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v
	}
	return uuid.NewString()
}

// ═══════════════════════════════════════════════════════════════════════════
// Prometheus Metrics
// ═══════════════════════════════════════════════════════════════════════════

// ─── Ledger Metrics ─────────────────────────────────────────────────────────

// LedgerOperations counts ledger mutations by operation and result.
var LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "episodia",
	Subsystem: "ledger",
	Name:      "operations_total",
	Help:      "Ledger operations by op (credit, debit) and result.",
}, []string{"op", "result"})

// CreditsMoved sums credits moved through the ledger by transaction kind.
var CreditsMoved = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "episodia",
	Subsystem: "ledger",
	Name:      "credits_total",
	Help:      "Credits moved by transaction kind.",
}, []string{"kind"})

// ─── Entitlement Metrics ────────────────────────────────────────────────────

// Unlocks counts unlock requests by result (granted, already_unlocked, free, insufficient).
var Unlocks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "episodia",
	Subsystem: "entitlement",
	Name:      "unlocks_total",
	Help:      "Unlock requests by result.",
}, []string{"result"})

// SeriesCompletions counts series completed by unlocks.
var SeriesCompletions = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "episodia",
	Subsystem: "entitlement",
	Name:      "series_completed_total",
	Help:      "Series completed by an unlock.",
})

// ─── Achievement Metrics ────────────────────────────────────────────────────

// AchievementsAwarded counts awards by achievement id.
var AchievementsAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "episodia",
	Subsystem: "achievement",
	Name:      "awarded_total",
	Help:      "Achievements awarded by id.",
}, []string{"achievement"})

// AchievementEvalErrors counts failed best-effort evaluations.
var AchievementEvalErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "episodia",
	Subsystem: "achievement",
	Name:      "evaluation_errors_total",
	Help:      "Achievement evaluations that failed after the triggering write committed.",
})

// ─── Voting Metrics ─────────────────────────────────────────────────────────

// VotesCast counts cast votes by tier.
var VotesCast = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "episodia",
	Subsystem: "voting",
	Name:      "votes_total",
	Help:      "Votes cast by tier.",
}, []string{"tier"})

// DailyClaims counts daily claims by result (granted, already_claimed).
var DailyClaims = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "episodia",
	Subsystem: "voting",
	Name:      "daily_claims_total",
	Help:      "Daily vote claims by result.",
}, []string{"result"})

// PackagePurchases counts vote package purchases by package and result.
var PackagePurchases = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "episodia",
	Subsystem: "voting",
	Name:      "package_purchases_total",
	Help:      "Vote package purchases by package and result (purchased, replayed).",
}, []string{"package", "result"})

// LeaderboardCache counts leaderboard cache lookups by result (hit, miss, error).
var LeaderboardCache = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "episodia",
	Subsystem: "voting",
	Name:      "leaderboard_cache_total",
	Help:      "Leaderboard cache lookups by result.",
}, []string{"result"})

// ─── Store Metrics ──────────────────────────────────────────────────────────

// StoreRetries counts transaction attempts retried on lock contention.
var StoreRetries = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "episodia",
	Subsystem: "store",
	Name:      "tx_retries_total",
	Help:      "Store transactions retried after SQLITE_BUSY or SQLITE_LOCKED.",
})

// StoreBusyFailures counts transactions that exhausted their retries.
var StoreBusyFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "episodia",
	Subsystem: "store",
	Name:      "tx_busy_failures_total",
	Help:      "Store transactions abandoned after exhausting retries.",
})

// StoreTxDuration observes wall time of InTx including retries.
var StoreTxDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "episodia",
	Subsystem: "store",
	Name:      "tx_duration_seconds",
	Help:      "Store transaction duration including retries.",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
})

// ─── API Metrics ────────────────────────────────────────────────────────────

// APIRequests counts API requests by route name and outcome.
var APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "episodia",
	Subsystem: "api",
	Name:      "requests_total",
	Help:      "API requests by operation and outcome.",
}, []string{"op", "outcome"})

// APIRequestDuration observes API latency by route name.
var APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "episodia",
	Subsystem: "api",
	Name:      "request_duration_seconds",
	Help:      "API request latency by operation.",
	Buckets:   prometheus.DefBuckets,
}, []string{"op"})
