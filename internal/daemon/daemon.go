package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/episodia/episodia/internal/api"
	"github.com/episodia/episodia/internal/app/achievement"
	"github.com/episodia/episodia/internal/app/entitlement"
	"github.com/episodia/episodia/internal/app/ledger"
	"github.com/episodia/episodia/internal/app/voting"
	"github.com/episodia/episodia/internal/domain"
	"github.com/episodia/episodia/internal/infra/cache"
	"github.com/episodia/episodia/internal/infra/catalog"
	"github.com/episodia/episodia/internal/infra/observability"
	"github.com/episodia/episodia/internal/infra/sqlite"
)

// Daemon holds the wired services. The CLI uses it directly for one-shot
// commands; Serve runs the HTTP API on top of it.
type Daemon struct {
	Config       Config
	DB           *sqlite.DB
	Catalog      *catalog.Catalog
	Ledger       *ledger.Service
	Entitlements *entitlement.Service
	Achievements *achievement.Engine
	Voting       *voting.Service
	Recorder     *observability.Recorder

	cache  domain.LeaderboardCache
	redis  *cache.Redis
	closed bool
}

// New opens the store and wires every service from cfg.
func New(ctx context.Context, cfg Config) (*Daemon, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	cat := catalog.Builtin()
	if cfg.Catalog.Path != "" {
		cat, err = catalog.Load(cfg.Catalog.Path)
		if err != nil {
			return nil, err
		}
	}

	retry := sqlite.DefaultRetryConfig()
	if cfg.Storage.TxRetries > 0 {
		retry.MaxAttempts = cfg.Storage.TxRetries
	}
	retry.MaxInterval = parseDuration(cfg.Storage.RetryMaxInterval, retry.MaxInterval)
	db, err := sqlite.OpenWithRetry(cfg.Storage.Dir, retry)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	d := &Daemon{Config: cfg, DB: db, Catalog: cat}

	ttl := parseDuration(cfg.Cache.TTL, cache.DefaultTTL)
	switch cfg.Cache.Backend {
	case "redis":
		r, err := cache.DialRedis(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, ttl)
		if err != nil {
			db.Close()
			return nil, err
		}
		d.redis = r
		d.cache = r
	case "none":
		d.cache = cache.Noop{}
	default:
		d.cache = cache.NewMemory(ttl)
	}

	d.Ledger = ledger.New(ledger.Config{
		StartingBonus: cfg.Economy.StartingBonus,
		HistoryLimit:  cfg.Economy.HistoryLimit,
	}, db)
	d.Achievements = achievement.New(achievement.Config{Location: loc}, db, d.Ledger, nil)
	d.Entitlements = entitlement.New(db, d.Ledger, cat)
	d.Voting = voting.New(voting.Config{
		Location:         loc,
		Packages:         cfg.Voting.Packages,
		StreakBonuses:    cfg.Voting.StreakBonuses,
		LeaderboardLimit: cfg.Voting.LeaderboardLimit,
	}, db, d.Ledger, d.cache)

	d.Ledger.SetAchievements(d.Achievements)
	d.Entitlements.SetAchievements(d.Achievements)
	d.Voting.SetAchievements(d.Achievements)

	d.Recorder = observability.NewRecorder(observability.RecorderConfig{
		Enabled: cfg.Metrics.Enabled,
		MaxOps:  cfg.Metrics.RecorderSize,
	})
	return d, nil
}

// Close releases the store and cache.
func (d *Daemon) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	var errs []error
	if d.redis != nil {
		errs = append(errs, d.redis.Close())
	}
	errs = append(errs, d.DB.Close())
	return errors.Join(errs...)
}

// Handler builds the HTTP API.
func (d *Daemon) Handler() (http.Handler, error) {
	auth, err := api.NewAuthenticator(d.Config.Auth.Secret, d.Config.Auth.Issuer)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	srv := api.NewServer(api.Services{
		Ledger:       d.Ledger,
		Entitlements: d.Entitlements,
		Achievements: d.Achievements,
		Voting:       d.Voting,
		Catalog:      d.Catalog,
	}, auth)
	srv.SetRecorder(d.Recorder)
	srv.SetHealthCheck(d.DB)
	if d.Config.Metrics.Enabled {
		srv.EnableMetrics()
	}
	return srv.Handler(), nil
}

// Serve runs the HTTP API until ctx is cancelled, then shuts down
// gracefully.
func (d *Daemon) Serve(ctx context.Context) error {
	h, err := d.Handler()
	if err != nil {
		return err
	}
	httpSrv := &http.Server{
		Addr:              d.Config.API.Addr(),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("[daemon] listening on %s (store %s)", httpSrv.Addr, d.Config.Storage.Dir)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := parseDuration(d.Config.API.ShutdownTimeout, 10*time.Second)
		shutCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		log.Printf("[daemon] shutting down")
		return httpSrv.Shutdown(shutCtx)
	})
	return g.Wait()
}
