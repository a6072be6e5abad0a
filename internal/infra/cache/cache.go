// Package cache holds leaderboard cache backends.
//
// Each contest's cached leaderboards live under one Redis hash keyed by
// contest, one field per requested limit, so invalidating a contest is a
// single DEL no matter how many limits were served. A per-contest
// generation counter, bumped by every invalidation, guards the fill.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/episodia/episodia/internal/domain"
)

// DefaultTTL bounds how stale a cached leaderboard may get if an
// invalidation is lost.
const DefaultTTL = 30 * time.Second

const (
	keyPrefix = "episodia:leaderboard:"
	genPrefix = "episodia:leaderboard-gen:"
)

// ─── Redis ──────────────────────────────────────────────────────────────────

// Redis is a LeaderboardCache backed by a Redis server.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

var _ domain.LeaderboardCache = (*Redis)(nil)

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

// DialRedis connects to addr and checks the connection.
func DialRedis(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewRedis(client, ttl), nil
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func contestKey(contestID string) string {
	return keyPrefix + contestID
}

func genKey(contestID string) string {
	return genPrefix + contestID
}

// readGen reads a generation counter; a missing key is generation 0.
func readGen(cmd *redis.StringCmd) (uint64, error) {
	n, err := cmd.Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// Get returns the cached leaderboard for (contestID, limit), or on a miss
// the contest's current generation.
func (r *Redis) Get(ctx context.Context, contestID string, limit int) ([]domain.LeaderboardEntry, uint64, bool, error) {
	var field, gen *redis.StringCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		field = p.HGet(ctx, contestKey(contestID), strconv.Itoa(limit))
		gen = p.Get(ctx, genKey(contestID))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, false, fmt.Errorf("get leaderboard %s: %w", contestID, err)
	}
	g, err := readGen(gen)
	if err != nil {
		return nil, 0, false, fmt.Errorf("get leaderboard generation %s: %w", contestID, err)
	}
	raw, err := field.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, g, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("get leaderboard %s: %w", contestID, err)
	}
	var entries []domain.LeaderboardEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, 0, false, fmt.Errorf("decode leaderboard %s: %w", contestID, err)
	}
	return entries, g, true, nil
}

// Set caches a leaderboard computed at generation gen and refreshes the
// contest key's expiry. The write is skipped when the contest has been
// invalidated since.
func (r *Redis) Set(ctx context.Context, contestID string, limit int, gen uint64, entries []domain.LeaderboardEntry) (bool, error) {
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return false, fmt.Errorf("encode leaderboard %s: %w", contestID, err)
	}
	key, gk := contestKey(contestID), genKey(contestID)
	stored := false
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := readGen(tx.Get(ctx, gk))
		if err != nil {
			return err
		}
		if cur != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, strconv.Itoa(limit), raw)
			p.Expire(ctx, key, r.ttl)
			return nil
		})
		stored = err == nil
		return err
	}, gk)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("set leaderboard %s: %w", contestID, err)
	}
	return stored, nil
}

// Invalidate bumps the contest's generation and drops every cached limit.
func (r *Redis) Invalidate(ctx context.Context, contestID string) error {
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, genKey(contestID))
		p.Del(ctx, contestKey(contestID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate leaderboard %s: %w", contestID, err)
	}
	return nil
}

// ─── Memory ─────────────────────────────────────────────────────────────────

type memEntry struct {
	entries []domain.LeaderboardEntry
	expires time.Time
}

// Memory is an in-process LeaderboardCache for single-node deployments.
type Memory struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]map[int]memEntry
	gens  map[string]uint64
}

var _ domain.LeaderboardCache = (*Memory)(nil)

// NewMemory creates an in-process cache.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]map[int]memEntry),
		gens:  make(map[string]uint64),
	}
}

func (m *Memory) Get(_ context.Context, contestID string, limit int) ([]domain.LeaderboardEntry, uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gen := m.gens[contestID]
	e, ok := m.items[contestID][limit]
	if !ok || m.now().After(e.expires) {
		return nil, gen, false, nil
	}
	out := make([]domain.LeaderboardEntry, len(e.entries))
	copy(out, e.entries)
	return out, gen, true, nil
}

func (m *Memory) Set(_ context.Context, contestID string, limit int, gen uint64, entries []domain.LeaderboardEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gens[contestID] != gen {
		return false, nil
	}
	byLimit, ok := m.items[contestID]
	if !ok {
		byLimit = make(map[int]memEntry)
		m.items[contestID] = byLimit
	}
	stored := make([]domain.LeaderboardEntry, len(entries))
	copy(stored, entries)
	byLimit[limit] = memEntry{entries: stored, expires: m.now().Add(m.ttl)}
	return true, nil
}

func (m *Memory) Invalidate(_ context.Context, contestID string) error {
	m.mu.Lock()
	m.gens[contestID]++
	delete(m.items, contestID)
	m.mu.Unlock()
	return nil
}

// ─── Noop ───────────────────────────────────────────────────────────────────

// Noop never caches.
type Noop struct{}

var _ domain.LeaderboardCache = Noop{}

func (Noop) Get(context.Context, string, int) ([]domain.LeaderboardEntry, uint64, bool, error) {
	return nil, 0, false, nil
}

func (Noop) Set(context.Context, string, int, uint64, []domain.LeaderboardEntry) (bool, error) {
	return false, nil
}

func (Noop) Invalidate(context.Context, string) error { return nil }
