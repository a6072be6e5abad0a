// Package daemon loads configuration and wires the Episodia services.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/episodia/episodia/internal/domain"
)

// Config is the top-level configuration, read from ~/.episodia/config.toml
// and then overridden by EPISODIA_* environment variables.
type Config struct {
	API     APIConfig     `toml:"api" envPrefix:"API_"`
	Storage StorageConfig `toml:"storage" envPrefix:"STORAGE_"`
	Auth    AuthConfig    `toml:"auth" envPrefix:"AUTH_"`
	Economy EconomyConfig `toml:"economy" envPrefix:"ECONOMY_"`
	Voting  VotingConfig  `toml:"voting" envPrefix:"VOTING_"`
	Catalog CatalogConfig `toml:"catalog" envPrefix:"CATALOG_"`
	Cache   CacheConfig   `toml:"cache" envPrefix:"CACHE_"`
	Metrics MetricsConfig `toml:"metrics" envPrefix:"METRICS_"`
}

// APIConfig controls the HTTP listener.
type APIConfig struct {
	Host            string `toml:"host" env:"HOST"`
	Port            int    `toml:"port" env:"PORT"`
	ShutdownTimeout string `toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// StorageConfig controls the SQLite store.
type StorageConfig struct {
	Dir              string `toml:"dir" env:"DIR"`
	TxRetries        uint   `toml:"tx_retries" env:"TX_RETRIES"`
	RetryMaxInterval string `toml:"retry_max_interval" env:"RETRY_MAX_INTERVAL"`
}

// AuthConfig holds the bearer-token verification settings shared with the
// identity provider.
type AuthConfig struct {
	Secret string `toml:"secret" env:"SECRET"`
	Issuer string `toml:"issuer" env:"ISSUER"`
}

// EconomyConfig controls the credit ledger and calendar.
type EconomyConfig struct {
	// TimeZone defines "today" for daily claims and binge windows.
	TimeZone      string `toml:"time_zone" env:"TIME_ZONE"`
	StartingBonus int64  `toml:"starting_bonus" env:"STARTING_BONUS"`
	HistoryLimit  int    `toml:"history_limit" env:"HISTORY_LIMIT"`
}

// VotingConfig controls vote packages and streak bonuses.
type VotingConfig struct {
	Packages         []domain.VotePackage `toml:"packages"`
	StreakBonuses    []domain.StreakBonus `toml:"streak_bonuses"`
	LeaderboardLimit int                  `toml:"leaderboard_limit" env:"LEADERBOARD_LIMIT"`
}

// CatalogConfig points at the content catalog file. An empty path uses the
// built-in catalog.
type CatalogConfig struct {
	Path string `toml:"path" env:"PATH"`
}

// CacheConfig selects the leaderboard cache backend: "memory", "redis" or
// "none".
type CacheConfig struct {
	Backend       string `toml:"backend" env:"BACKEND"`
	TTL           string `toml:"ttl" env:"TTL"`
	RedisAddr     string `toml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `toml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `toml:"redis_db" env:"REDIS_DB"`
}

// MetricsConfig controls /metrics and the operation recorder.
type MetricsConfig struct {
	Enabled      bool `toml:"enabled" env:"ENABLED"`
	RecorderSize int  `toml:"recorder_size" env:"RECORDER_SIZE"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:            "127.0.0.1",
			Port:            8420,
			ShutdownTimeout: "10s",
		},
		Storage: StorageConfig{
			Dir:              "",
			TxRetries:        6,
			RetryMaxInterval: "250ms",
		},
		Economy: EconomyConfig{
			TimeZone:      "UTC",
			StartingBonus: 0,
			HistoryLimit:  100,
		},
		Voting: VotingConfig{
			Packages:         domain.DefaultVotePackages(),
			StreakBonuses:    domain.DefaultStreakBonuses(),
			LeaderboardLimit: 50,
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     "30s",
		},
		Metrics: MetricsConfig{
			Enabled:      true,
			RecorderSize: 1000,
		},
	}
}

// Home returns the Episodia data directory: $EPISODIA_HOME or ~/.episodia.
func Home() string {
	if h := os.Getenv("EPISODIA_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".episodia"
	}
	return filepath.Join(home, ".episodia")
}

// ConfigPath returns the default config file location.
func ConfigPath() string {
	return filepath.Join(Home(), "config.toml")
}

// LoadConfig reads path (or the default location when empty), applies
// environment overrides and validates the result. A missing file is not an
// error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	explicit := path != ""
	if !explicit {
		path = ConfigPath()
	}

	if _, err := os.Stat(path); err == nil {
		// Slices from the file replace the defaults instead of merging.
		cfg.Voting.Packages = nil
		cfg.Voting.StreakBonuses = nil
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		if cfg.Voting.Packages == nil {
			cfg.Voting.Packages = domain.DefaultVotePackages()
		}
		if cfg.Voting.StreakBonuses == nil {
			cfg.Voting.StreakBonuses = domain.DefaultStreakBonuses()
		}
	} else if explicit || !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "EPISODIA_"}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = Home()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail at first use.
func (c Config) Validate() error {
	var errs []error
	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api.port %d out of range", c.API.Port))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.Economy.StartingBonus < 0 {
		errs = append(errs, fmt.Errorf("economy.starting_bonus must not be negative"))
	}
	seen := make(map[string]bool)
	for _, p := range c.Voting.Packages {
		if p.ID == "" || p.Price <= 0 || p.Votes.Total() == 0 {
			errs = append(errs, fmt.Errorf("voting package %q needs an id, a positive price and votes", p.ID))
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("duplicate voting package %q", p.ID))
		}
		seen[p.ID] = true
	}
	for _, b := range c.Voting.StreakBonuses {
		if b.Every <= 0 {
			errs = append(errs, fmt.Errorf("streak bonus interval must be positive"))
		}
	}
	switch c.Cache.Backend {
	case "memory", "none":
	case "redis":
		if c.Cache.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("cache.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.Cache.Backend))
	}
	for name, v := range map[string]string{
		"api.shutdown_timeout":       c.API.ShutdownTimeout,
		"storage.retry_max_interval": c.Storage.RetryMaxInterval,
		"cache.ttl":                  c.Cache.TTL,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Location resolves the economy time zone.
func (c Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Economy.TimeZone)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("economy.time_zone: %w", err)
	}
	return loc, nil
}

// Addr returns the listen address.
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// parseDuration parses s, falling back to def for empty or bad values.
func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
