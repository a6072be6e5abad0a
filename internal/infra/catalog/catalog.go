// Package catalog is the read-only content catalog: which series exist, how
// many episodes each has, what an episode costs and which episodes are free.
//
// The catalog is loaded from a TOML file owned by the content team:
//
//	default_episode_cost = 30
//
//	[[series]]
//	id            = "night-shift"
//	title         = "Night Shift"
//	episodes      = 12
//	episode_cost  = 40
//	free_episodes = [2]
//
// Episode 1 of every series is free regardless of the file.
package catalog

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/episodia/episodia/internal/domain"
)

// Series is one catalog entry.
type Series struct {
	ID           string `toml:"id" json:"id"`
	Title        string `toml:"title" json:"title"`
	Episodes     int    `toml:"episodes" json:"episodes"`
	EpisodeCost  int64  `toml:"episode_cost" json:"episode_cost"`
	FreeEpisodes []int  `toml:"free_episodes" json:"free_episodes,omitempty"`
}

type file struct {
	DefaultEpisodeCost int64    `toml:"default_episode_cost"`
	Series             []Series `toml:"series"`
}

// Catalog implements domain.ContentCatalog over a static series list.
type Catalog struct {
	defaultCost int64
	series      map[string]*Series
	free        map[domain.ContentRef]bool
}

var _ domain.ContentCatalog = (*Catalog)(nil)

// DefaultEpisodeCost applies to series that set no episode_cost.
const DefaultEpisodeCost int64 = 30

// Load reads a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes a catalog from TOML.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if _, err := toml.Decode(string(data), &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return New(f.DefaultEpisodeCost, f.Series)
}

// New builds a catalog from series entries. A non-positive defaultCost uses
// DefaultEpisodeCost.
func New(defaultCost int64, series []Series) (*Catalog, error) {
	if defaultCost <= 0 {
		defaultCost = DefaultEpisodeCost
	}
	c := &Catalog{
		defaultCost: defaultCost,
		series:      make(map[string]*Series, len(series)),
		free:        make(map[domain.ContentRef]bool),
	}
	for i := range series {
		s := series[i]
		s.ID = strings.TrimSpace(s.ID)
		if s.ID == "" {
			return nil, fmt.Errorf("catalog series #%d has no id", i+1)
		}
		if s.Episodes < 1 {
			return nil, fmt.Errorf("catalog series %q has no episodes", s.ID)
		}
		if s.EpisodeCost < 0 {
			return nil, fmt.Errorf("catalog series %q has a negative episode cost", s.ID)
		}
		if _, dup := c.series[s.ID]; dup {
			return nil, fmt.Errorf("catalog series %q is listed twice", s.ID)
		}
		if s.EpisodeCost == 0 {
			s.EpisodeCost = defaultCost
		}
		for _, ep := range s.FreeEpisodes {
			if ep < 1 || ep > s.Episodes {
				return nil, fmt.Errorf("catalog series %q marks episode %d free, outside 1..%d", s.ID, ep, s.Episodes)
			}
			c.free[domain.ContentRef{SeriesID: s.ID, Episode: ep}] = true
		}
		c.series[s.ID] = &s
	}
	return c, nil
}

// Builtin returns the catalog used when no file is configured.
func Builtin() *Catalog {
	c, err := New(DefaultEpisodeCost, []Series{
		{ID: "night-shift", Title: "Night Shift", Episodes: 12, EpisodeCost: 30},
		{ID: "paper-moons", Title: "Paper Moons", Episodes: 8, EpisodeCost: 25, FreeEpisodes: []int{2}},
		{ID: "last-orbit", Title: "Last Orbit", Episodes: 3, EpisodeCost: 50},
	})
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup returns a series by id, or nil.
func (c *Catalog) Lookup(seriesID string) *Series {
	return c.series[seriesID]
}

// List returns every series sorted by id.
func (c *Catalog) List() []Series {
	out := make([]Series, 0, len(c.series))
	for _, s := range c.series {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IsFree reports whether ref is an opening episode or flagged free.
func (c *Catalog) IsFree(ref domain.ContentRef) bool {
	return ref.FirstEpisode() || c.free[ref]
}

// EpisodeCount returns the episode count of a series, or 0 if unknown.
func (c *Catalog) EpisodeCount(seriesID string) int {
	if s := c.series[seriesID]; s != nil {
		return s.Episodes
	}
	return 0
}

// Cost returns the unlock price of ref. Free episodes cost 0. Unknown
// series and out-of-range episodes fail with domain.ErrInvalidContent.
func (c *Catalog) Cost(ref domain.ContentRef) (int64, error) {
	if err := ref.Validate(); err != nil {
		return 0, err
	}
	s := c.series[ref.SeriesID]
	if s == nil {
		return 0, fmt.Errorf("%w: unknown series %q", domain.ErrInvalidContent, ref.SeriesID)
	}
	if ref.Episode > s.Episodes {
		return 0, fmt.Errorf("%w: %s has %d episodes", domain.ErrInvalidContent, s.ID, s.Episodes)
	}
	if c.IsFree(ref) {
		return 0, nil
	}
	return s.EpisodeCost, nil
}
