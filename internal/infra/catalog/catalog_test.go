package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/episodia/episodia/internal/domain"
)

const sampleCatalog = `
default_episode_cost = 20

[[series]]
id = "night-shift"
title = "Night Shift"
episodes = 12
episode_cost = 40
free_episodes = [2]

[[series]]
id = "short-film"
title = "Short Film"
episodes = 1

[[series]]
id = "budget"
title = "Budget Series"
episodes = 4
`

func TestParse_CostAndFree(t *testing.T) {
	c, err := Parse([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	tests := []struct {
		ref  domain.ContentRef
		want int64
	}{
		{domain.ContentRef{SeriesID: "night-shift", Episode: 1}, 0},
		{domain.ContentRef{SeriesID: "night-shift", Episode: 2}, 0},
		{domain.ContentRef{SeriesID: "night-shift", Episode: 3}, 40},
		{domain.ContentRef{SeriesID: "night-shift", Episode: 12}, 40},
		{domain.ContentRef{SeriesID: "budget", Episode: 4}, 20},
		{domain.ContentRef{SeriesID: "short-film", Episode: 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.ref.String(), func(t *testing.T) {
			got, err := c.Cost(tt.ref)
			if err != nil {
				t.Fatalf("Cost() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Cost() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCost_InvalidContent(t *testing.T) {
	c, _ := Parse([]byte(sampleCatalog))
	refs := []domain.ContentRef{
		{SeriesID: "unknown", Episode: 2},
		{SeriesID: "night-shift", Episode: 13},
		{SeriesID: "night-shift", Episode: 0},
	}
	for _, ref := range refs {
		if _, err := c.Cost(ref); !errors.Is(err, domain.ErrInvalidContent) {
			t.Errorf("Cost(%s) error = %v, want ErrInvalidContent", ref, err)
		}
	}
}

func TestEpisodeCount(t *testing.T) {
	c, _ := Parse([]byte(sampleCatalog))
	if got := c.EpisodeCount("night-shift"); got != 12 {
		t.Errorf("EpisodeCount(night-shift) = %d, want 12", got)
	}
	if got := c.EpisodeCount("unknown"); got != 0 {
		t.Errorf("EpisodeCount(unknown) = %d, want 0", got)
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing id", "[[series]]\nepisodes = 3\n"},
		{"no episodes", "[[series]]\nid = \"x\"\n"},
		{"free out of range", "[[series]]\nid = \"x\"\nepisodes = 3\nfree_episodes = [4]\n"},
		{"duplicate", "[[series]]\nid = \"x\"\nepisodes = 3\n[[series]]\nid = \"x\"\nepisodes = 2\n"},
		{"bad toml", "[[series\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); err == nil {
				t.Error("Parse() should fail")
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.toml")
	if err := os.WriteFile(path, []byte(sampleCatalog), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(c.List()) != 3 {
		t.Errorf("List() len = %d, want 3", len(c.List()))
	}
	if c.Lookup("budget").EpisodeCost != 20 {
		t.Errorf("budget EpisodeCost = %d, want default 20", c.Lookup("budget").EpisodeCost)
	}
}

func TestBuiltinNotEmpty(t *testing.T) {
	c := Builtin()
	if len(c.List()) == 0 {
		t.Fatal("Builtin() catalog is empty")
	}
	for _, s := range c.List() {
		if s.Title == "" {
			t.Errorf("series %q has no title", s.ID)
		}
	}
}
