package catalog

import (
	"context"
	"fmt"
	"sort"

	"github.com/desertthunder/nowplaying/internal/services"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/samber/lo"
)

// Lister lists the user's playlist library.
type Lister interface {
	GetPlaylists(ctx context.Context) ([]services.Playlist, error)
}

// Entry is a playlist in the library.
type Entry struct {
	ID   string
	Name string
}

// Catalog indexes the library by name and id.
type Catalog struct {
	entries []Entry
	byName  map[string]string
	byID    map[string]Entry
	ids     map[string][]string
}

// NewCatalog indexes entries in listing order. When names repeat, [Catalog.Lookup] returns the last one.
func NewCatalog(entries []Entry) *Catalog {
	c := &Catalog{
		entries: entries,
		byName:  make(map[string]string, len(entries)),
		byID:    make(map[string]Entry, len(entries)),
		ids:     make(map[string][]string, len(entries)),
	}
	for _, e := range entries {
		c.byName[e.Name] = e.ID
		c.byID[e.ID] = e
		c.ids[e.Name] = append(c.ids[e.Name], e.ID)
	}
	return c
}

// FetchCatalog lists every playlist in the library.
func FetchCatalog(ctx context.Context, lister Lister) (*Catalog, error) {
	playlists, err := lister.GetPlaylists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch playlist catalog: %w", err)
	}
	return NewCatalog(lo.Map(playlists, func(p services.Playlist, _ int) Entry {
		return Entry{ID: p.ID, Name: p.Name}
	})), nil
}

func (c *Catalog) Len() int { return len(c.entries) }

func (c *Catalog) Lookup(name string) (string, bool) {
	id, ok := c.byName[name]
	return id, ok
}

func (c *Catalog) Get(id string) (Entry, bool) {
	e, ok := c.byID[id]
	return e, ok
}

// IDs returns every playlist id listed under name, in listing order.
func (c *Catalog) IDs(name string) []string {
	return c.ids[name]
}

// Duplicates maps every name owning more than one playlist to its ids.
func (c *Catalog) Duplicates() map[string][]string {
	return lo.PickBy(c.ids, func(_ string, ids []string) bool { return len(ids) > 1 })
}

// Suggest returns up to n library names closest to name, case-insensitively.
func (c *Catalog) Suggest(name string, n int) []string {
	names := lo.Uniq(lo.Map(c.entries, func(e Entry, _ int) string { return e.Name }))

	ranks := fuzzy.RankFindNormalizedFold(name, names)
	if len(ranks) == 0 {
		// fall back to matching the other way round for long or decorated source names
		for _, candidate := range names {
			if fuzzy.MatchNormalizedFold(candidate, name) {
				ranks = append(ranks, fuzzy.Rank{Target: candidate, Distance: len(name) - len(candidate)})
			}
		}
	}
	sort.Sort(ranks)

	out := make([]string, 0, min(n, len(ranks)))
	for _, r := range ranks {
		if len(out) == n {
			break
		}
		out = append(out, r.Target)
	}
	return out
}
