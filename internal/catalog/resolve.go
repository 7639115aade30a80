package catalog

import (
	"github.com/desertthunder/nowplaying/internal/models"
	"github.com/desertthunder/nowplaying/internal/shared"
)

const maxSuggestions = 3

// Unresolved is a definition whose source name is not in the library.
type Unresolved struct {
	Definition
	Suggestions []string
}

// GroupResolution is a group built from its definitions.
type GroupResolution struct {
	Group      models.Group
	Unresolved []Unresolved
	Overridden []string // source names pinned by an override
}

// Resolve matches definitions against the catalog. An override for a source name wins over the name lookup.
// With g.Dedupe set, a display name is kept only the first time it resolves.
func Resolve(cat *Catalog, g shared.GroupConfig, defs []Definition) *GroupResolution {
	res := &GroupResolution{Group: models.Group{Name: g.Name, Playlists: []models.Playlist{}}}
	seen := make(map[string]bool, len(defs))

	for _, d := range defs {
		if d.Divider {
			res.Group.Playlists = append(res.Group.Playlists, models.Divider())
			continue
		}
		if g.Dedupe && seen[d.DisplayName] {
			continue
		}

		id, ok := g.Overrides[d.SourceName]
		if ok {
			res.Overridden = append(res.Overridden, d.SourceName)
		} else {
			id, ok = cat.Lookup(d.SourceName)
		}
		if !ok {
			res.Unresolved = append(res.Unresolved, Unresolved{
				Definition:  d,
				Suggestions: cat.Suggest(d.SourceName, maxSuggestions),
			})
			continue
		}

		res.Group.Playlists = append(res.Group.Playlists, models.Playlist{
			ID:         id,
			Name:       d.DisplayName,
			SourceName: d.SourceName,
		})
		seen[d.DisplayName] = true
	}
	return res
}
