package membership

import (
	"slices"
	"sync"

	"github.com/desertthunder/nowplaying/internal/models"
	"github.com/samber/lo"
)

// Registry holds the tracked playlist groups by name, in registration order.
type Registry struct {
	mu     sync.RWMutex
	groups map[string]models.Group
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{groups: make(map[string]models.Group)}
}

// SetGroup registers or replaces a group.
func (r *Registry) SetGroup(g models.Group) {
	g.Playlists = slices.Clone(g.Playlists)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[g.Name]; !ok {
		r.order = append(r.order, g.Name)
	}
	r.groups[g.Name] = g
}

func (r *Registry) Group(name string) (models.Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[name]
	if !ok {
		return models.Group{}, false
	}
	g.Playlists = slices.Clone(g.Playlists)
	return g, true
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Tracked returns every real playlist across all groups, each id once.
func (r *Registry) Tracked() []models.Playlist {
	r.mu.RLock()
	rows := lo.FlatMap(r.order, func(name string, _ int) []models.Playlist {
		return r.groups[name].Playlists
	})
	r.mu.RUnlock()

	return models.TrackedPlaylists(rows)
}

// Lookup finds a tracked playlist by id.
func (r *Registry) Lookup(playlistID string) (models.Playlist, bool) {
	return lo.Find(r.Tracked(), func(p models.Playlist) bool { return p.ID == playlistID })
}
