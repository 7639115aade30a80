package membership

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/nowplaying/internal/models"
)

// Scanner tests a single playlist for a track against the remote service.
type Scanner interface {
	PlaylistContains(ctx context.Context, playlistID string, ref models.TrackRef) (bool, error)
}

// Resolution is the answer to a membership query.
type Resolution struct {
	Track       models.TrackRef
	Active      []string         // playlists containing the track, in query order
	LiveChecked []string         // cold playlists that were scanned remotely
	Failed      map[string]error // cold playlists whose scan failed; omitted from Active
}

// Resolver answers membership queries from the cache, falling back to live scans for cold playlists.
// Live scans never populate the cache: a scan that stops at the first match is not a complete snapshot.
type Resolver struct {
	cache    *Cache
	registry *Registry
	remote   Scanner
	logger   *log.Logger
}

func NewResolver(cache *Cache, registry *Registry, remote Scanner, logger *log.Logger) *Resolver {
	return &Resolver{cache: cache, registry: registry, remote: remote, logger: logger}
}

// Resolve returns the subset of playlists containing raw, a track id, URI or link.
// Dividers and repeated ids are ignored. A failed live scan is logged and omitted.
func (r *Resolver) Resolve(ctx context.Context, raw string, playlists []models.Playlist) (*Resolution, error) {
	ref, err := models.NormalizeTrackRef(raw)
	if err != nil {
		return nil, err
	}

	res := &Resolution{Track: ref, Active: []string{}, Failed: map[string]error{}}
	tracked := models.TrackedPlaylists(playlists)
	hits := make([]bool, len(tracked))
	var cold []int

	for i, p := range tracked {
		contained, cached := r.cache.Contains(p.ID, ref)
		if !cached {
			cold = append(cold, i)
			continue
		}
		hits[i] = contained
	}

	for _, i := range cold {
		id := tracked[i].ID
		res.LiveChecked = append(res.LiveChecked, id)

		found, err := r.remote.PlaylistContains(ctx, id, ref)
		if err != nil {
			r.logger.Warn("live scan failed", "playlist", id, "track", ref, "error", err)
			res.Failed[id] = err
			continue
		}
		r.logger.Debug("live scan", "playlist", id, "track", ref, "found", found)
		hits[i] = found
	}

	for i, p := range tracked {
		if hits[i] {
			res.Active = append(res.Active, p.ID)
		}
	}

	return res, nil
}

// ActivePlaylists resolves raw against every tracked playlist.
func (r *Resolver) ActivePlaylists(ctx context.Context, raw string) (*Resolution, error) {
	return r.Resolve(ctx, raw, r.registry.Tracked())
}
