package membership

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/nowplaying/internal/models"
	"github.com/desertthunder/nowplaying/internal/shared"
	"github.com/samber/lo"
)

// BatchSize bounds the tracks carried by one remote playlist mutation.
const BatchSize = 100

// Mutator is the remote side of a toggle.
type Mutator interface {
	AddToPlaylist(ctx context.Context, playlistID string, refs ...models.TrackRef) error
	RemoveFromPlaylist(ctx context.Context, playlistID string, refs ...models.TrackRef) error
	SaveTracks(ctx context.Context, refs ...models.TrackRef) error
	UnsaveTracks(ctx context.Context, refs ...models.TrackRef) error
	AlbumTracks(ctx context.Context, albumID string) ([]models.TrackRef, error)
}

// Stage names the step of a toggle that failed.
type Stage string

const (
	StagePlaylist Stage = "playlist"
	StageLibrary  Stage = "library"
	StageAlbum    Stage = "album"
)

// MutationError reports a failed toggle. Applied is true when the remote playlist had already been
// changed, in which case nothing is rolled back and the caller may retry the same toggle.
type MutationError struct {
	Stage   Stage
	Applied bool
	Err     error
}

func (e *MutationError) Error() string {
	if e.Applied {
		return fmt.Sprintf("playlist updated but %s step failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s mutation failed, nothing changed: %v", e.Stage, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

// Outcome describes a completed (or, alongside an applied [MutationError], partially completed) toggle.
type Outcome struct {
	PlaylistID   string
	Action       models.Action
	Tracks       int  // tracks sent to the remote playlist successfully
	LikedChanged bool // the liked collection was modified
	Message      string
}

// Coordinator applies toggles so the remote playlist, the cache and the liked collection stay in step.
type Coordinator struct {
	cache    *Cache
	registry *Registry
	remote   Mutator
	logger   *log.Logger
}

func NewCoordinator(cache *Cache, registry *Registry, remote Mutator, logger *log.Logger) *Coordinator {
	return &Coordinator{cache: cache, registry: registry, remote: remote, logger: logger}
}

// validateTarget checks the playlist and returns the canonical form of action.
func validateTarget(playlistID string, action models.Action) (models.Action, error) {
	if playlistID == "" {
		return "", fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}
	if playlistID == models.DividerID {
		return "", fmt.Errorf("%w: dividers cannot be modified", shared.ErrInvalidInput)
	}
	return models.ParseAction(string(action))
}

// Apply adds or removes one track.
//
// Add likes the track. Remove unlikes it only when no other tracked playlist's cache entry still holds it,
// evaluated after this playlist's entry has been patched.
func (c *Coordinator) Apply(ctx context.Context, playlistID string, ref models.TrackRef, action models.Action) (*Outcome, error) {
	action, err := validateTarget(playlistID, action)
	if err != nil {
		return nil, err
	}
	if ref, err = models.NormalizeTrackRef(string(ref)); err != nil {
		return nil, err
	}

	logger := c.logger.With("playlist", playlistID, "track", ref, "action", action)
	out := &Outcome{PlaylistID: playlistID, Action: action}

	switch action {
	case models.ActionAdd:
		if err := c.remote.AddToPlaylist(ctx, playlistID, ref); err != nil {
			logger.Error("add to playlist failed", "error", err)
			return nil, &MutationError{Stage: StagePlaylist, Err: err}
		}
		out.Tracks = 1
		c.cache.Add(playlistID, ref)

		if err := c.remote.SaveTracks(ctx, ref); err != nil {
			logger.Error("like failed after playlist add", "error", err)
			out.Message = "Added to playlist, but liking the song failed."
			return out, &MutationError{Stage: StageLibrary, Applied: true, Err: err}
		}
		out.LikedChanged = true
		out.Message = "Added to playlist and Liked Songs."
		logger.Info("track added")
		return out, nil
	case models.ActionRemove:
		return c.remove(ctx, logger, out, ref)
	default:
		return nil, fmt.Errorf("%w: %q", shared.ErrInvalidAction, action)
	}
}

func (c *Coordinator) remove(ctx context.Context, logger *log.Logger, out *Outcome, ref models.TrackRef) (*Outcome, error) {
	playlistID := out.PlaylistID
	if err := c.remote.RemoveFromPlaylist(ctx, playlistID, ref); err != nil {
		logger.Error("remove from playlist failed", "error", err)
		return nil, &MutationError{Stage: StagePlaylist, Err: err}
	}
	out.Tracks = 1
	c.cache.Remove(playlistID, ref)

	if holder, ok := c.heldElsewhere(playlistID, ref); ok {
		out.Message = "Removed from playlist."
		logger.Info("track removed, still liked", "held_by", holder)
		return out, nil
	}

	if err := c.remote.UnsaveTracks(ctx, ref); err != nil {
		logger.Error("unlike failed after playlist remove", "error", err)
		out.Message = "Removed from playlist, but unliking the song failed."
		return out, &MutationError{Stage: StageLibrary, Applied: true, Err: err}
	}
	out.LikedChanged = true
	out.Message = "Removed from playlist and unliked (not in any other playlists)."
	logger.Info("track removed and unliked")
	return out, nil
}

// heldElsewhere looks for ref in the cache entry of any tracked playlist other than playlistID.
func (c *Coordinator) heldElsewhere(playlistID string, ref models.TrackRef) (string, bool) {
	for _, p := range c.registry.Tracked() {
		if p.ID == playlistID {
			continue
		}
		if contained, _ := c.cache.Contains(p.ID, ref); contained {
			return p.ID, true
		}
	}
	return "", false
}

// ApplyAlbum adds or removes every track of an album in batches of [BatchSize].
// The liked collection is not touched. The cache is patched after each successful batch, so a failure
// midway leaves it matching what the remote playlist received.
func (c *Coordinator) ApplyAlbum(ctx context.Context, playlistID, albumID string, action models.Action) (*Outcome, error) {
	action, err := validateTarget(playlistID, action)
	if err != nil {
		return nil, err
	}
	if albumID == "" {
		return nil, fmt.Errorf("%w: album id", shared.ErrMissingArgument)
	}

	logger := c.logger.With("playlist", playlistID, "album", albumID, "action", action)

	refs, err := c.remote.AlbumTracks(ctx, albumID)
	if err != nil {
		logger.Error("album fetch failed", "error", err)
		return nil, &MutationError{Stage: StageAlbum, Err: err}
	}
	if len(refs) == 0 {
		return nil, &MutationError{Stage: StageAlbum, Err: fmt.Errorf("%w: no tracks found in album", shared.ErrNotFound)}
	}

	out := &Outcome{PlaylistID: playlistID, Action: action}
	for i, batch := range lo.Chunk(refs, BatchSize) {
		var err error
		if action == models.ActionAdd {
			err = c.remote.AddToPlaylist(ctx, playlistID, batch...)
		} else {
			err = c.remote.RemoveFromPlaylist(ctx, playlistID, batch...)
		}
		if err != nil {
			logger.Error("album batch failed", "batch", i, "sent", out.Tracks, "error", err)
			if out.Tracks == 0 {
				return nil, &MutationError{Stage: StagePlaylist, Err: err}
			}
			out.Message = fmt.Sprintf("Applied %d of %d album tracks before failing.", out.Tracks, len(refs))
			return out, &MutationError{Stage: StagePlaylist, Applied: true, Err: err}
		}

		if action == models.ActionAdd {
			c.cache.Add(playlistID, batch...)
		} else {
			c.cache.Remove(playlistID, batch...)
		}
		out.Tracks += len(batch)
	}

	if action == models.ActionAdd {
		out.Message = fmt.Sprintf("Added %d tracks from album to playlist.", out.Tracks)
	} else {
		out.Message = fmt.Sprintf("Removed %d tracks from album from playlist.", out.Tracks)
	}
	logger.Info("album applied", "tracks", out.Tracks)
	return out, nil
}
