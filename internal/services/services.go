// package services defines interface Service for the remote music library
//
// Spotify
package services

import (
	"context"

	"github.com/desertthunder/nowplaying/internal/models"
	"golang.org/x/oauth2"
)

// Service defines the remote operations the dashboard needs: full collection fetches, membership scans,
// playlist and library mutations and playback state.
type Service interface {
	// GetPlaylists retrieves every playlist the authenticated user owns or follows.
	GetPlaylists(ctx context.Context) ([]Playlist, error)

	// PlaylistTracks fetches the complete set of track references in a playlist.
	// Any page failure aborts the fetch; partial results are never returned.
	PlaylistTracks(ctx context.Context, playlistID string) (models.TrackSet, error)

	// PlaylistContains scans a playlist page by page and stops at the first match.
	PlaylistContains(ctx context.Context, playlistID string, ref models.TrackRef) (bool, error)

	// AlbumTracks returns an album's track references in album order.
	AlbumTracks(ctx context.Context, albumID string) ([]models.TrackRef, error)

	// AddToPlaylist appends up to [MaxPlaylistBatch] tracks to a playlist.
	AddToPlaylist(ctx context.Context, playlistID string, refs ...models.TrackRef) error

	// RemoveFromPlaylist removes every occurrence of up to [MaxPlaylistBatch] tracks.
	RemoveFromPlaylist(ctx context.Context, playlistID string, refs ...models.TrackRef) error

	// SaveTracks adds tracks to the user's liked collection.
	SaveTracks(ctx context.Context, refs ...models.TrackRef) error

	// UnsaveTracks removes tracks from the user's liked collection.
	UnsaveTracks(ctx context.Context, refs ...models.TrackRef) error

	// TracksSaved reports, in order, whether each track is in the liked collection.
	TracksSaved(ctx context.Context, refs ...models.TrackRef) ([]bool, error)

	// CurrentTrack returns the playing track, or the most recently played one.
	// Returns nil without error when there is neither.
	CurrentTrack(ctx context.Context) (*models.CurrentTrack, error)

	// Name returns the name of the service (e.g., "Spotify")
	Name() string
}

// OAuthService extends [Service] for providers authorized through an OAuth2 code flow.
type OAuthService interface {
	Service

	// GetAuthURL returns the provider's consent URL carrying state.
	GetAuthURL(state string) string

	// GetOAuthConfig exposes the client configuration used for exchanges.
	GetOAuthConfig() *oauth2.Config

	// OAuthenticate exchanges an authorization code and installs the resulting token.
	OAuthenticate(ctx context.Context, code string) (*oauth2.Token, error)

	// SetToken installs a previously stored token.
	SetToken(token *oauth2.Token)

	// Token returns the installed token, or nil.
	Token() *oauth2.Token

	// Authenticated reports whether a token is installed.
	Authenticated() bool
}

// Playlist is a playlist as listed in the user's library.
type Playlist struct {
	ID          string
	Name        string
	Description string
	TrackCount  int
	Public      bool
}
