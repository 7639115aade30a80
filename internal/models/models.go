// package models defines the data model for the now-playing dashboard
package models

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/desertthunder/nowplaying/internal/shared"
)

// TrackURIPrefix is the canonical prefix of a track reference.
const TrackURIPrefix = "spotify:track:"

// DividerID is the placeholder identifier carried by divider rows.
const DividerID = "DIVIDER"

// TrackRef is a canonical track URI ("spotify:track:<id>"), comparable by value.
type TrackRef string

// NormalizeTrackRef converts a bare id, a track URI or an open.spotify.com track link to a [TrackRef].
func NormalizeTrackRef(raw string) (TrackRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty track reference", shared.ErrInvalidInput)
	}

	switch {
	case strings.HasPrefix(raw, TrackURIPrefix):
		raw = strings.TrimPrefix(raw, TrackURIPrefix)
	case strings.HasPrefix(raw, "spotify:"):
		return "", fmt.Errorf("%w: %q is not a track", shared.ErrInvalidInput, raw)
	case strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://"):
		u, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) < 2 || parts[len(parts)-2] != "track" {
			return "", fmt.Errorf("%w: %q is not a track link", shared.ErrInvalidInput, raw)
		}
		raw = parts[len(parts)-1]
	}

	if raw == "" || strings.ContainsAny(raw, ":/ ") {
		return "", fmt.Errorf("%w: malformed track id %q", shared.ErrInvalidInput, raw)
	}
	return TrackRef(TrackURIPrefix + raw), nil
}

// ID returns the bare track id.
func (t TrackRef) ID() string {
	return strings.TrimPrefix(string(t), TrackURIPrefix)
}

func (t TrackRef) String() string { return string(t) }

// TrackSet is an unordered set of track references.
type TrackSet map[TrackRef]struct{}

// NewTrackSet builds a set from refs, dropping duplicates.
func NewTrackSet(refs ...TrackRef) TrackSet {
	s := make(TrackSet, len(refs))
	for _, r := range refs {
		s[r] = struct{}{}
	}
	return s
}

func (s TrackSet) Has(ref TrackRef) bool {
	_, ok := s[ref]
	return ok
}

func (s TrackSet) Add(refs ...TrackRef) {
	for _, r := range refs {
		s[r] = struct{}{}
	}
}

func (s TrackSet) Remove(refs ...TrackRef) {
	for _, r := range refs {
		delete(s, r)
	}
}

func (s TrackSet) Len() int { return len(s) }

// Clone returns an independent copy.
func (s TrackSet) Clone() TrackSet {
	c := make(TrackSet, len(s))
	for r := range s {
		c[r] = struct{}{}
	}
	return c
}

// Slice returns the members in sorted order.
func (s TrackSet) Slice() []TrackRef {
	out := make([]TrackRef, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Playlist is one row of a dashboard view.
type Playlist struct {
	ID         string `json:"id"`
	Name       string `json:"name"`         // display name
	SourceName string `json:"spotify_name"` // name as known to Spotify
	IsDivider  bool   `json:"is_divider"`
}

// Divider returns a placeholder row used purely for grouping.
func Divider() Playlist {
	return Playlist{ID: DividerID, Name: DividerID, SourceName: DividerID, IsDivider: true}
}

// Group is a named dashboard view and its rows in display order.
type Group struct {
	Name      string     `json:"name"`
	Playlists []Playlist `json:"playlists"`
}

// Tracked returns the group's real playlists: dividers removed, each id once.
func (g Group) Tracked() []Playlist {
	return TrackedPlaylists(g.Playlists)
}

// TrackedPlaylists filters dividers out of rows and keeps the first row for every id.
func TrackedPlaylists(rows []Playlist) []Playlist {
	seen := make(map[string]bool, len(rows))
	out := make([]Playlist, 0, len(rows))
	for _, p := range rows {
		if p.IsDivider || p.ID == "" || seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	return out
}

// Action is a toggle direction.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// ParseAction validates a toggle action.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionAdd, ActionRemove:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", shared.ErrInvalidAction, s)
	}
}

// CurrentTrack is the currently playing (or most recently played) track.
type CurrentTrack struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Artist     string   `json:"artist"`
	Album      string   `json:"album"`
	AlbumID    string   `json:"album_id,omitempty"`
	AlbumCover string   `json:"album_cover,omitempty"`
	IsLiked    bool     `json:"is_liked"`
	IsPlaying  bool     `json:"is_playing"`
	URI        TrackRef `json:"uri"`
}
