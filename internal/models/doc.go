// Package models defines the domain values shared by the dashboard's cache, services and handlers.
//
//   - [TrackRef] : canonical "spotify:track:<id>" reference, normalizable from a bare id or an open.spotify.com link
//   - [TrackSet] : set of track references; the value type of a playlist's cache entry
//   - [Playlist] : a playlist row of a dashboard view, or a divider placeholder used only for grouping
//   - [Group] : one dashboard view (dashboard, tracker, queue) and its ordered rows
//   - [Action] : add or remove, as requested by a toggle
//   - [CurrentTrack] : what the user is listening to, or last listened to
//
// Dividers never carry a cache entry. [Group.Tracked] is the only way callers should enumerate playlists for cache, fetch
// or mutation work.
package models
