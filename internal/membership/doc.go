// Package membership answers "which tracked playlists contain this track" and keeps that answer in sync with edits.
//
//   - [Cache] : playlist id to track set, where an absent key means "not yet populated" and an empty set means
//     "populated and empty"
//   - [Registry] : the playlist groups (dashboard views) currently tracked, dividers included for display
//   - [Resolver] : membership queries; cached playlists are answered from memory, cold playlists by a live scan
//   - [Coordinator] : add/remove toggles that mutate the remote playlist, patch the cache and maintain the
//     liked collection
//
// # Consistency
//
// Every Cache operation holds one lock, so a background [Cache.Set] never interleaves with a foreground
// [Cache.Add] or [Cache.Remove] on the same key. Reads across keys (the orphan check on remove) are not
// transactional and may observe a population run midway.
//
// # Orphan rule
//
// Removing a track from a playlist unlikes it only when no other tracked playlist's cache entry contains it.
// Cold playlists are not scanned, so a track present only in a cold playlist is unliked.
package membership
