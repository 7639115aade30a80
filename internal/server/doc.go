// Package server provides HTTP routing, middleware, OAuth handling and the JSON API of the dashboard.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] method patterns ("GET /api/groups/{name}").
//
// # OAuth Callback Handler
//
// [OAuthHandler] serves /login and /callback. Each login gets a single-use state token; the callback
// validates it, exchanges the code, runs the OnToken hook and publishes the result on a channel, which
// lets the same handler serve both the long-running server and the one-shot auth command.
//
// # API
//
// [APIHandler] exposes:
//   - GET /api/current-track : playing (or last played) track with its liked flag
//   - GET /api/groups, GET /api/groups/{name} : configured groups and their rows, dividers included
//   - GET /api/playlists, /api/tracker-playlists, /api/queue-playlists : group aliases
//   - GET /api/check-playlists?track_uri= : tracked playlists containing a track
//   - POST /api/playlist/toggle : add or remove one track, liking or unliking it
//   - POST /api/playlist/toggle-album : add or remove a whole album in batches
//   - GET /api/status : population progress and cache size
//
// Errors are JSON objects with an "error" key. Rate limits answer 429 with "retry_after" in seconds;
// a toggle whose playlist change stood but whose follow-up failed answers 502 with "applied": true.
package server
