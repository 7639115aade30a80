// Package services defines the [Service] interface for the remote music library and implements it for Spotify.
//
// # Spotify Implementation
//
// [SpotifyService] uses OAuth2 for authentication with automatic token refresh. Tokens issued or refreshed by the
// transport are reported through [SpotifyService.SetTokenRefreshCallback] so they can be persisted.
//
// Listings are fetched by following the "next" URL of each page until it is null. Page sizes are the API maxima:
// 100 for playlist items, 50 for the playlist catalog and album tracks.
//
// # OAuth Service Extension
//
// The [OAuthService] interface extends Service for OAuth providers.
//
// [SpotifyService] implements this for the authorization code flow used by the CLI and the server.
//
// # Error Handling
//
// Requests are bounded by a timeout and never retried. Failures map onto the shared taxonomy:
//   - [shared.ErrRemoteUnavailable] : transport failure, timeout or 5xx
//   - [shared.RateLimitError] : 429, carrying the Retry-After hint (default 5s)
//   - [shared.ErrNotFound] : 404
//   - [shared.ErrTokenExpired], [shared.ErrNotAuthenticated] : 401 or a failed refresh
//   - [shared.APIError] : any other non-2xx status
package services
