// Spotify API implementation of [Service]
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/desertthunder/nowplaying/internal/models"
	"github.com/desertthunder/nowplaying/internal/shared"
	"github.com/samber/lo"
	"golang.org/x/oauth2"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"
)

const (
	// MaxPlaylistBatch is the largest number of tracks one playlist mutation may carry.
	MaxPlaylistBatch = 100
	// MaxLibraryBatch is the largest number of ids one library call may carry.
	MaxLibraryBatch = 50

	playlistItemsPageSize = 100
	playlistListPageSize  = 50
	albumTracksPageSize   = 50

	defaultRequestTimeout = 10 * time.Second
)

// Scopes requested during authorization.
var Scopes = []string{
	"user-read-private",
	"user-read-playback-state",
	"user-read-recently-played",
	"user-library-read",
	"user-library-modify",
	"playlist-read-private",
	"playlist-read-collaborative",
	"playlist-modify-public",
	"playlist-modify-private",
}

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Country     string `json:"country"`
	Product     string `json:"product"` // premium, free, etc.
}

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Artists    []SpotifyArtist `json:"artists"`
	Album      *SpotifyAlbum   `json:"album"`
	DurationMS int             `json:"duration_ms"`
	URI        string          `json:"uri"`
}

// SpotifyArtist represents a Spotify artist.
type SpotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// SpotifyAlbum represents a Spotify album.
type SpotifyAlbum struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Images []SpotifyImage `json:"images"`
	URI    string         `json:"uri"`
}

type Owner struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type simplePlaylistTrack struct {
	Total int `json:"total"`
}

// SpotifySimplePlaylist represents a simplified playlist object (used in lists).
type SpotifySimplePlaylist struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Owner       Owner               `json:"owner"`
	Public      bool                `json:"public"`
	Tracks      simplePlaylistTrack `json:"tracks"`
	URI         string              `json:"uri"`
}

// SpotifyPlaylistItem represents a track within a playlist context. Track is nil for unavailable items.
type SpotifyPlaylistItem struct {
	Track *struct {
		URI string `json:"uri"`
	} `json:"track"`
}

// SpotifySimpleTrack is the track shape returned by album track listings.
type SpotifySimpleTrack struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

// SpotifyPage is one page of any paginated listing.
type SpotifyPage[T any] struct {
	Items  []T     `json:"items"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
	Next   *string `json:"next"`
}

type currentlyPlaying struct {
	IsPlaying bool          `json:"is_playing"`
	Item      *SpotifyTrack `json:"item"`
}

type playHistory struct {
	Track SpotifyTrack `json:"track"`
}

type errorBody struct {
	Error struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

var _ OAuthService = (*SpotifyService)(nil)

// SpotifyService implements the Service interface for Spotify API interactions.
// Uses [oauth2] for authentication and keeps the installed token fresh through the oauth2 transport.
type SpotifyService struct {
	config         *oauth2.Config
	baseURL        string
	timeout        time.Duration
	credentials    map[string]string
	onTokenRefresh func(*oauth2.Token)

	mu         sync.RWMutex
	token      *oauth2.Token
	source     *refreshableTokenSource
	httpClient *http.Client
}

// Option configures a [SpotifyService].
type Option func(*SpotifyService)

// WithBaseURL points API calls at another host, such as a test server.
func WithBaseURL(baseURL string) Option {
	return func(s *SpotifyService) { s.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithTimeout bounds every request. Zero keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(s *SpotifyService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithEndpoint overrides the authorization server endpoints.
func WithEndpoint(endpoint oauth2.Endpoint) Option {
	return func(s *SpotifyService) { s.config.Endpoint = endpoint }
}

// NewSpotifyService creates a new Spotify service with the given OAuth2 credentials.
func NewSpotifyService(credentials map[string]string, opts ...Option) (*SpotifyService, error) {
	clientID, ok := credentials["client_id"]
	if !ok || clientID == "" {
		return nil, fmt.Errorf("%w: missing client_id", shared.ErrMissingCredentials)
	}

	clientSecret, ok := credentials["client_secret"]
	if !ok || clientSecret == "" {
		return nil, fmt.Errorf("%w: missing client_secret", shared.ErrMissingCredentials)
	}

	redirectURI, ok := credentials["redirect_uri"]
	if !ok || redirectURI == "" {
		redirectURI = "http://127.0.0.1:8888/callback"
	}

	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyAuthURL,
			TokenURL: spotifyTokenURL,
		},
	}

	s := &SpotifyService{
		config:      config,
		baseURL:     spotifyBaseURL,
		timeout:     defaultRequestTimeout,
		credentials: credentials,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SpotifyService) Name() string {
	return "Spotify"
}

// GetAuthURL returns the OAuth2 authorization URL for user login.
func (s *SpotifyService) GetAuthURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

func (s *SpotifyService) GetOAuthConfig() *oauth2.Config {
	return s.config
}

// SetTokenRefreshCallback registers fn to receive every new access token, including refreshed ones.
// Must be called before a token is installed.
func (s *SpotifyService) SetTokenRefreshCallback(fn func(*oauth2.Token)) {
	s.onTokenRefresh = fn
}

// Authenticate installs a token from credentials. Expects either an "access_token" or "auth_code".
func (s *SpotifyService) Authenticate(ctx context.Context, credentials map[string]string) error {
	if accessToken, ok := credentials["access_token"]; ok && accessToken != "" {
		s.SetToken(&oauth2.Token{AccessToken: accessToken, RefreshToken: credentials["refresh_token"]})
		return nil
	}

	if authCode, ok := credentials["auth_code"]; ok && authCode != "" {
		_, err := s.OAuthenticate(ctx, authCode)
		return err
	}

	return fmt.Errorf("%w: missing access_token or auth_code", shared.ErrMissingCredentials)
}

// OAuthenticate exchanges an authorization code for a token and installs it.
func (s *SpotifyService) OAuthenticate(ctx context.Context, code string) (*oauth2.Token, error) {
	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: s.timeout})
	token, err := s.config.Exchange(exchangeCtx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to exchange auth code: %v", shared.ErrAuthFailed, err)
	}
	s.SetToken(token)
	return token, nil
}

// SetToken installs token and rebuilds the HTTP client around it.
func (s *SpotifyService) SetToken(token *oauth2.Token) {
	refreshCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: s.timeout})
	source := &refreshableTokenSource{
		source:   s.config.TokenSource(refreshCtx, token),
		callback: s.onTokenRefresh,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.source = source
	s.httpClient = &http.Client{
		Timeout:   s.timeout,
		Transport: &oauth2.Transport{Source: source},
	}
}

// Token returns the most recent token, refreshed or not.
func (s *SpotifyService) Token() *oauth2.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.source != nil {
		if t := s.source.Last(); t != nil {
			return t
		}
	}
	return s.token
}

func (s *SpotifyService) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.httpClient != nil
}

func (s *SpotifyService) client() (*http.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.httpClient == nil {
		return nil, shared.ErrNotAuthenticated
	}
	return s.httpClient, nil
}

// doRequest performs an authenticated HTTP request to the Spotify API.
//
// endpoint is either a path relative to the API root or an absolute "next" URL returned by a listing.
// No request is ever retried.
func (s *SpotifyService) doRequest(ctx context.Context, method, endpoint string, body any, result any) error {
	httpClient, err := s.client()
	if err != nil {
		return err
	}

	apiURL, err := s.endpointURL(endpoint)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return err
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// endpointURL resolves endpoint against the API root. Absolute URLs must point at the API host,
// since the client attaches the bearer token to every request.
func (s *SpotifyService) endpointURL(endpoint string) (string, error) {
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return s.baseURL + endpoint, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: continuation url: %v", shared.ErrInvalidInput, err)
	}
	base, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("%w: base url: %v", shared.ErrInvalidConfig, err)
	}
	if u.Scheme != base.Scheme || u.Host != base.Host {
		return "", fmt.Errorf("%w: refusing to follow %s outside %s", shared.ErrInvalidInput, u.Redacted(), base.Host)
	}
	return endpoint, nil
}

func transportError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return fmt.Errorf("%w: %v", shared.ErrTokenExpired, err)
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w: %v", shared.ErrRemoteUnavailable, shared.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", shared.ErrRemoteUnavailable, err)
}

// statusError maps a non-2xx response onto the error taxonomy.
func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg := ""
	var eb errorBody
	if data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); err == nil && json.Unmarshal(data, &eb) == nil {
		msg = eb.Error.Message
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &shared.RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", shared.ErrNotFound, lo.Ternary(msg == "", resp.Request.URL.Path, msg))
	case resp.StatusCode == http.StatusUnauthorized:
		if strings.Contains(strings.ToLower(msg), "expired") {
			return fmt.Errorf("%w: %s", shared.ErrTokenExpired, msg)
		}
		return fmt.Errorf("%w: %s", shared.ErrNotAuthenticated, msg)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", shared.ErrRemoteUnavailable, resp.StatusCode)
	default:
		return &shared.APIError{Status: resp.StatusCode, Message: msg}
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return shared.DefaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
		return 0
	}
	return shared.DefaultRetryAfter
}

// walkPages follows a listing's next pointer from endpoint, handing each page's items to visit
// until the pointer is null or visit returns false.
func walkPages[T any](ctx context.Context, s *SpotifyService, endpoint string, visit func([]T) bool) error {
	next := endpoint
	for next != "" {
		var page SpotifyPage[T]
		if err := s.doRequest(ctx, http.MethodGet, next, nil, &page); err != nil {
			return err
		}
		if !visit(page.Items) {
			return nil
		}

		next = ""
		if page.Next != nil {
			next = *page.Next
		}
	}
	return nil
}

// fetchAll accumulates every item of a listing. Any page failure discards what was gathered.
func fetchAll[T any](ctx context.Context, s *SpotifyService, endpoint string) ([]T, error) {
	var all []T
	err := walkPages(ctx, s, endpoint, func(items []T) bool {
		all = append(all, items...)
		return true
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

func playlistItemsEndpoint(playlistID string) string {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(playlistItemsPageSize))
	q.Set("fields", "next,items(track(uri))")
	q.Set("additional_types", "track")
	return fmt.Sprintf("/playlists/%s/tracks?%s", url.PathEscape(playlistID), q.Encode())
}

func itemRefs(items []SpotifyPlaylistItem) []models.TrackRef {
	return lo.FilterMap(items, func(item SpotifyPlaylistItem, _ int) (models.TrackRef, bool) {
		if item.Track == nil || !strings.HasPrefix(item.Track.URI, models.TrackURIPrefix) {
			return "", false
		}
		return models.TrackRef(item.Track.URI), true
	})
}

// UserProfile retrieves the current authenticated user's profile.
func (s *SpotifyService) UserProfile(ctx context.Context) (*SpotifyUser, error) {
	var user SpotifyUser
	if err := s.doRequest(ctx, http.MethodGet, "/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UserPlaylists retrieves every page of the current user's playlists.
func (s *SpotifyService) UserPlaylists(ctx context.Context) ([]SpotifySimplePlaylist, error) {
	return fetchAll[SpotifySimplePlaylist](ctx, s, fmt.Sprintf("/me/playlists?limit=%d", playlistListPageSize))
}

// GetPlaylists retrieves all playlists for the authenticated user.
func (s *SpotifyService) GetPlaylists(ctx context.Context) ([]Playlist, error) {
	items, err := s.UserPlaylists(ctx)
	if err != nil {
		return nil, err
	}

	playlists := make([]Playlist, 0, len(items))
	for _, sp := range items {
		playlists = append(playlists, Playlist{
			ID:          sp.ID,
			Name:        sp.Name,
			Description: sp.Description,
			TrackCount:  sp.Tracks.Total,
			Public:      sp.Public,
		})
	}
	return playlists, nil
}

func (s *SpotifyService) PlaylistTracks(ctx context.Context, playlistID string) (models.TrackSet, error) {
	items, err := fetchAll[SpotifyPlaylistItem](ctx, s, playlistItemsEndpoint(playlistID))
	if err != nil {
		return nil, err
	}
	return models.NewTrackSet(itemRefs(items)...), nil
}

func (s *SpotifyService) PlaylistContains(ctx context.Context, playlistID string, ref models.TrackRef) (bool, error) {
	found := false
	err := walkPages(ctx, s, playlistItemsEndpoint(playlistID), func(items []SpotifyPlaylistItem) bool {
		found = lo.Contains(itemRefs(items), ref)
		return !found
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

func (s *SpotifyService) AlbumTracks(ctx context.Context, albumID string) ([]models.TrackRef, error) {
	if albumID == "" {
		return nil, fmt.Errorf("%w: album id", shared.ErrMissingArgument)
	}

	endpoint := fmt.Sprintf("/albums/%s/tracks?limit=%d", url.PathEscape(albumID), albumTracksPageSize)
	tracks, err := fetchAll[SpotifySimpleTrack](ctx, s, endpoint)
	if err != nil {
		return nil, err
	}

	return lo.FilterMap(tracks, func(t SpotifySimpleTrack, _ int) (models.TrackRef, bool) {
		return models.TrackRef(t.URI), t.URI != ""
	}), nil
}

func checkBatch(refs []models.TrackRef, max int) error {
	if len(refs) == 0 {
		return fmt.Errorf("%w: no tracks provided", shared.ErrMissingArgument)
	}
	if len(refs) > max {
		return fmt.Errorf("%w: maximum %d tracks per request, got %d", shared.ErrInvalidInput, max, len(refs))
	}
	return nil
}

func uris(refs []models.TrackRef) []string {
	return lo.Map(refs, func(r models.TrackRef, _ int) string { return r.String() })
}

func idsQuery(refs []models.TrackRef) string {
	ids := lo.Map(refs, func(r models.TrackRef, _ int) string { return r.ID() })
	return url.QueryEscape(strings.Join(ids, ","))
}

func (s *SpotifyService) AddToPlaylist(ctx context.Context, playlistID string, refs ...models.TrackRef) error {
	if err := checkBatch(refs, MaxPlaylistBatch); err != nil {
		return err
	}

	body := map[string][]string{"uris": uris(refs)}
	endpoint := fmt.Sprintf("/playlists/%s/tracks", url.PathEscape(playlistID))
	return s.doRequest(ctx, http.MethodPost, endpoint, body, nil)
}

func (s *SpotifyService) RemoveFromPlaylist(ctx context.Context, playlistID string, refs ...models.TrackRef) error {
	if err := checkBatch(refs, MaxPlaylistBatch); err != nil {
		return err
	}

	type trackURI struct {
		URI string `json:"uri"`
	}
	body := map[string][]trackURI{
		"tracks": lo.Map(refs, func(r models.TrackRef, _ int) trackURI { return trackURI{URI: r.String()} }),
	}
	endpoint := fmt.Sprintf("/playlists/%s/tracks", url.PathEscape(playlistID))
	return s.doRequest(ctx, http.MethodDelete, endpoint, body, nil)
}

func (s *SpotifyService) SaveTracks(ctx context.Context, refs ...models.TrackRef) error {
	if err := checkBatch(refs, MaxLibraryBatch); err != nil {
		return err
	}
	return s.doRequest(ctx, http.MethodPut, "/me/tracks?ids="+idsQuery(refs), nil, nil)
}

func (s *SpotifyService) UnsaveTracks(ctx context.Context, refs ...models.TrackRef) error {
	if err := checkBatch(refs, MaxLibraryBatch); err != nil {
		return err
	}
	return s.doRequest(ctx, http.MethodDelete, "/me/tracks?ids="+idsQuery(refs), nil, nil)
}

func (s *SpotifyService) TracksSaved(ctx context.Context, refs ...models.TrackRef) ([]bool, error) {
	if err := checkBatch(refs, MaxLibraryBatch); err != nil {
		return nil, err
	}

	var saved []bool
	if err := s.doRequest(ctx, http.MethodGet, "/me/tracks/contains?ids="+idsQuery(refs), nil, &saved); err != nil {
		return nil, err
	}
	if len(saved) != len(refs) {
		return nil, fmt.Errorf("spotify API error: expected %d flags, got %d", len(refs), len(saved))
	}
	return saved, nil
}

func (s *SpotifyService) CurrentTrack(ctx context.Context) (*models.CurrentTrack, error) {
	var current currentlyPlaying
	if err := s.doRequest(ctx, http.MethodGet, "/me/player/currently-playing", nil, &current); err != nil {
		return nil, err
	}

	track, playing := current.Item, current.IsPlaying
	if track == nil {
		var recent SpotifyPage[playHistory]
		if err := s.doRequest(ctx, http.MethodGet, "/me/player/recently-played?limit=1", nil, &recent); err != nil {
			return nil, err
		}
		if len(recent.Items) == 0 {
			return nil, nil
		}
		track, playing = &recent.Items[0].Track, false
	}

	ct := &models.CurrentTrack{
		ID:        track.ID,
		Name:      track.Name,
		Artist:    strings.Join(lo.Map(track.Artists, func(a SpotifyArtist, _ int) string { return a.Name }), ", "),
		Album:     "Unknown Album",
		IsPlaying: playing,
		URI:       models.TrackRef(track.URI),
	}
	if track.Album != nil {
		ct.Album = track.Album.Name
		ct.AlbumID = track.Album.ID
		if len(track.Album.Images) > 0 {
			ct.AlbumCover = track.Album.Images[0].URL
		}
	}

	if track.ID != "" {
		saved, err := s.TracksSaved(ctx, ct.URI)
		if err != nil {
			return nil, err
		}
		ct.IsLiked = saved[0]
	}
	return ct, nil
}

// refreshableTokenSource reports every access token it has not seen before to callback.
type refreshableTokenSource struct {
	source   oauth2.TokenSource
	callback func(*oauth2.Token)

	mu   sync.Mutex
	last *oauth2.Token
}

func (r *refreshableTokenSource) Token() (*oauth2.Token, error) {
	token, err := r.source.Token()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	changed := r.last == nil || r.last.AccessToken != token.AccessToken
	r.last = token
	r.mu.Unlock()

	if changed && r.callback != nil {
		r.callback(token)
	}
	return token, nil
}

// Last returns the most recently issued token.
func (r *refreshableTokenSource) Last() *oauth2.Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
