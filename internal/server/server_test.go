package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/nowplaying/internal/membership"
	"github.com/desertthunder/nowplaying/internal/models"
	"github.com/desertthunder/nowplaying/internal/services"
	"github.com/desertthunder/nowplaying/internal/shared"
	"github.com/desertthunder/nowplaying/internal/tasks"
	tu "github.com/desertthunder/nowplaying/internal/testing"
	"golang.org/x/oauth2"
)

type fixture struct {
	fake     *tu.FakeSpotify
	svc      *services.SpotifyService
	cache    *membership.Cache
	registry *membership.Registry
	oauth    *OAuthHandler
	router   *BasicRouter
}

func newFixture(t *testing.T, authenticated bool) *fixture {
	t.Helper()

	fake := tu.NewFakeSpotify(t)
	svc, err := services.NewSpotifyService(
		map[string]string{"client_id": "id", "client_secret": "secret", "redirect_uri": "http://127.0.0.1:8888/callback"},
		services.WithBaseURL(fake.URL()),
		services.WithTimeout(2*time.Second),
		services.WithEndpoint(oauth2.Endpoint{AuthURL: fake.URL() + "/authorize", TokenURL: fake.TokenURL()}),
	)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	if authenticated {
		svc.SetToken(&oauth2.Token{AccessToken: tu.AccessToken})
	}

	logger := log.New(io.Discard)
	cache := membership.NewCache()
	registry := membership.NewRegistry()
	resolver := membership.NewResolver(cache, registry, svc, logger)
	coordinator := membership.NewCoordinator(cache, registry, svc, logger)
	populator := tasks.NewPopulator(svc, cache, logger, tasks.PopulatorOpts{})

	api := NewAPIHandler(svc, cache, registry, resolver, coordinator, populator, logger)
	oauth := NewOAuthHandler(svc, logger)

	router := NewBasicRouter()
	router.Use(Recover(logger), Logging(logger))
	router.Handler(api)
	router.Handler(oauth)

	return &fixture{fake: fake, svc: svc, cache: cache, registry: registry, oauth: oauth, router: router}
}

func (f *fixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func uri(id string) string { return models.TrackURIPrefix + id }

func TestBasicRouter(t *testing.T) {
	t.Run("Dispatches By Method", func(t *testing.T) {
		r := NewBasicRouter()
		r.HandleFunc("GET", "/ping", func(w http.ResponseWriter, _ *http.Request) { io.WriteString(w, "pong") })

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
		if rec.Code != http.StatusOK || rec.Body.String() != "pong" {
			t.Errorf("unexpected response: %d %q", rec.Code, rec.Body.String())
		}

		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ping", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})

	t.Run("Applies Middleware In Order", func(t *testing.T) {
		var order []string
		mark := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}

		r := NewBasicRouter()
		r.Use(mark("first"), mark("second"))
		r.HandleFunc("GET", "/", func(http.ResponseWriter, *http.Request) { order = append(order, "handler") })
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		if want := []string{"first", "second", "handler"}; !slices.Equal(order, want) {
			t.Errorf("expected %v, got %v", want, order)
		}
	})
}

func TestMiddleware(t *testing.T) {
	logger := log.New(io.Discard)

	t.Run("Recover", func(t *testing.T) {
		h := Recover(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
	})

	t.Run("Logging Keeps Status", func(t *testing.T) {
		var buf bytes.Buffer
		h := Logging(log.New(&buf))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tea", nil))
		if rec.Code != http.StatusTeapot {
			t.Errorf("expected 418, got %d", rec.Code)
		}
		if !strings.Contains(buf.String(), "/tea") {
			t.Errorf("expected request to be logged, got %q", buf.String())
		}
	})

	t.Run("RequireAuth", func(t *testing.T) {
		authed := false
		h := RequireAuth(func() bool { return authed })(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}

		authed = true
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rec.Code)
		}
	})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"rate limited", &shared.RateLimitError{RetryAfter: time.Second}, http.StatusTooManyRequests},
		{"invalid input", fmt.Errorf("%w: bad", shared.ErrInvalidInput), http.StatusBadRequest},
		{"invalid action", shared.ErrInvalidAction, http.StatusBadRequest},
		{"missing argument", shared.ErrMissingArgument, http.StatusBadRequest},
		{"not authenticated", shared.ErrNotAuthenticated, http.StatusUnauthorized},
		{"token expired", shared.ErrTokenExpired, http.StatusUnauthorized},
		{"not found", shared.ErrNotFound, http.StatusNotFound},
		{"remote unavailable", shared.ErrRemoteUnavailable, http.StatusBadGateway},
		{"api error", &shared.APIError{Status: 403}, http.StatusBadGateway},
		{"mutation", &membership.MutationError{Stage: membership.StageLibrary, Applied: true, Err: errors.New("x")}, http.StatusBadGateway},
		{"wrapped rate limit", &membership.MutationError{Err: &shared.RateLimitError{}}, http.StatusTooManyRequests},
		{"unknown", errors.New("x"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestAPIHandler(t *testing.T) {
	t.Run("Requires Authentication", func(t *testing.T) {
		f := newFixture(t, false)

		for _, target := range []string{"/api/current-track", "/api/check-playlists?track_uri=abc"} {
			if rec := f.do(t, http.MethodGet, target, nil); rec.Code != http.StatusUnauthorized {
				t.Errorf("%s: expected 401, got %d", target, rec.Code)
			}
		}

		status := decodeBody[StatusResponse](t, f.do(t, http.MethodGet, "/api/status", nil))
		if status.Authenticated {
			t.Error("status should report unauthenticated")
		}
	})

	t.Run("Groups", func(t *testing.T) {
		f := newFixture(t, true)
		f.registry.SetGroup(models.Group{Name: "tracker", Playlists: []models.Playlist{
			{ID: "p1", Name: "One", SourceName: "One"},
			models.Divider(),
			{ID: "p2", Name: "Two", SourceName: "Two"},
		}})

		names := decodeBody[[]string](t, f.do(t, http.MethodGet, "/api/groups", nil))
		if !slices.Equal(names, []string{"tracker"}) {
			t.Errorf("unexpected groups: %v", names)
		}

		for _, target := range []string{"/api/groups/tracker", "/api/tracker-playlists"} {
			rows := decodeBody[[]models.Playlist](t, f.do(t, http.MethodGet, target, nil))
			if len(rows) != 3 || !rows[1].IsDivider || rows[2].ID != "p2" {
				t.Errorf("%s: unexpected rows: %+v", target, rows)
			}
		}

		if rec := f.do(t, http.MethodGet, "/api/groups/missing", nil); rec.Code != http.StatusNotFound {
			t.Errorf("expected 404 for unknown group, got %d", rec.Code)
		}

		rec := f.do(t, http.MethodGet, "/api/queue-playlists", nil)
		if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
			t.Errorf("expected empty list for unloaded group, got %d %q", rec.Code, rec.Body.String())
		}
	})

	t.Run("Check Playlists", func(t *testing.T) {
		f := newFixture(t, true)
		f.registry.SetGroup(models.Group{Name: "dashboard", Playlists: []models.Playlist{
			{ID: "warm", Name: "Warm"},
			{ID: "cold", Name: "Cold"},
			{ID: "other", Name: "Other"},
		}})
		f.cache.Set("warm", models.NewTrackSet("spotify:track:t1"))
		f.cache.Set("other", models.NewTrackSet())
		f.fake.SetPlaylist("cold", uri("t0"), uri("t1"))

		active := decodeBody[[]string](t, f.do(t, http.MethodGet, "/api/check-playlists?track_uri=t1", nil))
		if !slices.Equal(active, []string{"warm", "cold"}) {
			t.Errorf("unexpected active playlists: %v", active)
		}
		if f.cache.Has("cold") {
			t.Error("a live check must not populate the cache")
		}

		rec := f.do(t, http.MethodGet, "/api/check-playlists", nil)
		if strings.TrimSpace(rec.Body.String()) != "[]" {
			t.Errorf("expected empty list without track, got %q", rec.Body.String())
		}

		if rec := f.do(t, http.MethodGet, "/api/check-playlists?track_uri="+url.QueryEscape("spotify:album:x"), nil); rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for a non-track URI, got %d", rec.Code)
		}
	})

	t.Run("Toggle Add", func(t *testing.T) {
		f := newFixture(t, true)
		f.fake.SetPlaylist("p1")
		f.cache.Set("p1", models.NewTrackSet())

		rec := f.do(t, http.MethodPost, "/api/playlist/toggle", ToggleRequest{PlaylistID: "p1", TrackURI: "t1", Action: "add"})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		resp := decodeBody[ToggleResponse](t, rec)
		if !resp.Success || !resp.LikedChanged || resp.Message != "Added to playlist and Liked Songs." {
			t.Errorf("unexpected response: %+v", resp)
		}
		if !slices.Contains(f.fake.PlaylistURIs("p1"), uri("t1")) {
			t.Error("track should be added remotely")
		}
		if !f.fake.Liked("t1") {
			t.Error("track should be liked")
		}
		if contained, _ := f.cache.Contains("p1", "spotify:track:t1"); !contained {
			t.Error("cache should reflect the add")
		}
	})

	t.Run("Toggle Remove Keeps Like When Held Elsewhere", func(t *testing.T) {
		f := newFixture(t, true)
		f.registry.SetGroup(models.Group{Name: "dashboard", Playlists: []models.Playlist{{ID: "p1"}, {ID: "p2"}}})
		f.fake.SetPlaylist("p1", uri("t1"))
		f.fake.SetLiked("t1", true)
		f.cache.Set("p1", models.NewTrackSet("spotify:track:t1"))
		f.cache.Set("p2", models.NewTrackSet("spotify:track:t1"))

		rec := f.do(t, http.MethodPost, "/api/playlist/toggle", ToggleRequest{PlaylistID: "p1", TrackURI: uri("t1"), Action: "remove"})
		resp := decodeBody[ToggleResponse](t, rec)
		if resp.LikedChanged || resp.Message != "Removed from playlist." {
			t.Errorf("unexpected response: %+v", resp)
		}
		if !f.fake.Liked("t1") {
			t.Error("track held by another playlist should stay liked")
		}
	})

	t.Run("Toggle Validation", func(t *testing.T) {
		f := newFixture(t, true)

		tests := []struct {
			name string
			body any
		}{
			{"missing data", ToggleRequest{PlaylistID: "p1"}},
			{"bad action", ToggleRequest{PlaylistID: "p1", TrackURI: "t1", Action: "flip"}},
			{"bad track", ToggleRequest{PlaylistID: "p1", TrackURI: "spotify:episode:x", Action: "add"}},
			{"divider", ToggleRequest{PlaylistID: models.DividerID, TrackURI: "t1", Action: "add"}},
			{"malformed", "not an object"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if rec := f.do(t, http.MethodPost, "/api/playlist/toggle", tt.body); rec.Code != http.StatusBadRequest {
					t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
				}
			})
		}

		if got := len(f.fake.Requests()); got != 0 {
			t.Errorf("invalid requests must not reach the remote service, saw %d calls", got)
		}
	})

	t.Run("Toggle Rate Limited", func(t *testing.T) {
		f := newFixture(t, true)
		f.fake.SetPlaylist("p1")
		f.fake.Fail(http.MethodPost, "/playlists/p1/tracks", tu.Failure{Status: http.StatusTooManyRequests, RetryAfter: "7"})

		rec := f.do(t, http.MethodPost, "/api/playlist/toggle", ToggleRequest{PlaylistID: "p1", TrackURI: "t1", Action: "add"})
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected 429, got %d", rec.Code)
		}
		body := decodeBody[errorBody](t, rec)
		if body.RetryAfter != 7 || body.Applied {
			t.Errorf("unexpected body: %+v", body)
		}
		if f.fake.Calls(http.MethodPut, "/me/tracks") != 0 {
			t.Error("like must not run after a failed playlist add")
		}
	})

	t.Run("Toggle Secondary Failure", func(t *testing.T) {
		f := newFixture(t, true)
		f.fake.SetPlaylist("p1")
		f.fake.Fail(http.MethodPut, "/me/tracks", tu.Failure{Status: http.StatusInternalServerError})

		rec := f.do(t, http.MethodPost, "/api/playlist/toggle", ToggleRequest{PlaylistID: "p1", TrackURI: "t1", Action: "add"})
		if rec.Code != http.StatusBadGateway {
			t.Fatalf("expected 502, got %d", rec.Code)
		}
		body := decodeBody[errorBody](t, rec)
		if !body.Applied || body.Message == "" {
			t.Errorf("expected an applied partial outcome, got %+v", body)
		}
		if !slices.Contains(f.fake.PlaylistURIs("p1"), uri("t1")) {
			t.Error("playlist add should stand")
		}
	})

	t.Run("Toggle Album", func(t *testing.T) {
		f := newFixture(t, true)
		f.fake.SetPlaylist("p1")
		f.fake.SetAlbum("al1", uri("a1"), uri("a2"), uri("a3"))

		rec := f.do(t, http.MethodPost, "/api/playlist/toggle-album", AlbumToggleRequest{PlaylistID: "p1", AlbumID: "al1", Action: "add"})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		resp := decodeBody[AlbumToggleResponse](t, rec)
		if resp.TrackCount != 3 || resp.Message != "Added 3 tracks from album to playlist." {
			t.Errorf("unexpected response: %+v", resp)
		}
		if got := len(f.fake.PlaylistURIs("p1")); got != 3 {
			t.Errorf("expected 3 tracks in playlist, got %d", got)
		}
		if f.fake.Calls(http.MethodPut, "/me/tracks") != 0 {
			t.Error("album toggles must not touch the liked collection")
		}
	})

	t.Run("Toggle Empty Album", func(t *testing.T) {
		f := newFixture(t, true)
		f.fake.SetAlbum("empty")

		rec := f.do(t, http.MethodPost, "/api/playlist/toggle-album", AlbumToggleRequest{PlaylistID: "p1", AlbumID: "empty", Action: "add"})
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("Current Track", func(t *testing.T) {
		f := newFixture(t, true)

		rec := f.do(t, http.MethodGet, "/api/current-track", nil)
		if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "null" {
			t.Errorf("expected null with nothing playing, got %d %q", rec.Code, rec.Body.String())
		}

		f.fake.SetPlaying(&tu.FakeTrack{ID: "t9", Name: "Song", Artists: []string{"A", "B"}, AlbumID: "al", Album: "Record"}, true)
		f.fake.SetLiked("t9", true)

		track := decodeBody[models.CurrentTrack](t, f.do(t, http.MethodGet, "/api/current-track", nil))
		if track.ID != "t9" || track.Artist != "A, B" || !track.IsLiked || !track.IsPlaying {
			t.Errorf("unexpected track: %+v", track)
		}

		f.fake.Fail(http.MethodGet, "/me/player/currently-playing", tu.Failure{Status: http.StatusTooManyRequests, RetryAfter: "3"})
		rec = f.do(t, http.MethodGet, "/api/current-track", nil)
		if rec.Code != http.StatusTooManyRequests || decodeBody[errorBody](t, rec).RetryAfter != 3 {
			t.Errorf("expected 429 with retry_after, got %d %q", rec.Code, rec.Body.String())
		}
	})

	t.Run("Status", func(t *testing.T) {
		f := newFixture(t, true)
		f.cache.Set("p1", models.NewTrackSet())
		f.registry.SetGroup(models.Group{Name: "dashboard"})

		status := decodeBody[StatusResponse](t, f.do(t, http.MethodGet, "/api/status", nil))
		if !status.Authenticated || status.CachedPlaylists != 1 || !slices.Equal(status.Groups, []string{"dashboard"}) {
			t.Errorf("unexpected status: %+v", status)
		}
		if len(status.Runs) != 0 {
			t.Errorf("expected no runs, got %v", status.Runs)
		}
	})
}

func TestOAuthHandler(t *testing.T) {
	stateFrom := func(t *testing.T, location string) string {
		t.Helper()
		u, err := url.Parse(location)
		if err != nil {
			t.Fatalf("bad redirect %q: %v", location, err)
		}
		return u.Query().Get("state")
	}

	t.Run("Login Redirects With State", func(t *testing.T) {
		f := newFixture(t, false)

		rec := f.do(t, http.MethodGet, "/login", nil)
		if rec.Code != http.StatusFound {
			t.Fatalf("expected 302, got %d", rec.Code)
		}
		location := rec.Header().Get("Location")
		if !strings.HasPrefix(location, f.fake.URL()+"/authorize") || stateFrom(t, location) == "" {
			t.Errorf("unexpected redirect: %s", location)
		}
	})

	t.Run("Callback Exchanges Code", func(t *testing.T) {
		f := newFixture(t, false)

		var hooked *oauth2.Token
		f.oauth.OnToken(func(_ context.Context, tok *oauth2.Token) { hooked = tok })
		f.oauth.RedirectTo("/api/status")

		authURL, err := f.oauth.AuthURL()
		if err != nil {
			t.Fatalf("failed to build auth URL: %v", err)
		}
		state := stateFrom(t, authURL)

		rec := f.do(t, http.MethodGet, "/callback?code=good&state="+state, nil)
		if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/api/status" {
			t.Fatalf("expected redirect to status, got %d %q", rec.Code, rec.Header().Get("Location"))
		}
		if hooked == nil || hooked.AccessToken != tu.AccessToken {
			t.Errorf("OnToken should receive the token, got %+v", hooked)
		}
		if !f.svc.Authenticated() {
			t.Error("service should be authenticated after the exchange")
		}

		select {
		case res := <-f.oauth.Result():
			if res.Error() != nil || res.Token == nil {
				t.Errorf("unexpected result: %+v", res)
			}
		default:
			t.Error("expected a published result")
		}

		if rec := f.do(t, http.MethodGet, "/callback?code=good&state="+state, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("a state must be single use, got %d", rec.Code)
		}
	})

	t.Run("Callback Failures", func(t *testing.T) {
		f := newFixture(t, false)

		tests := []struct {
			name  string
			query func(state string) string
			want  int
		}{
			{"unknown state", func(string) string { return "code=good&state=forged" }, http.StatusBadRequest},
			{"denied", func(s string) string { return "error=access_denied&state=" + s }, http.StatusBadRequest},
			{"bad code", func(s string) string { return "code=bad&state=" + s }, http.StatusBadGateway},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				authURL, err := f.oauth.AuthURL()
				if err != nil {
					t.Fatalf("failed to build auth URL: %v", err)
				}
				rec := f.do(t, http.MethodGet, "/callback?"+tt.query(stateFrom(t, authURL)), nil)
				if rec.Code != tt.want {
					t.Errorf("expected %d, got %d", tt.want, rec.Code)
				}
			})
		}

		if f.svc.Authenticated() {
			t.Error("service must stay unauthenticated")
		}
	})

	t.Run("Expired State", func(t *testing.T) {
		f := newFixture(t, false)
		now := time.Now()
		f.oauth.now = func() time.Time { return now }

		authURL, err := f.oauth.AuthURL()
		if err != nil {
			t.Fatalf("failed to build auth URL: %v", err)
		}
		now = now.Add(stateTTL + time.Second)

		rec := f.do(t, http.MethodGet, "/callback?code=good&state="+stateFrom(t, authURL), nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for an expired state, got %d", rec.Code)
		}
	})
}
