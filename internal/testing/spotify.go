package testing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// AccessToken is the bearer token issued by [FakeSpotify]'s token endpoint.
const AccessToken = "fake-access-token"

// Failure makes matching requests fail with Status. The first Skip matching calls succeed;
// Times > 0 limits how many calls fail after that.
type Failure struct {
	Status     int
	RetryAfter string
	Message    string
	Skip       int
	Times      int
}

type failureRule struct {
	Failure
	seen   int
	failed int
}

// FakeTrack is a track known to [FakeSpotify]'s player endpoints.
type FakeTrack struct {
	ID      string
	Name    string
	Artists []string
	AlbumID string
	Album   string
	Cover   string
}

// FakeSpotify is an in-memory stand-in for the Spotify Web API served over httptest.
type FakeSpotify struct {
	Server *httptest.Server

	mu        sync.Mutex
	catalog   []fakePlaylist
	playlists map[string][]string
	albums    map[string][]string
	library   map[string]bool
	playing   *FakeTrack
	isPlaying bool
	recent    *FakeTrack
	failures  map[string]*failureRule
	calls     map[string]int
	requests  []string
}

type fakePlaylist struct {
	ID   string
	Name string
}

// NewFakeSpotify starts a fake API server that is closed when the test ends.
func NewFakeSpotify(t *testing.T) *FakeSpotify {
	t.Helper()

	f := &FakeSpotify{
		playlists: make(map[string][]string),
		albums:    make(map[string][]string),
		library:   make(map[string]bool),
		failures:  make(map[string]*failureRule),
		calls:     make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/token", f.handleToken)
	mux.HandleFunc("GET /me", f.authed(f.handleProfile))
	mux.HandleFunc("GET /me/playlists", f.authed(f.handleCatalog))
	mux.HandleFunc("GET /playlists/{id}/tracks", f.authed(f.handlePlaylistItems))
	mux.HandleFunc("POST /playlists/{id}/tracks", f.authed(f.handlePlaylistAdd))
	mux.HandleFunc("DELETE /playlists/{id}/tracks", f.authed(f.handlePlaylistRemove))
	mux.HandleFunc("GET /albums/{id}/tracks", f.authed(f.handleAlbumTracks))
	mux.HandleFunc("PUT /me/tracks", f.authed(f.handleSave))
	mux.HandleFunc("DELETE /me/tracks", f.authed(f.handleUnsave))
	mux.HandleFunc("GET /me/tracks/contains", f.authed(f.handleContains))
	mux.HandleFunc("GET /me/player/currently-playing", f.authed(f.handleCurrentlyPlaying))
	mux.HandleFunc("GET /me/player/recently-played", f.authed(f.handleRecentlyPlayed))

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

func (f *FakeSpotify) URL() string      { return f.Server.URL }
func (f *FakeSpotify) TokenURL() string { return f.Server.URL + "/api/token" }

// AddCatalogPlaylist lists a playlist in the user's library without tracks.
func (f *FakeSpotify) AddCatalogPlaylist(id, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.catalog = append(f.catalog, fakePlaylist{ID: id, Name: name})
	if _, ok := f.playlists[id]; !ok {
		f.playlists[id] = nil
	}
}

// SetPlaylist replaces a playlist's tracks. uris are stored in order, duplicates kept.
func (f *FakeSpotify) SetPlaylist(id string, uris ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playlists[id] = slices.Clone(uris)
}

// PlaylistURIs returns a playlist's current tracks.
func (f *FakeSpotify) PlaylistURIs(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.playlists[id])
}

func (f *FakeSpotify) SetAlbum(id string, uris ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.albums[id] = slices.Clone(uris)
}

// SetLiked sets the liked state of a bare track id.
func (f *FakeSpotify) SetLiked(id string, liked bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if liked {
		f.library[id] = true
	} else {
		delete(f.library, id)
	}
}

func (f *FakeSpotify) Liked(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.library[id]
}

// SetPlaying sets the currently playing track; nil means nothing is playing.
func (f *FakeSpotify) SetPlaying(track *FakeTrack, playing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playing, f.isPlaying = track, playing
}

func (f *FakeSpotify) SetRecent(track *FakeTrack) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recent = track
}

// Fail registers a failure for requests matching method and path exactly (query ignored).
func (f *FakeSpotify) Fail(method, path string, failure Failure) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method+" "+path] = &failureRule{Failure: failure}
}

// ClearFailures removes every registered failure.
func (f *FakeSpotify) ClearFailures() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = make(map[string]*failureRule)
}

// Calls counts requests received for method and path, failed ones included.
func (f *FakeSpotify) Calls(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method+" "+path]
}

// Requests returns "METHOD /path" for every request in arrival order.
func (f *FakeSpotify) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.requests)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": map[string]any{"status": status, "message": msg}})
}

func (f *FakeSpotify) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path

		f.mu.Lock()
		f.calls[key]++
		f.requests = append(f.requests, key)
		rule := f.failures[key]
		var fail *Failure
		if rule != nil {
			rule.seen++
			if rule.seen > rule.Skip && (rule.Times == 0 || rule.failed < rule.Times) {
				rule.failed++
				fail = &rule.Failure
			}
		}
		f.mu.Unlock()

		if r.Header.Get("Authorization") == "" {
			writeError(w, http.StatusUnauthorized, "No token provided")
			return
		}

		if fail != nil {
			if fail.RetryAfter != "" {
				w.Header().Set("Retry-After", fail.RetryAfter)
			}
			writeError(w, fail.Status, fail.Message)
			return
		}

		next(w, r)
	}
}

func (f *FakeSpotify) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.Form.Get("code") == "bad" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  AccessToken,
		"token_type":    "Bearer",
		"refresh_token": "fake-refresh-token",
		"expires_in":    3600,
	})
}

func (f *FakeSpotify) handleProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"id": "tester", "display_name": "Tester"})
}

// page slices items by the request's limit and offset and links the next page.
func page[T any](r *http.Request, items []T) map[string]any {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	end := min(offset+limit, len(items))
	start := min(offset, end)

	var next any
	if end < len(items) {
		q := r.URL.Query()
		q.Set("offset", strconv.Itoa(end))
		q.Set("limit", strconv.Itoa(limit))
		next = fmt.Sprintf("http://%s%s?%s", r.Host, r.URL.Path, q.Encode())
	}

	return map[string]any{
		"items":  items[start:end],
		"total":  len(items),
		"limit":  limit,
		"offset": offset,
		"next":   next,
	}
}

func (f *FakeSpotify) handleCatalog(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	items := make([]map[string]any, 0, len(f.catalog))
	for _, p := range f.catalog {
		items = append(items, map[string]any{
			"id":     p.ID,
			"name":   p.Name,
			"uri":    "spotify:playlist:" + p.ID,
			"tracks": map[string]int{"total": len(f.playlists[p.ID])},
		})
	}
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, page(r, items))
}

func (f *FakeSpotify) handlePlaylistItems(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	uris, ok := f.playlists[r.PathValue("id")]
	items := make([]map[string]any, 0, len(uris))
	for _, u := range uris {
		if u == "" {
			items = append(items, map[string]any{"track": nil})
			continue
		}
		items = append(items, map[string]any{"track": map[string]string{"uri": u}})
	}
	f.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "Resource not found")
		return
	}
	writeJSON(w, http.StatusOK, page(r, items))
}

func (f *FakeSpotify) handlePlaylistAdd(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URIs []string `json:"uris"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.URIs) == 0 || len(body.URIs) > 100 {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id := r.PathValue("id")
	f.mu.Lock()
	_, ok := f.playlists[id]
	if ok {
		f.playlists[id] = append(f.playlists[id], body.URIs...)
	}
	f.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "Resource not found")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"snapshot_id": "snap"})
}

func (f *FakeSpotify) handlePlaylistRemove(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Tracks []struct {
			URI string `json:"uri"`
		} `json:"tracks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Tracks) == 0 || len(body.Tracks) > 100 {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id := r.PathValue("id")
	f.mu.Lock()
	uris, ok := f.playlists[id]
	if ok {
		drop := make(map[string]bool, len(body.Tracks))
		for _, t := range body.Tracks {
			drop[t.URI] = true
		}
		f.playlists[id] = slices.DeleteFunc(uris, func(u string) bool { return drop[u] })
	}
	f.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "Resource not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"snapshot_id": "snap"})
}

func (f *FakeSpotify) handleAlbumTracks(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	uris, ok := f.albums[r.PathValue("id")]
	items := make([]map[string]string, 0, len(uris))
	for _, u := range uris {
		items = append(items, map[string]string{"id": strings.TrimPrefix(u, "spotify:track:"), "uri": u})
	}
	f.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "Resource not found")
		return
	}
	writeJSON(w, http.StatusOK, page(r, items))
}

func queryIDs(r *http.Request) []string {
	raw := r.URL.Query().Get("ids")
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func (f *FakeSpotify) handleSave(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	for _, id := range queryIDs(r) {
		f.library[id] = true
	}
	f.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (f *FakeSpotify) handleUnsave(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	for _, id := range queryIDs(r) {
		delete(f.library, id)
	}
	f.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (f *FakeSpotify) handleContains(w http.ResponseWriter, r *http.Request) {
	ids := queryIDs(r)
	f.mu.Lock()
	flags := make([]bool, len(ids))
	for i, id := range ids {
		flags[i] = f.library[id]
	}
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, flags)
}

func (t *FakeTrack) json() map[string]any {
	artists := make([]map[string]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		artists = append(artists, map[string]string{"name": a})
	}

	track := map[string]any{
		"id":      t.ID,
		"name":    t.Name,
		"uri":     "spotify:track:" + t.ID,
		"artists": artists,
	}
	if t.AlbumID != "" {
		album := map[string]any{"id": t.AlbumID, "name": t.Album, "images": []any{}}
		if t.Cover != "" {
			album["images"] = []map[string]any{{"url": t.Cover, "height": 640, "width": 640}}
		}
		track["album"] = album
	}
	return track
}

func (f *FakeSpotify) handleCurrentlyPlaying(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	track, playing := f.playing, f.isPlaying
	f.mu.Unlock()

	if track == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"is_playing": playing, "item": track.json()})
}

func (f *FakeSpotify) handleRecentlyPlayed(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	track := f.recent
	f.mu.Unlock()

	items := []map[string]any{}
	if track != nil {
		items = append(items, map[string]any{"track": track.json()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "next": nil})
}
