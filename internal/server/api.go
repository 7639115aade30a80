package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/nowplaying/internal/membership"
	"github.com/desertthunder/nowplaying/internal/models"
	"github.com/desertthunder/nowplaying/internal/shared"
	"github.com/desertthunder/nowplaying/internal/tasks"
)

// legacyGroups maps the dashboard's original list endpoints onto group names.
var legacyGroups = map[string]string{
	"/api/playlists":         "dashboard",
	"/api/tracker-playlists": "tracker",
	"/api/queue-playlists":   "queue",
}

// Playback reports what the user is listening to and whether the service holds a token.
type Playback interface {
	CurrentTrack(ctx context.Context) (*models.CurrentTrack, error)
	Authenticated() bool
}

// APIHandler serves the JSON API behind the dashboard.
type APIHandler struct {
	playback    Playback
	cache       *membership.Cache
	registry    *membership.Registry
	resolver    *membership.Resolver
	coordinator *membership.Coordinator
	populator   *tasks.Populator
	logger      *log.Logger
	mux         *http.ServeMux
}

func NewAPIHandler(
	playback Playback,
	cache *membership.Cache,
	registry *membership.Registry,
	resolver *membership.Resolver,
	coordinator *membership.Coordinator,
	populator *tasks.Populator,
	logger *log.Logger,
) *APIHandler {
	h := &APIHandler{
		playback:    playback,
		cache:       cache,
		registry:    registry,
		resolver:    resolver,
		coordinator: coordinator,
		populator:   populator,
		logger:      logger,
		mux:         http.NewServeMux(),
	}

	authed := RequireAuth(playback.Authenticated)
	h.mux.HandleFunc("GET /api/status", h.status)
	h.mux.HandleFunc("GET /api/groups", h.groups)
	h.mux.HandleFunc("GET /api/groups/{name}", h.group)
	for path := range legacyGroups {
		h.mux.HandleFunc("GET "+path, h.legacyGroup)
	}
	h.mux.Handle("GET /api/current-track", authed(http.HandlerFunc(h.currentTrack)))
	h.mux.Handle("GET /api/check-playlists", authed(http.HandlerFunc(h.checkPlaylists)))
	h.mux.Handle("POST /api/playlist/toggle", authed(http.HandlerFunc(h.toggle)))
	h.mux.Handle("POST /api/playlist/toggle-album", authed(http.HandlerFunc(h.toggleAlbum)))
	return h
}

// Routes returns the HTTP routes this handler serves.
func (h *APIHandler) Routes() []string {
	routes := []string{
		"GET /api/status",
		"GET /api/groups",
		"GET /api/groups/{name}",
		"GET /api/current-track",
		"GET /api/check-playlists",
		"POST /api/playlist/toggle",
		"POST /api/playlist/toggle-album",
	}
	for path := range legacyGroups {
		routes = append(routes, "GET "+path)
	}
	return routes
}

func (h *APIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Authenticated   bool             `json:"authenticated"`
	CachedPlaylists int              `json:"cached_playlists"`
	Groups          []string         `json:"groups"`
	Runs            []tasks.Progress `json:"runs"`
}

func (h *APIHandler) status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Authenticated:   h.playback.Authenticated(),
		CachedPlaylists: h.cache.Len(),
		Groups:          h.registry.Names(),
		Runs:            []tasks.Progress{},
	}
	if resp.Groups == nil {
		resp.Groups = []string{}
	}
	for _, run := range h.populator.Runs() {
		resp.Runs = append(resp.Runs, run.Progress())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) groups(w http.ResponseWriter, r *http.Request) {
	names := h.registry.Names()
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

func (h *APIHandler) group(w http.ResponseWriter, r *http.Request) {
	g, ok := h.registry.Group(r.PathValue("name"))
	if !ok {
		writeError(w, fmt.Errorf("%w: group %q", shared.ErrNotFound, r.PathValue("name")), "")
		return
	}
	writeJSON(w, http.StatusOK, rows(g))
}

// legacyGroup answers an empty list for a group that hasn't loaded yet, like the original endpoints did.
func (h *APIHandler) legacyGroup(w http.ResponseWriter, r *http.Request) {
	g, _ := h.registry.Group(legacyGroups[r.URL.Path])
	writeJSON(w, http.StatusOK, rows(g))
}

func rows(g models.Group) []models.Playlist {
	if g.Playlists == nil {
		return []models.Playlist{}
	}
	return g.Playlists
}

func (h *APIHandler) currentTrack(w http.ResponseWriter, r *http.Request) {
	track, err := h.playback.CurrentTrack(r.Context())
	if err != nil {
		h.logger.Warn("current track failed", "error", err)
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, track)
}

func (h *APIHandler) checkPlaylists(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("track_uri"))
	if raw == "" {
		writeJSON(w, http.StatusOK, []string{})
		return
	}

	res, err := h.resolver.ActivePlaylists(r.Context(), raw)
	if err != nil {
		writeError(w, err, "")
		return
	}
	if len(res.LiveChecked) > 0 {
		h.logger.Debug("cache incomplete, checked live", "playlists", len(res.LiveChecked), "failed", len(res.Failed))
	}
	writeJSON(w, http.StatusOK, res.Active)
}

// ToggleRequest is the body of POST /api/playlist/toggle.
type ToggleRequest struct {
	PlaylistID string `json:"playlist_id"`
	TrackURI   string `json:"track_uri"`
	Action     string `json:"action"`
}

// ToggleResponse is the body of a successful POST /api/playlist/toggle.
type ToggleResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	LikedChanged bool   `json:"liked_changed"`
}

func (h *APIHandler) toggle(w http.ResponseWriter, r *http.Request) {
	var req ToggleRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err, "")
		return
	}
	if req.PlaylistID == "" || req.TrackURI == "" || req.Action == "" {
		writeError(w, fmt.Errorf("%w: Missing data", shared.ErrMissingArgument), "")
		return
	}

	ref, err := models.NormalizeTrackRef(req.TrackURI)
	if err != nil {
		writeError(w, err, "")
		return
	}
	action, err := models.ParseAction(req.Action)
	if err != nil {
		writeError(w, err, "")
		return
	}

	out, err := h.coordinator.Apply(r.Context(), req.PlaylistID, ref, action)
	if err != nil {
		writeError(w, err, message(out))
		return
	}
	writeJSON(w, http.StatusOK, ToggleResponse{Success: true, Message: out.Message, LikedChanged: out.LikedChanged})
}

// AlbumToggleRequest is the body of POST /api/playlist/toggle-album.
type AlbumToggleRequest struct {
	PlaylistID string `json:"playlist_id"`
	AlbumID    string `json:"album_id"`
	Action     string `json:"action"`
}

// AlbumToggleResponse is the body of a successful POST /api/playlist/toggle-album.
type AlbumToggleResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	TrackCount int    `json:"track_count"`
}

func (h *APIHandler) toggleAlbum(w http.ResponseWriter, r *http.Request) {
	var req AlbumToggleRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err, "")
		return
	}
	if req.PlaylistID == "" || req.AlbumID == "" || req.Action == "" {
		writeError(w, fmt.Errorf("%w: Missing data", shared.ErrMissingArgument), "")
		return
	}

	action, err := models.ParseAction(req.Action)
	if err != nil {
		writeError(w, err, "")
		return
	}

	out, err := h.coordinator.ApplyAlbum(r.Context(), req.PlaylistID, req.AlbumID, action)
	if err != nil {
		writeError(w, err, message(out))
		return
	}
	writeJSON(w, http.StatusOK, AlbumToggleResponse{Success: true, Message: out.Message, TrackCount: out.Tracks})
}

func message(out *membership.Outcome) string {
	if out == nil {
		return ""
	}
	return out.Message
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", shared.ErrInvalidInput, err)
	}
	return nil
}
