package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/nowplaying/internal/shared"
	"golang.org/x/oauth2"
)

// stateTTL bounds how long a login may take between redirect and callback.
const stateTTL = 10 * time.Minute

// Authorizer is the part of an OAuth service the callback flow needs.
type Authorizer interface {
	GetAuthURL(state string) string
	OAuthenticate(ctx context.Context, code string) (*oauth2.Token, error)
}

// OAuthResult contains the result of an OAuth authorization flow.
type OAuthResult struct {
	Token *oauth2.Token
	err   error
}

func (o *OAuthResult) Error() error {
	return o.err
}

// OAuthHandler serves /login and /callback for the authorization code flow.
//
// Every login gets its own single-use state token. Results are published on [OAuthHandler.Result] for
// one-shot CLI flows, and passed to the OnToken hook for long-running servers.
type OAuthHandler struct {
	auth    Authorizer
	logger  *log.Logger
	now     func() time.Time
	results chan OAuthResult

	mu      sync.Mutex
	pending map[string]time.Time
	onToken func(context.Context, *oauth2.Token)
	landing string
}

// NewOAuthHandler creates a new OAuth handler for the given service.
func NewOAuthHandler(auth Authorizer, logger *log.Logger) *OAuthHandler {
	return &OAuthHandler{
		auth:    auth,
		logger:  logger,
		now:     time.Now,
		results: make(chan OAuthResult, 1),
		pending: make(map[string]time.Time),
	}
}

// OnToken registers fn to run after every successful exchange, before the browser is answered.
func (h *OAuthHandler) OnToken(fn func(context.Context, *oauth2.Token)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onToken = fn
}

// RedirectTo sends the browser to path after a successful callback instead of rendering a page.
func (h *OAuthHandler) RedirectTo(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.landing = path
}

// Routes returns the HTTP routes this handler serves.
func (h *OAuthHandler) Routes() []string {
	return []string{"GET /login", "GET /callback"}
}

// AuthURL registers a fresh state token and returns the consent URL carrying it.
func (h *OAuthHandler) AuthURL() (string, error) {
	state, err := shared.GenerateState()
	if err != nil {
		return "", err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	for s, issued := range h.pending {
		if now.Sub(issued) > stateTTL {
			delete(h.pending, s)
		}
	}
	h.pending[state] = now
	return h.auth.GetAuthURL(state), nil
}

// consume reports whether state was issued and is still fresh, and forgets it either way.
func (h *OAuthHandler) consume(state string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	issued, ok := h.pending[state]
	delete(h.pending, state)
	return ok && h.now().Sub(issued) <= stateTTL
}

// ServeHTTP dispatches between the login redirect and the callback.
func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/login":
		h.login(w, r)
	case "/callback":
		h.callback(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *OAuthHandler) login(w http.ResponseWriter, r *http.Request) {
	url, err := h.AuthURL()
	if err != nil {
		h.logger.Error("failed to start login", "error", err)
		http.Error(w, "Failed to start login", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// callback validates the state parameter, exchanges the authorization code for tokens, and publishes the result.
func (h *OAuthHandler) callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if !h.consume(query.Get("state")) {
		h.Send(OAuthResult{err: fmt.Errorf("%w: invalid state parameter", shared.ErrAuthFailed)})
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	code := query.Get("code")
	if code == "" {
		err := fmt.Errorf("%w: %s - %s", shared.ErrAuthFailed, query.Get("error"), query.Get("error_description"))
		h.Send(OAuthResult{err: err})
		http.Error(w, "Authorization failed", http.StatusBadRequest)
		return
	}

	token, err := h.auth.OAuthenticate(r.Context(), code)
	if err != nil {
		h.logger.Error("token exchange failed", "error", err)
		h.Send(OAuthResult{err: err})
		http.Error(w, "Token exchange failed", http.StatusBadGateway)
		return
	}
	h.logger.Info("authorization complete", "expiry", token.Expiry)

	h.mu.Lock()
	onToken, landing := h.onToken, h.landing
	h.mu.Unlock()

	if onToken != nil {
		onToken(r.Context(), token)
	}
	h.Send(OAuthResult{Token: token})

	if landing != "" {
		http.Redirect(w, r, landing, http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, successPage)
}

// Send publishes result without blocking; it is dropped when an earlier result is still unread.
func (h *OAuthHandler) Send(result OAuthResult) {
	select {
	case h.results <- result:
	default:
	}
}

// Result returns the channel receiving OAuth flow outcomes.
func (h *OAuthHandler) Result() <-chan OAuthResult {
	return h.results
}

const successPage = `<!DOCTYPE html>
<html>
<head>
    <title>Authorization Successful</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #121212; }
        .container { text-align: center; background: #181818; padding: 2rem; border-radius: 8px; }
        h1 { color: #1DB954; margin: 0 0 1rem 0; }
        p { color: #b3b3b3; margin: 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Connected to Spotify</h1>
        <p>Your playlists are loading. You can close this window.</p>
    </div>
</body>
</html>
`
