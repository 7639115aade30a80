package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/desertthunder/nowplaying/internal/server"
	"github.com/desertthunder/nowplaying/internal/shared"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

const authTimeout = 2 * time.Minute

// TokenStatus is the stored token as shown by 'auth status'. Secrets are never printed.
type TokenStatus struct {
	Service     string    `json:"service"`
	Stored      bool      `json:"stored"`
	Refreshable bool      `json:"refreshable"`
	Expiry      time.Time `json:"expiry,omitzero"`
	Expired     bool      `json:"expired"`
}

// AuthLogin performs the OAuth2 authorization code flow for Spotify and stores the resulting token.
//
// Starts a local HTTP server on the configured address, opens the browser and waits for the callback.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	st, err := r.build()
	if err != nil {
		return err
	}

	timeout := cmd.Duration("timeout")
	if timeout <= 0 {
		timeout = authTimeout
	}

	token, err := r.doOAuth(ctx, server.NewOAuthHandler(st.spotify, r.logger), timeout)
	if err != nil {
		return err
	}

	if err := st.tokens.Save(spotifyTokenKey, token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	r.writePlainln("✓ Authorization successful")
	r.writePlain("✓ Token saved to %s\n\n", r.config.Database.Path)
	r.writePlain("You can now use: nowplaying serve\n")
	return nil
}

// doOAuth serves the login and callback routes until a token arrives, the timeout passes or ctx ends.
func (r *Runner) doOAuth(ctx context.Context, oauthHandler *server.OAuthHandler, timeout time.Duration) (*oauth2.Token, error) {
	authURL, err := oauthHandler.AuthURL()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	router := server.NewBasicRouter()
	router.Use(server.Recover(r.logger))
	router.Handler(oauthHandler)

	httpServer := server.NewHTTPServer(r.config.Server.Addr(), router)

	serverErrors := make(chan error, 1)
	go func() {
		r.logger.Infof("starting OAuth server at %v", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("error shutting down server", "error", err)
		}
	}()

	r.writePlain("→ Opening browser for Spotify authorization...\n")
	if err := shared.OpenBrowser(authURL); err != nil {
		r.logger.Warnf("failed to open browser automatically %v", err)
		r.writePlainln("⚠ Could not open browser automatically.")
		r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
	}

	r.writePlain("→ Waiting for authorization (%s timeout)...\n", timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var result server.OAuthResult
	select {
	case result = <-oauthHandler.Result():
	case err := <-serverErrors:
		return nil, fmt.Errorf("server error: %w", err)
	case <-timer.C:
		return nil, fmt.Errorf("%w: authorization timed out after %s", shared.ErrTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if result.Error() != nil {
		return nil, fmt.Errorf("authorization failed: %w", result.Error())
	}
	if result.Token == nil {
		return nil, fmt.Errorf("%w: no token received", shared.ErrAuthFailed)
	}
	return result.Token, nil
}

// AuthStatus reports whether a token is stored and when it expires.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	st, err := r.build()
	if err != nil {
		return err
	}

	status := TokenStatus{Service: spotifyTokenKey}
	token, err := st.tokens.Get(spotifyTokenKey)
	switch {
	case err == nil:
		status.Stored = true
		status.Refreshable = token.RefreshToken != ""
		status.Expiry = token.Expiry
		status.Expired = !token.Expiry.IsZero() && token.Expiry.Before(time.Now())
	case !errors.Is(err, shared.ErrNotFound):
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(status, true)
	}

	if !status.Stored {
		return r.writePlain("✗ Not authenticated. Run 'nowplaying auth login'\n")
	}
	r.writePlain("✓ Spotify token stored\n")
	if !status.Expiry.IsZero() {
		r.writePlain("Expires: %s\n", status.Expiry.Local().Format(time.RFC1123))
	}
	if status.Expired && status.Refreshable {
		r.writePlain("Access token expired, it will be refreshed on next use\n")
	} else if status.Expired {
		r.writePlain("⚠ Access token expired and cannot be refreshed. Run 'nowplaying auth login'\n")
	}
	return nil
}

// AuthLogout deletes the stored token.
func (r *Runner) AuthLogout(ctx context.Context, cmd *cli.Command) error {
	st, err := r.build()
	if err != nil {
		return err
	}

	services, err := st.tokens.Services()
	if err != nil {
		return err
	}
	for _, s := range services {
		if err := st.tokens.Delete(s); err != nil {
			return err
		}
		r.logger.Info("token deleted", "service", s)
	}
	return r.writePlain("✓ Logged out\n")
}
