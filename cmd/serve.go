package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/desertthunder/nowplaying/internal/server"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Serve runs the HTTP API until interrupted.
//
// When a token is already stored every group is loaded at startup; otherwise loading waits for the first
// successful /login round trip.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	if err := r.config.Validate(); err != nil {
		return err
	}

	st, err := r.build()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := cmd.String("addr")
	if addr == "" {
		addr = r.config.Server.Addr()
	}
	httpServer := server.NewHTTPServer(addr, r.routes(ctx, st))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.logger.Info("starting server", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		r.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if st.spotify.Authenticated() {
		go r.loadGroups(gctx, st)
	} else {
		r.logger.Warn("not authenticated, open /login to authorize", "url", fmt.Sprintf("http://%s/login", addr))
	}

	return g.Wait()
}

// routes assembles the API and OAuth handlers. A token obtained through /callback is stored and triggers a
// reload of every group under ctx.
func (r *Runner) routes(ctx context.Context, st *stack) http.Handler {
	st.pipeline.Background = ctx

	oauthHandler := server.NewOAuthHandler(st.spotify, r.logger)
	oauthHandler.RedirectTo("/api/status")
	oauthHandler.OnToken(func(_ context.Context, token *oauth2.Token) {
		if err := st.tokens.Save(spotifyTokenKey, token); err != nil {
			r.logger.Error("failed to save token", "error", err)
		}
		go r.loadGroups(ctx, st)
	})

	api := server.NewAPIHandler(st.spotify, st.cache, st.registry, st.resolver, st.coordinator, st.populator, r.logger)

	router := server.NewBasicRouter()
	router.Use(server.Recover(r.logger), server.Logging(r.logger))
	router.Handler(api)
	router.Handler(oauthHandler)
	return router
}

// loadGroups runs the catalog pipeline and logs what each group ended up with.
func (r *Runner) loadGroups(ctx context.Context, st *stack) {
	reports, err := st.pipeline.Run(ctx)
	if err != nil && reports == nil {
		r.logger.Error("failed to load playlist groups", "error", err)
		return
	}
	for _, rep := range reports {
		if rep.Err != nil {
			r.logger.Warn("group skipped", "group", rep.Name, "error", rep.Err)
			continue
		}
		r.logger.Info("group ready", "group", rep.Name, "rows", rep.Rows, "tracked", rep.Tracked,
			"unresolved", len(rep.Unresolved), "run", rep.Run.ID)
	}
}
