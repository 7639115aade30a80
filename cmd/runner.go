package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/nowplaying/internal/catalog"
	"github.com/desertthunder/nowplaying/internal/membership"
	"github.com/desertthunder/nowplaying/internal/repositories"
	"github.com/desertthunder/nowplaying/internal/services"
	"github.com/desertthunder/nowplaying/internal/shared"
	"github.com/desertthunder/nowplaying/internal/tasks"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

// spotifyTokenKey is the row the Spotify token is stored under.
const spotifyTokenKey = "spotify"

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config      *shared.Config
	configPath  string
	logger      *log.Logger
	output      io.Writer
	serviceOpts []services.Option

	stack *stack
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Logger     *log.Logger
	Output     io.Writer
	// ServiceOpts are appended to the options the Spotify client is built with.
	ServiceOpts []services.Option
}

// stack is the object graph shared by the server, the dashboard and the playlist commands.
type stack struct {
	db          *sql.DB
	tokens      *repositories.TokenRepository
	spotify     *services.SpotifyService
	cache       *membership.Cache
	registry    *membership.Registry
	resolver    *membership.Resolver
	coordinator *membership.Coordinator
	populator   *tasks.Populator
	pipeline    *catalog.Pipeline
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.ConfigPath == "" {
		opts.ConfigPath = "config.toml"
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config:      opts.Config,
		configPath:  opts.ConfigPath,
		logger:      opts.Logger,
		output:      opts.Output,
		serviceOpts: opts.ServiceOpts,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, serveCommand, dashboardCommand, playlistsCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// loadConfig reads the file named by --config, falling back to defaults when it doesn't exist,
// then overlays the environment.
func (r *Runner) loadConfig(path string) error {
	config := shared.DefaultConfig()
	if _, err := os.Stat(path); err == nil {
		if config, err = shared.LoadConfig(path); err != nil {
			return err
		}
	} else {
		r.logger.Debug("config file not found, using defaults", "path", path)
	}

	if err := shared.ApplyEnv(config); err != nil {
		return err
	}

	r.config = config
	r.configPath = path
	return nil
}

// SetLogger replaces the logger used by the runner and every component it builds afterwards.
func (r *Runner) SetLogger(logger *log.Logger) {
	r.logger = logger
}

// build wires the database, the Spotify client and the membership components. It is done once per process.
func (r *Runner) build() (*stack, error) {
	if r.stack != nil {
		return r.stack, nil
	}

	creds := r.config.Credentials.Spotify
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, fmt.Errorf("%w: Spotify client_id and client_secret must be set in %s", shared.ErrMissingCredentials, r.configPath)
	}

	db, err := r.openDatabase()
	if err != nil {
		return nil, err
	}
	tokens := repositories.NewTokenRepository(db)

	opts := append([]services.Option{services.WithTimeout(r.config.Remote.Timeout())}, r.serviceOpts...)
	spotify, err := services.NewSpotifyService(creds.Map(), opts...)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create Spotify service: %w", err)
	}

	spotify.SetTokenRefreshCallback(func(token *oauth2.Token) {
		if err := tokens.Save(spotifyTokenKey, token); err != nil {
			r.logger.Warn("failed to persist refreshed token", "error", err)
			return
		}
		r.logger.Debug("refreshed token saved")
	})

	switch token, err := tokens.Get(spotifyTokenKey); {
	case err == nil:
		spotify.SetToken(token)
	case errors.Is(err, shared.ErrNotFound):
		r.logger.Info("no stored Spotify token, run 'nowplaying auth login' or visit /login")
	default:
		db.Close()
		return nil, err
	}

	cache := membership.NewCache()
	registry := membership.NewRegistry()
	populator := tasks.NewPopulator(spotify, cache, r.logger, tasks.PopulatorOpts{
		InitialDelay: r.config.Population.InitialDelay(),
		Pacing:       r.config.Population.Pacing(),
	})

	r.stack = &stack{
		db:          db,
		tokens:      tokens,
		spotify:     spotify,
		cache:       cache,
		registry:    registry,
		resolver:    membership.NewResolver(cache, registry, spotify, r.logger),
		coordinator: membership.NewCoordinator(cache, registry, spotify, r.logger),
		populator:   populator,
		pipeline:    catalog.NewPipeline(spotify, registry, populator, r.config.Groups, r.logger),
	}
	return r.stack, nil
}

func (r *Runner) openDatabase() (*sql.DB, error) {
	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// Close releases the database held by the built stack.
func (r *Runner) Close() error {
	if r.stack == nil {
		return nil
	}
	err := r.stack.db.Close()
	r.stack = nil
	return err
}

// requireAuth fails commands that need the remote service before any call is made.
func (st *stack) requireAuth() error {
	if !st.spotify.Authenticated() {
		return fmt.Errorf("%w: run 'nowplaying auth login' first", shared.ErrNotAuthenticated)
	}
	return nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
