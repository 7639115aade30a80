package tasks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/nowplaying/internal/models"
	"github.com/desertthunder/nowplaying/internal/shared"
	"golang.org/x/time/rate"
)

// Fetcher retrieves a playlist's complete track set.
type Fetcher interface {
	PlaylistTracks(ctx context.Context, playlistID string) (models.TrackSet, error)
}

// Store receives completed entries. Set replaces an entry wholesale.
type Store interface {
	Set(playlistID string, tracks models.TrackSet)
}

// PopulatorOpts contains scheduling configuration for population runs.
type PopulatorOpts struct {
	InitialDelay time.Duration // wait before the first fetch of every run
	Pacing       time.Duration // minimum gap between playlist fetches, shared by all runs
}

// PopulationError reports the playlists a run failed to fetch. It is never fatal to the others.
type PopulationError struct {
	Group    string
	Total    int
	Failures map[string]error
}

func (e *PopulationError) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for id := range e.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return fmt.Sprintf("%v: group %s: %d of %d playlists failed (%s)",
		shared.ErrPartialPopulation, e.Group, len(e.Failures), e.Total, strings.Join(ids, ", "))
}

func (e *PopulationError) Unwrap() error { return shared.ErrPartialPopulation }

// PopulationResult summarizes a finished run.
type PopulationResult struct {
	RunID     string
	Group     string
	Total     int
	Succeeded int
	Failures  map[string]error
	Elapsed   time.Duration
}

// Progress is a point-in-time view of a run.
type Progress struct {
	RunID     string    `json:"run_id"`
	Group     string    `json:"group"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Total     int       `json:"total"`
	Done      bool      `json:"done"`
	StartedAt time.Time `json:"started_at"`
}

// Run is one background population of a playlist group.
type Run struct {
	ID        string
	Group     string
	Total     int
	StartedAt time.Time

	playlists []models.Playlist
	succeeded atomic.Int64
	failed    atomic.Int64
	done      chan struct{}

	mu     sync.Mutex
	result *PopulationResult
	err    error
}

// Done is closed when the run has visited every playlist or its context ended.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes and returns its result. The error is a [*PopulationError] when any
// playlist failed, or the context error when the run was cut short.
func (r *Run) Wait() (*PopulationResult, error) {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.err
}

func (r *Run) Progress() Progress {
	p := Progress{
		RunID:     r.ID,
		Group:     r.Group,
		Succeeded: int(r.succeeded.Load()),
		Failed:    int(r.failed.Load()),
		Total:     r.Total,
		StartedAt: r.StartedAt,
	}
	select {
	case <-r.done:
		p.Done = true
	default:
	}
	return p
}

// Populator fills the membership cache in the background, one playlist at a time.
type Populator struct {
	fetcher Fetcher
	store   Store
	logger  *log.Logger
	opts    PopulatorOpts
	limiter *rate.Limiter

	mu     sync.Mutex
	latest map[string]*Run
	order  []string
}

func NewPopulator(fetcher Fetcher, store Store, logger *log.Logger, opts PopulatorOpts) *Populator {
	limit := rate.Inf
	if opts.Pacing > 0 {
		limit = rate.Every(opts.Pacing)
	}
	return &Populator{
		fetcher: fetcher,
		store:   store,
		logger:  logger,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		latest:  make(map[string]*Run),
	}
}

// sendProgress sends a progress update through the channel without blocking.
func (p *Populator) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// Start launches a population run for group and returns immediately.
//
// Dividers and repeated ids are dropped before the run starts. ctx should not be tied to a request;
// cancelling it stops the run before its next fetch. Runs for different groups proceed independently,
// and two runs may set the same playlist, in which case the last write wins.
func (p *Populator) Start(ctx context.Context, group string, playlists []models.Playlist, progress chan<- ProgressUpdate) *Run {
	tracked := models.TrackedPlaylists(playlists)
	run := &Run{
		ID:        shared.GenerateID(),
		Group:     group,
		Total:     len(tracked),
		StartedAt: time.Now(),
		playlists: tracked,
		done:      make(chan struct{}),
	}

	p.mu.Lock()
	if _, ok := p.latest[group]; !ok {
		p.order = append(p.order, group)
	}
	p.latest[group] = run
	p.mu.Unlock()

	go p.execute(ctx, run, progress)
	return run
}

// Populate runs a population synchronously.
func (p *Populator) Populate(ctx context.Context, group string, playlists []models.Playlist, progress chan<- ProgressUpdate) (*PopulationResult, error) {
	return p.Start(ctx, group, playlists, progress).Wait()
}

// Runs returns the latest run of every group in the order groups were first started.
func (p *Populator) Runs() []*Run {
	p.mu.Lock()
	defer p.mu.Unlock()
	runs := make([]*Run, 0, len(p.order))
	for _, g := range p.order {
		runs = append(runs, p.latest[g])
	}
	return runs
}

func (p *Populator) execute(ctx context.Context, run *Run, progress chan<- ProgressUpdate) {
	defer close(run.done)

	logger := p.logger.With("group", run.Group, "run", run.ID)
	failures := make(map[string]error)
	var runErr error

	p.sendProgress(progress, waitUpdate(run))
	if err := sleep(ctx, p.opts.InitialDelay); err != nil {
		runErr = err
	} else {
		logger.Info("starting background cache population", "playlists", run.Total)
	}

	for i, pl := range run.playlists {
		if runErr != nil {
			break
		}
		if err := p.limiter.Wait(ctx); err != nil {
			runErr = err
			break
		}

		tracks, err := p.fetcher.PlaylistTracks(ctx, pl.ID)
		if err != nil {
			logger.Warn("failed to cache playlist", "playlist", pl.ID, "name", pl.SourceName, "error", err)
			failures[pl.ID] = err
			run.failed.Add(1)
			p.sendProgress(progress, failedUpdate(run, i+1, pl.ID, err))
			continue
		}

		p.store.Set(pl.ID, tracks)
		run.succeeded.Add(1)
		logger.Debug("cached playlist", "playlist", pl.ID, "name", pl.SourceName, "tracks", tracks.Len())
		p.sendProgress(progress, fetchedUpdate(run, i+1, pl.ID, tracks.Len()))
	}

	res := &PopulationResult{
		RunID:     run.ID,
		Group:     run.Group,
		Total:     run.Total,
		Succeeded: int(run.succeeded.Load()),
		Failures:  failures,
		Elapsed:   time.Since(run.StartedAt),
	}

	switch {
	case runErr != nil:
		logger.Warn("population stopped", "succeeded", res.Succeeded, "total", run.Total, "error", runErr)
	case len(failures) > 0:
		runErr = &PopulationError{Group: run.Group, Total: run.Total, Failures: failures}
		logger.Warn("cache partially populated", "succeeded", res.Succeeded, "failed", len(failures), "total", run.Total)
	default:
		logger.Info("cache populated", "succeeded", res.Succeeded, "total", run.Total, "elapsed", res.Elapsed)
	}

	run.mu.Lock()
	run.result, run.err = res, runErr
	run.mu.Unlock()

	p.sendProgress(progress, doneUpdate(run, res))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
