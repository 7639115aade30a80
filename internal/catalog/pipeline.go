package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/nowplaying/internal/membership"
	"github.com/desertthunder/nowplaying/internal/shared"
	"github.com/desertthunder/nowplaying/internal/tasks"
)

// GroupReport is the outcome of the pipeline for one group.
type GroupReport struct {
	Name       string
	Rows       int // playlists and dividers registered
	Tracked    int // playlists scheduled for population
	Unresolved []Unresolved
	Issues     []OverrideIssue
	Run        *tasks.Run
	Err        error
}

// Pipeline loads, resolves, registers and schedules population for every configured group.
type Pipeline struct {
	lister    Lister
	registry  *membership.Registry
	populator *tasks.Populator
	groups    []shared.GroupConfig
	logger    *log.Logger
	load      func(shared.GroupConfig) ([]Definition, error)

	// Background is the context population runs are started with. It should live as long as the process.
	Background context.Context
	// Progress optionally receives population updates.
	Progress chan<- tasks.ProgressUpdate
}

func NewPipeline(
	lister Lister,
	registry *membership.Registry,
	populator *tasks.Populator,
	groups []shared.GroupConfig,
	logger *log.Logger,
) *Pipeline {
	return &Pipeline{
		lister:     lister,
		registry:   registry,
		populator:  populator,
		groups:     groups,
		logger:     logger,
		load:       LoadDefinitions,
		Background: context.Background(),
	}
}

// Run fetches the catalog once and processes each group. A group whose definitions can't be read is
// reported and skipped; a catalog failure aborts the whole run.
func (p *Pipeline) Run(ctx context.Context) ([]GroupReport, error) {
	p.logger.Info("fetching user playlists")
	cat, err := FetchCatalog(ctx, p.lister)
	if err != nil {
		p.logger.Error("catalog fetch failed", "error", err)
		return nil, err
	}
	p.logger.Info("catalog fetched", "playlists", cat.Len())

	reports := make([]GroupReport, 0, len(p.groups))
	var errs []error
	for _, g := range p.groups {
		report := p.runGroup(cat, g)
		if report.Err != nil {
			errs = append(errs, report.Err)
		}
		reports = append(reports, report)
	}
	return reports, errors.Join(errs...)
}

func (p *Pipeline) runGroup(cat *Catalog, g shared.GroupConfig) GroupReport {
	logger := p.logger.With("group", g.Name)
	report := GroupReport{Name: g.Name}

	defs, err := p.load(g)
	if err != nil {
		logger.Error("failed to read definitions", "csv", g.CSV, "error", err)
		report.Err = fmt.Errorf("group %s: %w", g.Name, err)
		return report
	}

	report.Issues = ValidateOverrides(cat, g)
	for _, issue := range report.Issues {
		logger.Warn("override does not match library", "name", issue.Name, "id", issue.ID, "problem", issue.Problem)
	}

	res := Resolve(cat, g, defs)
	report.Unresolved = res.Unresolved
	for _, u := range res.Unresolved {
		logger.Warn("playlist not found in library", "name", u.SourceName, "suggestions", u.Suggestions)
	}

	p.registry.SetGroup(res.Group)
	report.Rows = len(res.Group.Playlists)
	report.Tracked = len(res.Group.Tracked())
	logger.Info("group loaded", "rows", report.Rows, "tracked", report.Tracked, "unresolved", len(res.Unresolved))

	report.Run = p.populator.Start(p.Background, g.Name, res.Group.Playlists, p.Progress)
	return report
}
