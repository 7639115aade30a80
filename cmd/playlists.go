package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/desertthunder/nowplaying/internal/catalog"
	"github.com/desertthunder/nowplaying/internal/formatter"
	"github.com/desertthunder/nowplaying/internal/membership"
	"github.com/desertthunder/nowplaying/internal/shared"
	"github.com/desertthunder/nowplaying/internal/tasks"
	"github.com/samber/lo"
	"github.com/urfave/cli/v3"
)

// GroupSummary is one group resolved against the library.
type GroupSummary struct {
	Name       string           `json:"name"`
	Rows       int              `json:"rows"`
	Tracked    int              `json:"tracked"`
	Unresolved []UnresolvedName `json:"unresolved"`
	Issues     []string         `json:"override_issues,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// UnresolvedName is a definition whose playlist isn't in the library.
type UnresolvedName struct {
	Name        string   `json:"name"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// CheckedPlaylist is a group playlist that holds the checked track.
type CheckedPlaylist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CheckResult is the output of 'playlists check'.
type CheckResult struct {
	Track       string            `json:"track"`
	Active      []CheckedPlaylist `json:"active"`
	LiveChecked int               `json:"live_checked"`
	Failed      []string          `json:"failed,omitempty"`
}

// resolveGroups registers every configured group without starting population.
func (r *Runner) resolveGroups(ctx context.Context, st *stack) ([]GroupSummary, error) {
	cat, err := catalog.FetchCatalog(ctx, st.spotify)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("catalog fetched", "playlists", cat.Len())

	summaries := make([]GroupSummary, 0, len(r.config.Groups))
	for _, g := range r.config.Groups {
		summary := GroupSummary{Name: g.Name, Unresolved: []UnresolvedName{}}

		defs, err := catalog.LoadDefinitions(g)
		if err != nil {
			r.logger.Warn("failed to read definitions", "group", g.Name, "error", err)
			summary.Error = err.Error()
			summaries = append(summaries, summary)
			continue
		}

		res := catalog.Resolve(cat, g, defs)
		st.registry.SetGroup(res.Group)

		summary.Rows = len(res.Group.Playlists)
		summary.Tracked = len(res.Group.Tracked())
		for _, u := range res.Unresolved {
			summary.Unresolved = append(summary.Unresolved, UnresolvedName{Name: u.SourceName, Suggestions: u.Suggestions})
		}
		summary.Issues = lo.Map(catalog.ValidateOverrides(cat, g), func(i catalog.OverrideIssue, _ int) string {
			return i.String()
		})
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// PlaylistGroups prints how each configured group resolves against the library.
func (r *Runner) PlaylistGroups(ctx context.Context, cmd *cli.Command) error {
	st, err := r.build()
	if err != nil {
		return err
	}
	if err := st.requireAuth(); err != nil {
		return err
	}

	summaries, err := r.resolveGroups(ctx, st)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(summaries, cmd.Bool("pretty"))
	}

	for _, s := range summaries {
		r.writePlainHeader(s.Name)
		if s.Error != "" {
			r.writePlain("✗ %s\n\n", s.Error)
			continue
		}
		r.writePlain("Rows: %d  Tracked: %d  Unresolved: %d\n", s.Rows, s.Tracked, len(s.Unresolved))
		for _, u := range s.Unresolved {
			if len(u.Suggestions) > 0 {
				r.writePlain("  ✗ %s (did you mean: %s?)\n", u.Name, strings.Join(u.Suggestions, ", "))
			} else {
				r.writePlain("  ✗ %s\n", u.Name)
			}
		}
		for _, issue := range s.Issues {
			r.writePlain("  ⚠ %s\n", issue)
		}
		r.writePlain("\n")
	}
	return nil
}

// PlaylistCheck lists which group playlists contain a track. Nothing is cached yet, so every playlist
// is checked live.
func (r *Runner) PlaylistCheck(ctx context.Context, cmd *cli.Command) error {
	st, err := r.build()
	if err != nil {
		return err
	}
	if err := st.requireAuth(); err != nil {
		return err
	}
	if _, err := r.resolveGroups(ctx, st); err != nil {
		return err
	}

	track := cmd.String("track")
	var res *membership.Resolution
	if name := cmd.String("group"); name != "" {
		group, ok := st.registry.Group(name)
		if !ok {
			return fmt.Errorf("%w: group %q", shared.ErrNotFound, name)
		}
		res, err = st.resolver.Resolve(ctx, track, group.Playlists)
	} else {
		res, err = st.resolver.ActivePlaylists(ctx, track)
	}
	if err != nil {
		return err
	}

	result := CheckResult{
		Track:       string(res.Track),
		Active:      []CheckedPlaylist{},
		LiveChecked: len(res.LiveChecked),
		Failed:      lo.Keys(res.Failed),
	}
	sort.Strings(result.Failed)
	for _, id := range res.Active {
		name := id
		if pl, ok := st.registry.Lookup(id); ok {
			name = pl.Name
		}
		result.Active = append(result.Active, CheckedPlaylist{ID: id, Name: name})
	}

	if cmd.Bool("json") {
		return r.writeJSON(result, true)
	}

	if len(result.Active) == 0 {
		r.writePlain("%s is not in any group playlist\n", result.Track)
	} else {
		r.writePlain("%s is in %d playlist(s):\n", result.Track, len(result.Active))
		for _, pl := range result.Active {
			r.writePlain("  ✓ %s (%s)\n", pl.Name, pl.ID)
		}
	}
	for _, id := range result.Failed {
		r.writePlain("  ⚠ could not check %s: %v\n", id, res.Failed[id])
	}
	return nil
}

// PlaylistWarm runs a full population for every group and waits for it to finish.
func (r *Runner) PlaylistWarm(ctx context.Context, cmd *cli.Command) error {
	st, err := r.build()
	if err != nil {
		return err
	}
	if err := st.requireAuth(); err != nil {
		return err
	}

	st.pipeline.Background = ctx
	reports, err := st.pipeline.Run(ctx)
	if err != nil && reports == nil {
		return err
	}

	for _, rep := range reports {
		if rep.Err != nil {
			r.writePlain("✗ %s: %v\n", rep.Name, rep.Err)
			continue
		}

		res, runErr := rep.Run.Wait()
		var partial *tasks.PopulationError
		switch {
		case runErr == nil:
			r.writePlain("✓ %s: %d/%d playlists cached in %s\n", rep.Name, res.Succeeded, res.Total, res.Elapsed.Round(time.Millisecond))
		case errors.As(runErr, &partial):
			r.writePlain("⚠ %s: %d/%d playlists cached, %d failed\n", rep.Name, res.Succeeded, res.Total, len(partial.Failures))
		default:
			return runErr
		}
	}
	return r.writePlain("Cached playlists: %d\n", st.cache.Len())
}

// PlaylistDuplicates reports library names shared by several playlists and how the groups are affected.
func (r *Runner) PlaylistDuplicates(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	st, err := r.build()
	if err != nil {
		return err
	}
	if err := st.requireAuth(); err != nil {
		return err
	}

	cat, err := catalog.FetchCatalog(ctx, st.spotify)
	if err != nil {
		return err
	}

	defs := make(map[string][]catalog.Definition, len(r.config.Groups))
	for _, g := range r.config.Groups {
		d, err := catalog.LoadDefinitions(g)
		if err != nil {
			r.logger.Warn("failed to read definitions", "group", g.Name, "error", err)
			continue
		}
		defs[g.Name] = d
	}

	report := catalog.BuildDuplicateReport(cat, r.config.Groups, defs)
	r.logger.Info("duplicate report built", "duplicates", len(report.Duplicates), "rows", len(report.Rows),
		"unresolved", report.Unresolved())

	switch dir, output := cmd.String("dir"), cmd.String("output"); {
	case dir != "":
		paths, err := formatter.WriteCSVExport(report, dir)
		if err != nil {
			return err
		}
		for _, p := range paths {
			r.writePlain("✓ Wrote %s\n", p)
		}
		return nil
	case output != "":
		if err := formatter.WriteExport(report, output, format); err != nil {
			return err
		}
		return r.writePlain("✓ Wrote %s\n", output)
	default:
		return formatter.Render(r.output, report, format)
	}
}
