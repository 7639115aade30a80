package catalog

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/nowplaying/internal/membership"
	"github.com/desertthunder/nowplaying/internal/models"
	"github.com/desertthunder/nowplaying/internal/services"
	"github.com/desertthunder/nowplaying/internal/shared"
	"github.com/desertthunder/nowplaying/internal/tasks"
	tu "github.com/desertthunder/nowplaying/internal/testing"
)

type stubLister struct {
	playlists []services.Playlist
	err       error
	calls     int
}

func (s *stubLister) GetPlaylists(context.Context) ([]services.Playlist, error) {
	s.calls++
	return s.playlists, s.err
}

type stubFetcher struct{}

func (stubFetcher) PlaylistTracks(_ context.Context, id string) (models.TrackSet, error) {
	return models.NewTrackSet(models.TrackRef("spotify:track:" + id)), nil
}

func quietLogger() *log.Logger { return log.New(io.Discard) }

func library() []services.Playlist {
	return []services.Playlist{
		{ID: "id-chill", Name: "Chill Mix"},
		{ID: "id-drive-1", Name: "Late Night Drive"},
		{ID: "id-gym", Name: "Gym Bangers"},
		{ID: "id-drive-2", Name: "Late Night Drive"},
		{ID: "id-rap", Name: "A&R - Unsigned Male Rappers to Track [2026]"},
	}
}

func testCatalog() *Catalog {
	return NewCatalog([]Entry{
		{ID: "id-chill", Name: "Chill Mix"},
		{ID: "id-drive-1", Name: "Late Night Drive"},
		{ID: "id-gym", Name: "Gym Bangers"},
		{ID: "id-drive-2", Name: "Late Night Drive"},
		{ID: "id-rap", Name: "A&R - Unsigned Male Rappers to Track [2026]"},
	})
}

func dashboardGroup() shared.GroupConfig {
	return shared.GroupConfig{
		Name:          "dashboard",
		DisplayColumn: "Dashboard Name",
		SourceColumn:  "Spotify Playlist Name",
		Dedupe:        true,
	}
}

func trackerGroup() shared.GroupConfig {
	return shared.GroupConfig{
		Name:          "tracker",
		DisplayColumn: "Dashboard Name",
		SourceColumn:  "Spotify Playlist Name",
		Dividers:      []string{"DIVIDER"},
	}
}

func TestReadDefinitions(t *testing.T) {
	t.Run("Reads Named Columns", func(t *testing.T) {
		input := "\ufeffNotes,Dashboard Name,Spotify Playlist Name\n" +
			"x, Chill ,Chill Mix\n" +
			"y,Drive,\"Late Night Drive\"\n"

		defs, err := ReadDefinitions(strings.NewReader(input), dashboardGroup())
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(defs) != 2 {
			t.Fatalf("expected 2 definitions, got %d", len(defs))
		}
		if defs[0].DisplayName != "Chill" || defs[0].SourceName != "Chill Mix" {
			t.Errorf("unexpected definition %+v", defs[0])
		}
	})

	t.Run("Dividers And Blank Rows", func(t *testing.T) {
		input := "Dashboard Name,Spotify Playlist Name\n" +
			"DIVIDER,\n" +
			"Chill,Chill Mix\n" +
			",Orphan Source\n" +
			"Missing Source,\n" +
			"DIVIDER,DIVIDER\n"

		defs, err := ReadDefinitions(strings.NewReader(input), trackerGroup())
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(defs) != 3 || !defs[0].Divider || defs[1].Divider || !defs[2].Divider {
			t.Errorf("unexpected definitions %+v", defs)
		}
	})

	t.Run("Short Rows", func(t *testing.T) {
		input := "Dashboard Name,Spotify Playlist Name\nOnly Display\n"
		defs, err := ReadDefinitions(strings.NewReader(input), dashboardGroup())
		if err != nil || len(defs) != 0 {
			t.Errorf("expected short row to be skipped, got %v, %v", defs, err)
		}
	})

	t.Run("Missing Column", func(t *testing.T) {
		_, err := ReadDefinitions(strings.NewReader("Name,Other\na,b\n"), dashboardGroup())
		if !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("Display Column Defaults To Source", func(t *testing.T) {
		g := shared.GroupConfig{Name: "q", SourceColumn: "Spotify Playlist Name"}
		defs, err := ReadDefinitions(strings.NewReader("Spotify Playlist Name\nChill Mix\n"), g)
		if err != nil || len(defs) != 1 || defs[0].DisplayName != "Chill Mix" {
			t.Errorf("unexpected result %v, %v", defs, err)
		}
	})

	t.Run("Empty File", func(t *testing.T) {
		defs, err := ReadDefinitions(strings.NewReader(""), dashboardGroup())
		if err != nil || len(defs) != 0 {
			t.Errorf("expected no definitions, got %v, %v", defs, err)
		}
	})

	t.Run("Load From File", func(t *testing.T) {
		g := dashboardGroup()
		g.CSV = filepath.Join(t.TempDir(), "dash.csv")
		tu.MustWriteFile(t, g.CSV, "Dashboard Name,Spotify Playlist Name\nChill,Chill Mix\n")

		defs, err := LoadDefinitions(g)
		if err != nil || len(defs) != 1 {
			t.Errorf("unexpected result %v, %v", defs, err)
		}

		g.CSV = filepath.Join(t.TempDir(), "missing.csv")
		if _, err := LoadDefinitions(g); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestCatalog(t *testing.T) {
	cat := testCatalog()

	t.Run("Last Duplicate Wins", func(t *testing.T) {
		id, ok := cat.Lookup("Late Night Drive")
		if !ok || id != "id-drive-2" {
			t.Errorf("expected id-drive-2, got %s", id)
		}
	})

	t.Run("Duplicates", func(t *testing.T) {
		dups := cat.Duplicates()
		if len(dups) != 1 || len(dups["Late Night Drive"]) != 2 {
			t.Errorf("unexpected duplicates %v", dups)
		}
	})

	t.Run("Suggest", func(t *testing.T) {
		got := cat.Suggest("unsigned male rappers", 3)
		if len(got) == 0 || got[0] != "A&R - Unsigned Male Rappers to Track [2026]" {
			t.Errorf("unexpected suggestions %v", got)
		}

		if got := cat.Suggest("zzzz", 3); len(got) != 0 {
			t.Errorf("expected no suggestions, got %v", got)
		}
	})

	t.Run("Fetch", func(t *testing.T) {
		lister := &stubLister{playlists: library()}
		fetched, err := FetchCatalog(context.Background(), lister)
		if err != nil || fetched.Len() != 5 {
			t.Errorf("unexpected catalog %v, %v", fetched, err)
		}

		_, err = FetchCatalog(context.Background(), &stubLister{err: shared.ErrRemoteUnavailable})
		if !errors.Is(err, shared.ErrRemoteUnavailable) {
			t.Errorf("expected ErrRemoteUnavailable, got %v", err)
		}
	})
}

func TestResolve(t *testing.T) {
	cat := testCatalog()

	t.Run("Names, Overrides And Dedupe", func(t *testing.T) {
		g := dashboardGroup()
		g.Overrides = map[string]string{"Late Night Drive": "id-drive-1"}
		defs := []Definition{
			{DisplayName: "Chill", SourceName: "Chill Mix"},
			{DisplayName: "Drive", SourceName: "Late Night Drive"},
			{DisplayName: "Chill", SourceName: "Gym Bangers"},
			{DisplayName: "Unknown", SourceName: "Unsigned Male Rappers"},
		}

		res := Resolve(cat, g, defs)
		rows := res.Group.Playlists
		if len(rows) != 2 {
			t.Fatalf("expected 2 rows, got %+v", rows)
		}
		if rows[1].ID != "id-drive-1" || rows[1].SourceName != "Late Night Drive" {
			t.Errorf("override not applied: %+v", rows[1])
		}
		if len(res.Overridden) != 1 {
			t.Errorf("expected one override, got %v", res.Overridden)
		}
		if len(res.Unresolved) != 1 || len(res.Unresolved[0].Suggestions) == 0 {
			t.Errorf("expected unresolved with suggestions, got %+v", res.Unresolved)
		}
	})

	t.Run("Dividers Kept In Place", func(t *testing.T) {
		defs := []Definition{
			{Divider: true},
			{DisplayName: "Chill", SourceName: "Chill Mix"},
			{Divider: true},
			{DisplayName: "Chill", SourceName: "Chill Mix"},
		}

		res := Resolve(cat, trackerGroup(), defs)
		rows := res.Group.Playlists
		if len(rows) != 4 || !rows[0].IsDivider || rows[0].ID != models.DividerID || !rows[2].IsDivider {
			t.Errorf("unexpected rows %+v", rows)
		}
		if len(res.Group.Tracked()) != 1 {
			t.Errorf("expected one tracked playlist, got %v", res.Group.Tracked())
		}
	})
}

func TestValidateOverrides(t *testing.T) {
	cat := testCatalog()
	g := dashboardGroup()
	g.Overrides = map[string]string{
		"Late Night Drive": "id-drive-1",
		"Chill Mix":        "id-gym",
		"Gone":             "id-missing",
	}

	issues := ValidateOverrides(cat, g)
	if len(issues) != 2 {
		t.Fatalf("expected 2 issues, got %v", issues)
	}
	if issues[0].Name != "Chill Mix" || !strings.Contains(issues[0].Problem, "Gym Bangers") {
		t.Errorf("unexpected first issue %v", issues[0])
	}
	if issues[1].Name != "Gone" || issues[1].Problem != "playlist id not in library" {
		t.Errorf("unexpected second issue %v", issues[1])
	}
}

func TestDuplicateReport(t *testing.T) {
	cat := testCatalog()
	dash := dashboardGroup()
	dash.Overrides = map[string]string{"Late Night Drive": "id-drive-1"}
	tracker := trackerGroup()

	defs := map[string][]Definition{
		"dashboard": {{DisplayName: "Drive", SourceName: "Late Night Drive"}, {DisplayName: "Chill", SourceName: "Chill Mix"}},
		"tracker":   {{Divider: true}, {DisplayName: "Night", SourceName: "Late Night Drive"}},
	}

	report := BuildDuplicateReport(cat, []shared.GroupConfig{dash, tracker}, defs)
	if report.TotalPlaylists != 5 || len(report.Names()) != 1 {
		t.Errorf("unexpected report header %+v", report)
	}
	if len(report.Rows) != 2 {
		t.Fatalf("expected 2 affected rows, got %+v", report.Rows)
	}
	if !report.Rows[0].Resolved() || report.Rows[1].Resolved() {
		t.Error("expected dashboard row resolved and tracker row ambiguous")
	}
	if report.Unresolved() != 1 {
		t.Errorf("expected 1 unresolved row, got %d", report.Unresolved())
	}
}

func TestPipeline(t *testing.T) {
	dir := t.TempDir()
	dash := dashboardGroup()
	dash.CSV = filepath.Join(dir, "dash.csv")
	tu.MustWriteFile(t, dash.CSV, "Dashboard Name,Spotify Playlist Name\nChill,Chill Mix\nGym,Gym Bangers\nNope,Not There\n")

	tracker := trackerGroup()
	tracker.CSV = filepath.Join(dir, "tracker.csv")
	tu.MustWriteFile(t, tracker.CSV, "Dashboard Name,Spotify Playlist Name\nDIVIDER,\nChill,Chill Mix\n")

	broken := dashboardGroup()
	broken.Name = "queue"
	broken.CSV = filepath.Join(dir, "missing.csv")

	t.Run("Registers And Populates Every Group", func(t *testing.T) {
		lister := &stubLister{playlists: library()}
		registry, cache := membership.NewRegistry(), membership.NewCache()
		populator := tasks.NewPopulator(stubFetcher{}, cache, quietLogger(), tasks.PopulatorOpts{})

		p := NewPipeline(lister, registry, populator, []shared.GroupConfig{dash, tracker, broken}, quietLogger())
		reports, err := p.Run(context.Background())
		if err == nil {
			t.Error("expected the unreadable group to be reported")
		}
		if lister.calls != 1 {
			t.Errorf("expected catalog fetched once, got %d", lister.calls)
		}
		if len(reports) != 3 {
			t.Fatalf("expected 3 reports, got %d", len(reports))
		}

		for _, r := range reports[:2] {
			if r.Run == nil {
				t.Fatalf("group %s was not scheduled", r.Name)
			}
			if _, err := r.Run.Wait(); err != nil {
				t.Errorf("group %s population failed: %v", r.Name, err)
			}
		}
		if reports[2].Err == nil || reports[2].Run != nil {
			t.Errorf("expected queue to fail without a run, got %+v", reports[2])
		}

		if len(reports[0].Unresolved) != 1 || reports[0].Tracked != 2 {
			t.Errorf("unexpected dashboard report %+v", reports[0])
		}
		if g, ok := registry.Group("tracker"); !ok || len(g.Playlists) != 2 {
			t.Errorf("unexpected tracker group %+v", g)
		}
		if !cache.Has("id-chill") || !cache.Has("id-gym") {
			t.Errorf("expected playlists cached, got %v", cache.IDs())
		}
	})

	t.Run("Catalog Failure Aborts", func(t *testing.T) {
		lister := &stubLister{err: &shared.RateLimitError{RetryAfter: shared.DefaultRetryAfter}}
		registry := membership.NewRegistry()
		populator := tasks.NewPopulator(stubFetcher{}, membership.NewCache(), quietLogger(), tasks.PopulatorOpts{})

		p := NewPipeline(lister, registry, populator, []shared.GroupConfig{dash}, quietLogger())
		if _, err := p.Run(context.Background()); !errors.Is(err, shared.ErrRateLimited) {
			t.Errorf("expected ErrRateLimited, got %v", err)
		}
		if len(registry.Names()) != 0 {
			t.Error("no group should be registered")
		}
	})
}
