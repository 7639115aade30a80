package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/desertthunder/nowplaying/internal/membership"
	"github.com/desertthunder/nowplaying/internal/models"
	"github.com/desertthunder/nowplaying/internal/shared"
	"github.com/desertthunder/nowplaying/internal/tasks"
)

// PollInterval is how often the current track is refreshed.
const PollInterval = 5 * time.Second

// Playback reports what the user is listening to.
type Playback interface {
	CurrentTrack(ctx context.Context) (*models.CurrentTrack, error)
}

// Model represents the dashboard state for one playlist group.
type Model struct {
	ctx         context.Context
	group       models.Group
	playback    Playback
	resolver    *membership.Resolver
	coordinator *membership.Coordinator
	progress    <-chan tasks.ProgressUpdate

	width    int
	height   int
	rows     list.Model
	track    *models.CurrentTrack
	active   map[string]bool
	busy     bool
	status   string
	populate string
	err      error
	help     help.Model
	keys     keyMap
}

// NewModel creates a dashboard for group. progress may be nil.
func NewModel(
	ctx context.Context,
	group models.Group,
	playback Playback,
	resolver *membership.Resolver,
	coordinator *membership.Coordinator,
	progress <-chan tasks.ProgressUpdate,
) *Model {
	rows := list.New(rowItems(group.Playlists, nil), rowDelegate{}, 0, 0)
	rows.Title = group.Name
	rows.SetShowStatusBar(false)
	rows.SetFilteringEnabled(false)
	rows.SetShowHelp(false)

	return &Model{
		ctx:         ctx,
		group:       group,
		playback:    playback,
		resolver:    resolver,
		coordinator: coordinator,
		progress:    progress,
		rows:        rows,
		active:      map[string]bool{},
		help:        help.New(),
		keys:        newKeyMap(),
	}
}

// Init fetches the current track and starts listening for population progress.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.fetchTrack(), m.waitForProgress(), m.tick())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.rows.SetDelegate(rowDelegate{width: max(msg.Width-4, 10)})
		m.rows.SetSize(msg.Width-2, max(msg.Height-10, 3))
		return m, nil

	case tea.KeyMsg:
		return m.handleKeys(msg)

	case Msg:
		return m.handleMsg(msg)
	}

	var cmd tea.Cmd
	m.rows, cmd = m.rows.Update(msg)
	return m, cmd
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgTick:
		return m, tea.Batch(m.fetchTrack(), m.tick())

	case MsgTrackFetched:
		data := msg.data.(trackFetched)
		if data.err != nil {
			m.status = describe(data.err)
			return m, nil
		}
		changed := trackRef(m.track) != trackRef(data.track)
		m.track = data.track
		m.err = nil
		if data.track == nil {
			m.setActive(nil)
			return m, nil
		}
		if changed {
			return m, m.checkMembership(data.track.URI)
		}
		return m, nil

	case MsgMembershipResolved:
		data := msg.data.(membershipResolved)
		if data.track != trackRef(m.track) {
			return m, nil
		}
		if data.err != nil {
			m.status = describe(data.err)
			return m, nil
		}
		m.setActive(data.res.Active)
		if n := len(data.res.Failed); n > 0 {
			m.status = styles.warn.Render(fmt.Sprintf("%d playlists could not be checked", n))
		}
		return m, nil

	case MsgToggled:
		data := msg.data.(toggled)
		m.busy = false
		applied := data.err == nil
		var mutErr *membership.MutationError
		if errors.As(data.err, &mutErr) && mutErr.Applied {
			applied = true
		}

		if applied && data.outcome != nil && !data.album {
			m.active[data.playlistID] = data.outcome.Action == models.ActionAdd
			m.rows.SetItems(rowItems(m.group.Playlists, m.active))
		}

		switch {
		case data.err != nil && data.outcome != nil && data.outcome.Message != "":
			m.status = styles.warn.Render(data.outcome.Message)
		case data.err != nil:
			m.status = describe(data.err)
		default:
			m.status = styles.ok.Render(data.outcome.Message)
		}
		if data.album && m.track != nil {
			return m, m.checkMembership(m.track.URI)
		}
		return m, nil

	case MsgProgressUpdate:
		update := msg.data.(tasks.ProgressUpdate)
		m.populate = progressLine(update)
		return m, m.waitForProgress()
	}
	return m, nil
}

func (m *Model) handleKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.refresh):
		m.status = "Refreshing..."
		m.track = nil
		return m, m.fetchTrack()
	case key.Matches(msg, m.keys.toggle):
		return m, m.toggle(false)
	case key.Matches(msg, m.keys.album):
		return m, m.toggle(true)
	}

	var cmd tea.Cmd
	m.rows, cmd = m.rows.Update(msg)
	return m, cmd
}

// toggle flips the highlighted playlist's membership for the current track or its album.
func (m *Model) toggle(album bool) tea.Cmd {
	if m.busy {
		return nil
	}
	row, ok := m.rows.SelectedItem().(rowItem)
	if !ok || row.playlist.IsDivider {
		return nil
	}
	if m.track == nil {
		m.status = styles.warn.Render("Nothing is playing")
		return nil
	}
	if album && m.track.AlbumID == "" {
		m.status = styles.warn.Render("The current track has no album")
		return nil
	}

	action := models.ActionAdd
	if m.active[row.playlist.ID] {
		action = models.ActionRemove
	}

	m.busy = true
	m.status = fmt.Sprintf("Updating %s...", row.playlist.Name)
	ctx, playlistID, ref, albumID := m.ctx, row.playlist.ID, m.track.URI, m.track.AlbumID
	return func() tea.Msg {
		if album {
			out, err := m.coordinator.ApplyAlbum(ctx, playlistID, albumID, action)
			return toggledMsg(playlistID, true, out, err)
		}
		out, err := m.coordinator.Apply(ctx, playlistID, ref, action)
		return toggledMsg(playlistID, false, out, err)
	}
}

func (m *Model) setActive(ids []string) {
	m.active = make(map[string]bool, len(ids))
	for _, id := range ids {
		m.active[id] = true
	}
	m.rows.SetItems(rowItems(m.group.Playlists, m.active))
}

func (m *Model) fetchTrack() tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		track, err := m.playback.CurrentTrack(ctx)
		return trackFetchedMsg(track, err)
	}
}

func (m *Model) checkMembership(ref models.TrackRef) tea.Cmd {
	ctx, rows := m.ctx, m.group.Playlists
	return func() tea.Msg {
		res, err := m.resolver.Resolve(ctx, string(ref), rows)
		return membershipResolvedMsg(ref, res, err)
	}
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(PollInterval, func(time.Time) tea.Msg { return tickMsg() })
}

func (m *Model) waitForProgress() tea.Cmd {
	if m.progress == nil {
		return nil
	}
	ch := m.progress
	return func() tea.Msg {
		update, ok := <-ch
		if !ok {
			return nil
		}
		return progressUpdateMsg(update)
	}
}

// View renders the current track, the group's rows and the status line.
func (m *Model) View() string {
	if m.err != nil {
		return styles.err.Render(fmt.Sprintf("Error: %v\n\nPress q to quit", m.err))
	}

	var b strings.Builder
	b.WriteString(m.renderTrack())
	b.WriteString("\n")
	b.WriteString(m.rows.View())
	b.WriteString("\n\n")
	if m.status != "" {
		b.WriteString(m.status + "\n")
	}
	if m.populate != "" {
		b.WriteString(styles.help.Render(m.populate) + "\n")
	}
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m *Model) renderTrack() string {
	if m.track == nil {
		return styles.track.Render(styles.help.Render("Nothing playing"))
	}

	state := styles.help.Render("last played")
	if m.track.IsPlaying {
		state = styles.ok.Render("now playing")
	}
	liked := ""
	if m.track.IsLiked {
		liked = styles.ok.Render(" ♥")
	}

	body := lipgloss.JoinVertical(lipgloss.Left,
		styles.title.UnsetMarginBottom().Render(m.track.Name)+liked,
		m.track.Artist,
		styles.help.Render(m.track.Album),
		state,
	)
	return styles.track.Render(body)
}

// describe renders an error for the status line, keeping the retry hint of rate limits.
func describe(err error) string {
	var rle *shared.RateLimitError
	if errors.As(err, &rle) {
		return styles.warn.Render(fmt.Sprintf("Rate limited, try again in %ds", rle.Seconds()))
	}
	return styles.err.Render(err.Error())
}

func progressLine(u tasks.ProgressUpdate) string {
	switch u.Phase {
	case tasks.PopulateDone:
		return fmt.Sprintf("%s: %s", u.Group, u.Message)
	default:
		return fmt.Sprintf("%s: caching playlists %d/%d", u.Group, u.Step, u.Total)
	}
}

func trackRef(t *models.CurrentTrack) models.TrackRef {
	if t == nil {
		return ""
	}
	return t.URI
}
