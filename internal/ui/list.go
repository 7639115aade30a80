package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/nowplaying/internal/models"
)

var (
	_ list.Item         = rowItem{}
	_ list.ItemDelegate = rowDelegate{}
)

// rowItem wraps a group row to implement [list.Item].
type rowItem struct {
	playlist models.Playlist
	active   bool
}

func (i rowItem) FilterValue() string { return i.playlist.Name }
func (i rowItem) Title() string       { return i.playlist.Name }
func (i rowItem) Description() string { return i.playlist.SourceName }

// rowDelegate draws one line per row: a check box for playlists and a rule for dividers.
type rowDelegate struct {
	width int
}

func (d rowDelegate) Height() int                         { return 1 }
func (d rowDelegate) Spacing() int                        { return 0 }
func (d rowDelegate) Update(tea.Msg, *list.Model) tea.Cmd { return nil }

func (d rowDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	row, ok := item.(rowItem)
	if !ok {
		return
	}

	if row.playlist.IsDivider {
		width := d.width
		if width <= 0 {
			width = 40
		}
		fmt.Fprint(w, styles.divider.Render(strings.Repeat("─", width)))
		return
	}

	box := "[ ]"
	if row.active {
		box = styles.ok.Render("[x]")
	}
	line := fmt.Sprintf("%s %s", box, row.playlist.Name)
	if index == m.Index() {
		fmt.Fprint(w, styles.selected.Render("> "+line))
		return
	}
	fmt.Fprint(w, "  "+line)
}

// rowItems converts group rows, marking those in active.
func rowItems(rows []models.Playlist, active map[string]bool) []list.Item {
	items := make([]list.Item, len(rows))
	for i, pl := range rows {
		items[i] = rowItem{playlist: pl, active: !pl.IsDivider && active[pl.ID]}
	}
	return items
}
