package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/nowplaying/internal/membership"
	"github.com/desertthunder/nowplaying/internal/models"
	"github.com/desertthunder/nowplaying/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgTrackFetched MsgKind = iota
	MsgMembershipResolved
	MsgToggled
	MsgProgressUpdate
	MsgTick
)

type trackFetched struct {
	track *models.CurrentTrack
	err   error
}

type membershipResolved struct {
	track models.TrackRef
	res   *membership.Resolution
	err   error
}

type toggled struct {
	playlistID string
	album      bool
	outcome    *membership.Outcome
	err        error
}

// trackFetchedMsg is the constructor for [MsgTrackFetched]
func trackFetchedMsg(track *models.CurrentTrack, err error) Msg {
	return Msg{kind: MsgTrackFetched, data: trackFetched{track, err}}
}

// membershipResolvedMsg is the constructor for [MsgMembershipResolved]
func membershipResolvedMsg(track models.TrackRef, res *membership.Resolution, err error) Msg {
	return Msg{kind: MsgMembershipResolved, data: membershipResolved{track, res, err}}
}

// toggledMsg is the constructor for [MsgToggled]
func toggledMsg(playlistID string, album bool, out *membership.Outcome, err error) Msg {
	return Msg{kind: MsgToggled, data: toggled{playlistID, album, out, err}}
}

// progressUpdateMsg is the constructor for [MsgProgressUpdate]
func progressUpdateMsg(update tasks.ProgressUpdate) Msg {
	return Msg{kind: MsgProgressUpdate, data: update}
}

// tickMsg is the constructor for [MsgTick]
func tickMsg() Msg {
	return Msg{kind: MsgTick}
}
