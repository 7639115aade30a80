// Package ui implements the terminal dashboard using bubbletea's Elm architecture.
//
// One [Model] shows a single playlist group: the current (or last played) track at the top and the
// group's rows below, each playlist marked when it contains the track. Dividers render as rules and
// can't be selected for toggling.
//
// The model implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// The current track is polled every [PollInterval]; population progress arrives through an optional channel
// and is shown under the list.
//
// Keyboard: j/k move, space toggles the track in the highlighted playlist, a toggles the whole album,
// r refreshes, ? expands the help from charmbracelet/bubbles/help, q quits.
package ui
