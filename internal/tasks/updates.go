package tasks

import (
	"fmt"
)

// ProgressUpdate represents a progress event during a population run.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	RunID   string // Population run the update belongs to
	Group   string // Playlist group being populated
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	PopulateWait Phase = iota
	PopulateFetch
	PopulateFailed
	PopulateDone
)

func (p Phase) String() string {
	switch p {
	case PopulateWait:
		return "populate_wait"
	case PopulateFetch:
		return "populate_fetch"
	case PopulateFailed:
		return "populate_failed"
	case PopulateDone:
		return "populate_done"
	default:
		return ""
	}
}

func waitUpdate(r *Run) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PopulateWait,
		RunID:   r.ID,
		Group:   r.Group,
		Total:   r.Total,
		Message: fmt.Sprintf("Waiting to populate %s (%d playlists)...", r.Group, r.Total),
	}
}

func fetchedUpdate(r *Run, step int, id string, tracks int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PopulateFetch,
		RunID:   r.ID,
		Group:   r.Group,
		Step:    step,
		Total:   r.Total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s (%d tracks)", step, r.Total, id, tracks),
		Data:    id,
	}
}

func failedUpdate(r *Run, step int, id string, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PopulateFailed,
		RunID:   r.ID,
		Group:   r.Group,
		Step:    step,
		Total:   r.Total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, r.Total, id, err),
		Data:    err,
	}
}

func doneUpdate(r *Run, res *PopulationResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PopulateDone,
		RunID:   r.ID,
		Group:   r.Group,
		Step:    res.Succeeded,
		Total:   r.Total,
		Message: fmt.Sprintf("Cached %d/%d playlists for %s", res.Succeeded, r.Total, r.Group),
		Data:    res,
	}
}
