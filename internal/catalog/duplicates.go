package catalog

import (
	"sort"

	"github.com/desertthunder/nowplaying/internal/shared"
)

// DuplicateRow is a definition whose source name owns more than one library playlist.
type DuplicateRow struct {
	Group       string
	DisplayName string
	SourceName  string
	IDs         []string
	Override    string // pinned id, empty when the name is still ambiguous
}

// Resolved reports whether an override pins the row to one of its candidates.
func (r DuplicateRow) Resolved() bool {
	for _, id := range r.IDs {
		if id == r.Override {
			return true
		}
	}
	return false
}

// DuplicateReport lists ambiguous playlist names and how the configured groups are affected.
type DuplicateReport struct {
	TotalPlaylists int
	Duplicates     map[string][]string
	Rows           []DuplicateRow
	OverrideIssues []OverrideIssue
}

// Names returns the duplicated names sorted.
func (r *DuplicateReport) Names() []string {
	names := make([]string, 0, len(r.Duplicates))
	for n := range r.Duplicates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Unresolved counts rows without a matching override.
func (r *DuplicateReport) Unresolved() int {
	n := 0
	for _, row := range r.Rows {
		if !row.Resolved() {
			n++
		}
	}
	return n
}

// BuildDuplicateReport checks every group's definitions against the catalog's duplicate names.
// defs is keyed by group name; groups without definitions contribute override issues only.
func BuildDuplicateReport(cat *Catalog, groups []shared.GroupConfig, defs map[string][]Definition) *DuplicateReport {
	report := &DuplicateReport{
		TotalPlaylists: cat.Len(),
		Duplicates:     cat.Duplicates(),
	}

	for _, g := range groups {
		for _, d := range defs[g.Name] {
			if d.Divider {
				continue
			}
			ids, dup := report.Duplicates[d.SourceName]
			if !dup {
				continue
			}
			report.Rows = append(report.Rows, DuplicateRow{
				Group:       g.Name,
				DisplayName: d.DisplayName,
				SourceName:  d.SourceName,
				IDs:         ids,
				Override:    g.Overrides[d.SourceName],
			})
		}
		report.OverrideIssues = append(report.OverrideIssues, ValidateOverrides(cat, g)...)
	}
	return report
}
