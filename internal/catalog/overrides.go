package catalog

import (
	"fmt"
	"sort"

	"github.com/desertthunder/nowplaying/internal/shared"
)

// OverrideIssue is an override that does not agree with the library.
type OverrideIssue struct {
	Group   string
	Name    string
	ID      string
	Problem string
}

func (i OverrideIssue) String() string {
	return fmt.Sprintf("%s: override %q -> %s: %s", i.Group, i.Name, i.ID, i.Problem)
}

// ValidateOverrides checks that each override id is in the library under the overridden name.
func ValidateOverrides(cat *Catalog, g shared.GroupConfig) []OverrideIssue {
	names := make([]string, 0, len(g.Overrides))
	for name := range g.Overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	var issues []OverrideIssue
	for _, name := range names {
		id := g.Overrides[name]
		entry, ok := cat.Get(id)
		switch {
		case !ok:
			issues = append(issues, OverrideIssue{Group: g.Name, Name: name, ID: id, Problem: "playlist id not in library"})
		case entry.Name != name:
			issues = append(issues, OverrideIssue{
				Group: g.Name, Name: name, ID: id,
				Problem: fmt.Sprintf("playlist is named %q", entry.Name),
			})
		}
	}
	return issues
}
