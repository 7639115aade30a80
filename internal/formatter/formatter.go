// package formatter renders duplicate-name reports to various formats (CSV, Markdown, plain text)
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/desertthunder/nowplaying/internal/catalog"
	"github.com/desertthunder/nowplaying/internal/shared"
	"github.com/samber/lo"
)

// Format names a report rendering.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "txt"
)

// ParseFormat accepts csv, markdown (md) and txt (text).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "txt", "text", "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q (want csv, markdown or txt)", shared.ErrInvalidInput, s)
	}
}

// Ext returns the file extension for f.
func (f Format) Ext() string {
	if f == FormatMarkdown {
		return "md"
	}
	return string(f)
}

// PlaylistURL returns the web link for a playlist id.
func PlaylistURL(id string) string {
	return "https://open.spotify.com/playlist/" + id
}

// Render writes report to w in format f.
func Render(w io.Writer, report *catalog.DuplicateReport, f Format) error {
	var (
		data []byte
		err  error
	)
	switch f {
	case FormatCSV:
		data, err = ExportToCSV(report.Rows)
	case FormatMarkdown:
		data, err = ExportToMarkdown(report)
	case FormatText:
		data, err = ExportToText(report)
	default:
		return fmt.Errorf("%w: unknown format %q", shared.ErrInvalidInput, f)
	}
	if err != nil {
		return err
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// ExportToCSV converts duplicate rows to CSV with columns: Dashboard Name, Spotify Playlist Name,
// Number of Duplicates, then a Playlist ID n / Playlist URL n pair per copy of the widest row.
func ExportToCSV(rows []catalog.DuplicateRow) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	widest := lo.Max(lo.Map(rows, func(r catalog.DuplicateRow, _ int) int { return len(r.IDs) }))

	headers := []string{"Dashboard Name", "Spotify Playlist Name", "Number of Duplicates"}
	for i := 1; i <= widest; i++ {
		headers = append(headers, fmt.Sprintf("Playlist ID %d", i), fmt.Sprintf("Playlist URL %d", i))
	}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, row := range rows {
		record := []string{row.DisplayName, row.SourceName, strconv.Itoa(len(row.IDs))}
		for i := 0; i < widest; i++ {
			if i < len(row.IDs) {
				record = append(record, row.IDs[i], PlaylistURL(row.IDs[i]))
			} else {
				record = append(record, "", "")
			}
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown converts a report to Markdown: a table of duplicated names, then one table per group.
func ExportToMarkdown(report *catalog.DuplicateReport) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("# Duplicate Playlist Names\n\n")
	buf.WriteString(fmt.Sprintf("**Playlists**: %d\n", report.TotalPlaylists))
	buf.WriteString(fmt.Sprintf("**Duplicated names**: %d\n", len(report.Duplicates)))
	buf.WriteString(fmt.Sprintf("**Unresolved rows**: %d\n\n", report.Unresolved()))

	if len(report.Duplicates) > 0 {
		buf.WriteString("| Name | Copies | Playlists |\n|---|---|---|\n")
		for _, name := range report.Names() {
			ids := report.Duplicates[name]
			links := lo.Map(ids, func(id string, _ int) string { return fmt.Sprintf("[%s](%s)", id, PlaylistURL(id)) })
			buf.WriteString(fmt.Sprintf("| %s | %d | %s |\n", escapeCell(name), len(ids), strings.Join(links, "<br>")))
		}
		buf.WriteString("\n")
	}

	for _, group := range groupOrder(report.Rows) {
		rows := lo.Filter(report.Rows, func(r catalog.DuplicateRow, _ int) bool { return r.Group == group })
		buf.WriteString(fmt.Sprintf("## %s\n\n", group))
		buf.WriteString("| Dashboard Name | Spotify Playlist Name | Copies | Override |\n|---|---|---|---|\n")
		for _, r := range rows {
			override := "none"
			if r.Override != "" {
				override = lo.Ternary(r.Resolved(), "`"+r.Override+"`", "`"+r.Override+"` (not a candidate)")
			}
			buf.WriteString(fmt.Sprintf("| %s | %s | %d | %s |\n", escapeCell(r.DisplayName), escapeCell(r.SourceName), len(r.IDs), override))
		}
		buf.WriteString("\n")
	}

	if len(report.OverrideIssues) > 0 {
		buf.WriteString("## Override Issues\n\n")
		for _, issue := range report.OverrideIssues {
			buf.WriteString(fmt.Sprintf("- %s\n", issue.String()))
		}
	}

	return buf.Bytes(), nil
}

// ExportToText converts a report to a plain text listing.
func ExportToText(report *catalog.DuplicateReport) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Total playlists: %d\n", report.TotalPlaylists))
	buf.WriteString(fmt.Sprintf("Found %d duplicate playlist names:\n\n", len(report.Duplicates)))
	for _, name := range report.Names() {
		ids := report.Duplicates[name]
		buf.WriteString(fmt.Sprintf("'%s' has %d copies:\n", name, len(ids)))
		for _, id := range ids {
			buf.WriteString(fmt.Sprintf("  - %s\n", id))
		}
		buf.WriteString("\n")
	}

	for _, group := range groupOrder(report.Rows) {
		rows := lo.Filter(report.Rows, func(r catalog.DuplicateRow, _ int) bool { return r.Group == group })
		buf.WriteString(fmt.Sprintf("Group %s: %d potential duplicate issues\n", group, len(rows)))
		for _, r := range rows {
			buf.WriteString(fmt.Sprintf("  Dashboard Name: '%s'\n", r.DisplayName))
			buf.WriteString(fmt.Sprintf("  Spotify Playlist: '%s'\n", r.SourceName))
			if r.Resolved() {
				buf.WriteString(fmt.Sprintf("  Pinned to %s by override\n", r.Override))
			}
			buf.WriteString(fmt.Sprintf("  %d copies found:\n", len(r.IDs)))
			for _, id := range r.IDs {
				buf.WriteString(fmt.Sprintf("    - %s\n", PlaylistURL(id)))
			}
			buf.WriteString("\n")
		}
	}

	for _, issue := range report.OverrideIssues {
		buf.WriteString(fmt.Sprintf("Override issue: %s\n", issue.String()))
	}

	return buf.Bytes(), nil
}

// WriteCSVExport writes one "<group>_duplicates.csv" per group with affected rows into dir and returns
// the created paths. Groups without duplicate rows get no file.
func WriteCSVExport(report *catalog.DuplicateReport, dir string) ([]string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	byGroup := lo.GroupBy(report.Rows, func(r catalog.DuplicateRow) string { return r.Group })
	var files []string
	for _, group := range groupOrder(report.Rows) {
		data, err := ExportToCSV(byGroup[group])
		if err != nil {
			return files, fmt.Errorf("failed to generate CSV for %s: %w", group, err)
		}

		path := filepath.Join(dir, group+"_duplicates.csv")
		if err := os.WriteFile(path, data, 0644); err != nil {
			return files, fmt.Errorf("failed to write CSV file: %w", err)
		}
		files = append(files, path)
	}
	return files, nil
}

// WriteExport renders report to path in format f.
func WriteExport(report *catalog.DuplicateReport, path string, f Format) error {
	var buf bytes.Buffer
	if err := Render(&buf, report, f); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	return nil
}

// groupOrder returns group names in order of first appearance.
func groupOrder(rows []catalog.DuplicateRow) []string {
	return lo.Uniq(lo.Map(rows, func(r catalog.DuplicateRow, _ int) string { return r.Group }))
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
