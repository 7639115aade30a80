package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/desertthunder/nowplaying/internal/shared"
)

// Definition is one row of a group's definition file.
type Definition struct {
	DisplayName string
	SourceName  string
	Divider     bool
}

// LoadDefinitions reads the definition file configured for g.
func LoadDefinitions(g shared.GroupConfig) ([]Definition, error) {
	f, err := os.Open(g.CSV)
	if err != nil {
		return nil, fmt.Errorf("failed to open definitions for %s: %w", g.Name, err)
	}
	defer f.Close()
	return ReadDefinitions(f, g)
}

// ReadDefinitions parses CSV rows with a header line. Rows whose display or source name is one of g's divider
// markers become dividers; rows missing either name are skipped.
func ReadDefinitions(r io.Reader, g shared.GroupConfig) ([]Definition, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read header: %v", shared.ErrInvalidInput, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	displayCol := g.DisplayColumn
	if displayCol == "" {
		displayCol = g.SourceColumn
	}
	di := slices.IndexFunc(header, func(h string) bool { return strings.TrimSpace(h) == displayCol })
	si := slices.IndexFunc(header, func(h string) bool { return strings.TrimSpace(h) == g.SourceColumn })
	if di < 0 || si < 0 {
		return nil, fmt.Errorf("%w: %s: columns %q and %q required, found %v",
			shared.ErrInvalidConfig, g.Name, displayCol, g.SourceColumn, header)
	}

	var defs []Definition
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
		}

		display, source := field(record, di), field(record, si)
		if slices.Contains(g.Dividers, display) || slices.Contains(g.Dividers, source) {
			defs = append(defs, Definition{DisplayName: display, SourceName: source, Divider: true})
			continue
		}
		if display == "" || source == "" {
			continue
		}
		defs = append(defs, Definition{DisplayName: display, SourceName: source})
	}
	return defs, nil
}

func field(record []string, i int) string {
	if i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}
