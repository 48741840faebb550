package tabular

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/teranos/dailyix/errors"
)

const utf8BOM = "\ufeff"

// Required header sets.
var (
	DailiesRequiredHeaders = []string{
		"name",
		"description",
		"duration",
		"effort",
		"detailed health benefit",
		"guide",
		"tools",
	}

	// DefaultParentColumn names the daily in relationship files.
	DefaultParentColumn = "daily_name"

	// DefaultRelationshipPrefix marks relationship target columns.
	DefaultRelationshipPrefix = "health_pillar_"
)

func newCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr
}

func cleanHeader(record []string) []string {
	header := make([]string, len(record))
	for i, h := range record {
		if i == 0 {
			h = strings.TrimPrefix(h, utf8BOM)
		}
		header[i] = strings.TrimSpace(h)
	}
	return header
}

// ReadHeader returns the first CSV record of the file at p, trimmed.
// Nothing past the header row is read.
func ReadHeader(p string) ([]string, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to open %s", p), ErrFileAccess)
	}
	defer f.Close()

	record, err := newCSVReader(f).Read()
	if err == io.EOF {
		return nil, errors.Mark(errors.Newf("file %s is empty, no header row", p), ErrHeaderValidation)
	}
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to read header of %s", p), ErrParse)
	}
	return cleanHeader(record), nil
}

// MissingHeaders returns the required headers absent from actual, in required order.
func MissingHeaders(required, actual []string) []string {
	have := make(map[string]bool, len(actual))
	for _, h := range actual {
		have[h] = true
	}
	var missing []string
	for _, h := range required {
		if !have[h] {
			missing = append(missing, h)
		}
	}
	return missing
}

// ValidateHeaders fails with ErrHeaderValidation when any required header is absent.
func ValidateHeaders(required, actual []string) error {
	missing := MissingHeaders(required, actual)
	if len(missing) == 0 {
		return nil
	}
	err := errors.Mark(
		errors.Newf("missing required headers: %s", strings.Join(missing, ", ")),
		ErrHeaderValidation)
	return errors.WithDetail(err, fmt.Sprintf("Found headers: %s", strings.Join(actual, ", ")))
}

// RelationshipColumn is a discovered target column.
type RelationshipColumn struct {
	Index  int    // position in the header row
	Header string // full header text, e.g. "health_pillar_Sleep"
	Target string // target name, e.g. "Sleep"
}

// DiscoverColumns returns, in header order, the columns whose name starts
// with prefix (case-sensitive). Finding none is ErrColumnDiscovery.
func DiscoverColumns(actual []string, prefix string) ([]RelationshipColumn, error) {
	var cols []RelationshipColumn
	for i, h := range actual {
		if !strings.HasPrefix(h, prefix) {
			continue
		}
		target := strings.TrimSpace(strings.TrimPrefix(h, prefix))
		if target == "" {
			continue
		}
		cols = append(cols, RelationshipColumn{Index: i, Header: h, Target: target})
	}
	if len(cols) == 0 {
		err := errors.Mark(errors.Newf("no relationship columns found with prefix %q", prefix), ErrColumnDiscovery)
		return nil, errors.WithHint(err, fmt.Sprintf("name target columns like %sSleep", prefix))
	}
	return cols, nil
}
