package tabular

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/teranos/dailyix/errors"
)

// Dailies column names.
const (
	ColUnleashID             = "unleash id"
	ColName                  = "name"
	ColDescription           = "description"
	ColDuration              = "duration"
	ColEffort                = "effort"
	ColDetailedHealthBenefit = "detailed health benefit"
	ColGuide                 = "guide"
	ColTools                 = "tools"
	ColScienceRating         = "science rating"
	ColGoalMatchPercentage   = "goal match percentage"
	ColCoaching              = "coaching"
	ColCategory              = "category"
	ColStepByStepGuide       = "step by step guide"
	ColScientificExplanation = "scientific explanation"
)

// Fallbacks for cells that carry no leading integer.
const (
	DefaultDurationMinutes = 0
	DefaultEffort          = 1
)

// headerIndex maps a header name to its first column position.
type headerIndex map[string]int

func newHeaderIndex(header []string) headerIndex {
	idx := make(headerIndex, len(header))
	for i, h := range header {
		if _, seen := idx[h]; !seen {
			idx[h] = i
		}
	}
	return idx
}

// cell returns the trimmed value of column name, or "" when the column
// is absent or the row is short.
func (h headerIndex) cell(cells []string, name string) string {
	i, ok := h[name]
	if !ok || i >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[i])
}

// optional returns nil unless column name exists and is non-blank.
func (h headerIndex) optional(cells []string, name string) *string {
	v := h.cell(cells, name)
	if v == "" {
		return nil
	}
	return &v
}

// DailyRecord is one parsed row of a dailies file.
// Optional fields are nil when their column is missing or blank.
type DailyRecord struct {
	Ordinal               int
	UnleashID             string
	Name                  string
	Description           string
	DurationMinutes       int
	Effort                int
	DetailedHealthBenefit string
	Guide                 string
	Tools                 []string
	Coaching              string

	ScienceRating         *string
	GoalMatchPercentage   *string
	Category              *string
	StepByStepGuide       *string
	ScientificExplanation *string
}

// parseDailyRecord turns a raw row into a DailyRecord. It never fails:
// malformed numbers fall back to defaults and validation happens later.
func parseDailyRecord(idx headerIndex, cells []string, ordinal int) DailyRecord {
	return DailyRecord{
		Ordinal:               ordinal,
		UnleashID:             idx.cell(cells, ColUnleashID),
		Name:                  idx.cell(cells, ColName),
		Description:           idx.cell(cells, ColDescription),
		DurationMinutes:       leadingInt(idx.cell(cells, ColDuration), DefaultDurationMinutes),
		Effort:                leadingInt(idx.cell(cells, ColEffort), DefaultEffort),
		DetailedHealthBenefit: idx.cell(cells, ColDetailedHealthBenefit),
		Guide:                 idx.cell(cells, ColGuide),
		Tools:                 ParseTools(idx.cell(cells, ColTools)),
		Coaching:              idx.cell(cells, ColCoaching),
		ScienceRating:         idx.optional(cells, ColScienceRating),
		GoalMatchPercentage:   idx.optional(cells, ColGoalMatchPercentage),
		Category:              idx.optional(cells, ColCategory),
		StepByStepGuide:       idx.optional(cells, ColStepByStepGuide),
		ScientificExplanation: idx.optional(cells, ColScientificExplanation),
	}
}

// leadingInt reads an optional sign and the leading digits of s.
// "20 min" is 20; "abc" and "" give fallback.
func leadingInt(s string, fallback int) int {
	s = strings.TrimSpace(s)
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}

	n, digits := 0, 0
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		if n > (1<<31)/10 {
			break
		}
		n = n*10 + int(c-'0')
		digits++
	}
	if digits == 0 {
		return fallback
	}
	if neg {
		return -n
	}
	return n
}

// ParseTools splits a tools cell into lowercased names.
// Accepts "a, b", "a; b" and array-like `["A", "B"]` text.
func ParseTools(s string) []string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")

	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
	tools := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), `"'`)
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			tools = append(tools, p)
		}
	}
	return tools
}

// PillarRecord is one parsed row of a relationship file.
type PillarRecord struct {
	Ordinal   int
	DailyName string
	// Links lists, in column order, the targets whose cell asks for a link
	Links []PillarLink
}

// PillarLink is one requested link. Quartile is nil for a plain "true" cell.
type PillarLink struct {
	Target   string
	Quartile *int
}

// IsTruthy is the relationship cell predicate: "true" in any case.
func IsTruthy(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "true")
}

// parseLinkCell reports whether a relationship cell asks for a link. A
// whole number 1..4 links and carries the quartile; anything else that is
// not truthy leaves the pair unlinked.
func parseLinkCell(v string) (bool, *int) {
	if IsTruthy(v) {
		return true, nil
	}
	q, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || q < 1 || q > 4 {
		return false, nil
	}
	return true, &q
}

func parsePillarRecord(parentIdx int, cols []RelationshipColumn, cells []string, ordinal int) PillarRecord {
	rec := PillarRecord{Ordinal: ordinal}
	if parentIdx < len(cells) {
		rec.DailyName = strings.TrimSpace(cells[parentIdx])
	}
	for _, c := range cols {
		if c.Index >= len(cells) {
			continue
		}
		if ok, quartile := parseLinkCell(cells[c.Index]); ok {
			rec.Links = append(rec.Links, PillarLink{Target: c.Target, Quartile: quartile})
		}
	}
	return rec
}

// rawRow is one data record. Err is set when the record itself was malformed.
type rawRow struct {
	Ordinal int
	Cells   []string
	Err     error
}

// rowReader streams data rows after the header.
type rowReader struct {
	file    *os.File
	cr      *csv.Reader
	header  []string
	ordinal int
}

func openRows(p string) (*rowReader, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to open %s", p), ErrFileAccess)
	}
	cr := newCSVReader(f)
	record, err := cr.Read()
	if err != nil {
		f.Close()
		if err == io.EOF {
			return nil, errors.Mark(errors.Newf("file %s is empty, no header row", p), ErrHeaderValidation)
		}
		return nil, errors.Mark(errors.Wrapf(err, "failed to read header of %s", p), ErrParse)
	}
	return &rowReader{file: f, cr: cr, header: cleanHeader(record)}, nil
}

// Next returns the next row; ok is false at end of file. A malformed
// record comes back as a row with Err set so the caller can count it
// against the error budget and move on.
func (r *rowReader) Next() (row rawRow, ok bool, err error) {
	record, err := r.cr.Read()
	if err == io.EOF {
		return rawRow{}, false, nil
	}
	r.ordinal++
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return rawRow{Ordinal: r.ordinal, Err: perr}, true, nil
		}
		return rawRow{}, false, errors.Mark(errors.Wrapf(err, "failed to read row %d", r.ordinal), ErrParse)
	}
	return rawRow{Ordinal: r.ordinal, Cells: record}, true, nil
}

func (r *rowReader) Close() error {
	return r.file.Close()
}

// countRows counts data rows after the header, malformed ones included.
func countRows(p string) (int, error) {
	r, err := openRows(p)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	n := 0
	for {
		_, ok, err := r.Next()
		if err != nil {
			return 0, err
		}
		if !ok {
			return n, nil
		}
		n++
	}
}
