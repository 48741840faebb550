package tabular

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/teranos/dailyix/errors"
)

var spreadsheetExts = map[string]bool{
	".xlsx": true,
	".xlsm": true,
	".xltx": true,
	".xltm": true,
}

// IsSpreadsheet reports whether p looks like an Excel workbook.
func IsSpreadsheet(p string) bool {
	return spreadsheetExts[strings.ToLower(filepath.Ext(p))]
}

// Normalize converts a staged workbook into CSV in place: the first sheet
// is written to a new temp file and f.LocalPath is pointed at it. Plain
// CSV files pass through unchanged.
func (s *Stager) Normalize(f *StagedFile) error {
	if !IsSpreadsheet(f.LocalPath) {
		return nil
	}

	wb, err := excelize.OpenFile(f.LocalPath)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to open workbook %s", f.Reference), ErrParse)
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return errors.Mark(errors.Newf("workbook %s has no sheets", f.Reference), ErrParse)
	}
	rows, err := wb.GetRows(sheets[0])
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to read sheet %q", sheets[0]), ErrParse)
	}

	dir, err := os.MkdirTemp(s.tempDir, "dailyix-normalize-*")
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to create normalize directory"), ErrTransientInfra)
	}
	f.track(dir)

	base := strings.TrimSuffix(filepath.Base(f.LocalPath), filepath.Ext(f.LocalPath))
	out := filepath.Join(dir, base+".csv")
	if err := writeCSV(out, rows); err != nil {
		return err
	}

	s.logger.Infow("Normalized workbook to CSV",
		"reference", f.Reference,
		"sheet", sheets[0],
		"rows", len(rows),
		"csv_path", out,
	)
	f.LocalPath = out
	return nil
}

func writeCSV(p string, rows [][]string) error {
	file, err := os.Create(p)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", p)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.WriteAll(rows); err != nil {
		return errors.Wrapf(err, "failed to write %s", p)
	}
	return errors.Wrapf(file.Sync(), "failed to flush %s", p)
}
