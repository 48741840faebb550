package tabular

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/teranos/dailyix/errors"
)

func writeWorkbook(t *testing.T, rows [][]interface{}) string {
	t.Helper()
	wb := excelize.NewFile()
	defer wb.Close()

	sheet := wb.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, wb.SetSheetRow(sheet, cell, &row))
	}

	p := filepath.Join(t.TempDir(), "dailies.xlsx")
	require.NoError(t, wb.SaveAs(p))
	return p
}

func TestIsSpreadsheet(t *testing.T) {
	assert.True(t, IsSpreadsheet("a.xlsx"))
	assert.True(t, IsSpreadsheet("A.XLSM"))
	assert.False(t, IsSpreadsheet("a.csv"))
	assert.False(t, IsSpreadsheet("a"))
}

func TestNormalizeWorkbookToCSV(t *testing.T) {
	p := writeWorkbook(t, [][]interface{}{
		{"unleash id", "name", "tools"},
		{"D1", "Walk", "Shoes, Water"},
		{"D2", "Stretch", "mat"},
	})

	stager, tmp := newTestStager(t)
	staged, err := stager.Stage(context.Background(), p)
	require.NoError(t, err)
	require.NoError(t, stager.Normalize(staged))

	assert.Equal(t, ".csv", filepath.Ext(staged.LocalPath))
	data, err := os.ReadFile(staged.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "unleash id,name,tools\nD1,Walk,\"Shoes, Water\"\nD2,Stretch,mat\n", string(data))

	staged.Cleanup()
	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries)
	_, err = os.Stat(p)
	assert.NoError(t, err, "the source workbook is the caller's")
}

func TestNormalizePassesCSVThrough(t *testing.T) {
	p := writeFixture(t, "plain.csv", "name\n")
	stager, _ := newTestStager(t)

	staged, err := stager.Stage(context.Background(), p)
	require.NoError(t, err)
	require.NoError(t, stager.Normalize(staged))
	assert.Equal(t, p, staged.LocalPath)
}

func TestNormalizeCorruptWorkbook(t *testing.T) {
	p := writeFixture(t, "broken.xlsx", "not a zip")
	stager, _ := newTestStager(t)

	staged, err := stager.Stage(context.Background(), p)
	require.NoError(t, err)
	err = stager.Normalize(staged)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrParse))
}
