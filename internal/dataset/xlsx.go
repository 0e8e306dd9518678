package dataset

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXSource reads a worksheet whose first row is the header. Sheet selects a
// worksheet by name; empty means the first sheet.
type XLSXSource struct {
	Path  string
	Sheet string
}

// Read implements Source.
func (s *XLSXSource) Read(ctx context.Context) (*Table, error) {
	f, err := xlsx.OpenFile(s.Path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}

	sheet, err := getSheet(f, s.Sheet)
	if err != nil {
		return nil, err
	}
	if len(sheet.Rows) == 0 {
		return nil, eris.Errorf("xlsx: sheet %q is empty", sheet.Name)
	}

	t := &Table{Header: rowToStrings(sheet.Rows[0])}
	for _, row := range sheet.Rows[1:] {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "xlsx: context cancelled")
		}
		cells := rowToStrings(row)
		if isBlank(cells) {
			continue
		}
		t.Rows = append(t.Rows, cells)
	}
	return t, nil
}

// Close implements Source.
func (s *XLSXSource) Close() error { return nil }

func getSheet(f *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name != "" {
		sheet, ok := f.Sheet[name]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", name)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("xlsx: workbook has no sheets")
	}
	return f.Sheets[0], nil
}

// rowToStrings renders cells as CSV text. Boolean cells become "true" or
// "false" rather than Excel's TRUE/FALSE display form.
func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		if cell.Type() == xlsx.CellTypeBool {
			cells[j] = strconv.FormatBool(cell.Bool())
			continue
		}
		cells[j] = strings.TrimSpace(cell.String())
	}
	return cells
}

// isBlank reports trailing rows the spreadsheet kept after clearing.
func isBlank(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}
