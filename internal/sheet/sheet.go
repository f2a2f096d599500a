// Package sheet exports sampled examples to an .xlsx workbook for editing
// and reads the edited workbook back.
package sheet

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/jackzampolin/shrinkify/internal/prompt"
)

const (
	SheetName        = "Examples"
	ShortTitleHeader = "Short Title"
	CharCountHeader  = "Character Count"
)

// ErrBadSheet is returned when a workbook does not have the expected layout.
var ErrBadSheet = errors.New("malformed examples sheet")

// Write renders examples as one row each: the context columns, the short
// title, and a live LEN() formula over the short title.
func Write(w io.Writer, columns []string, examples []prompt.Example) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]any, 0, len(columns)+2)
	for _, c := range columns {
		header = append(header, c)
	}
	header = append(header, ShortTitleHeader, CharCountHeader)
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	titleCol, err := excelize.ColumnNumberToName(len(columns) + 1)
	if err != nil {
		return err
	}
	for i, ex := range examples {
		row := make([]any, 0, len(columns)+1)
		for _, c := range columns {
			row = append(row, ex.Values[c])
		}
		row = append(row, ex.ShortTitle)

		line := i + 2
		start, _ := excelize.CoordinatesToCellName(1, line)
		if err := f.SetSheetRow(SheetName, start, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", line, err)
		}
		countCell, _ := excelize.CoordinatesToCellName(len(columns)+2, line)
		if err := f.SetCellFormula(SheetName, countCell, fmt.Sprintf("LEN(%s%d)", titleCol, line)); err != nil {
			return fmt.Errorf("failed to write count formula: %w", err)
		}
	}

	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// Read parses a workbook written by Write. Context columns are every header
// before the short title column; the character count column is ignored and
// recomputed from the title. Rows with an empty short title are skipped.
func Read(r io.Reader) ([]string, []prompt.Example, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	name := SheetName
	if idx, _ := f.GetSheetIndex(name); idx < 0 {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, nil, fmt.Errorf("%w: no sheets", ErrBadSheet)
		}
		name = sheets[0]
	}

	rows, err := f.GetRows(name)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("%w: missing header", ErrBadSheet)
	}

	titleIdx := -1
	for i, h := range rows[0] {
		if strings.EqualFold(strings.TrimSpace(h), ShortTitleHeader) {
			titleIdx = i
			break
		}
	}
	if titleIdx <= 0 {
		return nil, nil, fmt.Errorf("%w: need context columns followed by %q", ErrBadSheet, ShortTitleHeader)
	}
	columns := make([]string, titleIdx)
	for i := range columns {
		columns[i] = strings.TrimSpace(rows[0][i])
	}

	var examples []prompt.Example
	for _, row := range rows[1:] {
		title := cell(row, titleIdx)
		if title == "" {
			continue
		}
		values := make(map[string]string, len(columns))
		for i, c := range columns {
			values[c] = cell(row, i)
		}
		examples = append(examples, prompt.Example{Values: values, ShortTitle: title})
	}
	return columns, examples, nil
}

// GetRows trims trailing empty cells, so short rows are common.
func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
