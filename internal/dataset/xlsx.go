package dataset

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/vqa-filter/internal/model"
)

// XLSXOptions configures the XLSX reader.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // overrides SheetIndex
}

// StreamXLSX sends every row of the selected sheet to the row channel. Both
// channels are closed when reading completes.
func StreamXLSX(ctx context.Context, path string, opts XLSXOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		f, err := xlsx.OpenFile(path)
		if err != nil {
			errCh <- eris.Wrap(err, "dataset: open xlsx")
			return
		}
		sheet, err := getSheet(f, opts)
		if err != nil {
			errCh <- err
			return
		}

		for _, row := range sheet.Rows {
			if row == nil {
				continue
			}
			select {
			case rowCh <- rowToStrings(row):
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "dataset: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// ReadXLSX reads a sheet whose first row names the fields.
func ReadXLSX(ctx context.Context, path string, opts XLSXOptions) ([]model.Record, error) {
	rows, errs := StreamXLSX(ctx, path, opts)

	var (
		header []string
		data   [][]string
	)
	for row := range rows {
		if header == nil {
			header = row
			continue
		}
		data = append(data, row)
	}
	if err := <-errs; err != nil {
		return nil, err
	}
	return rowsToRecords(header, data), nil
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("dataset: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}
	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("dataset: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

// WriteXLSX writes records to a single-sheet workbook. The header is the
// union of record keys in first-seen order; nested values are written as
// JSON text and image payloads are replaced by their length.
func WriteXLSX(path string, records []model.Record) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("results")
	if err != nil {
		return eris.Wrap(err, "dataset: add sheet")
	}

	columns := ColumnOrder(records)
	header := sheet.AddRow()
	for _, c := range columns {
		header.AddCell().SetString(c)
	}

	for _, rec := range records {
		row := sheet.AddRow()
		for _, c := range columns {
			cell := row.AddCell()
			v, ok := rec.Fields.Get(c)
			if !ok || v == nil {
				continue
			}
			setCell(cell, v)
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "dataset: save %s", path)
	}
	return nil
}

func setCell(cell *xlsx.Cell, v any) {
	switch t := v.(type) {
	case string:
		if IsImagePayload(t) {
			cell.SetString(fmt.Sprintf("<image %d chars>", len(t)))
			return
		}
		cell.SetString(t)
	case bool:
		cell.SetBool(t)
	case json.Number:
		if n, err := t.Float64(); err == nil {
			cell.SetFloat(n)
			return
		}
		cell.SetString(t.String())
	case float64:
		cell.SetFloat(t)
	case int:
		cell.SetInt(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			cell.SetString(fmt.Sprint(t))
			return
		}
		cell.SetString(string(b))
	}
}

// ColumnOrder returns the union of keys across records in first-seen order.
func ColumnOrder(records []model.Record) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, rec := range records {
		for _, k := range rec.Fields.Keys() {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	return cols
}
