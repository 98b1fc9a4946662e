package analyzer

import (
	"fmt"
	"io"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

type xlsxIterator struct {
	file   *excelize.File
	rows   *excelize.Rows
	header []string
}

func openXLSX(path string) (*excelize.File, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet %s: %w", path, err)
	}
	return f, nil
}

// newXLSXIterator streams one sheet. The iterator owns f and closes it.
func newXLSXIterator(f *excelize.File, sheet string) (it *xlsxIterator, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read sheet %q: %v", sheet, r)
		}
	}()

	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrSheetNotFound, sheet)
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	it = &xlsxIterator{file: f, rows: rows}
	for {
		row, err := it.next()
		if err != nil {
			rows.Close()
			if err == io.EOF {
				return nil, ErrNoData
			}
			return nil, err
		}
		if !IsBlank(row) {
			it.header = trimCells(row)
			return it, nil
		}
	}
}

func (it *xlsxIterator) next() ([]string, error) {
	if !it.rows.Next() {
		if err := it.rows.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return it.rows.Columns()
}

func (it *xlsxIterator) Header() []string { return it.header }

func (it *xlsxIterator) Next() ([]string, error) { return it.next() }

func (it *xlsxIterator) Close() error {
	rerr := it.rows.Close()
	if err := it.file.Close(); err != nil {
		return err
	}
	return rerr
}

// sliceIterator serves rows already held in memory.
type sliceIterator struct {
	header []string
	rows   [][]string
	pos    int
}

func (it *sliceIterator) Header() []string { return it.header }

func (it *sliceIterator) Next() ([]string, error) {
	if it.pos >= len(it.rows) {
		return nil, io.EOF
	}
	row := it.rows[it.pos]
	it.pos++
	return row, nil
}

func (it *sliceIterator) Close() error { return nil }

// xlsSheet is one sheet of a legacy workbook read fully into memory.
type xlsSheet struct {
	name string
	rows [][]string
	err  error
}

// readXLS loads every sheet of a legacy BIFF workbook. A sheet that fails to
// parse is returned with err set instead of failing the whole workbook.
func readXLS(path string) ([]xlsSheet, error) {
	wb, err := xls.Open(path, "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet %s: %w", path, err)
	}

	sheets := make([]xlsSheet, 0, wb.NumSheets())
	for i := 0; i < wb.NumSheets(); i++ {
		sheets = append(sheets, readXLSSheet(wb, i))
	}
	return sheets, nil
}

func readXLSSheet(wb *xls.WorkBook, i int) (out xlsSheet) {
	out.name = fmt.Sprintf("Sheet%d", i+1)
	defer func() {
		if r := recover(); r != nil {
			out.rows = nil
			out.err = fmt.Errorf("read sheet %q: %v", out.name, r)
		}
	}()

	sh := wb.GetSheet(i)
	if sh == nil {
		out.err = fmt.Errorf("read sheet %q: sheet is unreadable", out.name)
		return out
	}
	if sh.Name != "" {
		out.name = sh.Name
	}

	for r := 0; r <= int(sh.MaxRow); r++ {
		row := sh.Row(r)
		if row == nil {
			out.rows = append(out.rows, nil)
			continue
		}
		cells := make([]string, 0, row.LastCol())
		for c := 0; c < row.LastCol(); c++ {
			cells = append(cells, row.Col(c))
		}
		out.rows = append(out.rows, cells)
	}

	// MaxRow is inclusive and trailing nil rows are only padding
	for len(out.rows) > 0 && out.rows[len(out.rows)-1] == nil {
		out.rows = out.rows[:len(out.rows)-1]
	}
	return out
}

// newSliceIterator finds the header row in rows and serves the rest.
func newSliceIterator(rows [][]string) (*sliceIterator, error) {
	for i, row := range rows {
		if IsBlank(row) {
			continue
		}
		return &sliceIterator{header: trimCells(row), rows: rows[i+1:]}, nil
	}
	return nil, ErrNoData
}
