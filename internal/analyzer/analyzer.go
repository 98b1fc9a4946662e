package analyzer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// contextCheckInterval is how often (in rows) long scans check for cancellation.
const contextCheckInterval = 1000

// Analyze builds the structural descriptor of a file. A missing or unreadable
// file is an error; a sheet that fails to parse is recorded with HasError and
// the scan moves on to the next sheet.
func Analyze(ctx context.Context, path string, ft FileType, opts Options, progress ProgressFunc) (*Analysis, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("file not readable: %w", err)
	}
	if progress == nil {
		progress = func(int, int) {}
	}

	switch ft {
	case TypeCSV:
		return analyzeCSV(ctx, path, opts, progress)
	case TypeXLSX:
		return analyzeXLSX(ctx, path, progress)
	case TypeXLS:
		return analyzeXLS(ctx, path, progress)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, ft)
	}
}

func analyzeCSV(ctx context.Context, path string, opts Options, progress ProgressFunc) (*Analysis, error) {
	analysis := &Analysis{FileType: TypeCSV}

	it, err := openCSV(path, opts)
	if err != nil {
		if !errors.Is(err, ErrNoData) && !isContentError(err) {
			return nil, err
		}
		analysis.Sheets = []Sheet{errorSheet(CSVSheetName, err)}
		progress(1, 1)
		return analysis, nil
	}
	defer it.Close()
	analysis.Encoding = it.encoding

	sheet, err := scan(ctx, CSVSheetName, it)
	if err != nil {
		return nil, err
	}
	analysis.Sheets = []Sheet{sheet}
	progress(1, 1)
	return analysis, nil
}

func analyzeXLSX(ctx context.Context, path string, progress ProgressFunc) (*Analysis, error) {
	f, err := openXLSX(path)
	if err != nil {
		return nil, err
	}
	names := f.GetSheetList()
	f.Close()

	analysis := &Analysis{FileType: TypeXLSX, Sheets: make([]Sheet, 0, len(names))}
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sheet, err := analyzeXLSXSheet(ctx, path, name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			sheet = errorSheet(name, err)
		}
		analysis.Sheets = append(analysis.Sheets, sheet)
		progress(i+1, len(names))
	}
	return analysis, nil
}

// analyzeXLSXSheet opens the workbook per sheet so one broken sheet cannot
// leave a shared reader in a bad state.
func analyzeXLSXSheet(ctx context.Context, path, name string) (Sheet, error) {
	f, err := openXLSX(path)
	if err != nil {
		return Sheet{}, err
	}
	it, err := newXLSXIterator(f, name)
	if err != nil {
		f.Close()
		return Sheet{}, err
	}
	defer it.Close()
	return scan(ctx, name, it)
}

func analyzeXLS(ctx context.Context, path string, progress ProgressFunc) (*Analysis, error) {
	sheets, err := readXLS(path)
	if err != nil {
		return nil, err
	}

	analysis := &Analysis{FileType: TypeXLS, Sheets: make([]Sheet, 0, len(sheets))}
	for i, raw := range sheets {
		if raw.err != nil {
			analysis.Sheets = append(analysis.Sheets, errorSheet(raw.name, raw.err))
			progress(i+1, len(sheets))
			continue
		}

		it, err := newSliceIterator(raw.rows)
		if err != nil {
			analysis.Sheets = append(analysis.Sheets, errorSheet(raw.name, err))
			progress(i+1, len(sheets))
			continue
		}
		sheet, err := scan(ctx, raw.name, it)
		if err != nil {
			return nil, err
		}
		analysis.Sheets = append(analysis.Sheets, sheet)
		progress(i+1, len(sheets))
	}
	return analysis, nil
}

// scan counts every data row after the header and keeps the first few as a sample.
// Malformed rows are counted too: they are physically present and will be
// reported as failed rows during processing.
func scan(ctx context.Context, name string, it RowIterator) (Sheet, error) {
	sheet := Sheet{Name: name, Headers: it.Header(), SampleRows: [][]string{}}

	for {
		row, err := it.Next()
		if err == io.EOF {
			break
		}
		var rowErr *RowError
		if err != nil && !errors.As(err, &rowErr) {
			return Sheet{}, errorSheetErr(name, err)
		}

		sheet.TotalRows++
		if err == nil && len(sheet.SampleRows) < MaxSampleRows {
			sheet.SampleRows = append(sheet.SampleRows, row)
		}

		if sheet.TotalRows%contextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return Sheet{}, err
			}
		}
	}
	return sheet, nil
}

// OpenRows streams the data rows of one sheet, header excluded.
func OpenRows(ctx context.Context, path string, ft FileType, sheet string, opts Options) (RowIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch ft {
	case TypeCSV:
		return openCSV(path, opts)
	case TypeXLSX:
		f, err := openXLSX(path)
		if err != nil {
			return nil, err
		}
		if sheet == "" {
			sheet = f.GetSheetName(0)
		}
		it, err := newXLSXIterator(f, sheet)
		if err != nil {
			f.Close()
			return nil, err
		}
		return it, nil
	case TypeXLS:
		sheets, err := readXLS(path)
		if err != nil {
			return nil, err
		}
		for _, s := range sheets {
			if sheet != "" && s.name != sheet {
				continue
			}
			if s.err != nil {
				return nil, s.err
			}
			return newSliceIterator(s.rows)
		}
		return nil, fmt.Errorf("%w: %q", ErrSheetNotFound, sheet)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, ft)
	}
}

func errorSheet(name string, err error) Sheet {
	return Sheet{
		Name:       name,
		Headers:    []string{},
		SampleRows: [][]string{},
		HasError:   true,
		Error:      err.Error(),
	}
}

// sheetError marks a failure that only affects one sheet.
type sheetError struct{ err error }

func (e sheetError) Error() string { return e.err.Error() }
func (e sheetError) Unwrap() error { return e.err }

func errorSheetErr(name string, err error) error {
	return sheetError{fmt.Errorf("sheet %q: %w", name, err)}
}

// isContentError reports whether err came from the file's content rather than
// from the filesystem.
func isContentError(err error) bool {
	var se sheetError
	if errors.As(err, &se) {
		return true
	}
	var pe *os.PathError
	return !errors.As(err, &pe)
}
