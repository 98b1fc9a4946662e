// Package analyzer inspects uploaded catalog files: it enumerates sheets,
// finds the header row, counts data rows and keeps a small sample, and it
// streams data rows to the later pipeline stages.
//
// Supported formats are CSV (one virtual sheet), XLSX and legacy XLS.
package analyzer

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// FileType is a supported upload format.
type FileType string

const (
	TypeCSV  FileType = "csv"
	TypeXLSX FileType = "xlsx"
	TypeXLS  FileType = "xls"
)

// CSVSheetName is the name of the single virtual sheet of a CSV file.
const CSVSheetName = "csv"

// MaxSampleRows is the number of data rows kept per sheet for inspection.
const MaxSampleRows = 5

var (
	// ErrUnsupportedType is returned for extensions outside the allow-list.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrNoData is returned when a file has no usable sheet.
	ErrNoData = errors.New("empty file: no header row found")

	// ErrSheetNotFound is returned when a requested sheet does not exist.
	ErrSheetNotFound = errors.New("sheet not found")
)

// DetectType maps a file name to a FileType using the allow-list.
// An empty allow-list accepts every supported type.
func DetectType(name string, allowed []string) (FileType, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")

	var ft FileType
	switch ext {
	case "csv", "txt":
		ft = TypeCSV
	case "xlsx", "xlsm":
		ft = TypeXLSX
	case "xls":
		ft = TypeXLS
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}

	if len(allowed) == 0 {
		return ft, nil
	}
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimPrefix(a, "."), ext) {
			return ft, nil
		}
	}
	return "", fmt.Errorf("%w: %q is not allowed", ErrUnsupportedType, ext)
}

// Sheet is the structural summary of one sheet.
type Sheet struct {
	Name       string     `json:"name"`
	Headers    []string   `json:"headers"`
	SampleRows [][]string `json:"sample_rows"`
	TotalRows  int        `json:"total_rows"`
	HasError   bool       `json:"has_error,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Usable reports whether the sheet parsed and has a header row.
func (s Sheet) Usable() bool {
	return !s.HasError && len(s.Headers) > 0
}

// Analysis is the structural descriptor of a whole file.
type Analysis struct {
	FileType FileType `json:"file_type"`
	Sheets   []Sheet  `json:"sheets"`
	Encoding string   `json:"encoding,omitempty"`
}

// Primary returns the sheet to import: the named one if given, otherwise the
// first usable sheet with data rows, otherwise the first usable sheet.
func (a *Analysis) Primary(name string) (Sheet, error) {
	if name != "" {
		for _, s := range a.Sheets {
			if s.Name == name {
				if !s.Usable() {
					return Sheet{}, fmt.Errorf("sheet %q cannot be imported: %s", name, s.Error)
				}
				return s, nil
			}
		}
		return Sheet{}, fmt.Errorf("%w: %q", ErrSheetNotFound, name)
	}

	var fallback *Sheet
	for i := range a.Sheets {
		s := a.Sheets[i]
		if !s.Usable() {
			continue
		}
		if s.TotalRows > 0 {
			return s, nil
		}
		if fallback == nil {
			fallback = &a.Sheets[i]
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return Sheet{}, ErrNoData
}

// ProgressFunc is called after each sheet with the number of sheets done and the total.
type ProgressFunc func(done, total int)

// Options tune file reading.
type Options struct {
	// Encoding forces a CSV charset label. Empty means detect.
	Encoding string
}

// RowIterator streams the data rows of one sheet. Next returns io.EOF after the last row.
type RowIterator interface {
	Header() []string
	Next() ([]string, error)
	Close() error
}

// IsBlank reports whether every cell of a row is empty after trimming.
func IsBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
