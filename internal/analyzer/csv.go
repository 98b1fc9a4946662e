package analyzer

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
)

const sniffSize = 8192

// RowError reports a single malformed row. Iteration may continue after it.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("invalid csv row at line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

type csvIterator struct {
	file     *os.File
	reader   *csv.Reader
	header   []string
	encoding string
}

// openCSV opens a CSV file, resolves its charset and delimiter, and reads the header row.
func openCSV(path string, opts Options) (*csvIterator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	br := bufio.NewReaderSize(f, 64*1024)
	peek, err := br.Peek(sniffSize)
	if err != nil && err != io.EOF && !errors.Is(err, bufio.ErrBufferFull) {
		f.Close()
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	decoded, encoding, err := decodeReader(br, peek, opts.Encoding)
	if err != nil {
		f.Close()
		return nil, err
	}

	r := csv.NewReader(decoded)
	r.Comma = sniffDelimiter(peek)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	it := &csvIterator{file: f, reader: r, encoding: encoding}
	if err := it.readHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return it, nil
}

// decodeReader wraps r so it yields UTF-8. A forced label wins; otherwise valid
// UTF-8 passes through and anything else is sniffed.
func decodeReader(r io.Reader, peek []byte, label string) (io.Reader, string, error) {
	label = normalizeCharset(label)
	if label != "" && label != "utf-8" && label != "utf8" {
		dr, err := charset.NewReaderLabel(label, r)
		if err != nil {
			return nil, "", fmt.Errorf("encoding error: unknown charset %q: %w", label, err)
		}
		return dr, label, nil
	}

	complete := peek[:len(peek)-incompleteTrailingBytes(peek)]
	if label != "" || utf8.Valid(complete) {
		return cleanUTF8(r), "utf-8", nil
	}

	_, name, _ := charset.DetermineEncoding(peek, "text/csv")
	if name == "" || name == "utf-8" {
		name = "windows-1252"
	}
	dr, err := charset.NewReaderLabel(name, r)
	if err != nil {
		return nil, "", fmt.Errorf("encoding error: %w", err)
	}
	return dr, name, nil
}

// normalizeCharset maps common spreadsheet export labels to names charset understands.
func normalizeCharset(cs string) string {
	c := strings.TrimSpace(strings.ToLower(cs))
	switch c {
	case "latin ii", "latin-2", "latin2", "iso8859-2", "iso_8859-2":
		return "iso-8859-2"
	case "latin1", "latin-1", "iso8859-1":
		return "iso-8859-1"
	case "cp1250", "windows1250", "win-1250":
		return "windows-1250"
	case "cp1252", "windows1252", "win-1252", "ansi":
		return "windows-1252"
	default:
		return c
	}
}

// sniffDelimiter picks the most frequent candidate delimiter on the first line,
// ignoring quoted sections. Ties and no candidates fall back to a comma.
func sniffDelimiter(peek []byte) rune {
	line := peek
	if i := bytes.IndexAny(peek, "\r\n"); i >= 0 {
		line = peek[:i]
	}

	candidates := []rune{',', ';', '\t', '|'}
	counts := make(map[rune]int, len(candidates))
	inQuotes := false
	for _, r := range string(line) {
		if r == '"' {
			inQuotes = !inQuotes
			continue
		}
		if !inQuotes {
			counts[r]++
		}
	}

	best, bestCount := ',', 0
	for _, c := range candidates {
		if counts[c] > bestCount {
			best, bestCount = c, counts[c]
		}
	}
	return best
}

// readHeader consumes leading blank rows and stores the first non-blank row.
func (it *csvIterator) readHeader() error {
	for {
		rec, err := it.reader.Read()
		if err == io.EOF {
			return ErrNoData
		}
		if err != nil {
			return fmt.Errorf("invalid csv header: %w", err)
		}
		if IsBlank(rec) {
			continue
		}
		it.header = trimCells(rec)
		return nil
	}
}

func (it *csvIterator) Header() []string { return it.header }

func (it *csvIterator) Next() ([]string, error) {
	rec, err := it.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		line := 0
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			line = pe.Line
		}
		return nil, &RowError{Line: line, Err: err}
	}
	return rec, nil
}

func (it *csvIterator) Close() error {
	return it.file.Close()
}

func trimCells(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = strings.TrimSpace(c)
	}
	return out
}
