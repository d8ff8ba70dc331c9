package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// MaxFileSize bounds every uploaded spreadsheet.
const MaxFileSize = 10 << 20

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrTooLarge          = errors.New("file too large, max 10MB")
	ErrNoSheet           = errors.New("workbook has no sheets")
)

// Format of a spreadsheet file.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// FormatOf picks the reader from the file extension.
func FormatOf(name string) (Format, error) {
	switch ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")); ext {
	case "csv":
		return FormatCSV, nil
	case "xlsx":
		return FormatXLSX, nil
	case "xls":
		return "", fmt.Errorf("%w: legacy .xls workbooks cannot be read, save the file as .xlsx", ErrUnsupportedFormat)
	default:
		return "", fmt.Errorf("%w: %q, please upload a CSV or Excel (.xlsx) file", ErrUnsupportedFormat, ext)
	}
}

// Table is a parsed sheet. Header keeps the column order of the file; blank
// cells are left out of each Row.
type Table struct {
	Header []string
	Rows   []Row
}

// Read parses a named CSV or XLSX file of at most MaxFileSize bytes.
func Read(name string, r io.Reader) (Table, error) {
	format, err := FormatOf(name)
	if err != nil {
		return Table{}, err
	}
	data, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return Table{}, fmt.Errorf("read %s: %w", name, err)
	}
	if len(data) > MaxFileSize {
		return Table{}, ErrTooLarge
	}
	if format == FormatXLSX {
		return ReadXLSX(bytes.NewReader(data))
	}
	return ReadCSV(bytes.NewReader(data))
}

// ReadCSV parses a CSV file whose first line is the header.
func ReadCSV(r io.Reader) (Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("parse CSV: %w", err)
	}
	return tableOf(records), nil
}

// ReadXLSX parses the first sheet of a workbook.
func ReadXLSX(r io.Reader) (Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Table{}, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Table{}, ErrNoSheet
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return Table{}, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return tableOf(records), nil
}

func tableOf(records [][]string) Table {
	t := Table{Header: []string{}, Rows: []Row{}}
	if len(records) == 0 {
		return t
	}
	for i, h := range records[0] {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		t.Header = append(t.Header, strings.TrimSpace(h))
	}
	for _, rec := range records[1:] {
		row := make(Row, len(t.Header))
		for i, cell := range rec {
			if i >= len(t.Header) || t.Header[i] == "" {
				continue
			}
			if cell = strings.TrimSpace(cell); cell != "" {
				row[t.Header[i]] = cell
			}
		}
		if len(row) > 0 {
			t.Rows = append(t.Rows, row)
		}
	}
	return t
}

// StartupColumns must all be matched by a header of a startup bulk file.
var StartupColumns = []string{"Organization Name", "Headquarters Location", "Industries", "Founded Date"}

// MissingStartupColumns returns the required startup columns no header
// matches. A header matches when, lowercased, it contains the column name
// without spaces or the column's first word.
func MissingStartupColumns(header []string) []string {
	var missing []string
	for _, col := range StartupColumns {
		want := strings.ToLower(col)
		compact := strings.Join(strings.Fields(want), "")
		first := strings.Fields(want)[0]
		found := false
		for _, h := range header {
			h = strings.ToLower(h)
			if strings.Contains(h, compact) || strings.Contains(h, first) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, col)
		}
	}
	return missing
}

// Objects converts rows to the loosely typed form posted by bulk uploads.
func Objects(rows []Row) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = map[string]any(r)
	}
	return out
}
