package sheet

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadFile reads a CSV or XLSX export from disk.
func ReadFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f, filepath.Ext(path))
}

// Read dispatches on the file extension (".csv", ".xlsx", ".xlsm").
func Read(r io.Reader, ext string) ([]Row, error) {
	switch strings.ToLower(strings.TrimSpace(ext)) {
	case ".csv", ".txt":
		return ReadCSV(r)
	case ".xlsx", ".xlsm":
		return ReadXLSX(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// ReadCSV decodes UTF-8 (with or without BOM) or GB18030/GBK text.
func ReadCSV(r io.Reader) ([]Row, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimPrefix(raw, utf8BOM)

	var src io.Reader = bytes.NewReader(raw)
	if !utf8.Valid(raw) {
		src = transform.NewReader(bytes.NewReader(raw), simplifiedchinese.GB18030.NewDecoder())
	}

	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return fromRecords(records)
}

// ReadXLSX reads the first worksheet.
func ReadXLSX(r io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	name := f.GetSheetName(0)
	if name == "" {
		return nil, ErrNoHeader
	}
	// Raw values: display formats would round amounts and render dates as
	// locale text.
	records, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", name, err)
	}
	return fromRecords(records)
}

// fromRecords uses the first non-empty record as header and drops blank rows.
func fromRecords(records [][]string) ([]Row, error) {
	headerIdx := -1
	for i, rec := range records {
		if !blankRecord(rec) {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil, ErrNoHeader
	}

	header := make([]string, len(records[headerIdx]))
	for i, h := range records[headerIdx] {
		header[i] = NormalizeHeader(h)
	}

	rows := make([]Row, 0, len(records)-headerIdx-1)
	for _, rec := range records[headerIdx+1:] {
		if blankRecord(rec) {
			continue
		}
		row := make(Row, len(header))
		for i, h := range header {
			if h == "" {
				continue
			}
			var cell string
			if i < len(rec) {
				cell = strings.TrimSpace(rec[i])
			}
			if _, dup := row[h]; dup && cell == "" {
				continue
			}
			if existing, dup := row[h]; dup && !isBlank(existing) {
				continue
			}
			row[h] = cell
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func blankRecord(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
