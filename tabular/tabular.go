// Package tabular implements the shared file-opening logic the exchange
// detector and normalizer both need: CSV decoding with an encoding-fallback
// sequence, and an in-memory full-file read. Grounded on
// original_source/app/core/auto_detect.py's encoding-fallback loop.
package tabular

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Table is a decoded tabular file: a header row plus data rows, in
// column-major-agnostic [][]string form (row-major, like encoding/csv).
type Table struct {
	Header []string
	Rows   [][]string
}

// chunkRows is the batch size, in rows, in which ReadFull appends rows.
const chunkRows = 10000

// encodings is the fallback sequence tried in order; the first successful
// decode wins.
var encodings = []struct {
	name string
	dec  func([]byte) ([]byte, error)
}{
	{"utf-8", func(b []byte) ([]byte, error) {
		if !utf8.Valid(b) {
			return nil, fmt.Errorf("not valid UTF-8")
		}
		return b, nil
	}},
	{"latin-1", decodeWith(charmap.ISO8859_1)},
	{"cp1252", decodeWith(charmap.Windows1252)},
	{"iso-8859-1", decodeWith(charmap.ISO8859_1)},
}

func decodeWith(cm *charmap.Charmap) func([]byte) ([]byte, error) {
	return func(b []byte) ([]byte, error) {
		out, _, err := transform.Bytes(cm.NewDecoder(), b)
		return out, err
	}
}

// IsSpreadsheet reports whether path has a .xlsx extension.
func IsSpreadsheet(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".xlsx")
}

// ReadHead reads path (CSV only; a .xlsx file is rejected with an error)
// and returns at most maxRows data rows after the header, trying each
// encoding in turn until one parses.
func ReadHead(path string, maxRows int) (Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("tabular: read %q: %w", path, err)
	}
	if IsSpreadsheet(path) {
		return Table{}, fmt.Errorf("tabular: %q: spreadsheet reading is not supported in this build", path)
	}

	var lastErr error
	for _, enc := range encodings {
		decoded, err := enc.dec(raw)
		if err != nil {
			lastErr = err
			continue
		}
		table, err := parseCSVHead(decoded, maxRows)
		if err != nil {
			lastErr = err
			continue
		}
		return table, nil
	}
	return Table{}, fmt.Errorf("tabular: %q: could not decode with any supported encoding: %w", path, lastErr)
}

func parseCSVHead(data []byte, maxRows int) (Table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return Table{}, fmt.Errorf("tabular: empty file")
		}
		return Table{}, err
	}
	var rows [][]string
	for len(rows) < maxRows {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Table{}, err
		}
		rows = append(rows, rec)
	}
	return Table{Header: header, Rows: rows}, nil
}

// ReadFull reads the entire file into memory and decodes it into a Table,
// appending rows in chunkRows-row batches. It does the same for every file
// size; there is no size threshold and no streaming of large files.
func ReadFull(path string) (Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("tabular: read %q: %w", path, err)
	}
	if len(raw) == 0 {
		return Table{}, fmt.Errorf("tabular: empty file %q", path)
	}
	if IsSpreadsheet(path) {
		return Table{}, fmt.Errorf("tabular: %q: spreadsheet reading is not supported in this build", path)
	}

	var lastErr error
	for _, enc := range encodings {
		decoded, err := enc.dec(raw)
		if err != nil {
			lastErr = err
			continue
		}
		table, err := parseCSVFull(decoded)
		if err != nil {
			lastErr = err
			continue
		}
		return table, nil
	}
	return Table{}, fmt.Errorf("tabular: %q: could not decode with any supported encoding: %w", path, lastErr)
}

func parseCSVFull(data []byte) (Table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return Table{}, fmt.Errorf("tabular: empty file")
		}
		return Table{}, err
	}
	var rows [][]string
	batch := make([][]string, 0, chunkRows)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Table{}, err
		}
		batch = append(batch, rec)
		if len(batch) == chunkRows {
			rows = append(rows, batch...)
			batch = make([][]string, 0, chunkRows)
		}
	}
	rows = append(rows, batch...)
	return Table{Header: header, Rows: rows}, nil
}

// WriteCSV writes header+rows to path as RFC 4180 CSV with LF endings.
func WriteCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.UseCRLF = false
	if err := w.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
