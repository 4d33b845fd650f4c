// Package csvio reads CSV files into header-keyed rows and writes rows back.
//
// Files are loaded whole: a UTF-8 byte order mark is dropped, invalid UTF-8
// is replaced with '?', and every record after the header becomes a Row
// keyed by header name. Ragged records are accepted; missing trailing cells
// are simply absent from the row.
package csvio

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var bom = []byte{0xEF, 0xBB, 0xBF}

// Row is one data record keyed by header name.
type Row struct {
	Line   int // 1-based line of the record in the file
	Values map[string]string
}

// File is a parsed CSV file.
type File struct {
	Path   string
	Header []string
	Rows   []Row
}

// Window returns the rows after skipping offset and keeping at most limit
// (limit <= 0 keeps all).
func (f *File) Window(offset, limit int) []Row {
	rows := f.Rows
	if offset > 0 {
		if offset >= len(rows) {
			return nil
		}
		rows = rows[offset:]
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

// ReadFile parses the CSV file at path.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid csv %s: %w", path, err)
	}
	f.Path = path
	return f, nil
}

// Read parses CSV from r.
func Read(r io.Reader) (*File, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses CSV bytes. An empty input yields a File with no header.
func Parse(data []byte) (*File, error) {
	data = Sanitize(data)

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	f := &File{}
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return f, nil
	}
	if err != nil {
		return nil, err
	}
	f.Header = make([]string, len(header))
	for i, h := range header {
		f.Header[i] = strings.TrimSpace(h)
	}

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if isEmptyRecord(rec) {
			continue
		}
		line, _ := r.FieldPos(0)
		row := Row{Line: line, Values: make(map[string]string, len(f.Header))}
		for i, name := range f.Header {
			if i >= len(rec) {
				break
			}
			row.Values[name] = rec[i]
		}
		f.Rows = append(f.Rows, row)
	}
	return f, nil
}

// Sanitize drops a leading byte order mark and replaces invalid UTF-8
// sequences with '?'.
func Sanitize(data []byte) []byte {
	data = bytes.TrimPrefix(data, bom)
	return bytes.ToValidUTF8(data, []byte("?"))
}

func isEmptyRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
