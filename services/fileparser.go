package services

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"canna-directory/models"
)

// ParsedFile ist eine eingelesene Tabelle: Header in Dateireihenfolge und eine Map pro Zeile.
type ParsedFile struct {
	Headers []string        `json:"headers"`
	Rows    []models.RawRow `json:"rows"`
}

// ParseFile wählt den Parser anhand der Dateiendung.
func ParseFile(name string, r io.Reader) (*ParsedFile, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return ParseCSV(r)
	case ".xlsx", ".xlsm":
		return ParseXLSX(r)
	default:
		return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(name))
	}
}

// ParseCSV liest eine CSV-Datei mit Headerzeile.
func ParseCSV(r io.Reader) (*ParsedFile, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return fromRecords(records)
}

// ParseXLSX liest das erste Arbeitsblatt einer Excel-Datei.
func ParseXLSX(r io.Reader) (*ParsedFile, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoData
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return fromRecords(records)
}

func fromRecords(records [][]string) (*ParsedFile, error) {
	if len(records) == 0 {
		return nil, ErrNoData
	}

	header := records[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	type col struct {
		index int
		name  string
	}
	var cols []col
	out := &ParsedFile{}
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			continue
		}
		cols = append(cols, col{index: i, name: name})
		out.Headers = append(out.Headers, name)
	}
	if len(cols) == 0 {
		return nil, errors.New("header row has no column names")
	}

	for _, rec := range records[1:] {
		row := models.RawRow{}
		empty := true
		for _, c := range cols {
			v := ""
			if c.index < len(rec) {
				v = strings.TrimSpace(rec[c.index])
			}
			if v != "" {
				empty = false
			}
			row[c.name] = v
		}
		if empty {
			continue
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}
