// Package export renders the flat member table as a downloadable file.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/JonMunkholm/membergen/internal/core"
	"github.com/xuri/excelize/v2"
)

// Format is a supported download format.
type Format string

const (
	CSV   Format = "csv"
	Excel Format = "excel"
)

// SheetName is the worksheet holding members in Excel downloads.
const SheetName = "Members"

// ParseFormat accepts "csv" or "excel" in any letter case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return CSV, nil
	case "excel":
		return Excel, nil
	default:
		return "", fmt.Errorf("%w: %q", core.ErrUnsupportedFormat, s)
	}
}

// ContentType is the media type of the rendered file.
func (f Format) ContentType() string {
	if f == Excel {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Filename is the attachment name suggested to clients.
func (f Format) Filename() string {
	if f == Excel {
		return "members.xlsx"
	}
	return "members.csv"
}

// Render encodes t in format f.
func Render(f Format, t core.Table) ([]byte, error) {
	switch f {
	case CSV:
		return renderCSV(t)
	case Excel:
		return renderExcel(t)
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnsupportedFormat, string(f))
	}
}

func renderCSV(t core.Table) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(t.Columns); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) && row[i] != nil {
				record[i] = *row[i]
			}
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// numericColumns are written as numbers rather than text in workbooks.
var numericColumns = map[string]bool{"latitude": true, "longitude": true}

func renderExcel(t core.Table) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, fmt.Errorf("name worksheet: %w", err)
	}

	header := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header row: %w", err)
	}

	for r, row := range t.Rows {
		cells := make([]any, len(t.Columns))
		for i, col := range t.Columns {
			if i >= len(row) || row[i] == nil {
				cells[i] = nil
				continue
			}
			v := *row[i]
			if numericColumns[col] {
				if n, err := strconv.ParseFloat(v, 64); err == nil {
					cells[i] = n
					continue
				}
			}
			cells[i] = v
		}

		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(SheetName, cell, &cells); err != nil {
			return nil, fmt.Errorf("write row %d: %w", r+1, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}
