package report

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"peterpan-analyzer/listing"
	"peterpan-analyzer/scorecard"
)

const sheetName = "매물분석결과"

const detailURLPrefix = "https://www.peterpanz.com/house/"

// Writer renders result sets as a spreadsheet.
type Writer struct{}

// NewWriter creates a Writer.
func NewWriter() *Writer { return &Writer{} }

// Write renders records to an xlsx file at path. If the spreadsheet cannot
// be written the same rows go to a CSV next to it instead, and the write
// still counts as successful.
func (w *Writer) Write(records []*listing.Record, path string) error {
	if len(records) == 0 {
		return errors.New("no records to write")
	}

	headers, rows := renderRows(records)
	if err := writeXLSX(headers, rows, path); err != nil {
		slog.Error("spreadsheet write failed, falling back to CSV", "path", path, "error", err)
		csvPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".csv"
		if csvErr := writeCSV(headers, rows, csvPath); csvErr != nil {
			return fmt.Errorf("writing report: %w", errors.Join(err, csvErr))
		}
		slog.Info("report written as CSV fallback", "path", csvPath, "listings", len(records))
		return nil
	}

	slog.Info("report written", "path", path, "listings", len(records))
	return nil
}

// renderRows flattens records into one row per listing, in column order.
// The detail URL is derived from the identifier and ranks are filled in row
// order when a record carries none.
func renderRows(records []*listing.Record) ([]string, [][]any) {
	headers := make([]string, len(Columns))
	for i, col := range Columns {
		headers[i] = col.Header
	}

	rows := make([][]any, len(records))
	for i, rec := range records {
		merged := rec.Merged()
		if rec.ID != "" {
			merged["detail_url"] = detailURLPrefix + rec.ID
		}
		if _, ok := merged["rank"]; !ok {
			merged["rank"] = i + 1
		}

		row := make([]any, len(Columns))
		for j, col := range Columns {
			v, _ := listing.Lookup(merged, col.Path)
			row[j] = renderCell(col, v)
		}
		rows[i] = row
	}
	return headers, rows
}

func renderCell(col Column, v any) any {
	switch col.Path {
	case "price.deposit":
		return depositCell(v)
	case "price.maintenance_cost":
		return maintenanceCell(v)
	}
	return plainCell(v)
}

// depositCell converts won to 만원. Non-numeric deposits pass through.
func depositCell(v any) any {
	if f, ok := asNumber(v); ok && f > 0 {
		return int(f / 10000)
	}
	return plainCell(v)
}

// maintenanceCell converts won to 만원 and makes the murky cases explicit:
// a missing fee reads "정보 없음", an opaque marker string reads "확인 불가",
// and a literal zero reads "0만원 (확인 필요)".
func maintenanceCell(v any) any {
	if f, ok := asNumber(v); ok {
		if f > 0 {
			return int(f / 10000)
		}
		return "0만원 (확인 필요)"
	}

	s, isStr := v.(string)
	if !isStr || s == "" {
		return "정보 없음"
	}
	for _, keyword := range []string{"확인 불가", "정보 없음", "미제공", "없음"} {
		if strings.Contains(s, keyword) {
			return "확인 불가"
		}
	}
	switch strings.TrimSpace(s) {
	case "0", "0원", "0만원":
		return "0만원 (확인 필요)"
	}
	return cleanText(s)
}

func plainCell(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return cleanText(t)
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = cleanText(scorecard.AsString(item))
		}
		return strings.Join(parts, ", ")
	case []string:
		return cleanText(strings.Join(t, ", "))
	case []int:
		parts := make([]string, len(t))
		for i, n := range t {
			parts[i] = strconv.Itoa(n)
		}
		return strings.Join(parts, ", ")
	default:
		return v
	}
}

var controlRe = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F]`)

// cleanText strips what spreadsheet cells choke on: HTML non-breaking
// spaces, carriage returns, and control characters other than tab and
// newline.
func cleanText(s string) string {
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return controlRe.ReplaceAllString(s, "")
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

func writeXLSX(headers []string, rows [][]any, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}
	for r, row := range rows {
		for c, v := range row {
			if v == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return fmt.Errorf("writing row %d: %w", r+2, err)
			}
		}
	}

	if err := setColumnWidths(f, headers, rows); err != nil {
		return fmt.Errorf("sizing columns: %w", err)
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freezing header row: %w", err)
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}
	return nil
}

// setColumnWidths sizes each column to its longest content, capped at 50.
func setColumnWidths(f *excelize.File, headers []string, rows [][]any) error {
	for i, h := range headers {
		maxLen := utf8.RuneCountInString(h)
		for _, row := range rows {
			if row[i] == nil {
				continue
			}
			if n := utf8.RuneCountInString(fmt.Sprint(row[i])); n > maxLen {
				maxLen = n
			}
		}

		width := float64(maxLen + 2)
		if width > 50 {
			width = 50
		}
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(sheetName, name, name, width); err != nil {
			return err
		}
	}
	return nil
}

func writeCSV(headers []string, rows [][]any, path string) error {
	var buf bytes.Buffer
	// The BOM makes Excel read the UTF-8 Korean headers correctly.
	buf.Write([]byte{0xEF, 0xBB, 0xBF})

	w := csv.NewWriter(&buf)
	if err := w.Write(headers); err != nil {
		return fmt.Errorf("encoding header: %w", err)
	}
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v != nil {
				cells[i] = fmt.Sprint(v)
			}
		}
		if err := w.Write(cells); err != nil {
			return fmt.Errorf("encoding row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encoding rows: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
