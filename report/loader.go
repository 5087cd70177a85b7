package report

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"peterpan-analyzer/listing"
)

// Loader reads a previously written report back into records, so a
// re-evaluation pass can pick up from a saved initial analysis.
type Loader struct{}

// NewLoader creates a Loader.
func NewLoader() *Loader { return &Loader{} }

// Load rebuilds one Record per data row of the report at path. Headers are
// inverted through the writer's column table; unknown columns are dropped.
// Every loaded record is marked as awaiting re-evaluation.
func (l *Loader) Load(path string) ([]*listing.Record, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint %s: %w", path, err)
	}
	defer f.Close()

	sheet := sheetName
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		sheet = f.GetSheetName(0)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint rows: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("checkpoint %s has no data rows", path)
	}

	paths := headerPaths(rows[0])

	records := make([]*listing.Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rowNum := i + 2

		flat := map[string]any{}
		for c, cell := range row {
			if c >= len(paths) || paths[c] == "" || cell == "" {
				continue
			}
			flat[paths[c]] = cellValue(paths[c], cell)
		}
		// The URL is derived from the identifier on every write.
		delete(flat, "detail_url")

		rec := listing.FromMerged(listing.Nest(flat))
		if rec.ID == "" {
			slog.Warn("checkpoint row has no listing ID, using row number", "row", rowNum)
			rec.ID = strconv.Itoa(rowNum)
		}
		rec.ReanalysisNote = "초기 분석 결과, 재평가 대기 중"
		records = append(records, rec)
	}

	slog.Info("checkpoint loaded", "path", path, "listings", len(records))
	return records, nil
}

// headerPaths maps each header cell back to its dot-path. Unknown headers
// map to the empty string.
func headerPaths(headers []string) []string {
	byHeader := make(map[string]string, len(Columns))
	for _, col := range Columns {
		byHeader[col.Header] = col.Path
	}

	paths := make([]string, len(headers))
	for i, h := range headers {
		paths[i] = byHeader[strings.TrimSpace(h)]
	}
	return paths
}

var digitsRe = regexp.MustCompile(`\d+`)

// cellValue turns a cell string back into a typed value. Identifiers stay
// strings so numeric-looking IDs survive, and the money columns return to
// won from the 만원 the writer rendered.
func cellValue(path, cell string) any {
	switch path {
	case "hidx":
		return cell
	case "price.deposit":
		if n, err := strconv.Atoi(cell); err == nil {
			return n * 10000
		}
		return cell
	case "price.maintenance_cost":
		return maintenanceValue(cell)
	}

	if n, err := strconv.Atoi(cell); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(cell, 64); err == nil {
		return f
	}
	switch cell {
	case "TRUE", "True", "true":
		return true
	case "FALSE", "False", "false":
		return false
	}
	return cell
}

// maintenanceValue undoes the writer's 관리비 rendering: opaque markers
// collapse to "확인 불가", blank or zero cells mean the fee was never known,
// and digit-bearing cells go back to won.
func maintenanceValue(cell string) any {
	for _, keyword := range []string{"확인 불가", "정보 없음", "미제공", "없음"} {
		if strings.Contains(cell, keyword) {
			return "확인 불가"
		}
	}

	trimmed := strings.TrimSpace(cell)
	if trimmed == "" || trimmed == "0" {
		return "정보 없음"
	}
	if m := digitsRe.FindString(trimmed); m != "" {
		if n, err := strconv.Atoi(m); err == nil {
			return n * 10000
		}
	}
	return cell
}
