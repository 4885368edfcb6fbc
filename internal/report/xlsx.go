package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	sheetSummary   = "Summary"
	sheetDecisions = "Decisions"
	sheetUnique    = "Unique"
)

// WriteXLSX writes the summary as a workbook with a summary sheet, one row
// per decision and the unique host list.
func WriteXLSX(w io.Writer, summary Summary) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return fmt.Errorf("name summary sheet: %w", err)
	}

	rows := [][]any{
		{"run_id", summary.RunID},
		{"start_time", summary.StartTime.Format("2006-01-02 15:04:05")},
		{"end_time", summary.EndTime.Format("2006-01-02 15:04:05")},
		{"duration", summary.Duration.String()},
		{"threshold", summary.Threshold},
		{"compare_mode", summary.CompareMode},
		{"groups", summary.Groups},
		{"pre_filter_count", summary.PreFilter},
		{"post_filter_count", summary.PostFilter},
		{"failures", summary.Failures},
		{"total_captures", summary.TotalCaptures},
		{"failed_captures", summary.FailedCaptures},
		{"exceeded_height", summary.ExceededHeight},
	}
	for _, c := range summary.Outcomes {
		rows = append(rows, []any{"outcome_" + c.Label, c.Count})
	}
	for _, c := range summary.DetectionsBySrc {
		rows = append(rows, []any{"detection_" + c.Label, c.Count})
	}
	if err := setRows(f, sheetSummary, rows); err != nil {
		return err
	}

	if _, err := f.NewSheet(sheetDecisions); err != nil {
		return fmt.Errorf("create decisions sheet: %w", err)
	}
	rows = [][]any{{"key", "host", "site_id", "base_host", "distance", "compared", "outcome", "error"}}
	for _, d := range summary.Decisions {
		var distance any
		if d.Compared {
			distance = d.Distance
		}
		rows = append(rows, []any{d.Key, d.Host, d.SiteID, d.BaseHost, distance, d.Compared, d.Outcome, d.Error})
	}
	if err := setRows(f, sheetDecisions, rows); err != nil {
		return err
	}

	if _, err := f.NewSheet(sheetUnique); err != nil {
		return fmt.Errorf("create unique sheet: %w", err)
	}
	rows = [][]any{{"host"}}
	for _, h := range summary.Unique {
		rows = append(rows, []any{h})
	}
	if err := setRows(f, sheetUnique, rows); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func setRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		for j, v := range row {
			if v == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				return fmt.Errorf("cell name: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return fmt.Errorf("set %s!%s: %w", sheet, cell, err)
			}
		}
	}
	return nil
}
