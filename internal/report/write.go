package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// WriteDecisionsCSV writes one row per decision with a header row.
func WriteDecisionsCSV(w io.Writer, decisions []Decision) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"key", "host", "site_id", "base_host", "distance", "compared", "outcome", "error"}); err != nil {
		return fmt.Errorf("write decisions header: %w", err)
	}
	for _, d := range decisions {
		distance := ""
		if d.Compared {
			distance = strconv.FormatFloat(d.Distance, 'f', -1, 64)
		}
		rec := []string{
			d.Key,
			d.Host,
			strconv.FormatInt(d.SiteID, 10),
			d.BaseHost,
			distance,
			strconv.FormatBool(d.Compared),
			d.Outcome,
			d.Error,
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write decision %s: %w", d.Host, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush decisions: %w", err)
	}
	return nil
}

// WriterFor returns the writer matching the extension of path: .json,
// .html/.htm, .xlsx, .csv (decisions only) or text for anything else.
func WriterFor(path string) func(io.Writer, Summary) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return WriteJSON
	case ".html", ".htm":
		return WriteHTML
	case ".xlsx":
		return WriteXLSX
	case ".csv":
		return func(w io.Writer, s Summary) error { return WriteDecisionsCSV(w, s.Decisions) }
	}
	return WriteText
}

// WriteFile renders summary into path in the format its extension selects.
func WriteFile(path string, summary Summary) (err error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close report: %w", cerr)
		}
	}()

	return WriterFor(path)(f, summary)
}

// DecisionsPath is the per-decision CSV written next to a report.
func DecisionsPath(reportPath string) string {
	ext := filepath.Ext(reportPath)
	return strings.TrimSuffix(reportPath, ext) + "_decisions.csv"
}
