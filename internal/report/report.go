// Package report summarizes a deduplication run for people: a text or HTML
// overview, a JSON document, a spreadsheet and a per-decision CSV.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/FranksOps/sitelayout/internal/dedup"
	"github.com/FranksOps/sitelayout/internal/storage"
)

// Decision is one row of the per-host audit trail.
type Decision struct {
	Key      string  `json:"key"`
	Host     string  `json:"host"`
	SiteID   int64   `json:"site_id"`
	BaseHost string  `json:"base_host,omitempty"`
	Distance float64 `json:"distance"`
	Compared bool    `json:"compared"`
	Outcome  string  `json:"outcome"`
	Error    string  `json:"error,omitempty"`
}

// Count is a labelled tally, kept as a slice so every writer lists the
// same labels in the same order.
type Count struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Summary contains aggregated figures about a deduplication run and the
// captures it worked from.
type Summary struct {
	RunID       string        `json:"run_id"`
	Threshold   float64       `json:"threshold"`
	CompareMode string        `json:"compare_mode"`
	Groups      int           `json:"groups"`
	PreFilter   int           `json:"pre_filter_count"`
	PostFilter  int           `json:"post_filter_count"`
	Failures    int           `json:"failures"`
	Outcomes    []Count       `json:"outcomes"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time"`
	Duration    time.Duration `json:"duration"`

	TotalCaptures   int     `json:"total_captures"`
	FailedCaptures  int     `json:"failed_captures"`
	ExceededHeight  int     `json:"exceeded_height"`
	DetectionsBySrc []Count `json:"detections_by_src"`

	Unique    []string   `json:"unique"`
	Decisions []Decision `json:"decisions"`
}

var outcomeOrder = []dedup.Outcome{
	dedup.OutcomeUnique,
	dedup.OutcomeBase,
	dedup.OutcomeKept,
	dedup.OutcomeDropped,
	dedup.OutcomeParseFailed,
	dedup.OutcomeLookupFailed,
	dedup.OutcomeOracleFailed,
}

// GenerateSummary aggregates res and the RGB captures in shots. shots may
// be nil.
func GenerateSummary(res *dedup.Result, shots []*storage.Screenshot) Summary {
	s := Summary{
		RunID:       res.RunID,
		Threshold:   res.Threshold,
		CompareMode: string(res.CompareMode),
		Groups:      res.Groups,
		PreFilter:   res.PreFilterCount,
		PostFilter:  len(res.Unique),
		StartTime:   res.StartedAt,
		EndTime:     res.FinishedAt,
		Duration:    res.FinishedAt.Sub(res.StartedAt),
		Unique:      append([]string(nil), res.Unique...),
	}

	for _, o := range outcomeOrder {
		n := res.Count(o)
		s.Outcomes = append(s.Outcomes, Count{Label: string(o), Count: n})
		switch o {
		case dedup.OutcomeParseFailed, dedup.OutcomeLookupFailed, dedup.OutcomeOracleFailed:
			s.Failures += n
		}
	}

	for _, d := range res.Decisions {
		s.Decisions = append(s.Decisions, Decision{
			Key:      string(d.Key),
			Host:     d.Host,
			SiteID:   d.SiteID,
			BaseHost: d.BaseHost,
			Distance: d.Distance,
			Compared: d.Compared,
			Outcome:  string(d.Outcome),
			Error:    d.Err,
		})
	}

	bySrc := make(map[string]int)
	for _, shot := range shots {
		if shot.Type != storage.ScreenshotRGB {
			continue
		}
		s.TotalCaptures++
		if shot.Failed {
			s.FailedCaptures++
		}
		if shot.ExceededHeight {
			s.ExceededHeight++
		}
		if shot.DetectionSrc != "" {
			bySrc[shot.DetectionSrc]++
		}
	}
	for src, n := range bySrc {
		s.DetectionsBySrc = append(s.DetectionsBySrc, Count{Label: src, Count: n})
	}
	sort.Slice(s.DetectionsBySrc, func(i, j int) bool {
		return s.DetectionsBySrc[i].Label < s.DetectionsBySrc[j].Label
	})

	return s
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
