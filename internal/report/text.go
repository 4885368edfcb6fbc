package report

import (
	"fmt"
	"html/template"
	"io"
	"strconv"
	texttemplate "text/template"

	"github.com/jedib0t/go-pretty/v6/table"
)

const textTmpl = `Layout Deduplication Summary
----------------------------
Run:           {{.RunID}}
Time:          {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}}
Duration:      {{.Duration}}
Threshold:     {{.Threshold}} ({{.CompareMode}})
Groups:        {{.Groups}}
Hosts:         {{.PreFilter}} before, {{.PostFilter}} after filtering
Failures:      {{.Failures}}
Captures:      {{.TotalCaptures}} ({{.FailedCaptures}} failed, {{.ExceededHeight}} exceeded height)

`

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	t, err := texttemplate.New("textReport").Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("parse text report: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("render text report: %w", err)
	}

	outcomes := table.NewWriter()
	outcomes.SetOutputMirror(w)
	outcomes.AppendHeader(table.Row{"Outcome", "Count"})
	for _, c := range summary.Outcomes {
		outcomes.AppendRow(table.Row{c.Label, c.Count})
	}
	outcomes.Render()

	if len(summary.DetectionsBySrc) > 0 {
		fmt.Fprintln(w)
		detections := table.NewWriter()
		detections.SetOutputMirror(w)
		detections.AppendHeader(table.Row{"Detection", "Captures"})
		for _, c := range summary.DetectionsBySrc {
			detections.AppendRow(table.Row{c.Label, c.Count})
		}
		detections.Render()
	}

	if len(summary.Decisions) > 0 {
		fmt.Fprintln(w)
		DecisionTable(w, summary.Decisions)
	}
	return nil
}

// DecisionTable renders decisions as a table on w.
func DecisionTable(w io.Writer, decisions []Decision) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Key", "Host", "Base", "Distance", "Outcome", "Error"})
	for _, d := range decisions {
		t.AppendRow(table.Row{d.Key, d.Host, d.BaseHost, distanceText(d), d.Outcome, d.Error})
	}
	t.Render()
}

func distanceText(d Decision) string {
	if !d.Compared {
		return "-"
	}
	return strconv.FormatFloat(d.Distance, 'f', -1, 64)
}

const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>Layout Deduplication Report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
  .dropped { color: #888; }
  .failed { color: red; }
</style>
</head>
<body>
  <h1>Layout Deduplication Report</h1>
  <p><strong>Run:</strong> {{.RunID}}</p>
  <p><strong>Time:</strong> {{.StartTime.Format "2006-01-02 15:04:05"}} to {{.EndTime.Format "2006-01-02 15:04:05"}} ({{.Duration}})</p>
  <p><strong>Threshold:</strong> {{.Threshold}} ({{.CompareMode}})</p>

  <div class="stat-card">
    <div>Groups</div>
    <div class="stat-val">{{.Groups}}</div>
  </div>
  <div class="stat-card">
    <div>Hosts Before</div>
    <div class="stat-val">{{.PreFilter}}</div>
  </div>
  <div class="stat-card">
    <div>Unique Layouts</div>
    <div class="stat-val">{{.PostFilter}}</div>
  </div>
  <div class="stat-card">
    <div>Failures</div>
    <div class="stat-val" style="color: {{if gt .Failures 0}}red{{else}}green{{end}};">{{.Failures}}</div>
  </div>

  <h3>Outcomes</h3>
  <table>
    <tr><th>Outcome</th><th>Count</th></tr>
    {{- range .Outcomes}}
    <tr><td>{{.Label}}</td><td>{{.Count}}</td></tr>
    {{- end}}
  </table>

  <h3>Detections By Source</h3>
  <table>
    <tr><th>Source</th><th>Captures</th></tr>
    {{- range .DetectionsBySrc}}
    <tr><td>{{.Label}}</td><td>{{.Count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Decisions</h3>
  <table>
    <tr><th>Key</th><th>Host</th><th>Base</th><th>Distance</th><th>Outcome</th><th>Error</th></tr>
    {{- range .Decisions}}
    <tr class="{{outcomeClass .Outcome}}"><td>{{.Key}}</td><td>{{.Host}}</td><td>{{.BaseHost}}</td><td>{{if .Compared}}{{.Distance}}{{else}}-{{end}}</td><td>{{.Outcome}}</td><td>{{.Error}}</td></tr>
    {{- else}}
    <tr><td colspan="6">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`

// WriteHTML writes a basic HTML report to the provided writer.
func WriteHTML(w io.Writer, summary Summary) error {
	t, err := template.New("htmlReport").Funcs(template.FuncMap{
		"outcomeClass": outcomeClass,
	}).Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("parse html report: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("render html report: %w", err)
	}
	return nil
}

func outcomeClass(outcome string) string {
	switch outcome {
	case "dropped":
		return "dropped"
	case "parse_failed", "lookup_failed", "oracle_failed":
		return "failed"
	}
	return ""
}
