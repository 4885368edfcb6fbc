package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/FranksOps/sitelayout/internal/capture"
	"github.com/FranksOps/sitelayout/internal/clusterdata"
	"github.com/FranksOps/sitelayout/internal/dedup"
	"github.com/FranksOps/sitelayout/internal/imaging"
	"github.com/FranksOps/sitelayout/internal/logger"
	"github.com/FranksOps/sitelayout/internal/pipeline"
	"github.com/FranksOps/sitelayout/internal/report"
	"github.com/FranksOps/sitelayout/internal/source"
	"github.com/FranksOps/sitelayout/internal/storage"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// errIntegrity is returned by verify when the store is inconsistent.
var errIntegrity = errors.New("integrity check failed")

func migrateCommand(a *app) *cobra.Command {
	var fresh bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the sites and screenshots tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.Migrate(cmd.Context(), fresh); err != nil {
				return err
			}
			a.log.Info("schema ready", zap.Bool("fresh", fresh))
			fmt.Fprintln(cmd.OutOrStdout(), "schema ready")
			return nil
		},
	}
	cmd.Flags().BoolVar(&fresh, "fresh", false, "drop every table before creating the schema")
	return cmd
}

type importFlags struct {
	format string
	start  int
	count  int
}

func (f *importFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.format, "format", "auto", "list format: auto, list, csv or xlsx")
	cmd.Flags().IntVar(&f.start, "start", 0, "skip this many entries")
	cmd.Flags().IntVar(&f.count, "count", 0, "import at most this many entries (0 for all)")
}

func importCommand(a *app) *cobra.Command {
	var f importFlags
	cmd := &cobra.Command{
		Use:   "import <file|url>",
		Short: "Create a site for every host in a list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := a.importHosts(cmd.Context(), args[0], f)
			if err != nil {
				return err
			}
			t := newTable(cmd.OutOrStdout(), "Created", "Duplicate", "Invalid")
			t.AppendRow(table.Row{sum.Created, sum.Duplicate, sum.Invalid})
			t.Render()
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func (a *app) importHosts(ctx context.Context, location string, f importFlags) (*source.ImportSummary, error) {
	format, err := source.ParseFormat(f.format)
	if err != nil {
		return nil, err
	}
	hc, err := a.httpClient(time.Minute)
	if err != nil {
		return nil, err
	}
	entries, err := source.Load(ctx, location, hc, source.Options{Format: format, Start: f.start, Count: f.count})
	if err != nil {
		return nil, err
	}
	a.log.Info("source loaded", zap.String("source", location), zap.Int("entries", len(entries)))
	return source.NewImporter(a.store, a.log).Import(ctx, entries)
}

type captureFlags struct {
	failed bool
	limit  int
}

func captureCommand(a *app) *cobra.Command {
	var f captureFlags
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Screenshot every unprocessed site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := a.capture(cmd.Context(), f)
			if sum != nil {
				t := newTable(cmd.OutOrStdout(), "Attempted", "Captured", "Failed", "Skipped")
				t.AppendRow(table.Row{sum.Attempted, sum.Captured, sum.Failed, sum.Skipped})
				t.Render()
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&f.failed, "failed", false, "recapture sites whose last capture failed")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "capture at most this many sites (0 for all)")
	cmd.Flags().Int("concurrency", 1, "number of pages captured at once")
	cmd.Flags().Bool("probe", false, "probe each site over HTTP before capturing")
	cmd.Flags().Bool("respect-robots", false, "skip sites whose robots.txt disallows the landing page")
	configKeys(cmd.Flags(), map[string]string{
		"capture.concurrency":    "concurrency",
		"capture.probe":          "probe",
		"capture.respect_robots": "respect-robots",
	})
	return cmd
}

func (a *app) capture(ctx context.Context, f captureFlags) (*capture.Summary, error) {
	capturer, err := a.newCapturer(a.cfg, a.log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := capturer.Close(); err != nil {
			a.log.Warn("close browser", zap.Error(err))
		}
	}()

	runner, err := a.runner(capturer)
	if err != nil {
		return nil, err
	}
	return runner.Run(ctx, capture.RunOptions{Failed: f.failed, Limit: f.limit})
}

func greyscaleCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "greyscale",
		Short: "Derive a greyscale image from every RGB screenshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := imaging.NewConverter(a.store, a.cfg.Paths.ScreenshotsGrey, a.log).Run(cmd.Context())
			if sum != nil {
				t := newTable(cmd.OutOrStdout(), "Converted", "Skipped", "Failed")
				t.AppendRow(table.Row{sum.Converted, sum.Skipped, sum.Failed})
				t.Render()
			}
			return err
		},
	}
}

func dedupCommand(a *app) *cobra.Command {
	var reportPath string
	cmd := &cobra.Command{
		Use:   "dedup",
		Short: "Keep one host per domain group unless layouts differ",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.dedup(cmd.Context(), reportPath)
			if res != nil {
				printDedup(cmd.OutOrStdout(), res)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&reportPath, "report", "", "report file; .txt, .json, .html, .xlsx or .csv (default <logs>/dedup_<timestamp>.txt)")
	cmd.Flags().Float64("threshold", 0, "minimum distance from the base that keeps a host")
	cmd.Flags().String("compare-mode", "", "truncate or exact")
	configKeys(cmd.Flags(), map[string]string{
		"dedup.similarity_threshold": "threshold",
		"dedup.compare_mode":         "compare-mode",
	})
	return cmd
}

// dedup runs the deduplicator and writes the unique host list, the report
// and the decisions CSV. The outputs are written even when the run is
// incomplete; the incompleteness is returned afterwards.
func (a *app) dedup(ctx context.Context, reportPath string) (*dedup.Result, error) {
	o, err := a.oracle(ctx)
	if err != nil {
		return nil, err
	}
	mode, err := dedup.ParseCompareMode(a.cfg.Dedup.CompareMode)
	if err != nil {
		return nil, err
	}

	d := dedup.New(dedup.Config{
		Threshold:     a.cfg.Dedup.SimilarityThreshold,
		CompareMode:   mode,
		OracleTimeout: a.cfg.Oracle.Timeout,
	}, a.store, o, a.log)

	res, err := d.Run(ctx)
	if err != nil {
		return res, err
	}

	if err := dedup.WriteHosts(a.cfg.Paths.UniqueHosts, res.Unique); err != nil {
		return res, err
	}
	a.log.Info("unique hosts written", zap.String("path", a.cfg.Paths.UniqueHosts), zap.Int("hosts", len(res.Unique)))

	if reportPath == "" {
		reportPath = filepath.Join(a.cfg.Paths.Logs, "dedup_"+logger.FileSafeTimestamp(res.StartedAt)+".txt")
	}
	shots, err := a.store.ListScreenshots(ctx, storage.ScreenshotFilter{Type: storage.ScreenshotRGB})
	if err != nil {
		return res, fmt.Errorf("list screenshots: %w", err)
	}
	summary := report.GenerateSummary(res, shots)
	if err := report.WriteFile(reportPath, summary); err != nil {
		return res, err
	}
	decisionsPath := report.DecisionsPath(reportPath)
	if err := writeDecisions(decisionsPath, summary.Decisions); err != nil {
		return res, err
	}
	a.log.Info("report written", zap.String("report", reportPath), zap.String("decisions", decisionsPath))

	return res, res.Err()
}

func writeDecisions(path string, decisions []report.Decision) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create decisions: %w", err)
	}
	if err := report.WriteDecisionsCSV(f, decisions); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printDedup(w io.Writer, res *dedup.Result) {
	t := newTable(w, "Groups", "Before", "After", "Dropped", "Failures")
	failures := res.Count(dedup.OutcomeParseFailed) + res.Count(dedup.OutcomeLookupFailed) + res.Count(dedup.OutcomeOracleFailed)
	t.AppendRow(table.Row{res.Groups, res.PreFilterCount, len(res.Unique), res.Count(dedup.OutcomeDropped), failures})
	t.Render()
}

type copyFlags struct {
	crop  bool
	hosts string
}

func copyCommand(a *app) *cobra.Command {
	var f copyFlags
	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Copy the greyscale image of every unique host into the cluster data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := a.copy(cmd.Context(), f)
			if sum != nil {
				t := newTable(cmd.OutOrStdout(), "Copied", "Cropped", "Missing")
				t.AppendRow(table.Row{sum.Copied, sum.Cropped, len(sum.Missing)})
				t.Render()
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&f.crop, "crop", false, "crop images to cluster.crop_width x cluster.crop_height")
	cmd.Flags().StringVar(&f.hosts, "hosts", "", "unique host list (default paths.unique_hosts)")
	return cmd
}

func (a *app) copy(ctx context.Context, f copyFlags) (*clusterdata.CopySummary, error) {
	path := f.hosts
	if path == "" {
		path = a.cfg.Paths.UniqueHosts
	}
	hosts, err := dedup.ReadHostsFile(path)
	if err != nil {
		return nil, err
	}

	var crop clusterdata.Crop
	if f.crop {
		crop = clusterdata.Crop{Width: a.cfg.Cluster.CropWidth, Height: a.cfg.Cluster.CropHeight}
	}
	return clusterdata.NewCopier(a.store, a.cfg.Paths.ClusterData, crop, a.log).Copy(ctx, hosts)
}

func dimensionsCommand(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "dimensions",
		Short: "Report the smallest width and height in the cluster data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dims, err := clusterdata.MinDimensions(a.cfg.Paths.ClusterData, a.log)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if all {
				t := newTable(out, "Image", "Width", "Height")
				for _, img := range dims.Images {
					t.AppendRow(table.Row{img.Name, img.Width, img.Height})
				}
				t.Render()
			}
			t := newTable(out, "Images", "Min Width", "Min Height")
			t.AppendRow(table.Row{len(dims.Images), dims.Width, dims.Height})
			t.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list every image")
	return cmd
}

func verifyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the store for sites without screenshots and orphaned rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := pipeline.Verify(cmd.Context(), a.store)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.OK() {
				fmt.Fprintln(out, "no problems found")
				return nil
			}

			t := newTable(out, "Problem", "Site", "Screenshot", "Detail")
			for _, s := range res.SitesWithoutScreenshot {
				t.AppendRow(table.Row{"no screenshot", s.ID, "", s.Host})
			}
			for _, s := range res.OrphanGreyscale {
				t.AppendRow(table.Row{"orphan greyscale", s.SiteID, s.ID, s.Path})
			}
			for _, s := range res.MissingFiles {
				t.AppendRow(table.Row{"missing file", s.SiteID, s.ID, s.Path})
			}
			t.Render()

			n := len(res.SitesWithoutScreenshot) + len(res.OrphanGreyscale) + len(res.MissingFiles)
			a.log.Warn("integrity problems found", zap.Int("problems", n))
			return fmt.Errorf("%w: %d problems", errIntegrity, n)
		},
	}
}

func runCommand(a *app) *cobra.Command {
	var (
		src        string
		imp        importFlags
		capt       captureFlags
		cp         copyFlags
		reportPath string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Import, capture, convert, deduplicate and copy in one go",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var steps []pipeline.Step
			if src != "" {
				steps = append(steps, pipeline.Step{Stage: pipeline.StageImport, Run: func(ctx context.Context) error {
					_, err := a.importHosts(ctx, src, imp)
					return err
				}})
			}
			steps = append(steps,
				pipeline.Step{Stage: pipeline.StageCapture, Run: func(ctx context.Context) error {
					_, err := a.capture(ctx, capt)
					return err
				}},
				pipeline.Step{Stage: pipeline.StageGreyscale, Run: func(ctx context.Context) error {
					_, err := imaging.NewConverter(a.store, a.cfg.Paths.ScreenshotsGrey, a.log).Run(ctx)
					return err
				}},
				pipeline.Step{Stage: pipeline.StageDedup, Run: func(ctx context.Context) error {
					res, err := a.dedup(ctx, reportPath)
					if res != nil {
						printDedup(cmd.OutOrStdout(), res)
					}
					return err
				}},
				pipeline.Step{Stage: pipeline.StageCopy, Run: func(ctx context.Context) error {
					_, err := a.copy(ctx, cp)
					return err
				}},
			)
			return pipeline.New(a.log, steps...).Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&src, "source", "", "host list to import first (file or URL)")
	imp.register(cmd)
	cmd.Flags().BoolVar(&capt.failed, "failed", false, "recapture failed sites instead of unprocessed ones")
	cmd.Flags().BoolVar(&cp.crop, "crop", false, "crop cluster images")
	cmd.Flags().StringVar(&reportPath, "report", "", "dedup report file")
	return cmd
}

func newTable(w io.Writer, header ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row(header))
	return t
}
