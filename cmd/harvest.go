package main

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/profile"
	"github.com/sells-group/outreach-cli/internal/resolve"
	"github.com/sells-group/outreach-cli/internal/sheet"
	"github.com/sells-group/outreach-cli/internal/store"
)

var (
	harvestSheet       string
	harvestOut         string
	harvestLimit       int
	harvestConcurrency int
	harvestStaticOnly  bool
	harvestRefresh     bool
	harvestProfile     string
)

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Harvest contact emails for every website in a sheet",
	Long: `Reads a sheet of website URLs, resolves the contact emails each site
lists, and writes the sheet back out with an emails column appended.

The sheet may be a local path or an http(s)/ftp URL, CSV or XLSX, and must
have a "website" column. Each output cell holds a sorted JSON array, "[]"
for a blank website, or "ERROR" when the site could not be fetched.

Examples:
  # Harvest a local CSV into prospects_emails.csv
  outreach-cli harvest --sheet prospects.csv

  # Remote sheet, explicit output, four sites in flight
  outreach-cli harvest --sheet https://example.com/leads.csv --out leads.csv --concurrency 4

  # Skip the browser tier and ignore cached resolutions
  outreach-cli harvest --sheet prospects.csv --static-only --refresh`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var prof *profile.Profile
		if harvestProfile != "" {
			p, err := profile.Load(harvestProfile)
			if err != nil {
				return err
			}
			prof = p
		}

		tbl, err := sheet.Load(ctx, harvestSheet, sheet.LoadOptions{
			UserAgent: cfg.Fetch.UserAgent,
			Timeout:   time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return eris.Wrap(err, "harvest: load sheet")
		}
		zap.L().Info("sheet loaded", zap.String("source", harvestSheet), zap.Int("rows", len(tbl.Rows)))

		if harvestLimit > 0 && harvestLimit < len(tbl.Rows) {
			tbl.Rows = tbl.Rows[:harvestLimit]
		}

		env, err := initResolver(ctx, resolverOpts{
			StaticOnly: harvestStaticOnly,
			Refresh:    harvestRefresh,
			Profile:    prof,
		})
		if err != nil {
			return eris.Wrap(err, "harvest: init resolver")
		}
		defer env.Close()

		concurrency := harvestConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Harvest.Concurrency
		}
		if concurrency <= 0 {
			concurrency = 1
		}

		// Run history is bookkeeping; a store hiccup never blocks the batch.
		var runID string
		if env.Store != nil {
			run, runErr := env.Store.CreateRun(ctx, harvestSheet)
			if runErr != nil {
				zap.L().Warn("harvest: create run", zap.Error(runErr))
			} else {
				runID = run.ID
			}
		}

		zap.L().Info("processing batch",
			zap.Int("rows", len(tbl.Rows)),
			zap.Int("concurrency", concurrency),
		)

		cells, summary := harvestRows(ctx, env.Resolver, tbl, concurrency)

		recordRunOutcome(ctx, env.Store, runID, summary)

		outPath := harvestOut
		if outPath == "" {
			outPath = sheet.DeriveOutput(harvestSheet)
		}
		f, err := os.Create(outPath)
		if err != nil {
			return eris.Wrap(err, "harvest: create output file")
		}
		defer f.Close() //nolint:errcheck

		header, rows := appendEmails(tbl, cells)
		if err := sheet.WriteTable(f, header, rows); err != nil {
			return err
		}

		zap.L().Info("harvest complete",
			zap.String("out", outPath),
			zap.Int("total", summary.Total),
			zap.Int("resolved", summary.Resolved),
			zap.Int("empty", summary.Empty),
			zap.Int("failed", summary.Failed),
			zap.Int("skipped", summary.Skipped),
		)
		return nil
	},
}

func init() {
	harvestCmd.Flags().StringVar(&harvestSheet, "sheet", "", "path or URL of the input sheet (required)")
	harvestCmd.Flags().StringVar(&harvestOut, "out", "", "output CSV path (default: <sheet>_emails.csv)")
	harvestCmd.Flags().IntVar(&harvestLimit, "limit", 0, "max rows to process (0 = all)")
	harvestCmd.Flags().IntVar(&harvestConcurrency, "concurrency", 0, "rows in flight at once (default from config)")
	harvestCmd.Flags().BoolVar(&harvestStaticOnly, "static-only", false, "disable the browser render fallback")
	harvestCmd.Flags().BoolVar(&harvestRefresh, "refresh", false, "resolve every URL even when cached")
	harvestCmd.Flags().StringVar(&harvestProfile, "profile", "", "path to a YAML harvest profile")
	_ = harvestCmd.MarkFlagRequired("sheet")
	rootCmd.AddCommand(harvestCmd)
}

// recordRunOutcome lands the run row as completed or, when the batch context
// was canceled, as failed. The write itself goes through an uncancelable
// context: on SIGINT the canceled context would abort the UPDATE and leave
// the row running forever.
func recordRunOutcome(ctx context.Context, st store.Store, runID string, summary model.RunSummary) {
	if st == nil || runID == "" {
		return
	}
	status := model.RunStatusCompleted
	if ctx.Err() != nil {
		status = model.RunStatusFailed
	}
	if err := st.FinishRun(context.WithoutCancel(ctx), runID, status, summary); err != nil {
		zap.L().Warn("harvest: finish run", zap.Error(err))
	}
}

// harvestRows resolves every row's website cell, concurrency-limited, and
// returns the emails column with one cell per input row. Cells land in
// index-addressed slots so output order matches input order at any
// concurrency.
func harvestRows(ctx context.Context, res *resolve.Resolver, tbl *sheet.Table, concurrency int) ([]string, model.RunSummary) {
	cells := make([]string, len(tbl.Rows))
	var resolved, empty, failed, skipped atomic.Int64

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i := range tbl.Rows {
		g.Go(func() error {
			site := tbl.Website(i)
			if site == "" {
				skipped.Add(1)
				cells[i] = "[]"
				zap.L().Debug("blank website cell", zap.Int("row", i))
				return nil
			}

			r, err := res.Resolve(gCtx, site)
			if err != nil {
				failed.Add(1)
				cells[i] = "ERROR"
				zap.L().Error("harvest: row failed",
					zap.Int("row", i),
					zap.String("url", site),
					zap.Error(err),
				)
				return nil // don't abort the batch on individual failure
			}

			if len(r.Emails) == 0 {
				empty.Add(1)
			} else {
				resolved.Add(1)
			}
			cells[i] = sheet.FormatEmails(r.Emails)
			zap.L().Info("row resolved",
				zap.Int("row", i),
				zap.String("url", site),
				zap.Int("emails", len(r.Emails)),
				zap.String("tier", string(r.Tier)),
			)
			return nil
		})
	}
	_ = g.Wait()

	return cells, model.RunSummary{
		Total:    len(tbl.Rows),
		Resolved: int(resolved.Load()),
		Empty:    int(empty.Load()),
		Failed:   int(failed.Load()),
		Skipped:  int(skipped.Load()),
	}
}

// appendEmails builds the output header and rows: the input table with the
// emails column appended. Short rows pad to header width first so the new
// cell is always the last column.
func appendEmails(tbl *sheet.Table, cells []string) ([]string, [][]string) {
	header := append(append([]string{}, tbl.Header...), "emails")

	rows := make([][]string, len(tbl.Rows))
	for i, row := range tbl.Rows {
		width := len(tbl.Header)
		if len(row) > width {
			width = len(row)
		}
		out := make([]string, width, width+1)
		copy(out, row)
		rows[i] = append(out, cells[i])
	}
	return header, rows
}
