package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvloznov/pricepaid-importer/internal/config"
	"github.com/dvloznov/pricepaid-importer/internal/landregistry"
	"github.com/dvloznov/pricepaid-importer/internal/period"
)

// periodFlags selects a year or a single month.
type periodFlags struct {
	year  int
	month int
}

func (f *periodFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.year, "year", 0, "Year to process")
	cmd.Flags().IntVar(&f.month, "month", 0, "Month to process (1-12, requires --year)")
}

// periods resolves the flags against startYear and now. No flags means every
// period; --year alone means that year's elapsed months. The current month and
// later are refused.
func (f *periodFlags) periods(startYear int, now time.Time) ([]period.Period, error) {
	switch {
	case f.year == 0 && f.month == 0:
		return period.Range(startYear, now), nil
	case f.year == 0:
		return nil, errors.New("--month requires --year")
	case f.month != 0:
		p, err := period.New(f.year, f.month)
		if err != nil {
			return nil, err
		}
		if err := period.CheckElapsed([]period.Period{p}, now); err != nil {
			return nil, err
		}
		return []period.Period{p}, nil
	}

	if f.year < period.DataRangeStartYear {
		return nil, fmt.Errorf("year %d before %d", f.year, period.DataRangeStartYear)
	}
	var out []period.Period
	for _, p := range period.Range(f.year, now) {
		if p.Year != f.year {
			break
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("year %d has no elapsed months", f.year)
	}
	return out, nil
}

// single requires both --year and --month.
func (f *periodFlags) single() (period.Period, error) {
	if f.year == 0 || f.month == 0 {
		return period.Period{}, errors.New("--year and --month are required")
	}
	return period.New(f.year, f.month)
}

func (c *cli) importCommand() *cobra.Command {
	var pf periodFlags
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import pending periods (all, one year, or one month)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(cmd); err != nil {
				return err
			}
			periods, err := pf.periods(c.cfg.Import.StartYear, time.Now())
			if err != nil {
				return err
			}

			summary, err := c.app.Scheduler.RunPeriods(c.context(cmd), periods, "cli")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "considered=%d imported=%d already_complete=%d failed=%d records=%d skipped_rows=%d\n",
				summary.Considered, summary.Imported, summary.AlreadyComplete, summary.Failed, summary.Records, summary.RowsSkipped)
			if summary.Failed > 0 {
				return fmt.Errorf("%d period(s) failed", summary.Failed)
			}
			return nil
		},
	}
	pf.register(cmd)
	return cmd
}

func (c *cli) statusCommand() *cobra.Command {
	var pendingOnly bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show which periods are complete",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(cmd); err != nil {
				return err
			}
			statuses, err := c.app.Scheduler.Status(c.context(cmd))
			if err != nil {
				return err
			}

			complete := 0
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PERIOD\tSTATE")
			for _, s := range statuses {
				if s.State == period.StateComplete {
					complete++
					if pendingOnly {
						continue
					}
				}
				fmt.Fprintf(w, "%s\t%s\n", s.Key, s.State)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d/%d periods complete\n", complete, len(statuses))
			return nil
		},
	}
	cmd.Flags().BoolVar(&pendingOnly, "pending", false, "List pending periods only")
	return cmd
}

func (c *cli) inspectCommand() *cobra.Command {
	var (
		pf    periodFlags
		limit int
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show a period's marker and stored records",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pf.single()
			if err != nil {
				return err
			}
			if err := c.setup(cmd); err != nil {
				return err
			}
			ctx := c.context(cmd)
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "\n=== Period %s ===\n", p)
			fmt.Fprintf(out, "Prefix:   %s\n", p.KeyPrefix(c.cfg.Output.KeyPrefix))

			marker, err := c.app.Tracker.Marker(ctx, p)
			if err != nil {
				return err
			}
			if marker == nil {
				fmt.Fprintf(out, "State:    %s\n\n", period.StatePending)
				return nil
			}
			fmt.Fprintf(out, "State:    %s\n", period.StateComplete)
			fmt.Fprintf(out, "Records:  %d\n", marker.Records)
			fmt.Fprintf(out, "Skipped:  %d\n", marker.Skipped)
			fmt.Fprintf(out, "Encoding: %s\n", marker.Encoding)
			if !marker.CompletedAt.IsZero() {
				fmt.Fprintf(out, "Complete: %s\n", marker.CompletedAt.Format(time.RFC3339))
			}

			if marker.Encoding != "" && marker.Encoding != c.app.Sink.Encoding() {
				fmt.Fprintf(out, "\nStored as %s; OUTPUT_ENCODING is %s, not reading records.\n\n", marker.Encoding, c.app.Sink.Encoding())
				return nil
			}

			records, err := c.app.Sink.Read(ctx, p)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\n=== Records (%d) ===\n", len(records))
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPRICE\tDATE\tPOSTCODE\tTYPE\tTOWN")
			for i, r := range records {
				if limit > 0 && i >= limit {
					break
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n", r.ID, r.Price, r.DeedDate, r.Postcode, r.PropertyType, r.Town)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	pf.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum records to print (0 for all)")
	return cmd
}

func (c *cli) fetchCommand() *cobra.Command {
	var (
		pf      periodFlags
		url     string
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download a period's raw CSV without storing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pf.single()
			if err != nil {
				return err
			}

			cfg := landregistry.DefaultClientConfig()
			cfg.BaseURL = url
			cfg.Logger = &c.log
			client := landregistry.NewClient(cfg)

			payload, err := client.Fetch(c.context(cmd), p)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if _, err := w.Write(payload); err != nil {
				return err
			}
			c.log.Info().Str("period", p.String()).Int("bytes", len(payload)).Msg("Fetched")
			return nil
		},
	}
	pf.register(cmd)
	cmd.Flags().StringVar(&url, "url", config.DefaultSourceURL, "Source CSV endpoint")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write to file instead of stdout")
	return cmd
}

func (c *cli) runsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent import runs from the BigQuery ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.setup(cmd); err != nil {
				return err
			}
			if !c.cfg.LedgerEnabled() {
				return errors.New("run ledger disabled: set BIGQUERY_PROJECT")
			}

			runs, err := c.app.Ledger.ListRecentImportRuns(c.context(cmd), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tPERIOD\tSTATUS\tTRIGGER\tRECORDS\tSKIPPED\tSTAGE\tERROR")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
					r.StartedTS.Format(time.RFC3339),
					r.Period,
					r.Status,
					r.Trigger,
					r.RecordsWritten.Int64,
					r.RowsSkipped.Int64,
					r.FailedStage.StringVal,
					r.ErrorMessage,
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to list")
	return cmd
}
