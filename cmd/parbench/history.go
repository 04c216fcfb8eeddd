package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/weiihann/parbench/report"
	"github.com/weiihann/parbench/store"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		dbPath string
		runID  int64
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded benchmark runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			overrideString(cmd.Flags(), "db", &cfg.DBPath, dbPath)

			if cfg.DBPath == "" {
				return fmt.Errorf("no database: set --db or db_path")
			}

			db, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if runID > 0 {
				rec, err := db.Run(ctx, runID)
				if err != nil {
					return err
				}

				writeRunHeader(out, rec)

				if len(rec.Results) == 0 {
					fmt.Fprintln(out, "No results recorded.")
					return nil
				}

				return report.Generate(out, rec.Results)
			}

			runs, err := db.ListRuns(ctx, limit)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			writeRuns(out, runs)

			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&dbPath, "db", "",
		"SQLite database holding the run history")
	flags.Int64Var(&runID, "run", 0,
		"Show the results of a single run")
	flags.IntVar(&limit, "limit", 20,
		"Number of runs to list")

	return cmd
}

func writeRuns(w io.Writer, runs []store.RunRecord) {
	fmt.Fprintln(w, "| ID | Started | Executable | Exit | Duration | Decode Failures | Error |")
	fmt.Fprintln(w, "|----|---------|------------|------|----------|-----------------|-------|")

	for _, r := range runs {
		fmt.Fprintf(w, "| %d | %s | %s | %d | %s | %d | %s |\n",
			r.ID,
			r.StartedAt.Format(time.DateTime),
			r.Executable,
			r.ExitCode,
			r.Duration.Round(time.Millisecond),
			r.DecodeFailures,
			r.Error,
		)
	}
}

func writeRunHeader(w io.Writer, r store.RunRecord) {
	fmt.Fprintf(w, "Run %d: %s\n", r.ID, r.Executable)
	fmt.Fprintf(w, "Started %s, took %s, exit code %d\n",
		r.StartedAt.Format(time.DateTime), r.Duration.Round(time.Millisecond), r.ExitCode)

	if r.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", r.Error)
	}

	fmt.Fprintln(w)
}
