package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/weiihann/parbench/config"
	"github.com/weiihann/parbench/harness"
	"github.com/weiihann/parbench/metrics"
	"github.com/weiihann/parbench/report"
	"github.com/weiihann/parbench/sink"
	"github.com/weiihann/parbench/store"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		executable  string
		workDir     string
		buildDir    string
		timeout     time.Duration
		output      string
		dbPath      string
		metricsAddr string
		savePath    string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the benchmark and collect its results",
		Long: `Launch the benchmark executable, stream its results as they are
written and print a report once it exits. Without --executable the binary
is looked up in the build directory.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			flags := cmd.Flags()

			overrideString(flags, "executable", &cfg.Executable, executable)
			overrideString(flags, "work-dir", &cfg.WorkDir, workDir)
			overrideString(flags, "build-dir", &cfg.BuildDir, buildDir)
			overrideDuration(flags, "timeout", &cfg.Timeout, timeout)
			overrideString(flags, "output", &cfg.Output, output)
			overrideString(flags, "db", &cfg.DBPath, dbPath)
			overrideString(flags, "metrics-addr", &cfg.MetricsAddr, metricsAddr)
			overrideString(flags, "save", &cfg.SavePath, savePath)

			if err := cfg.Validate(); err != nil {
				return err
			}

			return runBenchmark(cmd.Context(), a.logger, cfg, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&executable, "executable", "",
		"Path to the benchmark executable")
	flags.StringVar(&workDir, "work-dir", "",
		"Working directory of the benchmark (default: the executable's directory)")
	flags.StringVar(&buildDir, "build-dir", "build",
		"Build directory used to locate the executable, relative to project_dir")
	flags.DurationVar(&timeout, "timeout", 30*time.Minute,
		"Kill the benchmark after this long (0 = no limit)")
	flags.StringVar(&output, "output", config.OutputTable,
		"Output format: table, json, csv, jsonl")
	flags.StringVar(&dbPath, "db", "",
		"SQLite database to record the run in")
	flags.StringVar(&metricsAddr, "metrics-addr", "",
		"Serve Prometheus metrics on this address while running")
	flags.StringVar(&savePath, "save", "",
		"Also write results to this file as they arrive (.csv or JSON Lines)")

	return cmd
}

func runBenchmark(
	ctx context.Context,
	logger *slog.Logger,
	cfg *config.Config,
	stdout io.Writer,
) error {
	executable := cfg.Executable
	if executable == "" {
		_, buildDir, err := harness.BuildConfig{
			ProjectDir: cfg.ProjectDir,
			BuildDir:   cfg.BuildDir,
		}.Dirs()
		if err != nil {
			return err
		}

		executable = harness.ResolveBinary(buildDir)
	}

	executable, err := filepath.Abs(executable)
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = filepath.Dir(executable)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	if cfg.MetricsAddr != "" {
		stopServer, err := serveMetrics(ctx, logger, cfg.MetricsAddr, reg)
		if err != nil {
			return err
		}
		defer stopServer()
	}

	out, err := resultSink(cfg, stdout)
	if err != nil {
		return err
	}

	started := time.Now()
	pipeline := harness.NewPipeline(logger, m)
	run := pipeline.Start(ctx, harness.RunConfig{
		StartConfig: harness.StartConfig{
			Executable: executable,
			Dir:        workDir,
			WaitDelay:  5 * time.Second,
		},
		Timeout: cfg.Timeout,
	})

	var sinkErr error
	outcome, runErr := run.Collect(func(res harness.Result) {
		if out == nil || sinkErr != nil {
			return
		}

		if sinkErr = out.Write(res); sinkErr != nil {
			logger.ErrorContext(ctx, "write result failed",
				slog.String("error", sinkErr.Error()),
			)
			run.Cancel()
		}
	})

	if out != nil {
		sinkErr = errors.Join(sinkErr, out.Close())
	}

	if cfg.DBPath != "" {
		if err := saveRun(ctx, logger, cfg.DBPath, store.RunRecord{
			Executable:     executable,
			StartedAt:      started,
			Duration:       outcome.Duration,
			ExitCode:       outcome.ExitCode,
			DecodeFailures: outcome.DecodeFailures,
			Error:          errString(runErr),
			Results:        outcome.Results,
		}); err != nil {
			return err
		}
	}

	if sinkErr != nil {
		return fmt.Errorf("write results: %w", sinkErr)
	}

	switch {
	case cfg.Output == config.OutputTable && len(outcome.Results) == 0:
		logger.WarnContext(ctx, "benchmark produced no results")
	case cfg.Output == config.OutputTable:
		if err := report.Generate(stdout, outcome.Results); err != nil {
			return fmt.Errorf("generate report: %w", err)
		}
	case cfg.Output == config.OutputJSON:
		if err := report.GenerateJSON(stdout, outcome.Results); err != nil {
			return fmt.Errorf("generate JSON report: %w", err)
		}
	}

	if runErr != nil {
		return fmt.Errorf("run %s: %w", filepath.Base(executable), runErr)
	}

	if outcome.DecodeFailed() {
		logger.WarnContext(ctx, "some records could not be decoded",
			slog.Int("decode_failures", outcome.DecodeFailures),
		)
	}

	return nil
}

// resultSink combines the stdout stream with the optional save file. It
// returns nil when nothing is written per result.
func resultSink(cfg *config.Config, stdout io.Writer) (sink.Sink, error) {
	var sinks sink.Multi

	stream, err := streamSink(cfg.Output, stdout)
	if err != nil {
		return nil, err
	}
	if stream != nil {
		sinks = append(sinks, stream)
	}

	if cfg.SavePath != "" {
		f, err := os.Create(cfg.SavePath)
		if err != nil {
			return nil, fmt.Errorf("create save file: %w", err)
		}

		format := config.OutputJSONL
		if strings.EqualFold(filepath.Ext(cfg.SavePath), ".csv") {
			format = config.OutputCSV
		}

		saved, err := fileSink(format, f)
		if err != nil {
			f.Close()
			return nil, err
		}

		sinks = append(sinks, saved)
	}

	if len(sinks) == 0 {
		return nil, nil
	}

	return sinks, nil
}

// streamSink returns the sink that writes results as they arrive, or nil
// for formats that are rendered after the run.
func streamSink(format string, w io.Writer) (sink.Sink, error) {
	// Hide Close so the sink never closes stdout.
	return fileSink(format, struct{ io.Writer }{w})
}

// fileSink returns a CSV or JSON Lines sink over w, or nil for other
// formats. w is closed with the sink if it is an io.Closer.
func fileSink(format string, w io.Writer) (sink.Sink, error) {
	switch format {
	case config.OutputCSV:
		return sink.NewCSVWriter(w)
	case config.OutputJSONL:
		return sink.NewJSONWriter(w), nil
	default:
		return nil, nil
	}
}

func saveRun(ctx context.Context, logger *slog.Logger, path string, rec store.RunRecord) error {
	db, err := store.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	// The run context may already be cancelled; the history is still kept.
	id, err := db.SaveRun(context.WithoutCancel(ctx), rec)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	logger.InfoContext(ctx, "run recorded",
		slog.Int64("run_id", id),
		slog.String("db", path),
		slog.Int("records", len(rec.Results)),
	)

	return nil
}

func serveMetrics(
	ctx context.Context,
	logger *slog.Logger,
	addr string,
	g prometheus.Gatherer,
) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()

	logger.InfoContext(ctx, "serving metrics", slog.String("addr", ln.Addr().String()))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", slog.String("error", err.Error()))
		}
	}, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
