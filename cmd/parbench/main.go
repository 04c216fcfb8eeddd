// Package main provides the CLI entry point for parbench, a runner and
// result collector for the parallel benchmark suite.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/weiihann/parbench/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{
		logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})),
	}

	root := newRootCmd(a)
	if err := root.ExecuteContext(ctx); err != nil {
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			stop()
			os.Exit(exitErr.code)
		}

		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// app carries state shared by every command once flags are parsed.
type app struct {
	logger *slog.Logger
	cfg    *config.Config
}

// exitCodeError makes main exit with code without printing anything.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func newRootCmd(a *app) *cobra.Command {
	var (
		configPath string
		logLevel   string
		logFormat  string
	)

	root := &cobra.Command{
		Use:   "parbench",
		Short: "Run the parallel benchmark suite and collect its results",
		Long: `Parbench launches the parallel benchmark executable, decodes the JSON
records it writes while it runs and reports, exports and stores them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			overrideString(flags, "log-level", &cfg.LogLevel, logLevel)
			overrideString(flags, "log-format", &cfg.LogFormat, logFormat)

			logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}

			a.cfg = cfg
			a.logger = logger

			return nil
		},
	}

	pflags := root.PersistentFlags()
	pflags.StringVar(&configPath, "config", "",
		"Config file (default: parbench.yaml or .parbench.yaml if present)")
	pflags.StringVar(&logLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	pflags.StringVar(&logFormat, "log-format", "text",
		"Log format: text, json")

	root.AddCommand(
		newRunCmd(a),
		newBuildCmd(a),
		newEmitCmd(),
		newHistoryCmd(a),
	)

	return root
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}
