package main

import (
	"bufio"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weiihann/parbench/emulate"
)

func newEmitCmd() *cobra.Command {
	var (
		shape        string
		seed         int64
		runs         int
		distribution string
		pretty       bool
		banner       bool
		status       int
		exitCode     int
		corrupt      []int
	)

	cmd := &cobra.Command{
		Use:   "emit",
		Short: "Write fake benchmark output",
		Long: `Write deterministic output in the format of the benchmark executable.
The result can be piped or run through "parbench run --executable" to
exercise result collection without building the C++ suite.`,
		// Output must stay byte-exact, so config and logging are skipped.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := emulate.Shape(shape)
			if s != emulate.Streaming && s != emulate.Block {
				return fmt.Errorf("unknown shape %q", shape)
			}

			cfg := emulate.DefaultConfig()
			cfg.Shape = s
			cfg.Seed = seed
			cfg.Runs = runs
			cfg.Distribution = distribution
			cfg.Pretty = pretty
			cfg.Banner = banner
			cfg.Status = status
			cfg.Corrupt = corrupt

			w := bufio.NewWriter(cmd.OutOrStdout())
			if _, err := emulate.NewGenerator(cfg).Generate(w); err != nil {
				return err
			}

			if err := w.Flush(); err != nil {
				return err
			}

			if exitCode != 0 {
				return &exitCodeError{code: exitCode}
			}

			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&shape, "shape", string(emulate.Streaming),
		"Output shape: streaming, block")
	flags.Int64Var(&seed, "seed", 1,
		"Random seed for timings")
	flags.IntVar(&runs, "runs", 10,
		"times_executed reported for every benchmark")
	flags.StringVar(&distribution, "distribution", "uniform",
		"Timing noise distribution: power-law, uniform, exponential")
	flags.BoolVar(&pretty, "pretty", true,
		"Spread each JSON value over several lines")
	flags.BoolVar(&banner, "banner", false,
		"Interleave progress lines between records")
	flags.IntVar(&status, "status", 0,
		"Code written on the STATUS line in block shape")
	flags.IntVar(&exitCode, "exit-code", 0,
		"Process exit code")
	flags.IntSliceVar(&corrupt, "corrupt", nil,
		"Record indexes to write as undecodable objects")

	return cmd
}
