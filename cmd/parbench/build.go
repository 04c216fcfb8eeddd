package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/weiihann/parbench/harness"
)

func newBuildCmd(a *app) *cobra.Command {
	var (
		projectDir string
		buildDir   string
		target     string
		buildType  string
		jobs       int
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Configure and compile the benchmark with CMake",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			flags := cmd.Flags()

			overrideString(flags, "project-dir", &cfg.ProjectDir, projectDir)
			overrideString(flags, "build-dir", &cfg.BuildDir, buildDir)
			overrideString(flags, "target", &cfg.BuildTarget, target)
			overrideString(flags, "build-type", &cfg.BuildType, buildType)
			overrideInt(flags, "jobs", &cfg.Jobs, jobs)

			if err := cfg.Validate(); err != nil {
				return err
			}

			binPath, err := harness.Build(cmd.Context(), a.logger, harness.BuildConfig{
				ProjectDir: cfg.ProjectDir,
				BuildDir:   cfg.BuildDir,
				Target:     cfg.BuildTarget,
				BuildType:  cfg.BuildType,
				Jobs:       cfg.Jobs,
				Output:     cmd.ErrOrStderr(),
			})
			if err != nil {
				return fmt.Errorf("build benchmark: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), binPath)

			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&projectDir, "project-dir", ".",
		"CMake source directory")
	flags.StringVar(&buildDir, "build-dir", "build",
		"CMake build directory")
	flags.StringVar(&target, "target", harness.BinaryName,
		"CMake target to build")
	flags.StringVar(&buildType, "build-type", "Release",
		"Build configuration for multi-config generators")
	flags.IntVar(&jobs, "jobs", 0,
		"Parallel build jobs (0 = CMake default)")

	return cmd
}
