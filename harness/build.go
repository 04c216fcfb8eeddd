package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
)

// BinaryName is the file name of the benchmark executable without any
// platform suffix.
const BinaryName = "parallel_benchmark"

// BuildConfig describes how to build the benchmark executable with CMake.
type BuildConfig struct {
	ProjectDir string
	BuildDir   string
	Target     string
	BuildType  string
	Jobs       int
	// Output receives the CMake output. Nil means os.Stderr.
	Output io.Writer
}

// BinaryDir returns the directory the build places the benchmark in. The
// benchmark is run from this directory.
func BinaryDir(buildDir string) string {
	return filepath.Join(buildDir, "benchmarks", "bin")
}

// ResolveBinary returns the expected benchmark path for a build directory.
func ResolveBinary(buildDir string) string {
	name := BinaryName
	if runtime.GOOS == "windows" {
		name += ".exe"
	}

	return filepath.Join(BinaryDir(buildDir), name)
}

// Dirs returns the absolute project and build directories. A relative
// build directory is taken relative to the project directory.
func (cfg BuildConfig) Dirs() (projectDir, buildDir string, err error) {
	projectDir, err = filepath.Abs(cfg.ProjectDir)
	if err != nil {
		return "", "", fmt.Errorf("resolve project dir: %w", err)
	}

	buildDir = cfg.BuildDir
	if !filepath.IsAbs(buildDir) {
		buildDir = filepath.Join(projectDir, buildDir)
	}

	return projectDir, buildDir, nil
}

// configureArgs returns the arguments of the CMake configure step.
func configureArgs(cfg BuildConfig) []string {
	return []string{"-B", cfg.BuildDir, "-S", cfg.ProjectDir}
}

// buildArgs returns the arguments of the CMake build step.
func buildArgs(cfg BuildConfig) []string {
	args := []string{"--build", cfg.BuildDir, "--parallel"}
	if cfg.Jobs > 0 {
		args = append(args, strconv.Itoa(cfg.Jobs))
	}
	if cfg.Target != "" {
		args = append(args, "--target", cfg.Target)
	}
	if cfg.BuildType != "" {
		args = append(args, "--config", cfg.BuildType)
	}

	return args
}

// Build configures and compiles the benchmark and returns the path of the
// resulting binary.
func Build(ctx context.Context, logger *slog.Logger, cfg BuildConfig) (string, error) {
	projectDir, buildDir, err := cfg.Dirs()
	if err != nil {
		return "", err
	}

	cfg.ProjectDir = projectDir
	cfg.BuildDir = buildDir
	binPath := ResolveBinary(buildDir)

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	steps := [][]string{configureArgs(cfg), buildArgs(cfg)}
	for _, args := range steps {
		logger.InfoContext(ctx, "running cmake",
			slog.Any("args", args),
			slog.String("project_dir", cfg.ProjectDir),
		)

		cmd := exec.CommandContext(ctx, "cmake", args...)
		cmd.Dir = cfg.ProjectDir
		cmd.Stdout = out
		cmd.Stderr = out

		if err := cmd.Run(); err != nil {
			return "", fmt.Errorf("cmake %s: %w", args[0], err)
		}
	}

	if _, err := os.Stat(binPath); err != nil {
		return "", fmt.Errorf("build: binary not found at %s", binPath)
	}

	logger.InfoContext(ctx, "benchmark built",
		slog.String("binary", binPath),
	)

	return binPath, nil
}
