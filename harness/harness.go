package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// StartConfig describes how to launch the benchmark executable.
type StartConfig struct {
	// Executable is the benchmark binary. A relative path is resolved
	// against Dir.
	Executable string
	// Dir is the working directory of the child process.
	Dir string
	// Env is appended to the inherited environment.
	Env []string
	// WaitDelay bounds how long Wait blocks on output after the child is
	// killed by context cancellation. Zero means no bound.
	WaitDelay time.Duration
}

// Process is a running benchmark with stderr merged into stdout.
type Process struct {
	Path string

	cmd *exec.Cmd
	out io.ReadCloser

	once     sync.Once
	exitCode int
	waitErr  error
}

// ResolvePath returns the absolute path of the executable described by cfg.
func (cfg StartConfig) ResolvePath() (string, error) {
	path := cfg.Executable
	if !filepath.IsAbs(path) {
		path = filepath.Join(cfg.Dir, path)
	}

	return filepath.Abs(path)
}

// Start spawns the benchmark. The child is killed when ctx is done. Any
// failure to start is returned as a *SpawnError.
func Start(ctx context.Context, cfg StartConfig, logger *slog.Logger) (*Process, error) {
	path, err := cfg.ResolvePath()
	if err != nil {
		return nil, &SpawnError{Path: cfg.Executable, Err: err}
	}

	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, &SpawnError{Path: path, Err: fmt.Errorf("working directory: %w", err)}
	}

	if !info.IsDir() {
		return nil, &SpawnError{
			Path: path,
			Err:  fmt.Errorf("working directory %s is not a directory", cfg.Dir),
		}
	}

	cmd := exec.CommandContext(ctx, path)
	cmd.Dir = cfg.Dir
	cmd.WaitDelay = cfg.WaitDelay

	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Path: path, Err: err}
	}

	// Same writer for both streams: the child gets one descriptor.
	cmd.Stderr = cmd.Stdout

	logger.Info("starting benchmark",
		slog.String("binary", path),
		slog.String("work_dir", cfg.Dir),
	)

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Path: path, Err: err}
	}

	return &Process{Path: path, cmd: cmd, out: out}, nil
}

// Output is the merged stdout/stderr stream. It must be read to EOF before
// the child can be relied on to exit.
func (p *Process) Output() io.Reader {
	return p.out
}

// Wait drains whatever output is left and then waits for the child to exit.
// It returns the exit code; a child killed by a signal reports -1. The
// returned error is non-nil only when waiting itself failed. Wait may be
// called more than once.
func (p *Process) Wait() (int, error) {
	p.once.Do(func() {
		if _, err := io.Copy(io.Discard, p.out); err != nil && !errors.Is(err, os.ErrClosed) {
			p.waitErr = fmt.Errorf("drain output: %w", err)
		}

		err := p.cmd.Wait()

		var exitErr *exec.ExitError
		switch {
		case err == nil:
			p.exitCode = p.cmd.ProcessState.ExitCode()
		case errors.As(err, &exitErr):
			p.exitCode = exitErr.ExitCode()
		default:
			p.exitCode = -1
			if p.cmd.ProcessState != nil {
				p.exitCode = p.cmd.ProcessState.ExitCode()
			}

			// Context expiry is reported by the caller that owns ctx.
			if p.waitErr == nil && !isContextErr(err) {
				p.waitErr = fmt.Errorf("wait: %w", err)
			}
		}
	})

	return p.exitCode, p.waitErr
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, exec.ErrWaitDelay)
}
