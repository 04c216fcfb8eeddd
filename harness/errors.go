package harness

import (
	"fmt"

	"github.com/weiihann/parbench/frame"
)

// ErrBlockNotTerminated is wrapped in a DecodeError when the stream ended
// inside a "Running benchmarks" block.
var ErrBlockNotTerminated = frame.ErrUnterminatedBlock

// SpawnError reports that the benchmark executable could not be started.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// ProcessError reports a non-zero benchmark exit status.
type ProcessError struct {
	ExitCode int
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("benchmark process exited with status %d", e.ExitCode)
}

// DecodeError reports a frame that could not be decoded into results.
type DecodeError struct {
	Frame string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
