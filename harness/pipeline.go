package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/weiihann/parbench/frame"
	"github.com/weiihann/parbench/metrics"
)

// RunConfig holds parameters for a single benchmark run.
type RunConfig struct {
	StartConfig

	// Timeout kills the benchmark after the given duration. Zero means
	// no timeout.
	Timeout time.Duration
}

// Outcome is the terminal state of a run.
type Outcome struct {
	// Results are the delivered records in arrival order.
	Results         []Result
	ExitCode        int
	DecodeFailures  int
	MalformedFrames int
	Blocks          int
	Duration        time.Duration
}

// DecodeFailed reports whether any frame failed to decode.
func (o Outcome) DecodeFailed() bool {
	return o.DecodeFailures > 0
}

// Pipeline runs benchmarks and streams their decoded results. It keeps no
// per-run state, so one Pipeline may start any number of runs.
type Pipeline struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// NewPipeline creates a Pipeline. m may be nil.
func NewPipeline(logger *slog.Logger, m *metrics.Metrics) *Pipeline {
	return &Pipeline{Logger: logger, Metrics: m}
}

// Run is one in-flight benchmark execution.
type Run struct {
	records chan Result
	done    chan struct{}
	cancel  context.CancelFunc

	outcome Outcome
	err     error
}

// Start launches the benchmark on a background goroutine and returns
// immediately. Results must be consumed through Records, Collect or Wait.
func (p *Pipeline) Start(ctx context.Context, cfg RunConfig) *Run {
	var cancel context.CancelFunc
	if cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	r := &Run{
		records: make(chan Result),
		done:    make(chan struct{}),
		cancel:  cancel,
	}

	queue := make(chan Result)
	go forward(queue, r.records)

	go func() {
		defer close(r.done)
		defer cancel()

		r.outcome, r.err = p.ingest(ctx, cfg, queue)
		close(queue)
	}()

	return r
}

// Ingest starts a run and delivers each record to onRecord and the final
// outcome to onComplete, both from a single goroutine and in order.
// onComplete is called exactly once.
func (p *Pipeline) Ingest(
	ctx context.Context,
	cfg RunConfig,
	onRecord func(Result),
	onComplete func(Outcome, error),
) *Run {
	r := p.Start(ctx, cfg)

	go func() {
		outcome, err := r.Collect(onRecord)
		if onComplete != nil {
			onComplete(outcome, err)
		}
	}()

	return r
}

// Records yields decoded results in arrival order and is closed once the
// run has delivered everything.
func (r *Run) Records() <-chan Result {
	return r.records
}

// Done is closed when the benchmark has exited and its output has been
// fully processed.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Cancel kills the benchmark. The run still completes through the usual
// path and reports a context error.
func (r *Run) Cancel() {
	r.cancel()
}

// Collect drains Records, calling fn for each result on the caller's
// goroutine, and returns the outcome once the run is complete.
func (r *Run) Collect(fn func(Result)) (Outcome, error) {
	for res := range r.records {
		if fn != nil {
			fn(res)
		}
	}

	<-r.done

	return r.outcome, r.err
}

// Wait discards undelivered records and returns the outcome.
func (r *Run) Wait() (Outcome, error) {
	return r.Collect(nil)
}

func (p *Pipeline) ingest(
	ctx context.Context,
	cfg RunConfig,
	emit chan<- Result,
) (out Outcome, err error) {
	start := time.Now()
	logger := p.Logger.With(slog.String("benchmark", filepath.Base(cfg.Executable)))

	p.Metrics.RunStarted()

	defer func() {
		out.Duration = time.Since(start)
		p.Metrics.RunFinished(outcomeLabel(ctx, err), out.Duration)

		if err != nil {
			logger.Error("benchmark failed",
				slog.String("error", err.Error()),
				slog.Int("records", len(out.Results)),
				slog.Duration("wall_time", out.Duration),
			)

			return
		}

		logger.Info("benchmark finished",
			slog.Int("records", len(out.Results)),
			slog.Int("decode_failures", out.DecodeFailures),
			slog.Int("malformed_frames", out.MalformedFrames),
			slog.Duration("wall_time", out.Duration),
		)
	}()

	proc, err := Start(ctx, cfg.StartConfig, logger)
	if err != nil {
		return out, err
	}

	deliver := func(res Result) {
		out.Results = append(out.Results, res)
		p.Metrics.ObserveRecord()
		emit <- res
	}

	decodeObject := func(fr frame.Frame) {
		res, err := Decode(fr.Text)
		if err != nil {
			out.DecodeFailures++
			p.Metrics.ObserveDecodeFailure()
			logger.Warn("skipping undecodable record",
				slog.String("frame", fr.Text),
				slog.String("error", err.Error()),
			)

			return
		}

		deliver(res)
	}

	framer := &frame.Framer{
		Warn: func(w frame.Warning) {
			out.MalformedFrames++
			p.Metrics.ObserveMalformed(w.Reason.String())
			logger.Warn("malformed benchmark output",
				slog.String("reason", w.Reason.String()),
				slog.String("text", w.Text),
			)
		},
		Noise: func(line string) {
			logger.Debug("benchmark output", slog.String("line", line))
		},
	}

	// Frames that close after an array block wait with it until the exit
	// code is known, so delivery order stays equal to closing order.
	var pending []frame.Frame

	scanErr := frame.Scan(proc.Output(), framer, func(fr frame.Frame) error {
		p.Metrics.ObserveFrame(fr.Kind.String())
		logger.Debug("frame", slog.String("kind", fr.Kind.String()))

		if fr.Kind == frame.Array || len(pending) > 0 {
			pending = append(pending, fr)

			return nil
		}

		decodeObject(fr)

		return nil
	})

	exitCode, waitErr := proc.Wait()
	out.ExitCode = exitCode

	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, fmt.Errorf("benchmark run interrupted: %w", ctxErr)
	}

	unterminated := errors.Is(scanErr, frame.ErrUnterminatedBlock)
	if scanErr != nil && !unterminated {
		return out, fmt.Errorf("read benchmark output: %w", scanErr)
	}

	if waitErr != nil {
		return out, waitErr
	}

	for _, fr := range pending {
		if fr.Kind == frame.Object {
			decodeObject(fr)

			continue
		}

		out.Blocks++

		status := exitCode
		if status == 0 && fr.StatusValid {
			status = fr.Status
		}

		if status != 0 {
			return out, &ProcessError{ExitCode: status}
		}

		results, err := DecodeArray(fr.Text)
		if err != nil {
			out.DecodeFailures++
			p.Metrics.ObserveDecodeFailure()

			return out, err
		}

		for _, res := range results {
			deliver(res)
		}
	}

	if exitCode != 0 {
		return out, &ProcessError{ExitCode: exitCode}
	}

	if unterminated {
		return out, &DecodeError{Err: ErrBlockNotTerminated}
	}

	return out, nil
}

func outcomeLabel(ctx context.Context, err error) string {
	var (
		spawnErr   *SpawnError
		processErr *ProcessError
		decodeErr  *DecodeError
	)

	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case ctx.Err() != nil:
		return metrics.OutcomeInterrupted
	case errors.As(err, &spawnErr):
		return metrics.OutcomeSpawnError
	case errors.As(err, &processErr):
		return metrics.OutcomeProcessFail
	case errors.As(err, &decodeErr):
		return metrics.OutcomeDecodeError
	default:
		return metrics.OutcomeIOError
	}
}

// forward relays results from in to out through an unbounded queue so the
// ingest loop never waits on a slow consumer. out is closed after in is
// closed and drained.
func forward(in <-chan Result, out chan<- Result) {
	defer close(out)

	var queue []Result

	for in != nil || len(queue) > 0 {
		var (
			send chan<- Result
			next Result
		)

		if len(queue) > 0 {
			send = out
			next = queue[0]
		}

		select {
		case res, ok := <-in:
			if !ok {
				in = nil

				continue
			}

			queue = append(queue, res)
		case send <- next:
			queue[0] = Result{}
			queue = queue[1:]
		}
	}
}
