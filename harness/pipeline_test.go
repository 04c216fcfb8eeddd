package harness_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/parbench/emulate"
	"github.com/weiihann/parbench/harness"
	"github.com/weiihann/parbench/metrics"
)

// The test binary doubles as the benchmark executable: when this variable
// is set it writes the named scenario and exits.
const scenarioEnv = "PARBENCH_TEST_SCENARIO"

const blockRecord = `[{"name":"a","times_executed":1,"avg_execution_time_seconds":0.5}]`

func TestMain(m *testing.M) {
	if scenario := os.Getenv(scenarioEnv); scenario != "" {
		os.Exit(runScenario(scenario))
	}

	os.Exit(m.Run())
}

func streamingConfig() emulate.Config {
	cfg := emulate.DefaultConfig()
	cfg.Banner = true
	cfg.Seed = 7

	return cfg
}

func runScenario(name string) int {
	out := os.Stdout

	switch name {
	case "stream":
		if _, err := emulate.NewGenerator(streamingConfig()).Generate(out); err != nil {
			return 99
		}
		return 0

	case "stream-corrupt":
		cfg := streamingConfig()
		cfg.Corrupt = []int{2}
		if _, err := emulate.NewGenerator(cfg).Generate(out); err != nil {
			return 99
		}
		return 0

	case "stream-fail":
		fmt.Fprintln(out, `{"name": "first", "times_executed": 1, "avg_execution_time_seconds": 1}`)
		fmt.Fprintln(out, `{"name": "second", "times_executed": 1, "avg_execution_time_seconds": 2}`)
		fmt.Fprintln(os.Stderr, "kernel launch failed")
		return 3

	case "stderr":
		fmt.Fprintln(os.Stderr, `{"name": "from-stderr", "times_executed": 1, "avg_execution_time_seconds": 1}`)
		return 0

	case "block-ok":
		fmt.Fprint(out, "Running benchmarks\n"+blockRecord+"\nSTATUS:0\n")
		return 0

	case "block-status1":
		fmt.Fprint(out, "Running benchmarks\n"+blockRecord+"\nSTATUS:1\n")
		return 1

	case "block-status-only":
		fmt.Fprint(out, "Running benchmarks\n"+blockRecord+"\nSTATUS:4\n")
		return 0

	case "block-bad-json":
		fmt.Fprint(out, "Running benchmarks\n[{\"name\": }]\nSTATUS:0\n")
		return 0

	case "block-unterminated":
		fmt.Fprint(out, "Running benchmarks\n"+blockRecord+"\n")
		return 0

	case "mixed":
		fmt.Fprintln(out, `{"name": "before", "times_executed": 1, "avg_execution_time_seconds": 1}`)
		fmt.Fprint(out, "Running benchmarks\n"+blockRecord+"\nSTATUS:0\n")
		fmt.Fprintln(out, `{"name": "after", "times_executed": 1, "avg_execution_time_seconds": 1}`)
		return 0

	case "large":
		// Well beyond a pipe buffer.
		for i := 0; i < 5000; i++ {
			fmt.Fprintf(out,
				"{\"name\": \"r%d\", \"times_executed\": %d, \"avg_execution_time_seconds\": 0.001}\n",
				i, i)
		}
		return 0

	case "cwd":
		dir, _ := os.Getwd()
		name, _ := json.Marshal(dir)
		fmt.Fprintf(out, "{\"name\": %s}\n", name)
		return 0

	case "hang":
		fmt.Fprintln(out, `{"name": "only", "times_executed": 1, "avg_execution_time_seconds": 1}`)
		time.Sleep(time.Minute)
		return 0
	}

	fmt.Fprintf(os.Stderr, "unknown scenario %q\n", name)

	return 98
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func scenarioConfig(t *testing.T, scenario string) harness.RunConfig {
	t.Helper()

	exe, err := os.Executable()
	require.NoError(t, err)

	return harness.RunConfig{
		StartConfig: harness.StartConfig{
			Executable: exe,
			Dir:        t.TempDir(),
			Env:        []string{scenarioEnv + "=" + scenario},
			WaitDelay:  5 * time.Second,
		},
	}
}

func runScenarioCollect(
	t *testing.T,
	p *harness.Pipeline,
	cfg harness.RunConfig,
) ([]harness.Result, harness.Outcome, error) {
	t.Helper()

	var got []harness.Result
	outcome, err := p.Start(context.Background(), cfg).Collect(func(r harness.Result) {
		got = append(got, r)
	})

	return got, outcome, err
}

func TestStreamingRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	p := harness.NewPipeline(testLogger(), m)

	got, outcome, err := runScenarioCollect(t, p, scenarioConfig(t, "stream"))
	require.NoError(t, err)

	var want strings.Builder
	sum, err := emulate.NewGenerator(streamingConfig()).Generate(&want)
	require.NoError(t, err)

	require.Len(t, got, sum.Records)
	for i := range got {
		assert.Equal(t, sum.Results[i].Name, got[i].Name, "record %d", i)
		assert.Equal(t, sum.Results[i].AvgExecutionTimeSeconds, got[i].AvgExecutionTimeSeconds)
		assert.Equal(t, *sum.Results[i].Matrix, *got[i].Matrix)
	}

	assert.Equal(t, got, outcome.Results)
	assert.Equal(t, 0, outcome.ExitCode)
	assert.False(t, outcome.DecodeFailed())

	assert.Equal(t, float64(sum.Records), testutil.ToFloat64(m.Records))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues(metrics.OutcomeSuccess)))
}

func TestStreamingSkipsMalformedRecord(t *testing.T) {
	p := harness.NewPipeline(testLogger(), nil)

	got, outcome, err := runScenarioCollect(t, p, scenarioConfig(t, "stream-corrupt"))
	require.NoError(t, err)

	total := len(emulate.DefaultConfig().Benchmarks) *
		len(emulate.DefaultConfig().Sizes) *
		len(emulate.DefaultConfig().DataTypes)

	assert.Len(t, got, total-1)
	assert.Equal(t, 1, outcome.DecodeFailures)
	assert.True(t, outcome.DecodeFailed())
}

func TestStreamingNonZeroExitKeepsRecords(t *testing.T) {
	p := harness.NewPipeline(testLogger(), nil)

	got, outcome, err := runScenarioCollect(t, p, scenarioConfig(t, "stream-fail"))

	var processErr *harness.ProcessError
	require.ErrorAs(t, err, &processErr)
	assert.Equal(t, 3, processErr.ExitCode)
	assert.Equal(t, 3, outcome.ExitCode)

	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Name)
	assert.Equal(t, "second", got[1].Name)
}

func TestStderrIsMerged(t *testing.T) {
	p := harness.NewPipeline(testLogger(), nil)

	got, _, err := runScenarioCollect(t, p, scenarioConfig(t, "stderr"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "from-stderr", got[0].Name)
}

func TestWorkingDirectory(t *testing.T) {
	p := harness.NewPipeline(testLogger(), nil)
	cfg := scenarioConfig(t, "cwd")

	got, _, err := runScenarioCollect(t, p, cfg)
	require.NoError(t, err)
	require.Len(t, got, 1)

	want, err := filepath.EvalSymlinks(cfg.Dir)
	require.NoError(t, err)
	gotDir, err := filepath.EvalSymlinks(got[0].Name)
	require.NoError(t, err)
	assert.Equal(t, want, gotDir)
}

func TestBlockRun(t *testing.T) {
	p := harness.NewPipeline(testLogger(), nil)

	got, outcome, err := runScenarioCollect(t, p, scenarioConfig(t, "block-ok"))
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, harness.Result{
		Name:                    "a",
		TimesExecuted:           1,
		AvgExecutionTimeSeconds: 0.5,
	}, got[0])
	assert.Equal(t, 1, outcome.Blocks)
}

func TestBlockFailures(t *testing.T) {
	tests := []struct {
		scenario string
		exitCode int
	}{
		{"block-status1", 1},
		{"block-status-only", 4},
	}

	for _, tt := range tests {
		t.Run(tt.scenario, func(t *testing.T) {
			p := harness.NewPipeline(testLogger(), nil)

			got, _, err := runScenarioCollect(t, p, scenarioConfig(t, tt.scenario))

			var processErr *harness.ProcessError
			require.ErrorAs(t, err, &processErr)
			assert.Equal(t, tt.exitCode, processErr.ExitCode)
			assert.Empty(t, got)
		})
	}
}

func TestBlockDecodeErrorIsFatal(t *testing.T) {
	p := harness.NewPipeline(testLogger(), nil)

	got, outcome, err := runScenarioCollect(t, p, scenarioConfig(t, "block-bad-json"))

	var decodeErr *harness.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Empty(t, got)
	assert.Equal(t, 1, outcome.DecodeFailures)
}

func TestBlockUnterminated(t *testing.T) {
	p := harness.NewPipeline(testLogger(), nil)

	got, _, err := runScenarioCollect(t, p, scenarioConfig(t, "block-unterminated"))
	assert.ErrorIs(t, err, harness.ErrBlockNotTerminated)
	assert.Empty(t, got)
}

func TestMixedShapesKeepOrder(t *testing.T) {
	p := harness.NewPipeline(testLogger(), nil)

	got, _, err := runScenarioCollect(t, p, scenarioConfig(t, "mixed"))
	require.NoError(t, err)

	names := make([]string, len(got))
	for i, r := range got {
		names[i] = r.Name
	}
	assert.Equal(t, []string{"before", "a", "after"}, names)
}

func TestLargeOutputDoesNotDeadlock(t *testing.T) {
	p := harness.NewPipeline(testLogger(), nil)
	run := p.Start(context.Background(), scenarioConfig(t, "large"))

	// Let the child fill the pipe before anything is consumed.
	<-run.Done()

	count := 0
	outcome, err := run.Collect(func(r harness.Result) {
		assert.Equal(t, fmt.Sprintf("r%d", count), r.Name)
		count++
	})
	require.NoError(t, err)
	assert.Equal(t, 5000, count)
	assert.Len(t, outcome.Results, 5000)
}

func TestSpawnError(t *testing.T) {
	p := harness.NewPipeline(testLogger(), nil)

	cfg := harness.RunConfig{StartConfig: harness.StartConfig{
		Executable: "does-not-exist",
		Dir:        t.TempDir(),
	}}

	var (
		mu        sync.Mutex
		records   int
		completed int
		runErr    error
	)

	done := make(chan struct{})
	p.Ingest(context.Background(), cfg,
		func(harness.Result) {
			mu.Lock()
			records++
			mu.Unlock()
		},
		func(_ harness.Outcome, err error) {
			mu.Lock()
			completed++
			runErr = err
			mu.Unlock()
			close(done)
		},
	)

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("onComplete not called")
	}

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, 0, records)
	assert.Equal(t, 1, completed)

	var spawnErr *harness.SpawnError
	require.ErrorAs(t, runErr, &spawnErr)
	assert.Equal(t, filepath.Join(cfg.Dir, "does-not-exist"), spawnErr.Path)
}

func TestMissingWorkingDirectory(t *testing.T) {
	p := harness.NewPipeline(testLogger(), nil)

	cfg := scenarioConfig(t, "stream")
	cfg.Dir = filepath.Join(cfg.Dir, "missing")

	_, err := p.Start(context.Background(), cfg).Wait()

	var spawnErr *harness.SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestTimeoutKillsBenchmark(t *testing.T) {
	p := harness.NewPipeline(testLogger(), nil)

	cfg := scenarioConfig(t, "hang")
	cfg.Timeout = 500 * time.Millisecond

	start := time.Now()
	got, _, err := runScenarioCollect(t, p, cfg)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 30*time.Second)
	assert.LessOrEqual(t, len(got), 1)
}

func TestCancel(t *testing.T) {
	p := harness.NewPipeline(testLogger(), nil)
	run := p.Start(context.Background(), scenarioConfig(t, "hang"))

	first := <-run.Records()
	assert.Equal(t, "only", first.Name)

	run.Cancel()

	outcome, err := run.Wait()
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, outcome.Results, 1)
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
}
