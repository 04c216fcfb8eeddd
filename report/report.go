// Package report formats benchmark results into comparison tables.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/weiihann/parbench/harness"
)

// Generate writes a markdown table for the given results. Each row's
// relative time is measured against the fastest result in its category.
func Generate(w io.Writer, results []harness.Result) error {
	if len(results) == 0 {
		return fmt.Errorf("no results to report")
	}

	fastest := findFastest(results)

	// Header.
	fmt.Fprintln(w, "## Benchmark Results")
	fmt.Fprintln(w)

	// Table header.
	fmt.Fprintln(w, "| Benchmark | Data Type | Matrix Dims | Runs "+
		"| Avg Time | Relative |")
	fmt.Fprintln(w, "|-----------|-----------|-------------|------"+
		"|----------|----------|")

	for _, r := range results {
		relative := 1.0
		if best := fastest[r.Category()]; best > 0 && r.AvgExecutionTimeSeconds > 0 {
			relative = r.AvgExecutionTimeSeconds / best
		}

		dataType, dims := "-", "-"
		if r.Matrix != nil {
			dataType = r.Matrix.TypeName()
			dims = r.Matrix.MatrixDims
		}

		fmt.Fprintf(w, "| %s | %s | %s | %d | %s | %.2fx |\n",
			r.Name,
			dataType,
			dims,
			r.TimesExecuted,
			formatSeconds(r.AvgExecutionTimeSeconds),
			relative,
		)
	}

	return nil
}

// GenerateJSON writes results as JSON to w.
func GenerateJSON(w io.Writer, results []harness.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if results == nil {
		results = []harness.Result{}
	}

	return enc.Encode(results)
}

// findFastest returns the lowest positive average time per category.
func findFastest(results []harness.Result) map[string]float64 {
	fastest := make(map[string]float64)

	for _, r := range results {
		if r.AvgExecutionTimeSeconds <= 0 {
			continue
		}

		cat := r.Category()
		if best, ok := fastest[cat]; !ok || r.AvgExecutionTimeSeconds < best {
			fastest[cat] = r.AvgExecutionTimeSeconds
		}
	}

	return fastest
}

func formatSeconds(s float64) string {
	switch {
	case s == 0:
		return "0s"
	case s < 1e-3:
		return fmt.Sprintf("%.1fµs", s*1e6)
	case s < 1:
		return fmt.Sprintf("%.2fms", s*1e3)
	case math.IsInf(s, 0) || math.IsNaN(s):
		return "-"
	default:
		return fmt.Sprintf("%.3fs", s)
	}
}
