// Package emulate writes deterministic benchmark output in the same shapes
// the parallel benchmark executable produces. It stands in for the real
// binary in tests and in the emit command.
package emulate

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	mrand "math/rand"

	"github.com/weiihann/parbench/harness"
)

// Shape selects the framing of the generated output.
type Shape string

const (
	// Streaming writes one JSON object per record.
	Streaming Shape = "streaming"
	// Block writes a "Running benchmarks" banner, a JSON array and a
	// STATUS line.
	Block Shape = "block"
)

// Config controls output generation.
type Config struct {
	Shape        Shape
	Benchmarks   []string
	Sizes        []int
	DataTypes    []string
	Runs         int
	Distribution string
	Seed         int64
	// Pretty spreads each object over several lines.
	Pretty bool
	// Banner interleaves non-JSON progress lines.
	Banner bool
	// Status is the code written on the STATUS line in block shape.
	Status int
	// Corrupt lists record indexes written as undecodable objects in
	// streaming shape.
	Corrupt []int
}

// Summary describes what was generated.
type Summary struct {
	Records   int
	Corrupted int
	Results   []harness.Result
}

// DefaultConfig mirrors the matrix multiplication suite of the benchmark.
func DefaultConfig() Config {
	return Config{
		Shape:        Streaming,
		Benchmarks:   []string{"naive", "transposed", "blocked", "parallel"},
		Sizes:        []int{128, 256, 512},
		DataTypes:    []string{"f", "d"},
		Runs:         10,
		Distribution: "uniform",
		Seed:         1,
		Pretty:       true,
	}
}

// Generator produces deterministic output from a Config.
type Generator struct {
	cfg Config
	rng *mrand.Rand
}

// NewGenerator creates a Generator from the given Config.
func NewGenerator(cfg Config) *Generator {
	return &Generator{
		cfg: cfg,
		rng: mrand.New(mrand.NewSource(cfg.Seed)),
	}
}

// Generate writes benchmark output to w and returns a Summary. Results in
// the summary exclude corrupted records.
func (g *Generator) Generate(w io.Writer) (Summary, error) {
	var summary Summary

	corrupt := make(map[int]bool, len(g.cfg.Corrupt))
	for _, i := range g.cfg.Corrupt {
		corrupt[i] = true
	}

	records := g.records()

	if g.cfg.Shape == Block {
		return g.writeBlock(w, records, summary)
	}

	for i, r := range records {
		if g.cfg.Banner {
			if _, err := fmt.Fprintf(w, "Measuring %s\n\n", r.Category()); err != nil {
				return summary, fmt.Errorf("write banner: %w", err)
			}
		}

		if corrupt[i] {
			if _, err := fmt.Fprintf(w,
				"{\n\"name\": %q,\n\"times_executed\": \"many\"\n}\n", r.Name,
			); err != nil {
				return summary, fmt.Errorf("write record %d: %w", i, err)
			}

			summary.Corrupted++

			continue
		}

		if err := g.writeValue(w, r); err != nil {
			return summary, fmt.Errorf("write record %d: %w", i, err)
		}

		summary.Records++
		summary.Results = append(summary.Results, r)
	}

	if g.cfg.Banner {
		if _, err := fmt.Fprintln(w, "All benchmarks done"); err != nil {
			return summary, fmt.Errorf("write banner: %w", err)
		}
	}

	return summary, nil
}

func (g *Generator) writeBlock(
	w io.Writer,
	records []harness.Result,
	summary Summary,
) (Summary, error) {
	if _, err := fmt.Fprintln(w, "Running benchmarks"); err != nil {
		return summary, fmt.Errorf("write banner: %w", err)
	}

	if err := g.writeValue(w, records); err != nil {
		return summary, fmt.Errorf("write block: %w", err)
	}

	if _, err := fmt.Fprintf(w, "STATUS:%d\n", g.cfg.Status); err != nil {
		return summary, fmt.Errorf("write status: %w", err)
	}

	summary.Records = len(records)
	summary.Results = records

	return summary, nil
}

func (g *Generator) writeValue(w io.Writer, v any) error {
	var (
		data []byte
		err  error
	)

	if g.cfg.Pretty {
		data, err = json.MarshalIndent(v, "", "    ")
	} else {
		data, err = json.Marshal(v)
	}

	if err != nil {
		return err
	}

	data = append(data, '\n')
	_, err = w.Write(data)

	return err
}

func (g *Generator) records() []harness.Result {
	var out []harness.Result

	for _, size := range g.cfg.Sizes {
		for _, dt := range g.cfg.DataTypes {
			for bi, name := range g.cfg.Benchmarks {
				out = append(out, harness.Result{
					Name:                    name,
					TimesExecuted:           g.cfg.Runs,
					AvgExecutionTimeSeconds: g.avgTime(size, bi),
					Matrix: &harness.MatrixParams{
						DataType:   dt,
						MatrixDims: fmt.Sprintf("%dx%d", size, size),
					},
				})
			}
		}
	}

	return out
}

// avgTime models an O(n^3) kernel whose later variants are faster, with
// noise drawn from the configured distribution.
func (g *Generator) avgTime(size, variant int) float64 {
	n := float64(size)
	base := n * n * n * 1e-9 / float64(variant+1)

	var noise float64

	switch g.cfg.Distribution {
	case "power-law":
		alpha := 3.0
		noise = 1/math.Pow(1-g.rng.Float64(), 1/alpha) - 1
	case "exponential":
		noise = -math.Log(1-g.rng.Float64()) / 10
	default:
		noise = g.rng.Float64() * 0.1
	}

	return math.Round(base*(1+noise)*1e6) / 1e6
}
