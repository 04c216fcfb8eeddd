// Package harness launches the parallel benchmark executable and ingests the
// results it writes to its output stream.
package harness

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Result is one decoded benchmark record. Matrix is set only for
// matrix-style benchmarks that report a data type or dimensions.
type Result struct {
	Name                    string
	TimesExecuted           int
	AvgExecutionTimeSeconds float64
	Matrix                  *MatrixParams
}

// MatrixParams holds the fields matrix benchmarks add to a Result.
type MatrixParams struct {
	DataType   string
	MatrixDims string
}

type wireResult struct {
	Name                    string  `json:"name"`
	TimesExecuted           int     `json:"times_executed"`
	AvgExecutionTimeSeconds float64 `json:"avg_execution_time_seconds"`
	DataType                *string `json:"data_type,omitempty"`
	MatrixDims              *string `json:"matrix_dims,omitempty"`
}

// MarshalJSON writes the flat wire form used by the benchmark executable.
func (r Result) MarshalJSON() ([]byte, error) {
	w := wireResult{
		Name:                    r.Name,
		TimesExecuted:           r.TimesExecuted,
		AvgExecutionTimeSeconds: r.AvgExecutionTimeSeconds,
	}

	if r.Matrix != nil {
		w.DataType = &r.Matrix.DataType
		w.MatrixDims = &r.Matrix.MatrixDims
	}

	return json.Marshal(w)
}

// UnmarshalJSON reads the flat wire form. The presence of either
// data_type or matrix_dims makes the record a matrix record.
func (r *Result) UnmarshalJSON(data []byte) error {
	var w wireResult
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*r = Result{
		Name:                    w.Name,
		TimesExecuted:           w.TimesExecuted,
		AvgExecutionTimeSeconds: w.AvgExecutionTimeSeconds,
	}

	if w.DataType != nil || w.MatrixDims != nil {
		r.Matrix = &MatrixParams{}
		if w.DataType != nil {
			r.Matrix.DataType = *w.DataType
		}
		if w.MatrixDims != nil {
			r.Matrix.MatrixDims = *w.MatrixDims
		}
	}

	return nil
}

// Validate checks the invariants of a decoded record.
func (r Result) Validate() error {
	if r.TimesExecuted < 0 {
		return fmt.Errorf("times_executed is negative: %d", r.TimesExecuted)
	}

	if r.AvgExecutionTimeSeconds < 0 {
		return fmt.Errorf(
			"avg_execution_time_seconds is negative: %g",
			r.AvgExecutionTimeSeconds,
		)
	}

	return nil
}

// Category groups comparable results: matrix records by dimensions and
// element type, everything else by name.
func (r Result) Category() string {
	if r.Matrix == nil {
		return r.Name
	}

	return fmt.Sprintf("%s (%s)", r.Matrix.MatrixDims, r.Matrix.TypeName())
}

func (r Result) String() string {
	if r.Matrix == nil {
		return fmt.Sprintf("%s - %gs", r.Name, r.AvgExecutionTimeSeconds)
	}

	return fmt.Sprintf("%s (type: %s, matrix_dims: %s) - %gs",
		r.Name, r.Matrix.DataType, r.Matrix.MatrixDims,
		r.AvgExecutionTimeSeconds,
	)
}

// Itanium ABI codes emitted by typeid(T).name() on GCC and Clang.
var typeNames = map[string]string{
	"a": "signed char",
	"c": "char",
	"h": "unsigned char",
	"s": "short",
	"t": "unsigned short",
	"i": "int",
	"j": "unsigned int",
	"l": "long",
	"m": "unsigned long",
	"x": "long long",
	"y": "unsigned long long",
	"f": "float",
	"d": "double",
	"e": "long double",
}

// TypeName returns a readable element type. Mangled builtin names are
// expanded; anything else is returned as reported.
func (m *MatrixParams) TypeName() string {
	if name, ok := typeNames[m.DataType]; ok {
		return name
	}

	return m.DataType
}

// Dims parses MatrixDims of the form "<cols>x<rows>".
func (m *MatrixParams) Dims() (cols, rows int, err error) {
	c, r, ok := strings.Cut(m.MatrixDims, "x")
	if !ok {
		return 0, 0, fmt.Errorf("matrix dims %q: missing 'x'", m.MatrixDims)
	}

	cols, err = strconv.Atoi(strings.TrimSpace(c))
	if err != nil {
		return 0, 0, fmt.Errorf("matrix dims %q: columns: %w", m.MatrixDims, err)
	}

	rows, err = strconv.Atoi(strings.TrimSpace(r))
	if err != nil {
		return 0, 0, fmt.Errorf("matrix dims %q: rows: %w", m.MatrixDims, err)
	}

	return cols, rows, nil
}
