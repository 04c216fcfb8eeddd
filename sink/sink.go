// Package sink provides consumers for decoded benchmark results.
package sink

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/weiihann/parbench/harness"
)

// Sink receives results one at a time in arrival order.
type Sink interface {
	Write(r harness.Result) error
	Close() error
}

// CSVWriter writes results as CSV rows, flushing after every row so a
// crashed run keeps what it had.
type CSVWriter struct {
	w      *csv.Writer
	closer io.Closer
	mu     sync.Mutex
}

var csvHeader = []string{
	"name", "times_executed", "avg_execution_time_seconds",
	"data_type", "matrix_dims",
}

// NewCSVWriter writes the header row to w. If w is an io.Closer it is
// closed by Close.
func NewCSVWriter(w io.Writer) (*CSVWriter, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	c, _ := w.(io.Closer)

	return &CSVWriter{w: cw, closer: c}, nil
}

// Write writes a single result row.
func (c *CSVWriter) Write(r harness.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var dataType, dims string
	if r.Matrix != nil {
		dataType = r.Matrix.DataType
		dims = r.Matrix.MatrixDims
	}

	record := []string{
		r.Name,
		strconv.Itoa(r.TimesExecuted),
		strconv.FormatFloat(r.AvgExecutionTimeSeconds, 'g', -1, 64),
		dataType,
		dims,
	}

	if err := c.w.Write(record); err != nil {
		return err
	}

	c.w.Flush()

	return c.w.Error()
}

// Close flushes and closes the underlying writer.
func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.w.Flush()
	err := c.w.Error()

	if c.closer != nil {
		err = errors.Join(err, c.closer.Close())
	}

	return err
}

// JSONWriter writes results as JSON Lines.
type JSONWriter struct {
	enc    *json.Encoder
	closer io.Closer
	mu     sync.Mutex
}

// NewJSONWriter wraps w. If w is an io.Closer it is closed by Close.
func NewJSONWriter(w io.Writer) *JSONWriter {
	c, _ := w.(io.Closer)

	return &JSONWriter{enc: json.NewEncoder(w), closer: c}
}

// Write writes a single result as a JSON line.
func (j *JSONWriter) Write(r harness.Result) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.enc.Encode(r)
}

// Close closes the underlying writer.
func (j *JSONWriter) Close() error {
	if j.closer == nil {
		return nil
	}

	return j.closer.Close()
}

// Multi fans each result out to every sink in order. The first error
// stops the fan-out for that result.
type Multi []Sink

func (m Multi) Write(r harness.Result) error {
	for _, s := range m {
		if err := s.Write(r); err != nil {
			return err
		}
	}

	return nil
}

// Close closes every sink and joins their errors.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}

	return errors.Join(errs...)
}
