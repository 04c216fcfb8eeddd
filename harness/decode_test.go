package harness

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDecode(t *testing.T) {
	input := `{
		"name": "blocked",
		"times_executed": 10,
		"avg_execution_time_seconds": 0.125,
		"data_type": "f",
		"matrix_dims": "512x512"
	}`

	result, err := Decode(input)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if result.Name != "blocked" {
		t.Errorf("name = %q, want blocked", result.Name)
	}
	if result.TimesExecuted != 10 {
		t.Errorf("times_executed = %d, want 10", result.TimesExecuted)
	}
	if result.AvgExecutionTimeSeconds != 0.125 {
		t.Errorf("avg_execution_time_seconds = %g, want 0.125",
			result.AvgExecutionTimeSeconds)
	}
	if result.Matrix == nil {
		t.Fatal("matrix params missing")
	}
	if result.Matrix.DataType != "f" {
		t.Errorf("data_type = %q, want f", result.Matrix.DataType)
	}
	if result.Matrix.MatrixDims != "512x512" {
		t.Errorf("matrix_dims = %q, want 512x512", result.Matrix.MatrixDims)
	}
}

func TestDecodePlainRecord(t *testing.T) {
	result, err := Decode(`{"name": "a", "times_executed": 1, "avg_execution_time_seconds": 0.5}`)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if result.Matrix != nil {
		t.Errorf("matrix = %+v, want nil", result.Matrix)
	}
}

func TestDecodeTrailingText(t *testing.T) {
	result, err := Decode("{\"name\": \"a\"},\n")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if result.Name != "a" {
		t.Errorf("name = %q, want a", result.Name)
	}
}

func TestDecodeInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", "not json at all"},
		{"empty", "  \n"},
		{"null", "null"},
		{"wrong type", `{"name": "a", "times_executed": "many"}`},
		{"fractional count", `{"name": "a", "times_executed": 1.5}`},
		{"negative count", `{"name": "a", "times_executed": -1}`},
		{"negative time", `{"name": "a", "avg_execution_time_seconds": -0.1}`},
		{"unbalanced", `{"name": "a"`},
		{"array", `[1, 2]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.input)
			if err == nil {
				t.Fatal("expected error")
			}

			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("error %T is not a *DecodeError", err)
			}
			if decodeErr.Frame != tt.input {
				t.Errorf("frame = %q, want %q", decodeErr.Frame, tt.input)
			}
		})
	}
}

func TestDecodeArray(t *testing.T) {
	input := `[
		{"name": "a", "times_executed": 1, "avg_execution_time_seconds": 0.5},
		{"name": "b", "times_executed": 2, "avg_execution_time_seconds": 1.5,
		 "data_type": "d", "matrix_dims": "64x64"}
	]`

	results, err := DecodeArray(input)
	if err != nil {
		t.Fatalf("DecodeArray failed: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Name != "a" || results[0].Matrix != nil {
		t.Errorf("first = %+v", results[0])
	}
	if results[1].Matrix == nil || results[1].Matrix.MatrixDims != "64x64" {
		t.Errorf("second = %+v", results[1])
	}
}

func TestDecodeArrayAllOrNothing(t *testing.T) {
	tests := []string{
		"",
		`[{"name": "a"}, {"name": 5}]`,
		`[{"name": "a"}, {"name": "b", "times_executed": -2}]`,
		`{"name": "a"}`,
		`[{"name": "a"}`,
		"null\n",
		"[null]\n",
		`[{"name": "a", "times_executed": 1, "avg_execution_time_seconds": 0.5}, null]`,
	}

	for _, input := range tests {
		results, err := DecodeArray(input)
		if err == nil {
			t.Errorf("DecodeArray(%q) succeeded, want error", input)
		}
		if results != nil {
			t.Errorf("DecodeArray(%q) returned %d results, want none", input, len(results))
		}
	}
}

func TestMatrixRoundTrip(t *testing.T) {
	orig, err := Decode(`{"name": "parallel", "times_executed": 20,
		"avg_execution_time_seconds": 0.0123456789,
		"data_type": "d", "matrix_dims": "1024x256"}`)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	again, err := Decode(string(data))
	if err != nil {
		t.Fatalf("second Decode failed: %v", err)
	}

	if again.Name != orig.Name ||
		again.TimesExecuted != orig.TimesExecuted ||
		again.AvgExecutionTimeSeconds != orig.AvgExecutionTimeSeconds {
		t.Errorf("base fields differ: %+v vs %+v", again, orig)
	}
	if again.Matrix == nil || *again.Matrix != *orig.Matrix {
		t.Errorf("matrix differs: %+v vs %+v", again.Matrix, orig.Matrix)
	}
}

func TestMarshalPlainOmitsMatrixFields(t *testing.T) {
	data, err := json.Marshal(Result{Name: "a", TimesExecuted: 1})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	if strings.Contains(string(data), "data_type") {
		t.Errorf("plain record encoded matrix fields: %s", data)
	}
}

func TestMatrixParams(t *testing.T) {
	m := &MatrixParams{DataType: "f", MatrixDims: "256x128"}

	if got := m.TypeName(); got != "float" {
		t.Errorf("TypeName() = %q, want float", got)
	}

	cols, rows, err := m.Dims()
	if err != nil {
		t.Fatalf("Dims failed: %v", err)
	}
	if cols != 256 || rows != 128 {
		t.Errorf("Dims() = %d, %d, want 256, 128", cols, rows)
	}

	msvc := &MatrixParams{DataType: "double", MatrixDims: "bad"}
	if got := msvc.TypeName(); got != "double" {
		t.Errorf("TypeName() = %q, want double", got)
	}
	if _, _, err := msvc.Dims(); err == nil {
		t.Error("expected error for malformed dims")
	}

	r := Result{Name: "naive", Matrix: m}
	if got := r.Category(); got != "256x128 (float)" {
		t.Errorf("Category() = %q, want 256x128 (float)", got)
	}
	if got := (Result{Name: "sum"}).Category(); got != "sum" {
		t.Errorf("Category() = %q, want sum", got)
	}
}
