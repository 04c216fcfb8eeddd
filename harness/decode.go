package harness

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var errEmptyFrame = errors.New("empty frame")

// Decode parses one object frame into a Result. Text after the first JSON
// value is ignored so a trailing separator on the closing line does not
// fail the record.
func Decode(text string) (Result, error) {
	dec := json.NewDecoder(strings.NewReader(text))

	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			err = errEmptyFrame
		}

		return Result{}, &DecodeError{Frame: text, Err: err}
	}

	r, err := decodeRaw(raw)
	if err != nil {
		return Result{}, &DecodeError{Frame: text, Err: err}
	}

	return r, nil
}

func decodeRaw(raw json.RawMessage) (Result, error) {
	if isNull(raw) {
		return Result{}, errors.New("null record")
	}

	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return Result{}, err
	}

	if err := r.Validate(); err != nil {
		return Result{}, err
	}

	return r, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// DecodeArray parses a block body as a JSON array of Results. It is all or
// nothing: any invalid element fails the whole block.
func DecodeArray(text string) ([]Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &DecodeError{Frame: text, Err: errEmptyFrame}
	}

	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(text), &elems); err != nil {
		return nil, &DecodeError{Frame: text, Err: err}
	}

	if elems == nil {
		return nil, &DecodeError{Frame: text, Err: errors.New("null block")}
	}

	results := make([]Result, 0, len(elems))
	for i, raw := range elems {
		r, err := decodeRaw(raw)
		if err != nil {
			return nil, &DecodeError{
				Frame: text,
				Err:   fmt.Errorf("element %d: %w", i, err),
			}
		}

		results = append(results, r)
	}

	return results, nil
}
