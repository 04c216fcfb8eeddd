// Package frame splits benchmark process output into result frames.
//
// The benchmark executable writes either a stream of JSON objects, possibly
// pretty-printed over several lines and mixed with banner text, or a block
// opened by a "Running benchmarks" line and closed by a "STATUS:<code>" line
// whose body is a JSON array. A LineReader turns the raw byte stream into
// trimmed lines and a Framer turns lines into Frames.
package frame

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// LineReader yields trimmed lines from a byte stream. It holds no more than
// the current partial line.
type LineReader struct {
	r *bufio.Reader
}

// NewLineReader wraps r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: bufio.NewReader(r)}
}

// Next returns the next line with surrounding whitespace removed. Blank
// lines are returned as empty strings. At end of stream Next returns
// io.EOF; a final line without a trailing newline is returned first.
func (l *LineReader) Next() (string, error) {
	line, err := l.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return clean(line), nil
		}

		return "", err
	}

	return clean(line), nil
}

func clean(line string) string {
	return strings.ToValidUTF8(strings.TrimSpace(line), "�")
}
