package frame

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Protocol sentinels.
const (
	BlockStart   = "Running benchmarks"
	StatusPrefix = "STATUS:"
)

// ErrUnterminatedBlock is returned by Finish when the stream ended inside a
// block that was never closed by a STATUS line.
var ErrUnterminatedBlock = errors.New("block not terminated by STATUS line")

// Kind distinguishes object frames from array blocks.
type Kind int

const (
	// Object is a single balanced {...} span.
	Object Kind = iota
	// Array is the body of a "Running benchmarks" ... "STATUS:" block.
	Array
)

func (k Kind) String() string {
	switch k {
	case Object:
		return "object"
	case Array:
		return "array"
	default:
		return "unknown"
	}
}

// Frame is one delimited unit of benchmark output.
type Frame struct {
	Kind Kind
	Text string

	// Status is the code from the closing STATUS line of an Array frame.
	// StatusValid is false when that line could not be parsed.
	Status      int
	StatusValid bool
}

// Reason classifies a Warning.
type Reason int

const (
	// StrayClose is a '}' seen while no object was open.
	StrayClose Reason = iota
	// Truncated is an object still open when the stream ended.
	Truncated
	// BadStatus is a STATUS line whose code is not an integer.
	BadStatus
)

func (r Reason) String() string {
	switch r {
	case StrayClose:
		return "stray closing brace"
	case Truncated:
		return "truncated object"
	case BadStatus:
		return "unparsable status"
	default:
		return "unknown"
	}
}

// Warning reports malformed input the Framer recovered from.
type Warning struct {
	Reason Reason
	Text   string
}

func (w Warning) Error() string {
	return fmt.Sprintf("malformed frame: %s: %q", w.Reason, w.Text)
}

// Framer groups lines into Frames by tracking brace depth. Braces inside
// quoted strings are not counted. A Framer is not safe for concurrent use;
// each run owns its own.
type Framer struct {
	// Warn, if set, is called for every recovered malformation.
	Warn func(Warning)
	// Noise, if set, receives lines that are not part of any frame.
	Noise func(line string)

	buf      strings.Builder
	depth    int
	inside   bool
	inString bool
	escaped  bool
	inBlock  bool
}

// Push consumes one trimmed line and returns the frames it completed, in
// closing order.
func (f *Framer) Push(line string) []Frame {
	if f.inBlock {
		if strings.HasPrefix(line, StatusPrefix) {
			return []Frame{f.closeBlock(line)}
		}

		f.buf.WriteString(line)
		f.buf.WriteByte('\n')

		return nil
	}

	if !f.inside && line == BlockStart {
		f.inBlock = true
		f.buf.Reset()

		return nil
	}

	return f.scan(line)
}

// Finish ends the stream. An open object is dropped with a Truncated
// warning; an open block yields ErrUnterminatedBlock. The Framer is reset
// either way.
func (f *Framer) Finish() error {
	defer f.reset()

	if f.inBlock {
		return ErrUnterminatedBlock
	}

	if f.inside {
		f.warn(Truncated, f.buf.String())
	}

	return nil
}

func (f *Framer) scan(line string) []Frame {
	if line == "" {
		return nil
	}

	var frames []Frame

	// start is where the current object's text begins on this line, end is
	// one past the brace that closed an object on this line.
	start, end := 0, -1
	if !f.inside {
		start = -1
	}

	for i := 0; i < len(line); i++ {
		c := line[i]

		if !f.inside {
			switch c {
			case '{':
				if end >= 0 {
					frames = append(frames, f.emit(line[start:end]))
					end = -1
				}

				f.inside = true
				f.depth = 1
				start = i
			case '}':
				f.warn(StrayClose, line)
			}

			continue
		}

		if f.inString {
			switch {
			case f.escaped:
				f.escaped = false
			case c == '\\':
				f.escaped = true
			case c == '"':
				f.inString = false
			}

			continue
		}

		switch c {
		case '"':
			f.inString = true
		case '{':
			f.depth++
		case '}':
			f.depth--
			if f.depth == 0 {
				f.inside = false
				end = i + 1
			}
		}
	}

	// JSON strings cannot span lines.
	f.inString = false
	f.escaped = false

	switch {
	case end >= 0:
		frames = append(frames, f.emit(line[start:]))
	case f.inside:
		f.buf.WriteString(line[start:])
		f.buf.WriteByte('\n')
	case start < 0 && f.Noise != nil:
		f.Noise(line)
	}

	return frames
}

func (f *Framer) emit(segment string) Frame {
	f.buf.WriteString(segment)
	f.buf.WriteByte('\n')

	fr := Frame{Kind: Object, Text: f.buf.String()}
	f.buf.Reset()

	return fr
}

func (f *Framer) closeBlock(line string) Frame {
	raw := strings.TrimSpace(strings.TrimPrefix(line, StatusPrefix))

	code, err := strconv.Atoi(raw)
	if err != nil {
		f.warn(BadStatus, line)
	}

	fr := Frame{
		Kind:        Array,
		Text:        f.buf.String(),
		Status:      code,
		StatusValid: err == nil,
	}

	f.buf.Reset()
	f.inBlock = false

	return fr
}

func (f *Framer) warn(reason Reason, text string) {
	if f.Warn != nil {
		f.Warn(Warning{Reason: reason, Text: text})
	}
}

func (f *Framer) reset() {
	f.buf.Reset()
	f.depth = 0
	f.inside = false
	f.inString = false
	f.escaped = false
	f.inBlock = false
}

// Scan drives f over every line of r and calls fn for each completed frame.
// It returns the first error from reading, from fn, or from Finish.
func Scan(r io.Reader, f *Framer, fn func(Frame) error) error {
	lines := NewLineReader(r)

	for {
		line, err := lines.Next()
		if errors.Is(err, io.EOF) {
			return f.Finish()
		}

		if err != nil {
			f.reset()

			return fmt.Errorf("read line: %w", err)
		}

		for _, fr := range f.Push(line) {
			if err := fn(fr); err != nil {
				f.reset()

				return err
			}
		}
	}
}
