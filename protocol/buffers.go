package protocol

import (
	"bytes"
	"errors"
	"strings"
)

// ErrLineTooLong is returned when a line exceeds MaxLineLength. The
// oversized line is dropped up to its terminator.
var ErrLineTooLong = errors.New("line too long")

// LineBuffer frames a byte stream into command lines. Lines end at '\n';
// a trailing '\r' and surrounding whitespace are stripped.
type LineBuffer struct {
	data       []byte
	max        int
	discarding bool
}

// NewLineBuffer creates a LineBuffer accepting lines up to max bytes
func NewLineBuffer(max int) *LineBuffer {
	if max <= 0 {
		max = MaxLineLength
	}
	return &LineBuffer{data: make([]byte, 0, 256), max: max}
}

// Feed appends data and returns the lines it completed. Blank lines are
// returned as empty strings. If a line overflowed, the remaining complete
// lines are still returned together with ErrLineTooLong.
func (b *LineBuffer) Feed(data []byte) ([]string, error) {
	var lines []string
	var err error

	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			if !b.discarding {
				b.data = append(b.data, data...)
				if len(b.data) > b.max {
					b.data = b.data[:0]
					b.discarding = true
					err = ErrLineTooLong
				}
			}
			break
		}

		if b.discarding {
			b.discarding = false
		} else if len(b.data)+i > b.max {
			b.data = b.data[:0]
			err = ErrLineTooLong
		} else {
			b.data = append(b.data, data[:i]...)
			lines = append(lines, strings.TrimSpace(string(b.data)))
			b.data = b.data[:0]
		}
		data = data[i+1:]
	}
	return lines, err
}

// Pending returns the number of buffered bytes of the unterminated line
func (b *LineBuffer) Pending() int {
	return len(b.data)
}
