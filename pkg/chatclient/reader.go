package chatclient

import (
	"bufio"
	"io"
	"strings"

	"github.com/streamrelay/chat-relay/pkg/frame"
)

// maxRecordBytes bounds a single wire record; fragments are tokens, so
// this is generous.
const maxRecordBytes = 1024 * 1024

// Reader decodes the relay's event stream incrementally: it splits the
// byte stream on blank-line record boundaries, strips the field marker,
// and parses each record into a frame.
type Reader struct {
	scanner *bufio.Scanner
	pending []string

	// Malformed, if set, observes records that failed to parse. Such
	// records are skipped; a single bad frame never aborts the stream.
	Malformed func(record string, err error)
}

// NewReader wraps a transport byte stream.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordBytes)
	return &Reader{scanner: scanner}
}

// Next returns the next well-formed frame. It blocks on transport
// reads, returns io.EOF at end of stream, and returns any other scan
// error as a transport failure.
func (r *Reader) Next() (frame.Frame, error) {
	for {
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return frame.Frame{}, err
			}
			// Flush a trailing record with no final blank line.
			if f, ok := r.flush(); ok {
				return f, nil
			}
			return frame.Frame{}, io.EOF
		}

		line := r.scanner.Text()
		if line == "" {
			if f, ok := r.flush(); ok {
				return f, nil
			}
			continue
		}

		if strings.HasPrefix(line, "data:") {
			r.pending = append(r.pending, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
		// Other SSE fields (comments, event:, id:) are ignored.
	}
}

func (r *Reader) flush() (frame.Frame, bool) {
	if len(r.pending) == 0 {
		return frame.Frame{}, false
	}
	record := strings.Join(r.pending, "\n")
	r.pending = nil

	f, err := frame.Decode([]byte(record))
	if err != nil {
		if r.Malformed != nil {
			r.Malformed(record, err)
		}
		return frame.Frame{}, false
	}
	return f, true
}
