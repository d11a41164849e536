package frame

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrStreamClosed is returned when a frame is written after a terminal
// frame has already been sent.
var ErrStreamClosed = errors.New("frame: stream already terminated")

// Writer emits frames for one request over an HTTP streamed response,
// flushing every record so fragment delivery tracks upstream arrival.
// It enforces the protocol's terminal-frame rule: nothing is written
// after done or error.
type Writer struct {
	w         http.ResponseWriter
	flusher   http.Flusher
	requestID string
	seq       int
	closed    bool
}

// NewWriter prepares a streamed response: sets the SSE and
// anti-buffering headers and verifies the transport can flush.
func NewWriter(w http.ResponseWriter, requestID string) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("frame: response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	return &Writer{w: w, flusher: flusher, requestID: requestID}, nil
}

// Metadata writes the opening frame.
func (sw *Writer) Metadata(meta Metadata) error {
	return sw.write(NewMetadata(meta))
}

// Content writes one fragment frame with a sequence-suffixed id.
func (sw *Writer) Content(text string) error {
	f := NewContent(fmt.Sprintf("%s-%d", sw.requestID, sw.seq), text)
	if err := sw.write(f); err != nil {
		return err
	}
	sw.seq++
	return nil
}

// Done writes the terminal success frame and closes the writer.
func (sw *Writer) Done() error {
	if err := sw.write(NewDone(sw.requestID)); err != nil {
		return err
	}
	sw.closed = true
	return nil
}

// Error writes the terminal failure frame and closes the writer.
func (sw *Writer) Error(message string) error {
	if err := sw.write(NewError(sw.requestID, message)); err != nil {
		return err
	}
	sw.closed = true
	return nil
}

// Closed reports whether a terminal frame has been written.
func (sw *Writer) Closed() bool {
	return sw.closed
}

func (sw *Writer) write(f Frame) error {
	if sw.closed {
		return ErrStreamClosed
	}

	record, err := Encode(f)
	if err != nil {
		return err
	}
	if _, err := sw.w.Write(record); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}
