// Package frame defines the wire protocol for the streaming chat relay.
//
// Each frame travels as one server-sent-event record: a "data: " field
// carrying a JSON object {type, data, id?}, terminated by a blank line.
// Encoding the payload as JSON keeps literal newlines and the record
// delimiter inert inside fragments.
package frame

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type identifies a frame variant. The set is closed: a stream consists
// of one metadata frame, zero or more content frames, and exactly one
// terminal frame (done or error).
type Type string

const (
	TypeMetadata Type = "metadata"
	TypeContent  Type = "content"
	TypeDone     Type = "done"
	TypeError    Type = "error"
)

// Prefix is the SSE field marker each record begins with.
const Prefix = "data: "

// ErrMalformed is returned by Decode for records that are not valid
// frames. Consumers skip such records rather than aborting the stream.
var ErrMalformed = errors.New("frame: malformed record")

// Metadata is the payload of the first frame on every opened stream.
type Metadata struct {
	RequestID string    `json:"requestId"`
	Timestamp time.Time `json:"timestamp"`
	Model     string    `json:"model"`
	Provider  string    `json:"provider"`
}

// Frame is one decoded wire frame. Exactly one variant applies:
// Meta is set for TypeMetadata; Text holds the fragment for TypeContent
// and the message for TypeError; TypeDone carries nothing.
type Frame struct {
	Type Type
	ID   string
	Meta *Metadata
	Text string
}

// NewMetadata builds the opening frame of a stream.
func NewMetadata(meta Metadata) Frame {
	m := meta
	return Frame{Type: TypeMetadata, ID: meta.RequestID, Meta: &m}
}

// NewContent builds one fragment frame. The id carries the request id,
// optionally suffixed with a sequence number for correlation.
func NewContent(id, text string) Frame {
	return Frame{Type: TypeContent, ID: id, Text: text}
}

// NewDone builds the terminal success frame.
func NewDone(id string) Frame {
	return Frame{Type: TypeDone, ID: id}
}

// NewError builds the terminal failure frame.
func NewError(id, message string) Frame {
	return Frame{Type: TypeError, ID: id, Text: message}
}

// RequestID returns the request id a frame correlates to. Only content
// frame ids carry the "-<seq>" suffix; every other frame's id is the
// request id itself.
func (f Frame) RequestID() string {
	if f.Meta != nil {
		return f.Meta.RequestID
	}
	if f.Type == TypeContent {
		if i := lastDash(f.ID); i >= 0 {
			return f.ID[:i]
		}
	}
	return f.ID
}

func lastDash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '-' {
			return i
		}
	}
	return -1
}

type wireFrame struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
	ID   string          `json:"id,omitempty"`
}

// Encode serializes a frame into a complete wire record, including the
// field marker and the blank-line separator.
func Encode(f Frame) ([]byte, error) {
	var data []byte
	var err error

	switch f.Type {
	case TypeMetadata:
		if f.Meta == nil {
			return nil, fmt.Errorf("frame: metadata frame without metadata")
		}
		data, err = json.Marshal(f.Meta)
	case TypeContent, TypeError:
		data, err = json.Marshal(f.Text)
	case TypeDone:
		data = []byte(`""`)
	default:
		return nil, fmt.Errorf("frame: unknown frame type %q", f.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("frame: encode payload: %w", err)
	}

	body, err := json.Marshal(wireFrame{Type: f.Type, Data: data, ID: f.ID})
	if err != nil {
		return nil, fmt.Errorf("frame: encode frame: %w", err)
	}

	record := make([]byte, 0, len(Prefix)+len(body)+2)
	record = append(record, Prefix...)
	record = append(record, body...)
	record = append(record, '\n', '\n')
	return record, nil
}

// Decode parses the JSON body of one record (the text after the field
// marker) into a Frame. Unknown types and unparsable payloads yield
// ErrMalformed.
func Decode(data []byte) (Frame, error) {
	var wf wireFrame
	if err := json.Unmarshal(data, &wf); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	f := Frame{Type: wf.Type, ID: wf.ID}

	switch wf.Type {
	case TypeMetadata:
		var meta Metadata
		if err := json.Unmarshal(wf.Data, &meta); err != nil {
			return Frame{}, fmt.Errorf("%w: metadata payload: %v", ErrMalformed, err)
		}
		if meta.RequestID == "" {
			return Frame{}, fmt.Errorf("%w: metadata without request id", ErrMalformed)
		}
		f.Meta = &meta
		if f.ID == "" {
			f.ID = meta.RequestID
		}
	case TypeContent, TypeError:
		if err := json.Unmarshal(wf.Data, &f.Text); err != nil {
			return Frame{}, fmt.Errorf("%w: text payload: %v", ErrMalformed, err)
		}
	case TypeDone:
		// No payload.
	default:
		return Frame{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, wf.Type)
	}

	return f, nil
}
