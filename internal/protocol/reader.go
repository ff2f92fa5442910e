package protocol

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/ajitpratap0/rsloader/pkg/errors"
	"github.com/goccy/go-json"
)

const defaultBufferSize = 1 << 20

type envelope struct {
	Type               string          `json:"type"`
	Stream             string          `json:"stream"`
	Record             json.RawMessage `json:"record"`
	Schema             json.RawMessage `json:"schema"`
	KeyProperties      *[]string       `json:"key_properties"`
	BookmarkProperties []string        `json:"bookmark_properties"`
	Value              json.RawMessage `json:"value"`
	TimeExtracted      string          `json:"time_extracted"`
	Version            *int64          `json:"version"`
}

// Reader decodes messages from a line-oriented stream. Lines may be of any
// length; blank lines are skipped.
type Reader struct {
	r    *bufio.Reader
	line int
}

// NewReader creates a reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, defaultBufferSize)}
}

// Next returns the next event, or io.EOF at the end of input. Malformed input
// is a protocol error carrying the line number.
func (r *Reader) Next() (Event, error) {
	for {
		raw, err := r.r.ReadBytes('\n')
		if len(raw) == 0 && err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, errors.Wrap(err, errors.ErrorTypeProtocol, "failed to read input")
		}
		r.line++

		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			if err == io.EOF {
				return nil, io.EOF
			}
			continue
		}
		return r.decode(raw)
	}
}

func (r *Reader) decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, r.fail(err, "unable to parse message")
	}
	h := header{line: r.line}

	switch MessageType(env.Type) {
	case TypeRecord:
		if env.Stream == "" {
			return nil, r.fail(nil, "RECORD message is missing required key 'stream'")
		}
		rec, err := decodeObject(env.Record)
		if err != nil {
			return nil, r.fail(err, "invalid record").WithStream(env.Stream)
		}
		if rec == nil {
			return nil, r.fail(nil, "RECORD message is missing required key 'record'").WithStream(env.Stream)
		}
		ev := RecordEvent{header: h, Stream: env.Stream, Record: rec, Version: env.Version}
		if env.TimeExtracted != "" {
			t, err := time.Parse(time.RFC3339Nano, env.TimeExtracted)
			if err != nil {
				return nil, r.fail(err, "invalid time_extracted").WithStream(env.Stream)
			}
			ev.TimeExtracted = t.UTC()
		}
		return ev, nil

	case TypeSchema:
		if env.Stream == "" {
			return nil, r.fail(nil, "SCHEMA message is missing required key 'stream'")
		}
		if env.KeyProperties == nil {
			return nil, r.fail(nil, "key_properties field is required").WithStream(env.Stream)
		}
		s, err := decodeObject(env.Schema)
		if err != nil {
			return nil, r.fail(err, "invalid schema").WithStream(env.Stream)
		}
		if s == nil {
			return nil, r.fail(nil, "SCHEMA message is missing required key 'schema'").WithStream(env.Stream)
		}
		keys := make([]string, len(*env.KeyProperties))
		for i, k := range *env.KeyProperties {
			keys[i] = strings.ToLower(k)
		}
		return SchemaEvent{
			header:             h,
			Stream:             env.Stream,
			Schema:             s,
			KeyProperties:      keys,
			BookmarkProperties: env.BookmarkProperties,
		}, nil

	case TypeState:
		if len(env.Value) == 0 {
			return nil, r.fail(nil, "STATE message is missing required key 'value'")
		}
		return CheckpointRequest{header: h, Position: append(json.RawMessage(nil), env.Value...)}, nil

	case TypeActivateVersion:
		var v int64
		if env.Version != nil {
			v = *env.Version
		}
		return ActivateVersion{header: h, Stream: env.Stream, Version: v}, nil

	case "":
		return nil, r.fail(nil, "message is missing required key 'type'")

	default:
		return nil, r.fail(nil, "unknown message type "+env.Type)
	}
}

func (r *Reader) fail(err error, msg string) *errors.Error {
	var e *errors.Error
	if err != nil {
		e = errors.Wrap(err, errors.ErrorTypeProtocol, msg)
	} else {
		e = errors.New(errors.ErrorTypeProtocol, msg)
	}
	return e.WithDetail("line", r.line)
}

// decodeObject decodes a JSON object keeping numbers as json.Number. A
// missing or null object decodes to nil.
func decodeObject(raw json.RawMessage) (map[string]interface{}, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
