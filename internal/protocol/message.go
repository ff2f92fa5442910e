// Package protocol reads the Singer line protocol: one JSON message per line,
// each with a "type" of SCHEMA, RECORD, STATE or ACTIVATE_VERSION.
package protocol

import (
	"time"

	"github.com/goccy/go-json"
)

// MessageType is the "type" field of a message.
type MessageType string

const (
	TypeSchema          MessageType = "SCHEMA"
	TypeRecord          MessageType = "RECORD"
	TypeState           MessageType = "STATE"
	TypeActivateVersion MessageType = "ACTIVATE_VERSION"
)

// Event is one decoded message.
type Event interface {
	Type() MessageType
	// Line is the 1-based input line the event came from.
	Line() int
}

type header struct{ line int }

func (h header) Line() int { return h.line }

// SchemaEvent declares or re-declares a stream's JSON schema and keys.
type SchemaEvent struct {
	header
	Stream             string
	Schema             map[string]interface{}
	KeyProperties      []string
	BookmarkProperties []string
}

func (SchemaEvent) Type() MessageType { return TypeSchema }

// RecordEvent carries one row. Numbers in Record are json.Number so integer
// precision survives decoding.
type RecordEvent struct {
	header
	Stream        string
	Record        map[string]interface{}
	TimeExtracted time.Time
	Version       *int64
}

func (RecordEvent) Type() MessageType { return TypeRecord }

// CheckpointRequest asks for Position to be acknowledged once everything
// before it is durable. Position is the STATE value as raw JSON.
type CheckpointRequest struct {
	header
	Position json.RawMessage
}

func (CheckpointRequest) Type() MessageType { return TypeState }

// ActivateVersion marks a new table version for a stream. It is accepted and
// otherwise ignored.
type ActivateVersion struct {
	header
	Stream  string
	Version int64
}

func (ActivateVersion) Type() MessageType { return TypeActivateVersion }
