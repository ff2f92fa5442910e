package protocol

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/ajitpratap0/rsloader/pkg/errors"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ordersInput = `{"type":"SCHEMA","stream":"public-orders","schema":{"properties":{"id":{"type":["integer"]},"amt":{"type":["null","integer"]}}},"key_properties":["ID"]}
{"type":"RECORD","stream":"public-orders","record":{"id":9007199254740993,"amt":10},"time_extracted":"2024-03-01T10:00:00.5Z"}

{"type":"STATE","value":{"bookmarks":{"public-orders":{"lsn":42}}}}
{"type":"ACTIVATE_VERSION","stream":"public-orders","version":3}
`

func TestReaderDecodesAllMessageTypes(t *testing.T) {
	r := NewReader(strings.NewReader(ordersInput))

	ev, err := r.Next()
	require.NoError(t, err)
	schema, ok := ev.(SchemaEvent)
	require.True(t, ok)
	assert.Equal(t, "public-orders", schema.Stream)
	assert.Equal(t, []string{"id"}, schema.KeyProperties)
	assert.Contains(t, schema.Schema, "properties")
	assert.Equal(t, 1, schema.Line())

	ev, err = r.Next()
	require.NoError(t, err)
	rec := ev.(RecordEvent)
	id, ok := rec.Record["id"].(json.Number)
	require.True(t, ok, "numbers stay json.Number")
	assert.Equal(t, "9007199254740993", id.String())
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 500_000_000, time.UTC), rec.TimeExtracted)

	ev, err = r.Next()
	require.NoError(t, err)
	cp := ev.(CheckpointRequest)
	assert.JSONEq(t, `{"bookmarks":{"public-orders":{"lsn":42}}}`, string(cp.Position))
	assert.Equal(t, 4, cp.Line(), "blank lines still count")

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, ActivateVersion{header: header{line: 5}, Stream: "public-orders", Version: 3}, ev)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReaderLastLineWithoutNewline(t *testing.T) {
	r := NewReader(strings.NewReader(`{"type":"STATE","value":{"a":1}}`))
	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, TypeState, ev.Type())

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestReaderLongLine(t *testing.T) {
	long := strings.Repeat("x", 3<<20)
	r := NewReader(strings.NewReader(`{"type":"RECORD","stream":"s","record":{"blob":"` + long + `"}}` + "\n"))
	ev, err := r.Next()
	require.NoError(t, err)
	assert.Len(t, ev.(RecordEvent).Record["blob"], len(long))
}

func TestReaderErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"not json", `{"type":`, "unable to parse"},
		{"missing type", `{"stream":"s"}`, "missing required key 'type'"},
		{"unknown type", `{"type":"BATCH"}`, "unknown message type BATCH"},
		{"record without stream", `{"type":"RECORD","record":{}}`, "missing required key 'stream'"},
		{"record without record", `{"type":"RECORD","stream":"s"}`, "missing required key 'record'"},
		{"schema without keys", `{"type":"SCHEMA","stream":"s","schema":{}}`, "key_properties"},
		{"state without value", `{"type":"STATE"}`, "missing required key 'value'"},
		{"bad time_extracted", `{"type":"RECORD","stream":"s","record":{},"time_extracted":"yesterday"}`, "time_extracted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader(strings.NewReader(tt.input + "\n")).Next()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeProtocol))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
