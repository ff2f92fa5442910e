package pipeline

import (
	"sort"
	"strings"

	"github.com/ajitpratap0/rsloader/pkg/errors"
	"github.com/ajitpratap0/rsloader/pkg/models"
	"github.com/ajitpratap0/rsloader/pkg/schema"
)

// BufferConfig holds the flush thresholds of a stream buffer.
type BufferConfig struct {
	// RowThreshold flushes once this many rows are buffered
	RowThreshold int
	// ByteThreshold flushes once the estimated size reaches this many bytes
	ByteThreshold int64
}

// StreamBuffer accumulates the records of one stream between flushes.
// Append and Drain are called from the ingestion goroutine only; Drain is
// additionally gated by the coordinator so that a stream never has two
// flushes in flight.
type StreamBuffer struct {
	cfg    BufferConfig
	stream string
	table  schema.TableRef
	keys   []string

	// columns is the stream's known shape: declared columns with every
	// observed addition and widening folded in. base is the shape at the
	// last drain; the difference is the pending delta.
	columns []schema.Column
	base    []schema.Column
	index   map[string]int

	records  []models.Record
	bytes    int64
	position string
	seq      uint64
}

// NewStreamBuffer creates a buffer for stream loading into table.
func NewStreamBuffer(stream string, table schema.TableRef, columns []schema.Column, keys []string, cfg BufferConfig) *StreamBuffer {
	cols := append([]schema.Column(nil), columns...)
	b := &StreamBuffer{
		cfg:     cfg,
		stream:  stream,
		table:   table,
		keys:    append([]string(nil), keys...),
		columns: cols,
		base:    append([]schema.Column(nil), cols...),
	}
	b.reindex()
	return b
}

func (b *StreamBuffer) reindex() {
	b.index = make(map[string]int, len(b.columns))
	for i, c := range b.columns {
		b.index[c.Name] = i
	}
}

// Stream returns the stream id.
func (b *StreamBuffer) Stream() string { return b.stream }

// Table returns the target table.
func (b *StreamBuffer) Table() schema.TableRef { return b.table }

// PrimaryKeys returns the declared key columns.
func (b *StreamBuffer) PrimaryKeys() []string { return append([]string(nil), b.keys...) }

// Len returns the number of buffered records.
func (b *StreamBuffer) Len() int { return len(b.records) }

// Bytes returns the estimated size of the buffered records.
func (b *StreamBuffer) Bytes() int64 { return b.bytes }

// FlushSeq returns how many snapshots have been drained.
func (b *StreamBuffer) FlushSeq() uint64 { return b.seq }

// Column returns the known column named name.
func (b *StreamBuffer) Column(name string) (schema.Column, bool) {
	if i, ok := b.index[name]; ok {
		return b.columns[i], true
	}
	return schema.Column{}, false
}

// Append buffers rec. Every primary key must be present and non-null.
// Columns the stream has not seen, or values that need a wider column, are
// folded into the pending delta; no DDL happens here.
func (b *StreamBuffer) Append(rec models.Record) error {
	for _, k := range b.keys {
		if rec.Get(k).IsNull() {
			return errors.Newf(errors.ErrorTypeValidation, "record is missing primary key column %q", k).
				WithStream(b.stream).
				WithTable(b.table.String())
		}
	}

	var changed []schema.Column
	for name, v := range rec.Values {
		if cur, known := b.Column(name); known && schema.Holds(cur, v) {
			continue
		}
		if obs, ok := schema.Observe(name, v); ok {
			changed = append(changed, obs)
		}
	}
	if len(changed) > 0 {
		sort.Slice(changed, func(i, j int) bool { return changed[i].Name < changed[j].Name })
		b.columns = schema.Apply(b.columns, schema.Diff(b.columns, changed))
		b.reindex()
	}

	b.records = append(b.records, rec)
	b.bytes += rec.Size()
	if rec.Position != "" {
		b.position = rec.Position
	}
	return nil
}

// ShouldFlush reports whether the buffer holds records and either crossed a
// threshold or global is set.
func (b *StreamBuffer) ShouldFlush(global bool) bool {
	if len(b.records) == 0 {
		return false
	}
	if global {
		return true
	}
	if b.cfg.RowThreshold > 0 && len(b.records) >= b.cfg.RowThreshold {
		return true
	}
	return b.cfg.ByteThreshold > 0 && b.bytes >= b.cfg.ByteThreshold
}

// Drain moves the buffered records and the pending delta into a snapshot,
// resets the buffer and advances the flush sequence. It returns nil when the
// buffer is empty.
func (b *StreamBuffer) Drain() *Snapshot {
	if len(b.records) == 0 {
		return nil
	}
	b.seq++
	snap := &Snapshot{
		Stream:      b.stream,
		Table:       b.table,
		Seq:         b.seq,
		Columns:     append([]schema.Column(nil), b.columns...),
		Delta:       schema.Diff(b.base, b.columns),
		PrimaryKeys: append([]string(nil), b.keys...),
		Records:     b.records,
		Bytes:       b.bytes,
	}
	b.base = append([]schema.Column(nil), b.columns...)
	b.records = nil
	b.bytes = 0
	return snap
}

// Redeclare applies a repeated schema declaration. The key set of a stream
// cannot change; columns are folded in, never removed or narrowed.
func (b *StreamBuffer) Redeclare(columns []schema.Column, keys []string) error {
	if !sameKeys(b.keys, keys) {
		return errors.New(errors.ErrorTypeValidation, "primary key of stream changed").
			WithStream(b.stream).
			WithTable(b.table.String()).
			WithDetail("previous", strings.Join(b.keys, ",")).
			WithDetail("declared", strings.Join(keys, ","))
	}
	b.columns = schema.Apply(b.columns, schema.Diff(b.columns, columns))
	b.reindex()
	return nil
}

// State returns a copy of the buffer's bookkeeping.
func (b *StreamBuffer) State() StreamState {
	return StreamState{
		Stream:      b.stream,
		Table:       b.table,
		Columns:     append([]schema.Column(nil), b.columns...),
		PrimaryKeys: append([]string(nil), b.keys...),
		Rows:        len(b.records),
		Bytes:       b.bytes,
		Position:    b.position,
		FlushSeq:    b.seq,
	}
}

// sameKeys compares key sets; declaration order does not matter.
func sameKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}
