package pipeline

import (
	"testing"

	"github.com/ajitpratap0/rsloader/pkg/errors"
	"github.com/ajitpratap0/rsloader/pkg/models"
	"github.com/ajitpratap0/rsloader/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ordersTable = schema.TableRef{Schema: "public", Name: "orders"}

func orderColumns() []schema.Column {
	return []schema.Column{
		{Name: "amt", Type: schema.TypeInteger},
		{Name: "id", Type: schema.TypeInteger},
	}
}

func rec(values map[string]models.Value) models.Record {
	r := models.NewRecord(len(values))
	for k, v := range values {
		r.Values[k] = v
	}
	return r
}

func TestBufferDrainKeepsArrivalOrder(t *testing.T) {
	buf := NewStreamBuffer("orders", ordersTable, orderColumns(), []string{"id"}, BufferConfig{RowThreshold: 3})

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, buf.Append(rec(map[string]models.Value{"id": models.Int(i), "amt": models.Int(i * 10)})))
	}
	assert.True(t, buf.ShouldFlush(false))

	snap := buf.Drain()
	require.NotNil(t, snap)
	assert.Equal(t, uint64(1), snap.Seq)
	assert.Equal(t, 3, snap.Rows())
	for i, r := range snap.Records {
		assert.Equal(t, int64(i+1), r.Get("id").Int())
	}
	assert.True(t, snap.Delta.Empty())

	assert.Equal(t, 0, buf.Len())
	assert.Equal(t, int64(0), buf.Bytes())
	assert.Nil(t, buf.Drain(), "an empty buffer drains to nothing")
	assert.Equal(t, uint64(1), buf.FlushSeq())
}

func TestBufferTracksDeltaBetweenDrains(t *testing.T) {
	buf := NewStreamBuffer("orders", ordersTable, orderColumns(), []string{"id"}, BufferConfig{})

	require.NoError(t, buf.Append(rec(map[string]models.Value{
		"id":   models.Int(1),
		"amt":  models.Float(1.5),
		"note": models.String("first"),
		"gone": models.Null(),
	})))

	col, ok := buf.Column("amt")
	require.True(t, ok)
	assert.Equal(t, schema.TypeFloat, col.Type)
	_, ok = buf.Column("gone")
	assert.False(t, ok, "null values do not declare columns")

	snap := buf.Drain()
	assert.Equal(t, []string{"note", "amt"}, snap.Delta.Names())

	require.NoError(t, buf.Append(rec(map[string]models.Value{"id": models.Int(2), "amt": models.Int(3)})))
	assert.True(t, buf.Drain().Delta.Empty(), "a narrower value needs no change")
}

func TestBufferKeepsShortStringColumns(t *testing.T) {
	cols := []schema.Column{
		{Name: "id", Type: schema.TypeInteger},
		{Name: "opens_at", Type: schema.TypeString, Length: schema.ShortVarcharLength},
	}
	buf := NewStreamBuffer("shops", ordersTable, cols, []string{"id"}, BufferConfig{})

	require.NoError(t, buf.Append(rec(map[string]models.Value{"id": models.Int(1), "opens_at": models.String("09:00:00")})))
	col, _ := buf.Column("opens_at")
	assert.Equal(t, schema.ShortVarcharLength, col.Length)
}

func TestBufferRejectsMissingKey(t *testing.T) {
	buf := NewStreamBuffer("orders", ordersTable, orderColumns(), []string{"id"}, BufferConfig{})

	err := buf.Append(rec(map[string]models.Value{"amt": models.Int(1)}))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	err = buf.Append(rec(map[string]models.Value{"id": models.Null()}))
	assert.Error(t, err)
	assert.Equal(t, 0, buf.Len())
}

func TestBufferShouldFlush(t *testing.T) {
	tests := []struct {
		name   string
		cfg    BufferConfig
		rows   int
		global bool
		want   bool
	}{
		{"empty never flushes", BufferConfig{RowThreshold: 1}, 0, true, false},
		{"below rows", BufferConfig{RowThreshold: 3}, 2, false, false},
		{"at rows", BufferConfig{RowThreshold: 3}, 3, false, true},
		{"bytes", BufferConfig{ByteThreshold: 1}, 1, false, true},
		{"global", BufferConfig{RowThreshold: 100}, 1, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := NewStreamBuffer("orders", ordersTable, orderColumns(), nil, tt.cfg)
			for i := 0; i < tt.rows; i++ {
				require.NoError(t, buf.Append(rec(map[string]models.Value{"id": models.Int(int64(i))})))
			}
			assert.Equal(t, tt.want, buf.ShouldFlush(tt.global))
		})
	}
}

func TestBufferRedeclare(t *testing.T) {
	buf := NewStreamBuffer("orders", ordersTable, orderColumns(), []string{"id"}, BufferConfig{})

	err := buf.Redeclare(append(orderColumns(), schema.Column{Name: "note", Type: schema.TypeString, Length: 10000}), []string{"id"})
	require.NoError(t, err)
	_, ok := buf.Column("note")
	assert.True(t, ok)

	err = buf.Redeclare([]schema.Column{{Name: "id", Type: schema.TypeInteger}}, []string{"id"})
	require.NoError(t, err)
	assert.Len(t, buf.State().Columns, 3, "columns are never dropped")

	err = buf.Redeclare(orderColumns(), []string{"amt"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestBufferRedeclareIgnoresKeyOrder(t *testing.T) {
	buf := NewStreamBuffer("lines", ordersTable, orderColumns(), []string{"id", "amt"}, BufferConfig{})

	require.NoError(t, buf.Redeclare(orderColumns(), []string{"amt", "id"}))
	assert.Equal(t, []string{"id", "amt"}, buf.PrimaryKeys())

	err := buf.Redeclare(orderColumns(), []string{"amt"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestBufferStateTracksPosition(t *testing.T) {
	buf := NewStreamBuffer("orders", ordersTable, orderColumns(), nil, BufferConfig{})
	r := rec(map[string]models.Value{"id": models.Int(1)})
	r.Position = `{"bookmark":1}`
	require.NoError(t, buf.Append(r))

	st := buf.State()
	assert.Equal(t, `{"bookmark":1}`, st.Position)
	assert.Equal(t, 1, st.Rows)
	assert.Positive(t, st.Bytes)
}
