package schema

import (
	"strings"
	"testing"

	"github.com/ajitpratap0/rsloader/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ordersSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"id":         map[string]interface{}{"type": []interface{}{"integer"}},
			"amt":        map[string]interface{}{"type": []interface{}{"null", "number"}},
			"Note":       map[string]interface{}{"type": []interface{}{"null", "string"}, "maxLength": 20000},
			"created_at": map[string]interface{}{"type": "string", "format": "date-time"},
			"opens_at":   map[string]interface{}{"type": "string", "format": "time"},
			"flag":       map[string]interface{}{"anyOf": []interface{}{map[string]interface{}{"type": "null"}, map[string]interface{}{"type": "boolean"}}},
			"code":       map[string]interface{}{"type": []interface{}{"integer", "string"}},
			"tags":       map[string]interface{}{"type": "array"},
			"address": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"city": map[string]interface{}{"type": "string"},
				},
			},
		},
	}
}

func TestColumnsFromJSONSchema(t *testing.T) {
	columns, err := ColumnsFromJSONSchema(ordersSchema(), 0)
	require.NoError(t, err)

	want := []Column{
		{Name: "address", Type: TypeString, Length: LongVarcharLength},
		{Name: "amt", Type: TypeFloat},
		{Name: "code", Type: TypeString, Length: LongVarcharLength},
		{Name: "created_at", Type: TypeTimestamp},
		{Name: "flag", Type: TypeBoolean},
		{Name: "id", Type: TypeInteger},
		{Name: "note", Type: TypeString, Length: LongVarcharLength},
		{Name: "opens_at", Type: TypeString, Length: ShortVarcharLength},
		{Name: "tags", Type: TypeString, Length: LongVarcharLength},
	}
	assert.Equal(t, want, columns)
}

func TestColumnsFromJSONSchemaFlattens(t *testing.T) {
	columns, err := ColumnsFromJSONSchema(ordersSchema(), 1)
	require.NoError(t, err)

	names := make([]string, 0, len(columns))
	for _, c := range columns {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "address__city")
	assert.NotContains(t, names, "address")
}

func TestColumnsFromJSONSchemaDuplicate(t *testing.T) {
	s := map[string]interface{}{
		"properties": map[string]interface{}{
			"ID": map[string]interface{}{"type": "integer"},
			"id": map[string]interface{}{"type": "integer"},
		},
	}
	_, err := ColumnsFromJSONSchema(s, 0)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestFlattenRecord(t *testing.T) {
	rec := map[string]interface{}{
		"id":      1,
		"address": map[string]interface{}{"city": "Oslo", "geo": map[string]interface{}{"lat": 1.5}},
	}

	flat := FlattenRecord(rec, 1)
	assert.Equal(t, "Oslo", flat["address__city"])
	assert.Equal(t, map[string]interface{}{"lat": 1.5}, flat["address__geo"])
	assert.Equal(t, 1, flat["id"])

	unflat := FlattenRecord(rec, 0)
	assert.Contains(t, unflat, "address")
}

func TestFlattenKeyShortensLongPaths(t *testing.T) {
	parent := []string{strings.Repeat("very_long_parent_name_", 4), strings.Repeat("another_nested_object_", 3)}
	key := FlattenKey("leaf_value", parent)

	assert.Less(t, len(key), maxIdentifierLength)
	assert.True(t, strings.HasSuffix(key, "__leaf_value"))

	assert.Equal(t, "a__b", FlattenKey("b", []string{"a"}))
}

func TestParseStreamName(t *testing.T) {
	n, err := ParseStreamName("public-orders")
	require.NoError(t, err)
	assert.Equal(t, StreamName{Schema: "public", Table: "orders"}, n)

	n, err = ParseStreamName("db-public-order-items")
	require.NoError(t, err)
	assert.Equal(t, "order-items", n.Table)
	assert.Equal(t, "order_items", NormalizeTableName(n.Table))

	_, err = ParseStreamName(" ")
	assert.Error(t, err)
}
