package models

import (
	"bytes"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var out map[string]interface{}
	require.NoError(t, dec.Decode(&out))
	return out
}

func TestFromJSON(t *testing.T) {
	doc := decode(t, `{"i": 7, "f": 1.5, "e": 1e3, "s": "007", "b": true, "n": null, "o": {"a": 1}, "l": [1, 2]}`)

	tests := []struct {
		field string
		kind  Kind
		text  string
	}{
		{"i", KindInt, "7"},
		{"f", KindFloat, "1.5"},
		{"e", KindFloat, "1000"},
		{"s", KindString, "007"},
		{"b", KindBool, "true"},
		{"n", KindNull, ""},
		{"o", KindNested, `{"a":1}`},
		{"l", KindNested, `[1,2]`},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			v, err := FromJSON(doc[tt.field])
			require.NoError(t, err)
			assert.Equal(t, tt.kind, v.Kind())
			assert.Equal(t, tt.text, v.Text())
		})
	}
}

func TestFromJSONRejectsUnknown(t *testing.T) {
	_, err := FromJSON(struct{}{})
	assert.Error(t, err)
}

func TestAsTimestamp(t *testing.T) {
	v := AsTimestamp(String("2024-03-01T10:20:30.123456Z"))
	require.Equal(t, KindTimestamp, v.Kind())
	assert.Equal(t, "2024-03-01 10:20:30.123456", v.Text())

	plain := AsTimestamp(String("not a time"))
	assert.Equal(t, KindString, plain.Kind())

	num := AsTimestamp(Int(3))
	assert.Equal(t, KindInt, num.Kind())
}

func TestValueEqual(t *testing.T) {
	now := time.Now()
	assert.True(t, Timestamp(now).Equal(Timestamp(now.In(time.FixedZone("x", 3600)))))
	assert.False(t, String("1").Equal(Int(1)))
	assert.True(t, Null().Equal(Null()))
}

func TestRecordGet(t *testing.T) {
	r := NewRecord(1)
	r.Values["id"] = Int(1)
	assert.Equal(t, int64(1), r.Get("id").Int())
	assert.True(t, r.Get("missing").IsNull())
	assert.Greater(t, r.Size(), int64(0))
}
