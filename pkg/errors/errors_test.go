package errors

import (
	stderrors "errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "plain",
			err:  New(ErrorTypeValidation, "missing key"),
			want: "validation: missing key",
		},
		{
			name: "scoped",
			err:  New(ErrorTypeMigration, "add column").WithStream("s-t").WithTable("s.t"),
			want: "migration: add column [stream=s-t table=s.t]",
		},
		{
			name: "with cause",
			err:  Wrap(io.EOF, ErrorTypeProtocol, "read line").WithRows(3),
			want: "protocol: read line [rows=3]: EOF",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestWrapPreservesChain(t *testing.T) {
	base := New(ErrorTypeUpload, "put").WithTable("public.orders")
	wrapped := Wrap(base, ErrorTypeLoad, "flush")

	require.NotNil(t, wrapped)
	assert.Equal(t, "public.orders", wrapped.Table)
	assert.True(t, stderrors.Is(wrapped, base))
	assert.Equal(t, ErrorTypeLoad, TypeOf(wrapped))
	assert.Nil(t, Wrap(nil, ErrorTypeLoad, "noop"))
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, ErrorTypeInternal, TypeOf(io.EOF))
	assert.Equal(t, ErrorTypeConfig, TypeOf(New(ErrorTypeConfig, "bad")))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrorTypeQuery, "describe").WithDetail("schema", "public")
	assert.Equal(t, "public", err.Details["schema"])
	assert.NotEmpty(t, err.Stack)
}
