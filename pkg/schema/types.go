// Package schema describes target tables and how their columns evolve.
//
// Column types form a small widening lattice (see Widen). Stream schemas,
// observed record values and introspected warehouse tables are all reduced to
// the same Column form so they can be diffed into a Delta of added and widened
// columns. Cache holds the loader's view of every target table and serializes
// evolution per table.
package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// LogicalType is the warehouse-independent type of a column.
type LogicalType string

const (
	TypeBoolean   LogicalType = "boolean"
	TypeInteger   LogicalType = "integer"
	TypeFloat     LogicalType = "float"
	TypeTimestamp LogicalType = "timestamp"
	TypeString    LogicalType = "string"
)

// Varchar lengths used for string columns.
const (
	ShortVarcharLength   = 256
	DefaultVarcharLength = 10000
	LongVarcharLength    = 65535
)

// Column is a named, typed target column. Length is only meaningful for
// TypeString.
type Column struct {
	Name   string      `json:"name" yaml:"name"`
	Type   LogicalType `json:"type" yaml:"type"`
	Length int         `json:"length,omitempty" yaml:"length,omitempty"`
}

// SQLType renders the column type as warehouse DDL.
func (c Column) SQLType() string {
	switch c.Type {
	case TypeBoolean:
		return "boolean"
	case TypeInteger:
		return "bigint"
	case TypeFloat:
		return "double precision"
	case TypeTimestamp:
		return "timestamp without time zone"
	default:
		length := c.Length
		if length <= 0 {
			length = DefaultVarcharLength
		}
		return fmt.Sprintf("character varying(%d)", length)
	}
}

func (c Column) String() string {
	return c.Name + " " + c.SQLType()
}

// ColumnFromSQL maps an introspected warehouse type back onto the lattice.
// length is the character maximum length when the catalog reports it
// separately from the type name. Unrecognized types are treated as long
// strings so nothing is ever narrowed.
func ColumnFromSQL(name, sqlType string, length int) Column {
	t := strings.ToLower(strings.TrimSpace(sqlType))
	if open := strings.IndexByte(t, '('); open >= 0 {
		if n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(t[open+1:]), ")")); err == nil && length <= 0 {
			length = n
		}
		t = strings.TrimSpace(t[:open])
	}

	col := Column{Name: strings.ToLower(name)}
	switch {
	case t == "boolean" || t == "bool":
		col.Type = TypeBoolean
	case t == "bigint" || t == "integer" || t == "int" || t == "smallint" ||
		t == "int2" || t == "int4" || t == "int8":
		col.Type = TypeInteger
	case t == "double precision" || t == "real" || t == "float" || t == "float4" ||
		t == "float8" || t == "numeric" || t == "decimal":
		col.Type = TypeFloat
	case strings.HasPrefix(t, "timestamp") || t == "date":
		col.Type = TypeTimestamp
	case strings.HasPrefix(t, "time"):
		col.Type = TypeString
		col.Length = ShortVarcharLength
	case strings.HasPrefix(t, "character varying") || strings.HasPrefix(t, "varchar") ||
		strings.HasPrefix(t, "character") || t == "char" || t == "bpchar":
		col.Type = TypeString
		col.Length = length
		if col.Length <= 0 {
			col.Length = LongVarcharLength
		}
	default:
		col.Type = TypeString
		col.Length = LongVarcharLength
	}
	return col
}

// TableRef names a target table.
type TableRef struct {
	Schema string
	Name   string
}

// String returns the unquoted schema.table form used in logs and errors.
func (r TableRef) String() string {
	return r.Schema + "." + r.Name
}

// Quoted returns the quoted "schema"."table" identifier.
func (r TableRef) Quoted() string {
	return QuoteIdent(r.Schema) + "." + QuoteIdent(r.Name)
}

// QuoteIdent quotes a SQL identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// TableSchema is the known shape of a target table.
type TableSchema struct {
	Ref        TableRef
	Exists     bool
	Columns    []Column
	PrimaryKey []string
}

// Clone returns a deep copy.
func (s *TableSchema) Clone() *TableSchema {
	if s == nil {
		return nil
	}
	out := *s
	out.Columns = append([]Column(nil), s.Columns...)
	out.PrimaryKey = append([]string(nil), s.PrimaryKey...)
	return &out
}

// Column looks up a column by name.
func (s *TableSchema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}
