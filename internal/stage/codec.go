// Package stage writes flush batches as delimited stage files and uploads
// them to object storage for the warehouse to load.
//
// Every non-null value is written double-quoted with embedded quotes doubled;
// null is the bare token \N. Quoting every value keeps the empty string, the
// string "\N" and null distinct, and stops numeric-looking strings from being
// read back as numbers.
package stage

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ajitpratap0/rsloader/pkg/models"
)

// NullToken marks a null field.
const NullToken = `\N`

// AppendField appends the encoded form of v to dst.
func AppendField(dst []byte, v models.Value) []byte {
	if v.IsNull() {
		return append(dst, NullToken...)
	}
	return appendQuoted(dst, v.Text())
}

func appendQuoted(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for {
		i := strings.IndexByte(s, '"')
		if i < 0 {
			break
		}
		dst = append(dst, s[:i+1]...)
		dst = append(dst, '"')
		s = s[i+1:]
	}
	dst = append(dst, s...)
	return append(dst, '"')
}

// AppendRow appends one encoded row, newline terminated.
func AppendRow(dst []byte, values []models.Value) []byte {
	for i, v := range values {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = AppendField(dst, v)
	}
	return append(dst, '\n')
}

// DecodeRows parses stage data back into rows. A nil field is null.
func DecodeRows(r io.Reader) ([][]*string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var rows [][]*string
	var row []*string
	line := 1
	for i := 0; i < len(data); {
		var field *string
		if data[i] == '"' {
			var buf bytes.Buffer
			i++
			closed := false
			for i < len(data) {
				c := data[i]
				if c == '"' {
					if i+1 < len(data) && data[i+1] == '"' {
						buf.WriteByte('"')
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				if c == '\n' {
					line++
				}
				buf.WriteByte(c)
				i++
			}
			if !closed {
				return nil, fmt.Errorf("line %d: unterminated quoted field", line)
			}
			s := buf.String()
			field = &s
		} else {
			start := i
			for i < len(data) && data[i] != ',' && data[i] != '\n' {
				i++
			}
			raw := strings.TrimSuffix(string(data[start:i]), "\r")
			if raw != NullToken && raw != "" {
				return nil, fmt.Errorf("line %d: unquoted field %q", line, raw)
			}
		}
		row = append(row, field)

		if i >= len(data) {
			break
		}
		switch data[i] {
		case ',':
			i++
		case '\r':
			if i+1 < len(data) && data[i+1] == '\n' {
				i++
			}
			fallthrough
		case '\n':
			i++
			line++
			rows = append(rows, row)
			row = nil
		default:
			return nil, fmt.Errorf("line %d: unexpected %q after quoted field", line, data[i])
		}
	}
	if row != nil {
		rows = append(rows, row)
	}
	return rows, nil
}
