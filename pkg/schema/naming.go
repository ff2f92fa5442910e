package schema

import (
	"strings"

	"github.com/ajitpratap0/rsloader/pkg/errors"
)

// StreamName is a parsed stream identifier of the form
// [catalog-]schema-table, or a bare table name.
type StreamName struct {
	Catalog string
	Schema  string
	Table   string
}

// ParseStreamName splits a stream identifier on "-".
func ParseStreamName(stream string) (StreamName, error) {
	if strings.TrimSpace(stream) == "" {
		return StreamName{}, errors.New(errors.ErrorTypeProtocol, "empty stream name")
	}
	parts := strings.SplitN(stream, "-", 3)
	switch len(parts) {
	case 1:
		return StreamName{Table: parts[0]}, nil
	case 2:
		return StreamName{Schema: parts[0], Table: parts[1]}, nil
	default:
		return StreamName{Catalog: parts[0], Schema: parts[1], Table: parts[2]}, nil
	}
}

// NormalizeTableName lowercases a table name and replaces characters that are
// not valid in an unquoted identifier.
func NormalizeTableName(name string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return strings.ToLower(r.Replace(name))
}
