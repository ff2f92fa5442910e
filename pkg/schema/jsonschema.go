package schema

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/ajitpratap0/rsloader/pkg/errors"
)

const (
	// KeySeparator joins the path of a flattened nested property.
	KeySeparator = "__"

	// maxIdentifierLength is the longest identifier Redshift accepts.
	maxIdentifierLength = 127
)

// ColumnsFromJSONSchema converts a stream's JSON schema into target columns.
// Objects nested up to maxLevel deep are flattened into separate columns
// joined with KeySeparator; deeper objects and arrays become long varchar
// columns holding JSON text. Column names are lowercased and the result is
// sorted by name. Two properties that produce the same column name are a
// validation failure.
func ColumnsFromJSONSchema(jsonSchema map[string]interface{}, maxLevel int) ([]Column, error) {
	flat := map[string]map[string]interface{}{}
	var dups []string
	flattenSchema(jsonSchema, nil, 0, maxLevel, flat, &dups)
	if len(dups) > 0 {
		sort.Strings(dups)
		return nil, errors.Newf(errors.ErrorTypeValidation, "duplicate column name produced in schema: %s", strings.Join(dups, ", "))
	}

	names := make([]string, 0, len(flat))
	for name := range flat {
		names = append(names, name)
	}
	sort.Strings(names)

	columns := make([]Column, 0, len(names))
	for _, name := range names {
		columns = append(columns, columnFromProperty(name, flat[name]))
	}
	return columns, nil
}

func flattenSchema(node map[string]interface{}, parent []string, level, maxLevel int, out map[string]map[string]interface{}, dups *[]string) {
	props, ok := node["properties"].(map[string]interface{})
	if !ok {
		return
	}
	for key, raw := range props {
		prop, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		prop = resolveAlternatives(prop)
		types := propertyTypes(prop)
		if types["object"] && level < maxLevel {
			if _, nested := prop["properties"]; nested {
				flattenSchema(prop, append(append([]string(nil), parent...), key), level+1, maxLevel, out, dups)
				continue
			}
		}
		name := strings.ToLower(FlattenKey(key, parent))
		if _, exists := out[name]; exists {
			*dups = append(*dups, name)
			continue
		}
		out[name] = prop
	}
}

// resolveAlternatives collapses anyOf/oneOf into the first non-null
// alternative, keeping the property nullable.
func resolveAlternatives(prop map[string]interface{}) map[string]interface{} {
	if _, typed := prop["type"]; typed {
		return prop
	}
	for _, key := range []string{"anyOf", "oneOf"} {
		alts, ok := prop[key].([]interface{})
		if !ok {
			continue
		}
		for _, a := range alts {
			alt, ok := a.(map[string]interface{})
			if !ok {
				continue
			}
			types := propertyTypes(alt)
			if len(types) == 1 && types["null"] {
				continue
			}
			return alt
		}
	}
	return prop
}

func propertyTypes(prop map[string]interface{}) map[string]bool {
	types := map[string]bool{}
	switch t := prop["type"].(type) {
	case string:
		types[t] = true
	case []interface{}:
		for _, v := range t {
			if s, ok := v.(string); ok {
				types[s] = true
			}
		}
	}
	return types
}

func columnFromProperty(name string, prop map[string]interface{}) Column {
	types := propertyTypes(prop)
	format, _ := prop["format"].(string)

	length := DefaultVarcharLength
	if maxLength, ok := numberOf(prop["maxLength"]); ok && maxLength > DefaultVarcharLength {
		length = LongVarcharLength
	}

	switch {
	case types["object"] || types["array"]:
		return Column{Name: name, Type: TypeString, Length: LongVarcharLength}
	case format == "date-time":
		return Column{Name: name, Type: TypeTimestamp}
	case format == "time":
		return Column{Name: name, Type: TypeString, Length: ShortVarcharLength}
	case types["number"]:
		return Column{Name: name, Type: TypeFloat}
	case types["integer"] && types["string"]:
		return Column{Name: name, Type: TypeString, Length: LongVarcharLength}
	case types["integer"]:
		return Column{Name: name, Type: TypeInteger}
	case types["boolean"]:
		return Column{Name: name, Type: TypeBoolean}
	default:
		return Column{Name: name, Type: TypeString, Length: length}
	}
}

func numberOf(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case fmt.Stringer:
		var i int
		if _, err := fmt.Sscan(n.String(), &i); err == nil {
			return i, true
		}
	}
	return 0, false
}

// FlattenKey joins a nested property path with KeySeparator. Paths that
// would exceed the identifier limit are shortened component by component,
// from the outermost in, to the capital letters of their camel-cased form
// (or their first three characters when that leaves fewer than two).
func FlattenKey(key string, parent []string) string {
	parts := append(append([]string(nil), parent...), key)
	for i := 0; i < len(parts) && len(strings.Join(parts, KeySeparator)) >= maxIdentifierLength; i++ {
		reduced := capitals(camelize(parts[i]))
		if len(reduced) > 1 {
			parts[i] = strings.ToLower(reduced)
		} else {
			parts[i] = strings.ToLower(prefix(parts[i], 3))
		}
	}
	return strings.Join(parts, KeySeparator)
}

// FlattenRecord flattens nested objects in a record up to maxLevel deep using
// the same naming as ColumnsFromJSONSchema. Values below that depth are kept
// as-is and later stored as JSON text.
func FlattenRecord(record map[string]interface{}, maxLevel int) map[string]interface{} {
	out := make(map[string]interface{}, len(record))
	flattenRecord(record, nil, 0, maxLevel, out)
	return out
}

func flattenRecord(record map[string]interface{}, parent []string, level, maxLevel int, out map[string]interface{}) {
	for key, value := range record {
		if nested, ok := value.(map[string]interface{}); ok && level < maxLevel {
			flattenRecord(nested, append(append([]string(nil), parent...), key), level+1, maxLevel, out)
			continue
		}
		out[strings.ToLower(FlattenKey(key, parent))] = value
	}
}

func camelize(s string) string {
	var b strings.Builder
	upper := true
	for _, r := range s {
		if r == '_' {
			upper = true
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func capitals(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < 'a' || r > 'z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
