package schema

import (
	"github.com/ajitpratap0/rsloader/pkg/models"
)

// Delta is the set of column changes needed to make a table hold a batch.
type Delta struct {
	Added   []Column
	Widened []Column
}

// Empty reports whether the delta requires no change.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Widened) == 0
}

// Names lists every column the delta touches, added first.
func (d Delta) Names() []string {
	names := make([]string, 0, len(d.Added)+len(d.Widened))
	for _, c := range d.Added {
		names = append(names, c.Name)
	}
	for _, c := range d.Widened {
		names = append(names, c.Name)
	}
	return names
}

// VarcharLength returns the smallest varchar bucket that holds n bytes.
func VarcharLength(n int) int {
	if n <= DefaultVarcharLength {
		return DefaultVarcharLength
	}
	return LongVarcharLength
}

// Observe derives the column a single non-null value needs. ok is false for
// null, which constrains nothing.
func Observe(name string, v models.Value) (Column, bool) {
	switch v.Kind() {
	case models.KindBool:
		return Column{Name: name, Type: TypeBoolean}, true
	case models.KindInt:
		return Column{Name: name, Type: TypeInteger}, true
	case models.KindFloat:
		return Column{Name: name, Type: TypeFloat}, true
	case models.KindTimestamp:
		return Column{Name: name, Type: TypeTimestamp}, true
	case models.KindNested:
		return Column{Name: name, Type: TypeString, Length: LongVarcharLength}, true
	case models.KindString:
		return Column{Name: name, Type: TypeString, Length: VarcharLength(v.Len())}, true
	default:
		return Column{}, false
	}
}

// Widen returns the narrowest column that can hold every value either a or b
// can hold. integer widens to float; any other pair of distinct types widens
// to string; strings widen to the longer length. The result keeps a's name.
func Widen(a, b Column) Column {
	out := Column{Name: a.Name}
	switch {
	case a.Type == b.Type:
		out.Type = a.Type
		if a.Type == TypeString {
			out.Length = maxInt(a.Length, b.Length)
		}
	case isNumeric(a.Type) && isNumeric(b.Type):
		out.Type = TypeFloat
	default:
		out.Type = TypeString
		out.Length = maxInt(maxInt(a.Length, b.Length), DefaultVarcharLength)
	}
	return out
}

// Holds reports whether c can store v as it is. A string fits a string
// column up to the column's length.
func Holds(c Column, v models.Value) bool {
	if v.Kind() == models.KindString && c.Type == TypeString {
		return v.Len() <= c.Length
	}
	obs, ok := Observe(c.Name, v)
	return !ok || Covers(c, obs)
}

// Covers reports whether a can hold everything b can.
func Covers(a, b Column) bool {
	return Widen(a, b) == a
}

// Diff computes the columns that must be added to, or widened in, current so
// that it covers observed. Widened entries carry the final widened type.
func Diff(current []Column, observed []Column) Delta {
	index := make(map[string]int, len(current))
	for i, c := range current {
		index[c.Name] = i
	}

	var delta Delta
	seen := make(map[string]int, len(observed))
	for _, obs := range observed {
		if i, dup := seen[obs.Name]; dup {
			// fold repeated observations of the same column into one entry
			delta = foldRepeat(delta, i, obs)
			continue
		}
		if i, ok := index[obs.Name]; ok {
			cur := current[i]
			if w := Widen(cur, obs); w != cur {
				seen[obs.Name] = -(len(delta.Widened) + 1)
				delta.Widened = append(delta.Widened, w)
			}
			continue
		}
		seen[obs.Name] = len(delta.Added) + 1
		delta.Added = append(delta.Added, obs)
	}
	return delta
}

func foldRepeat(delta Delta, slot int, obs Column) Delta {
	switch {
	case slot > 0:
		delta.Added[slot-1] = Widen(delta.Added[slot-1], obs)
	case slot < 0:
		delta.Widened[-slot-1] = Widen(delta.Widened[-slot-1], obs)
	}
	return delta
}

// Apply folds delta into columns, appending added columns in order.
func Apply(columns []Column, delta Delta) []Column {
	out := append([]Column(nil), columns...)
	index := make(map[string]int, len(out))
	for i, c := range out {
		index[c.Name] = i
	}
	for _, w := range delta.Widened {
		if i, ok := index[w.Name]; ok {
			out[i] = Widen(out[i], w)
			continue
		}
		index[w.Name] = len(out)
		out = append(out, w)
	}
	for _, a := range delta.Added {
		if i, ok := index[a.Name]; ok {
			out[i] = Widen(out[i], a)
			continue
		}
		index[a.Name] = len(out)
		out = append(out, a)
	}
	return out
}

func isNumeric(t LogicalType) bool {
	return t == TypeInteger || t == TypeFloat
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
