package runtime

import "github.com/risor-io/risor/object"

// toGo converts a Risor value into plain Go values: maps, slices, int64,
// float64, bool, string and nil. Anything else becomes its string form.
func toGo(obj object.Object) any {
	switch v := obj.(type) {
	case nil:
		return nil
	case *object.NilType:
		return nil
	case *object.Int:
		return v.Value()
	case *object.Float:
		return v.Value()
	case *object.Bool:
		return v.Value()
	case *object.String:
		return v.Value()
	case *object.List:
		items := v.Value()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = toGo(item)
		}
		return out
	case *object.Map:
		out := make(map[string]any, len(v.Value()))
		for k, item := range v.Value() {
			out[k] = toGo(item)
		}
		return out
	}
	return obj.Inspect()
}

// ToFloat reports a numeric result as float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
