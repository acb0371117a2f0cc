package store

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
)

// placeholderList returns "?,?,?" for n placeholders.
func placeholderList(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// stringsToArgs converts []string to []any for use with database/sql.
func stringsToArgs(ss []string) []any {
	args := make([]any, len(ss))
	for i, s := range ss {
		args[i] = s
	}
	return args
}

// nonFiniteKey tags an infinite or NaN float, which JSON cannot encode,
// as {"$float": "+Inf"|"-Inf"|"NaN"}.
const nonFiniteKey = "$float"

// marshalValue converts a scalar or list to JSON text for storage.
func marshalValue(v any) (string, error) {
	b, err := json.Marshal(tagNonFinite(v))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func tagNonFinite(v any) any {
	switch x := v.(type) {
	case float64:
		switch {
		case math.IsInf(x, 1):
			return map[string]any{nonFiniteKey: "+Inf"}
		case math.IsInf(x, -1):
			return map[string]any{nonFiniteKey: "-Inf"}
		case math.IsNaN(x):
			return map[string]any{nonFiniteKey: "NaN"}
		}
	case float32:
		return tagNonFinite(float64(x))
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = tagNonFinite(x[i])
		}
		return out
	case []float64:
		out := make([]any, len(x))
		for i := range x {
			out[i] = tagNonFinite(x[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, el := range x {
			out[k] = tagNonFinite(el)
		}
		return out
	}
	return v
}

// unmarshalValue converts stored JSON text back to Go values. Integral
// numbers come back as int64 and everything else numeric as float64, so a
// value keeps the shape it was indexed with.
func unmarshalValue(s string) (any, error) {
	if s == "" || s == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return normalizeNumbers(v), nil
}

func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case []any:
		for i := range x {
			x[i] = normalizeNumbers(x[i])
		}
		return x
	case map[string]any:
		if tag, ok := x[nonFiniteKey].(string); ok && len(x) == 1 {
			switch tag {
			case "+Inf":
				return math.Inf(1)
			case "-Inf":
				return math.Inf(-1)
			case "NaN":
				return math.NaN()
			}
		}
		for k := range x {
			x[k] = normalizeNumbers(x[k])
		}
		return x
	}
	return v
}

// likeEscape escapes the LIKE wildcards in s for use with ESCAPE '\'.
func likeEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
