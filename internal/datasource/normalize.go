package datasource

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Row is one record of a normalized collection.
type Row map[string]any

// collectionKeys are checked in priority order when a response is an object.
var collectionKeys = []string{"data", "items", "results"}

// Normalize turns heterogeneous response shapes into rows:
// an array is used directly; an object yields its data/items/results array
// (first match wins) or becomes a single row.
func Normalize(raw any) []Row {
	switch v := raw.(type) {
	case []any:
		return arrayRows(v)
	case []Row:
		return v
	case []map[string]any:
		rows := make([]Row, len(v))
		for i, m := range v {
			rows[i] = Row(m)
		}
		return rows
	case map[string]any:
		for _, k := range collectionKeys {
			if arr, ok := v[k].([]any); ok {
				return arrayRows(arr)
			}
		}
		return []Row{Row(v)}
	case nil:
		return nil
	default:
		return []Row{{"value": v}}
	}
}

func arrayRows(items []any) []Row {
	rows := make([]Row, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			rows = append(rows, Row(m))
			continue
		}
		rows = append(rows, Row{"value": item})
	}
	return rows
}

// IsLabelValue reports whether rows form a metric list: more than one row,
// each with a string label and a scalar value. Label values then act as
// selectable metric names instead of ordinary fields.
func IsLabelValue(rows []Row) bool {
	if len(rows) < 2 {
		return false
	}
	for _, r := range rows {
		if _, ok := r["label"].(string); !ok {
			return false
		}
		v, ok := r["value"]
		if !ok || !isScalar(v) {
			return false
		}
	}
	return true
}

// MetricNames lists the labels of a label/value collection in row order.
func MetricNames(rows []Row) []string {
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		if s, ok := r["label"].(string); ok {
			names = append(names, s)
		}
	}
	return names
}

// MetricValue returns the value of the row whose label equals name.
func MetricValue(rows []Row, name string) (any, bool) {
	for _, r := range rows {
		if s, _ := r["label"].(string); s == name {
			return r["value"], true
		}
	}
	return nil, false
}

// Fields returns the sorted key set of the first row.
func Fields(rows []Row) []string {
	if len(rows) == 0 {
		return nil
	}
	keys := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, float64, float32, int, int64, bool, json.Number:
		return true
	}
	return false
}

// ToNumber coerces a JSON value the way a dynamic language would: nil, empty
// strings and false become 0; true becomes 1; unparsable values become NaN.
func ToNumber(v any) float64 {
	switch t := v.(type) {
	case nil:
		return 0
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return math.NaN()
		}
		return f
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// ScalarString renders a JSON scalar as text ("" for nil).
func ScalarString(v any) string { return scalarString(v) }

// Lookup walks a dot-separated path into nested maps. Arrays are entered at
// their first element.
func Lookup(obj any, path string) (any, bool) {
	if path == "" {
		return obj, obj != nil
	}
	current := obj
	for _, part := range strings.Split(path, ".") {
		if arr, ok := current.([]any); ok {
			if len(arr) == 0 {
				return nil, false
			}
			current = arr[0]
		}
		m, ok := current.(map[string]any)
		if !ok {
			if r, isRow := current.(Row); isRow {
				m = r
			} else {
				return nil, false
			}
		}
		v, exists := m[part]
		if !exists {
			return nil, false
		}
		current = v
	}
	return current, true
}

// truthyKeys are the boolean keys recognized in submission/validation responses.
var truthyKeys = []string{"result", "valid", "success", "ok", "value"}

// Truthy interprets a submission or validation response: booleans and
// scalars directly, objects by their first recognized boolean key.
func Truthy(resp any) bool {
	switch v := resp.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		return s == "true" || s == "ok" || s == "1" || s == "yes"
	case map[string]any:
		for _, k := range truthyKeys {
			if b, ok := v[k].(bool); ok {
				return b
			}
		}
		for _, k := range truthyKeys {
			if x, ok := v[k]; ok {
				return Truthy(x)
			}
		}
	}
	return false
}
