package db

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// NormalizeJSONMap replaces the json.Number values datatypes.JSONMap decodes
// into with int64 when integral and float64 otherwise, through nested maps
// and slices. Callers then see the same types they stored.
func NormalizeJSONMap(m datatypes.JSONMap) datatypes.JSONMap {
	if m == nil {
		return nil
	}
	for k, v := range m {
		m[k] = normalizeJSONValue(v)
	}
	return m
}

func normalizeJSONValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, item := range t {
			t[k] = normalizeJSONValue(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = normalizeJSONValue(item)
		}
		return t
	}
	return v
}
