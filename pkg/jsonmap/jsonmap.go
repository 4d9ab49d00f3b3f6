package jsonmap

import (
	"gorm.io/datatypes"
)

// With returns a copy of values with key set. values is not modified.
func With(values datatypes.JSONMap, key string, value interface{}) datatypes.JSONMap {
	out := Merge(values, nil)
	out[key] = value
	return out
}

// Merge returns a new map holding base overlaid with overlay.
func Merge(base, overlay datatypes.JSONMap) datatypes.JSONMap {
	out := make(datatypes.JSONMap, len(base)+len(overlay))
	for key, value := range base {
		out[key] = value
	}
	for key, value := range overlay {
		out[key] = value
	}
	return out
}
