// Package jsonutil handles loosely-typed JSON values from LLM responses,
// where numbers, booleans, and strings are used interchangeably.
package jsonutil

import (
	"fmt"
	"strings"
)

// FlexibleString converts a decoded JSON value to its string form. LLMs
// routinely emit numbers or booleans where strings are expected. Returns
// ok=false for nil and for composite values (objects, arrays).
func FlexibleString(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val)), true
		}
		return fmt.Sprintf("%g", val), true
	case int:
		return fmt.Sprintf("%d", val), true
	case int64:
		return fmt.Sprintf("%d", val), true
	case bool:
		return fmt.Sprintf("%t", val), true
	default:
		return "", false
	}
}

// FlexibleBool converts a decoded JSON value to a bool, accepting native
// booleans and the strings "true"/"false" (any casing).
func FlexibleBool(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

// FlexibleStringSlice converts a decoded JSON value into a string slice.
// Accepts an array of flexible values or a single scalar. Entries that
// cannot be represented as strings are dropped.
func FlexibleStringSlice(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case []any:
		var out []string
		for _, item := range val {
			if s, ok := FlexibleString(item); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return val
	default:
		if s, ok := FlexibleString(v); ok {
			return []string{s}
		}
		return nil
	}
}
