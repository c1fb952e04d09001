package connector

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// HasValue reports whether key is present with a non-empty value.
func HasValue(details map[string]any, key string) bool {
	v, ok := details[key]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// String returns details[key] rendered as a string, or "".
func String(details map[string]any, key string) string {
	v, ok := details[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// StringOr returns String(details, key) or def when empty.
func StringOr(details map[string]any, key, def string) string {
	if s := String(details, key); s != "" {
		return s
	}
	return def
}

// Int reads an integer that may arrive as a JSON number or a numeric string.
func Int(details map[string]any, key string, def int) (int, error) {
	v, ok := details[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64: // JSON numbers are float64
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	case string:
		if strings.TrimSpace(n) == "" {
			return def, nil
		}
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer", key)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("%s must be an integer", key)
	}
}

// Bool reads a boolean that may arrive as a JSON bool or a string.
func Bool(details map[string]any, key string, def bool) bool {
	switch v := details[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
