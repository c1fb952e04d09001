package clickhouse

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/datasaki/datasaki-engine/pkg/adapters/connector"
)

// Coerce converts a JSON-decoded value to the Go type the driver expects for
// a column of chType. The native protocol rejects float64 for Int64 columns,
// so every numeric JSON value goes through here.
func Coerce(chType string, v any) (any, error) {
	base := chType
	nullable := false
	for _, w := range []string{"LowCardinality(", "Nullable("} {
		if strings.HasPrefix(base, w) && strings.HasSuffix(base, ")") {
			if w == "Nullable(" {
				nullable = true
			}
			base = base[len(w) : len(base)-1]
		}
	}
	if v == nil {
		if nullable {
			return nil, nil
		}
		return nil, fmt.Errorf("null value for non-nullable %s", chType)
	}

	switch {
	case strings.HasPrefix(base, "UInt"):
		n, err := toInt(v)
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, fmt.Errorf("negative value for %s", base)
		}
		return unsigned(base, uint64(n)), nil
	case strings.HasPrefix(base, "Int"):
		n, err := toInt(v)
		if err != nil {
			return nil, err
		}
		return signed(base, n), nil
	case strings.HasPrefix(base, "Float"):
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		if base == "Float32" {
			return float32(f), nil
		}
		return f, nil
	case base == "Bool":
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			return strconv.ParseBool(b)
		case float64:
			return b != 0, nil
		}
		return nil, fmt.Errorf("cannot use %T as Bool", v)
	case strings.HasPrefix(base, "Date"):
		return toTime(v)
	default:
		s, _ := connector.Stringify(v)
		return s, nil
	}
}

func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("cannot use %T as integer", v)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	}
	return 0, fmt.Errorf("cannot use %T as float", v)
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse %q as a date", t)
	case float64:
		return time.Unix(int64(t), 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("cannot use %T as a date", v)
}

func signed(base string, n int64) any {
	switch base {
	case "Int8":
		return int8(n)
	case "Int16":
		return int16(n)
	case "Int32":
		return int32(n)
	default:
		return n
	}
}

func unsigned(base string, n uint64) any {
	switch base {
	case "UInt8":
		return uint8(n)
	case "UInt16":
		return uint16(n)
	case "UInt32":
		return uint32(n)
	default:
		return n
	}
}
