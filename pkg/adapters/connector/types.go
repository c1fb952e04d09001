package connector

import (
	"regexp"
	"strings"

	"github.com/datasaki/datasaki-engine/pkg/models"
)

var integerType = regexp.MustCompile(`^(u?int\d*|integer|(big|small|tiny|medium)int|(big|small)?serial)( unsigned)?$`)

// GenericType folds a backend's native column type into the portable
// vocabulary used by schema snapshots.
func GenericType(native string) string {
	t := strings.ToLower(strings.TrimSpace(native))
	for _, wrapper := range []string{"lowcardinality(", "nullable(", "lowcardinality(", "nullable("} {
		if strings.HasPrefix(t, wrapper) && strings.HasSuffix(t, ")") {
			t = t[len(wrapper) : len(t)-1]
		}
	}
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}

	switch {
	case t == "":
		return models.ColumnTypeUnknown
	case strings.Contains(t, "bool") || t == "bit":
		return models.ColumnTypeBoolean
	case integerType.MatchString(t):
		return models.ColumnTypeInteger
	case strings.HasPrefix(t, "float") || strings.HasPrefix(t, "double") || t == "real" ||
		strings.HasPrefix(t, "decimal") || strings.HasPrefix(t, "numeric") || t == "number" ||
		t == "money" || t == "smallmoney":
		return models.ColumnTypeFloat
	case strings.HasPrefix(t, "timestamp") || strings.HasPrefix(t, "datetime") || t == "time" ||
		strings.HasPrefix(t, "time with") || strings.HasPrefix(t, "time without"):
		return models.ColumnTypeTimestamp
	case strings.HasPrefix(t, "date"):
		return models.ColumnTypeDate
	default:
		return models.ColumnTypeString
	}
}

// PortableTypes is the starting point for backend type maps.
func PortableTypes(integer, float, boolean, date, timestamp, text string) TypeMap {
	return TypeMap{
		"integer":   integer,
		"int":       integer,
		"bigint":    integer,
		"float":     float,
		"double":    float,
		"number":    float,
		"boolean":   boolean,
		"bool":      boolean,
		"date":      date,
		"timestamp": timestamp,
		"datetime":  timestamp,
		"string":    text,
		"text":      text,
	}
}
