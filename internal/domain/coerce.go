package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ToFloat coerces a loosely typed feature value to float64. Numbers of any
// width, json.Number and numeric strings are accepted. Null and every other
// type are errors.
func ToFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	case nil:
		return 0, fmt.Errorf("null value")
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
