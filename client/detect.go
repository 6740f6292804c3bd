package client

import (
	"encoding/json"
	"strconv"
)

// IsEmpty reports whether a value counts as "empty" for conflict purposes.
// nil (JSON null / an absent cell) and the empty string are deliberately
// conflated: a form that renders a missing cell as "" must not conflict with
// a server that stores nothing.
func IsEmpty(value any) bool {
	if value == nil {
		return true
	}
	s, ok := value.(string)
	return ok && s == ""
}

// DetectConflict reports whether two observed values differ. Primitives
// compare by value; composite values compare by canonical, order-sensitive
// serialization. Two empty values never conflict.
func DetectConflict(a, b any) bool {
	if IsEmpty(a) && IsEmpty(b) {
		return false
	}
	return canonical(a) != canonical(b)
}

// canonical renders a value the way the sheet stores it. Mirrors the
// server's canonicalization so both sides agree on equality.
func canonical(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}
