package cellstore

import (
	"encoding/json"
	"strconv"
)

// Canonical renders a JSON wire value the way the sheet stores it, so that
// the compare-and-swap check is a plain string comparison. JSON null maps to
// the empty string: an empty cell and an absent value compare equal by rule.
// Composite values serialize compactly; Go's json package emits map keys in
// sorted order, which makes the serialization deterministic (and
// order-sensitive for arrays).
func Canonical(value any) string {
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
