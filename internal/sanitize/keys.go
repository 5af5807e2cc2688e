package sanitize

import (
	"encoding/json"
	"strconv"
)

// primaryKeyString renders a primary key value as the string form the
// oracle expects. Objects, arrays, booleans, nil and empty strings are not
// keys.
func primaryKeyString(v any) (string, bool) {
	switch k := v.(type) {
	case string:
		return k, k != ""
	case float64:
		return strconv.FormatFloat(k, 'f', -1, 64), true
	case json.Number:
		return k.String(), true
	case int:
		return strconv.Itoa(k), true
	case int32:
		return strconv.FormatInt(int64(k), 10), true
	case int64:
		return strconv.FormatInt(k, 10), true
	case uint64:
		return strconv.FormatUint(k, 10), true
	default:
		return "", false
	}
}
