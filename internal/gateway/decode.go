package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Decode unmarshals a command payload into T.
func Decode[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("gateway: decode %T: %w", out, err)
	}
	return out, nil
}

// Extract follows a dot-separated path of object keys into raw. An empty
// path returns raw unchanged. A missing key yields JSON null.
func Extract(raw json.RawMessage, path string) (json.RawMessage, error) {
	if path == "" {
		return raw, nil
	}
	cur := raw
	for _, key := range strings.Split(path, ".") {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(cur, &obj); err != nil {
			return nil, fmt.Errorf("gateway: path %q: %q is not an object", path, key)
		}
		next, ok := obj[key]
		if !ok {
			return json.RawMessage("null"), nil
		}
		cur = next
	}
	return cur, nil
}
