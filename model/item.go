package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Item is one opaque record fetched from the backend. The console never
// interprets Fields beyond what page definitions name.
type Item struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// ItemFromMap builds an Item from a decoded JSON object. The id is read from
// idField (default "id"); numeric ids are stringified.
func ItemFromMap(m map[string]any, idField string) Item {
	if idField == "" {
		idField = "id"
	}
	return Item{ID: scalarString(m[idField]), Fields: m}
}

// String returns the field as a string. Scalars are formatted, lists and
// objects yield "".
func (it Item) String(field string) string {
	if field == "id" && it.ID != "" {
		return it.ID
	}
	return scalarString(it.Fields[field])
}

// Strings returns a list-valued field such as tags. A comma separated string
// is split and trimmed.
func (it Item) Strings(field string) []string {
	switch v := it.Fields[field].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s := scalarString(e); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}

// Number returns the field as a float64 and whether it was numeric.
func (it Item) Number(field string) (float64, bool) {
	switch v := it.Fields[field].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	case int, int64, int32:
		return fmt.Sprint(t)
	}
	return ""
}
