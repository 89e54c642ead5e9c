package airtable

import (
	"strings"
	"time"
)

// Record is one Airtable row.
type Record struct {
	ID          string         `json:"id"`
	CreatedTime time.Time      `json:"createdTime"`
	Fields      map[string]any `json:"fields"`
}

// Value returns the raw field value, or nil when absent.
func (r Record) Value(name string) any {
	if r.Fields == nil {
		return nil
	}
	return r.Fields[name]
}

// Has reports whether a field is populated. Empty strings count as unset.
func (r Record) Has(name string) bool {
	switch v := r.Value(name).(type) {
	case nil:
		return false
	case string:
		return v != ""
	default:
		return true
	}
}

// String returns a text field. Lookup fields arrive as arrays; the first
// string element is used.
func (r Record) String(name string) string {
	switch v := r.Value(name).(type) {
	case string:
		return strings.TrimSpace(v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

// Time parses a date/time field in RFC 3339 form.
func (r Record) Time(name string) (time.Time, bool) {
	s, ok := r.Value(name).(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// LinkedIDs returns the record ids of a linked-record field. Both the plain
// id list and the expanded {id, name} object form are accepted.
func (r Record) LinkedIDs(name string) []string {
	items, ok := r.Value(name).([]any)
	if !ok {
		return nil
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			ids = append(ids, v)
		case map[string]any:
			if id, ok := v["id"].(string); ok {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

