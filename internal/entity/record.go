package entity

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
)

// Record is a schema-free entity. The only field the engine interprets is "id".
type Record map[string]any

// ID returns the record id in string form. Numeric ids are rendered canonically so
// that 7, 7.0 and json.Number("7") all address the same record.
func (r Record) ID() string {
	if r == nil {
		return ""
	}
	return FormatID(r["id"])
}

// HasID reports whether the record carries a non-empty id.
func (r Record) HasID() bool {
	return r.ID() != ""
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return maps.Clone(r)
}

// Merge returns a copy of r overlaid with the keys of patch.
func (r Record) Merge(patch Record) Record {
	out := make(Record, len(r)+len(patch))
	maps.Copy(out, r)
	maps.Copy(out, patch)
	return out
}

// FormatID renders an id value as a lookup key.
func FormatID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case json.Number:
		return id.String()
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(id), 'f', -1, 32)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	case int32:
		return strconv.FormatInt(int64(id), 10)
	case uint64:
		return strconv.FormatUint(id, 10)
	case fmt.Stringer:
		return id.String()
	default:
		return fmt.Sprint(id)
	}
}

// CloneAll copies a collection, cloning each record.
func CloneAll(records []Record) []Record {
	out := make([]Record, len(records))
	for i, rec := range records {
		out[i] = rec.Clone()
	}
	return out
}

// IndexOf returns the position of the record with the given id, or -1.
func IndexOf(records []Record, id string) int {
	for i, rec := range records {
		if rec.ID() == id {
			return i
		}
	}
	return -1
}

// Find returns the record with the given id.
func Find(records []Record, id string) (Record, bool) {
	if i := IndexOf(records, id); i >= 0 {
		return records[i], true
	}
	return nil, false
}
