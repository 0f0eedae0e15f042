package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Metadata is an open string-keyed map stored as JSONB.
// Updates go through Merge so existing keys survive partial patches.
type Metadata map[string]any

// Merge shallow-merges patch into a copy of m and returns the copy.
// Keys in patch overwrite keys in m; nested maps are replaced, not merged.
func (m Metadata) Merge(patch Metadata) Metadata {
	merged := make(Metadata, len(m)+len(patch))
	for k, v := range m {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}

// Int returns an integer value for key, accepting the numeric types
// produced by both Go code and JSON decoding.
func (m Metadata) Int(key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}

// String returns a string value for key, or "" when absent or not a string.
func (m Metadata) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Value implements driver.Valuer for database serialization.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for database deserialization.
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = make(Metadata)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into Metadata", value)
	}

	return json.Unmarshal(bytes, m)
}
