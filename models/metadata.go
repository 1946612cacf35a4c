package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Metadata is an opaque key/value mapping attached to a chunk.
// It is persisted as JSON (JSONB in PostgreSQL, TEXT in SQLite).
type Metadata map[string]interface{}

// Value implements driver.Valuer
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (m *Metadata) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata type %T", src)
	}

	if len(data) == 0 || string(data) == "null" {
		*m = nil
		return nil
	}

	out := Metadata{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	*m = out
	return nil
}

// Clone returns a shallow copy of the mapping; nested values are shared
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
