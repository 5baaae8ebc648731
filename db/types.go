package db

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/worldsio/detectbridge/domain"
)

// Metadata represents a flexible key-value store for additional data, stored as JSON in the database.
// It implements the sql.Scanner and driver.Valuer interfaces to handle database serialization.
type Metadata map[string]any

// Scan implements the sql.Scanner interface, allowing Metadata to be read from the database.
func (m *Metadata) Scan(value interface{}) error {
	*m = make(Metadata)
	raw, err := rawBytes(value)
	if err != nil || raw == nil {
		return err
	}
	if err := json.Unmarshal(raw, m); err != nil {
		return fmt.Errorf("unmarshalling metadata : %w", err)
	}
	return nil
}

// Value implements the driver.Valuer interface, allowing Metadata to be written to the database.
func (m Metadata) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// JSONText is a JSON document stored verbatim in a TEXT column.
type JSONText json.RawMessage

// Scan implements the sql.Scanner interface.
func (j *JSONText) Scan(value interface{}) error {
	raw, err := rawBytes(value)
	if err != nil {
		return err
	}
	if raw == nil {
		*j = nil
		return nil
	}
	*j = append((*j)[0:0], raw...)
	return nil
}

// Value implements the driver.Valuer interface. An empty document is stored as NULL.
func (j JSONText) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

// StringList is a list of strings stored as a JSON array.
type StringList []string

// Scan implements the sql.Scanner interface. NULL scans into an empty list.
func (s *StringList) Scan(value interface{}) error {
	*s = StringList{}
	raw, err := rawBytes(value)
	if err != nil || raw == nil {
		return err
	}
	if err := json.Unmarshal(raw, s); err != nil {
		return fmt.Errorf("unmarshalling string list : %w", err)
	}
	if *s == nil {
		*s = StringList{}
	}
	return nil
}

// Value implements the driver.Valuer interface.
func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func rawBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

// nullString maps the empty string to NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// parseStored reads a timestamp column. Unparseable values yield the zero time.
func parseStored(value string) time.Time {
	t, err := domain.ParseTime(value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseStoredNull(value sql.NullString) *time.Time {
	if !value.Valid || value.String == "" {
		return nil
	}
	t := parseStored(value.String)
	return &t
}
