package domain

import (
	"bytes"
	"encoding/json"
)

// Scalar holds a raw JSON scalar whose type is not fixed by the upstream schema.
// Direction, for example, is reported as a number by some data sources and as a
// string by others.
type Scalar json.RawMessage

// MarshalJSON implements json.Marshaler. An empty Scalar is encoded as null.
func (s Scalar) MarshalJSON() ([]byte, error) {
	if len(s) == 0 {
		return []byte("null"), nil
	}
	return s, nil
}

// UnmarshalJSON implements json.Unmarshaler and keeps a copy of the raw bytes.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	*s = append((*s)[0:0], data...)
	return nil
}

// IsNull reports whether the scalar is absent or JSON null.
func (s Scalar) IsNull() bool {
	return len(s) == 0 || bytes.Equal(s, []byte("null"))
}

// String renders the scalar as text. Strings are unquoted, every other value is
// returned as its JSON representation and null becomes the empty string.
func (s Scalar) String() string {
	if s.IsNull() {
		return ""
	}
	var str string
	if err := json.Unmarshal(s, &str); err == nil {
		return str
	}
	return string(s)
}
