package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ID is an opaque resource identifier. The server may send it as a JSON
// number or string; it is always handled as a string.
type ID string

// UnmarshalJSON accepts a JSON string, number or null.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*id = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("identifier must be a string or number: %w", err)
		}
		*id = ID(n.String())
		return nil
	}
}

// String returns the identifier text.
func (id ID) String() string {
	return string(id)
}
