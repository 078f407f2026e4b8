package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Ref points at an output slot of another node. On the wire it is the
// two-element array ["<node id>", <slot>].
type Ref struct {
	NodeID string
	Slot   int
}

// MarshalJSON encodes the reference in the engine's array form.
func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.NodeID, r.Slot})
}

// UnmarshalJSON decodes ["<id>", slot]. Numeric ids are accepted and
// converted to their decimal string.
func (r *Ref) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 2 {
		return fmt.Errorf("reference must have 2 elements, got %d", len(parts))
	}

	var id NodeID
	if err := json.Unmarshal(parts[0], &id); err != nil {
		return fmt.Errorf("reference node id: %w", err)
	}

	var slot int
	if err := json.Unmarshal(parts[1], &slot); err != nil {
		return fmt.Errorf("reference slot: %w", err)
	}

	r.NodeID = string(id)
	r.Slot = slot
	return nil
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%d", r.NodeID, r.Slot)
}

// Value is a node input. It holds the raw JSON of either a literal or a
// Ref so that inputs nobody touches encode back exactly as they were read.
type Value json.RawMessage

// Literal encodes v as a literal input value.
func Literal(v any) (Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode literal: %w", err)
	}
	return Value(data), nil
}

// Text is a string literal.
func Text(s string) Value {
	data, _ := json.Marshal(s)
	return Value(data)
}

// RefValue wraps a reference as an input value.
func RefValue(r Ref) Value {
	data, _ := r.MarshalJSON()
	return Value(data)
}

func (v Value) MarshalJSON() ([]byte, error) {
	if len(v) == 0 {
		return []byte("null"), nil
	}
	return v, nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	*v = append((*v)[:0], data...)
	return nil
}

// Ref reports whether the value is a reference and decodes it.
func (v Value) Ref() (Ref, bool) {
	trimmed := bytes.TrimSpace(v)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return Ref{}, false
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(trimmed, &parts); err != nil || len(parts) != 2 {
		return Ref{}, false
	}

	var id string
	if err := json.Unmarshal(parts[0], &id); err != nil {
		return Ref{}, false
	}

	var slot int
	if err := json.Unmarshal(parts[1], &slot); err != nil {
		return Ref{}, false
	}

	return Ref{NodeID: id, Slot: slot}, true
}

// String returns the value as a string when it is a string literal.
func (v Value) String() (string, bool) {
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

// Decode unmarshals the literal into out.
func (v Value) Decode(out any) error {
	return json.Unmarshal(v, out)
}

// Equal compares two values ignoring insignificant whitespace.
func (v Value) Equal(other Value) bool {
	return bytes.Equal(compact(v), compact(other))
}

// Display renders the value for logs and diffs.
func (v Value) Display() string {
	return string(compact(v))
}

func (v Value) clone() Value {
	if v == nil {
		return nil
	}
	return append(Value(nil), v...)
}

func compact(v Value) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return bytes.TrimSpace(v)
	}
	return buf.Bytes()
}

// NodeID is a node identifier as it appears in a graph export, where ids
// are usually integers. It always holds the decimal string form.
type NodeID string

func (id NodeID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(id))
}

func (id *NodeID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = NodeID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("node id must be a string or number: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*id = NodeID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = NodeID(n.String())
	return nil
}
