// Package record models the clinical input record as a closed tree of
// scalars, lists and ordered maps, and provides key normalization and dotted
// path resolution over that tree.
package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Value is one node of a record tree. It is implemented only by Scalar, List
// and *Map.
type Value interface {
	isValue()
}

// Scalar is a leaf value. JSON numbers and booleans keep their literal text.
type Scalar string

// List is an ordered sequence of values.
type List []Value

// Map is a keyed mapping that remembers key insertion order.
type Map struct {
	keys   []string
	values map[string]Value
}

func (Scalar) isValue() {}
func (List) isValue()   {}
func (*Map) isValue()   {}

// NewMap returns an empty map.
func NewMap() *Map {
	return &Map{values: make(map[string]Value)}
}

// Set stores v under key. Re-setting an existing key keeps its original
// position.
func (m *Map) Set(key string, v Value) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (Value, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of keys.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// ErrNotObject is returned when a JSON document does not hold an object where
// one is required.
var ErrNotObject = errors.New("record: JSON value is not an object")

// ParseJSON decodes a JSON object into a record tree, preserving key order.
// null members are dropped.
func ParseJSON(data []byte) (*Map, error) {
	v, err := decodeJSON(data)
	if err != nil {
		return nil, err
	}
	m, ok := v.(*Map)
	if !ok {
		return nil, ErrNotObject
	}
	return m, nil
}

// ParseJSONList decodes a JSON array into a slice of raw element documents so
// that each element can be converted (and fail) independently.
func ParseJSONList(data []byte) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("record: decode JSON array: %w", err)
	}
	return items, nil
}

func decodeJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, fmt.Errorf("record: decode JSON: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("record: decode JSON: trailing data after top-level value")
	}
	return v, nil
}

// decodeValue reads the next JSON value from dec. A nil Value with a nil
// error means JSON null.
func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			m := NewMap()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected object key %v", keyTok)
				}
				child, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				if child != nil {
					m.Set(key, child)
				}
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return m, nil
		case '[':
			list := List{}
			for dec.More() {
				child, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				if child != nil {
					list = append(list, child)
				}
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return list, nil
		default:
			return nil, fmt.Errorf("unexpected delimiter %q", t)
		}
	case string:
		return Scalar(t), nil
	case json.Number:
		return Scalar(t.String()), nil
	case bool:
		return Scalar(strconv.FormatBool(t)), nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected token %v", tok)
	}
}

