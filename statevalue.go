package machina

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// StateValue is the recursive value of a machine state: a single key for a
// leaf, or a mapping from child key to nested value for compound and
// parallel states.
type StateValue struct {
	Leaf     string
	Children map[string]StateValue
}

// IsLeaf reports whether the value is a bare key.
func (v StateValue) IsLeaf() bool {
	return len(v.Children) == 0
}

// IsZero reports whether the value is empty.
func (v StateValue) IsZero() bool {
	return v.Leaf == "" && len(v.Children) == 0
}

// LeafValue constructs a leaf state value.
func LeafValue(key string) StateValue {
	return StateValue{Leaf: key}
}

// CompoundValue constructs a compound state value.
func CompoundValue(children map[string]StateValue) StateValue {
	return StateValue{Children: children}
}

// ParseStateValue parses a delimited path such as "red.walk" into a nested
// state value.
func ParseStateValue(path, delimiter string) StateValue {
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}
	segments := strings.Split(path, delimiter)
	v := LeafValue(segments[len(segments)-1])
	for i := len(segments) - 2; i >= 0; i-- {
		v = StateValue{Children: map[string]StateValue{segments[i]: v}}
	}
	return v
}

// StateValueFrom normalizes the accepted state value shapes: a StateValue,
// a bare key string, or a map of child keys to nested shapes.
func StateValueFrom(v any) (StateValue, error) {
	switch val := v.(type) {
	case StateValue:
		return val, nil
	case string:
		return LeafValue(val), nil
	case map[string]any:
		children := make(map[string]StateValue, len(val))
		for k, sub := range val {
			nested, err := StateValueFrom(sub)
			if err != nil {
				return StateValue{}, err
			}
			children[k] = nested
		}
		return StateValue{Children: children}, nil
	case map[string]StateValue:
		children := make(map[string]StateValue, len(val))
		for k, sub := range val {
			children[k] = sub
		}
		return StateValue{Children: children}, nil
	default:
		return StateValue{}, fmt.Errorf("unsupported state value type %T", v)
	}
}

// Equal reports whether two state values are structurally identical.
func (v StateValue) Equal(other StateValue) bool {
	if v.IsLeaf() != other.IsLeaf() {
		return false
	}
	if v.IsLeaf() {
		return v.Leaf == other.Leaf
	}
	if len(v.Children) != len(other.Children) {
		return false
	}
	for k, sub := range v.Children {
		osub, ok := other.Children[k]
		if !ok || !sub.Equal(osub) {
			return false
		}
	}
	return true
}

// ToStrings flattens the value into delimited path strings, parents before
// their descendants. Sibling keys are emitted in sorted order.
func (v StateValue) ToStrings(delimiter string) []string {
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}
	if v.IsLeaf() {
		if v.Leaf == "" {
			return nil
		}
		return []string{v.Leaf}
	}
	keys := make([]string, 0, len(v.Children))
	for k := range v.Children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []string
	for _, k := range keys {
		out = append(out, k)
		for _, sub := range v.Children[k].ToStrings(delimiter) {
			out = append(out, k+delimiter+sub)
		}
	}
	return out
}

// matchesValue reports whether the partial value describes a superstate of
// the full value: a leaf partial matches either the identical leaf or a
// compound value containing its key.
func matchesValue(partial, full StateValue) bool {
	if partial.IsLeaf() {
		if full.IsLeaf() {
			return partial.Leaf == full.Leaf
		}
		_, ok := full.Children[partial.Leaf]
		return ok
	}
	if full.IsLeaf() {
		// A compound partial is more specific than a leaf value and
		// never matches it.
		return false
	}
	for k, sub := range partial.Children {
		fsub, ok := full.Children[k]
		if !ok {
			return false
		}
		if !matchesValue(sub, fsub) {
			return false
		}
	}
	return true
}

// String renders the value: a bare key for leaves, compact JSON otherwise.
func (v StateValue) String() string {
	if v.IsLeaf() {
		return v.Leaf
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v.Children)
	}
	return string(data)
}

// MarshalJSON implements json.Marshaler: leaves render as strings.
func (v StateValue) MarshalJSON() ([]byte, error) {
	if v.IsLeaf() {
		return json.Marshal(v.Leaf)
	}
	m := make(map[string]StateValue, len(v.Children))
	for k, sub := range v.Children {
		m[k] = sub
	}
	return json.Marshal(m)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *StateValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = StateValue{}
		return nil
	}
	if data[0] == '"' {
		var leaf string
		if err := json.Unmarshal(data, &leaf); err != nil {
			return err
		}
		*v = LeafValue(leaf)
		return nil
	}
	var m map[string]StateValue
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*v = StateValue{Children: m}
	return nil
}
