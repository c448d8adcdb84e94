package machina

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the declarative, serializable definition of a machine. It can
// be constructed as a Go literal, through the fluent Builder, or loaded
// from YAML or JSON documents.
//
// Child ordering: YAML documents preserve the written order of states and
// event keys, which drives the deterministic document-order numbering.
// JSON documents and Go literals fall back to sorted keys.
type Config struct {
	ID        string         `json:"id" yaml:"id"`
	Type      string         `json:"type,omitempty" yaml:"type,omitempty"`
	Initial   string         `json:"initial,omitempty" yaml:"initial,omitempty"`
	Context   map[string]any `json:"context,omitempty" yaml:"context,omitempty"`
	Strict    bool           `json:"strict,omitempty" yaml:"strict,omitempty"`
	Delimiter string         `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`

	Entry      []ActionSpec                `json:"entry,omitempty" yaml:"entry,omitempty"`
	Exit       []ActionSpec                `json:"exit,omitempty" yaml:"exit,omitempty"`
	On         map[string]*TransitionsSpec `json:"on,omitempty" yaml:"on,omitempty"`
	After      map[string]*TransitionsSpec `json:"after,omitempty" yaml:"after,omitempty"`
	Invoke     []InvokeConfig              `json:"invoke,omitempty" yaml:"invoke,omitempty"`
	Activities []string                    `json:"activities,omitempty" yaml:"activities,omitempty"`
	States     map[string]*StateConfig     `json:"states,omitempty" yaml:"states,omitempty"`
	Meta       map[string]any              `json:"meta,omitempty" yaml:"meta,omitempty"`

	stateOrder []string
	eventOrder []string
}

// StateConfig is the declarative definition of a single state node.
type StateConfig struct {
	// ID overrides the derived node id. Must be globally unique.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`
	// Type is one of "atomic", "compound", "parallel", "history", "final".
	// When empty it is inferred from the presence of children.
	Type    string `json:"type,omitempty" yaml:"type,omitempty"`
	Initial string `json:"initial,omitempty" yaml:"initial,omitempty"`
	// History selects the history kind for history nodes: "shallow" or "deep".
	History string `json:"history,omitempty" yaml:"history,omitempty"`
	// Target is the default target of a history node when no history is recorded.
	Target string `json:"target,omitempty" yaml:"target,omitempty"`

	Entry      []ActionSpec                `json:"entry,omitempty" yaml:"entry,omitempty"`
	Exit       []ActionSpec                `json:"exit,omitempty" yaml:"exit,omitempty"`
	On         map[string]*TransitionsSpec `json:"on,omitempty" yaml:"on,omitempty"`
	After      map[string]*TransitionsSpec `json:"after,omitempty" yaml:"after,omitempty"`
	Invoke     []InvokeConfig              `json:"invoke,omitempty" yaml:"invoke,omitempty"`
	Activities []string                    `json:"activities,omitempty" yaml:"activities,omitempty"`
	States     map[string]*StateConfig     `json:"states,omitempty" yaml:"states,omitempty"`

	// Data is attached to final states and carried on their done events.
	Data map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
	Meta map[string]any `json:"meta,omitempty" yaml:"meta,omitempty"`

	stateOrder []string
	eventOrder []string
}

// TransitionsSpec is the list of transition definitions under one event
// key. A key that is explicitly present with a null value marks the event
// as forbidden: it is consumed without taking any transition.
//
// Accepted document shapes: a bare string (target shorthand), a single
// mapping, or a sequence of either.
type TransitionsSpec struct {
	List []TransitionConfig
}

// TransitionConfig is the declarative definition of a single transition.
type TransitionConfig struct {
	Target StringList `json:"target,omitempty" yaml:"target,omitempty"`
	// Guard references a guard registered in the machine options.
	Guard string `json:"guard,omitempty" yaml:"guard,omitempty"`
	// In restricts the transition to configurations matching the given
	// state value or "#id" reference.
	In string `json:"in,omitempty" yaml:"in,omitempty"`
	// Internal forces the transition kind. When nil the kind is derived:
	// targetless transitions and transitions whose targets are all written
	// with a leading delimiter are internal, everything else is external.
	Internal *bool        `json:"internal,omitempty" yaml:"internal,omitempty"`
	Actions  []ActionSpec `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// InvokeConfig declares a service invocation on a state node. The service
// itself is external; the core only tracks the id and source reference.
type InvokeConfig struct {
	ID  string `json:"id,omitempty" yaml:"id,omitempty"`
	Src string `json:"src" yaml:"src"`
}

// ActionSpec references an action in a definition document: either a bare
// name resolved against the machine options, or a built-in action object
// (raise, send, log, ...) with its parameters.
type ActionSpec struct {
	Type string `json:"type" yaml:"type"`
	// Event is the event name for raise/send actions.
	Event string `json:"event,omitempty" yaml:"event,omitempty"`
	// Data is the payload for raise/send actions.
	Data any `json:"data,omitempty" yaml:"data,omitempty"`
	// Delay is a millisecond count or a named delay for send actions.
	Delay string `json:"delay,omitempty" yaml:"delay,omitempty"`
	// To is the send target; empty or "#_internal" targets the machine itself.
	To string `json:"to,omitempty" yaml:"to,omitempty"`
	// ID identifies a scheduled send for cancellation, or an activity.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`
	// Message is the label of a log action.
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
	// Params carries free-form parameters for custom actions.
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// StringList accepts either a single string or a list of strings.
type StringList []string

// FromYAML parses a machine definition document.
func FromYAML(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse machine definition: %w", err)
	}
	return &c, nil
}

// FromJSON parses a machine definition document.
func FromJSON(data []byte) (*Config, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var c Config
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("parse machine definition: %w", err)
	}
	return &c, nil
}

// root lowers the top-level config into a state config for compilation.
func (c *Config) root() *StateConfig {
	return &StateConfig{
		ID:         c.ID,
		Type:       c.Type,
		Initial:    c.Initial,
		Entry:      c.Entry,
		Exit:       c.Exit,
		On:         c.On,
		After:      c.After,
		Invoke:     c.Invoke,
		Activities: c.Activities,
		States:     c.States,
		Meta:       c.Meta,
		stateOrder: c.stateOrder,
		eventOrder: c.eventOrder,
	}
}

// --- document-order capture ---

// orderedKeys extracts the key order of a YAML mapping node.
func orderedKeys(node *yaml.Node) []string {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	keys := make([]string, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keys = append(keys, node.Content[i].Value)
	}
	return keys
}

// captureOrder records the document order of the "states" and "on" keys,
// and coerces numeric "after" keys to strings.
func captureOrder(node *yaml.Node) (states, events []string) {
	for i := 0; i+1 < len(node.Content); i += 2 {
		switch node.Content[i].Value {
		case "states":
			states = orderedKeys(node.Content[i+1])
		case "on":
			events = orderedKeys(node.Content[i+1])
		case "after":
			after := node.Content[i+1]
			if after.Kind == yaml.MappingNode {
				for j := 0; j+1 < len(after.Content); j += 2 {
					if after.Content[j].Tag == "!!int" {
						after.Content[j].Tag = "!!str"
					}
				}
			}
		}
	}
	return states, events
}

// UnmarshalYAML implements yaml.Unmarshaler, preserving document order.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	stateOrder, eventOrder := captureOrder(node)
	type plain Config
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = Config(p)
	c.stateOrder, c.eventOrder = stateOrder, eventOrder
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler, preserving document order.
func (s *StateConfig) UnmarshalYAML(node *yaml.Node) error {
	stateOrder, eventOrder := captureOrder(node)
	type plain StateConfig
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*s = StateConfig(p)
	s.stateOrder, s.eventOrder = stateOrder, eventOrder
	return nil
}

// --- flexible shapes ---

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *TransitionsSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			t.List = nil
			return nil
		}
		var target string
		if err := node.Decode(&target); err != nil {
			return err
		}
		t.List = []TransitionConfig{{Target: StringList{target}}}
		return nil
	case yaml.MappingNode:
		var one TransitionConfig
		if err := node.Decode(&one); err != nil {
			return err
		}
		t.List = []TransitionConfig{one}
		return nil
	case yaml.SequenceNode:
		t.List = nil
		for _, item := range node.Content {
			var sub TransitionsSpec
			if err := sub.UnmarshalYAML(item); err != nil {
				return err
			}
			t.List = append(t.List, sub.List...)
		}
		return nil
	default:
		return fmt.Errorf("line %d: invalid transition definition", node.Line)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *TransitionsSpec) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.List = nil
		return nil
	}
	switch data[0] {
	case '"':
		var target string
		if err := json.Unmarshal(data, &target); err != nil {
			return err
		}
		t.List = []TransitionConfig{{Target: StringList{target}}}
		return nil
	case '{':
		var one TransitionConfig
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		t.List = []TransitionConfig{one}
		return nil
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		t.List = nil
		for _, item := range raw {
			var sub TransitionsSpec
			if err := sub.UnmarshalJSON(item); err != nil {
				return err
			}
			t.List = append(t.List, sub.List...)
		}
		return nil
	default:
		return fmt.Errorf("invalid transition definition: %s", data)
	}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *ActionSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var name string
		if err := node.Decode(&name); err != nil {
			return err
		}
		*a = ActionSpec{Type: name}
		return nil
	}
	// Delays are commonly written as bare numbers; coerce to string.
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "delay" && node.Content[i+1].Tag == "!!int" {
			node.Content[i+1].Tag = "!!str"
		}
	}
	type plain ActionSpec
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*a = ActionSpec(p)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *ActionSpec) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*a = ActionSpec{Type: name}
		return nil
	}
	type plain struct {
		Type    string          `json:"type"`
		Event   string          `json:"event,omitempty"`
		Data    any             `json:"data,omitempty"`
		Delay   json.RawMessage `json:"delay,omitempty"`
		To      string          `json:"to,omitempty"`
		ID      string          `json:"id,omitempty"`
		Message string          `json:"message,omitempty"`
		Params  map[string]any  `json:"params,omitempty"`
	}
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = ActionSpec{
		Type:    p.Type,
		Event:   p.Event,
		Data:    p.Data,
		To:      p.To,
		ID:      p.ID,
		Message: p.Message,
		Params:  p.Params,
	}
	// Delays are commonly written as bare numbers; coerce to string.
	if len(p.Delay) > 0 {
		a.Delay = strings.Trim(string(p.Delay), `"`)
	}
	return nil
}

// MarshalJSON implements json.Marshaler: bare references render as strings.
func (a ActionSpec) MarshalJSON() ([]byte, error) {
	if a.Event == "" && a.Delay == "" && a.To == "" && a.ID == "" &&
		a.Message == "" && a.Data == nil && len(a.Params) == 0 {
		return json.Marshal(a.Type)
	}
	type plain ActionSpec
	return json.Marshal(plain(a))
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*l = nil
			return nil
		}
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	case yaml.SequenceNode:
		var ss []string
		if err := node.Decode(&ss); err != nil {
			return err
		}
		*l = StringList(ss)
		return nil
	default:
		return fmt.Errorf("line %d: invalid target list", node.Line)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	}
	var ss []string
	if err := json.Unmarshal(data, &ss); err != nil {
		return err
	}
	*l = StringList(ss)
	return nil
}
