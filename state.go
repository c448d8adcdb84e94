package machina

import (
	"sort"
)

// ActorRef addresses a spawned child actor. Actors are managed by the
// interpreter; the core only carries their references.
type ActorRef interface {
	// ID returns the actor's id, unique within its parent session.
	ID() string
	// Send delivers an event to the actor. Accepts a string or an Event.
	Send(event any) error
}

// State is one immutable snapshot of a machine interpretation: the active
// state value, the extended context, and everything the surrounding loop
// needs to execute the step's side effects.
type State[C any] struct {
	// Value is the hierarchical state value.
	Value StateValue
	// Context is the extended state after all assigns of the macrostep.
	Context C
	// Event is the external event that produced this state. Internal
	// events processed within the macrostep are not observable here.
	Event Event
	// HistoryValue records the most recently active subtrees for history
	// resolution.
	HistoryValue *HistoryValue
	// Actions holds the side-effect actions of the macrostep in canonical
	// order. Assign actions never appear here.
	Actions []Action[C]
	// Activities maps activity id to whether it is running.
	Activities map[string]bool
	// Meta maps active node ids to their metadata.
	Meta map[string]map[string]any
	// Transitions holds the transitions taken during the macrostep.
	Transitions []*Transition
	// Children holds references to spawned child actors by id.
	Children map[string]ActorRef
	// PrevState is the state this one was derived from. Its own PrevState
	// is always nil to cap the chain.
	PrevState *State[C]
	// Changed reports whether the macrostep assigned context, changed the
	// value, or emitted any action.
	Changed bool
	// Done reports whether the machine root reached a final state.
	Done bool

	configuration nodeSet
	delimiter     string
}

// Configuration returns the active state nodes in ascending document
// order.
func (s *State[C]) Configuration() []*StateNode {
	return s.configuration.ascending()
}

// Matches reports whether the state value matches the given partial
// value: a StateValue, a delimited path string, or a nested map.
func (s *State[C]) Matches(partial any) bool {
	var pv StateValue
	switch p := partial.(type) {
	case string:
		pv = ParseStateValue(p, s.delimiter)
	default:
		v, err := StateValueFrom(partial)
		if err != nil {
			return false
		}
		pv = v
	}
	return matchesValue(pv, s.Value)
}

// ToStrings flattens the state value into delimited path strings.
func (s *State[C]) ToStrings() []string {
	return s.Value.ToStrings(s.delimiter)
}

// NextEvents returns the distinct event names that have a transition
// declared on any active node, sorted.
func (s *State[C]) NextEvents() []string {
	seen := make(map[string]struct{})
	for n := range s.configuration {
		for _, name := range n.ownEvents() {
			seen[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// PersistedState is the serializable form of a state. Configuration and
// transitions are omitted; the configuration is recomputed from the value
// on restore.
type PersistedState struct {
	Value        StateValue        `json:"value"`
	Context      any               `json:"context,omitempty"`
	HistoryValue *HistoryValue     `json:"historyValue,omitempty"`
	Actions      []PersistedAction `json:"actions,omitempty"`
	Activities   map[string]bool   `json:"activities,omitempty"`
	Meta         map[string]any    `json:"meta,omitempty"`
	Children     []string          `json:"children,omitempty"`
	Event        Event             `json:"_event"`
}

// PersistedAction is the serializable form of an emitted action. Closures
// do not survive persistence, and persisted actions are not restored.
type PersistedAction struct {
	Type     string         `json:"type"`
	Event    *Event         `json:"event,omitempty"`
	To       string         `json:"to,omitempty"`
	Delay    string         `json:"delay,omitempty"`
	SendID   string         `json:"sendId,omitempty"`
	Activity string         `json:"activity,omitempty"`
	Src      string         `json:"src,omitempty"`
	Message  string         `json:"message,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
}

// Persist returns the serializable form of the state.
func (s *State[C]) Persist() PersistedState {
	p := PersistedState{
		Value:        s.Value,
		Context:      s.Context,
		HistoryValue: s.HistoryValue,
		Activities:   s.Activities,
		Event:        s.Event,
	}
	if len(s.Meta) > 0 {
		p.Meta = make(map[string]any, len(s.Meta))
		for id, meta := range s.Meta {
			p.Meta[id] = meta
		}
	}
	for id := range s.Children {
		p.Children = append(p.Children, id)
	}
	sort.Strings(p.Children)
	for _, a := range s.Actions {
		pa := PersistedAction{
			Type:     a.Type,
			To:       a.To,
			Delay:    a.DelayRef,
			SendID:   a.SendID,
			Activity: a.Activity,
			Src:      a.Src,
			Message:  a.Message,
			Params:   a.Params,
		}
		if a.Event.Name != "" {
			ev := a.Event
			pa.Event = &ev
		}
		p.Actions = append(p.Actions, pa)
	}
	return p
}
