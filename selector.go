package machina

import (
	"fmt"
	"sort"
	"strings"
)

// Guard is a predicate evaluated against the pre-transition context and
// the triggering event. A non-nil error marks the guard evaluation itself
// as failed and aborts the step.
type Guard[C any] func(ctx C, event Event) (bool, error)

// selectTransitions performs the selection half of a microstep: for every
// active atomic region it walks from the leaf toward the root, takes the
// first enabled transition in document order, and resolves conflicts
// between parallel regions by ascending source order.
//
// An empty result is a valid no-op microstep.
func (m *Machine[C]) selectTransitions(config nodeSet, value StateValue, ctx C, event Event) ([]*Transition, error) {
	selected := make(map[*Transition]struct{})
	var ordered []*Transition

	for _, leaf := range activeLeaves(config) {
		t, err := m.selectForRegion(leaf, config, value, ctx, event)
		if err != nil {
			return nil, err
		}
		if t == nil {
			continue
		}
		if _, dup := selected[t]; dup {
			continue
		}
		selected[t] = struct{}{}
		ordered = append(ordered, t)
	}

	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Source.Order < ordered[j].Source.Order
	})
	return m.resolveConflicts(ordered, config), nil
}

// selectForRegion walks from an active leaf up through its ancestors and
// returns the first enabled transition, or nil when the region stays put.
// A forbidden transition consumes the event and stops the walk.
func (m *Machine[C]) selectForRegion(leaf *StateNode, config nodeSet, value StateValue, ctx C, event Event) (*Transition, error) {
	for node := leaf; node != nil; node = node.parent {
		for _, t := range node.transitionsFor(event.Name) {
			if t.Forbidden {
				return nil, nil
			}
			enabled, err := m.transitionEnabled(t, value, ctx, event)
			if err != nil {
				return nil, err
			}
			if enabled {
				return t, nil
			}
		}
	}
	return nil, nil
}

// transitionEnabled evaluates the guard and in-state predicate of a
// candidate.
func (m *Machine[C]) transitionEnabled(t *Transition, value StateValue, ctx C, event Event) (bool, error) {
	if t.In != "" {
		ok, err := m.inStateMatches(t.In, value)
		if err != nil || !ok {
			return false, err
		}
	}
	if t.Guard == "" {
		return true, nil
	}
	guard, ok := m.options.Guards[t.Guard]
	if !ok {
		return false, &UnknownGuardError{Name: t.Guard}
	}
	pass, err := evalGuard(guard, ctx, event)
	if err != nil {
		return false, &GuardError{Guard: t.Guard, SourceID: t.Source.ID, Event: event, Err: err}
	}
	return pass, nil
}

// evalGuard runs a guard, converting a panic in user code into an error.
func evalGuard[C any](guard Guard[C], ctx C, event Event) (pass bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("guard panicked: %v", r)
		}
	}()
	return guard(ctx, event)
}

// inStateMatches evaluates an in-state predicate: "#id" checks node
// membership by id, anything else is parsed as a state value and matched
// against the current value.
func (m *Machine[C]) inStateMatches(in string, value StateValue) (bool, error) {
	if strings.HasPrefix(in, "#") {
		node := m.idMap[in[1:]]
		if node == nil {
			return false, &UnknownStateError{ID: in[1:]}
		}
		return matchesValue(m.relativeValue(node), value), nil
	}
	return matchesValue(ParseStateValue(in, m.delimiter), value), nil
}

// relativeValue renders the path of a node as a partial state value for
// matching.
func (m *Machine[C]) relativeValue(node *StateNode) StateValue {
	if len(node.Path) == 0 {
		return StateValue{}
	}
	return ParseStateValue(strings.Join(node.Path, m.delimiter), m.delimiter)
}

// resolveConflicts discards transitions whose exit sets intersect a
// transition selected by an earlier-ordered region.
func (m *Machine[C]) resolveConflicts(ordered []*Transition, config nodeSet) []*Transition {
	if len(ordered) <= 1 {
		return ordered
	}
	var kept []*Transition
	var keptExits []nodeSet
	for _, t := range ordered {
		exits := transitionExitSet(t, config)
		conflict := false
		for _, prev := range keptExits {
			if intersects(prev, exits) {
				conflict = true
				break
			}
		}
		if conflict {
			continue
		}
		kept = append(kept, t)
		keptExits = append(keptExits, exits)
	}
	return kept
}

// transitionExitSet computes the nodes a transition would exit, including
// its domain boundary for overlap detection.
func transitionExitSet(t *Transition, config nodeSet) nodeSet {
	domain, changes := transitionDomain(t)
	if !changes {
		return nodeSet{}
	}
	exits := computeExitSet(config, domain)
	return exits
}

func intersects(a, b nodeSet) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for n := range a {
		if b.has(n) {
			return true
		}
	}
	return false
}
