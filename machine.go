package machina

import (
	"fmt"
	"sort"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Service is a long-running invocation started when its owning node is
// entered. The interpreter runs it and feeds the result back as a
// done.invoke or error.platform event.
type Service[C any] func(ctx C, event Event) (any, error)

// Activity is a long-running side effect started on entry and stopped on
// exit. The returned function stops the activity.
type Activity[C any] func(ctx C, event Event) (stop func())

// Options carries the late-bound implementations referenced by name from
// the definition. Machines can be cloned with overridden options.
type Options[C any] struct {
	Actions    map[string]Action[C]
	Guards     map[string]Guard[C]
	Services   map[string]Service[C]
	Delays     map[string]time.Duration
	Activities map[string]Activity[C]
}

// merged returns a copy of o with the entries of other laid over it.
func (o Options[C]) merged(other Options[C]) Options[C] {
	out := Options[C]{
		Actions:    mergeMaps(o.Actions, other.Actions),
		Guards:     mergeMaps(o.Guards, other.Guards),
		Services:   mergeMaps(o.Services, other.Services),
		Delays:     mergeMaps(o.Delays, other.Delays),
		Activities: mergeMaps(o.Activities, other.Activities),
	}
	return out
}

func mergeMaps[V any](base, over map[string]V) map[string]V {
	if len(over) == 0 {
		return base
	}
	out := make(map[string]V, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

// Machine is a compiled, immutable statechart definition together with
// its option table. Machines are safe to share between goroutines; all
// interpretation state lives in State values.
type Machine[C any] struct {
	root           *StateNode
	idMap          map[string]*StateNode
	options        Options[C]
	initialContext C
	strict         bool
	delimiter      string
	warnings       []ValidationIssue
	declaredEvents map[string]struct{}
}

// NewMachine compiles a declarative config into a machine. The config's
// context map, when present, is decoded into the typed context.
// Definition-time errors (invalid initial states, malformed transitions)
// abort construction with a *ValidationError.
func NewMachine[C any](cfg *Config, options ...Options[C]) (*Machine[C], error) {
	root, idMap, verr := compile(cfg)
	if root == nil {
		return nil, verr
	}
	m := &Machine[C]{
		root:      root,
		idMap:     idMap,
		strict:    cfg.Strict,
		delimiter: cfg.Delimiter,
		warnings:  verr.Warnings(),
	}
	if m.delimiter == "" {
		m.delimiter = DefaultDelimiter
	}
	for _, o := range options {
		m.options = m.options.merged(o)
	}
	if cfg.Context != nil {
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &m.initialContext,
			WeaklyTypedInput: true,
			TagName:          "json",
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(cfg.Context); err != nil {
			return nil, fmt.Errorf("decode machine context: %w", err)
		}
	}
	m.declaredEvents = make(map[string]struct{})
	for _, n := range append([]*StateNode{root}, descendants(root)...) {
		for _, name := range n.ownEvents() {
			m.declaredEvents[name] = struct{}{}
		}
	}
	return m, nil
}

// MustMachine is NewMachine, panicking on error. Intended for statically
// known definitions.
func MustMachine[C any](cfg *Config, options ...Options[C]) *Machine[C] {
	m, err := NewMachine(cfg, options...)
	if err != nil {
		panic(err)
	}
	return m
}

// WithOptions returns a shallow clone of the machine with the given
// option entries laid over the existing ones.
func (m *Machine[C]) WithOptions(options Options[C]) *Machine[C] {
	clone := *m
	clone.options = m.options.merged(options)
	return &clone
}

// WithContext returns a shallow clone of the machine with a different
// initial context.
func (m *Machine[C]) WithContext(ctx C) *Machine[C] {
	clone := *m
	clone.initialContext = ctx
	return &clone
}

// ID returns the machine id.
func (m *Machine[C]) ID() string { return m.root.ID }

// Root returns the root state node.
func (m *Machine[C]) Root() *StateNode { return m.root }

// Delimiter returns the machine's path delimiter.
func (m *Machine[C]) Delimiter() string { return m.delimiter }

// Warnings returns the non-fatal issues found at construction.
func (m *Machine[C]) Warnings() []ValidationIssue { return m.warnings }

// StateNodeByID returns the node with the given id.
func (m *Machine[C]) StateNodeByID(id string) (*StateNode, error) {
	node, ok := m.idMap[id]
	if !ok {
		return nil, &UnknownStateError{ID: id}
	}
	return node, nil
}

// Events returns the distinct event names declared by the machine,
// sorted.
func (m *Machine[C]) Events() []string {
	out := make([]string, 0, len(m.declaredEvents))
	for name := range m.declaredEvents {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Resolve expands a partial state value into a full one consistent with
// the definition: missing compound children fill in with their initial
// state, partial parallels fill in missing regions.
func (m *Machine[C]) Resolve(partial any) (StateValue, error) {
	pv, err := StateValueFrom(partial)
	if err != nil {
		return StateValue{}, err
	}
	return resolveValue(m.root, pv)
}

// RestoreState rebuilds a live state from a persisted value, context and
// history. The value may be partial; the configuration is recomputed. The
// restored state carries no transitions and no actions.
func (m *Machine[C]) RestoreState(value any, ctx C, hv *HistoryValue) (State[C], error) {
	resolved, err := m.Resolve(value)
	if err != nil {
		return State[C]{}, err
	}
	config, err := configurationFromValue(m.root, resolved)
	if err != nil {
		return State[C]{}, err
	}
	return State[C]{
		Value:         resolved,
		Context:       ctx,
		Event:         Event{Name: InitEvent},
		HistoryValue:  hv,
		Activities:    map[string]bool{},
		Meta:          m.metaFor(config),
		Done:          isInFinalState(config, m.root),
		configuration: config,
		delimiter:     m.delimiter,
	}, nil
}

// checkEvent rejects the reserved wildcard name and, in strict mode,
// unknown non-built-in events.
func (m *Machine[C]) checkEvent(ev Event) error {
	if ev.Name == WildcardEvent {
		return fmt.Errorf("%q is reserved and cannot be sent as an event", WildcardEvent)
	}
	if !m.strict || ev.Name == NullEvent || isBuiltinEvent(ev.Name) {
		return nil
	}
	if _, ok := m.declaredEvents[ev.Name]; !ok {
		return &UnknownEventError{Name: ev.Name}
	}
	return nil
}

// metaFor collects the metadata of the active nodes by id.
func (m *Machine[C]) metaFor(config nodeSet) map[string]map[string]any {
	var meta map[string]map[string]any
	for n := range config {
		if len(n.Meta) == 0 {
			continue
		}
		if meta == nil {
			meta = make(map[string]map[string]any)
		}
		meta[n.ID] = n.Meta
	}
	return meta
}
