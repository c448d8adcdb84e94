package machina

import (
	"sort"
	"strconv"
	"strings"
	"sync"
)

// DefaultDelimiter separates path segments in derived ids and state value
// strings.
const DefaultDelimiter = "."

// StateNode is an immutable node of the compiled definition tree.
type StateNode struct {
	// ID is globally unique within the machine: user-supplied, or derived
	// as <machineKey><delim><path joined by delim>.
	ID string
	// Key is the node's key within its parent.
	Key string
	// Path is the ordered sequence of keys from the root.
	Path []string
	// Type is the node kind.
	Type StateType
	// History is the history kind for history nodes, HistoryNone otherwise.
	History HistoryType
	// Order is the pre-order depth-first number of the node, used for all
	// deterministic tie-breaks.
	Order int
	// Initial is the initial child key of a compound node.
	Initial string
	// Entry and Exit are the node's entry and exit action references.
	Entry []ActionSpec
	Exit  []ActionSpec
	// Transitions holds the node's transitions in document order.
	Transitions []*Transition
	// Invocations are the services started while the node is active.
	Invocations []InvokeConfig
	// Activities are the activity ids started while the node is active.
	Activities []string
	// Data is attached to final nodes and carried on their done events.
	Data map[string]any
	// Meta is free-form metadata.
	Meta map[string]any

	parent     *StateNode
	children   map[string]*StateNode
	childOrder []string
	delimiter  string

	// historyTarget is the resolved default target of a history node.
	historyTarget *StateNode

	eventsOnce sync.Once
	events     []string
	byEvent    map[string][]*Transition
	eventOrder []string
}

// Transition is a compiled transition definition.
type Transition struct {
	// Event is the pattern: a concrete name, NullEvent, or WildcardEvent.
	Event string
	// Source is the node the transition is declared on.
	Source *StateNode
	// Targets are the resolved target nodes; empty for targetless
	// transitions.
	Targets []*StateNode
	// TargetRefs preserves the written target references.
	TargetRefs []string
	// Guard references a guard in the machine options; empty means none.
	Guard string
	// In restricts the transition to matching configurations.
	In string
	// Internal transitions do not exit and re-enter their source subtree.
	Internal bool
	// Forbidden transitions consume their event without firing.
	Forbidden bool
	// Actions are executed between the exit and entry phases.
	Actions []ActionSpec
}

// Parent returns the parent node, or nil for the root.
func (n *StateNode) Parent() *StateNode { return n.parent }

// Children returns the child nodes in document order.
func (n *StateNode) Children() []*StateNode {
	out := make([]*StateNode, 0, len(n.childOrder))
	for _, key := range n.childOrder {
		out = append(out, n.children[key])
	}
	return out
}

// Child returns the child with the given key, or nil.
func (n *StateNode) Child(key string) *StateNode { return n.children[key] }

// isLeaf reports whether the node has no enterable children.
func (n *StateNode) isLeaf() bool {
	switch n.Type {
	case StateTypeCompound, StateTypeParallel:
		return len(n.children) == 0
	default:
		return true
	}
}

// initialChild returns the child entered by default, or nil when the node
// has none (atomic, final, or an initial-less compound falling back to
// itself).
func (n *StateNode) initialChild() *StateNode {
	if n.Type != StateTypeCompound {
		return nil
	}
	if n.Initial != "" {
		return n.children[n.Initial]
	}
	return nil
}

// regions returns the non-history children of a parallel node in document
// order.
func (n *StateNode) regions() []*StateNode {
	var out []*StateNode
	for _, child := range n.Children() {
		if child.Type != StateTypeHistory {
			out = append(out, child)
		}
	}
	return out
}

// transitionsFor returns the candidate transitions on this node for the
// given event name: exact matches first, then wildcard matches for named
// events. The wildcard never matches the null event.
func (n *StateNode) transitionsFor(name string) []*Transition {
	n.indexTransitions()
	candidates := n.byEvent[name]
	if name == NullEvent {
		return candidates
	}
	if wild := n.byEvent[WildcardEvent]; len(wild) > 0 && name != WildcardEvent {
		candidates = append(append([]*Transition(nil), candidates...), wild...)
	}
	return candidates
}

// ownEvents returns the distinct event names declared on this node.
func (n *StateNode) ownEvents() []string {
	n.indexTransitions()
	return n.events
}

// indexTransitions lazily builds the per-event transition index. The index
// is a pure function of the immutable definition.
func (n *StateNode) indexTransitions() {
	n.eventsOnce.Do(func() {
		n.byEvent = make(map[string][]*Transition)
		for _, t := range n.Transitions {
			if _, seen := n.byEvent[t.Event]; !seen {
				n.eventOrder = append(n.eventOrder, t.Event)
			}
			n.byEvent[t.Event] = append(n.byEvent[t.Event], t)
		}
		for _, name := range n.eventOrder {
			if name != NullEvent && name != WildcardEvent {
				n.events = append(n.events, name)
			}
		}
	})
}

// --- compilation ---

// compiler builds the immutable node tree from a declarative config.
type compiler struct {
	machineKey string
	delimiter  string
	idMap      map[string]*StateNode
	errs       *ValidationError
	order      int

	// pending transition compilation, run once the whole tree exists so
	// targets can reference any node.
	pending []pendingState
}

type pendingState struct {
	node *StateNode
	cfg  *StateConfig
	path []string
	// after holds synthesized delayed-transition events in delay order.
	after []afterEntry
}

type afterEntry struct {
	event string
	spec  *TransitionsSpec
}

func compile(cfg *Config) (*StateNode, map[string]*StateNode, *ValidationError) {
	delim := cfg.Delimiter
	if delim == "" {
		delim = DefaultDelimiter
	}
	c := &compiler{
		machineKey: cfg.ID,
		delimiter:  delim,
		idMap:      make(map[string]*StateNode),
		errs:       &ValidationError{},
	}
	root := c.buildNode(cfg.root(), cfg.ID, nil, nil)
	for i := range c.pending {
		c.compileTransitions(&c.pending[i])
	}
	if c.errs.fatal() {
		return nil, nil, c.errs
	}
	return root, c.idMap, c.errs
}

func (c *compiler) buildNode(cfg *StateConfig, key string, parent *StateNode, path []string) *StateNode {
	node := &StateNode{
		Key:         key,
		Path:        append([]string(nil), path...),
		Order:       c.order,
		Data:        cfg.Data,
		Meta:        cfg.Meta,
		Activities:  cfg.Activities,
		Invocations: append([]InvokeConfig(nil), cfg.Invoke...),
		parent:      parent,
		children:    make(map[string]*StateNode),
		delimiter:   c.delimiter,
	}
	c.order++

	statePath := configPath(path)
	node.Type = c.nodeType(cfg, statePath)
	if node.Type == StateTypeHistory {
		node.History = HistoryShallow
		if cfg.History == "deep" {
			node.History = HistoryDeep
		}
	}
	node.Initial = cfg.Initial

	node.ID = cfg.ID
	if node.ID == "" {
		if parent == nil {
			node.ID = c.machineKey
		} else {
			node.ID = c.machineKey + c.delimiter + strings.Join(path, c.delimiter)
		}
	}
	if _, dup := c.idMap[node.ID]; dup {
		c.errs.add(CodeDuplicateID, "state id "+strconv.Quote(node.ID)+" is not unique", statePath...)
	}
	c.idMap[node.ID] = node

	node.Entry = append([]ActionSpec(nil), cfg.Entry...)
	node.Exit = append([]ActionSpec(nil), cfg.Exit...)

	// Delayed transitions desugar into a synthesized event per delay: a
	// delayed send on entry, a cancel on exit, and a plain transition.
	after := c.desugarAfter(node, cfg, statePath)

	for _, childKey := range stateKeys(cfg) {
		childCfg := cfg.States[childKey]
		if childCfg == nil {
			childCfg = &StateConfig{}
		}
		child := c.buildNode(childCfg, childKey, node, append(path, childKey))
		node.children[childKey] = child
		node.childOrder = append(node.childOrder, childKey)
	}

	c.validateNode(node, cfg, statePath)
	c.pending = append(c.pending, pendingState{node: node, cfg: cfg, path: statePath, after: after})
	return node
}

func (c *compiler) nodeType(cfg *StateConfig, path []string) StateType {
	switch cfg.Type {
	case "":
		if cfg.History != "" {
			return StateTypeHistory
		}
		if len(cfg.States) > 0 {
			return StateTypeCompound
		}
		return StateTypeAtomic
	case "atomic":
		return StateTypeAtomic
	case "compound":
		return StateTypeCompound
	case "parallel":
		return StateTypeParallel
	case "history":
		return StateTypeHistory
	case "final":
		return StateTypeFinal
	default:
		c.errs.add(CodeInvalidType, "unknown state type "+strconv.Quote(cfg.Type), path...)
		return StateTypeAtomic
	}
}

func (c *compiler) desugarAfter(node *StateNode, cfg *StateConfig, path []string) []afterEntry {
	if len(cfg.After) == 0 {
		return nil
	}
	var out []afterEntry
	for _, delay := range delayKeys(cfg.After) {
		spec := cfg.After[delay]
		if spec == nil || len(spec.List) == 0 {
			continue
		}
		if ms, err := strconv.Atoi(delay); err == nil && ms < 0 {
			c.errs.add(CodeInvalidDelay, "negative delay "+strconv.Quote(delay), path...)
			continue
		}
		eventName := AfterEvent(delay, node.ID)
		node.Entry = append(node.Entry, ActionSpec{
			Type:  ActionSend,
			Event: eventName,
			Delay: delay,
			ID:    eventName,
		})
		node.Exit = append(node.Exit, ActionSpec{
			Type: ActionCancel,
			ID:   eventName,
		})
		out = append(out, afterEntry{event: eventName, spec: spec})
	}
	return out
}

func (c *compiler) validateNode(node *StateNode, cfg *StateConfig, path []string) {
	switch node.Type {
	case StateTypeCompound:
		if node.Initial == "" {
			if len(node.children) > 0 {
				c.errs.warn(CodeMissingInitial,
					"compound state has no initial child and falls back to itself", path...)
			}
		} else if node.children[node.Initial] == nil {
			c.errs.add(CodeInvalidInitial,
				"initial state "+strconv.Quote(node.Initial)+" is not a child", path...)
		}
	case StateTypeHistory:
		if len(cfg.States) > 0 {
			c.errs.add(CodeInvalidHistory, "history state cannot have children", path...)
		}
		if node.parent == nil {
			c.errs.add(CodeInvalidHistory, "history state requires a parent", path...)
		}
	case StateTypeParallel:
		if node.Initial != "" {
			c.errs.warn(CodeInvalidInitial, "parallel state ignores its initial key", path...)
		}
	}
}

func (c *compiler) compileTransitions(p *pendingState) {
	node, cfg, path := p.node, p.cfg, p.path

	// History default targets resolve with the same rules as transition
	// targets, relative to the history node.
	if node.Type == StateTypeHistory && cfg.Target != "" {
		if target := c.resolveTarget(node, cfg.Target, path); target != nil {
			node.historyTarget = target
		}
	}

	for _, eventName := range eventKeys(cfg) {
		spec, present := cfg.On[eventName]
		if !present {
			continue
		}
		c.compileEvent(node, eventName, spec, path)
	}
	for _, entry := range p.after {
		c.compileEvent(node, entry.event, entry.spec, path)
	}
}

func (c *compiler) compileEvent(node *StateNode, eventName string, spec *TransitionsSpec, path []string) {
	transPath := append(append([]string(nil), path...), "on", eventName)
	if spec == nil || len(spec.List) == 0 {
		// An explicitly null (or empty) entry forbids the event.
		node.Transitions = append(node.Transitions, &Transition{
			Event:     eventName,
			Source:    node,
			Internal:  true,
			Forbidden: true,
		})
		return
	}
	unguardedSeen := false
	for i, tc := range spec.List {
		t := &Transition{
			Event:      eventName,
			Source:     node,
			TargetRefs: append([]string(nil), tc.Target...),
			Guard:      tc.Guard,
			In:         tc.In,
			Actions:    append([]ActionSpec(nil), tc.Actions...),
		}
		allChildRefs := len(tc.Target) > 0
		for _, ref := range tc.Target {
			if !strings.HasPrefix(ref, c.delimiter) {
				allChildRefs = false
			}
			if target := c.resolveTarget(node, ref, transPath); target != nil {
				t.Targets = append(t.Targets, target)
			}
		}
		if tc.Internal != nil {
			t.Internal = *tc.Internal
		} else {
			t.Internal = len(tc.Target) == 0 || allChildRefs
		}
		if unguardedSeen {
			c.errs.warn(CodeUnreachableGuard,
				"transition "+strconv.Itoa(i)+" is unreachable: an earlier unguarded transition always fires",
				transPath...)
		}
		if tc.Guard == "" && tc.In == "" {
			unguardedSeen = true
		}
		node.Transitions = append(node.Transitions, t)
	}
}

// resolveTarget resolves a target reference relative to the source node:
// "#id" references a node by id, a leading delimiter references a
// descendant of the source, and a plain key references a sibling (a child
// of the source's parent), falling back to a full id lookup.
func (c *compiler) resolveTarget(source *StateNode, ref string, path []string) *StateNode {
	if ref == "" {
		c.errs.add(CodeInvalidTarget, "empty transition target", path...)
		return nil
	}
	if strings.HasPrefix(ref, "#") {
		if node := c.idMap[ref[1:]]; node != nil {
			return node
		}
		c.errs.add(CodeInvalidTarget, "no state with id "+strconv.Quote(ref[1:]), path...)
		return nil
	}
	if strings.HasPrefix(ref, c.delimiter) {
		if node := descend(source, strings.Split(ref[len(c.delimiter):], c.delimiter)); node != nil {
			return node
		}
		c.errs.add(CodeInvalidTarget,
			strconv.Quote(ref)+" does not name a descendant of "+strconv.Quote(source.ID), path...)
		return nil
	}
	segments := strings.Split(ref, c.delimiter)
	scope := source.parent
	if scope == nil {
		scope = source
	}
	if node := descend(scope, segments); node != nil {
		return node
	}
	if node := c.idMap[ref]; node != nil {
		return node
	}
	c.errs.add(CodeInvalidTarget,
		"cannot resolve target "+strconv.Quote(ref)+" from state "+strconv.Quote(source.ID), path...)
	return nil
}

func descend(from *StateNode, segments []string) *StateNode {
	node := from
	for _, seg := range segments {
		node = node.children[seg]
		if node == nil {
			return nil
		}
	}
	return node
}

// --- key ordering helpers ---

// stateKeys returns child keys in document order when the definition came
// from YAML or the Builder, sorted order otherwise.
func stateKeys(cfg *StateConfig) []string {
	if len(cfg.stateOrder) == len(cfg.States) {
		return cfg.stateOrder
	}
	keys := make([]string, 0, len(cfg.States))
	for k := range cfg.States {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// eventKeys returns event keys in document order when available, with the
// sorted fallback placing the null event first.
func eventKeys(cfg *StateConfig) []string {
	if len(cfg.eventOrder) == len(cfg.On) {
		return cfg.eventOrder
	}
	keys := make([]string, 0, len(cfg.On))
	for k := range cfg.On {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func delayKeys(after map[string]*TransitionsSpec) []string {
	keys := make([]string, 0, len(after))
	for k := range after {
		keys = append(keys, k)
	}
	// Numeric delays sort by duration, named delays after them by name.
	sort.Slice(keys, func(i, j int) bool {
		di, ierr := strconv.Atoi(keys[i])
		dj, jerr := strconv.Atoi(keys[j])
		switch {
		case ierr == nil && jerr == nil:
			return di < dj
		case ierr == nil:
			return true
		case jerr == nil:
			return false
		default:
			return keys[i] < keys[j]
		}
	})
	return keys
}

func configPath(path []string) []string {
	if len(path) == 0 {
		return nil
	}
	out := make([]string, 0, len(path)*2)
	for _, seg := range path {
		out = append(out, "states", seg)
	}
	return out
}
