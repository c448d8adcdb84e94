package machina

import "sort"

// nodeSet is an unordered set of active state nodes. Ordered views are
// always derived by sorting on Order.
type nodeSet map[*StateNode]struct{}

func newNodeSet(nodes ...*StateNode) nodeSet {
	s := make(nodeSet, len(nodes))
	for _, n := range nodes {
		s[n] = struct{}{}
	}
	return s
}

func (s nodeSet) add(n *StateNode)      { s[n] = struct{}{} }
func (s nodeSet) has(n *StateNode) bool { _, ok := s[n]; return ok }

func (s nodeSet) clone() nodeSet {
	out := make(nodeSet, len(s))
	for n := range s {
		out[n] = struct{}{}
	}
	return out
}

// ascending returns the set ordered by ascending document order.
func (s nodeSet) ascending() []*StateNode {
	out := make([]*StateNode, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// descending returns the set ordered by descending document order.
func (s nodeSet) descending() []*StateNode {
	out := s.ascending()
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// properAncestors returns the ancestors of n from its parent upward,
// stopping before upTo. A nil upTo walks to the root inclusive.
func properAncestors(n, upTo *StateNode) []*StateNode {
	var out []*StateNode
	for p := n.parent; p != nil && p != upTo; p = p.parent {
		out = append(out, p)
	}
	return out
}

// isDescendantOf reports whether n is a proper descendant of ancestor.
func isDescendantOf(n, ancestor *StateNode) bool {
	for p := n.parent; p != nil; p = p.parent {
		if p == ancestor {
			return true
		}
	}
	return false
}

// descendants returns all proper descendants of n in document order.
func descendants(n *StateNode) []*StateNode {
	var out []*StateNode
	var walk func(*StateNode)
	walk = func(node *StateNode) {
		for _, child := range node.Children() {
			out = append(out, child)
			walk(child)
		}
	}
	walk(n)
	return out
}

// LeafDescendants returns the leaf descendants of n in document order, or
// n itself when it is a leaf. History nodes are skipped.
func (n *StateNode) LeafDescendants() []*StateNode {
	if n.isLeaf() {
		return []*StateNode{n}
	}
	var out []*StateNode
	for _, child := range n.Children() {
		if child.Type == StateTypeHistory {
			continue
		}
		out = append(out, child.LeafDescendants()...)
	}
	return out
}

// lccaOfSet returns the least common compound ancestor of the given nodes:
// the closest common proper ancestor whose type is compound, or the machine
// root. Parallel ancestors are skipped.
func lccaOfSet(nodes []*StateNode) *StateNode {
	if len(nodes) == 0 {
		return nil
	}
	for _, anc := range properAncestors(nodes[0], nil) {
		if anc.Type != StateTypeCompound && anc.parent != nil {
			continue
		}
		common := true
		for _, n := range nodes[1:] {
			if !isDescendantOf(n, anc) {
				common = false
				break
			}
		}
		if common {
			return anc
		}
	}
	// nodes[0] is the root itself.
	return nodes[0]
}

// activeLeaves returns the active atomic leaves of the configuration in
// ascending document order.
func activeLeaves(config nodeSet) []*StateNode {
	var out []*StateNode
	for _, n := range config.ascending() {
		leaf := true
		for c := range config {
			if c.parent == n {
				leaf = false
				break
			}
		}
		if leaf {
			out = append(out, n)
		}
	}
	return out
}

// isInFinalState reports whether the node has reached a final
// configuration: a compound is final when its active child is final, a
// parallel when every region is final.
func isInFinalState(config nodeSet, n *StateNode) bool {
	switch n.Type {
	case StateTypeCompound:
		for _, child := range n.Children() {
			if child.Type == StateTypeFinal && config.has(child) {
				return true
			}
		}
		return false
	case StateTypeParallel:
		for _, region := range n.regions() {
			if !isInFinalState(config, region) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// historyResolver resolves a history node to the target nodes it restores.
type historyResolver func(h *StateNode) []*StateNode

// computeEntrySet computes the set of nodes entered when taking a
// transition with the given targets under the given domain. History nodes
// are resolved through the supplied resolver and never appear in the
// result.
func computeEntrySet(targets []*StateNode, domain *StateNode, resolve historyResolver) nodeSet {
	entry := make(nodeSet)
	for _, t := range targets {
		addDescendantsToEnter(entry, t, resolve)
		addAncestorsToEnter(entry, t, domain, resolve)
	}
	return entry
}

func addDescendantsToEnter(entry nodeSet, node *StateNode, resolve historyResolver) {
	if node.Type == StateTypeHistory {
		for _, t := range resolve(node) {
			addDescendantsToEnter(entry, t, resolve)
			addAncestorsToEnter(entry, t, node.parent, resolve)
		}
		return
	}
	entry.add(node)
	switch node.Type {
	case StateTypeCompound:
		child := node.initialChild()
		if child == nil {
			// Initial-less compound falls back to itself.
			return
		}
		addDescendantsToEnter(entry, child, resolve)
	case StateTypeParallel:
		for _, region := range node.regions() {
			if !hasDescendantIn(entry, region) {
				addDescendantsToEnter(entry, region, resolve)
			}
		}
	}
}

func addAncestorsToEnter(entry nodeSet, node, upTo *StateNode, resolve historyResolver) {
	for _, anc := range properAncestors(node, upTo) {
		entry.add(anc)
		if anc.Type == StateTypeParallel {
			for _, region := range anc.regions() {
				if !hasDescendantIn(entry, region) {
					addDescendantsToEnter(entry, region, resolve)
				}
			}
		}
	}
}

func hasDescendantIn(entry nodeSet, region *StateNode) bool {
	for n := range entry {
		if n == region || isDescendantOf(n, region) {
			return true
		}
	}
	return false
}

// computeExitSet returns the active proper descendants of the domain.
func computeExitSet(config nodeSet, domain *StateNode) nodeSet {
	exit := make(nodeSet)
	for n := range config {
		if isDescendantOf(n, domain) {
			exit.add(n)
		}
	}
	return exit
}

// transitionDomain determines the subtree a transition operates on.
// Internal transitions whose targets stay within the source keep the
// source as domain; targetless internal transitions have no domain (no
// configuration change). External transitions use the least common
// compound ancestor of the source and all targets.
func transitionDomain(t *Transition) (*StateNode, bool) {
	if len(t.Targets) == 0 {
		return nil, false
	}
	if t.Internal {
		within := true
		for _, target := range t.Targets {
			if target != t.Source && !isDescendantOf(target, t.Source) {
				within = false
				break
			}
		}
		if within {
			all := true
			for _, target := range t.Targets {
				if target != t.Source {
					all = false
					break
				}
			}
			if all {
				// Internal self-transition: actions only.
				return nil, false
			}
			if t.Source.Type == StateTypeCompound || t.Source.Type == StateTypeParallel {
				return t.Source, true
			}
		}
	}
	nodes := append([]*StateNode{t.Source}, t.Targets...)
	return lccaOfSet(nodes), true
}

// getConfiguration extends the given nodes with all required ancestors and
// initial descendants, yielding a well-formed configuration.
func getConfiguration(nodes []*StateNode, resolve historyResolver) nodeSet {
	entry := computeEntrySet(nodes, nil, resolve)
	config := make(nodeSet, len(entry))
	for n := range entry {
		config.add(n)
		for _, anc := range properAncestors(n, nil) {
			config.add(anc)
		}
	}
	return config
}

// configurationFromValue rebuilds the active node set described by a
// (fully resolved) state value.
func configurationFromValue(root *StateNode, value StateValue) (nodeSet, error) {
	config := newNodeSet(root)
	var walk func(node *StateNode, v StateValue) error
	walk = func(node *StateNode, v StateValue) error {
		if v.IsLeaf() {
			if v.Leaf == "" {
				return nil
			}
			child := node.Child(v.Leaf)
			if child == nil {
				return &UnknownStateError{ID: node.ID + node.delimiter + v.Leaf}
			}
			config.add(child)
			return nil
		}
		for key, sub := range v.Children {
			child := node.Child(key)
			if child == nil {
				return &UnknownStateError{ID: node.ID + node.delimiter + key}
			}
			config.add(child)
			if err := walk(child, sub); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root, value); err != nil {
		return nil, err
	}
	return config, nil
}

// valueFromConfiguration derives the state value view of a configuration.
func valueFromConfiguration(root *StateNode, config nodeSet) StateValue {
	return subValue(root, config)
}

func subValue(node *StateNode, config nodeSet) StateValue {
	switch node.Type {
	case StateTypeParallel:
		children := make(map[string]StateValue, len(node.children))
		for _, region := range node.regions() {
			children[region.Key] = subValue(region, config)
		}
		return StateValue{Children: children}
	case StateTypeCompound:
		var active *StateNode
		for _, child := range node.Children() {
			if config.has(child) {
				active = child
				break
			}
		}
		if active == nil {
			return StateValue{}
		}
		if active.isLeaf() {
			return LeafValue(active.Key)
		}
		nested := subValue(active, config)
		if nested.IsZero() {
			return LeafValue(active.Key)
		}
		return StateValue{Children: map[string]StateValue{active.Key: nested}}
	default:
		return StateValue{}
	}
}

// resolveValue expands a partial state value into a full one: missing
// compound children fill in with their initial state, partial parallels
// fill in missing regions.
func resolveValue(root *StateNode, partial StateValue) (StateValue, error) {
	config, err := configurationFromPartial(root, partial)
	if err != nil {
		return StateValue{}, err
	}
	return valueFromConfiguration(root, config), nil
}

// configurationFromPartial rebuilds a full configuration from a partial
// state value, descending into initial states wherever the value is
// silent.
func configurationFromPartial(root *StateNode, partial StateValue) (nodeSet, error) {
	targets, err := deepestNodes(root, partial)
	if err != nil {
		return nil, err
	}
	noHistory := func(h *StateNode) []*StateNode { return nil }
	return getConfiguration(targets, noHistory), nil
}

// deepestNodes returns the nodes named by the deepest keys of a partial
// state value.
func deepestNodes(node *StateNode, v StateValue) ([]*StateNode, error) {
	if v.IsLeaf() {
		if v.Leaf == "" {
			return []*StateNode{node}, nil
		}
		child := node.Child(v.Leaf)
		if child == nil {
			return nil, &UnknownStateError{ID: node.ID + node.delimiter + v.Leaf}
		}
		return []*StateNode{child}, nil
	}
	var out []*StateNode
	for key, sub := range v.Children {
		child := node.Child(key)
		if child == nil {
			return nil, &UnknownStateError{ID: node.ID + node.delimiter + key}
		}
		nested, err := deepestNodes(child, sub)
		if err != nil {
			return nil, err
		}
		out = append(out, nested...)
	}
	return out, nil
}
