package machina

// DefinitionDocument is the normalized, serializable form of a state node
// and its subtree. Targets are normalized to node ids; derived fields
// (order, type) are made explicit.
type DefinitionDocument struct {
	ID         string                          `json:"id"`
	Key        string                          `json:"key,omitempty"`
	Type       string                          `json:"type"`
	Order      int                             `json:"order"`
	Initial    string                          `json:"initial,omitempty"`
	History    string                          `json:"history,omitempty"`
	Entry      []ActionSpec                    `json:"entry,omitempty"`
	Exit       []ActionSpec                    `json:"exit,omitempty"`
	On         map[string][]TransitionDocument `json:"on,omitempty"`
	Invoke     []InvokeConfig                  `json:"invoke,omitempty"`
	Activities []string                        `json:"activities,omitempty"`
	Data       map[string]any                  `json:"data,omitempty"`
	Meta       map[string]any                  `json:"meta,omitempty"`
	States     map[string]*DefinitionDocument  `json:"states,omitempty"`
	StateOrder []string                        `json:"stateOrder,omitempty"`
}

// TransitionDocument is the normalized form of a transition.
type TransitionDocument struct {
	Target    []string     `json:"target,omitempty"`
	Guard     string       `json:"guard,omitempty"`
	In        string       `json:"in,omitempty"`
	Internal  bool         `json:"internal,omitempty"`
	Forbidden bool         `json:"forbidden,omitempty"`
	Actions   []ActionSpec `json:"actions,omitempty"`
}

// Definition returns the normalized document of the node and its subtree.
func (n *StateNode) Definition() *DefinitionDocument {
	doc := &DefinitionDocument{
		ID:         n.ID,
		Key:        n.Key,
		Type:       n.Type.String(),
		Order:      n.Order,
		Initial:    n.Initial,
		Entry:      n.Entry,
		Exit:       n.Exit,
		Invoke:     n.Invocations,
		Activities: n.Activities,
		Data:       n.Data,
		Meta:       n.Meta,
	}
	if n.Type == StateTypeHistory {
		doc.History = n.History.String()
	}
	for _, t := range n.Transitions {
		if doc.On == nil {
			doc.On = make(map[string][]TransitionDocument)
		}
		td := TransitionDocument{
			Guard:     t.Guard,
			In:        t.In,
			Internal:  t.Internal,
			Forbidden: t.Forbidden,
			Actions:   t.Actions,
		}
		for _, target := range t.Targets {
			td.Target = append(td.Target, target.ID)
		}
		doc.On[t.Event] = append(doc.On[t.Event], td)
	}
	for _, child := range n.Children() {
		if doc.States == nil {
			doc.States = make(map[string]*DefinitionDocument)
		}
		doc.States[child.Key] = child.Definition()
		doc.StateOrder = append(doc.StateOrder, child.Key)
	}
	return doc
}

// Definition returns the normalized document of the whole machine.
func (m *Machine[C]) Definition() *DefinitionDocument {
	return m.root.Definition()
}
