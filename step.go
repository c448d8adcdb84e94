package machina

import "fmt"

// maxMicrosteps bounds a single macrostep. Hitting it means an eventless
// or raised-event loop never quiesces.
const maxMicrosteps = 1 << 12

// stepper accumulates one macrostep: configuration, context, emitted
// actions and the internal event queue, drained FIFO until quiescence.
type stepper[C any] struct {
	m          *Machine[C]
	config     nodeSet
	ctx        C
	hv         *HistoryValue
	activities map[string]bool
	emitted    []Action[C]
	taken      []*Transition
	queue      []Event
	assigned   bool
	microsteps int
}

// InitialState computes the machine's initial state: the initial
// configuration is entered, entry actions run, and any transient states
// or raised events are processed to quiescence.
func (m *Machine[C]) InitialState() (State[C], error) {
	s := &stepper[C]{
		m:          m,
		config:     make(nodeSet),
		ctx:        m.initialContext,
		activities: make(map[string]bool),
	}
	initEvent := Event{Name: InitEvent}

	entry := computeEntrySet([]*StateNode{m.root}, nil, s.historyResolver())
	s.config = entry.clone()
	done := s.doneEvents(entry)
	acts, err := m.resolveStep(nil, nil, entry.ascending(), done, s.ctx, initEvent)
	if err != nil {
		return State[C]{}, err
	}
	s.commit(acts, nil)
	if err := s.runToCompletion(); err != nil {
		return State[C]{}, err
	}
	s.hv = updateHistoryValue(m.root, s.hv, s.config)
	return s.finish(State[C]{}, initEvent), nil
}

// Transition executes one macrostep: the external event is processed,
// transient states and internally raised events drain FIFO, and the final
// state is returned. On error the input state is returned unchanged.
func (m *Machine[C]) Transition(state State[C], event any) (State[C], error) {
	ev, err := toEvent(event)
	if err != nil {
		return state, err
	}
	if err := m.checkEvent(ev); err != nil {
		return state, err
	}
	config := state.configuration
	if config == nil {
		// A restored or hand-built state carries only a value.
		resolved, err := m.Resolve(state.Value)
		if err != nil {
			return state, err
		}
		if config, err = configurationFromValue(m.root, resolved); err != nil {
			return state, err
		}
	}
	s := &stepper[C]{
		m:          m,
		config:     config.clone(),
		ctx:        state.Context,
		hv:         state.HistoryValue,
		activities: cloneBoolMap(state.Activities),
	}
	if _, err := s.micro(ev); err != nil {
		return state, err
	}
	if err := s.runToCompletion(); err != nil {
		return state, err
	}
	s.hv = updateHistoryValue(m.root, s.hv, s.config)
	return s.finish(state, ev), nil
}

// runToCompletion drains transient states first, then the internal queue,
// until no microstep fires.
func (s *stepper[C]) runToCompletion() error {
	for {
		if s.microsteps > maxMicrosteps {
			return fmt.Errorf("macrostep did not quiesce after %d microsteps", maxMicrosteps)
		}
		fired, err := s.micro(Event{Name: NullEvent})
		if err != nil {
			return err
		}
		if fired {
			continue
		}
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			if _, err := s.micro(ev); err != nil {
				return err
			}
			continue
		}
		return nil
	}
}

// micro performs one microstep with the given event: selection, exit and
// entry set computation, action resolution and commit. It reports whether
// any transition fired.
func (s *stepper[C]) micro(ev Event) (bool, error) {
	s.microsteps++
	value := valueFromConfiguration(s.m.root, s.config)
	trans, err := s.m.selectTransitions(s.config, value, s.ctx, ev)
	if err != nil {
		return false, err
	}
	if len(trans) == 0 {
		return false, nil
	}

	// Snapshot history before anything is exited so restoration sees the
	// child configuration that is about to be left.
	s.hv = updateHistoryValue(s.m.root, s.hv, s.config)

	exitAll := make(nodeSet)
	entryAll := make(nodeSet)
	resolve := s.historyResolver()
	for _, t := range trans {
		domain, changes := transitionDomain(t)
		if !changes {
			continue
		}
		for n := range computeExitSet(s.config, domain) {
			exitAll.add(n)
		}
		for n := range computeEntrySet(t.Targets, domain, resolve) {
			entryAll.add(n)
		}
	}

	next := make(nodeSet, len(s.config))
	for n := range s.config {
		if !exitAll.has(n) {
			next.add(n)
		}
	}
	for n := range entryAll {
		next.add(n)
	}
	prevConfig := s.config
	s.config = next

	done := s.doneEvents(entryAll)
	acts, err := s.m.resolveStep(exitAll.descending(), trans, entryAll.ascending(), done, s.ctx, ev)
	if err != nil {
		// The partially computed step is discarded.
		s.config = prevConfig
		return false, err
	}
	s.commit(acts, trans)
	return true, nil
}

// doneEvents computes the done.state events raised by the entered final
// nodes: one for each final node's parent, and one for every parallel
// ancestor whose regions have all reached final configurations.
func (s *stepper[C]) doneEvents(entered nodeSet) []Event {
	var out []Event
	seen := make(map[string]struct{})
	raise := func(name string, data any) {
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		out = append(out, Event{Name: name, Data: data})
	}
	for _, f := range entered.ascending() {
		if f.Type != StateTypeFinal || f.parent == nil {
			continue
		}
		var data any
		if f.Data != nil {
			data = f.Data
		}
		raise(DoneStateEvent(f.parent.ID), data)
		for anc := f.parent.parent; anc != nil; anc = anc.parent {
			if anc.Type == StateTypeParallel && isInFinalState(s.config, anc) {
				raise(DoneStateEvent(anc.ID), nil)
			}
		}
	}
	return out
}

// commit folds a resolved microstep into the macrostep accumulators.
func (s *stepper[C]) commit(acts *stepActions[C], trans []*Transition) {
	s.ctx = acts.ctx
	s.assigned = s.assigned || acts.assigned
	s.emitted = append(s.emitted, acts.emitted...)
	s.queue = append(s.queue, acts.raised...)
	s.taken = append(s.taken, trans...)
	for _, id := range acts.stopped {
		s.activities[id] = false
	}
	for _, id := range acts.started {
		s.activities[id] = true
	}
}

// historyResolver binds history resolution to the stepper's current
// history value.
func (s *stepper[C]) historyResolver() historyResolver {
	return func(h *StateNode) []*StateNode {
		return s.m.resolveHistory(h, s.hv)
	}
}

// finish builds the observable state. The returned state carries the
// original external event, never the last internal one, and its PrevState
// chain is capped at one.
func (s *stepper[C]) finish(prev State[C], ev Event) State[C] {
	value := valueFromConfiguration(s.m.root, s.config)
	changed := s.assigned || len(s.emitted) > 0 || !value.Equal(prev.Value)
	next := State[C]{
		Value:         value,
		Context:       s.ctx,
		Event:         ev,
		HistoryValue:  s.hv,
		Actions:       s.emitted,
		Activities:    s.activities,
		Meta:          s.m.metaFor(s.config),
		Transitions:   s.taken,
		Children:      prev.Children,
		Changed:       changed,
		Done:          isInFinalState(s.config, s.m.root),
		configuration: s.config,
		delimiter:     s.m.delimiter,
	}
	if prev.configuration != nil {
		prevCopy := prev
		prevCopy.PrevState = nil
		next.PrevState = &prevCopy
	}
	return next
}

func cloneBoolMap(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
