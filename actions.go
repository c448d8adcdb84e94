package machina

import (
	"strconv"
	"time"
)

// Built-in action types.
const (
	ActionSend   = "xstate.send"
	ActionRaise  = "xstate.raise"
	ActionLog    = "xstate.log"
	ActionAssign = "xstate.assign"
	ActionStart  = "xstate.start"
	ActionStop   = "xstate.stop"
	ActionCancel = "xstate.cancel"
	ActionInvoke = "xstate.invoke"
	ActionPure   = "xstate.pure"
)

// SendTargetInternal marks a send action whose event is fed back into the
// machine within the same macrostep.
const SendTargetInternal = "#_internal"

// Action is a resolved action, tagged by Type. At most one of the
// behavioral fields is populated: Exec for side-effect actions executed by
// the caller, Assigner for pure context updates applied by the engine, or
// Expand for actions computing further actions. Built-in actions (send,
// raise, log, cancel, start, stop, invoke) carry none of them.
type Action[C any] struct {
	Type string
	// Event is the event raised or sent by raise/send actions.
	Event Event
	// To is the send target; SendTargetInternal routes into the internal
	// queue, anything else is left to the interpreter.
	To string
	// Delay is the resolved send delay; zero means immediate.
	Delay time.Duration
	// DelayRef is the original delay reference (milliseconds or name).
	DelayRef string
	// SendID identifies a scheduled send for cancellation.
	SendID string
	// Activity is the activity or invocation id for start/stop actions.
	Activity string
	// Src is the service source of an invoke action.
	Src string
	// Message is the label of a log action.
	Message string
	// Params carries free-form parameters for custom actions.
	Params map[string]any
	// Trigger is the event of the microstep that produced the action.
	// Within a macrostep this may be an internal event, not the external
	// one observable on the state.
	Trigger Event

	Exec     func(ctx C, event Event)
	Assigner func(ctx C, event Event) C
	Expand   func(ctx C, event Event) []Action[C]
}

// Do wraps a side-effect closure as a named custom action.
func Do[C any](fn func(ctx C, event Event)) Action[C] {
	return Action[C]{Exec: fn}
}

// Assign wraps a pure context update. Assign actions are applied by the
// engine in action-list order and never appear in the emitted action list.
func Assign[C any](fn func(ctx C, event Event) C) Action[C] {
	return Action[C]{Type: ActionAssign, Assigner: fn}
}

// Pure wraps an action computing further actions. The returned list is
// spliced in place of the pure action; the expansion is not recursive.
func Pure[C any](fn func(ctx C, event Event) []Action[C]) Action[C] {
	return Action[C]{Type: ActionPure, Expand: fn}
}

// Raise constructs an action that enqueues an internal event.
func Raise[C any](event string) Action[C] {
	return Action[C]{Type: ActionRaise, Event: Event{Name: event}}
}

// SendTo constructs a send action.
func SendTo[C any](event Event, to string, delay time.Duration) Action[C] {
	return Action[C]{Type: ActionSend, Event: event, To: to, Delay: delay}
}

// resolveAction lowers an action reference from the definition into a
// resolved action, late-binding named actions against the machine options.
func (m *Machine[C]) resolveAction(spec ActionSpec) (Action[C], error) {
	switch spec.Type {
	case ActionSend:
		a := Action[C]{
			Type:     ActionSend,
			Event:    Event{Name: spec.Event, Data: spec.Data},
			To:       spec.To,
			SendID:   spec.ID,
			DelayRef: spec.Delay,
		}
		if spec.Delay != "" {
			delay, err := m.resolveDelay(spec.Delay)
			if err != nil {
				return Action[C]{}, err
			}
			a.Delay = delay
		}
		return a, nil
	case ActionRaise:
		return Action[C]{Type: ActionRaise, Event: Event{Name: spec.Event, Data: spec.Data}}, nil
	case ActionLog:
		return Action[C]{Type: ActionLog, Message: spec.Message}, nil
	case ActionCancel:
		return Action[C]{Type: ActionCancel, SendID: spec.ID}, nil
	case ActionStart:
		return Action[C]{Type: ActionStart, Activity: spec.ID}, nil
	case ActionStop:
		return Action[C]{Type: ActionStop, Activity: spec.ID}, nil
	default:
		impl, ok := m.options.Actions[spec.Type]
		if !ok {
			return Action[C]{}, &UnknownActionError{Name: spec.Type}
		}
		if impl.Type == "" {
			impl.Type = spec.Type
		}
		if impl.Params == nil {
			impl.Params = spec.Params
		}
		return impl, nil
	}
}

// resolveDelay resolves a delay reference: a base-10 millisecond count, or
// a named delay registered in the machine options.
func (m *Machine[C]) resolveDelay(ref string) (time.Duration, error) {
	if ms, err := strconv.Atoi(ref); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	if d, ok := m.options.Delays[ref]; ok {
		return d, nil
	}
	return 0, &UnresolvedDelayError{Delay: ref}
}

// stepActions is the outcome of resolving one microstep's action list.
type stepActions[C any] struct {
	// emitted holds the side-effect actions visible to the caller.
	emitted []Action[C]
	// raised holds the events enqueued for the internal queue, in order.
	raised []Event
	// ctx is the context after folding all assign actions.
	ctx C
	// assigned reports whether any assign action ran.
	assigned bool
	// started and stopped record activity toggles by id.
	started []string
	stopped []string
}

// resolveStep assembles the canonical ordered action list of a microstep
// (exits, transition actions, entries, done-event raises) and partitions
// it: assigns fold into the context, raises and internal sends move to the
// internal queue, everything else is emitted in order.
//
// Assign atomicity: pure and guard evaluation see the pre-step context;
// each assign sees the result of the assigns before it in list order.
func (m *Machine[C]) resolveStep(
	exitSet []*StateNode,
	transitions []*Transition,
	entrySet []*StateNode,
	doneEvents []Event,
	ctx C,
	event Event,
) (*stepActions[C], error) {
	out := &stepActions[C]{ctx: ctx}

	var raw []Action[C]
	appendSpecs := func(specs []ActionSpec) error {
		for _, spec := range specs {
			a, err := m.resolveAction(spec)
			if err != nil {
				return err
			}
			raw = append(raw, a)
		}
		return nil
	}

	for _, n := range exitSet {
		if err := appendSpecs(n.Exit); err != nil {
			return nil, err
		}
		for _, id := range n.Activities {
			raw = append(raw, Action[C]{Type: ActionStop, Activity: id})
		}
		for _, inv := range n.Invocations {
			raw = append(raw, Action[C]{Type: ActionStop, Activity: inv.ID})
		}
	}
	for _, t := range transitions {
		if err := appendSpecs(t.Actions); err != nil {
			return nil, err
		}
	}
	for _, n := range entrySet {
		if err := appendSpecs(n.Entry); err != nil {
			return nil, err
		}
		for _, id := range n.Activities {
			raw = append(raw, Action[C]{Type: ActionStart, Activity: id})
		}
		for _, inv := range n.Invocations {
			if _, ok := m.options.Services[inv.Src]; !ok {
				return nil, &UnknownServiceError{Name: inv.Src}
			}
			raw = append(raw, Action[C]{Type: ActionInvoke, Activity: inv.ID, Src: inv.Src})
		}
	}
	for _, done := range doneEvents {
		raw = append(raw, Action[C]{Type: ActionRaise, Event: done})
	}

	for _, a := range raw {
		if a.Expand != nil {
			for _, expanded := range a.Expand(ctx, event) {
				// One level only: a pure inside a pure is emitted as-is.
				m.partition(out, expanded, event)
			}
			continue
		}
		m.partition(out, a, event)
	}
	return out, nil
}

// partition routes one resolved action into the step outcome.
func (m *Machine[C]) partition(out *stepActions[C], a Action[C], event Event) {
	switch {
	case a.Assigner != nil:
		out.ctx = a.Assigner(out.ctx, event)
		out.assigned = true
	case a.Type == ActionRaise:
		out.raised = append(out.raised, a.Event)
	case a.Type == ActionSend && a.Delay == 0 && a.To == SendTargetInternal:
		out.raised = append(out.raised, a.Event)
	default:
		if a.Type == ActionStart {
			out.started = append(out.started, a.Activity)
		}
		if a.Type == ActionStop {
			out.stopped = append(out.stopped, a.Activity)
		}
		a.Trigger = event
		out.emitted = append(out.emitted, a)
	}
}
