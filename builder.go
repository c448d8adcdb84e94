package machina

import (
	"strconv"
	"time"
)

// Builder provides a fluent API for constructing machines in Go code.
// States and transitions are recorded in call order, so the builder gives
// the same document-order guarantees as a YAML definition.
type Builder[C any] struct {
	cfg     *Config
	options Options[C]
	context C
	hasCtx  bool
}

// StateBuilder builds one state.
type StateBuilder[C any] struct {
	machine *Builder[C]
	parent  *StateBuilder[C]
	cfg     *StateConfig
}

// TransitionBuilder builds one transition. It addresses its entry by
// index so later appends to the same event cannot invalidate it.
type TransitionBuilder[C any] struct {
	state *StateBuilder[C]
	spec  *TransitionsSpec
	idx   int
}

func (tb *TransitionBuilder[C]) cfg() *TransitionConfig {
	return &tb.spec.List[tb.idx]
}

// NewBuilder creates a machine builder with the given id.
func NewBuilder[C any](id string) *Builder[C] {
	return &Builder[C]{
		cfg: &Config{ID: id, States: map[string]*StateConfig{}},
		options: Options[C]{
			Actions:    map[string]Action[C]{},
			Guards:     map[string]Guard[C]{},
			Services:   map[string]Service[C]{},
			Delays:     map[string]time.Duration{},
			Activities: map[string]Activity[C]{},
		},
	}
}

// WithInitial sets the initial state key.
func (b *Builder[C]) WithInitial(key string) *Builder[C] {
	b.cfg.Initial = key
	return b
}

// WithContext sets the initial context value.
func (b *Builder[C]) WithContext(ctx C) *Builder[C] {
	b.context = ctx
	b.hasCtx = true
	return b
}

// Parallel makes the machine root a parallel state.
func (b *Builder[C]) Parallel() *Builder[C] {
	b.cfg.Type = "parallel"
	return b
}

// Strict makes the machine reject undeclared events.
func (b *Builder[C]) Strict() *Builder[C] {
	b.cfg.Strict = true
	return b
}

// WithAction registers a named action implementation.
func (b *Builder[C]) WithAction(name string, action Action[C]) *Builder[C] {
	b.options.Actions[name] = action
	return b
}

// WithGuard registers a named guard implementation.
func (b *Builder[C]) WithGuard(name string, guard Guard[C]) *Builder[C] {
	b.options.Guards[name] = guard
	return b
}

// WithService registers a named service implementation.
func (b *Builder[C]) WithService(name string, service Service[C]) *Builder[C] {
	b.options.Services[name] = service
	return b
}

// WithDelay registers a named delay.
func (b *Builder[C]) WithDelay(name string, d time.Duration) *Builder[C] {
	b.options.Delays[name] = d
	return b
}

// WithActivity registers a named activity implementation.
func (b *Builder[C]) WithActivity(name string, activity Activity[C]) *Builder[C] {
	b.options.Activities[name] = activity
	return b
}

// State starts building a top-level state.
func (b *Builder[C]) State(key string) *StateBuilder[C] {
	sb := &StateBuilder[C]{machine: b, cfg: &StateConfig{}}
	b.cfg.States[key] = sb.cfg
	b.cfg.stateOrder = append(b.cfg.stateOrder, key)
	return sb
}

// Config returns the accumulated declarative config.
func (b *Builder[C]) Config() *Config { return b.cfg }

// Build compiles the machine.
func (b *Builder[C]) Build() (*Machine[C], error) {
	m, err := NewMachine(b.cfg, b.options)
	if err != nil {
		return nil, err
	}
	if b.hasCtx {
		m = m.WithContext(b.context)
	}
	return m, nil
}

// --- StateBuilder ---

// WithInitial sets the initial child key of a compound state.
func (sb *StateBuilder[C]) WithInitial(key string) *StateBuilder[C] {
	sb.cfg.Initial = key
	return sb
}

// Final marks the state final.
func (sb *StateBuilder[C]) Final() *StateBuilder[C] {
	sb.cfg.Type = "final"
	return sb
}

// Parallel marks the state parallel.
func (sb *StateBuilder[C]) Parallel() *StateBuilder[C] {
	sb.cfg.Type = "parallel"
	return sb
}

// History marks the state as a history state of the given kind.
func (sb *StateBuilder[C]) History(kind HistoryType) *StateBuilder[C] {
	sb.cfg.Type = "history"
	sb.cfg.History = kind.String()
	return sb
}

// Default sets the default target of a history state.
func (sb *StateBuilder[C]) Default(target string) *StateBuilder[C] {
	sb.cfg.Target = target
	return sb
}

// WithID overrides the derived node id.
func (sb *StateBuilder[C]) WithID(id string) *StateBuilder[C] {
	sb.cfg.ID = id
	return sb
}

// OnEntry appends entry action references.
func (sb *StateBuilder[C]) OnEntry(actions ...string) *StateBuilder[C] {
	for _, name := range actions {
		sb.cfg.Entry = append(sb.cfg.Entry, ActionSpec{Type: name})
	}
	return sb
}

// OnExit appends exit action references.
func (sb *StateBuilder[C]) OnExit(actions ...string) *StateBuilder[C] {
	for _, name := range actions {
		sb.cfg.Exit = append(sb.cfg.Exit, ActionSpec{Type: name})
	}
	return sb
}

// EntrySpec appends a raw entry action spec.
func (sb *StateBuilder[C]) EntrySpec(spec ActionSpec) *StateBuilder[C] {
	sb.cfg.Entry = append(sb.cfg.Entry, spec)
	return sb
}

// Activity declares an activity running while the state is active.
func (sb *StateBuilder[C]) Activity(id string) *StateBuilder[C] {
	sb.cfg.Activities = append(sb.cfg.Activities, id)
	return sb
}

// Invoke declares a service invocation on the state.
func (sb *StateBuilder[C]) Invoke(id, src string) *StateBuilder[C] {
	sb.cfg.Invoke = append(sb.cfg.Invoke, InvokeConfig{ID: id, Src: src})
	return sb
}

// WithData attaches done-event data to a final state.
func (sb *StateBuilder[C]) WithData(data map[string]any) *StateBuilder[C] {
	sb.cfg.Data = data
	return sb
}

// WithMeta attaches metadata to the state.
func (sb *StateBuilder[C]) WithMeta(meta map[string]any) *StateBuilder[C] {
	sb.cfg.Meta = meta
	return sb
}

// On starts building a transition for the given event.
func (sb *StateBuilder[C]) On(event string) *TransitionBuilder[C] {
	return sb.transition(event)
}

// Always starts building an eventless transition, taken immediately
// whenever its guard passes.
func (sb *StateBuilder[C]) Always() *TransitionBuilder[C] {
	return sb.transition(NullEvent)
}

// After starts building a delayed transition taken after the given
// duration.
func (sb *StateBuilder[C]) After(d time.Duration) *TransitionBuilder[C] {
	key := strconv.FormatInt(d.Milliseconds(), 10)
	if sb.cfg.After == nil {
		sb.cfg.After = map[string]*TransitionsSpec{}
	}
	spec := sb.cfg.After[key]
	if spec == nil {
		spec = &TransitionsSpec{}
		sb.cfg.After[key] = spec
	}
	spec.List = append(spec.List, TransitionConfig{})
	return &TransitionBuilder[C]{state: sb, spec: spec, idx: len(spec.List) - 1}
}

// Forbid consumes the event without taking any transition.
func (sb *StateBuilder[C]) Forbid(event string) *StateBuilder[C] {
	if sb.cfg.On == nil {
		sb.cfg.On = map[string]*TransitionsSpec{}
	}
	sb.cfg.On[event] = nil
	sb.cfg.eventOrder = append(sb.cfg.eventOrder, event)
	return sb
}

func (sb *StateBuilder[C]) transition(event string) *TransitionBuilder[C] {
	if sb.cfg.On == nil {
		sb.cfg.On = map[string]*TransitionsSpec{}
	}
	spec, ok := sb.cfg.On[event]
	if !ok || spec == nil {
		spec = &TransitionsSpec{}
		sb.cfg.On[event] = spec
		sb.cfg.eventOrder = append(sb.cfg.eventOrder, event)
	}
	spec.List = append(spec.List, TransitionConfig{})
	return &TransitionBuilder[C]{state: sb, spec: spec, idx: len(spec.List) - 1}
}

// State starts building a nested child state.
func (sb *StateBuilder[C]) State(key string) *StateBuilder[C] {
	child := &StateBuilder[C]{machine: sb.machine, parent: sb, cfg: &StateConfig{}}
	if sb.cfg.States == nil {
		sb.cfg.States = map[string]*StateConfig{}
	}
	sb.cfg.States[key] = child.cfg
	sb.cfg.stateOrder = append(sb.cfg.stateOrder, key)
	return child
}

// End completes a nested state and returns to the parent state builder.
func (sb *StateBuilder[C]) End() *StateBuilder[C] {
	return sb.parent
}

// Done completes the state and returns to the machine builder.
func (sb *StateBuilder[C]) Done() *Builder[C] {
	return sb.machine
}

// --- TransitionBuilder ---

// Target sets the transition targets.
func (tb *TransitionBuilder[C]) Target(targets ...string) *TransitionBuilder[C] {
	tb.cfg().Target = append(tb.cfg().Target, targets...)
	return tb
}

// Guard sets the guard reference.
func (tb *TransitionBuilder[C]) Guard(name string) *TransitionBuilder[C] {
	tb.cfg().Guard = name
	return tb
}

// In restricts the transition to configurations matching the given state
// value or "#id" reference.
func (tb *TransitionBuilder[C]) In(value string) *TransitionBuilder[C] {
	tb.cfg().In = value
	return tb
}

// Internal forces the transition kind.
func (tb *TransitionBuilder[C]) Internal(internal bool) *TransitionBuilder[C] {
	tb.cfg().Internal = &internal
	return tb
}

// Do appends transition action references.
func (tb *TransitionBuilder[C]) Do(actions ...string) *TransitionBuilder[C] {
	for _, name := range actions {
		tb.cfg().Actions = append(tb.cfg().Actions, ActionSpec{Type: name})
	}
	return tb
}

// DoSpec appends a raw transition action spec.
func (tb *TransitionBuilder[C]) DoSpec(spec ActionSpec) *TransitionBuilder[C] {
	tb.cfg().Actions = append(tb.cfg().Actions, spec)
	return tb
}

// On starts another transition on the same state.
func (tb *TransitionBuilder[C]) On(event string) *TransitionBuilder[C] {
	return tb.state.On(event)
}

// Always starts another eventless transition on the same state.
func (tb *TransitionBuilder[C]) Always() *TransitionBuilder[C] {
	return tb.state.Always()
}

// End completes the transition and returns to the state builder.
func (tb *TransitionBuilder[C]) End() *StateBuilder[C] {
	return tb.state
}

// Done completes the state and returns to the machine builder.
func (tb *TransitionBuilder[C]) Done() *Builder[C] {
	return tb.state.Done()
}
