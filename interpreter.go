package machina

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock schedules delayed work. The default clock uses real timers; tests
// substitute a manual clock to drive delayed transitions deterministically.
type Clock interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is a scheduled callback that can be stopped.
type Timer interface {
	Stop() bool
}

type wallClock struct{}

func (wallClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// NewWallClock returns the real-time clock.
func NewWallClock() Clock { return wallClock{} }

// Observer receives interpreter lifecycle notifications. Implementations
// must be safe for concurrent use.
type Observer interface {
	// StepDone is called after every macrostep.
	StepDone(sessionID string, event Event, changed bool, duration time.Duration)
	// EventQueued is called when a delayed event is scheduled.
	EventQueued(sessionID string, event Event, delay time.Duration)
	// StepFailed is called when a macrostep errors.
	StepFailed(sessionID string, event Event, err error)
}

// InterpreterOption configures an interpreter.
type InterpreterOption[C any] func(*Interpreter[C])

// WithLogger sets the structured logger. The default logger discards
// nothing but logs at the default level of the supplied handler.
func WithLogger[C any](logger *slog.Logger) InterpreterOption[C] {
	return func(i *Interpreter[C]) { i.logger = logger }
}

// WithClock substitutes the timer source.
func WithClock[C any](clock Clock) InterpreterOption[C] {
	return func(i *Interpreter[C]) { i.clock = clock }
}

// WithObserver registers a lifecycle observer.
func WithObserver[C any](obs Observer) InterpreterOption[C] {
	return func(i *Interpreter[C]) { i.observer = obs }
}

// WithSessionID overrides the generated session id.
func WithSessionID[C any](id string) InterpreterOption[C] {
	return func(i *Interpreter[C]) { i.id = id }
}

// Interpreter is the actor-style service around the pure transition
// engine. It serializes event processing, owns the current state cell,
// schedules delayed sends, runs activities and invoked services, and
// honors cancellation.
type Interpreter[C any] struct {
	machine  *Machine[C]
	id       string
	logger   *slog.Logger
	clock    Clock
	observer Observer

	mu        sync.Mutex
	state     State[C]
	started   bool
	stopped   bool
	timers    map[string]Timer
	running   map[string]func()
	listeners []func(State[C])
}

// NewInterpreter creates an interpreter for the machine. The interpreter
// is inert until Start is called.
func NewInterpreter[C any](machine *Machine[C], opts ...InterpreterOption[C]) *Interpreter[C] {
	i := &Interpreter[C]{
		machine: machine,
		id:      uuid.NewString(),
		logger:  slog.Default(),
		clock:   wallClock{},
		timers:  make(map[string]Timer),
		running: make(map[string]func()),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// ID returns the session id.
func (i *Interpreter[C]) ID() string { return i.id }

// OnTransition registers a listener called with every new state. Must be
// called before Start.
func (i *Interpreter[C]) OnTransition(fn func(State[C])) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.listeners = append(i.listeners, fn)
}

// Start enters the initial state and executes its actions.
func (i *Interpreter[C]) Start() (State[C], error) {
	i.mu.Lock()
	if i.started {
		state := i.state
		i.mu.Unlock()
		return state, nil
	}
	state, err := i.machine.InitialState()
	if err != nil {
		i.mu.Unlock()
		return State[C]{}, err
	}
	i.started = true
	i.state = state
	i.executeLocked(state)
	listeners := i.snapshotListeners()
	i.mu.Unlock()

	i.logger.Debug("interpreter started",
		"session", i.id, "machine", i.machine.ID(), "value", state.Value.String())
	for _, fn := range listeners {
		fn(state)
	}
	return state, nil
}

// Send processes an external event through one macrostep and executes the
// resulting actions. Accepts a string or an Event.
func (i *Interpreter[C]) Send(event any) (State[C], error) {
	ev, err := toEvent(event)
	if err != nil {
		return i.State(), err
	}
	ev.SessionID = i.id

	i.mu.Lock()
	if !i.started || i.stopped {
		state := i.state
		i.mu.Unlock()
		return state, nil
	}
	began := time.Now()
	next, err := i.machine.Transition(i.state, ev)
	if err != nil {
		i.mu.Unlock()
		i.logger.Error("event rejected", "session", i.id, "event", ev.Name, "error", err)
		if i.observer != nil {
			i.observer.StepFailed(i.id, ev, err)
		}
		return next, err
	}
	i.state = next
	i.executeLocked(next)
	listeners := i.snapshotListeners()
	i.mu.Unlock()

	i.logger.Debug("transition",
		"session", i.id, "event", ev.Name, "value", next.Value.String(), "changed", next.Changed)
	if i.observer != nil {
		i.observer.StepDone(i.id, ev, next.Changed, time.Since(began))
	}
	for _, fn := range listeners {
		fn(next)
	}
	return next, nil
}

// State returns the current state.
func (i *Interpreter[C]) State() State[C] {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Done reports whether the machine root reached a final state.
func (i *Interpreter[C]) Done() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.started && i.state.Done
}

// Stop cancels all timers, stops running activities and marks the
// interpreter stopped. Subsequent sends are ignored.
func (i *Interpreter[C]) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.stopped {
		return
	}
	i.stopped = true
	for id, t := range i.timers {
		t.Stop()
		delete(i.timers, id)
	}
	for id, stop := range i.running {
		stop()
		delete(i.running, id)
	}
	i.logger.Debug("interpreter stopped", "session", i.id)
}

// executeLocked runs the side-effect actions of a state. Called with the
// mutex held; anything that re-enters Send is dispatched asynchronously.
func (i *Interpreter[C]) executeLocked(state State[C]) {
	for _, a := range state.Actions {
		switch {
		case a.Exec != nil:
			a.Exec(state.Context, a.Trigger)
		case a.Type == ActionSend:
			i.scheduleLocked(a)
		case a.Type == ActionCancel:
			if t, ok := i.timers[a.SendID]; ok {
				t.Stop()
				delete(i.timers, a.SendID)
				i.logger.Debug("send cancelled", "session", i.id, "sendId", a.SendID)
			}
		case a.Type == ActionLog:
			i.logger.Info(a.Message, "session", i.id, "event", a.Trigger.Name, "data", a.Trigger.Data)
		case a.Type == ActionStart:
			i.startActivityLocked(a, state)
		case a.Type == ActionStop:
			if stop, ok := i.running[a.Activity]; ok {
				stop()
				delete(i.running, a.Activity)
			}
		case a.Type == ActionInvoke:
			i.invokeLocked(a, state)
		}
	}
}

// scheduleLocked handles a send action: delayed sends arm a timer keyed
// by send id, immediate self-sends are dispatched asynchronously.
func (i *Interpreter[C]) scheduleLocked(a Action[C]) {
	ev := a.Event
	ev.Origin = i.id
	if a.Delay <= 0 {
		go i.Send(ev) //nolint:errcheck
		return
	}
	id := a.SendID
	if id == "" {
		id = ev.Name
	}
	if prev, ok := i.timers[id]; ok {
		prev.Stop()
	}
	i.timers[id] = i.clock.AfterFunc(a.Delay, func() {
		i.mu.Lock()
		_, live := i.timers[id]
		delete(i.timers, id)
		i.mu.Unlock()
		if !live {
			// Cancelled after firing but before delivery.
			return
		}
		i.Send(ev) //nolint:errcheck
	})
	if i.observer != nil {
		i.observer.EventQueued(i.id, ev, a.Delay)
	}
	i.logger.Debug("send scheduled", "session", i.id, "sendId", id, "delay", a.Delay)
}

func (i *Interpreter[C]) startActivityLocked(a Action[C], state State[C]) {
	impl, ok := i.machine.options.Activities[a.Activity]
	if !ok {
		i.logger.Warn("no implementation for activity", "session", i.id, "activity", a.Activity)
		return
	}
	if stop, running := i.running[a.Activity]; running {
		stop()
	}
	i.running[a.Activity] = impl(state.Context, state.Event)
}

// invokeLocked starts an invoked service. The result is delivered as a
// done.invoke event, a failure as error.platform. A stop of the
// invocation id before completion drops the result.
func (i *Interpreter[C]) invokeLocked(a Action[C], state State[C]) {
	impl := i.machine.options.Services[a.Src]
	if impl == nil {
		i.logger.Warn("no implementation for service", "session", i.id, "service", a.Src)
		return
	}
	id := a.Activity
	cancelled := make(chan struct{})
	var once sync.Once
	i.running[id] = func() { once.Do(func() { close(cancelled) }) }
	go func() {
		result, err := impl(state.Context, state.Event)
		select {
		case <-cancelled:
			return
		default:
		}
		i.mu.Lock()
		delete(i.running, id)
		i.mu.Unlock()
		if err != nil {
			i.Send(Event{Name: ErrorPlatformEvent(id), Data: err.Error()}) //nolint:errcheck
			return
		}
		i.Send(Event{Name: DoneInvokeEvent(id), Data: result}) //nolint:errcheck
	}()
}

func (i *Interpreter[C]) snapshotListeners() []func(State[C]) {
	out := make([]func(State[C]), len(i.listeners))
	copy(out, i.listeners)
	return out
}
