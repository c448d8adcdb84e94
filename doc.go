/*
Package machina is a hierarchical statechart engine: nested and parallel
states, history, final states, guarded transitions, entry/exit ordering,
delayed transitions and run-to-completion event processing over an
immutable definition tree.

The core is the pure transition engine. A Machine compiles a declarative
Config (built in Go, or loaded from YAML/JSON with FromYAML/FromJSON) into
an immutable node tree; InitialState and Transition then map states to
states without any hidden mutable state:

	cfg, _ := machina.FromYAML(doc)
	m, err := machina.NewMachine[Ctx](cfg, opts)
	state, _ := m.InitialState()
	state, _ = m.Transition(state, "TIMER")

Transition executes one macrostep: the external event is processed, any
transient (eventless) states and internally raised events drain in FIFO
order, and the resulting State carries the new value, the context after
all assign actions, and the ordered side-effect actions for the caller to
execute. Errors from guards or unresolved references abort the step and
leave the input state untouched.

The Interpreter is the actor-style loop around the core: it serializes
sends, executes emitted actions, schedules and cancels delayed events,
runs activities and invoked services, and notifies listeners. Timer
behavior is pluggable through Clock, logging through log/slog.

Persistence of states and Prometheus metrics live in the persist and
telemetry subpackages; export renders normalized definition documents.
*/
package machina
