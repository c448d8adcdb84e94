package machina

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lightContext struct {
	Count int
}

// lightMachine is the three-state light used across the API tests.
func lightMachine(t *testing.T) *Machine[lightContext] {
	t.Helper()
	m, err := NewBuilder[lightContext]("light").
		WithInitial("green").
		State("green").
		On("TIMER").Target("yellow").
		Done().
		State("yellow").
		On("TIMER").Target("red").
		Done().
		State("red").
		On("TIMER").Target("green").Do("count").
		Done().
		WithAction("count", Assign(func(ctx lightContext, e Event) lightContext {
			ctx.Count++
			return ctx
		})).
		Build()
	require.NoError(t, err)
	return m
}

func TestTrafficLightCycle(t *testing.T) {
	m := lightMachine(t)

	state, err := m.InitialState()
	require.NoError(t, err)
	assert.Equal(t, "green", state.Value.String())

	for _, want := range []string{"yellow", "red", "green"} {
		state, err = m.Transition(state, "TIMER")
		require.NoError(t, err)
		assert.Equal(t, want, state.Value.String())
		assert.True(t, state.Changed, "step to %s should report changed", want)
	}
	assert.Equal(t, 1, state.Context.Count)
}

func TestNoMatchingTransitionIsFixedPoint(t *testing.T) {
	m := lightMachine(t)
	state, err := m.InitialState()
	require.NoError(t, err)

	next, err := m.Transition(state, "UNKNOWN")
	require.NoError(t, err)
	assert.True(t, next.Value.Equal(state.Value))
	assert.Equal(t, state.Context, next.Context)
	assert.False(t, next.Changed)
	assert.Empty(t, next.Actions)
	assert.Equal(t, "UNKNOWN", next.Event.Name)
}

func TestTransitionIsDeterministic(t *testing.T) {
	m := lightMachine(t)
	state, err := m.InitialState()
	require.NoError(t, err)

	a, err := m.Transition(state, "TIMER")
	require.NoError(t, err)
	b, err := m.Transition(state, "TIMER")
	require.NoError(t, err)
	assert.True(t, a.Value.Equal(b.Value))
	assert.Equal(t, a.Context, b.Context)
}

func TestStrictModeRejectsUnknownEvents(t *testing.T) {
	m, err := NewBuilder[struct{}]("strict").
		Strict().
		WithInitial("a").
		State("a").On("GO").Target("b").Done().
		State("b").Done().
		Build()
	require.NoError(t, err)

	state, err := m.InitialState()
	require.NoError(t, err)

	_, err = m.Transition(state, "NOPE")
	var unknown *UnknownEventError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "NOPE", unknown.Name)

	// Built-in events pass the strict check even when undeclared.
	same, err := m.Transition(state, Event{Name: DoneStateEvent("strict.a")})
	require.NoError(t, err)
	assert.True(t, same.Value.Equal(state.Value))
}

func TestStateMatchesOwnValue(t *testing.T) {
	m := lightMachine(t)
	state, err := m.InitialState()
	require.NoError(t, err)
	assert.True(t, state.Matches(state.Value))
	assert.True(t, state.Matches("green"))
	assert.False(t, state.Matches("red"))
}

func TestNextEvents(t *testing.T) {
	m := lightMachine(t)
	state, err := m.InitialState()
	require.NoError(t, err)
	assert.Equal(t, []string{"TIMER"}, state.NextEvents())
}

func TestWithContextClone(t *testing.T) {
	m := lightMachine(t)
	seeded := m.WithContext(lightContext{Count: 41})

	state, err := seeded.InitialState()
	require.NoError(t, err)
	assert.Equal(t, 41, state.Context.Count)

	// The original machine is untouched.
	orig, err := m.InitialState()
	require.NoError(t, err)
	assert.Equal(t, 0, orig.Context.Count)
}

func TestWithOptionsOverride(t *testing.T) {
	base := lightMachine(t)
	boosted := base.WithOptions(Options[lightContext]{
		Actions: map[string]Action[lightContext]{
			"count": Assign(func(ctx lightContext, e Event) lightContext {
				ctx.Count += 10
				return ctx
			}),
		},
	})

	run := func(m *Machine[lightContext]) lightContext {
		state, err := m.InitialState()
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			state, err = m.Transition(state, "TIMER")
			require.NoError(t, err)
		}
		return state.Context
	}

	assert.Equal(t, 1, run(base).Count)
	assert.Equal(t, 10, run(boosted).Count)
}

func TestStateNodeByID(t *testing.T) {
	m := lightMachine(t)

	node, err := m.StateNodeByID("light.red")
	require.NoError(t, err)
	assert.Equal(t, "red", node.Key)
	assert.Equal(t, StateTypeAtomic, node.Type)

	_, err = m.StateNodeByID("light.blue")
	var unknown *UnknownStateError
	require.ErrorAs(t, err, &unknown)
}

func TestConfigurationInvariants(t *testing.T) {
	m, err := NewBuilder[struct{}]("inv").
		WithInitial("outer").
		State("outer").
		WithInitial("p").
		State("p").Parallel().
		State("x").WithInitial("x1").
		State("x1").On("GO").Target("x2").End().End().
		State("x2").End().
		End().
		State("y").WithInitial("y1").
		State("y1").End().
		End().
		End().
		Done().
		Build()
	require.NoError(t, err)

	state, err := m.InitialState()
	require.NoError(t, err)

	check := func(state State[struct{}]) {
		config := newNodeSet(state.Configuration()...)
		for _, n := range state.Configuration() {
			if n.Parent() != nil {
				assert.True(t, config.has(n.Parent()), "ancestor of %s must be active", n.ID)
			}
			if n.Type == StateTypeCompound && len(n.Children()) > 0 {
				active := 0
				for _, child := range n.Children() {
					if config.has(child) {
						active++
					}
				}
				assert.Equal(t, 1, active, "compound %s must have exactly one active child", n.ID)
			}
			if n.Type == StateTypeParallel {
				for _, region := range n.Children() {
					if region.Type == StateTypeHistory {
						continue
					}
					assert.True(t, config.has(region), "parallel region %s must be active", region.ID)
				}
			}
		}
	}

	check(state)
	state, err = m.Transition(state, "GO")
	require.NoError(t, err)
	check(state)
	assert.True(t, state.Matches(map[string]any{"outer": map[string]any{"p": map[string]any{"x": "x2", "y": "y1"}}}))
}

func TestPersistRoundTrip(t *testing.T) {
	m := lightMachine(t)
	state, err := m.InitialState()
	require.NoError(t, err)
	state, err = m.Transition(state, "TIMER")
	require.NoError(t, err)

	p := state.Persist()
	assert.Equal(t, "yellow", p.Value.String())

	restored, err := m.RestoreState(p.Value, lightContext{Count: 7}, p.HistoryValue)
	require.NoError(t, err)
	assert.True(t, restored.Value.Equal(state.Value))
	assert.Equal(t, 7, restored.Context.Count)

	next, err := m.Transition(restored, "TIMER")
	require.NoError(t, err)
	assert.Equal(t, "red", next.Value.String())
}
