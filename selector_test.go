package machina

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardSelectsFirstPassingCandidate(t *testing.T) {
	m, err := NewBuilder[counterContext]("teller").
		WithInitial("idle").
		WithGuard("rich", func(ctx counterContext, e Event) (bool, error) {
			return ctx.Count > 100, nil
		}).
		WithGuard("solvent", func(ctx counterContext, e Event) (bool, error) {
			return ctx.Count > 0, nil
		}).
		State("idle").
		On("WITHDRAW").Target("vip").Guard("rich").
		On("WITHDRAW").Target("normal").Guard("solvent").
		On("WITHDRAW").Target("declined").
		Done().
		State("vip").Done().
		State("normal").Done().
		State("declined").Done().
		Build()
	require.NoError(t, err)

	run := func(count int) string {
		state, err := m.WithContext(counterContext{Count: count}).InitialState()
		require.NoError(t, err)
		state, err = m.Transition(state, "WITHDRAW")
		require.NoError(t, err)
		return state.Value.String()
	}

	assert.Equal(t, "vip", run(1000))
	assert.Equal(t, "normal", run(50))
	assert.Equal(t, "declined", run(0))
}

func TestGuardErrorAbortsStep(t *testing.T) {
	m, err := NewBuilder[struct{}]("guarded").
		WithInitial("a").
		WithGuard("explodes", func(ctx struct{}, e Event) (bool, error) {
			return false, errors.New("boom")
		}).
		State("a").On("GO").Target("b").Guard("explodes").Done().
		State("b").Done().
		Build()
	require.NoError(t, err)

	state, err := m.InitialState()
	require.NoError(t, err)

	next, err := m.Transition(state, "GO")
	var gerr *GuardError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "explodes", gerr.Guard)
	assert.Equal(t, "guarded.a", gerr.SourceID)
	assert.Equal(t, "GO", gerr.Event.Name)
	assert.True(t, next.Value.Equal(state.Value))
}

func TestGuardPanicBecomesGuardError(t *testing.T) {
	m, err := NewBuilder[struct{}]("panicky").
		WithInitial("a").
		WithGuard("panics", func(ctx struct{}, e Event) (bool, error) {
			panic("unexpected")
		}).
		State("a").On("GO").Target("b").Guard("panics").Done().
		State("b").Done().
		Build()
	require.NoError(t, err)

	state, err := m.InitialState()
	require.NoError(t, err)
	_, err = m.Transition(state, "GO")
	var gerr *GuardError
	require.ErrorAs(t, err, &gerr)
	assert.Contains(t, gerr.Err.Error(), "panicked")
}

func TestUnknownGuardRef(t *testing.T) {
	m, err := NewBuilder[struct{}]("missing").
		WithInitial("a").
		State("a").On("GO").Target("b").Guard("nope").Done().
		State("b").Done().
		Build()
	require.NoError(t, err)

	state, err := m.InitialState()
	require.NoError(t, err)
	_, err = m.Transition(state, "GO")
	var unknown *UnknownGuardError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "nope", unknown.Name)
}

func TestWildcardMatchesNamedEventsOnly(t *testing.T) {
	m, err := NewBuilder[struct{}]("wild").
		WithInitial("idle").
		State("idle").
		On("KNOWN").Target("known").
		On(WildcardEvent).Target("fallback").
		Done().
		State("known").Done().
		State("fallback").Done().
		Build()
	require.NoError(t, err)

	state, err := m.InitialState()
	require.NoError(t, err)

	// The wildcard does not make idle transient: the eventless microstep
	// inside InitialState must not take it.
	require.Equal(t, "idle", state.Value.String())

	known, err := m.Transition(state, "KNOWN")
	require.NoError(t, err)
	assert.Equal(t, "known", known.Value.String())

	other, err := m.Transition(state, "ANYTHING")
	require.NoError(t, err)
	assert.Equal(t, "fallback", other.Value.String())
}

func TestForbiddenTransitionConsumesEvent(t *testing.T) {
	m, err := NewBuilder[struct{}]("vault").
		WithInitial("outer").
		State("outer").
		WithInitial("inner").
		On("OPEN").Target("opened").End().
		State("inner").Forbid("OPEN").End().
		Done().
		State("opened").Done().
		Build()
	require.NoError(t, err)

	state, err := m.InitialState()
	require.NoError(t, err)

	next, err := m.Transition(state, "OPEN")
	require.NoError(t, err)
	assert.True(t, next.Value.Equal(state.Value), "forbidden event must not bubble to the ancestor")
	assert.False(t, next.Changed)
}

func TestInStatePredicate(t *testing.T) {
	m, err := NewBuilder[struct{}]("gate").
		Parallel().
		State("mode").
		WithInitial("manual").
		State("manual").On("AUTO").Target("automatic").End().End().
		State("automatic").End().
		Done().
		State("door").
		WithInitial("closed").
		State("closed").On("OPEN").Target("open").In("mode.automatic").End().End().
		State("open").End().
		Done().
		Build()
	require.NoError(t, err)

	state, err := m.InitialState()
	require.NoError(t, err)

	// In manual mode the door ignores OPEN.
	blocked, err := m.Transition(state, "OPEN")
	require.NoError(t, err)
	assert.True(t, blocked.Matches(map[string]any{"door": "closed"}))

	state, err = m.Transition(state, "AUTO")
	require.NoError(t, err)
	state, err = m.Transition(state, "OPEN")
	require.NoError(t, err)
	assert.True(t, state.Matches(map[string]any{"door": "open"}))
}
