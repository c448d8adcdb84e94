package machina

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordMachine is a parallel machine with two independent regions.
func wordMachine(t *testing.T, log *[]string) *Machine[struct{}] {
	t.Helper()
	m, err := NewBuilder[struct{}]("word").
		Parallel().
		WithAction("enterA2", traceAction[struct{}](log, "entry_a2")).
		WithAction("enterB2", traceAction[struct{}](log, "entry_b2")).
		State("a").
		WithInitial("a1").
		State("a1").On("CHANGE").Target("a2").End().End().
		State("a2").OnEntry("enterA2").End().
		Done().
		State("b").
		WithInitial("b1").
		State("b1").On("CHANGE").Target("b2").End().End().
		State("b2").OnEntry("enterB2").End().
		Done().
		Build()
	require.NoError(t, err)
	return m
}

func TestParallelInitialState(t *testing.T) {
	m := wordMachine(t, new([]string))
	state, err := m.InitialState()
	require.NoError(t, err)
	assert.True(t, state.Matches(map[string]any{"a": "a1", "b": "b1"}))
}

func TestOrthogonalRegionsTransitionTogether(t *testing.T) {
	var log []string
	m := wordMachine(t, &log)

	state, err := m.InitialState()
	require.NoError(t, err)
	log = nil

	state, err = m.Transition(state, "CHANGE")
	require.NoError(t, err)
	runActions(state)
	assert.True(t, state.Matches(map[string]any{"a": "a2", "b": "b2"}))
	// Entry order follows document order of the regions.
	assert.Equal(t, []string{"entry_a2", "entry_b2"}, log)
	assert.Len(t, state.Transitions, 2)
}

func TestOneRegionCanMoveAlone(t *testing.T) {
	m, err := NewBuilder[struct{}]("solo").
		Parallel().
		State("a").
		WithInitial("a1").
		State("a1").On("STEP_A").Target("a2").End().End().
		State("a2").End().
		Done().
		State("b").
		WithInitial("b1").
		State("b1").End().
		Done().
		Build()
	require.NoError(t, err)

	state, err := m.InitialState()
	require.NoError(t, err)
	state, err = m.Transition(state, "STEP_A")
	require.NoError(t, err)
	assert.True(t, state.Matches(map[string]any{"a": "a2", "b": "b1"}))
}

func TestConflictingTransitionsPreemptedBySourceOrder(t *testing.T) {
	// Both regions react to ESCAPE by leaving the whole parallel state;
	// the earlier-ordered region wins and the machine lands on its target.
	m, err := NewBuilder[struct{}]("conflict").
		WithInitial("p").
		State("p").Parallel().
		State("a").
		WithInitial("a1").
		State("a1").On("ESCAPE").Target("#winner").End().End().
		End().
		State("b").
		WithInitial("b1").
		State("b1").On("ESCAPE").Target("#loser").End().End().
		End().
		Done().
		State("winner").WithID("winner").Done().
		State("loser").WithID("loser").Done().
		Build()
	require.NoError(t, err)

	state, err := m.InitialState()
	require.NoError(t, err)
	state, err = m.Transition(state, "ESCAPE")
	require.NoError(t, err)
	assert.Equal(t, "winner", state.Value.String())
}

func TestDoneEventPropagatesFromParallelRegions(t *testing.T) {
	m, err := NewBuilder[struct{}]("job").
		WithInitial("running").
		State("running").Parallel().WithID("running").
		On(DoneStateEvent("running")).Target("#finished").End().
		State("upload").
		WithInitial("busy").
		State("busy").On("UPLOAD_DONE").Target("ok").End().End().
		State("ok").Final().End().
		End().
		State("verify").
		WithInitial("busy").
		State("busy").On("VERIFY_DONE").Target("ok").End().End().
		State("ok").Final().End().
		End().
		Done().
		State("finished").WithID("finished").Done().
		Build()
	require.NoError(t, err)

	state, err := m.InitialState()
	require.NoError(t, err)

	state, err = m.Transition(state, "UPLOAD_DONE")
	require.NoError(t, err)
	assert.True(t, state.Matches(map[string]any{"running": map[string]any{"upload": "ok", "verify": "busy"}}))

	// The second region finishing raises done.state for the parallel
	// parent, which takes the outer transition within the same macrostep.
	state, err = m.Transition(state, "VERIFY_DONE")
	require.NoError(t, err)
	assert.Equal(t, "finished", state.Value.String())
}

func TestIsInFinalState(t *testing.T) {
	m, err := NewBuilder[struct{}]("fin").
		WithInitial("work").
		State("work").
		WithInitial("active").
		State("active").On("STOP").Target("stopped").End().End().
		State("stopped").Final().End().
		Done().
		Build()
	require.NoError(t, err)

	state, err := m.InitialState()
	require.NoError(t, err)
	assert.False(t, state.Done)

	state, err = m.Transition(state, "STOP")
	require.NoError(t, err)
	work, err := m.StateNodeByID("fin.work")
	require.NoError(t, err)
	assert.True(t, isInFinalState(newNodeSet(state.Configuration()...), work))
	assert.False(t, state.Done, "machine root is not final while work is")
}
