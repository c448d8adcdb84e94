package machina

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lightYAML = `
id: light
initial: green
context:
  count: 0
states:
  green:
    on:
      TIMER: yellow
  yellow:
    on:
      TIMER: red
  red:
    on:
      TIMER:
        target: green
        actions: [count]
`

func TestFromYAMLBuildsWorkingMachine(t *testing.T) {
	cfg, err := FromYAML([]byte(lightYAML))
	require.NoError(t, err)
	assert.Equal(t, "light", cfg.ID)
	assert.Equal(t, []string{"green", "yellow", "red"}, cfg.stateOrder)

	m, err := NewMachine(cfg, Options[map[string]any]{
		Actions: map[string]Action[map[string]any]{
			"count": Assign(func(ctx map[string]any, e Event) map[string]any {
				out := map[string]any{}
				for k, v := range ctx {
					out[k] = v
				}
				out["count"] = out["count"].(int) + 1
				return out
			}),
		},
	})
	require.NoError(t, err)

	state, err := m.InitialState()
	require.NoError(t, err)
	for _, want := range []string{"yellow", "red", "green"} {
		state, err = m.Transition(state, "TIMER")
		require.NoError(t, err)
		assert.Equal(t, want, state.Value.String())
	}
	assert.Equal(t, 1, state.Context["count"])
}

func TestYAMLPreservesDocumentOrder(t *testing.T) {
	cfg, err := FromYAML([]byte(`
id: ordered
type: parallel
states:
  zulu:
    initial: z1
    states:
      z1: {}
  alpha:
    initial: a1
    states:
      a1: {}
`))
	require.NoError(t, err)
	m, err := NewMachine[struct{}](cfg)
	require.NoError(t, err)

	// zulu is written first, so it gets the lower document order despite
	// sorting after alpha.
	zulu, err := m.StateNodeByID("ordered.zulu")
	require.NoError(t, err)
	alpha, err := m.StateNodeByID("ordered.alpha")
	require.NoError(t, err)
	assert.Less(t, zulu.Order, alpha.Order)
}

func TestYAMLForbiddenTransition(t *testing.T) {
	cfg, err := FromYAML([]byte(`
id: vault
initial: outer
states:
  outer:
    initial: inner
    on:
      OPEN: opened
    states:
      inner:
        on:
          OPEN: ~
  opened: {}
`))
	require.NoError(t, err)
	m, err := NewMachine[struct{}](cfg)
	require.NoError(t, err)

	state, err := m.InitialState()
	require.NoError(t, err)
	next, err := m.Transition(state, "OPEN")
	require.NoError(t, err)
	assert.True(t, next.Value.Equal(state.Value))
}

func TestYAMLAfterAndEventlessTransitions(t *testing.T) {
	cfg, err := FromYAML([]byte(`
id: loader
initial: loading
states:
  loading:
    after:
      "5000": timeout
    on:
      "": { target: ready, guard: loaded }
  ready: {}
  timeout: {}
`))
	require.NoError(t, err)

	loaded := false
	m, err := NewMachine(cfg, Options[struct{}]{
		Guards: map[string]Guard[struct{}]{
			"loaded": func(ctx struct{}, e Event) (bool, error) { return loaded, nil },
		},
	})
	require.NoError(t, err)

	state, err := m.InitialState()
	require.NoError(t, err)
	assert.Equal(t, "loading", state.Value.String())

	loaded = true
	state, err = m.Transition(state, AfterEvent("5000", "loader.loading"))
	require.NoError(t, err)
	assert.Equal(t, "timeout", state.Value.String())
}

func TestFromJSON(t *testing.T) {
	cfg, err := FromJSON([]byte(`{
		"id": "toggle",
		"initial": "off",
		"states": {
			"off": {"on": {"FLIP": "on"}},
			"on": {"on": {"FLIP": ["off"]}}
		}
	}`))
	require.NoError(t, err)

	m, err := NewMachine[struct{}](cfg)
	require.NoError(t, err)
	state, err := m.InitialState()
	require.NoError(t, err)
	state, err = m.Transition(state, "FLIP")
	require.NoError(t, err)
	assert.Equal(t, "on", state.Value.String())
}

func TestInvalidInitialIsFatal(t *testing.T) {
	_, err := NewMachine[struct{}](&Config{
		ID:      "broken",
		Initial: "a",
		States: map[string]*StateConfig{
			"a": {Initial: "ghost", States: map[string]*StateConfig{
				"real": {},
			}},
		},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	found := false
	for _, issue := range verr.Fatal() {
		if issue.Code == CodeInvalidInitial {
			found = true
		}
	}
	assert.True(t, found, "expected an %s issue, got %v", CodeInvalidInitial, verr.Issues)
}

func TestUnknownTargetIsFatal(t *testing.T) {
	_, err := NewMachine[struct{}](&Config{
		ID:      "broken",
		Initial: "a",
		States: map[string]*StateConfig{
			"a": {On: map[string]*TransitionsSpec{
				"GO": {List: []TransitionConfig{{Target: StringList{"nowhere"}}}},
			}},
		},
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestMissingInitialIsOnlyAWarning(t *testing.T) {
	m, err := NewMachine[struct{}](&Config{
		ID:      "lenient",
		Initial: "a",
		States: map[string]*StateConfig{
			"a": {States: map[string]*StateConfig{"child": {}}},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, m.Warnings())
	assert.Equal(t, CodeMissingInitial, m.Warnings()[0].Code)
}

func TestUnreachableGuardedWarning(t *testing.T) {
	m, err := NewMachine[struct{}](&Config{
		ID:      "warned",
		Initial: "a",
		States: map[string]*StateConfig{
			"a": {On: map[string]*TransitionsSpec{
				"GO": {List: []TransitionConfig{
					{Target: StringList{"b"}},
					{Target: StringList{"c"}, Guard: "never"},
				}},
			}},
			"b": {},
			"c": {},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, m.Warnings())
	assert.Equal(t, CodeUnreachableGuard, m.Warnings()[0].Code)
}

func TestDefinitionDocument(t *testing.T) {
	cfg, err := FromYAML([]byte(lightYAML))
	require.NoError(t, err)
	m, err := NewMachine(cfg, Options[map[string]any]{
		Actions: map[string]Action[map[string]any]{
			"count": Do[map[string]any](func(ctx map[string]any, e Event) {}),
		},
	})
	require.NoError(t, err)

	doc := m.Definition()
	assert.Equal(t, "light", doc.ID)
	assert.Equal(t, "compound", doc.Type)
	assert.Equal(t, []string{"green", "yellow", "red"}, doc.StateOrder)
	require.Contains(t, doc.States, "red")
	red := doc.States["red"]
	require.Len(t, red.On["TIMER"], 1)
	assert.Equal(t, []string{"light.green"}, red.On["TIMER"][0].Target)
}
