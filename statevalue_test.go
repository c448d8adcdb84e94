package machina

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStateValue(t *testing.T) {
	assert.True(t, ParseStateValue("green", ".").Equal(LeafValue("green")))
	assert.True(t, ParseStateValue("red.walk", ".").Equal(StateValue{
		Children: map[string]StateValue{"red": LeafValue("walk")},
	}))
	assert.True(t, ParseStateValue("a.b.c", ".").Equal(StateValue{
		Children: map[string]StateValue{
			"a": {Children: map[string]StateValue{"b": LeafValue("c")}},
		},
	}))
}

func TestToStringsListsParentsFirst(t *testing.T) {
	v := StateValue{Children: map[string]StateValue{
		"a": {Children: map[string]StateValue{"b": LeafValue("c")}},
	}}
	assert.Equal(t, []string{"a", "a.b", "a.b.c"}, v.ToStrings("."))
}

func TestToStringsRoundTripsThroughParse(t *testing.T) {
	v := ParseStateValue("red.walk", ".")
	paths := v.ToStrings(".")
	// The deepest path reparses to an equivalent value.
	assert.True(t, ParseStateValue(paths[len(paths)-1], ".").Equal(v))
}

func TestMatchesValue(t *testing.T) {
	full := StateValue{Children: map[string]StateValue{"red": LeafValue("walk")}}
	assert.True(t, matchesValue(LeafValue("red"), full))
	assert.True(t, matchesValue(full, full))
	assert.False(t, matchesValue(LeafValue("green"), full))
	assert.False(t, matchesValue(
		StateValue{Children: map[string]StateValue{"red": LeafValue("wait")}}, full))
}

func TestStateValueJSONRoundTrip(t *testing.T) {
	cases := []StateValue{
		LeafValue("green"),
		{Children: map[string]StateValue{"red": LeafValue("walk")}},
		{Children: map[string]StateValue{
			"a": LeafValue("a2"),
			"b": {Children: map[string]StateValue{"c": LeafValue("c1")}},
		}},
	}
	for _, v := range cases {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		var back StateValue
		require.NoError(t, json.Unmarshal(data, &back))
		assert.True(t, back.Equal(v), "round trip of %s", v)
	}
}

func TestStateValueFromShapes(t *testing.T) {
	v, err := StateValueFrom("red")
	require.NoError(t, err)
	assert.True(t, v.Equal(LeafValue("red")))

	v, err = StateValueFrom(map[string]any{"red": "walk"})
	require.NoError(t, err)
	assert.True(t, v.Equal(StateValue{Children: map[string]StateValue{"red": LeafValue("walk")}}))

	_, err = StateValueFrom(42)
	require.Error(t, err)
}
